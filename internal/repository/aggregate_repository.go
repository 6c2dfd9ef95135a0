package repository

import (
	"database/sql"
	"fmt"

	"github.com/agrisol/analytics-backend-go/internal/models"
)

// AggregateRepository handles database operations for the two aggregate
// tables. Incremental writes go through the Maintainer; wholesale
// replacement goes through the Reconciler's shadow-and-swap path.
type AggregateRepository struct {
	db *sql.DB
}

// NewAggregateRepository creates a new aggregate repository
func NewAggregateRepository(db *sql.DB) *AggregateRepository {
	return &AggregateRepository{db: db}
}

// DB exposes the underlying handle for transaction scoping.
func (r *AggregateRepository) DB() *sql.DB { return r.db }

const locationColumns = `location_key, total_scans, healthy_scans, disease_scans, unique_users,
	last_scan_at, scans_last_7d, scans_last_30d, active_users_last_7d, active_users_last_30d,
	growth_rate_7d, healthy_percentage, top_disease, top_crop, last_event_seq, stale, updated_at`

// GetLocation returns the aggregate row for a key, or nil when absent.
func (r *AggregateRepository) GetLocation(q querier, key string) (*models.LocationAggregate, error) {
	if q == nil {
		q = r.db
	}

	var a models.LocationAggregate
	var stale int
	err := q.QueryRow(`SELECT `+locationColumns+` FROM location_aggregates WHERE location_key = ?`, key).Scan(
		&a.LocationKey, &a.TotalScans, &a.HealthyScans, &a.DiseaseScans, &a.UniqueUsers,
		&a.LastScanAt, &a.ScansLast7d, &a.ScansLast30d, &a.ActiveUsersLast7d, &a.ActiveUsersLast30d,
		&a.GrowthRate7d, &a.HealthyPercentage, &a.TopDisease, &a.TopCrop, &a.LastEventSeq, &stale, &a.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get location aggregate %q: %w", key, err)
	}
	a.Stale = stale == 1
	return &a, nil
}

// UpsertLocation writes the full aggregate row for a key.
func (r *AggregateRepository) UpsertLocation(q querier, a *models.LocationAggregate) error {
	if q == nil {
		q = r.db
	}
	return upsertLocationInto(q, "location_aggregates", a)
}

func upsertLocationInto(q querier, table string, a *models.LocationAggregate) error {
	stale := 0
	if a.Stale {
		stale = 1
	}
	_, err := q.Exec(`INSERT INTO `+table+` (`+locationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(location_key) DO UPDATE SET
			total_scans = excluded.total_scans,
			healthy_scans = excluded.healthy_scans,
			disease_scans = excluded.disease_scans,
			unique_users = excluded.unique_users,
			last_scan_at = excluded.last_scan_at,
			scans_last_7d = excluded.scans_last_7d,
			scans_last_30d = excluded.scans_last_30d,
			active_users_last_7d = excluded.active_users_last_7d,
			active_users_last_30d = excluded.active_users_last_30d,
			growth_rate_7d = excluded.growth_rate_7d,
			healthy_percentage = excluded.healthy_percentage,
			top_disease = excluded.top_disease,
			top_crop = excluded.top_crop,
			last_event_seq = excluded.last_event_seq,
			stale = excluded.stale,
			updated_at = excluded.updated_at`,
		a.LocationKey, a.TotalScans, a.HealthyScans, a.DiseaseScans, a.UniqueUsers,
		a.LastScanAt, a.ScansLast7d, a.ScansLast30d, a.ActiveUsersLast7d, a.ActiveUsersLast30d,
		a.GrowthRate7d, a.HealthyPercentage, a.TopDisease, a.TopCrop, a.LastEventSeq, stale, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert location aggregate %q: %w", a.LocationKey, err)
	}
	return nil
}

const diseaseColumns = `location_key, crop_type, disease_label, occurrence_count, severity_average,
	cases_last_7d, cases_last_30d, first_detected_at, last_detected_at`

// GetDisease returns the aggregate row for a (key, crop, disease) triple,
// or nil when absent.
func (r *AggregateRepository) GetDisease(q querier, key, cropType, diseaseLabel string) (*models.DiseaseAggregate, error) {
	if q == nil {
		q = r.db
	}

	var a models.DiseaseAggregate
	err := q.QueryRow(`SELECT `+diseaseColumns+` FROM disease_aggregates
		WHERE location_key = ? AND crop_type = ? AND disease_label = ?`, key, cropType, diseaseLabel).Scan(
		&a.LocationKey, &a.CropType, &a.DiseaseLabel, &a.OccurrenceCount, &a.SeverityAverage,
		&a.CasesLast7d, &a.CasesLast30d, &a.FirstDetectedAt, &a.LastDetectedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get disease aggregate %q/%q/%q: %w", key, cropType, diseaseLabel, err)
	}
	return &a, nil
}

// UpsertDisease writes the full aggregate row for a triple.
func (r *AggregateRepository) UpsertDisease(q querier, a *models.DiseaseAggregate) error {
	if q == nil {
		q = r.db
	}
	return upsertDiseaseInto(q, "disease_aggregates", a)
}

func upsertDiseaseInto(q querier, table string, a *models.DiseaseAggregate) error {
	_, err := q.Exec(`INSERT INTO `+table+` (`+diseaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(location_key, crop_type, disease_label) DO UPDATE SET
			occurrence_count = excluded.occurrence_count,
			severity_average = excluded.severity_average,
			cases_last_7d = excluded.cases_last_7d,
			cases_last_30d = excluded.cases_last_30d,
			first_detected_at = excluded.first_detected_at,
			last_detected_at = excluded.last_detected_at`,
		a.LocationKey, a.CropType, a.DiseaseLabel, a.OccurrenceCount, a.SeverityAverage,
		a.CasesLast7d, a.CasesLast30d, a.FirstDetectedAt, a.LastDetectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert disease aggregate %q/%q/%q: %w", a.LocationKey, a.CropType, a.DiseaseLabel, err)
	}
	return nil
}

// Diseases returns all disease aggregate rows for a location key.
func (r *AggregateRepository) Diseases(key string) ([]models.DiseaseAggregate, error) {
	rows, err := r.db.Query(`SELECT `+diseaseColumns+` FROM disease_aggregates
		WHERE location_key = ?
		ORDER BY occurrence_count DESC, disease_label ASC`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query disease aggregates for %q: %w", key, err)
	}
	defer rows.Close()

	var aggs []models.DiseaseAggregate
	for rows.Next() {
		var a models.DiseaseAggregate
		err := rows.Scan(
			&a.LocationKey, &a.CropType, &a.DiseaseLabel, &a.OccurrenceCount, &a.SeverityAverage,
			&a.CasesLast7d, &a.CasesLast30d, &a.FirstDetectedAt, &a.LastDetectedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan disease aggregate: %w", err)
		}
		aggs = append(aggs, a)
	}
	return aggs, rows.Err()
}

// DiseaseTracking returns disease aggregate rows filtered by location and
// crop type, most affected first.
func (r *AggregateRepository) DiseaseTracking(key, cropType string, limit int) ([]models.DiseaseAggregate, error) {
	query := `SELECT ` + diseaseColumns + ` FROM disease_aggregates`

	var conditions []string
	var args []interface{}
	if key != "" {
		conditions = append(conditions, "location_key = ?")
		args = append(args, key)
	}
	if cropType != "" {
		conditions = append(conditions, "crop_type = ?")
		args = append(args, cropType)
	}
	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}

	query += " ORDER BY occurrence_count DESC, location_key ASC, disease_label ASC"

	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query disease tracking: %w", err)
	}
	defer rows.Close()

	var aggs []models.DiseaseAggregate
	for rows.Next() {
		var a models.DiseaseAggregate
		err := rows.Scan(
			&a.LocationKey, &a.CropType, &a.DiseaseLabel, &a.OccurrenceCount, &a.SeverityAverage,
			&a.CasesLast7d, &a.CasesLast30d, &a.FirstDetectedAt, &a.LastDetectedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan disease tracking row: %w", err)
		}
		aggs = append(aggs, a)
	}
	return aggs, rows.Err()
}

// metricExpr maps a leaderboard metric name to its ORDER BY expression.
// disease_rate is derived at query time so the zero-scan boundary stays 0.
func metricExpr(metric string) (string, bool) {
	switch metric {
	case models.MetricTotalScans:
		return "total_scans", true
	case models.MetricUniqueUsers:
		return "unique_users", true
	case models.MetricGrowthRate7d:
		return "growth_rate_7d", true
	case models.MetricDiseaseRate:
		return "CASE WHEN total_scans = 0 THEN 0 ELSE disease_scans * 100.0 / total_scans END", true
	default:
		return "", false
	}
}

// Leaderboard ranks all locations by a metric, ties broken by location key
// ascending so the ordering is deterministic.
func (r *AggregateRepository) Leaderboard(metric string, limit int) ([]models.LeaderboardEntry, error) {
	expr, ok := metricExpr(metric)
	if !ok {
		return nil, &models.ValidationError{Field: "metric", Reason: "unknown leaderboard metric: " + metric}
	}
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	rows, err := r.db.Query(`SELECT location_key, `+expr+` AS metric_value,
			total_scans, disease_scans, unique_users, last_scan_at
		FROM location_aggregates
		ORDER BY metric_value DESC, location_key ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []models.LeaderboardEntry
	rank := 0
	for rows.Next() {
		var e models.LeaderboardEntry
		var diseaseScans int64
		err := rows.Scan(&e.LocationKey, &e.MetricValue, &e.TotalScans, &diseaseScans, &e.UniqueUsers, &e.LastScanAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		rank++
		e.Rank = rank
		if e.TotalScans > 0 {
			e.DiseaseRate = float64(diseaseScans) / float64(e.TotalScans) * 100
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summary aggregates across all aggregate rows. It is a further aggregation
// of aggregates, never of raw events, so it stays cheap at any log size.
func (r *AggregateRepository) Summary() (*models.Summary, error) {
	var s models.Summary
	err := r.db.QueryRow(`SELECT
			COALESCE(SUM(total_scans), 0),
			COALESCE(SUM(healthy_scans), 0),
			COALESCE(SUM(disease_scans), 0),
			COALESCE(SUM(unique_users), 0),
			COUNT(CASE WHEN scans_last_30d > 0 THEN 1 END)
		FROM location_aggregates`).Scan(
		&s.TotalScans, &s.TotalHealthy, &s.TotalDiseased, &s.DistinctUsers, &s.ActiveLocationCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query summary totals: %w", err)
	}

	err = r.db.QueryRow(`SELECT disease_label FROM disease_aggregates
		GROUP BY disease_label
		ORDER BY SUM(occurrence_count) DESC, disease_label ASC
		LIMIT 1`).Scan(&s.TopDisease)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query top disease: %w", err)
	}

	err = r.db.QueryRow(`SELECT location_key FROM location_aggregates
		ORDER BY total_scans DESC, location_key ASC
		LIMIT 1`).Scan(&s.TopLocation)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query top location: %w", err)
	}

	return &s, nil
}

// MarkApplied records that an event has been folded into the aggregates.
// Returns false when the event was applied before. Dedup is by exact event
// identity rather than a high-water mark, so deliveries arriving out of
// append order are still counted exactly once each.
func (r *AggregateRepository) MarkApplied(q querier, seq int64) (bool, error) {
	if q == nil {
		q = r.db
	}

	result, err := q.Exec(`INSERT INTO applied_events (seq) VALUES (?)
		ON CONFLICT(seq) DO NOTHING`, seq)
	if err != nil {
		return false, fmt.Errorf("failed to mark event %d applied: %w", seq, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to mark event %d applied: %w", seq, err)
	}
	return n > 0, nil
}

// RebuildApplied resets the applied-event set to exactly the events in the
// log snapshot. Called after a full rebuild, which by construction has
// folded every logged event.
func (r *AggregateRepository) RebuildApplied(tx *sql.Tx) error {
	stmts := []string{
		`DELETE FROM applied_events`,
		`INSERT INTO applied_events (seq) SELECT seq FROM scan_events`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to rebuild applied-event set: %w", err)
		}
	}
	return nil
}

// MarkStale flags a key so queries can surface that its row is awaiting
// reconciliation.
func (r *AggregateRepository) MarkStale(key string) error {
	_, err := r.db.Exec(`UPDATE location_aggregates SET stale = 1 WHERE location_key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to mark %q stale: %w", key, err)
	}
	return nil
}

// CheckInvariant verifies healthy_scans + disease_scans == total_scans for
// one key. A violation is never corrected in place.
func (r *AggregateRepository) CheckInvariant(q querier, key string) error {
	if q == nil {
		q = r.db
	}

	var total, healthy, disease int64
	err := q.QueryRow(`SELECT total_scans, healthy_scans, disease_scans
		FROM location_aggregates WHERE location_key = ?`, key).Scan(&total, &healthy, &disease)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check invariant for %q: %w", key, err)
	}
	if healthy+disease != total {
		return &models.ConsistencyError{
			LocationKey: key,
			Detail:      fmt.Sprintf("healthy %d + disease %d != total %d", healthy, disease, total),
		}
	}
	return nil
}
