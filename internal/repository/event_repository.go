package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/agrisol/analytics-backend-go/internal/models"
)

// Window lengths for the sliding scan counters.
const (
	Window7d  = 7 * 24 * time.Hour
	Window30d = 30 * 24 * time.Hour
)

// querier is satisfied by both *sql.DB and *sql.Tx so window recomputation
// can run inside the maintainer's upsert transaction.
type querier interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// EventRepository handles database operations for the append-only scan
// event log. Events are inserted once and never updated or deleted.
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append durably inserts a scan event and returns its sequence number.
func (r *EventRepository) Append(event *models.ScanEvent) (int64, error) {
	var label interface{}
	if event.DiseaseLabel != "" {
		label = event.DiseaseLabel
	}

	result, err := r.db.Exec(`INSERT INTO scan_events
		(id, user_id, crop_type, disease_label, confidence_score, severity, treatment_urgency,
		 country, province, district, sector, location_key, latitude, longitude, occurred_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.UserID, event.CropType, label, event.ConfidenceScore,
		nullIfEmpty(event.Severity), nullIfEmpty(event.TreatmentUrgency),
		event.Country, nullIfEmpty(event.Province), nullIfEmpty(event.District), nullIfEmpty(event.Sector),
		event.LocationKey, event.Latitude, event.Longitude, event.OccurredAt, event.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to append scan event: %w", err)
	}

	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read event sequence: %w", err)
	}
	event.Seq = seq
	return seq, nil
}

// WindowCounts holds the recomputed sliding-window fields for one location.
type WindowCounts struct {
	UniqueUsers        int64
	ScansLast7d        int64
	ScansLast30d       int64
	ActiveUsersLast7d  int64
	ActiveUsersLast30d int64
}

// CountWindows recomputes the distinct-user and windowed counters for a
// location key from the event log. These are never incremented: entries age
// out of the window over time even when no new events arrive, and a
// returning user must not be double-counted.
func (r *EventRepository) CountWindows(q querier, key string, now time.Time) (*WindowCounts, error) {
	if q == nil {
		q = r.db
	}
	cut7 := now.Add(-Window7d).Unix()
	cut30 := now.Add(-Window30d).Unix()

	var wc WindowCounts
	err := q.QueryRow(`SELECT
			COUNT(DISTINCT user_id),
			COUNT(CASE WHEN occurred_at >= ? THEN 1 END),
			COUNT(CASE WHEN occurred_at >= ? THEN 1 END),
			COUNT(DISTINCT CASE WHEN occurred_at >= ? THEN user_id END),
			COUNT(DISTINCT CASE WHEN occurred_at >= ? THEN user_id END)
		FROM scan_events WHERE location_key = ?`,
		cut7, cut30, cut7, cut30, key,
	).Scan(&wc.UniqueUsers, &wc.ScansLast7d, &wc.ScansLast30d, &wc.ActiveUsersLast7d, &wc.ActiveUsersLast30d)
	if err != nil {
		return nil, fmt.Errorf("failed to count windows for %q: %w", key, err)
	}
	return &wc, nil
}

// CountDiseaseWindows recomputes the windowed case counters for one
// (location, crop, disease) triple.
func (r *EventRepository) CountDiseaseWindows(q querier, key, cropType, diseaseLabel string, now time.Time) (last7d, last30d int64, err error) {
	if q == nil {
		q = r.db
	}
	cut7 := now.Add(-Window7d).Unix()
	cut30 := now.Add(-Window30d).Unix()

	err = q.QueryRow(`SELECT
			COUNT(CASE WHEN occurred_at >= ? THEN 1 END),
			COUNT(CASE WHEN occurred_at >= ? THEN 1 END)
		FROM scan_events
		WHERE location_key = ? AND crop_type = ? AND disease_label = ?`,
		cut7, cut30, key, cropType, diseaseLabel,
	).Scan(&last7d, &last30d)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count disease windows for %q: %w", key, err)
	}
	return last7d, last30d, nil
}

// TopDiseaseAndCrop returns the most common non-healthy disease label and
// the most common crop type for a location. Ties break by name ascending so
// the result is deterministic regardless of event order.
func (r *EventRepository) TopDiseaseAndCrop(q querier, key string) (topDisease, topCrop string, err error) {
	if q == nil {
		q = r.db
	}

	err = q.QueryRow(`SELECT disease_label FROM scan_events
		WHERE location_key = ? AND disease_label IS NOT NULL AND lower(disease_label) != ?
		GROUP BY disease_label
		ORDER BY COUNT(*) DESC, disease_label ASC
		LIMIT 1`, key, models.HealthyLabel,
	).Scan(&topDisease)
	if err != nil && err != sql.ErrNoRows {
		return "", "", fmt.Errorf("failed to query top disease for %q: %w", key, err)
	}

	err = q.QueryRow(`SELECT crop_type FROM scan_events
		WHERE location_key = ?
		GROUP BY crop_type
		ORDER BY COUNT(*) DESC, crop_type ASC
		LIMIT 1`, key,
	).Scan(&topCrop)
	if err != nil && err != sql.ErrNoRows {
		return "", "", fmt.Errorf("failed to query top crop for %q: %w", key, err)
	}

	return topDisease, topCrop, nil
}

// ScanAll streams the whole event log in append order, in batches, calling
// fn for each event. The context is checked between batches so a
// reconciliation run can be cancelled mid-scan with no partial effect.
func (r *EventRepository) ScanAll(ctx context.Context, q querier, batchSize int, fn func(*models.ScanEvent) error) (int64, error) {
	if q == nil {
		q = r.db
	}
	if batchSize <= 0 {
		batchSize = 1000
	}

	var scanned int64
	lastSeq := int64(0)
	for {
		select {
		case <-ctx.Done():
			return scanned, ctx.Err()
		default:
		}

		rows, err := q.Query(`SELECT seq, id, user_id, crop_type, disease_label, confidence_score,
				COALESCE(severity, ''), COALESCE(treatment_urgency, ''),
				country, COALESCE(province, ''), COALESCE(district, ''), COALESCE(sector, ''),
				location_key, latitude, longitude, occurred_at, created_at
			FROM scan_events WHERE seq > ? ORDER BY seq LIMIT ?`, lastSeq, batchSize)
		if err != nil {
			return scanned, fmt.Errorf("failed to scan event log after seq %d: %w", lastSeq, err)
		}

		batch, err := collectEvents(rows)
		rows.Close()
		if err != nil {
			return scanned, err
		}
		if len(batch) == 0 {
			return scanned, nil
		}

		for i := range batch {
			if err := fn(&batch[i]); err != nil {
				return scanned, err
			}
			scanned++
			lastSeq = batch[i].Seq
		}
	}
}

// UserScans returns a user's scan history, newest first.
func (r *EventRepository) UserScans(userID string, limit, offset int) ([]models.ScanEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.Query(`SELECT seq, id, user_id, crop_type, disease_label, confidence_score,
			COALESCE(severity, ''), COALESCE(treatment_urgency, ''),
			country, COALESCE(province, ''), COALESCE(district, ''), COALESCE(sector, ''),
			location_key, latitude, longitude, occurred_at, created_at
		FROM scan_events WHERE user_id = ?
		ORDER BY occurred_at DESC, seq DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query user scans: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// RecentScans returns the latest scans for a location key.
func (r *EventRepository) RecentScans(key string, limit int) ([]models.ScanEvent, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	rows, err := r.db.Query(`SELECT seq, id, user_id, crop_type, disease_label, confidence_score,
			COALESCE(severity, ''), COALESCE(treatment_urgency, ''),
			country, COALESCE(province, ''), COALESCE(district, ''), COALESCE(sector, ''),
			location_key, latitude, longitude, occurred_at, created_at
		FROM scan_events WHERE location_key = ?
		ORDER BY occurred_at DESC, seq DESC LIMIT ?`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent scans: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]models.ScanEvent, error) {
	var events []models.ScanEvent
	for rows.Next() {
		var e models.ScanEvent
		var label sql.NullString
		err := rows.Scan(
			&e.Seq, &e.ID, &e.UserID, &e.CropType, &label, &e.ConfidenceScore,
			&e.Severity, &e.TreatmentUrgency,
			&e.Country, &e.Province, &e.District, &e.Sector,
			&e.LocationKey, &e.Latitude, &e.Longitude, &e.OccurredAt, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if label.Valid {
			e.DiseaseLabel = label.String
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
