package repository

import (
	"database/sql"
	"fmt"

	"github.com/agrisol/analytics-backend-go/internal/models"
)

// Shadow-table support for the Reconciler. The rebuilt aggregates are
// written next to the live tables and swapped in with a rename inside the
// same transaction, so readers never observe a partially rewritten store.

// Kept in sync with migrations/001_init_schema.sql.
const (
	shadowLocationDDL = `CREATE TABLE location_aggregates_shadow (
		location_key TEXT PRIMARY KEY,
		total_scans INTEGER NOT NULL DEFAULT 0,
		healthy_scans INTEGER NOT NULL DEFAULT 0,
		disease_scans INTEGER NOT NULL DEFAULT 0,
		unique_users INTEGER NOT NULL DEFAULT 0,
		last_scan_at INTEGER NOT NULL DEFAULT 0,
		scans_last_7d INTEGER NOT NULL DEFAULT 0,
		scans_last_30d INTEGER NOT NULL DEFAULT 0,
		active_users_last_7d INTEGER NOT NULL DEFAULT 0,
		active_users_last_30d INTEGER NOT NULL DEFAULT 0,
		growth_rate_7d REAL NOT NULL DEFAULT 0,
		healthy_percentage REAL NOT NULL DEFAULT 0,
		top_disease TEXT NOT NULL DEFAULT '',
		top_crop TEXT NOT NULL DEFAULT '',
		last_event_seq INTEGER NOT NULL DEFAULT 0,
		stale INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0
	)`

	shadowDiseaseDDL = `CREATE TABLE disease_aggregates_shadow (
		location_key TEXT NOT NULL,
		crop_type TEXT NOT NULL,
		disease_label TEXT NOT NULL,
		occurrence_count INTEGER NOT NULL DEFAULT 0,
		severity_average REAL NOT NULL DEFAULT 0,
		cases_last_7d INTEGER NOT NULL DEFAULT 0,
		cases_last_30d INTEGER NOT NULL DEFAULT 0,
		first_detected_at INTEGER NOT NULL DEFAULT 0,
		last_detected_at INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (location_key, crop_type, disease_label)
	)`
)

// Columns compared when diffing a rebuilt store against the live one.
// Bookkeeping columns (watermark, stale flag, updated_at) are excluded so a
// no-drift rebuild reports zero changed rows.
const (
	locationStatColumns = `location_key, total_scans, healthy_scans, disease_scans, unique_users,
		last_scan_at, scans_last_7d, scans_last_30d, active_users_last_7d, active_users_last_30d,
		growth_rate_7d, healthy_percentage, top_disease, top_crop`
	diseaseStatColumns = diseaseColumns
)

// CreateShadowTables creates empty shadow copies of both aggregate tables.
func (r *AggregateRepository) CreateShadowTables(tx *sql.Tx) error {
	stmts := []string{
		"DROP TABLE IF EXISTS location_aggregates_shadow",
		"DROP TABLE IF EXISTS disease_aggregates_shadow",
		shadowLocationDDL,
		shadowDiseaseDDL,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create shadow tables: %w", err)
		}
	}
	return nil
}

// InsertShadowLocation writes a rebuilt location row into the shadow table.
func (r *AggregateRepository) InsertShadowLocation(tx *sql.Tx, a *models.LocationAggregate) error {
	return upsertLocationInto(tx, "location_aggregates_shadow", a)
}

// InsertShadowDisease writes a rebuilt disease row into the shadow table.
func (r *AggregateRepository) InsertShadowDisease(tx *sql.Tx, a *models.DiseaseAggregate) error {
	return upsertDiseaseInto(tx, "disease_aggregates_shadow", a)
}

// DiffShadow compares the shadow tables against the live ones and fills the
// audit counters of the report.
func (r *AggregateRepository) DiffShadow(tx *sql.Tx, report *models.ReconcileReport) error {
	counts := []struct {
		dest  *int64
		query string
	}{
		{&report.RowsAdded, `SELECT COUNT(*) FROM location_aggregates_shadow
			WHERE location_key NOT IN (SELECT location_key FROM location_aggregates)`},
		{&report.RowsRemoved, `SELECT COUNT(*) FROM location_aggregates
			WHERE location_key NOT IN (SELECT location_key FROM location_aggregates_shadow)`},
		{&report.RowsChanged, `SELECT COUNT(*) FROM (
			SELECT ` + locationStatColumns + ` FROM location_aggregates_shadow
				WHERE location_key IN (SELECT location_key FROM location_aggregates)
			EXCEPT SELECT ` + locationStatColumns + ` FROM location_aggregates)`},
	}

	for _, c := range counts {
		var n int64
		if err := tx.QueryRow(c.query).Scan(&n); err != nil {
			return fmt.Errorf("failed to diff shadow tables: %w", err)
		}
		*c.dest += n
	}

	diseaseCounts := []struct {
		dest  *int64
		query string
	}{
		{&report.RowsAdded, `SELECT COUNT(*) FROM disease_aggregates_shadow s
			WHERE NOT EXISTS (SELECT 1 FROM disease_aggregates d
				WHERE d.location_key = s.location_key AND d.crop_type = s.crop_type AND d.disease_label = s.disease_label)`},
		{&report.RowsRemoved, `SELECT COUNT(*) FROM disease_aggregates d
			WHERE NOT EXISTS (SELECT 1 FROM disease_aggregates_shadow s
				WHERE s.location_key = d.location_key AND s.crop_type = d.crop_type AND s.disease_label = d.disease_label)`},
		{&report.RowsChanged, `SELECT COUNT(*) FROM (
			SELECT ` + diseaseStatColumns + ` FROM disease_aggregates_shadow
			EXCEPT SELECT ` + diseaseStatColumns + ` FROM disease_aggregates)
			WHERE location_key || '|' || crop_type || '|' || disease_label IN
				(SELECT location_key || '|' || crop_type || '|' || disease_label FROM disease_aggregates)`},
	}

	for _, c := range diseaseCounts {
		var n int64
		if err := tx.QueryRow(c.query).Scan(&n); err != nil {
			return fmt.Errorf("failed to diff shadow disease tables: %w", err)
		}
		*c.dest += n
	}

	return nil
}

// SwapShadow atomically replaces the live aggregate tables with the shadow
// ones and restores the secondary index.
func (r *AggregateRepository) SwapShadow(tx *sql.Tx) error {
	stmts := []string{
		"DROP TABLE location_aggregates",
		"ALTER TABLE location_aggregates_shadow RENAME TO location_aggregates",
		"DROP TABLE disease_aggregates",
		"ALTER TABLE disease_aggregates_shadow RENAME TO disease_aggregates",
		"CREATE INDEX IF NOT EXISTS idx_disease_aggregates_key ON disease_aggregates(location_key)",
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to swap shadow tables: %w", err)
		}
	}
	return nil
}
