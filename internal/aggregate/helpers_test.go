package aggregate

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agrisol/analytics-backend-go/internal/database"
	"github.com/agrisol/analytics-backend-go/internal/models"
	"github.com/agrisol/analytics-backend-go/internal/repository"
)

// openStore builds a throwaway sqlite database with the full schema applied.
func openStore(t *testing.T) (*sql.DB, *repository.EventRepository, *repository.AggregateRepository) {
	t.Helper()

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema, err := database.Schema("../../migrations")
	require.NoError(t, err)
	_, err = db.Exec(schema)
	require.NoError(t, err)

	return db, repository.NewEventRepository(db), repository.NewAggregateRepository(db)
}

// makeEvent builds a scan event for tests. The location key is set directly
// so tests control grouping without going through key derivation.
func makeEvent(userID, key, cropType, diseaseLabel string, confidence float64, occurredAt time.Time) *models.ScanEvent {
	return &models.ScanEvent{
		ID:              uuid.NewString(),
		UserID:          userID,
		CropType:        cropType,
		DiseaseLabel:    diseaseLabel,
		ConfidenceScore: confidence,
		Country:         "Rwanda",
		LocationKey:     key,
		OccurredAt:      occurredAt.Unix(),
		CreatedAt:       occurredAt.Unix(),
	}
}

// record appends an event to the log and folds it into the aggregates.
func record(t *testing.T, m *Maintainer, events *repository.EventRepository, e *models.ScanEvent) {
	t.Helper()
	_, err := events.Append(e)
	require.NoError(t, err)
	require.NoError(t, m.Apply(context.Background(), e))
}

// allLocations reads every location aggregate row, keyed by location key.
func allLocations(t *testing.T, db *sql.DB, aggs *repository.AggregateRepository) map[string]models.LocationAggregate {
	t.Helper()

	rows, err := db.Query(`SELECT location_key FROM location_aggregates ORDER BY location_key`)
	require.NoError(t, err)
	defer rows.Close()

	out := make(map[string]models.LocationAggregate)
	for rows.Next() {
		var key string
		require.NoError(t, rows.Scan(&key))
		agg, err := aggs.GetLocation(nil, key)
		require.NoError(t, err)
		require.NotNil(t, agg)
		out[key] = *agg
	}
	require.NoError(t, rows.Err())
	return out
}

// allDiseases reads every disease aggregate row, keyed by triple.
func allDiseases(t *testing.T, db *sql.DB, aggs *repository.AggregateRepository) map[diseaseTriple]models.DiseaseAggregate {
	t.Helper()

	rows, err := db.Query(`SELECT location_key, crop_type, disease_label
		FROM disease_aggregates ORDER BY location_key, crop_type, disease_label`)
	require.NoError(t, err)
	defer rows.Close()

	out := make(map[diseaseTriple]models.DiseaseAggregate)
	for rows.Next() {
		var key, crop, label string
		require.NoError(t, rows.Scan(&key, &crop, &label))
		agg, err := aggs.GetDisease(nil, key, crop, label)
		require.NoError(t, err)
		require.NotNil(t, agg)
		out[diseaseTriple{key: key, crop: crop, label: label}] = *agg
	}
	require.NoError(t, rows.Err())
	return out
}
