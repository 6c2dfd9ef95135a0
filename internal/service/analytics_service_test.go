package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisol/analytics-backend-go/internal/models"
)

func recordScan(t *testing.T, env *testEnv, userID, province, district, crop, label string, conf float64, occurred time.Time) *models.ScanEvent {
	t.Helper()
	scan, err := env.scans.Record(context.Background(), &models.ScanEventInput{
		UserID:          userID,
		CropType:        crop,
		DiseaseLabel:    label,
		ConfidenceScore: conf,
		Location:        models.Location{Country: "Rwanda", Province: province, District: district},
		OccurredAt:      occurred.Unix(),
	})
	require.NoError(t, err)
	return scan
}

func TestLeaderboardRankingAndTieBreak(t *testing.T) {
	env := newTestEnv(t)

	// Musanze: 2 scans. Nyagatare and Gasabo: 1 each, tied.
	recordScan(t, env, "user-1", "Northern Province", "Musanze", "potato", "Late Blight", 0.8, testNow.Add(-2*time.Hour))
	recordScan(t, env, "user-2", "Northern Province", "Musanze", "potato", "healthy", 0.9, testNow.Add(-time.Hour))
	recordScan(t, env, "user-1", "Eastern Province", "Nyagatare", "tomato", "Early Blight", 0.7, testNow.Add(-time.Hour))
	recordScan(t, env, "user-3", "Kigali City", "Gasabo", "maize", "healthy", 0.95, testNow.Add(-time.Hour))

	entries, err := env.analytics.Leaderboard(models.LeaderboardFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "Northern Province > Musanze", entries[0].LocationKey)
	assert.Equal(t, float64(2), entries[0].MetricValue)

	// Equal metric values order by key ascending, so repeated queries
	// return identical rankings.
	assert.Equal(t, "Eastern Province > Nyagatare", entries[1].LocationKey)
	assert.Equal(t, "Kigali City > Gasabo", entries[2].LocationKey)
	assert.InDelta(t, 50.0, entries[0].DiseaseRate, 1e-9)
}

func TestLeaderboardByDiseaseRate(t *testing.T) {
	env := newTestEnv(t)

	recordScan(t, env, "user-1", "Northern Province", "Musanze", "potato", "healthy", 0.9, testNow.Add(-time.Hour))
	recordScan(t, env, "user-1", "Eastern Province", "Nyagatare", "tomato", "Early Blight", 0.7, testNow.Add(-time.Hour))

	entries, err := env.analytics.Leaderboard(models.LeaderboardFilter{Metric: models.MetricDiseaseRate})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "Eastern Province > Nyagatare", entries[0].LocationKey)
	assert.InDelta(t, 100.0, entries[0].MetricValue, 1e-9)
	assert.Equal(t, 0.0, entries[1].MetricValue)
}

func TestLeaderboardRejectsUnknownMetric(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.analytics.Leaderboard(models.LeaderboardFilter{Metric: "scans_per_goat"})
	require.Error(t, err)
	var validation *models.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "metric", validation.Field)
}

func TestSummary(t *testing.T) {
	env := newTestEnv(t)

	summary, err := env.analytics.Summary()
	require.NoError(t, err)
	assert.Zero(t, summary.TotalScans)
	assert.Empty(t, summary.TopDisease)

	recordScan(t, env, "user-1", "Northern Province", "Musanze", "potato", "Late Blight", 0.8, testNow.Add(-time.Hour))
	recordScan(t, env, "user-2", "Northern Province", "Musanze", "potato", "healthy", 0.9, testNow.Add(-time.Hour))
	recordScan(t, env, "user-1", "Eastern Province", "Nyagatare", "tomato", "Early Blight", 0.7, testNow.Add(-time.Hour))
	recordScan(t, env, "user-1", "Eastern Province", "Nyagatare", "tomato", "Early Blight", 0.75, testNow.Add(-time.Hour))

	summary, err = env.analytics.Summary()
	require.NoError(t, err)
	assert.Equal(t, int64(4), summary.TotalScans)
	assert.Equal(t, int64(1), summary.TotalHealthy)
	assert.Equal(t, int64(3), summary.TotalDiseased)
	assert.Equal(t, int64(2), summary.ActiveLocationCount)
	assert.Equal(t, "Early Blight", summary.TopDisease)

	// Both locations have 2 scans; the tie breaks by key ascending.
	assert.Equal(t, "Eastern Province > Nyagatare", summary.TopLocation)
}

func TestDetail(t *testing.T) {
	env := newTestEnv(t)

	unknown, err := env.analytics.Detail("Nowhere Province")
	require.NoError(t, err)
	assert.Nil(t, unknown)

	scan := recordScan(t, env, "user-1", "Eastern Province", "Nyagatare", "tomato", "Early Blight", 0.7, testNow.Add(-time.Hour))
	recordScan(t, env, "user-2", "Eastern Province", "Nyagatare", "tomato", "healthy", 0.95, testNow.Add(-30*time.Minute))

	detail, err := env.analytics.Detail(scan.LocationKey)
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, int64(2), detail.Location.TotalScans)
	require.Len(t, detail.Diseases, 1)
	assert.Equal(t, "Early Blight", detail.Diseases[0].DiseaseLabel)
	require.Len(t, detail.RecentScans, 2)

	// Newest first.
	assert.Equal(t, "user-2", detail.RecentScans[0].UserID)
}

func TestDetailFlagsDriftedRowAsStale(t *testing.T) {
	env := newTestEnv(t)

	scan := recordScan(t, env, "user-1", "Eastern Province", "Nyagatare", "tomato", "Early Blight", 0.7, testNow.Add(-time.Hour))

	_, err := env.db.Exec(`UPDATE location_aggregates SET total_scans = 42 WHERE location_key = ?`, scan.LocationKey)
	require.NoError(t, err)

	reconcileRequested := false
	env.analytics.OnDrift(func() { reconcileRequested = true })

	// The read still succeeds with last-known-good data, flagged stale.
	detail, err := env.analytics.Detail(scan.LocationKey)
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.True(t, detail.Location.Stale)
	assert.Equal(t, int64(42), detail.Location.TotalScans)
	assert.True(t, reconcileRequested)

	agg, err := env.aggs.GetLocation(nil, scan.LocationKey)
	require.NoError(t, err)
	assert.True(t, agg.Stale)
}

func TestDiseaseTrackingFilters(t *testing.T) {
	env := newTestEnv(t)

	recordScan(t, env, "user-1", "Eastern Province", "Nyagatare", "tomato", "Early Blight", 0.7, testNow.Add(-time.Hour))
	recordScan(t, env, "user-1", "Eastern Province", "Nyagatare", "maize", "Maize Streak", 0.6, testNow.Add(-time.Hour))
	recordScan(t, env, "user-2", "Northern Province", "Musanze", "potato", "Late Blight", 0.8, testNow.Add(-time.Hour))

	all, err := env.analytics.DiseaseTracking("", "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byLocation, err := env.analytics.DiseaseTracking("Eastern Province > Nyagatare", "", 0)
	require.NoError(t, err)
	assert.Len(t, byLocation, 2)

	byCrop, err := env.analytics.DiseaseTracking("", "potato", 0)
	require.NoError(t, err)
	require.Len(t, byCrop, 1)
	assert.Equal(t, "Late Blight", byCrop[0].DiseaseLabel)
}

func TestResolveKey(t *testing.T) {
	env := newTestEnv(t)

	key := env.analytics.ResolveKey(models.Location{Country: "Rwanda", Province: "Northern Province"})
	assert.Equal(t, "Northern Province", key)
	assert.Equal(t, "Unknown", env.analytics.ResolveKey(models.Location{}))
}
