package aggregate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrisol/analytics-backend-go/internal/models"
)

var testNow = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

func TestMaintainerAppliesScenario(t *testing.T) {
	db, events, aggs := openStore(t)
	clock := clockwork.NewFakeClockAt(testNow)
	m := NewMaintainer(db, events, aggs, clock)

	key := "Eastern Province > Nyagatare"
	record(t, m, events, makeEvent("user-1", key, "tomato", "healthy", 0.99, testNow.Add(-48*time.Hour)))
	record(t, m, events, makeEvent("user-2", key, "tomato", "Early Blight", 0.9, testNow.Add(-24*time.Hour)))
	record(t, m, events, makeEvent("user-1", key, "tomato", "Early Blight", 0.8, testNow.Add(-1*time.Hour)))

	agg, err := aggs.GetLocation(nil, key)
	require.NoError(t, err)
	require.NotNil(t, agg)

	assert.Equal(t, int64(3), agg.TotalScans)
	assert.Equal(t, int64(1), agg.HealthyScans)
	assert.Equal(t, int64(2), agg.DiseaseScans)
	assert.Equal(t, int64(2), agg.UniqueUsers)
	assert.Equal(t, int64(3), agg.ScansLast7d)
	assert.Equal(t, int64(3), agg.ScansLast30d)
	assert.Equal(t, int64(2), agg.ActiveUsersLast7d)
	assert.InDelta(t, 33.333, agg.HealthyPercentage, 0.001)
	assert.Equal(t, "Early Blight", agg.TopDisease)
	assert.Equal(t, "tomato", agg.TopCrop)
	assert.Equal(t, testNow.Add(-1*time.Hour).Unix(), agg.LastScanAt)
	assert.False(t, agg.Stale)

	// Every scan falls inside the 7-day window, so the growth rate has no
	// baseline to compare against and reports 0.
	assert.Equal(t, 0.0, agg.GrowthRate7d)

	dis, err := aggs.GetDisease(nil, key, "tomato", "Early Blight")
	require.NoError(t, err)
	require.NotNil(t, dis)
	assert.Equal(t, int64(2), dis.OccurrenceCount)
	assert.InDelta(t, 0.85, dis.SeverityAverage, 1e-9)
	assert.Equal(t, int64(2), dis.CasesLast7d)
	assert.Equal(t, int64(2), dis.CasesLast30d)
	assert.Equal(t, testNow.Add(-24*time.Hour).Unix(), dis.FirstDetectedAt)
	assert.Equal(t, testNow.Add(-1*time.Hour).Unix(), dis.LastDetectedAt)

	// Healthy scans never create disease rows.
	healthy, err := aggs.GetDisease(nil, key, "tomato", "healthy")
	require.NoError(t, err)
	assert.Nil(t, healthy)
}

func TestMaintainerSeverityRunningMean(t *testing.T) {
	db, events, aggs := openStore(t)
	clock := clockwork.NewFakeClockAt(testNow)
	m := NewMaintainer(db, events, aggs, clock)

	key := "Northern Province > Musanze"
	for _, conf := range []float64{0.9, 0.7, 0.8} {
		record(t, m, events, makeEvent("user-1", key, "potato", "Late Blight", conf, testNow.Add(-time.Hour)))
	}

	dis, err := aggs.GetDisease(nil, key, "potato", "Late Blight")
	require.NoError(t, err)
	require.NotNil(t, dis)
	assert.Equal(t, int64(3), dis.OccurrenceCount)
	assert.InDelta(t, 0.8, dis.SeverityAverage, 1e-9)
}

func TestMaintainerIdempotentReplay(t *testing.T) {
	db, events, aggs := openStore(t)
	clock := clockwork.NewFakeClockAt(testNow)
	m := NewMaintainer(db, events, aggs, clock)

	key := "Kigali City > Gasabo"
	e := makeEvent("user-1", key, "maize", "Maize Streak", 0.75, testNow.Add(-time.Hour))
	record(t, m, events, e)

	before, err := aggs.GetLocation(nil, key)
	require.NoError(t, err)

	// Delivery is at-least-once: replaying an already applied event must
	// change nothing.
	require.NoError(t, m.Apply(context.Background(), e))
	require.NoError(t, m.Apply(context.Background(), e))

	after, err := aggs.GetLocation(nil, key)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	dis, err := aggs.GetDisease(nil, key, "maize", "Maize Streak")
	require.NoError(t, err)
	assert.Equal(t, int64(1), dis.OccurrenceCount)
}

func TestMaintainerAppliesEventsArrivingOutOfOrder(t *testing.T) {
	db, events, aggs := openStore(t)
	clock := clockwork.NewFakeClockAt(testNow)
	m := NewMaintainer(db, events, aggs, clock)

	key := "Eastern Province > Nyagatare"
	first := makeEvent("user-1", key, "tomato", "Early Blight", 0.9, testNow.Add(-2*time.Hour))
	second := makeEvent("user-2", key, "tomato", "healthy", 0.95, testNow.Add(-time.Hour))
	_, err := events.Append(first)
	require.NoError(t, err)
	_, err = events.Append(second)
	require.NoError(t, err)
	require.Less(t, first.Seq, second.Seq)

	// Two concurrent requests can commit their appends in one order and
	// deliver in the other. The earlier event must still be counted.
	require.NoError(t, m.Apply(context.Background(), second))
	require.NoError(t, m.Apply(context.Background(), first))

	agg, err := aggs.GetLocation(nil, key)
	require.NoError(t, err)
	require.NotNil(t, agg)
	assert.Equal(t, int64(2), agg.TotalScans)
	assert.Equal(t, int64(1), agg.HealthyScans)
	assert.Equal(t, int64(1), agg.DiseaseScans)
	assert.Equal(t, second.Seq, agg.LastEventSeq)

	// Replays of either event remain no-ops.
	require.NoError(t, m.Apply(context.Background(), first))
	require.NoError(t, m.Apply(context.Background(), second))

	agg, err = aggs.GetLocation(nil, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), agg.TotalScans)
}

func TestMaintainerWindowsAgeOut(t *testing.T) {
	db, events, aggs := openStore(t)
	clock := clockwork.NewFakeClockAt(testNow)
	m := NewMaintainer(db, events, aggs, clock)

	key := "Southern Province"
	record(t, m, events, makeEvent("user-1", key, "cassava", "Mosaic Virus", 0.6, testNow.Add(-10*24*time.Hour)))
	record(t, m, events, makeEvent("user-2", key, "cassava", "Mosaic Virus", 0.7, testNow.Add(-time.Hour)))

	agg, err := aggs.GetLocation(nil, key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), agg.TotalScans)
	assert.Equal(t, int64(1), agg.ScansLast7d)
	assert.Equal(t, int64(2), agg.ScansLast30d)
	assert.Equal(t, int64(1), agg.ActiveUsersLast7d)
	assert.Equal(t, int64(2), agg.ActiveUsersLast30d)

	// One scan in the window against one older gives 100% growth.
	assert.InDelta(t, 100.0, agg.GrowthRate7d, 1e-9)

	dis, err := aggs.GetDisease(nil, key, "cassava", "Mosaic Virus")
	require.NoError(t, err)
	assert.Equal(t, int64(1), dis.CasesLast7d)
	assert.Equal(t, int64(2), dis.CasesLast30d)
}

func TestMaintainerConcurrentKeys(t *testing.T) {
	db, events, aggs := openStore(t)
	clock := clockwork.NewFakeClockAt(testNow)
	m := NewMaintainer(db, events, aggs, clock)

	keys := []string{"Western Province > Rubavu", "Western Province > Rusizi"}
	var batch []*models.ScanEvent
	for i := 0; i < 10; i++ {
		for _, key := range keys {
			e := makeEvent("user-1", key, "beans", "Rust", 0.5, testNow.Add(-time.Hour))
			_, err := events.Append(e)
			require.NoError(t, err)
			batch = append(batch, e)
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, len(batch))
	for i, e := range batch {
		wg.Add(1)
		go func(i int, e *models.ScanEvent) {
			defer wg.Done()
			errs[i] = m.Apply(context.Background(), e)
		}(i, e)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	for _, key := range keys {
		agg, err := aggs.GetLocation(nil, key)
		require.NoError(t, err)
		assert.Equal(t, int64(10), agg.TotalScans, key)
	}
}

func TestMaintainerFlagsDriftWithoutCorrecting(t *testing.T) {
	db, events, aggs := openStore(t)
	clock := clockwork.NewFakeClockAt(testNow)
	m := NewMaintainer(db, events, aggs, clock)

	var driftKey string
	m.OnDrift(func(key string) { driftKey = key })

	key := "Eastern Province > Kayonza"
	record(t, m, events, makeEvent("user-1", key, "tomato", "Early Blight", 0.8, testNow.Add(-time.Hour)))

	// Corrupt the counters out from under the maintainer.
	_, err := db.Exec(`UPDATE location_aggregates SET total_scans = total_scans + 5 WHERE location_key = ?`, key)
	require.NoError(t, err)

	e := makeEvent("user-2", key, "tomato", "Early Blight", 0.9, testNow.Add(-time.Minute))
	_, err = events.Append(e)
	require.NoError(t, err)

	err = m.Apply(context.Background(), e)
	require.Error(t, err)
	var consistency *models.ConsistencyError
	require.ErrorAs(t, err, &consistency)
	assert.Equal(t, key, consistency.LocationKey)
	assert.Equal(t, key, driftKey)

	// The bad row is flagged but never corrected in place, and the failed
	// upsert rolled back.
	agg, err := aggs.GetLocation(nil, key)
	require.NoError(t, err)
	assert.True(t, agg.Stale)
	assert.Equal(t, int64(6), agg.TotalScans)
	assert.Equal(t, int64(1), agg.DiseaseScans)
}
