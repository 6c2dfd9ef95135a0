package aggregate

import (
	"sort"
	"time"

	"github.com/agrisol/analytics-backend-go/internal/models"
	"github.com/agrisol/analytics-backend-go/internal/repository"
	"github.com/agrisol/analytics-backend-go/internal/stats"
)

// GrowthRate7d computes the 7-day growth metric. When every scan falls
// inside the window the denominator would be zero; the fixed policy is to
// report 0 rather than an infinite rate.
func GrowthRate7d(totalScans, scansLast7d int64) float64 {
	older := totalScans - scansLast7d
	if older <= 0 {
		return 0
	}
	return float64(scansLast7d) / float64(older) * 100
}

// locationAccumulator rebuilds one LocationAggregate from first principles
// during a full recomputation. It applies the same arithmetic as the
// incremental path, folding events in append order.
type locationAccumulator struct {
	total        int64
	healthy      int64
	disease      int64
	lastScanAt   int64
	lastSeq      int64
	scans7d      int64
	scans30d     int64
	users        map[string]struct{}
	users7d      map[string]struct{}
	users30d     map[string]struct{}
	diseaseCount map[string]int64
	cropCount    map[string]int64
}

func newLocationAccumulator() *locationAccumulator {
	return &locationAccumulator{
		users:        make(map[string]struct{}),
		users7d:      make(map[string]struct{}),
		users30d:     make(map[string]struct{}),
		diseaseCount: make(map[string]int64),
		cropCount:    make(map[string]int64),
	}
}

func (a *locationAccumulator) fold(e *models.ScanEvent, cut7, cut30 int64) {
	a.total++
	if e.IsHealthy() {
		a.healthy++
	} else {
		a.disease++
		a.diseaseCount[e.DiseaseLabel]++
	}
	a.cropCount[e.CropType]++
	if e.OccurredAt > a.lastScanAt {
		a.lastScanAt = e.OccurredAt
	}
	if e.Seq > a.lastSeq {
		a.lastSeq = e.Seq
	}

	a.users[e.UserID] = struct{}{}
	if e.OccurredAt >= cut7 {
		a.scans7d++
		a.users7d[e.UserID] = struct{}{}
	}
	if e.OccurredAt >= cut30 {
		a.scans30d++
		a.users30d[e.UserID] = struct{}{}
	}
}

// finish materializes the accumulated state into an aggregate row.
func (a *locationAccumulator) finish(key string, now time.Time) *models.LocationAggregate {
	return &models.LocationAggregate{
		LocationKey:        key,
		TotalScans:         a.total,
		HealthyScans:       a.healthy,
		DiseaseScans:       a.disease,
		UniqueUsers:        int64(len(a.users)),
		LastScanAt:         a.lastScanAt,
		ScansLast7d:        a.scans7d,
		ScansLast30d:       a.scans30d,
		ActiveUsersLast7d:  int64(len(a.users7d)),
		ActiveUsersLast30d: int64(len(a.users30d)),
		GrowthRate7d:       GrowthRate7d(a.total, a.scans7d),
		HealthyPercentage:  stats.Percentage(a.healthy, a.total),
		TopDisease:         topOf(a.diseaseCount),
		TopCrop:            topOf(a.cropCount),
		LastEventSeq:       a.lastSeq,
		UpdatedAt:          now.Unix(),
	}
}

// topOf returns the most frequent name, ties broken by name ascending to
// match the incremental path's ORDER BY COUNT(*) DESC, name ASC.
func topOf(counts map[string]int64) string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	var best string
	var bestCount int64
	for _, name := range names {
		if counts[name] > bestCount {
			best = name
			bestCount = counts[name]
		}
	}
	return best
}

// diseaseTriple keys the per-disease accumulators.
type diseaseTriple struct {
	key   string
	crop  string
	label string
}

// diseaseAccumulator rebuilds one DiseaseAggregate. The running mean is
// updated with the same online formula the incremental path uses, in the
// same order, so a rebuild reproduces it bit for bit.
type diseaseAccumulator struct {
	count    int64
	mean     float64
	first    int64
	last     int64
	cases7d  int64
	cases30d int64
}

func (a *diseaseAccumulator) fold(e *models.ScanEvent, cut7, cut30 int64) {
	a.mean = stats.OnlineMean(a.mean, a.count, e.ConfidenceScore)
	a.count++
	if a.first == 0 || e.OccurredAt < a.first {
		a.first = e.OccurredAt
	}
	if e.OccurredAt > a.last {
		a.last = e.OccurredAt
	}
	if e.OccurredAt >= cut7 {
		a.cases7d++
	}
	if e.OccurredAt >= cut30 {
		a.cases30d++
	}
}

func (a *diseaseAccumulator) finish(t diseaseTriple) *models.DiseaseAggregate {
	return &models.DiseaseAggregate{
		LocationKey:     t.key,
		CropType:        t.crop,
		DiseaseLabel:    t.label,
		OccurrenceCount: a.count,
		SeverityAverage: a.mean,
		CasesLast7d:     a.cases7d,
		CasesLast30d:    a.cases30d,
		FirstDetectedAt: a.first,
		LastDetectedAt:  a.last,
	}
}

// applyWindows copies recomputed window counters onto an aggregate row.
func applyWindows(a *models.LocationAggregate, wc *repository.WindowCounts) {
	a.UniqueUsers = wc.UniqueUsers
	a.ScansLast7d = wc.ScansLast7d
	a.ScansLast30d = wc.ScansLast30d
	a.ActiveUsersLast7d = wc.ActiveUsersLast7d
	a.ActiveUsersLast30d = wc.ActiveUsersLast30d
}
