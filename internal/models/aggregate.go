package models

// LocationAggregate holds the rolled-up statistics for one node of the
// geographic hierarchy. Counter fields are maintained incrementally; the
// distinct-count and windowed fields are recomputed from the event log on
// every update rather than incremented (a returning user must not be
// double-counted, and windowed counts age out with no new events).
type LocationAggregate struct {
	LocationKey        string  `json:"location_key"`
	TotalScans         int64   `json:"total_scans"`
	HealthyScans       int64   `json:"healthy_scans"`
	DiseaseScans       int64   `json:"disease_scans"`
	UniqueUsers        int64   `json:"unique_users"`
	LastScanAt         int64   `json:"last_scan_at"`
	ScansLast7d        int64   `json:"scans_last_7d"`
	ScansLast30d       int64   `json:"scans_last_30d"`
	ActiveUsersLast7d  int64   `json:"active_users_last_7d"`
	ActiveUsersLast30d int64   `json:"active_users_last_30d"`
	GrowthRate7d       float64 `json:"growth_rate_7d"`
	HealthyPercentage  float64 `json:"healthy_percentage"`
	TopDisease         string  `json:"top_disease"`
	TopCrop            string  `json:"top_crop"`
	LastEventSeq       int64   `json:"-"`
	Stale              bool    `json:"stale"`
	UpdatedAt          int64   `json:"updated_at"`
}

// DiseaseRate returns the share of diseased scans as a percentage,
// 0 for an empty aggregate.
func (a *LocationAggregate) DiseaseRate() float64 {
	if a.TotalScans == 0 {
		return 0
	}
	return float64(a.DiseaseScans) / float64(a.TotalScans) * 100
}

// DiseaseAggregate holds the statistics for one disease occurring on one
// crop at one location. SeverityAverage is an online running mean of the
// confidence scores, so the full sample history is never needed.
type DiseaseAggregate struct {
	LocationKey     string  `json:"location_key"`
	CropType        string  `json:"crop_type"`
	DiseaseLabel    string  `json:"disease_label"`
	OccurrenceCount int64   `json:"occurrence_count"`
	SeverityAverage float64 `json:"severity_average"`
	CasesLast7d     int64   `json:"cases_last_7d"`
	CasesLast30d    int64   `json:"cases_last_30d"`
	FirstDetectedAt int64   `json:"first_detected_at"`
	LastDetectedAt  int64   `json:"last_detected_at"`
}

// LeaderboardEntry is one ranked row of the location leaderboard.
type LeaderboardEntry struct {
	Rank        int     `json:"rank"`
	LocationKey string  `json:"location_key"`
	MetricValue float64 `json:"metric_value"`
	TotalScans  int64   `json:"total_scans"`
	DiseaseRate float64 `json:"disease_rate"`
	UniqueUsers int64   `json:"unique_users"`
	LastScanAt  int64   `json:"last_scan_at"`
}

// Summary is the aggregate-of-aggregates view across all locations.
type Summary struct {
	TotalScans          int64  `json:"total_scans"`
	TotalHealthy        int64  `json:"total_healthy"`
	TotalDiseased       int64  `json:"total_diseased"`
	DistinctUsers       int64  `json:"distinct_users"`
	ActiveLocationCount int64  `json:"active_location_count"`
	TopDisease          string `json:"top_disease"`
	TopLocation         string `json:"top_location"`
}

// LocationDetail is the drill-down view for one location.
type LocationDetail struct {
	Location    *LocationAggregate `json:"location"`
	Diseases    []DiseaseAggregate `json:"diseases"`
	RecentScans []ScanEvent        `json:"recent_scans"`
}

// ReconcileReport summarizes one reconciliation run for audit.
type ReconcileReport struct {
	EventsScanned    int64 `json:"events_scanned"`
	LocationsWritten int64 `json:"locations_written"`
	DiseasesWritten  int64 `json:"diseases_written"`
	RowsChanged      int64 `json:"rows_changed"`
	RowsAdded        int64 `json:"rows_added"`
	RowsRemoved      int64 `json:"rows_removed"`
	DurationMs       int64 `json:"duration_ms"`
}

// LeaderboardFilter carries the leaderboard query parameters.
type LeaderboardFilter struct {
	Metric string `form:"metric"`
	Limit  int    `form:"limit"`
}

// Leaderboard metric names.
const (
	MetricTotalScans   = "total_scans"
	MetricUniqueUsers  = "unique_users"
	MetricGrowthRate7d = "growth_rate_7d"
	MetricDiseaseRate  = "disease_rate"
)
