package service

import (
	"log"

	"github.com/agrisol/analytics-backend-go/internal/location"
	"github.com/agrisol/analytics-backend-go/internal/models"
	"github.com/agrisol/analytics-backend-go/internal/repository"
)

// AnalyticsService is the read-only Query Layer. Every operation is served
// from the aggregate store; none mutates state, so all are safe to retry
// and to serve from a replica. A detected invariant violation degrades the
// affected key to stale data rather than erroring.
type AnalyticsService struct {
	aggs   *repository.AggregateRepository
	events *repository.EventRepository

	// requestReconcile queues a reconciliation when a read detects drift.
	requestReconcile func()
}

// NewAnalyticsService creates a new analytics service
func NewAnalyticsService(aggs *repository.AggregateRepository, events *repository.EventRepository) *AnalyticsService {
	return &AnalyticsService{aggs: aggs, events: events}
}

// OnDrift registers the hook used to queue reconciliation after a read
// detects an invariant violation.
func (s *AnalyticsService) OnDrift(fn func()) { s.requestReconcile = fn }

// Leaderboard ranks locations by the requested metric.
func (s *AnalyticsService) Leaderboard(filter models.LeaderboardFilter) ([]models.LeaderboardEntry, error) {
	if filter.Metric == "" {
		filter.Metric = models.MetricTotalScans
	}
	if filter.Limit == 0 {
		filter.Limit = 50
	}
	return s.aggs.Leaderboard(filter.Metric, filter.Limit)
}

// Summary returns the aggregate-of-aggregates view across all locations.
func (s *AnalyticsService) Summary() (*models.Summary, error) {
	return s.aggs.Summary()
}

// Detail returns the drill-down view for one location key: its aggregate
// row, its disease breakdown, and the latest raw scans. Returns nil when
// the key is unknown.
func (s *AnalyticsService) Detail(key string) (*models.LocationDetail, error) {
	agg, err := s.aggs.GetLocation(nil, key)
	if err != nil {
		return nil, err
	}
	if agg == nil {
		return nil, nil
	}

	// Drift is surfaced, never corrected here: flag the key, keep serving
	// the last-known-good row, and let reconciliation rebuild it.
	if err := s.aggs.CheckInvariant(nil, key); err != nil {
		log.Printf("Consistency check failed: %v", err)
		agg.Stale = true
		if markErr := s.aggs.MarkStale(key); markErr != nil {
			log.Printf("Failed to mark %q stale: %v", key, markErr)
		}
		if s.requestReconcile != nil {
			s.requestReconcile()
		}
	}

	diseases, err := s.aggs.Diseases(key)
	if err != nil {
		return nil, err
	}
	recent, err := s.events.RecentScans(key, 10)
	if err != nil {
		return nil, err
	}

	return &models.LocationDetail{
		Location:    agg,
		Diseases:    diseases,
		RecentScans: recent,
	}, nil
}

// DiseaseTracking returns disease aggregate rows filtered by location and
// crop type.
func (s *AnalyticsService) DiseaseTracking(locationKey, cropType string, limit int) ([]models.DiseaseAggregate, error) {
	return s.aggs.DiseaseTracking(locationKey, cropType, limit)
}

// ResolveKey derives the canonical key for a raw location tuple, so
// clients can drill down using the tuple they originally submitted.
func (s *AnalyticsService) ResolveKey(loc models.Location) string {
	return location.DeriveKey(loc)
}
