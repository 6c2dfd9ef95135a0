package service

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/agrisol/analytics-backend-go/internal/aggregate"
	"github.com/agrisol/analytics-backend-go/internal/models"
)

// ReconciliationService runs the Reconciler on a schedule and on demand.
// Runs are serialized: the store swap must never race with itself, and a
// second trigger while a run is queued collapses into it.
type ReconciliationService struct {
	reconciler *aggregate.Reconciler
	clock      clockwork.Clock
	interval   time.Duration

	mu      sync.Mutex
	trigger chan struct{}
}

// NewReconciliationService creates a new reconciliation service. A zero
// interval disables the schedule; on-demand runs still work.
func NewReconciliationService(reconciler *aggregate.Reconciler, clock clockwork.Clock, interval time.Duration) *ReconciliationService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &ReconciliationService{
		reconciler: reconciler,
		clock:      clock,
		interval:   interval,
		trigger:    make(chan struct{}, 1),
	}
}

// RunOnce performs a single reconciliation run.
func (s *ReconciliationService) RunOnce(ctx context.Context) (*models.ReconcileReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconciler.Recompute(ctx)
}

// Request queues an asynchronous reconciliation. Non-blocking; requests
// made while one is already queued coalesce.
func (s *ReconciliationService) Request() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run drives scheduled and requested reconciliations until the context is
// cancelled. Intended to run on its own goroutine.
func (s *ReconciliationService) Run(ctx context.Context) {
	var tick <-chan time.Time
	if s.interval > 0 {
		ticker := s.clock.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.Chan()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
		case <-s.trigger:
		}

		if _, err := s.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Scheduled reconciliation failed: %v", err)
		}
	}
}
