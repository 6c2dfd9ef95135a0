package aggregate

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/agrisol/analytics-backend-go/internal/database"
	"github.com/agrisol/analytics-backend-go/internal/models"
	"github.com/agrisol/analytics-backend-go/internal/repository"
	"github.com/agrisol/analytics-backend-go/internal/stats"
)

// lockStripes bounds the number of per-key mutexes. Keys hash onto stripes
// so two events for the same key serialize while unrelated keys proceed in
// parallel; there is deliberately no global lock.
const lockStripes = 64

// Maintainer applies committed scan events to the aggregate store, one
// atomic per-key upsert per event. It owns all incremental writes to both
// aggregate tables.
type Maintainer struct {
	db     *sql.DB
	events *repository.EventRepository
	aggs   *repository.AggregateRepository
	clock  clockwork.Clock

	locks [lockStripes]sync.Mutex

	// onDrift is invoked (if set) after a consistency violation marked a
	// key stale, so the owner can queue a reconciliation.
	onDrift func(key string)
}

// NewMaintainer creates a maintainer over the given store.
func NewMaintainer(db *sql.DB, events *repository.EventRepository, aggs *repository.AggregateRepository, clock clockwork.Clock) *Maintainer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Maintainer{db: db, events: events, aggs: aggs, clock: clock}
}

// OnDrift registers the hook called when a consistency error is detected.
func (m *Maintainer) OnDrift(fn func(key string)) { m.onDrift = fn }

// ScanCommitted implements the committed-scan subscriber interface.
func (m *Maintainer) ScanCommitted(ctx context.Context, event *models.ScanEvent) error {
	return m.Apply(ctx, event)
}

// Apply folds one scan event into the aggregate store. Re-applying the same
// event is a no-op: applied sequence numbers are recorded in the same
// transaction as the upsert, and dedup is by exact identity, so an event
// delivered behind a newer one for its key still counts. Transient storage
// failures (lock contention on a hot key) are retried with capped
// exponential backoff; a consistency violation rolls the upsert back, marks
// the key stale and is surfaced to the caller.
func (m *Maintainer) Apply(ctx context.Context, event *models.ScanEvent) error {
	lock := m.lockFor(event.LocationKey)
	lock.Lock()
	defer lock.Unlock()

	op := func() error {
		err := database.Transaction(m.db, func(tx *sql.Tx) error {
			return m.applyTx(tx, event)
		})
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return &models.TransientStorageError{Op: "aggregate upsert", Err: err}
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	err := backoff.Retry(op, policy)
	if err == nil {
		return nil
	}

	var consistency *models.ConsistencyError
	if errors.As(err, &consistency) {
		// Never corrected in place: keep last-known-good, flag the key and
		// hand it to reconciliation.
		if markErr := m.aggs.MarkStale(consistency.LocationKey); markErr != nil {
			log.Printf("Failed to mark %q stale: %v", consistency.LocationKey, markErr)
		}
		if m.onDrift != nil {
			m.onDrift(consistency.LocationKey)
		}
	}
	return err
}

func (m *Maintainer) applyTx(tx *sql.Tx, event *models.ScanEvent) error {
	key := event.LocationKey
	now := m.clock.Now()

	if event.Seq > 0 {
		fresh, err := m.aggs.MarkApplied(tx, event.Seq)
		if err != nil {
			return err
		}
		if !fresh {
			return nil // already applied
		}
	}

	current, err := m.aggs.GetLocation(tx, key)
	if err != nil {
		return err
	}

	next := models.LocationAggregate{LocationKey: key}
	if current != nil {
		next = *current
	}
	next.TotalScans++
	if event.IsHealthy() {
		next.HealthyScans++
	} else {
		next.DiseaseScans++
	}
	if event.OccurredAt > next.LastScanAt {
		next.LastScanAt = event.OccurredAt
	}
	if event.Seq > next.LastEventSeq {
		next.LastEventSeq = event.Seq
	}
	next.Stale = false
	next.UpdatedAt = now.Unix()

	// Distinct and windowed counters are recomputed from the event log,
	// never incremented.
	windows, err := m.events.CountWindows(tx, key, now)
	if err != nil {
		return err
	}
	applyWindows(&next, windows)
	next.GrowthRate7d = GrowthRate7d(next.TotalScans, next.ScansLast7d)
	next.HealthyPercentage = stats.Percentage(next.HealthyScans, next.TotalScans)

	next.TopDisease, next.TopCrop, err = m.events.TopDiseaseAndCrop(tx, key)
	if err != nil {
		return err
	}

	if err := m.aggs.UpsertLocation(tx, &next); err != nil {
		return err
	}
	if err := m.aggs.CheckInvariant(tx, key); err != nil {
		return err
	}

	if event.IsHealthy() {
		return nil
	}
	return m.applyDiseaseTx(tx, event, now)
}

func (m *Maintainer) applyDiseaseTx(tx *sql.Tx, event *models.ScanEvent, now time.Time) error {
	current, err := m.aggs.GetDisease(tx, event.LocationKey, event.CropType, event.DiseaseLabel)
	if err != nil {
		return err
	}

	next := models.DiseaseAggregate{
		LocationKey:  event.LocationKey,
		CropType:     event.CropType,
		DiseaseLabel: event.DiseaseLabel,
	}
	if current != nil {
		next = *current
	}

	// The running mean folds the new sample in before the count moves,
	// and both land in the same transaction as the location upsert.
	next.SeverityAverage = stats.OnlineMean(next.SeverityAverage, next.OccurrenceCount, event.ConfidenceScore)
	next.OccurrenceCount++
	if next.FirstDetectedAt == 0 || event.OccurredAt < next.FirstDetectedAt {
		next.FirstDetectedAt = event.OccurredAt
	}
	if event.OccurredAt > next.LastDetectedAt {
		next.LastDetectedAt = event.OccurredAt
	}

	next.CasesLast7d, next.CasesLast30d, err = m.events.CountDiseaseWindows(
		tx, event.LocationKey, event.CropType, event.DiseaseLabel, now)
	if err != nil {
		return err
	}

	return m.aggs.UpsertDisease(tx, &next)
}

func (m *Maintainer) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &m.locks[h.Sum32()%lockStripes]
}

// isTransient reports whether an error is worth retrying. modernc sqlite
// surfaces writer contention as SQLITE_BUSY/locked errors.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "table is locked")
}
