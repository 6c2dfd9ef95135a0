package aggregate

import (
	"context"
	"database/sql"
	"log"

	"github.com/jonboulle/clockwork"

	"github.com/agrisol/analytics-backend-go/internal/database"
	"github.com/agrisol/analytics-backend-go/internal/models"
	"github.com/agrisol/analytics-backend-go/internal/repository"
)

// Reconciler rebuilds the whole aggregate store from the raw event log. It
// is the only component allowed to replace aggregate rows wholesale, and is
// used to heal drift from partial failures, bulk imports or schema changes.
type Reconciler struct {
	db        *sql.DB
	events    *repository.EventRepository
	aggs      *repository.AggregateRepository
	clock     clockwork.Clock
	batchSize int

	// scanHook, when set, observes each event as it is folded. Tests use
	// it to interleave writes with a running rebuild.
	scanHook func(*models.ScanEvent)
}

// NewReconciler creates a reconciler over the given store.
func NewReconciler(db *sql.DB, events *repository.EventRepository, aggs *repository.AggregateRepository, clock clockwork.Clock) *Reconciler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Reconciler{db: db, events: events, aggs: aggs, clock: clock, batchSize: 1000}
}

// Recompute scans the entire event log in append order, rebuilds every
// aggregate field from first principles, and swaps the rebuilt tables in
// atomically. The whole run happens inside one transaction over a
// consistent snapshot of the log: readers never observe a partial rewrite,
// and cancelling mid-scan rolls everything back with no effect. The
// returned report carries the audit diff against the previous store.
func (r *Reconciler) Recompute(ctx context.Context) (*models.ReconcileReport, error) {
	started := r.clock.Now()
	cut7 := started.Add(-repository.Window7d).Unix()
	cut30 := started.Add(-repository.Window30d).Unix()

	report := &models.ReconcileReport{}

	err := database.Transaction(r.db, func(tx *sql.Tx) error {
		locations := make(map[string]*locationAccumulator)
		diseases := make(map[diseaseTriple]*diseaseAccumulator)

		scanned, err := r.events.ScanAll(ctx, tx, r.batchSize, func(e *models.ScanEvent) error {
			if r.scanHook != nil {
				r.scanHook(e)
			}
			loc := locations[e.LocationKey]
			if loc == nil {
				loc = newLocationAccumulator()
				locations[e.LocationKey] = loc
			}
			loc.fold(e, cut7, cut30)

			if !e.IsHealthy() {
				t := diseaseTriple{key: e.LocationKey, crop: e.CropType, label: e.DiseaseLabel}
				dis := diseases[t]
				if dis == nil {
					dis = &diseaseAccumulator{}
					diseases[t] = dis
				}
				dis.fold(e, cut7, cut30)
			}
			return nil
		})
		report.EventsScanned = scanned
		if err != nil {
			return err
		}

		if err := r.aggs.CreateShadowTables(tx); err != nil {
			return err
		}
		for key, acc := range locations {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.aggs.InsertShadowLocation(tx, acc.finish(key, started)); err != nil {
				return err
			}
			report.LocationsWritten++
		}
		for triple, acc := range diseases {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.aggs.InsertShadowDisease(tx, acc.finish(triple)); err != nil {
				return err
			}
			report.DiseasesWritten++
		}

		if err := r.aggs.DiffShadow(tx, report); err != nil {
			return err
		}
		if err := r.aggs.SwapShadow(tx); err != nil {
			return err
		}
		// The rebuild folded every logged event in this snapshot, so the
		// applied set is reset to match it.
		return r.aggs.RebuildApplied(tx)
	})
	if err != nil {
		return nil, err
	}

	report.DurationMs = r.clock.Since(started).Milliseconds()
	log.Printf("Reconciliation complete: %d events scanned, %d locations, %d diseases, %d changed, %d added, %d removed",
		report.EventsScanned, report.LocationsWritten, report.DiseasesWritten,
		report.RowsChanged, report.RowsAdded, report.RowsRemoved)
	return report, nil
}
