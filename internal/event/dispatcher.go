package event

import (
	"context"
	"log"

	"github.com/agrisol/analytics-backend-go/internal/models"
)

// Subscriber receives committed scan events. The Aggregate Maintainer is
// the primary subscriber; additional ones (queue publishers) are best
// effort.
type Subscriber interface {
	ScanCommitted(ctx context.Context, event *models.ScanEvent) error
}

// Dispatcher fans a committed-scan signal out to its subscribers, in
// registration order. The first subscriber's error is returned to the
// Event Recorder; failures of later subscribers are logged and dropped,
// because at-most-once delivery to them is acceptable (reconciliation can
// always repair drift, and queue consumers tolerate gaps).
type Dispatcher struct {
	subscribers []Subscriber
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers a subscriber. Not safe for concurrent use with
// Dispatch; registration happens at wiring time.
func (d *Dispatcher) Subscribe(s Subscriber) {
	d.subscribers = append(d.subscribers, s)
}

// Dispatch delivers one committed event to every subscriber.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *models.ScanEvent) error {
	var primaryErr error
	for i, s := range d.subscribers {
		if err := s.ScanCommitted(ctx, ev); err != nil {
			if i == 0 && primaryErr == nil {
				primaryErr = err
				continue
			}
			log.Printf("Committed-scan subscriber %d failed for event %s: %v", i, ev.ID, err)
		}
	}
	return primaryErr
}
