package engine

import (
	"context"
	"log"
	"time"

	"github.com/scrypster/dwell/internal/storage"
	"github.com/scrypster/dwell/pkg/types"
)

// logListener writes one line per session transition.
type logListener struct{}

func (logListener) OnArrival(ev types.ArrivalEvent) {
	log.Printf("engine: arrival %s (visit %d, session %s)", ev.Entity, ev.Visit, ev.SessionID)
}

func (logListener) OnDeparture(ev types.DepartureEvent) {
	log.Printf("engine: departure %s after %.2fs (total %.2fs, session %s)",
		ev.Entity, ev.DurationSeconds, ev.TotalSecondsAfter, ev.SessionID)
}

// departureLog appends closed sessions to a DepartureRecorder.
type departureLog struct {
	recorder storage.DepartureRecorder
	timeout  time.Duration
}

func (departureLog) OnArrival(types.ArrivalEvent) {}

func (d departureLog) OnDeparture(ev types.DepartureEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.recorder.RecordDeparture(ctx, ev); err != nil {
		log.Printf("ERROR: engine: failed to record departure of %s: %v", ev.Entity, err)
	}
}
