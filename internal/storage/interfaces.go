// Package storage provides the durable boundary of the presence ledger.
//
// The storage layer is a small set of interfaces implemented by the json,
// sqlite and postgres backends. The tracker never talks to a backend
// directly: the engine loads a snapshot once at startup and saves full
// snapshots after departures.
package storage

import (
	"context"
	"time"

	"github.com/scrypster/dwell/pkg/types"
)

// LedgerStore loads and saves whole ledger snapshots.
type LedgerStore interface {
	// Load reads the persisted ledger.
	// Returns ErrNotFound when nothing was ever saved, an error wrapping
	// ErrCorrupt when stored data cannot be decoded, and *IOError for other
	// failures.
	Load(ctx context.Context) (types.LedgerSnapshot, error)

	// Save replaces the persisted ledger with snapshot. A failed save leaves
	// the previous ledger in place.
	Save(ctx context.Context, snapshot types.LedgerSnapshot) error

	// Backend returns the backend name (json, sqlite, postgres).
	Backend() string

	// Close releases any resources held by the store.
	Close() error
}

// DepartureRecorder keeps a history of closed sessions.
// Implemented by the sqlite and postgres backends.
type DepartureRecorder interface {
	// RecordDeparture appends one closed session to the history.
	RecordDeparture(ctx context.Context, ev types.DepartureEvent) error

	// ListDepartures returns closed sessions, newest first.
	ListDepartures(ctx context.Context, q DepartureQuery) ([]types.DepartureEvent, error)
}

// DepartureQuery filters ListDepartures.
type DepartureQuery struct {
	// Entity restricts results to one entity. Empty means all entities.
	Entity types.EntityID

	// Since restricts results to departures at or after this time.
	// Zero value means no lower bound.
	Since time.Time

	// Limit caps the number of results (default: 50, max: 500).
	Limit int
}

// Normalize applies defaults to the query.
func (q *DepartureQuery) Normalize() {
	if q.Limit < 1 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}
