package storage

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/scrypster/dwell/pkg/types"
)

var (
	// ErrNotFound indicates that no ledger has been persisted yet.
	ErrNotFound = errors.New("ledger not found")

	// ErrCorrupt indicates that the persisted ledger could not be decoded.
	ErrCorrupt = errors.New("ledger corrupt")

	// ErrLocked indicates that another process holds the ledger.
	ErrLocked = errors.New("ledger locked by another process")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// IOError reports a failed backend operation.
type IOError struct {
	Op      string // load, save, record
	Backend string
	Err     error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// LoadOrEmpty loads the ledger and degrades to an empty snapshot on any
// failure. A missing ledger is a cold start and is not logged as a problem.
func LoadOrEmpty(ctx context.Context, s LedgerStore) types.LedgerSnapshot {
	snap, err := s.Load(ctx)
	switch {
	case err == nil:
		log.Printf("storage: loaded %d ledger entries from %s", len(snap), s.Backend())
		return snap
	case errors.Is(err, ErrNotFound):
		log.Printf("storage: no ledger in %s, starting empty", s.Backend())
	case errors.Is(err, ErrCorrupt):
		log.Printf("WARNING: storage: %v; starting with an empty ledger", err)
	default:
		log.Printf("ERROR: storage: %v; starting with an empty ledger", err)
	}
	return types.LedgerSnapshot{}
}
