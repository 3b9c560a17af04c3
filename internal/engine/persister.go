package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/coder/quartz"

	"github.com/scrypster/dwell/internal/storage"
	"github.com/scrypster/dwell/pkg/types"
)

// SaveObserver is told about every ledger write attempt.
type SaveObserver interface {
	ObserveSave(backend string, took time.Duration, err error)
	ObserveBreakerState(state string)
}

// Persister writes ledger snapshots. Persist never fails: errors are logged
// and the previous durable ledger stays in place.
type Persister interface {
	Persist(snapshot types.LedgerSnapshot)
	Save(ctx context.Context, snapshot types.LedgerSnapshot) error
	Close(ctx context.Context) error
}

// SyncPersister saves on the caller's goroutine. Saves are serialized.
type SyncPersister struct {
	mu       sync.Mutex
	store    storage.LedgerStore
	breaker  *CircuitBreaker
	clock    quartz.Clock
	timeout  time.Duration
	observer SaveObserver
}

// NewSyncPersister creates a persister that writes through breaker.
func NewSyncPersister(store storage.LedgerStore, breaker *CircuitBreaker, clock quartz.Clock, timeout time.Duration, observer SaveObserver) *SyncPersister {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &SyncPersister{
		store:    store,
		breaker:  breaker,
		clock:    clock,
		timeout:  timeout,
		observer: observer,
	}
}

// Persist implements presence.Persister.
func (p *SyncPersister) Persist(snapshot types.LedgerSnapshot) {
	_ = p.Save(context.Background(), snapshot)
}

// Save writes one snapshot and reports the outcome.
func (p *SyncPersister) Save(ctx context.Context, snapshot types.LedgerSnapshot) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.clock.Now()
	err := p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.store.Save(ctx, snapshot)
	})
	took := p.clock.Since(start)

	if p.observer != nil {
		p.observer.ObserveSave(p.store.Backend(), took, err)
	}
	switch {
	case err == nil:
	case errors.Is(err, ErrCircuitOpen):
		log.Printf("WARNING: engine: ledger save skipped, %s store circuit open", p.store.Backend())
	default:
		log.Printf("ERROR: engine: ledger save failed: %v", err)
	}
	return err
}

// Close implements Persister.
func (p *SyncPersister) Close(context.Context) error {
	return nil
}

// AsyncPersister saves on a background goroutine. Only the latest pending
// snapshot is kept and at most one save is in flight.
type AsyncPersister struct {
	sync *SyncPersister

	mu      sync.Mutex
	pending types.LedgerSnapshot
	closed  bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewAsyncPersister starts the background writer.
func NewAsyncPersister(sp *SyncPersister) *AsyncPersister {
	p := &AsyncPersister{
		sync: sp,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go p.loop()
	return p
}

// Persist implements presence.Persister. It never blocks on I/O.
func (p *AsyncPersister) Persist(snapshot types.LedgerSnapshot) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sync.Persist(snapshot)
		return
	}
	p.pending = snapshot
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Save writes synchronously, bypassing the pending slot.
func (p *AsyncPersister) Save(ctx context.Context, snapshot types.LedgerSnapshot) error {
	return p.sync.Save(ctx, snapshot)
}

// Pending reports whether a snapshot is waiting to be written.
func (p *AsyncPersister) Pending() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending != nil
}

func (p *AsyncPersister) loop() {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
			p.drain()
		case <-p.stop:
			p.drain()
			return
		}
	}
}

func (p *AsyncPersister) drain() {
	p.mu.Lock()
	snapshot := p.pending
	p.pending = nil
	p.mu.Unlock()

	if snapshot != nil {
		p.sync.Persist(snapshot)
	}
}

// Close writes any pending snapshot and stops the background writer.
func (p *AsyncPersister) Close(ctx context.Context) error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.stop)
	})

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
