package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/coder/quartz"

	"github.com/scrypster/dwell/internal/feed"
	"github.com/scrypster/dwell/internal/presence"
	"github.com/scrypster/dwell/internal/storage"
	"github.com/scrypster/dwell/pkg/types"
)

// PresenceEngine owns the tracker, its tick queue and its persister.
type PresenceEngine struct {
	config    Config
	clock     quartz.Clock
	store     storage.LedgerStore
	tracker   *presence.Tracker
	queue     *feed.Queue
	persister Persister
	breaker   *CircuitBreaker

	consumerDone chan struct{}
	flushReq     chan struct{}
	tickerCancel context.CancelFunc
	tickers      []quartz.Waiter

	ticks      atomic.Uint64
	sweeps     atomic.Uint64
	arrivals   atomic.Uint64
	departures atomic.Uint64
	flushedAt  atomic.Uint64

	started bool
	stopped bool
	mu      sync.Mutex
}

// Option configures a PresenceEngine.
type Option func(*options)

type options struct {
	clock     quartz.Clock
	observer  SaveObserver
	listeners []presence.Listener
}

// WithClock sets the clock used for stamping, sweeping and flushing.
func WithClock(c quartz.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithSaveObserver reports ledger writes and breaker transitions.
func WithSaveObserver(obs SaveObserver) Option {
	return func(o *options) { o.observer = obs }
}

// WithListener registers a tracker listener.
func WithListener(l presence.Listener) Option {
	return func(o *options) { o.listeners = append(o.listeners, l) }
}

// NewPresenceEngine loads the ledger from store and builds a tracker over
// catalog. A ledger that cannot be loaded degrades to an empty one.
// When store also records departures, every closed session is appended to
// its history.
func NewPresenceEngine(ctx context.Context, cfg Config, catalog presence.Catalog, store storage.LedgerStore, opts ...Option) (*PresenceEngine, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = quartz.NewReal()
	}

	e := &PresenceEngine{
		config:   cfg,
		clock:    o.clock,
		store:    store,
		flushReq: make(chan struct{}, 1),
	}

	var onChange func(string)
	if o.observer != nil {
		onChange = o.observer.ObserveBreakerState
	}
	e.breaker = NewCircuitBreaker("ledger-"+store.Backend(), cfg.Breaker, onChange)

	sp := NewSyncPersister(store, e.breaker, e.clock, cfg.SaveTimeout, o.observer)
	if cfg.AsyncSave {
		e.persister = NewAsyncPersister(sp)
	} else {
		e.persister = sp
	}

	ledger := presence.NewLedgerFrom(storage.LoadOrEmpty(ctx, store))

	trackerOpts := []presence.Option{
		presence.WithPersister(e.persister),
		presence.WithListener(logListener{}),
		presence.WithListener(presence.ListenerFuncs{
			Arrival:   func(types.ArrivalEvent) { e.arrivals.Add(1) },
			Departure: func(types.DepartureEvent) { e.departures.Add(1) },
		}),
	}
	if rec, ok := store.(storage.DepartureRecorder); ok {
		trackerOpts = append(trackerOpts, presence.WithListener(departureLog{recorder: rec, timeout: cfg.SaveTimeout}))
	}
	for _, l := range o.listeners {
		trackerOpts = append(trackerOpts, presence.WithListener(l))
	}

	tracker, err := presence.NewTracker(cfg.Tracker, catalog, ledger, trackerOpts...)
	if err != nil {
		return nil, err
	}
	e.tracker = tracker

	var queueOpts []feed.QueueOption
	if cfg.RestampTicks {
		queueOpts = append(queueOpts, feed.WithRestamp())
	}
	e.queue = feed.NewQueue(e.clock, cfg.QueueSize, queueOpts...)

	return e, nil
}

// Start launches the consumer goroutine and the sweep and flush tickers.
func (e *PresenceEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return fmt.Errorf("engine already started")
	}
	if e.stopped {
		return fmt.Errorf("engine already shut down")
	}

	log.Println("Starting presence engine...")

	e.consumerDone = make(chan struct{})
	go e.consume()

	tickerCtx, cancel := context.WithCancel(ctx)
	e.tickerCancel = cancel

	if e.config.SweepInterval > 0 {
		e.tickers = append(e.tickers, e.clock.TickerFunc(tickerCtx, e.config.SweepInterval, func() error {
			e.sweep()
			return nil
		}, "engine", "sweep"))
	}
	if e.config.FlushInterval > 0 {
		e.tickers = append(e.tickers, e.clock.TickerFunc(tickerCtx, e.config.FlushInterval, func() error {
			e.requestFlush()
			return nil
		}, "engine", "flush"))
	}

	e.started = true
	log.Printf("Presence engine started (grace=%v policy=%s backend=%s async_save=%v)",
		e.config.Tracker.GracePeriod, e.config.Tracker.DurationPolicy, e.store.Backend(), e.config.AsyncSave)
	return nil
}

// consume is the only goroutine that observes ticks or persists from the
// tracker, so departure saves and periodic flushes never overlap.
func (e *PresenceEngine) consume() {
	defer close(e.consumerDone)
	ticks := e.queue.Ticks()
	for {
		select {
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			e.tracker.Observe(tick.Detected, tick.At)
			e.ticks.Add(1)
			if tick.Sweep {
				e.sweeps.Add(1)
			}
		case <-e.flushReq:
			e.flush()
		}
	}
}

// sweep injects an empty tick. A full queue already carries newer ticks,
// so a skipped sweep loses nothing.
func (e *PresenceEngine) sweep() {
	if _, err := e.queue.TryPush(feed.Tick{Sweep: true}); err != nil && !errors.Is(err, feed.ErrQueueClosed) {
		log.Printf("WARNING: engine: sweep tick rejected: %v", err)
	}
}

// requestFlush asks the consumer to flush. Requests coalesce while one is
// pending, and the final shutdown save covers any left unserved.
func (e *PresenceEngine) requestFlush() {
	select {
	case e.flushReq <- struct{}{}:
	default:
	}
}

// flush persists the ledger if any tick was observed since the last flush.
func (e *PresenceEngine) flush() {
	n := e.ticks.Load()
	if e.flushedAt.Swap(n) == n {
		return
	}
	e.persister.Persist(e.tracker.Snapshot())
}

// Submit queues a tick for the tracker, blocking while the queue is full.
func (e *PresenceEngine) Submit(ctx context.Context, tick feed.Tick) error {
	return e.queue.Push(ctx, tick)
}

// Queue returns the tick queue for producers.
func (e *PresenceEngine) Queue() *feed.Queue {
	return e.queue
}

// Tracker returns the tracker for read access.
func (e *PresenceEngine) Tracker() *presence.Tracker {
	return e.tracker
}

// Store returns the ledger store.
func (e *PresenceEngine) Store() storage.LedgerStore {
	return e.store
}

// Breaker returns the ledger save circuit breaker.
func (e *PresenceEngine) Breaker() *CircuitBreaker {
	return e.breaker
}

// SaveNow writes the current ledger synchronously.
func (e *PresenceEngine) SaveNow(ctx context.Context) error {
	return e.persister.Save(ctx, e.tracker.Snapshot())
}

// Stats returns engine counters.
func (e *PresenceEngine) Stats() Stats {
	return Stats{
		TicksProcessed: e.ticks.Load(),
		SweepTicks:     e.sweeps.Load(),
		Arrivals:       e.arrivals.Load(),
		Departures:     e.departures.Load(),
		QueueDepth:     e.queue.Len(),
		QueueCapacity:  e.queue.Cap(),
		OpenSessions:   len(e.tracker.OpenSessions()),
		LastTick:       e.tracker.LastTick(),
		Backend:        e.store.Backend(),
		BreakerState:   e.breaker.State(),
	}
}

// Shutdown stops the tickers, drains queued ticks into the tracker, stops
// the persister and writes the ledger one last time. The store is not closed.
func (e *PresenceEngine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return fmt.Errorf("engine not started")
	}

	log.Println("Shutting down presence engine...")

	if e.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.ShutdownTimeout)
		defer cancel()
	}

	e.tickerCancel()
	for _, w := range e.tickers {
		if err := w.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("WARNING: engine: ticker stopped with error: %v", err)
		}
	}
	e.tickers = nil

	e.queue.Close()
	select {
	case <-e.consumerDone:
	case <-ctx.Done():
		log.Printf("WARNING: engine: queue drain timed out with %d ticks left", e.queue.Len())
		return ctx.Err()
	}

	// Pending async writes hold older snapshots and must land first.
	if err := e.persister.Close(ctx); err != nil {
		log.Printf("WARNING: engine: persister shutdown had errors: %v", err)
	}
	if err := e.SaveNow(ctx); err != nil {
		log.Printf("WARNING: engine: final ledger save failed: %v", err)
	}

	e.started = false
	e.stopped = true
	log.Println("Presence engine shut down successfully")
	return nil
}
