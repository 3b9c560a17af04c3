// Package presence converts noisy per-tick detection sets into session
// boundaries (arrival, departure) and running per-entity statistics.
//
// A Tracker owns a SessionStore and a Ledger. Observe is the only mutating
// operation and must be called with non-decreasing tick times; callers feed it
// from a single goroutine (see internal/engine). Read accessors may be called
// concurrently with Observe.
package presence

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/scrypster/dwell/pkg/types"
)

// DurationPolicy selects how the length of a closed session is measured.
type DurationPolicy string

const (
	// DurationToLastSeen measures from arrival to the last positive detection.
	DurationToLastSeen DurationPolicy = "last_seen"

	// DurationToSweep measures from arrival to the tick that closed the
	// session, so the trailing grace gap is counted as present time.
	DurationToSweep DurationPolicy = "sweep"
)

// ParseDurationPolicy converts a configuration string into a DurationPolicy.
func ParseDurationPolicy(s string) (DurationPolicy, error) {
	switch DurationPolicy(s) {
	case DurationToLastSeen, DurationToSweep:
		return DurationPolicy(s), nil
	default:
		return "", fmt.Errorf("presence: unknown duration policy %q (want %q or %q)", s, DurationToLastSeen, DurationToSweep)
	}
}

// Config holds the tracker tunables.
type Config struct {
	// GracePeriod is the maximum gap between positive detections before a
	// session is closed. A session closes when now - last_seen > GracePeriod.
	GracePeriod time.Duration

	// DurationPolicy selects how a closed session's duration is measured.
	DurationPolicy DurationPolicy

	// Unrecognized is the recognizer's "no match" label; it is never tracked.
	Unrecognized types.EntityID
}

// DefaultConfig returns the default tracker configuration: a 3s grace period,
// arrival-to-last-seen durations and the default unrecognized sentinel.
// Durations measured as now - started_at, trailing grace gap included, need
// DurationToSweep.
func DefaultConfig() Config {
	return Config{
		GracePeriod:    3 * time.Second,
		DurationPolicy: DurationToLastSeen,
		Unrecognized:   types.Unrecognized,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.GracePeriod < 0 {
		return fmt.Errorf("GracePeriod must be >= 0, got %v", c.GracePeriod)
	}
	if _, err := ParseDurationPolicy(string(c.DurationPolicy)); err != nil {
		return err
	}
	if c.Unrecognized.IsBlank() {
		return fmt.Errorf("Unrecognized label must not be blank")
	}
	return nil
}

// Catalog is the closed set of entities the recognizer can report.
type Catalog interface {
	Contains(id types.EntityID) bool
}

// Persister receives a ledger snapshot after every tick that closed at least
// one session. Implementations decide whether to write synchronously.
type Persister interface {
	Persist(snapshot types.LedgerSnapshot)
}

// Listener is notified of session transitions. Callbacks run on the
// observing goroutine after the tracker lock is released and must not block.
type Listener interface {
	OnArrival(ev types.ArrivalEvent)
	OnDeparture(ev types.DepartureEvent)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Arrival   func(types.ArrivalEvent)
	Departure func(types.DepartureEvent)
}

// OnArrival implements Listener.
func (f ListenerFuncs) OnArrival(ev types.ArrivalEvent) {
	if f.Arrival != nil {
		f.Arrival(ev)
	}
}

// OnDeparture implements Listener.
func (f ListenerFuncs) OnDeparture(ev types.DepartureEvent) {
	if f.Departure != nil {
		f.Departure(ev)
	}
}

// Result reports the transitions produced by one Observe call.
type Result struct {
	Arrivals   []types.ArrivalEvent
	Departures []types.DepartureEvent
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithPersister sets the persister that receives snapshots on departures.
func WithPersister(p Persister) Option {
	return func(t *Tracker) { t.persister = p }
}

// WithListener registers a transition listener.
func WithListener(l Listener) Option {
	return func(t *Tracker) {
		if l != nil {
			t.listeners = append(t.listeners, l)
		}
	}
}

// Tracker is the presence session state machine.
type Tracker struct {
	mu        sync.RWMutex
	cfg       Config
	catalog   Catalog
	sessions  *SessionStore
	ledger    *Ledger
	persister Persister
	listeners []Listener
	lastTick  time.Time
}

// NewTracker creates a tracker over the given catalog and ledger. A nil
// ledger starts empty. Sessions are never restored from the ledger: a loaded
// session_start is informational only.
func NewTracker(cfg Config, catalog Catalog, ledger *Ledger, opts ...Option) (*Tracker, error) {
	if catalog == nil {
		return nil, fmt.Errorf("presence: catalog is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("presence: invalid config: %w", err)
	}
	if ledger == nil {
		ledger = NewLedger()
	}
	for _, id := range ledger.IDs() {
		if !types.IsTrackable(id, cfg.Unrecognized) {
			log.Printf("WARNING: presence: dropping untrackable ledger entry %q", id)
			ledger.remove(id)
		}
	}

	t := &Tracker{
		cfg:      cfg,
		catalog:  catalog,
		sessions: NewSessionStore(),
		ledger:   ledger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// AddListener registers a listener after construction.
func (t *Tracker) AddListener(l Listener) {
	if l == nil {
		return
	}
	t.mu.Lock()
	t.listeners = append(t.listeners, l)
	t.mu.Unlock()
}

// Observe consumes one tick: it opens or extends sessions for the detected
// entities, closes sessions whose grace period expired, and hands a ledger
// snapshot to the persister when anything departed.
//
// Unknown entities, blank ids and the unrecognized sentinel are ignored.
func (t *Tracker) Observe(detected []types.EntityID, now time.Time) Result {
	t.mu.Lock()
	res := t.observeLocked(detected, now)
	var snapshot types.LedgerSnapshot
	if len(res.Departures) > 0 {
		snapshot = t.ledger.Snapshot()
	}
	listeners := append([]Listener(nil), t.listeners...)
	persister := t.persister
	t.mu.Unlock()

	for _, l := range listeners {
		for _, ev := range res.Arrivals {
			l.OnArrival(ev)
		}
		for _, ev := range res.Departures {
			l.OnDeparture(ev)
		}
	}

	if snapshot != nil && persister != nil {
		persister.Persist(snapshot)
	}

	return res
}

func (t *Tracker) observeLocked(detected []types.EntityID, now time.Time) Result {
	var res Result

	if !t.lastTick.IsZero() && now.Before(t.lastTick) {
		log.Printf("presence: tick at %s precedes previous tick %s, clamping", now.Format(time.RFC3339Nano), t.lastTick.Format(time.RFC3339Nano))
		now = t.lastTick
	}
	t.lastTick = now

	seen := make(map[types.EntityID]struct{}, len(detected))
	for _, id := range detected {
		if !t.accepts(id) {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		stats := t.ledger.GetOrInsert(id)
		sess, created := t.sessions.Open(id, now)
		if created {
			stats.VisitCount++
			start := now
			stats.CurrentSessionStartedAt = &start
			res.Arrivals = append(res.Arrivals, types.ArrivalEvent{
				Entity:    id,
				SessionID: sess.ID,
				At:        now,
				Visit:     stats.VisitCount,
			})
		} else {
			reconcile(sess, stats)
		}

		seenAt := now
		stats.LastSeenAt = &seenAt
	}

	for _, id := range t.sessions.entities() {
		sess, _ := t.sessions.Get(id)
		stats := t.ledger.GetOrInsert(id)

		lastSeen := sess.StartedAt
		if stats.LastSeenAt != nil {
			lastSeen = *stats.LastSeenAt
		}
		if now.Sub(lastSeen) <= t.cfg.GracePeriod {
			continue
		}

		dur := t.sessionDuration(sess.StartedAt, lastSeen, now)
		stats.TotalDwellSeconds += dur.Seconds()
		stats.CurrentSessionStartedAt = nil
		t.sessions.Close(id)

		res.Departures = append(res.Departures, types.DepartureEvent{
			Entity:            id,
			SessionID:         sess.ID,
			StartedAt:         sess.StartedAt,
			LastSeenAt:        lastSeen,
			DepartedAt:        now,
			DurationSeconds:   dur.Seconds(),
			TotalSecondsAfter: stats.TotalDwellSeconds,
		})
	}

	return res
}

func (t *Tracker) accepts(id types.EntityID) bool {
	return types.IsTrackable(id, t.cfg.Unrecognized) && t.catalog.Contains(id)
}

func (t *Tracker) sessionDuration(started, lastSeen, now time.Time) time.Duration {
	end := lastSeen
	if t.cfg.DurationPolicy == DurationToSweep {
		end = now
	}
	if d := end.Sub(started); d > 0 {
		return d
	}
	return 0
}

// reconcile restores the session_start invariant when the ledger and the
// session store disagree, keeping the earlier of the two start times.
func reconcile(sess *types.Session, stats *types.EntityStats) {
	if stats.CurrentSessionStartedAt != nil && stats.CurrentSessionStartedAt.Equal(sess.StartedAt) {
		return
	}
	earliest := sess.StartedAt
	if stats.CurrentSessionStartedAt != nil && stats.CurrentSessionStartedAt.Before(earliest) {
		earliest = *stats.CurrentSessionStartedAt
	}
	log.Printf("WARNING: presence: session_start mismatch for %s, coalescing to %s", sess.Entity, earliest.Format(time.RFC3339Nano))
	sess.StartedAt = earliest
	stats.CurrentSessionStartedAt = &earliest
}

// Snapshot returns a deep copy of the statistics ledger.
func (t *Tracker) Snapshot() types.LedgerSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ledger.Snapshot()
}

// Stats returns the statistics for one entity.
func (t *Tracker) Stats(id types.EntityID) (types.EntityStats, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ledger.Get(id)
}

// OpenSessions returns the currently open sessions ordered by start time.
func (t *Tracker) OpenSessions() []types.Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessions.List()
}

// LastTick returns the time of the most recent observed tick.
func (t *Tracker) LastTick() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastTick
}

// Config returns the tracker configuration.
func (t *Tracker) Config() Config {
	return t.cfg
}
