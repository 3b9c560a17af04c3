package presence

import (
	"sort"

	"github.com/scrypster/dwell/pkg/types"
)

// Ledger is the in-memory statistics ledger owned by a Tracker.
//
// Entries are created lazily through GetOrInsert. Only untrackable keys from a
// loaded snapshot are ever deleted, when the Tracker is built. Ledger is
// not safe for concurrent use; the Tracker serialises access to it.
type Ledger struct {
	entries map[types.EntityID]*types.EntityStats
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[types.EntityID]*types.EntityStats)}
}

// NewLedgerFrom builds a ledger from a loaded snapshot. The snapshot is
// deep-copied so later mutations do not leak back into the caller's map.
func NewLedgerFrom(snapshot types.LedgerSnapshot) *Ledger {
	l := NewLedger()
	for id, stats := range snapshot {
		s := stats.Clone()
		l.entries[id] = &s
	}
	return l
}

// GetOrInsert returns the stats for id, inserting a zero-valued record when
// the entity has never been seen. The returned pointer stays valid for the
// lifetime of the ledger.
func (l *Ledger) GetOrInsert(id types.EntityID) *types.EntityStats {
	if s, ok := l.entries[id]; ok {
		return s
	}
	s := &types.EntityStats{}
	l.entries[id] = s
	return s
}

// remove deletes id. Only used to discard entries that may never be tracked.
func (l *Ledger) remove(id types.EntityID) {
	delete(l.entries, id)
}

// Get returns a copy of the stats for id.
func (l *Ledger) Get(id types.EntityID) (types.EntityStats, bool) {
	s, ok := l.entries[id]
	if !ok {
		return types.EntityStats{}, false
	}
	return s.Clone(), true
}

// Len returns the number of entities in the ledger.
func (l *Ledger) Len() int {
	return len(l.entries)
}

// IDs returns every entity in the ledger, sorted.
func (l *Ledger) IDs() []types.EntityID {
	ids := make([]types.EntityID, 0, len(l.entries))
	for id := range l.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot returns a deep copy of the ledger suitable for persistence.
func (l *Ledger) Snapshot() types.LedgerSnapshot {
	out := make(types.LedgerSnapshot, len(l.entries))
	for id, s := range l.entries {
		out[id] = s.Clone()
	}
	return out
}
