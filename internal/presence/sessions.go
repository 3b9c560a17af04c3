package presence

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/scrypster/dwell/pkg/types"
)

// SessionStore holds the sessions that are currently open, at most one per
// entity. Like Ledger it relies on the Tracker for serialisation.
type SessionStore struct {
	open map[types.EntityID]*types.Session
}

// NewSessionStore returns an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{open: make(map[types.EntityID]*types.Session)}
}

// Open starts a session for id at now. If a session is already open for id
// the existing one is returned with created=false.
func (s *SessionStore) Open(id types.EntityID, now time.Time) (sess *types.Session, created bool) {
	if existing, ok := s.open[id]; ok {
		return existing, false
	}
	sess = &types.Session{
		ID:        uuid.New().String(),
		Entity:    id,
		StartedAt: now,
	}
	s.open[id] = sess
	return sess, true
}

// Get returns the open session for id.
func (s *SessionStore) Get(id types.EntityID) (*types.Session, bool) {
	sess, ok := s.open[id]
	return sess, ok
}

// Close removes and returns the open session for id.
func (s *SessionStore) Close(id types.EntityID) (*types.Session, bool) {
	sess, ok := s.open[id]
	if !ok {
		return nil, false
	}
	delete(s.open, id)
	return sess, true
}

// Len returns the number of open sessions.
func (s *SessionStore) Len() int {
	return len(s.open)
}

// List returns copies of the open sessions ordered by start time, then entity.
func (s *SessionStore) List() []types.Session {
	out := make([]types.Session, 0, len(s.open))
	for _, sess := range s.open {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].Entity < out[j].Entity
	})
	return out
}

// entities returns the ids with open sessions in sorted order so that sweeps
// emit departures deterministically.
func (s *SessionStore) entities() []types.EntityID {
	ids := make([]types.EntityID, 0, len(s.open))
	for id := range s.open {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
