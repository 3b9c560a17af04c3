package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Session is one continuous presence interval for an entity.
// A Session exists only while it is open; closing it folds its duration into
// the entity's EntityStats and discards the Session.
type Session struct {
	// ID correlates the arrival and departure events of one visit.
	ID string `json:"id"`

	// Entity is the tracked entity.
	Entity EntityID `json:"entity"`

	// StartedAt is the tick time of the arrival.
	StartedAt time.Time `json:"started_at"`
}

// EntityStats is the durable aggregate for one entity.
//
// The JSON field names are the persisted ledger format: visits, total_time,
// last_seen and session_start. Absent timestamps are omitted.
type EntityStats struct {
	// VisitCount increments once per session creation, never on continuation.
	VisitCount int `json:"visits"`

	// TotalDwellSeconds is the sum of all closed session durations.
	TotalDwellSeconds float64 `json:"total_time"`

	// LastSeenAt is the tick time of the most recent positive detection.
	LastSeenAt *time.Time `json:"last_seen,omitempty"`

	// CurrentSessionStartedAt mirrors the open session's start time.
	// Values loaded from storage are informational only.
	CurrentSessionStartedAt *time.Time `json:"session_start,omitempty"`
}

// ledgerTimeLayouts are the timestamp layouts accepted when loading a ledger.
// Timestamps without a zone are read as UTC.
var ledgerTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON accepts RFC 3339 and zone-less ISO 8601 timestamps, treats
// null or empty timestamps as absent and ignores unknown fields.
func (s *EntityStats) UnmarshalJSON(data []byte) error {
	var raw struct {
		VisitCount        int     `json:"visits"`
		TotalDwellSeconds float64 `json:"total_time"`
		LastSeen          *string `json:"last_seen"`
		SessionStart      *string `json:"session_start"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	lastSeen, err := parseLedgerTime(raw.LastSeen)
	if err != nil {
		return fmt.Errorf("last_seen: %w", err)
	}
	sessionStart, err := parseLedgerTime(raw.SessionStart)
	if err != nil {
		return fmt.Errorf("session_start: %w", err)
	}

	*s = EntityStats{
		VisitCount:              raw.VisitCount,
		TotalDwellSeconds:       raw.TotalDwellSeconds,
		LastSeenAt:              lastSeen,
		CurrentSessionStartedAt: sessionStart,
	}
	return nil
}

func parseLedgerTime(v *string) (*time.Time, error) {
	if v == nil || *v == "" {
		return nil, nil
	}
	for _, layout := range ledgerTimeLayouts {
		if t, err := time.Parse(layout, *v); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", *v)
}

// TotalDwell returns TotalDwellSeconds as a time.Duration.
func (s EntityStats) TotalDwell() time.Duration {
	return time.Duration(s.TotalDwellSeconds * float64(time.Second))
}

// Clone returns a deep copy; the timestamp pointers are not shared.
func (s EntityStats) Clone() EntityStats {
	out := s
	out.LastSeenAt = cloneTime(s.LastSeenAt)
	out.CurrentSessionStartedAt = cloneTime(s.CurrentSessionStartedAt)
	return out
}

// Validate checks the numeric invariants of a stored record.
func (s EntityStats) Validate() error {
	if s.VisitCount < 0 {
		return fmt.Errorf("visits must be >= 0, got %d", s.VisitCount)
	}
	if s.TotalDwellSeconds < 0 || math.IsNaN(s.TotalDwellSeconds) || math.IsInf(s.TotalDwellSeconds, 0) {
		return fmt.Errorf("total_time must be a finite value >= 0, got %v", s.TotalDwellSeconds)
	}
	return nil
}

// Equal compares two records field by field; timestamps compare with time.Equal.
func (s EntityStats) Equal(o EntityStats) bool {
	return s.VisitCount == o.VisitCount &&
		s.TotalDwellSeconds == o.TotalDwellSeconds &&
		timePtrEqual(s.LastSeenAt, o.LastSeenAt) &&
		timePtrEqual(s.CurrentSessionStartedAt, o.CurrentSessionStartedAt)
}

// LedgerSnapshot is the persistable view of the statistics ledger.
type LedgerSnapshot map[EntityID]EntityStats

// ErrInvalidLedger is returned by LedgerSnapshot.Validate.
var ErrInvalidLedger = errors.New("invalid ledger")

// Clone returns a deep copy of the snapshot.
func (l LedgerSnapshot) Clone() LedgerSnapshot {
	out := make(LedgerSnapshot, len(l))
	for id, stats := range l {
		out[id] = stats.Clone()
	}
	return out
}

// IDs returns the snapshot keys in sorted order.
func (l LedgerSnapshot) IDs() []EntityID {
	ids := make([]EntityID, 0, len(l))
	for id := range l {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Validate rejects blank keys and records that break the numeric invariants.
func (l LedgerSnapshot) Validate() error {
	for id, stats := range l {
		if id.IsBlank() {
			return fmt.Errorf("%w: blank entity id", ErrInvalidLedger)
		}
		if err := stats.Validate(); err != nil {
			return fmt.Errorf("%w: entity %q: %v", ErrInvalidLedger, id, err)
		}
	}
	return nil
}

// Equal reports whether both snapshots hold the same entities with equal stats.
func (l LedgerSnapshot) Equal(o LedgerSnapshot) bool {
	if len(l) != len(o) {
		return false
	}
	for id, stats := range l {
		other, ok := o[id]
		if !ok || !stats.Equal(other) {
			return false
		}
	}
	return true
}

// ArrivalEvent is emitted when a session opens.
type ArrivalEvent struct {
	Entity    EntityID  `json:"entity"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`
	// Visit is the entity's visit count including this arrival.
	Visit int `json:"visit"`
}

// DepartureEvent is emitted when a session closes.
type DepartureEvent struct {
	Entity            EntityID  `json:"entity"`
	SessionID         string    `json:"session_id"`
	StartedAt         time.Time `json:"started_at"`
	LastSeenAt        time.Time `json:"last_seen_at"`
	DepartedAt        time.Time `json:"departed_at"`
	DurationSeconds   float64   `json:"duration_seconds"`
	TotalSecondsAfter float64   `json:"total_seconds_after"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
