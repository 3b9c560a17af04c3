// Package types defines the core data structures for the Dwell presence tracker.
// These types represent recognized entities, their open sessions, the durable
// per-entity statistics and the events emitted when sessions open and close.
package types

import "strings"

// EntityID is the opaque identifier the recognizer attaches to a detection
// (a known person's name). Equality is exact string match.
type EntityID string

// Unrecognized is the default sentinel the recognizer emits for a face that
// matched no catalog entry. It is never tracked.
const Unrecognized EntityID = "unknown"

// String implements fmt.Stringer.
func (id EntityID) String() string {
	return string(id)
}

// IsBlank reports whether the identifier is empty or whitespace only.
func (id EntityID) IsBlank() bool {
	return strings.TrimSpace(string(id)) == ""
}

// IsTrackable reports whether id may ever become a session or ledger key:
// it must be non-blank and must not equal the unrecognized sentinel.
func IsTrackable(id, unrecognized EntityID) bool {
	if id.IsBlank() {
		return false
	}
	if unrecognized == "" {
		unrecognized = Unrecognized
	}
	return id != unrecognized
}
