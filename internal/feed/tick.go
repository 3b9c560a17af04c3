// Package feed carries detection ticks from producers to the tracker.
//
// A Tick is the set of entity ids the recognizer reported for one frame.
// Producers push ticks into a Queue; exactly one consumer drains it, so the
// tracker observes ticks strictly ordered by time.
package feed

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/scrypster/dwell/pkg/types"
)

// Tick is one frame's detection set.
type Tick struct {
	// At is the frame time. A zero At is stamped by the Queue on push.
	At time.Time `json:"at,omitempty"`

	// Detected lists the recognized ids, possibly with duplicates and the
	// unrecognized sentinel.
	Detected []types.EntityID `json:"detected"`

	// Sweep marks a tick injected only to expire sessions.
	Sweep bool `json:"-"`
}

// UnmarshalJSON accepts either a tick object or a bare array of ids.
func (t *Tick) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var ids []types.EntityID
		if err := json.Unmarshal(data, &ids); err != nil {
			return err
		}
		*t = Tick{Detected: ids}
		return nil
	}

	type plain Tick
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = Tick(p)
	return nil
}

// maxLineBytes bounds one JSON line.
const maxLineBytes = 1 << 20

// ReadJSONLines decodes one Tick per line from r and calls fn for each.
// Blank lines and lines starting with '#' are skipped. Malformed lines are
// logged and skipped. Returns the first error from r or fn.
func ReadJSONLines(ctx context.Context, r io.Reader, fn func(Tick) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		lineNo++

		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		var tick Tick
		if err := json.Unmarshal(line, &tick); err != nil {
			log.Printf("WARNING: feed: skipping malformed line %d: %v", lineNo, err)
			continue
		}
		if err := fn(tick); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("feed: read line %d: %w", lineNo+1, err)
	}
	return nil
}

// PushAll reads JSON lines from r into q. Out-of-order ticks are logged and
// dropped; any other push error stops the read.
func PushAll(ctx context.Context, q *Queue, r io.Reader) error {
	return ReadJSONLines(ctx, r, func(t Tick) error {
		err := q.Push(ctx, t)
		if errors.Is(err, ErrOutOfOrder) {
			log.Printf("WARNING: feed: %v", err)
			return nil
		}
		return err
	})
}
