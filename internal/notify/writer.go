// Package notify hands detection ticks from a recognizer process to the
// tracker daemon through files in a shared directory.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/natefinch/atomic"

	"github.com/scrypster/dwell/internal/feed"
)

const (
	detectionsDir = "detections"
	fileSuffix    = ".detection"
)

// DetectionWriter writes detection files to {dataPath}/detections/.
type DetectionWriter struct {
	dir   string
	clock quartz.Clock
}

// NewDetectionWriter creates a writer for {dataPath}/detections/.
func NewDetectionWriter(dataPath string, clock quartz.Clock) *DetectionWriter {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &DetectionWriter{dir: filepath.Join(dataPath, detectionsDir), clock: clock}
}

// Dir returns the directory detection files are written to.
func (w *DetectionWriter) Dir() string {
	return w.dir
}

// Write emits one tick. A tick without a time is stamped with the writer
// clock. File names sort in write order. Safe to call concurrently.
func (w *DetectionWriter) Write(t feed.Tick) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	if t.At.IsZero() {
		t.At = w.clock.Now()
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("notify: encode tick: %w", err)
	}

	// The file appears under its final name only once complete.
	name := fmt.Sprintf("%020d-%s%s", t.At.UnixNano(), uuid.NewString(), fileSuffix)
	if err := atomic.WriteFile(filepath.Join(w.dir, name), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("notify: write %s: %w", name, err)
	}
	return nil
}
