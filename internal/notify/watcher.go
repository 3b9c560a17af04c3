package notify

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/scrypster/dwell/internal/feed"
)

// DetectionWatcher watches the detections directory and dispatches each
// tick to a callback. Files are removed once read.
type DetectionWatcher struct {
	dir      string
	callback func(feed.Tick)
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewDetectionWatcher creates a watcher for {dataPath}/detections/.
func NewDetectionWatcher(dataPath string, callback func(feed.Tick)) *DetectionWatcher {
	return &DetectionWatcher{
		dir:      filepath.Join(dataPath, detectionsDir),
		callback: callback,
		done:     make(chan struct{}),
	}
}

// Start begins watching. It drains any existing detection files first, in
// name order, then watches for new ones. Call Stop() to clean up.
func (dw *DetectionWatcher) Start() error {
	if err := os.MkdirAll(dw.dir, 0o700); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(dw.dir); err != nil {
		_ = w.Close()
		return err
	}
	dw.watcher = w

	dw.drainExisting()

	go dw.loop()
	log.Printf("notify: watching %s for detections", dw.dir)
	return nil
}

// Stop shuts down the watcher.
func (dw *DetectionWatcher) Stop() {
	if dw.watcher == nil {
		return
	}
	_ = dw.watcher.Close()
	<-dw.done
}

func (dw *DetectionWatcher) loop() {
	defer close(dw.done)
	for {
		select {
		case evt, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 && strings.HasSuffix(evt.Name, fileSuffix) {
				dw.processFile(evt.Name)
			}
		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("notify: watcher error: %v", err)
		}
	}
}

func (dw *DetectionWatcher) drainExisting() {
	entries, err := os.ReadDir(dw.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), fileSuffix) {
			dw.processFile(filepath.Join(dw.dir, entry.Name()))
		}
	}
}

func (dw *DetectionWatcher) processFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return // already consumed
	}
	if err := os.Remove(path); err != nil {
		return // another watcher claimed it
	}

	var tick feed.Tick
	if err := json.Unmarshal(data, &tick); err != nil {
		log.Printf("notify: invalid detection file %s: %v", filepath.Base(path), err)
		return
	}

	if dw.callback != nil {
		dw.callback(tick)
	}
}
