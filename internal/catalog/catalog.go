// Package catalog loads the closed set of entities the recognizer can report.
//
// A catalog comes either from an enrolment directory, where every image file
// stem names one entity (pics/alice.jpg enrols "alice"), or from a YAML roster.
// The unrecognized sentinel and blank names are never enrolled. An empty
// catalog is valid; a tracker built on it ignores every detection.
package catalog

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/dwell/pkg/types"
)

// ErrNoCatalog is returned by Load when the path does not exist.
var ErrNoCatalog = errors.New("catalog not found")

// imageExtensions are the enrolment file types accepted in a catalog directory.
var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

// Entry describes one enrolled entity.
type Entry struct {
	ID          types.EntityID `yaml:"id" json:"id"`
	DisplayName string         `yaml:"display_name,omitempty" json:"display_name,omitempty"`
	Source      string         `yaml:"-" json:"source,omitempty"`
}

// roster is the YAML file layout.
type roster struct {
	Entities []Entry `yaml:"entities"`
}

// Catalog is an immutable set of enrolled entities.
type Catalog struct {
	entries map[types.EntityID]Entry
}

// New builds a catalog from the given ids. Blank ids and the unrecognized
// sentinel are dropped.
func New(unrecognized types.EntityID, ids ...types.EntityID) *Catalog {
	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, Entry{ID: id})
	}
	return fromEntries(unrecognized, entries)
}

func fromEntries(unrecognized types.EntityID, entries []Entry) *Catalog {
	c := &Catalog{entries: make(map[types.EntityID]Entry, len(entries))}
	for _, e := range entries {
		e.ID = types.EntityID(strings.TrimSpace(string(e.ID)))
		if !types.IsTrackable(e.ID, unrecognized) {
			log.Printf("catalog: skipping untrackable entry %q", e.ID)
			continue
		}
		if _, dup := c.entries[e.ID]; dup {
			log.Printf("catalog: duplicate entry %q ignored", e.ID)
			continue
		}
		c.entries[e.ID] = e
	}
	return c
}

// Load reads a catalog from a directory of enrolment images or a YAML file.
func Load(path string, unrecognized types.EntityID) (*Catalog, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("catalog: %w: %s", ErrNoCatalog, path)
		}
		return nil, fmt.Errorf("catalog: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return LoadDir(path, unrecognized)
	}
	return LoadFile(path, unrecognized)
}

// LoadDir enrols every image file in dir under its file stem.
// Subdirectories and hidden files are skipped.
func LoadDir(dir string, unrecognized types.EntityID) (*Catalog, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("catalog: read dir %s: %w", dir, err)
	}

	var entries []Entry
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if !imageExtensions[ext] {
			continue
		}
		entries = append(entries, Entry{
			ID:     types.EntityID(strings.TrimSuffix(name, filepath.Ext(name))),
			Source: filepath.Join(dir, name),
		})
	}

	c := fromEntries(unrecognized, entries)
	log.Printf("catalog: enrolled %d entities from %s", c.Len(), dir)
	return c, nil
}

// LoadFile reads a YAML roster:
//
//	entities:
//	  - id: alice
//	    display_name: Alice Souza
func LoadFile(path string, unrecognized types.EntityID) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}

	var r roster
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("catalog: invalid YAML in %s: %w", path, err)
	}
	for i := range r.Entities {
		r.Entities[i].Source = path
	}

	c := fromEntries(unrecognized, r.Entities)
	log.Printf("catalog: enrolled %d entities from %s", c.Len(), path)
	return c, nil
}

// Contains reports whether id is enrolled.
func (c *Catalog) Contains(id types.EntityID) bool {
	if c == nil {
		return false
	}
	_, ok := c.entries[id]
	return ok
}

// Len returns the number of enrolled entities.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Entries returns the enrolled entries sorted by id.
func (c *Catalog) Entries() []Entry {
	if c == nil {
		return nil
	}
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DisplayName returns the roster display name for id, falling back to the id.
func (c *Catalog) DisplayName(id types.EntityID) string {
	if c != nil {
		if e, ok := c.entries[id]; ok && e.DisplayName != "" {
			return e.DisplayName
		}
	}
	return string(id)
}
