package taxonomy

import (
	"errors"
	"fmt"
	"sort"
)

// Severity ranks how urgent a tag is for an analyst.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Entry maps one class id to its MITRE-style description.
type Entry struct {
	ID           int      `yaml:"id" json:"id"`
	Category     string   `yaml:"category" json:"category"`
	Technique    string   `yaml:"technique,omitempty" json:"technique,omitempty"`
	Severity     Severity `yaml:"severity" json:"severity"`
	Normal       bool     `yaml:"normal,omitempty" json:"normal,omitempty"`
	Unclassified bool     `yaml:"unclassified,omitempty" json:"unclassified,omitempty"`
}

// Tag renders the entry as "Category → Technique".
func (e Entry) Tag() string {
	if e.Technique == "" {
		return e.Category
	}
	return e.Category + " → " + e.Technique
}

// Taxonomy is an immutable class id -> tag lookup.
type Taxonomy struct {
	entries map[int]Entry
	ids     []int
	normal  int
}

// New builds a Taxonomy from entries. Exactly one entry must be marked
// normal, ids must be unique and every entry needs a category.
func New(entries []Entry) (*Taxonomy, error) {
	if len(entries) == 0 {
		return nil, errors.New("taxonomy: no entries")
	}
	t := &Taxonomy{entries: make(map[int]Entry, len(entries))}
	normals := 0
	for _, e := range entries {
		if e.Category == "" {
			return nil, fmt.Errorf("taxonomy: class %d has no category", e.ID)
		}
		if _, dup := t.entries[e.ID]; dup {
			return nil, fmt.Errorf("taxonomy: duplicate class %d", e.ID)
		}
		if e.Normal {
			normals++
			t.normal = e.ID
		}
		if e.Severity == "" {
			e.Severity = SeverityMedium
		}
		t.entries[e.ID] = e
		t.ids = append(t.ids, e.ID)
	}
	if normals != 1 {
		return nil, fmt.Errorf("taxonomy: want exactly one normal class, got %d", normals)
	}
	sort.Ints(t.ids)
	return t, nil
}

// Default returns the built-in taxonomy.
func Default() *Taxonomy {
	t, err := New(DefaultEntries())
	if err != nil {
		panic(err)
	}
	return t
}

// Tag returns the tag for a class id. It is total: ids without an entry
// resolve to Unclassified.
func (t *Taxonomy) Tag(id int) string {
	e, ok := t.entries[id]
	if !ok {
		return Unclassified
	}
	return e.Tag()
}

// NormalTag returns the tag of the normal class.
func (t *Taxonomy) NormalTag() string {
	return t.entries[t.normal].Tag()
}

// Lookup returns the entry for a class id.
func (t *Taxonomy) Lookup(id int) (Entry, bool) {
	e, ok := t.entries[id]
	return e, ok
}

// Severity returns the severity for a class id, warning when unmapped.
func (t *Taxonomy) Severity(id int) Severity {
	if e, ok := t.entries[id]; ok {
		return e.Severity
	}
	return SeverityWarning
}

// IsThreat reports whether a class id denotes attack activity.
func (t *Taxonomy) IsThreat(id int) bool {
	e, ok := t.entries[id]
	return ok && !e.Normal && !e.Unclassified
}

// Entries returns all entries ordered by class id.
func (t *Taxonomy) Entries() []Entry {
	out := make([]Entry, len(t.ids))
	for i, id := range t.ids {
		out[i] = t.entries[id]
	}
	return out
}
