// Package history keeps recent detection reports so the dashboard can list
// and re-render earlier runs. Explanations are never stored.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/crimson-sun/edrdash/internal/model"
)

// ErrNotFound means no run with the requested id is stored.
var ErrNotFound = errors.New("history: run not found")

// DefaultMaxRuns bounds how many runs a store keeps.
const DefaultMaxRuns = 100

// Store persists reports by id. Implementations are safe for concurrent use.
type Store interface {
	Save(ctx context.Context, r *model.Report) error
	Get(ctx context.Context, id string) (*model.Report, error)
	// List returns up to limit entries, newest first.
	List(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}

// Entry is the listing view of a stored run.
type Entry struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	Source    model.Source `json:"source"`
	Rows      int          `json:"rows"`
	TopTag    string       `json:"top_tag,omitempty"`
	Fallback  bool         `json:"fallback,omitempty"`
}

// EntryOf summarizes a report for listings.
func EntryOf(r *model.Report) Entry {
	e := Entry{
		ID:        r.ID,
		CreatedAt: r.CreatedAt,
		Source:    r.Source,
		Rows:      r.Summary.Rows,
		Fallback:  r.Fallback != nil,
	}
	if len(r.Summary.TagCounts) > 0 {
		e.TopTag = r.Summary.TagCounts[0].Tag
	}
	return e
}

// stripped returns a shallow copy without the per-run explanation.
func stripped(r *model.Report) *model.Report {
	c := *r
	c.Explanation = nil
	return &c
}
