package output

import (
	"context"
	"fmt"

	"github.com/crimson-sun/edrdash/internal/model"
)

// Output defines the interface for detection report destinations.
type Output interface {
	Write(ctx context.Context, r *model.Report) error
	Close() error
}

// Verbosity controls how much of a report structured outputs carry.
type Verbosity string

const (
	// Summary keeps the aggregates and previews but drops per-row detections
	// and the raw input sample.
	Summary Verbosity = "summary"
	// Full keeps every field.
	Full Verbosity = "full"
)

// ParseVerbosity maps a config string to a Verbosity. Empty means Full.
func ParseVerbosity(s string) (Verbosity, error) {
	switch Verbosity(s) {
	case "", Full:
		return Full, nil
	case Summary:
		return Summary, nil
	default:
		return "", fmt.Errorf("output: unknown verbosity %q", s)
	}
}

// FormatReport returns a copy of the report with fields stripped according
// to verbosity. The input report is not modified.
func FormatReport(r *model.Report, v Verbosity) *model.Report {
	out := *r
	if v == Summary {
		out.Detections = nil
		out.Sample = nil
	}
	return &out
}
