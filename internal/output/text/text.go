// Package text renders a detection report for humans: the sample preview,
// detection results, MITRE summary and top features, as aligned tables.
package text

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/crimson-sun/edrdash/internal/engine/taxonomy"
	"github.com/crimson-sun/edrdash/internal/model"
)

// Option configures a text Output.
type Option func(*Output)

// WithColor forces ANSI colors on or off. Default: on when the terminal
// supports it.
func WithColor(on bool) Option {
	return func(o *Output) { o.color = &on }
}

// WithTaxonomy sets the mapping used to color tags by severity.
func WithTaxonomy(t *taxonomy.Taxonomy) Option {
	return func(o *Output) { o.taxonomy = t }
}

// Output writes human-readable reports.
type Output struct {
	mu       sync.Mutex
	w        io.Writer
	taxonomy *taxonomy.Taxonomy
	color    *bool

	title, heading, dim       *color.Color
	critical, high, med, safe *color.Color
}

// New creates a text Output writing to w (os.Stdout when nil).
func New(w io.Writer, opts ...Option) *Output {
	if w == nil {
		w = os.Stdout
	}
	o := &Output{
		w:        w,
		taxonomy: taxonomy.Default(),
		title:    color.New(color.FgCyan, color.Bold),
		heading:  color.New(color.Bold),
		dim:      color.New(color.Faint),
		critical: color.New(color.FgRed, color.Bold),
		high:     color.New(color.FgRed),
		med:      color.New(color.FgYellow),
		safe:     color.New(color.FgGreen),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.color != nil {
		for _, c := range []*color.Color{o.title, o.heading, o.dim, o.critical, o.high, o.med, o.safe} {
			if *o.color {
				c.EnableColor()
			} else {
				c.DisableColor()
			}
		}
	}
	return o
}

func (o *Output) Write(_ context.Context, r *model.Report) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var b strings.Builder
	o.title.Fprintf(&b, "EDR threat detection report\n")
	fmt.Fprintf(&b, "run %s  source %s  rows %d  model %s\n", r.ID, r.Source, r.Summary.Rows, r.Model.Path)
	if r.Fallback != nil {
		o.med.Fprintf(&b, "no usable upload (%s), showing the bundled sample dataset\n", r.Fallback.Reason)
	}

	o.section(&b, "Sample network events")
	o.table(&b, r.Columns, r.Sample)

	o.section(&b, "Detection results")
	o.detections(&b, r.Summary)

	o.section(&b, "MITRE ATT&CK mapping")
	if len(r.Summary.TagCounts) == 0 {
		o.dim.Fprintln(&b, "no detections")
	} else {
		tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "COUNT\tSHARE\tTAG")
		for _, tc := range r.Summary.TagCounts {
			share := 100 * float64(tc.Count) / float64(r.Summary.Rows)
			fmt.Fprintf(tw, "%d\t%.1f%%\t%s\n", tc.Count, share, o.tag(tc.Tag))
		}
		tw.Flush()
	}

	o.section(&b, "Top features by mean |SHAP|")
	if len(r.Summary.TopFeatures) == 0 {
		o.dim.Fprintln(&b, "no explanation scores")
	} else {
		tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "RANK\tFEATURE\tMEAN |SHAP|")
		for i, fi := range r.Summary.TopFeatures {
			fmt.Fprintf(tw, "%d\t%s\t%.4f\n", i+1, fi.Feature, fi.MeanAbs)
		}
		tw.Flush()
	}

	if _, err := io.WriteString(o.w, b.String()); err != nil {
		return fmt.Errorf("text output: %w", err)
	}
	return nil
}

func (o *Output) Close() error {
	return nil
}

func (o *Output) section(b *strings.Builder, name string) {
	b.WriteString("\n")
	o.heading.Fprintln(b, name)
}

func (o *Output) table(b *strings.Builder, cols []string, rows [][]string) {
	if len(rows) == 0 {
		o.dim.Fprintln(b, "no rows")
		return
	}
	tw := tabwriter.NewWriter(b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(cols, "\t"))
	for _, row := range rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	tw.Flush()
}

// detections prints the head of the results and, for long runs, the tail.
func (o *Output) detections(b *strings.Builder, s model.Summary) {
	if s.Rows == 0 {
		o.dim.Fprintln(b, "no rows")
		return
	}
	tw := tabwriter.NewWriter(b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tPREDICTION\tMITRE TAG")
	printed := make(map[int]bool, len(s.Head)+len(s.Tail))
	for _, d := range s.Head {
		fmt.Fprintf(tw, "%d\t%d\t%s\n", d.Row, d.Prediction, o.tag(d.Tag))
		printed[d.Row] = true
	}
	if len(s.Tail) > 0 && !printed[s.Tail[0].Row] && s.Tail[0].Row > len(s.Head) {
		fmt.Fprintf(tw, "...\t\t%s\n", o.dim.Sprintf("%d more", s.Tail[0].Row-len(s.Head)))
	}
	for _, d := range s.Tail {
		if printed[d.Row] {
			continue
		}
		fmt.Fprintf(tw, "%d\t%d\t%s\n", d.Row, d.Prediction, o.tag(d.Tag))
	}
	tw.Flush()
}

// tag colors a MITRE tag by the severity of the class it names.
func (o *Output) tag(tag string) string {
	for _, e := range o.taxonomy.Entries() {
		if e.Tag() != tag {
			continue
		}
		switch e.Severity {
		case taxonomy.SeverityCritical:
			return o.critical.Sprint(tag)
		case taxonomy.SeverityHigh:
			return o.high.Sprint(tag)
		case taxonomy.SeverityInfo:
			return o.safe.Sprint(tag)
		default:
			return o.med.Sprint(tag)
		}
	}
	return o.med.Sprint(tag)
}
