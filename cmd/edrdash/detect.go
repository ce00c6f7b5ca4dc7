package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/crimson-sun/edrdash/internal/app"
	"github.com/crimson-sun/edrdash/internal/engine/dataset"
	"github.com/crimson-sun/edrdash/internal/model"
	"github.com/crimson-sun/edrdash/internal/output"
	"github.com/crimson-sun/edrdash/internal/output/async"
	"github.com/crimson-sun/edrdash/internal/output/charts"
	"github.com/crimson-sun/edrdash/internal/output/file"
	"github.com/crimson-sun/edrdash/internal/output/multi"
	"github.com/crimson-sun/edrdash/internal/output/stdout"
	"github.com/crimson-sun/edrdash/internal/output/text"
	"github.com/crimson-sun/edrdash/internal/output/webhook"
)

const fetchTimeout = 60 * time.Second

type detectOptions struct {
	input string
	url   string
}

func newDetectCmd(c *cli) *cobra.Command {
	var o detectOptions
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Classify a CSV of network events and print the report",
		Long: `detect classifies every record of a CSV file, maps predictions to MITRE
ATT&CK techniques and ranks feature importance. Without --input or --url
the bundled sample dataset is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.runDetect(ctx, cmd.OutOrStdout(), cmd.InOrStdin(), o)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&o.input, "input", "i", "", "CSV file to classify, - for stdin")
	flags.StringVar(&o.url, "url", "", "download the CSV from this URL")
	flags.String("format", "text", "report format: text or json")
	flags.Bool("pretty", false, "indent JSON output")
	flags.String("verbosity", "summary", "JSON report detail: summary or full")
	flags.Bool("color", true, "colorize text output when the terminal supports it")
	flags.String("charts", "", "write SVG charts into this directory")
	flags.String("output-file", "", "append JSON reports to this file")
	flags.String("webhook", "", "POST JSON reports to this URL")
	cmd.MarkFlagsMutuallyExclusive("input", "url")

	for flag, key := range map[string]string{
		"format":      "output.format",
		"pretty":      "output.pretty",
		"verbosity":   "output.verbosity",
		"color":       "output.color",
		"charts":      "output.charts_dir",
		"output-file": "output.file",
		"webhook":     "output.webhook_url",
	} {
		mustBind(c.v.BindPFlag(key, flags.Lookup(flag)))
	}
	return cmd
}

func (c *cli) runDetect(ctx context.Context, stdoutW io.Writer, stdin io.Reader, o detectOptions) error {
	a, err := c.build(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := c.outputs(a, stdoutW)
	if err != nil {
		return err
	}
	p := a.Pipeline(out)
	defer func() {
		if err := p.Close(); err != nil {
			c.logger.Warn("failed to close outputs", zap.Error(err))
		}
	}()

	switch {
	case o.url != "":
		t, err := dataset.NewFetcher(fetchTimeout).Fetch(ctx, o.url)
		if err != nil {
			return err
		}
		_, err = p.DetectTable(ctx, t)
		return err
	case o.input != "":
		t, err := loadInput(o.input, stdin)
		if err != nil {
			return err
		}
		_, err = p.DetectTable(ctx, t)
		return err
	default:
		_, err = p.Detect(ctx, nil)
		return err
	}
}

// loadInput parses an explicitly named CSV. Unlike uploads it never falls
// back to the sample: a bad file is an error.
func loadInput(path string, stdin io.Reader) (*model.Table, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	t, err := dataset.Load(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.Source = model.SourceFile
	return t, nil
}

// outputs assembles the report destinations from configuration.
func (c *cli) outputs(a *app.App, w io.Writer) (output.Output, error) {
	cfg := c.cfg.Output
	verbosity, err := output.ParseVerbosity(cfg.Verbosity)
	if err != nil {
		return nil, err
	}

	var outs []output.Output
	switch cfg.Format {
	case "json":
		outs = append(outs, stdout.New(w, verbosity, cfg.Pretty))
	default:
		opts := []text.Option{text.WithTaxonomy(a.Taxonomy)}
		if !cfg.Color {
			opts = append(opts, text.WithColor(false))
		}
		outs = append(outs, text.New(w, opts...))
	}
	if cfg.File != "" {
		opts := []file.Option{file.WithLogger(c.logger)}
		if cfg.FileMaxBytes > 0 {
			opts = append(opts, file.WithMaxSize(cfg.FileMaxBytes))
		}
		f, err := file.New(cfg.File, verbosity, opts...)
		if err != nil {
			return nil, err
		}
		outs = append(outs, f)
	}
	if cfg.ChartsDir != "" {
		ch, err := charts.New(cfg.ChartsDir, c.logger, charts.WithTaxonomy(a.Taxonomy))
		if err != nil {
			return nil, err
		}
		outs = append(outs, ch)
	}
	if cfg.WebhookURL != "" {
		wh := webhook.New(cfg.WebhookURL, webhook.WithVerbosity(verbosity))
		outs = append(outs, async.New(wh, async.WithLogger(c.logger)))
	}
	if len(outs) == 1 {
		return outs[0], nil
	}
	return multi.New(outs...), nil
}
