package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/edrdash/internal/server"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the detection dashboard over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := c.build(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			p := a.Pipeline(nil)
			defer p.Close()

			srv, err := server.New(server.Config{
				Addr:           c.cfg.Server.Addr,
				MaxUploadBytes: c.cfg.Server.MaxUploadBytes,
				ReadTimeout:    c.cfg.Server.ReadTimeout,
				WriteTimeout:   c.cfg.Server.WriteTimeout,
			}, p, a.History, a.Taxonomy,
				server.WithLogger(c.logger),
				server.WithMetrics(a.Metrics),
			)
			if err != nil {
				return err
			}
			return srv.Start(ctx)
		},
	}
	cmd.Flags().String("addr", ":8501", "listen address")
	cmd.Flags().Int64("max-upload-bytes", 32<<20, "largest accepted CSV upload")
	mustBind(c.v.BindPFlag("server.addr", cmd.Flags().Lookup("addr")))
	mustBind(c.v.BindPFlag("server.max_upload_bytes", cmd.Flags().Lookup("max-upload-bytes")))
	return cmd
}
