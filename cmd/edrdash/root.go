package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/crimson-sun/edrdash/internal/app"
	"github.com/crimson-sun/edrdash/internal/config"
	"github.com/crimson-sun/edrdash/internal/logging"
)

// cli carries state shared by the subcommands.
type cli struct {
	cfgFile string
	v       *viper.Viper
	cfg     config.Config
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.New()}

	root := &cobra.Command{
		Use:   "edrdash",
		Short: "Network event detection with MITRE ATT&CK mapping and SHAP explanations",
		Long: `edrdash runs a trained classifier over network event records, maps each
prediction to a MITRE ATT&CK technique and ranks the features that drove
the predictions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (YAML)")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("model", "", "model artifact path (overrides model.path)")
	mustBind(c.v.BindPFlag("log.level", flags.Lookup("log-level")))
	mustBind(c.v.BindPFlag("model.path", flags.Lookup("model")))

	root.AddCommand(
		newDetectCmd(c),
		newServeCmd(c),
		newLabelsCmd(c),
		newVersionCmd(),
	)
	return root
}

func (c *cli) init() error {
	cfg, err := config.Read(c.v, c.cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.logger = logger
	if c.cfgFile != "" {
		logger.Debug("using config file", zap.String("path", c.cfgFile))
	}
	return nil
}

func (c *cli) build(ctx context.Context) (*app.App, error) {
	return app.Build(ctx, c.cfg, c.logger)
}

// mustBind panics on a flag binding error, which only a misspelled flag name
// can cause.
func mustBind(err error) {
	if err != nil {
		panic(err)
	}
}
