// Package cli is the featureflow command line.
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"featureflow/config"
	"featureflow/errs"
	"featureflow/internal/app"
	"featureflow/logger"
	"featureflow/models"
)

// Options holds the global flags.
type Options struct {
	ConfigPath string
	LogLevel   string
}

type runtime struct {
	opts      Options
	container *app.Container
}

// Execute runs the command line with args and releases every resource the
// command acquired, including on failure.
func Execute(ctx context.Context, args []string) error {
	root, rt := newRootCmd()
	root.SetArgs(args)
	defer rt.close(ctx)
	return root.ExecuteContext(ctx)
}

func newRootCmd() (*cobra.Command, *runtime) {
	rt := &runtime{}

	root := &cobra.Command{
		Use:   "featureflow",
		Short: "External features for retail demand forecasting",
		Long: "featureflow fetches public holidays and central-bank interest rates, merges them\n" +
			"into per-day feature rows and exports immutable training and test snapshots.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return rt.init(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&rt.opts.ConfigPath, "config", config.DefaultConfigPath, "Path to configuration file")
	root.PersistentFlags().StringVar(&rt.opts.LogLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	root.AddCommand(newFeaturesCommand(rt))
	root.AddCommand(newNamesCommand(rt))
	root.AddCommand(newExportCommand(rt))
	root.AddCommand(newSnapshotsCommand(rt))
	root.AddCommand(newCombineCommand(rt))
	root.AddCommand(newCacheCommand(rt))
	root.AddCommand(newHolidaysCommand(rt))
	return root, rt
}

func (rt *runtime) init(ctx context.Context) error {
	if rt.container != nil {
		return nil
	}

	cfg, err := config.LoadConfig(rt.opts.ConfigPath)
	if err != nil {
		return err
	}

	log := logger.GetLogger()
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		return err
	}
	if rt.opts.LogLevel != "" {
		lvl, err := logrus.ParseLevel(strings.ToLower(rt.opts.LogLevel))
		if err != nil {
			return fmt.Errorf("invalid --log-level '%s'", rt.opts.LogLevel)
		}
		log.SetLevel(lvl)
	}

	container, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	rt.container = container
	return nil
}

func (rt *runtime) close(ctx context.Context) {
	if rt.container != nil {
		rt.container.Close(ctx)
		rt.container = nil
	}
}

func parseDateFlag(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: --%s is required", errs.ErrInvalidInput, flag)
	}
	d, err := models.ParseDate(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: --%s: %v", errs.ErrInvalidInput, flag, err)
	}
	return d, nil
}
