// Command maestro runs search-context pipelines: the HTTP control surface,
// the worker pool and one-shot context operations.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/FranksOps/maestro/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	v          *viper.Viper
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:           "maestro",
		Short:         "Collect, process and deliver media datasets through plugin pipelines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "config file (YAML)")
	flags.String("data-dir", "", "working directory for context data")
	flags.String("database-driver", "", "sqlite or postgres")
	flags.String("database-dsn", "", "database file or connection string")
	flags.String("log-level", "", "debug, info, warn or error")
	_ = opts.v.BindPFlag("data_dir", flags.Lookup("data-dir"))
	_ = opts.v.BindPFlag("database.driver", flags.Lookup("database-driver"))
	_ = opts.v.BindPFlag("database.dsn", flags.Lookup("database-dsn"))
	_ = opts.v.BindPFlag("log.level", flags.Lookup("log-level"))

	cmd.AddCommand(
		newServeCmd(opts),
		newPluginsCmd(opts),
		newContextCmd(opts),
	)
	return cmd
}

// load reads the configuration and builds the logger.
func (o *rootOptions) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.v, o.configPath)
	if err != nil {
		return nil, nil, err
	}
	logger := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// open loads the configuration and wires the application.
func (o *rootOptions) open(ctx context.Context) (*app, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, logger)
}
