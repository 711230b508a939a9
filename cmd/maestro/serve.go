package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/FranksOps/maestro/internal/api"
	"github.com/FranksOps/maestro/internal/metrics"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var listen string
	var metricsPort int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the pipeline workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if cmd.Flags().Changed("listen") {
				a.cfg.Server.Listen = listen
			}
			if cmd.Flags().Changed("metrics-port") {
				a.cfg.Server.MetricsPort = metricsPort
			}

			a.start(ctx)
			if a.cfg.Server.MetricsPort > 0 {
				ms := metrics.Start(a.cfg.Server.MetricsPort, a.logger)
				defer func() {
					if err := ms.Stop(context.Background()); err != nil {
						a.logger.Warn("stop metrics server", "err", err)
					}
				}()
			}

			srv := api.NewServer(a.svc, a.registry, a.logger)
			return srv.Start(ctx, a.cfg.Server.Listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "API listen address")
	cmd.Flags().IntVar(&metricsPort, "metrics-port", 0, "separate Prometheus port, 0 disables")
	return cmd
}
