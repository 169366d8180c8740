package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/SamuelRCrider/piiscan"
	"github.com/SamuelRCrider/piiscan/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(global *globalOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the classification HTTP API and Prometheus metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := global.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			logger, cleanup, err := global.logger(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			svc, err := piiscan.NewService(ctx, cfg, logger, reg)
			if err != nil {
				return err
			}
			defer svc.Close()

			router := api.NewRouter(api.NewHandlers(svc.Orchestrator, svc.Library, logger), reg)
			logger.Info("starting api server",
				zap.String("addr", cfg.Server.Addr),
				zap.Bool("reviewer", svc.Reviewer != nil),
			)
			return api.Serve(ctx, cfg.Server.Addr, router, logger)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
