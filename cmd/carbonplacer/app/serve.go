package app

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/forecast"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/optimizer"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/server"
)

const historyCleanupInterval = 24 * time.Hour

func newServeCommand(o *options) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the placement HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := o.setup(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if cmd.Flags().Changed("port") {
				rt.cfg.Server.Port = port
			}

			var (
				optOpts []optimizer.Option
				srvOpts []server.Option
			)
			if rt.cfg.Server.MetricsEnabled {
				registry := prometheus.NewRegistry()
				registry.MustRegister(
					collectors.NewGoCollector(),
					collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
				)
				optOpts = append(optOpts, optimizer.WithMetrics(optimizer.NewMetrics(registry)))
				srvOpts = append(srvOpts, server.WithGatherer(registry))
			}

			opt, err := optimizer.NewFromConfig(rt.cfg, rt.provider, optOpts...)
			if err != nil {
				return err
			}

			if rt.history != nil {
				retention := 2 * time.Duration(rt.cfg.Carbon.HistoryLookback) * 24 * time.Hour
				go pruneHistory(ctx, rt.history, retention)
			}

			klog.InfoS("Serving carbon placement API",
				"port", rt.cfg.Server.Port,
				"datacenters", len(opt.Datacenters()),
				"defaultAlgorithm", opt.DefaultAlgorithm(),
				"offline", o.offline,
				"metrics", rt.cfg.Server.MetricsEnabled)

			return server.New(opt, rt.provider, srvOpts...).ListenAndServe(ctx, rt.cfg.Server)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides SERVER_PORT)")
	return cmd
}

// pruneHistory drops records older than retention once a day until ctx ends.
func pruneHistory(ctx context.Context, store forecast.HistoryStore, retention time.Duration) {
	ticker := time.NewTicker(historyCleanupInterval)
	defer ticker.Stop()

	for {
		removed, err := store.Cleanup(time.Now().Add(-retention))
		if err != nil {
			klog.ErrorS(err, "Failed to prune carbon history")
		} else if removed > 0 {
			klog.V(2).InfoS("Pruned carbon history", "records", removed)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
