package app

import (
	"context"
	"errors"
	goflag "flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/api"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/carbon"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/config"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/forecast"
)

// options holds the flags shared by every subcommand.
type options struct {
	configPath string
	offline    bool

	klogFlags *goflag.FlagSet
}

// NewCommand builds the carbonplacer root command.
func NewCommand() *cobra.Command {
	o := &options{klogFlags: goflag.NewFlagSet("klog", goflag.ContinueOnError)}
	klog.InitFlags(o.klogFlags)

	cmd := &cobra.Command{
		Use:           "carbonplacer",
		Short:         "Carbon-aware placement of compute workloads across datacenters",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if o.configPath != "" {
				return os.Setenv(config.ConfigPathEnv, o.configPath)
			}
			return nil
		},
	}

	cmd.PersistentFlags().AddGoFlagSet(o.klogFlags)
	cmd.PersistentFlags().StringVarP(&o.configPath, "config", "c", "",
		fmt.Sprintf("Path to a YAML config file (or set %s)", config.ConfigPathEnv))
	cmd.PersistentFlags().BoolVar(&o.offline, "offline", false,
		"Use static carbon data instead of the live intensity API")

	cmd.AddCommand(
		newServeCommand(o),
		newOptimizeCommand(o),
		newCompareCommand(o),
		newSimulateCommand(),
	)
	return cmd
}

// runtime is the set of long-lived components built from configuration.
type runtime struct {
	cfg      *config.Config
	provider *carbon.APIProvider
	client   *api.Client
	history  forecast.HistoryStore
}

// setup loads configuration and builds the carbon provider stack.
func (o *options) setup(cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	o.applyLogLevel(cmd, cfg.Observability.LogLevel)

	rt := &runtime{cfg: cfg}

	var source carbon.Source = offlineSource{}
	if !o.offline {
		rt.client = api.NewClient(cfg.API)
		source = rt.client
	}

	var popts []carbon.Option
	if cfg.Carbon.HistoryPath != "" {
		store, err := forecast.Open(cfg.Carbon.HistoryBackend, cfg.Carbon.HistoryPath)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("failed to open carbon history: %w", err)
		}
		rt.history = store
		popts = append(popts, carbon.WithHistory(store))
		klog.InfoS("Recording carbon history", "backend", cfg.Carbon.HistoryBackend, "path", cfg.Carbon.HistoryPath)
	}

	rt.provider = carbon.New(cfg, source, popts...)
	return rt, nil
}

func (rt *runtime) close() {
	if rt.provider != nil {
		rt.provider.Close()
	}
	if rt.client != nil {
		rt.client.Close()
	}
	if rt.history != nil {
		if err := rt.history.Close(); err != nil {
			klog.ErrorS(err, "Failed to close carbon history")
		}
	}
}

// applyLogLevel maps the configured level onto klog verbosity unless -v was
// given explicitly.
func (o *options) applyLogLevel(cmd *cobra.Command, level string) {
	if f := cmd.Flag("v"); f != nil && f.Changed {
		return
	}
	v := "0"
	switch strings.ToLower(level) {
	case "debug":
		v = "4"
	case "trace":
		v = "6"
	}
	if err := o.klogFlags.Set("v", v); err != nil {
		klog.ErrorS(err, "Failed to set log verbosity", "level", level)
	}
}

// offlineSource always fails, so the provider serves its fallback data.
type offlineSource struct{}

var errOffline = errors.New("carbon intensity API disabled")

func (offlineSource) GetRegional(ctx context.Context) ([]api.Region, error) {
	return nil, errOffline
}

func (offlineSource) GetNationalForecast(ctx context.Context, from, to time.Time) ([]api.IntensityPeriod, error) {
	return nil, errOffline
}
