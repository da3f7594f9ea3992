package app

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/workload"
)

func newSimulateCommand() *cobra.Command {
	var (
		count  int
		span   time.Duration
		mode   string
		seed   uint64
		format string
		path   string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Generate a synthetic workload file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 || count > workload.MaxCount {
				return fmt.Errorf("--count must be in [1, %d]", workload.MaxCount)
			}

			workloads, err := workload.NewSimulator(seed).Simulate(workload.Mode(mode), count, time.Now(), span)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if path != "" {
				if !cmd.Flags().Changed("format") {
					if f, err := workload.FormatFromFilename(path); err == nil {
						format = string(f)
					}
				}
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", path, err)
				}
				defer f.Close()
				w = f
			}

			if err := workload.Write(w, workload.Format(format), workloads); err != nil {
				return err
			}

			if path != "" {
				klog.InfoS("Wrote simulated workloads", "path", path, "count", len(workloads), "mode", mode)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", workload.DefaultCount, "Number of workloads")
	cmd.Flags().DurationVar(&span, "span", workload.DefaultSpan, "Window over which arrivals are spread")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(workload.ModeNormal), "Arrival pattern: normal or burst")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Random seed (0 picks a random one)")
	cmd.Flags().StringVar(&format, "format", string(workload.FormatCSV), "File format: csv or json")
	cmd.Flags().StringVarP(&path, "output", "o", "", "Write to this file instead of stdout")
	return cmd
}
