package app

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/optimizer"
)

func newOptimizeCommand(o *options) *cobra.Command {
	var (
		batch     batchFlags
		algorithm string
	)

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Place a batch of workloads with one algorithm and compare it with FCFS",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return batch.validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := o.setup(cmd)
			if err != nil {
				return err
			}
			defer rt.close()

			workloads, err := batch.load(time.Now())
			if err != nil {
				return err
			}

			opt, err := optimizer.NewFromConfig(rt.cfg, rt.provider)
			if err != nil {
				return err
			}
			res, err := opt.Optimize(cmd.Context(), workloads, algorithm, batch.datacenters)
			if err != nil {
				return err
			}

			if batch.output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printResult(cmd.OutOrStdout(), res)
			return nil
		},
	}

	batch.register(cmd)
	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", "",
		"Scheduling algorithm (fcfs, round_robin, random, greedy, windowed); defaults to DEFAULT_ALGORITHM")
	return cmd
}
