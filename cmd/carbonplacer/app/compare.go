package app

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/optimizer"
)

func newCompareCommand(o *options) *cobra.Command {
	var (
		batch batchFlags
		names []string
	)

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Run several algorithms on the same batch and rank them by carbon",
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
			res, err := opt.Compare(cmd.Context(), workloads, names, batch.datacenters)
			if err != nil {
				return err
			}

			if batch.output == outputJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			printComparison(cmd.OutOrStdout(), res)
			return nil
		},
	}

	batch.register(cmd)
	cmd.Flags().StringSliceVarP(&names, "algorithms", "a", nil, "Algorithms to compare (default all)")
	return cmd
}
