package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/model"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/workload"
)

var errNoInput = errors.New("either --file or --simulate is required")

// batchFlags selects the workload batch of optimize and compare.
type batchFlags struct {
	file        string
	simulate    int
	seed        uint64
	datacenters []string
	output      string
}

func (b *batchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&b.file, "file", "f", "", "Workload file (.csv or .json)")
	cmd.Flags().IntVar(&b.simulate, "simulate", 0, "Generate this many synthetic workloads instead of reading a file")
	cmd.Flags().Uint64Var(&b.seed, "seed", 0, "Seed for --simulate (0 picks a random one)")
	cmd.Flags().StringSliceVarP(&b.datacenters, "datacenters", "d", nil, "Restrict placement to these datacenter ids")
	cmd.Flags().StringVarP(&b.output, "output", "o", outputTable, "Output format: table or json")
	cmd.MarkFlagsMutuallyExclusive("file", "simulate")
}

func (b *batchFlags) validate() error {
	return checkOutput(b.output)
}

// load returns the batch described by the flags. Rows of a file that fail
// validation are logged and skipped.
func (b *batchFlags) load(now time.Time) ([]*model.Workload, error) {
	switch {
	case b.file != "":
		return readWorkloadFile(b.file, now)
	case b.simulate > 0:
		return workload.NewSimulator(b.seed).Generate(min(b.simulate, workload.MaxCount), now, workload.DefaultSpan)
	default:
		return nil, errNoInput
	}
}

func readWorkloadFile(path string, now time.Time) ([]*model.Workload, error) {
	format, err := workload.FormatFromFilename(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workload file: %w", err)
	}
	defer f.Close()

	res, err := workload.Parse(f, format, now)
	if res != nil {
		for _, rowErr := range res.Errors {
			klog.InfoS("Skipping invalid workload", "file", path, "row", rowErr.Row, "err", rowErr.Err)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return res.Workloads, nil
}
