package app

import (
	"bytes"
	"context"
	"encoding/json"
	goflag "flag"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/algorithms"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/config"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/workload"
)

const batchCSV = `cpu,memory,duration,priority
4,8,2,5
2,4,1,7
8,16,3,3
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.ConfigPathEnv, "")
	t.Setenv("CARBON_HISTORY_PATH", "")
	t.Setenv("DEFAULT_ALGORITHM", "greedy")

	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type optimizeOutput struct {
	Schedule struct {
		Algorithm   string `json:"algorithm_used"`
		Assignments []struct {
			WorkloadID   string `json:"workload_id"`
			DatacenterID string `json:"datacenter_id"`
		} `json:"assignments"`
	} `json:"schedule"`
	Metrics struct {
		Carbon struct {
			TotalCarbonOptimized float64 `json:"total_carbon_optimized"`
			TotalCarbonBaseline  float64 `json:"total_carbon_baseline"`
		} `json:"carbon"`
	} `json:"metrics"`
	DatacentersUsed []string `json:"datacenters_used"`
}

func TestOptimizeJSON(t *testing.T) {
	file := writeFile(t, "batch.csv", batchCSV)

	out, err := execute(t, "optimize", "--offline", "-f", file, "-o", "json")
	require.NoError(t, err)

	var res optimizeOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "greedy", res.Schedule.Algorithm)
	require.Len(t, res.Schedule.Assignments, 3)
	for _, a := range res.Schedule.Assignments {
		assert.Equal(t, "UK-Scotland", a.DatacenterID)
	}
	assert.Len(t, res.DatacentersUsed, len(config.DefaultDatacenters()))
	assert.Less(t, res.Metrics.Carbon.TotalCarbonOptimized, res.Metrics.Carbon.TotalCarbonBaseline)
}

func TestOptimizeRestrictedDatacenters(t *testing.T) {
	file := writeFile(t, "batch.csv", batchCSV)

	out, err := execute(t, "optimize", "--offline", "-f", file, "-o", "json", "-d", "UK-South,UK-Wales")
	require.NoError(t, err)

	var res optimizeOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.ElementsMatch(t, []string{"UK-South", "UK-Wales"}, res.DatacentersUsed)
	for _, a := range res.Schedule.Assignments {
		assert.Equal(t, "UK-Wales", a.DatacenterID)
	}
}

func TestOptimizeTable(t *testing.T) {
	out, err := execute(t, "optimize", "--offline", "--simulate", "5", "--seed", "11", "-a", "round_robin")
	require.NoError(t, err)

	assert.Contains(t, out, "WORKLOAD")
	assert.Contains(t, out, "DATACENTER")
	assert.Contains(t, out, "round_robin")
	assert.Contains(t, out, "Carbon saved (g)")
}

func TestOptimizeErrors(t *testing.T) {
	file := writeFile(t, "batch.csv", batchCSV)
	bad := writeFile(t, "batch.xml", batchCSV)
	empty := writeFile(t, "empty.csv", "cpu,memory,duration\n-1,2,3\n")

	tests := []struct {
		name    string
		args    []string
		wantErr error
		wantMsg string
	}{
		{
			name:    "no input",
			args:    []string{"optimize", "--offline"},
			wantErr: errNoInput,
		},
		{
			name:    "unknown algorithm",
			args:    []string{"optimize", "--offline", "-f", file, "-a", "fastest"},
			wantErr: algorithms.ErrUnknownAlgorithm,
		},
		{
			name:    "unsupported file",
			args:    []string{"optimize", "--offline", "-f", bad},
			wantErr: workload.ErrUnsupportedFormat,
		},
		{
			name:    "no valid rows",
			args:    []string{"optimize", "--offline", "-f", empty},
			wantErr: workload.ErrNoValidWorkloads,
		},
		{
			name:    "bad output format",
			args:    []string{"optimize", "--offline", "-f", file, "-o", "yaml"},
			wantMsg: "invalid output format",
		},
		{
			name:    "file and simulate together",
			args:    []string{"optimize", "--offline", "-f", file, "--simulate", "3"},
			wantMsg: "none of the others can be",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestCompare(t *testing.T) {
	file := writeFile(t, "batch.json", `{"workloads": [
		{"cpu": 4, "memory": 8, "duration": 2},
		{"cpu": 2, "memory": 4, "duration": 1, "priority": 9}
	]}`)

	t.Run("json", func(t *testing.T) {
		out, err := execute(t, "compare", "--offline", "-f", file, "-a", "fcfs,greedy", "-o", "json")
		require.NoError(t, err)

		var res struct {
			Results map[string]struct {
				TotalCarbon float64 `json:"total_carbon"`
			} `json:"results"`
			Order []string `json:"algorithms"`
			Best  string   `json:"best_algorithm"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.Equal(t, []string{"fcfs", "greedy"}, res.Order)
		assert.Equal(t, "greedy", res.Best)
		assert.Less(t, res.Results["greedy"].TotalCarbon, res.Results["fcfs"].TotalCarbon)
	})

	t.Run("table", func(t *testing.T) {
		out, err := execute(t, "compare", "--offline", "-f", file, "-a", "fcfs,greedy")
		require.NoError(t, err)

		var bestLine string
		for _, line := range strings.Split(out, "\n") {
			if strings.Contains(line, "best") {
				bestLine = line
			}
		}
		assert.True(t, strings.HasPrefix(strings.TrimSpace(bestLine), "greedy"), "best row: %q", bestLine)
		assert.Contains(t, out, "fcfs")
	})
}

func TestSimulate(t *testing.T) {
	t.Run("csv to stdout", func(t *testing.T) {
		out, err := execute(t, "simulate", "-n", "25", "--seed", "5")
		require.NoError(t, err)

		res, err := workload.Parse(strings.NewReader(out), workload.FormatCSV, time.Now())
		require.NoError(t, err)
		assert.Empty(t, res.Errors)
		assert.Len(t, res.Workloads, 25)
	})

	t.Run("json file from extension", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "burst.json")
		_, err := execute(t, "simulate", "-n", "10", "-m", "burst", "--seed", "5", "-o", path)
		require.NoError(t, err)

		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()

		res, err := workload.Parse(f, workload.FormatJSON, time.Now())
		require.NoError(t, err)
		require.Len(t, res.Workloads, 10)

		first, last := res.Workloads[0].ArrivalTime(), res.Workloads[0].ArrivalTime()
		for _, w := range res.Workloads {
			if w.ArrivalTime().Before(first) {
				first = w.ArrivalTime()
			}
			if w.ArrivalTime().After(last) {
				last = w.ArrivalTime()
			}
		}
		assert.LessOrEqual(t, last.Sub(first), workload.DefaultBurstWindow)
	})

	t.Run("simulated batch feeds optimize", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "batch.csv")
		_, err := execute(t, "simulate", "-n", "8", "--seed", "9", "-o", path)
		require.NoError(t, err)

		out, err := execute(t, "optimize", "--offline", "-f", path, "-o", "json")
		require.NoError(t, err)

		var res optimizeOutput
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		assert.Len(t, res.Schedule.Assignments, 8)
	})

	tests := []struct {
		name string
		args []string
	}{
		{name: "zero count", args: []string{"simulate", "-n", "0"}},
		{name: "count over limit", args: []string{"simulate", "-n", "5000"}},
		{name: "unknown mode", args: []string{"simulate", "-m", "spiky"}},
		{name: "unknown format", args: []string{"simulate", "--format", "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestSetupWithHistory(t *testing.T) {
	t.Setenv(config.ConfigPathEnv, "")
	t.Setenv("CARBON_HISTORY_BACKEND", "file")
	t.Setenv("CARBON_HISTORY_PATH", t.TempDir())

	cmd, o := newTestCommand(t)

	rt, err := o.setup(cmd)
	require.NoError(t, err)
	defer rt.close()

	assert.NotNil(t, rt.history)
	assert.Nil(t, rt.client)
	snapshot := rt.provider.CurrentIntensity(context.Background())
	assert.Len(t, snapshot, len(config.DefaultDatacenters()))
	for _, v := range snapshot {
		assert.True(t, v.Estimated)
	}
}

func TestSetupRejectsUnknownHistoryBackend(t *testing.T) {
	t.Setenv(config.ConfigPathEnv, "")
	t.Setenv("CARBON_HISTORY_BACKEND", "redis")
	t.Setenv("CARBON_HISTORY_PATH", t.TempDir())

	cmd, o := newTestCommand(t)

	_, err := o.setup(cmd)
	assert.Error(t, err)
}

// newTestCommand returns an offline options set bound to a bare command.
func newTestCommand(t *testing.T) (*cobra.Command, *options) {
	t.Helper()
	o := &options{offline: true, klogFlags: goflag.NewFlagSet("klog", goflag.ContinueOnError)}
	klog.InitFlags(o.klogFlags)

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().AddGoFlagSet(o.klogFlags)
	return cmd, o
}
