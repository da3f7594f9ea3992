package workload

import (
	"encoding/json"
	"fmt"
)

var templateRows = []struct {
	CPU      float64 `json:"cpu"`
	Memory   float64 `json:"memory"`
	Duration float64 `json:"duration"`
	Priority int     `json:"priority"`
}{
	{4, 8, 2, 5},
	{2, 4, 1, 7},
	{8, 16, 3, 3},
	{1, 2, 0.5, 9},
	{16, 32, 4, 5},
}

// Template returns a sample workload file in format.
func Template(format Format) ([]byte, error) {
	switch format {
	case FormatCSV:
		out := []byte("cpu,memory,duration,priority\n")
		for _, r := range templateRows {
			out = fmt.Appendf(out, "%g,%g,%g,%d\n", r.CPU, r.Memory, r.Duration, r.Priority)
		}
		return out, nil
	case FormatJSON:
		return json.MarshalIndent(map[string]any{"workloads": templateRows}, "", "  ")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// ContentType is the MIME type of format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/json"
}
