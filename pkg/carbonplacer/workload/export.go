package workload

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/model"
)

var exportColumns = []string{"id", "cpu", "memory", "duration", "priority", "arrival_time", "deadline"}

// Write encodes workloads in format in the layout Parse reads back.
func Write(w io.Writer, format Format, workloads []*model.Workload) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, workloads)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{"workloads": workloads})
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

func writeCSV(w io.Writer, workloads []*model.Workload) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportColumns); err != nil {
		return err
	}
	for _, wl := range workloads {
		row := []string{
			wl.ID(),
			strconv.FormatFloat(wl.CPU(), 'f', -1, 64),
			strconv.FormatFloat(wl.Memory(), 'f', -1, 64),
			strconv.FormatFloat(wl.Duration(), 'f', -1, 64),
			strconv.Itoa(wl.Priority()),
			wl.ArrivalTime().UTC().Format(time.RFC3339Nano),
			wl.Deadline().UTC().Format(time.RFC3339Nano),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
