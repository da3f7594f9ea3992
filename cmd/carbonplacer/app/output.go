package app

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/metrics"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/model"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/optimizer"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

func checkOutput(format string) error {
	if format != outputTable && format != outputJSON {
		return fmt.Errorf("invalid output format %q, must be %q or %q", format, outputTable, outputJSON)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetHeaderLine(false)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetNoWhiteSpace(true)
	table.SetHeader(header)
	return table
}

func num(v float64, places int) string {
	return strconv.FormatFloat(model.Round(v, places), 'f', -1, 64)
}

// printResult renders the placements followed by a summary against the baseline.
func printResult(w io.Writer, res *optimizer.Result) {
	table := newTable(w, "WORKLOAD", "DATACENTER", "START", "END", "INTENSITY", "RENEWABLE%", "CARBON(g)", "COST")
	for _, a := range res.Schedule.Assignments {
		table.Append([]string{
			a.WorkloadID(),
			a.DatacenterID(),
			a.StartTime().UTC().Format(time.RFC3339),
			a.EndTime().UTC().Format(time.RFC3339),
			num(a.CarbonIntensity(), 1),
			num(a.RenewablePercentage(), 1),
			num(a.CarbonEmissions(), 2),
			num(a.Cost(), 2),
		})
	}
	table.Render()

	if len(res.Schedule.Unscheduled) > 0 {
		fmt.Fprintln(w)
		unplaced := newTable(w, "UNSCHEDULED", "REASON")
		for _, u := range res.Schedule.Unscheduled {
			unplaced.Append([]string{u.WorkloadID, u.Reason})
		}
		unplaced.Render()
	}

	fmt.Fprintln(w)
	printSummary(w, res.Schedule.Algorithm, res.Metrics.Rounded())
}

func printSummary(w io.Writer, algorithm string, m metrics.Report) {
	table := newTable(w, "METRIC", "VALUE")
	table.AppendBulk([][]string{
		{"Algorithm", algorithm},
		{"Scheduled", strconv.Itoa(m.Performance.TasksScheduled)},
		{"Unscheduled", strconv.Itoa(m.Performance.TasksUnscheduled)},
		{"Carbon (g)", fmt.Sprint(m.Carbon.TotalCarbonOptimized)},
		{"Baseline carbon (g)", fmt.Sprint(m.Carbon.TotalCarbonBaseline)},
		{"Carbon saved (g)", fmt.Sprint(m.Carbon.CarbonSaved)},
		{"Reduction (%)", fmt.Sprint(m.Carbon.PercentReduction)},
		{"Total cost", fmt.Sprint(m.Cost.TotalCost)},
		{"Avg renewable (%)", fmt.Sprint(m.Renewable.AvgRenewable)},
		{"Trees (year)", fmt.Sprint(m.Carbon.TreesEquivalent)},
		{"Miles not driven", fmt.Sprint(m.Carbon.MilesDrivenSaved)},
	})
	table.Render()
}

// printComparison renders one row per algorithm with the best one marked.
func printComparison(w io.Writer, c *optimizer.Comparison) {
	table := newTable(w, "ALGORITHM", "CARBON(g)", "COST", "SCHEDULED", "UNSCHEDULED", "TIME(ms)", "")
	for _, r := range c.Results {
		r = r.Rounded()
		mark := ""
		if r.Algorithm == c.BestAlgorithm {
			mark = "best"
		}
		table.Append([]string{
			string(r.Algorithm),
			fmt.Sprint(r.TotalCarbon),
			fmt.Sprint(r.TotalCost),
			strconv.Itoa(r.TasksScheduled),
			strconv.Itoa(r.TasksUnscheduled),
			fmt.Sprint(r.ExecutionTimeMs),
			mark,
		})
	}
	table.Render()
}
