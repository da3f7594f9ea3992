package workload

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/model"
)

// Format is a supported workload file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format, use .csv or .json")
	ErrNoValidWorkloads  = errors.New("no valid workloads found")
)

// headerSniffBytes is how much of a CSV file is inspected for a header row.
const headerSniffBytes = 1000

// FormatFromFilename picks the format from a file extension.
func FormatFromFilename(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}
}

// RowError reports a row that could not be turned into a workload. Rows are
// numbered from 1, not counting a CSV header.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error { return e.Err }

// Result holds the workloads parsed from one file and the rows that failed.
type Result struct {
	Workloads []*model.Workload
	Errors    []*RowError
}

// Messages renders the row errors as strings.
func (r *Result) Messages() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = e.Error()
	}
	return out
}

// record is one row before validation. Values keep their textual form.
type record map[string]string

// Parse reads workloads in format from r. Invalid rows are collected in the
// result rather than failing the whole file; a file with no valid row fails
// with ErrNoValidWorkloads. now is the arrival time of rows that give none.
func Parse(r io.Reader, format Format, now time.Time) (*Result, error) {
	var (
		records []record
		err     error
	)
	switch format {
	case FormatCSV:
		records, err = readCSV(r)
	case FormatJSON:
		records, err = readJSON(r)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}

	res := &Result{Workloads: make([]*model.Workload, 0, len(records))}
	for i, rec := range records {
		w, err := rec.workload(now)
		if err != nil {
			res.Errors = append(res.Errors, &RowError{Row: i + 1, Err: err})
			continue
		}
		res.Workloads = append(res.Workloads, w)
	}

	klog.V(2).InfoS("Parsed workload file", "format", format, "rows", len(records),
		"valid", len(res.Workloads), "invalid", len(res.Errors))

	if len(res.Workloads) == 0 {
		return res, ErrNoValidWorkloads
	}
	return res, nil
}

// readCSV accepts a header row naming the columns, or headerless rows of
// cpu,memory,duration[,priority].
func readCSV(r io.Reader) ([]record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	if hasHeader(data) {
		header := make([]string, len(rows[0]))
		for i, h := range rows[0] {
			header[i] = strings.ToLower(strings.TrimSpace(h))
		}
		out := make([]record, 0, len(rows)-1)
		for _, row := range rows[1:] {
			rec := make(record, len(header))
			for i, v := range row {
				if i < len(header) {
					rec[header[i]] = strings.TrimSpace(v)
				}
			}
			out = append(out, rec)
		}
		return out, nil
	}

	positional := []string{"cpu", "memory", "duration", "priority"}
	out := make([]record, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			continue
		}
		rec := make(record, len(positional))
		for i, key := range positional {
			if i < len(row) {
				rec[key] = strings.TrimSpace(row[i])
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func hasHeader(data []byte) bool {
	sample := strings.ToLower(string(data[:min(len(data), headerSniffBytes)]))
	return strings.Contains(sample, "cpu") || strings.Contains(sample, "memory")
}

// readJSON accepts a bare array or an object with a "workloads" array.
func readJSON(r io.Reader) ([]record, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse json: %w", err)
	}

	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		var wrapped struct {
			Workloads *[]map[string]any `json:"workloads"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil || wrapped.Workloads == nil {
			return nil, fmt.Errorf("json must be an array or an object with a \"workloads\" key")
		}
		items = *wrapped.Workloads
	}

	out := make([]record, 0, len(items))
	for _, item := range items {
		rec := make(record, len(item))
		for k, v := range item {
			switch val := v.(type) {
			case nil:
			case string:
				rec[strings.ToLower(k)] = strings.TrimSpace(val)
			case float64:
				rec[strings.ToLower(k)] = strconv.FormatFloat(val, 'f', -1, 64)
			default:
				rec[strings.ToLower(k)] = fmt.Sprint(val)
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

// workload validates a record. An unreadable priority falls back to the
// default and an out-of-range one is clamped.
func (rec record) workload(now time.Time) (*model.Workload, error) {
	spec := model.WorkloadSpec{ID: rec["id"]}

	var err error
	if spec.CPU, err = rec.float("cpu"); err != nil {
		return nil, err
	}
	if spec.Memory, err = rec.float("memory"); err != nil {
		return nil, err
	}
	if spec.Duration, err = rec.float("duration"); err != nil {
		return nil, err
	}

	spec.Priority = model.DefaultPriority
	if v, ok := rec["priority"]; ok && v != "" {
		if p, err := strconv.ParseFloat(v, 64); err == nil && !math.IsNaN(p) {
			spec.Priority = int(max(model.MinPriority, min(model.MaxPriority, p)))
		}
	}

	if spec.ArrivalTime, err = rec.time("arrival_time"); err != nil {
		return nil, err
	}
	if spec.Deadline, err = rec.time("deadline"); err != nil {
		return nil, err
	}

	return model.NewWorkload(spec, now)
}

func (rec record) float(key string) (float64, error) {
	v, ok := rec[key]
	if !ok || v == "" {
		return 0, fmt.Errorf("missing %s value", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %q", key, v)
	}
	return f, nil
}

func (rec record) time(key string) (*time.Time, error) {
	v, ok := rec[key]
	if !ok || v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value: %q", key, v)
	}
	return &t, nil
}
