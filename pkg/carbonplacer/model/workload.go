package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Workload bounds and defaults.
const (
	MaxCPU          = 64.0
	MaxMemoryGB     = 256.0
	MaxDurationH    = 168.0
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5

	// DefaultDeadlineWindow is added to the arrival time when no deadline is given.
	DefaultDeadlineWindow = 24 * time.Hour

	// PowerPerCoreKW is the flat per-core draw used for energy estimates.
	PowerPerCoreKW = 0.1
)

// ValidationError reports a workload field outside its documented bounds.
type ValidationError struct {
	Field string
	Value float64
	Bound string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: must be %s", e.Field, e.Value, e.Bound)
}

// WorkloadSpec is the unvalidated description of a workload as supplied by a
// caller or a workload source. Zero-valued optional fields take defaults.
type WorkloadSpec struct {
	ID          string     `json:"id,omitempty"`
	CPU         float64    `json:"cpu"`
	Memory      float64    `json:"memory"`
	Duration    float64    `json:"duration"`
	Priority    int        `json:"priority,omitempty"`
	ArrivalTime *time.Time `json:"arrival_time,omitempty"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// Workload is a validated, immutable compute task. Use NewWorkload to build one.
type Workload struct {
	id          string
	cpu         float64
	memory      float64
	duration    float64
	priority    int
	arrivalTime time.Time
	deadline    time.Time
}

// NewWorkload validates spec and fills in defaults. now is used as the arrival
// time when the spec has none.
func NewWorkload(spec WorkloadSpec, now time.Time) (*Workload, error) {
	// Written positively so NaN fails every bound.
	if !(spec.CPU > 0 && spec.CPU <= MaxCPU) {
		return nil, &ValidationError{Field: "cpu", Value: spec.CPU, Bound: fmt.Sprintf("in (0, %g] cores", MaxCPU)}
	}
	if !(spec.Memory > 0 && spec.Memory <= MaxMemoryGB) {
		return nil, &ValidationError{Field: "memory", Value: spec.Memory, Bound: fmt.Sprintf("in (0, %g] GB", MaxMemoryGB)}
	}
	if !(spec.Duration > 0 && spec.Duration <= MaxDurationH) {
		return nil, &ValidationError{Field: "duration", Value: spec.Duration, Bound: fmt.Sprintf("in (0, %g] hours", MaxDurationH)}
	}

	priority := spec.Priority
	if priority == 0 {
		priority = DefaultPriority
	}
	if priority < MinPriority || priority > MaxPriority {
		return nil, &ValidationError{Field: "priority", Value: float64(priority), Bound: fmt.Sprintf("in [%d, %d]", MinPriority, MaxPriority)}
	}

	arrival := now
	if spec.ArrivalTime != nil {
		arrival = *spec.ArrivalTime
	}
	deadline := arrival.Add(DefaultDeadlineWindow)
	if spec.Deadline != nil {
		deadline = *spec.Deadline
	}

	id := spec.ID
	if id == "" {
		id = NewWorkloadID()
	}

	return &Workload{
		id:          id,
		cpu:         spec.CPU,
		memory:      spec.Memory,
		duration:    spec.Duration,
		priority:    priority,
		arrivalTime: arrival,
		deadline:    deadline,
	}, nil
}

// NewWorkloadID returns a short random identifier.
func NewWorkloadID() string {
	return uuid.NewString()[:8]
}

func (w *Workload) ID() string             { return w.id }
func (w *Workload) CPU() float64           { return w.cpu }
func (w *Workload) Memory() float64        { return w.memory }
func (w *Workload) Duration() float64      { return w.duration }
func (w *Workload) Priority() int          { return w.priority }
func (w *Workload) ArrivalTime() time.Time { return w.arrivalTime }
func (w *Workload) Deadline() time.Time    { return w.deadline }

// DurationTime returns the duration as a time.Duration.
func (w *Workload) DurationTime() time.Duration {
	return time.Duration(w.duration * float64(time.Hour))
}

// EnergyKWh estimates the energy consumed by the workload.
func (w *Workload) EnergyKWh() float64 {
	return w.cpu * PowerPerCoreKW * w.duration
}

// Spec returns the fully-defaulted description of the workload.
func (w *Workload) Spec() WorkloadSpec {
	arrival := w.arrivalTime
	deadline := w.deadline
	return WorkloadSpec{
		ID:          w.id,
		CPU:         w.cpu,
		Memory:      w.memory,
		Duration:    w.duration,
		Priority:    w.priority,
		ArrivalTime: &arrival,
		Deadline:    &deadline,
	}
}

// workloadJSON is the external representation of a workload.
type workloadJSON struct {
	ID          string    `json:"id"`
	CPU         float64   `json:"cpu"`
	Memory      float64   `json:"memory"`
	Duration    float64   `json:"duration"`
	Priority    int       `json:"priority"`
	ArrivalTime time.Time `json:"arrival_time"`
	Deadline    time.Time `json:"deadline"`
	EnergyKWh   float64   `json:"energy_kwh"`
}

// MarshalJSON renders the workload with its defaults and energy estimate.
func (w *Workload) MarshalJSON() ([]byte, error) {
	return json.Marshal(workloadJSON{
		ID:          w.id,
		CPU:         w.cpu,
		Memory:      w.memory,
		Duration:    w.duration,
		Priority:    w.priority,
		ArrivalTime: w.arrivalTime,
		Deadline:    w.deadline,
		EnergyKWh:   w.EnergyKWh(),
	})
}
