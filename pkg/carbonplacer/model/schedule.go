package model

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Assignment binds one workload to one datacenter. It is immutable once built.
type Assignment struct {
	workloadID          string
	datacenterID        string
	startTime           time.Time
	endTime             time.Time
	carbonEmissions     float64
	cost                float64
	carbonIntensity     float64
	renewablePercentage float64
}

// NewAssignment places w on dc starting at start, with emissions derived from
// intensity and cost from the datacenter's per-core-hour price.
func NewAssignment(w *Workload, dc Datacenter, start time.Time, intensity, renewable float64) Assignment {
	return Assignment{
		workloadID:          w.ID(),
		datacenterID:        dc.ID,
		startTime:           start,
		endTime:             start.Add(w.DurationTime()),
		carbonEmissions:     w.EnergyKWh() * intensity,
		cost:                w.CPU() * w.Duration() * dc.CostPerCoreHour,
		carbonIntensity:     intensity,
		renewablePercentage: renewable,
	}
}

func (a Assignment) WorkloadID() string           { return a.workloadID }
func (a Assignment) DatacenterID() string         { return a.datacenterID }
func (a Assignment) StartTime() time.Time         { return a.startTime }
func (a Assignment) EndTime() time.Time           { return a.endTime }
func (a Assignment) CarbonEmissions() float64     { return a.carbonEmissions }
func (a Assignment) Cost() float64                { return a.cost }
func (a Assignment) CarbonIntensity() float64     { return a.carbonIntensity }
func (a Assignment) RenewablePercentage() float64 { return a.renewablePercentage }

// DurationHours is the scheduled span, end minus start.
func (a Assignment) DurationHours() float64 {
	return a.endTime.Sub(a.startTime).Hours()
}

// Unscheduled names a workload that no datacenter could take.
type Unscheduled struct {
	WorkloadID string `json:"workload_id"`
	Reason     string `json:"reason"`
}

// Outcome is the per-workload result of a scheduling run: either a placement
// or an explicit unplaceable record.
type Outcome struct {
	workloadID string
	assignment *Assignment
	reason     string
}

// Placed builds a successful outcome.
func Placed(a Assignment) Outcome {
	return Outcome{workloadID: a.workloadID, assignment: &a}
}

// Unplaceable builds a failed outcome for w.
func Unplaceable(w *Workload, reason string) Outcome {
	return Outcome{workloadID: w.ID(), reason: reason}
}

func (o Outcome) WorkloadID() string { return o.workloadID }

// Assignment returns the placement and true, or false if the workload was unplaceable.
func (o Outcome) Assignment() (Assignment, bool) {
	if o.assignment == nil {
		return Assignment{}, false
	}
	return *o.assignment, true
}

// Schedule is the result of one algorithm run.
type Schedule struct {
	Assignments     []Assignment
	Unscheduled     []Unscheduled
	Algorithm       string
	ExecutionTimeMs float64
	CreatedAt       time.Time
}

// NewSchedule starts an empty schedule for algorithm.
func NewSchedule(algorithm string, createdAt time.Time) *Schedule {
	return &Schedule{
		Assignments: []Assignment{},
		Unscheduled: []Unscheduled{},
		Algorithm:   algorithm,
		CreatedAt:   createdAt,
	}
}

// Record appends an outcome to the schedule.
func (s *Schedule) Record(o Outcome) {
	if a, ok := o.Assignment(); ok {
		s.Assignments = append(s.Assignments, a)
		return
	}
	s.Unscheduled = append(s.Unscheduled, Unscheduled{WorkloadID: o.workloadID, Reason: o.reason})
}

// TotalCarbon is the sum of assignment emissions in gCO2.
func (s *Schedule) TotalCarbon() float64 {
	total := 0.0
	for _, a := range s.Assignments {
		total += a.carbonEmissions
	}
	return total
}

// TotalCost is the sum of assignment costs.
func (s *Schedule) TotalCost() float64 {
	total := 0.0
	for _, a := range s.Assignments {
		total += a.cost
	}
	return total
}

// AvgCarbonIntensity is the mean intensity across assignments, 0 when empty.
func (s *Schedule) AvgCarbonIntensity() float64 {
	if len(s.Assignments) == 0 {
		return 0
	}
	total := 0.0
	for _, a := range s.Assignments {
		total += a.carbonIntensity
	}
	return total / float64(len(s.Assignments))
}

// AvgRenewable is the mean renewable percentage across assignments, 0 when empty.
func (s *Schedule) AvgRenewable() float64 {
	if len(s.Assignments) == 0 {
		return 0
	}
	total := 0.0
	for _, a := range s.Assignments {
		total += a.renewablePercentage
	}
	return total / float64(len(s.Assignments))
}

// Round rounds v to places decimal digits, half away from zero.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

type assignmentJSON struct {
	WorkloadID          string    `json:"workload_id"`
	DatacenterID        string    `json:"datacenter_id"`
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
	CarbonEmissions     float64   `json:"carbon_emissions"`
	Cost                float64   `json:"cost"`
	CarbonIntensity     float64   `json:"carbon_intensity"`
	RenewablePercentage float64   `json:"renewable_percentage"`
}

type summaryJSON struct {
	TotalCarbon        float64 `json:"total_carbon"`
	TotalCost          float64 `json:"total_cost"`
	AvgCarbonIntensity float64 `json:"avg_carbon_intensity"`
	AvgRenewable       float64 `json:"avg_renewable"`
	TasksScheduled     int     `json:"tasks_scheduled"`
	TasksUnscheduled   int     `json:"tasks_unscheduled"`
}

type scheduleJSON struct {
	Assignments     []assignmentJSON `json:"assignments"`
	Unscheduled     []Unscheduled    `json:"unscheduled"`
	Algorithm       string           `json:"algorithm_used"`
	ExecutionTimeMs float64          `json:"execution_time_ms"`
	Timestamp       time.Time        `json:"timestamp"`
	Summary         summaryJSON      `json:"summary"`
}

func (a Assignment) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.external())
}

func (a Assignment) external() assignmentJSON {
	return assignmentJSON{
		WorkloadID:          a.workloadID,
		DatacenterID:        a.datacenterID,
		StartTime:           a.startTime,
		EndTime:             a.endTime,
		CarbonEmissions:     Round(a.carbonEmissions, 2),
		Cost:                Round(a.cost, 2),
		CarbonIntensity:     Round(a.carbonIntensity, 2),
		RenewablePercentage: Round(a.renewablePercentage, 1),
	}
}

// MarshalJSON renders the schedule with rounded values and a summary block.
func (s *Schedule) MarshalJSON() ([]byte, error) {
	out := scheduleJSON{
		Assignments:     make([]assignmentJSON, 0, len(s.Assignments)),
		Unscheduled:     s.Unscheduled,
		Algorithm:       s.Algorithm,
		ExecutionTimeMs: Round(s.ExecutionTimeMs, 2),
		Timestamp:       s.CreatedAt,
		Summary: summaryJSON{
			TotalCarbon:        Round(s.TotalCarbon(), 2),
			TotalCost:          Round(s.TotalCost(), 2),
			AvgCarbonIntensity: Round(s.AvgCarbonIntensity(), 2),
			AvgRenewable:       Round(s.AvgRenewable(), 1),
			TasksScheduled:     len(s.Assignments),
			TasksUnscheduled:   len(s.Unscheduled),
		},
	}
	if out.Unscheduled == nil {
		out.Unscheduled = []Unscheduled{}
	}
	for _, a := range s.Assignments {
		out.Assignments = append(out.Assignments, a.external())
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a schedule from its external form. The summary block
// is ignored; totals are always recomputed from the assignments.
func (s *Schedule) UnmarshalJSON(data []byte) error {
	var in scheduleJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("failed to decode schedule: %w", err)
	}
	s.Assignments = make([]Assignment, 0, len(in.Assignments))
	for _, a := range in.Assignments {
		s.Assignments = append(s.Assignments, Assignment{
			workloadID:          a.WorkloadID,
			datacenterID:        a.DatacenterID,
			startTime:           a.StartTime,
			endTime:             a.EndTime,
			carbonEmissions:     a.CarbonEmissions,
			cost:                a.Cost,
			carbonIntensity:     a.CarbonIntensity,
			renewablePercentage: a.RenewablePercentage,
		})
	}
	s.Unscheduled = in.Unscheduled
	if s.Unscheduled == nil {
		s.Unscheduled = []Unscheduled{}
	}
	s.Algorithm = in.Algorithm
	s.ExecutionTimeMs = in.ExecutionTimeMs
	s.CreatedAt = in.Timestamp
	return nil
}
