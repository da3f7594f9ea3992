package metrics

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/model"
)

// Conversion factors for the relatable equivalents of saved carbon, in grams
// of CO2 per unit.
const (
	GramsPerTreeYear    = 21000.0 // absorbed by one tree in a year
	GramsPerMileDriven  = 404.0   // average passenger car
	GramsPerPhoneCharge = 8.22
	GramsPerLEDHour     = 5.0 // 10 W bulb at 500 g/kWh
)

// GreenThreshold is the renewable percentage above which a datacenter counts as green.
const GreenThreshold = 50.0

// CarbonMetrics compares an optimized schedule against a baseline.
type CarbonMetrics struct {
	TotalCarbonOptimized float64 `json:"total_carbon_optimized"`
	TotalCarbonBaseline  float64 `json:"total_carbon_baseline"`
	CarbonSaved          float64 `json:"carbon_saved"`
	PercentReduction     float64 `json:"percent_reduction"`
	CarbonPerTask        float64 `json:"carbon_per_task"`
	TreesEquivalent      float64 `json:"trees_equivalent"`
	MilesDrivenSaved     float64 `json:"miles_driven_saved"`
	SmartphoneCharges    float64 `json:"smartphone_charges"`
	HoursLEDBulb         float64 `json:"hours_led_bulb"`
}

// CostMetrics summarises the cost of one schedule.
type CostMetrics struct {
	TotalCost     float64 `json:"total_cost"`
	CostPerTask   float64 `json:"cost_per_task"`
	CostPerCarbon float64 `json:"cost_per_carbon"`
}

// RenewableMetrics summarises renewable share across assignments.
type RenewableMetrics struct {
	AvgRenewable    float64 `json:"avg_renewable"`
	MinRenewable    float64 `json:"min_renewable"`
	MaxRenewable    float64 `json:"max_renewable"`
	TasksOnGreenDC  int     `json:"tasks_on_green_dc"`
	GreenPercentage float64 `json:"green_percentage"`
}

// PerformanceMetrics summarises scheduled durations and run time.
type PerformanceMetrics struct {
	TasksScheduled   int     `json:"tasks_scheduled"`
	TasksUnscheduled int     `json:"tasks_unscheduled"`
	AvgDuration      float64 `json:"avg_duration"`
	TotalDuration    float64 `json:"total_duration"`
	ExecutionTimeMs  float64 `json:"execution_time_ms"`
}

// DatacenterShare is the part of a schedule placed on one datacenter.
type DatacenterShare struct {
	Count       int     `json:"count"`
	TotalCarbon float64 `json:"total_carbon"`
	TotalCost   float64 `json:"total_cost"`
}

// Report bundles every metric for an optimized schedule.
type Report struct {
	Carbon       CarbonMetrics              `json:"carbon"`
	Cost         CostMetrics                `json:"cost"`
	Renewable    RenewableMetrics           `json:"renewable"`
	Performance  PerformanceMetrics         `json:"performance"`
	Distribution map[string]DatacenterShare `json:"distribution"`
}

// CarbonComparison compares optimized against baseline. The percentage is 0 when the
// baseline emitted nothing.
func CarbonComparison(optimized, baseline *model.Schedule) CarbonMetrics {
	opt := optimized.TotalCarbon()
	base := baseline.TotalCarbon()
	saved := base - opt

	m := CarbonMetrics{
		TotalCarbonOptimized: opt,
		TotalCarbonBaseline:  base,
		CarbonSaved:          saved,
		TreesEquivalent:      saved / GramsPerTreeYear,
		MilesDrivenSaved:     saved / GramsPerMileDriven,
		SmartphoneCharges:    saved / GramsPerPhoneCharge,
		HoursLEDBulb:         saved / GramsPerLEDHour,
	}
	if base > 0 {
		m.PercentReduction = saved / base * 100
	}
	if n := len(optimized.Assignments); n > 0 {
		m.CarbonPerTask = opt / float64(n)
	}
	return m
}

// Cost summarises the cost of s.
func Cost(s *model.Schedule) CostMetrics {
	total := s.TotalCost()
	m := CostMetrics{TotalCost: total}
	if n := len(s.Assignments); n > 0 {
		m.CostPerTask = total / float64(n)
	}
	if carbon := s.TotalCarbon(); carbon > 0 {
		m.CostPerCarbon = total / carbon
	}
	return m
}

// Renewable summarises the renewable share of the assignments in s.
func Renewable(s *model.Schedule) RenewableMetrics {
	if len(s.Assignments) == 0 {
		return RenewableMetrics{}
	}

	values := make([]float64, len(s.Assignments))
	green := 0
	for i, a := range s.Assignments {
		values[i] = a.RenewablePercentage()
		if values[i] > GreenThreshold {
			green++
		}
	}

	return RenewableMetrics{
		AvgRenewable:    stat.Mean(values, nil),
		MinRenewable:    floats.Min(values),
		MaxRenewable:    floats.Max(values),
		TasksOnGreenDC:  green,
		GreenPercentage: float64(green) / float64(len(values)) * 100,
	}
}

// Performance summarises scheduled durations, measured from each assignment's
// start to end so that any imposed delay is reflected.
func Performance(s *model.Schedule) PerformanceMetrics {
	m := PerformanceMetrics{
		TasksScheduled:   len(s.Assignments),
		TasksUnscheduled: len(s.Unscheduled),
		ExecutionTimeMs:  s.ExecutionTimeMs,
	}
	if len(s.Assignments) == 0 {
		return m
	}

	durations := make([]float64, len(s.Assignments))
	for i, a := range s.Assignments {
		durations[i] = a.DurationHours()
	}
	m.AvgDuration = stat.Mean(durations, nil)
	m.TotalDuration = floats.Sum(durations)
	return m
}

// Distribution groups the assignments of s by datacenter.
func Distribution(s *model.Schedule) map[string]DatacenterShare {
	out := make(map[string]DatacenterShare)
	for _, a := range s.Assignments {
		share := out[a.DatacenterID()]
		share.Count++
		share.TotalCarbon += a.CarbonEmissions()
		share.TotalCost += a.Cost()
		out[a.DatacenterID()] = share
	}
	return out
}

// Calculate computes the full report for optimized against baseline.
func Calculate(optimized, baseline *model.Schedule) Report {
	return Report{
		Carbon:       CarbonComparison(optimized, baseline),
		Cost:         Cost(optimized),
		Renewable:    Renewable(optimized),
		Performance:  Performance(optimized),
		Distribution: Distribution(optimized),
	}
}
