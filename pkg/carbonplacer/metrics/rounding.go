package metrics

import (
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/model"
)

// Rounded returns the metrics at presentation precision.
func (m CarbonMetrics) Rounded() CarbonMetrics {
	return CarbonMetrics{
		TotalCarbonOptimized: model.Round(m.TotalCarbonOptimized, 2),
		TotalCarbonBaseline:  model.Round(m.TotalCarbonBaseline, 2),
		CarbonSaved:          model.Round(m.CarbonSaved, 2),
		PercentReduction:     model.Round(m.PercentReduction, 1),
		CarbonPerTask:        model.Round(m.CarbonPerTask, 2),
		TreesEquivalent:      model.Round(m.TreesEquivalent, 2),
		MilesDrivenSaved:     model.Round(m.MilesDrivenSaved, 1),
		SmartphoneCharges:    model.Round(m.SmartphoneCharges, 0),
		HoursLEDBulb:         model.Round(m.HoursLEDBulb, 0),
	}
}

func (m CostMetrics) Rounded() CostMetrics {
	return CostMetrics{
		TotalCost:     model.Round(m.TotalCost, 2),
		CostPerTask:   model.Round(m.CostPerTask, 2),
		CostPerCarbon: model.Round(m.CostPerCarbon, 4),
	}
}

func (m RenewableMetrics) Rounded() RenewableMetrics {
	return RenewableMetrics{
		AvgRenewable:    model.Round(m.AvgRenewable, 1),
		MinRenewable:    model.Round(m.MinRenewable, 1),
		MaxRenewable:    model.Round(m.MaxRenewable, 1),
		TasksOnGreenDC:  m.TasksOnGreenDC,
		GreenPercentage: model.Round(m.GreenPercentage, 1),
	}
}

func (m PerformanceMetrics) Rounded() PerformanceMetrics {
	return PerformanceMetrics{
		TasksScheduled:   m.TasksScheduled,
		TasksUnscheduled: m.TasksUnscheduled,
		AvgDuration:      model.Round(m.AvgDuration, 2),
		TotalDuration:    model.Round(m.TotalDuration, 2),
		ExecutionTimeMs:  model.Round(m.ExecutionTimeMs, 2),
	}
}

func (s DatacenterShare) Rounded() DatacenterShare {
	return DatacenterShare{
		Count:       s.Count,
		TotalCarbon: model.Round(s.TotalCarbon, 2),
		TotalCost:   model.Round(s.TotalCost, 2),
	}
}

// Rounded returns a copy of the report with every value at presentation
// precision. The receiver is left at full precision.
func (r Report) Rounded() Report {
	dist := make(map[string]DatacenterShare, len(r.Distribution))
	for id, share := range r.Distribution {
		dist[id] = share.Rounded()
	}
	return Report{
		Carbon:       r.Carbon.Rounded(),
		Cost:         r.Cost.Rounded(),
		Renewable:    r.Renewable.Rounded(),
		Performance:  r.Performance.Rounded(),
		Distribution: dist,
	}
}
