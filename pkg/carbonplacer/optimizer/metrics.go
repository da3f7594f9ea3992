package optimizer

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/model"
)

const namespace = "carbonplacer"

// Metrics holds the Prometheus collectors for scheduling runs.
type Metrics struct {
	// ScheduleRuns counts algorithm runs
	ScheduleRuns *prometheus.CounterVec
	// WorkloadsPlaced counts workloads given an assignment
	WorkloadsPlaced *prometheus.CounterVec
	// WorkloadsUnplaceable counts workloads no datacenter could take
	WorkloadsUnplaceable *prometheus.CounterVec
	// ScheduleDuration measures how long each run took
	ScheduleDuration *prometheus.HistogramVec
	// CarbonEmissions records the total emissions of each schedule
	CarbonEmissions *prometheus.HistogramVec
	// CarbonSaved is the saving of the last optimize call against its FCFS baseline
	CarbonSaved prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScheduleRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schedule_runs_total",
				Help:      "Number of scheduling runs by algorithm",
			},
			[]string{"algorithm"},
		),
		WorkloadsPlaced: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workloads_placed_total",
				Help:      "Number of workloads assigned to a datacenter by algorithm",
			},
			[]string{"algorithm"},
		),
		WorkloadsUnplaceable: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workloads_unplaceable_total",
				Help:      "Number of workloads left unscheduled by algorithm",
			},
			[]string{"algorithm"},
		),
		ScheduleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "schedule_duration_seconds",
				Help:      "Time taken by a scheduling run",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15),
			},
			[]string{"algorithm"},
		),
		CarbonEmissions: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "carbon_emissions_grams",
				Help:      "Total estimated emissions (gCO2) of a schedule",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 10),
			},
			[]string{"algorithm"},
		),
		CarbonSaved: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "carbon_saved_grams",
				Help:      "Emissions avoided (gCO2) by the last optimized schedule compared to FCFS",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.ScheduleRuns,
			m.WorkloadsPlaced,
			m.WorkloadsUnplaceable,
			m.ScheduleDuration,
			m.CarbonEmissions,
			m.CarbonSaved,
		)
	}
	return m
}

func (m *Metrics) observe(s *model.Schedule) {
	if m == nil {
		return
	}
	m.ScheduleRuns.WithLabelValues(s.Algorithm).Inc()
	m.WorkloadsPlaced.WithLabelValues(s.Algorithm).Add(float64(len(s.Assignments)))
	m.WorkloadsUnplaceable.WithLabelValues(s.Algorithm).Add(float64(len(s.Unscheduled)))
	m.ScheduleDuration.WithLabelValues(s.Algorithm).Observe(s.ExecutionTimeMs / 1000)
	m.CarbonEmissions.WithLabelValues(s.Algorithm).Observe(s.TotalCarbon())
}

func (m *Metrics) saved(grams float64) {
	if m == nil {
		return
	}
	m.CarbonSaved.Set(grams)
}
