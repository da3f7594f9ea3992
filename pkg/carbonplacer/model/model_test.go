package model

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 12, 10, 14, 0, 0, 0, time.UTC)

func TestNewWorkloadDefaults(t *testing.T) {
	w, err := NewWorkload(WorkloadSpec{CPU: 4, Memory: 8, Duration: 2}, testNow)
	require.NoError(t, err)

	assert.Len(t, w.ID(), 8)
	assert.Equal(t, DefaultPriority, w.Priority())
	assert.Equal(t, testNow, w.ArrivalTime())
	assert.Equal(t, testNow.Add(24*time.Hour), w.Deadline())
	assert.InDelta(t, 0.8, w.EnergyKWh(), 1e-12)
	assert.Equal(t, 2*time.Hour, w.DurationTime())
}

func TestNewWorkloadValidation(t *testing.T) {
	tests := []struct {
		name      string
		spec      WorkloadSpec
		wantField string
	}{
		{name: "negative cpu", spec: WorkloadSpec{CPU: -1, Memory: 8, Duration: 2}, wantField: "cpu"},
		{name: "cpu above bound", spec: WorkloadSpec{CPU: 65, Memory: 8, Duration: 2}, wantField: "cpu"},
		{name: "zero memory", spec: WorkloadSpec{CPU: 4, Memory: 0, Duration: 2}, wantField: "memory"},
		{name: "memory above bound", spec: WorkloadSpec{CPU: 4, Memory: 300, Duration: 2}, wantField: "memory"},
		{name: "duration above bound", spec: WorkloadSpec{CPU: 4, Memory: 8, Duration: 200}, wantField: "duration"},
		{name: "priority above bound", spec: WorkloadSpec{CPU: 4, Memory: 8, Duration: 2, Priority: 11}, wantField: "priority"},
		{name: "NaN cpu", spec: WorkloadSpec{CPU: math.NaN(), Memory: 8, Duration: 2}, wantField: "cpu"},
		{name: "infinite cpu", spec: WorkloadSpec{CPU: math.Inf(1), Memory: 8, Duration: 2}, wantField: "cpu"},
		{name: "NaN memory", spec: WorkloadSpec{CPU: 4, Memory: math.NaN(), Duration: 2}, wantField: "memory"},
		{name: "negative infinite memory", spec: WorkloadSpec{CPU: 4, Memory: math.Inf(-1), Duration: 2}, wantField: "memory"},
		{name: "NaN duration", spec: WorkloadSpec{CPU: 4, Memory: 8, Duration: math.NaN()}, wantField: "duration"},
		{name: "infinite duration", spec: WorkloadSpec{CPU: 4, Memory: 8, Duration: math.Inf(1)}, wantField: "duration"},
		{name: "negative priority", spec: WorkloadSpec{CPU: 4, Memory: 8, Duration: 2, Priority: -3}, wantField: "priority"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := NewWorkload(tt.spec, testNow)
			require.Error(t, err)
			assert.Nil(t, w)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.wantField, verr.Field)
			assert.Contains(t, err.Error(), tt.wantField)
		})
	}
}

func TestNewWorkloadKeepsSuppliedFields(t *testing.T) {
	arrival := testNow.Add(time.Hour)
	deadline := testNow.Add(5 * time.Hour)
	w, err := NewWorkload(WorkloadSpec{
		ID: "job-1", CPU: 64, Memory: 256, Duration: 168, Priority: 10,
		ArrivalTime: &arrival, Deadline: &deadline,
	}, testNow)
	require.NoError(t, err)

	assert.Equal(t, "job-1", w.ID())
	assert.Equal(t, arrival, w.ArrivalTime())
	assert.Equal(t, deadline, w.Deadline())
	assert.Equal(t, 10, w.Priority())
}

func TestCapacityLedger(t *testing.T) {
	lease := NewLease([]Datacenter{{ID: "dc-1", TotalCPU: 10, TotalMemory: 20}})
	c, ok := lease.Get("dc-1")
	require.True(t, ok)

	assert.True(t, c.CanAccommodate(10, 20))
	assert.False(t, c.CanAccommodate(10.5, 1))
	assert.Equal(t, 10.0, c.AvailableCPU(), "CanAccommodate must not mutate")

	assert.True(t, c.Allocate(6, 8))
	assert.False(t, c.Allocate(6, 8), "second allocation exceeds cpu")
	assert.Equal(t, 4.0, c.AvailableCPU())
	assert.Equal(t, 12.0, c.AvailableMemory())
	assert.InDelta(t, 0.6, c.CPUUtilization(), 1e-12)
	assert.InDelta(t, 0.4, c.MemoryUtilization(), 1e-12)

	c.Release(100, 100)
	assert.Equal(t, 10.0, c.AvailableCPU(), "release is clamped to total")
	assert.Equal(t, 20.0, c.AvailableMemory())

	c.Allocate(3, 3)
	c.Reset()
	assert.Equal(t, 10.0, c.AvailableCPU())
}

func TestLeaseIsolation(t *testing.T) {
	dcs := []Datacenter{
		{ID: "a", TotalCPU: 8, TotalMemory: 8},
		{ID: "b", TotalCPU: 8, TotalMemory: 8},
	}
	first := NewLease(dcs)
	second := NewLease(dcs)

	a1, _ := first.Get("a")
	require.True(t, a1.Allocate(8, 8))

	a2, _ := second.Get("a")
	assert.Equal(t, 8.0, a2.AvailableCPU(), "leases must not share counters")

	dcs[0].TotalCPU = 1
	assert.Equal(t, 8.0, second.Datacenters()[0].TotalCPU, "lease copies datacenter records")

	assert.Equal(t, []string{"a", "b"}, []string{first.Capacities()[0].ID(), first.Capacities()[1].ID()})
}

func TestClosedLeaseRefusesAllocation(t *testing.T) {
	lease := NewLease([]Datacenter{{ID: "a", TotalCPU: 8, TotalMemory: 8}})
	c, _ := lease.Get("a")
	lease.Close()

	assert.True(t, lease.Closed())
	assert.False(t, c.CanAccommodate(1, 1))
	assert.False(t, c.Allocate(1, 1))
}

func TestDatacenterValidate(t *testing.T) {
	assert.NoError(t, Datacenter{ID: "a", TotalCPU: 1, TotalMemory: 1}.Validate())
	assert.Error(t, Datacenter{TotalCPU: 1, TotalMemory: 1}.Validate())
	assert.Error(t, Datacenter{ID: "a", TotalMemory: 1}.Validate())
	assert.Error(t, Datacenter{ID: "a", TotalCPU: 1}.Validate())
	assert.Error(t, Datacenter{ID: "a", TotalCPU: 1, TotalMemory: 1, CostPerCoreHour: -1}.Validate())
}

func TestAssignmentDerivedValues(t *testing.T) {
	w, err := NewWorkload(WorkloadSpec{ID: "w1", CPU: 4, Memory: 8, Duration: 2}, testNow)
	require.NoError(t, err)
	dc := Datacenter{ID: "DC-Low", TotalCPU: 100, TotalMemory: 400, CostPerCoreHour: 0.05}

	a := NewAssignment(w, dc, testNow, 100, 80)
	assert.Equal(t, 80.0, a.CarbonEmissions())
	assert.InDelta(t, 0.4, a.Cost(), 1e-12)
	assert.Equal(t, testNow.Add(2*time.Hour), a.EndTime())
	assert.InDelta(t, 2.0, a.DurationHours(), 1e-12)
}

func TestScheduleAggregates(t *testing.T) {
	s := NewSchedule("greedy", testNow)
	assert.Zero(t, s.TotalCarbon())
	assert.Zero(t, s.AvgCarbonIntensity())
	assert.Zero(t, s.AvgRenewable())

	dc := Datacenter{ID: "dc", TotalCPU: 100, TotalMemory: 100, CostPerCoreHour: 0.1}
	w1, _ := NewWorkload(WorkloadSpec{ID: "w1", CPU: 1, Memory: 1, Duration: 1}, testNow)
	w2, _ := NewWorkload(WorkloadSpec{ID: "w2", CPU: 2, Memory: 1, Duration: 1}, testNow)
	w3, _ := NewWorkload(WorkloadSpec{ID: "w3", CPU: 2, Memory: 1, Duration: 1}, testNow)

	s.Record(Placed(NewAssignment(w1, dc, testNow, 100, 40)))
	s.Record(Placed(NewAssignment(w2, dc, testNow, 300, 60)))
	s.Record(Unplaceable(w3, "no capacity"))

	assert.Len(t, s.Assignments, 2)
	require.Len(t, s.Unscheduled, 1)
	assert.Equal(t, "w3", s.Unscheduled[0].WorkloadID)
	assert.InDelta(t, 70.0, s.TotalCarbon(), 1e-9)
	assert.InDelta(t, 0.3, s.TotalCost(), 1e-9)
	assert.InDelta(t, 200.0, s.AvgCarbonIntensity(), 1e-9)
	assert.InDelta(t, 50.0, s.AvgRenewable(), 1e-9)
}

func TestOutcome(t *testing.T) {
	w, _ := NewWorkload(WorkloadSpec{ID: "w", CPU: 1, Memory: 1, Duration: 1}, testNow)

	placed := Placed(NewAssignment(w, Datacenter{ID: "dc"}, testNow, 1, 1))
	a, ok := placed.Assignment()
	assert.True(t, ok)
	assert.Equal(t, "dc", a.DatacenterID())
	assert.Equal(t, "w", placed.WorkloadID())

	_, ok = Unplaceable(w, "full").Assignment()
	assert.False(t, ok)
}

func TestScheduleJSONRoundTrip(t *testing.T) {
	dc := Datacenter{ID: "dc", TotalCPU: 100, TotalMemory: 100, CostPerCoreHour: 0.047}
	s := NewSchedule("windowed", testNow)
	s.ExecutionTimeMs = 1.23456
	for i, cpu := range []float64{1.5, 3, 7.25} {
		w, err := NewWorkload(WorkloadSpec{CPU: cpu, Memory: 2, Duration: 1.3 + float64(i)}, testNow)
		require.NoError(t, err)
		s.Record(Placed(NewAssignment(w, dc, testNow.Add(time.Duration(i)*time.Hour), 123.456, 41.27)))
	}
	gone, _ := NewWorkload(WorkloadSpec{ID: "gone", CPU: 64, Memory: 2, Duration: 1}, testNow)
	s.Record(Unplaceable(gone, "no capacity"))

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded Schedule
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, len(s.Assignments), len(decoded.Assignments))
	assert.InDelta(t, s.TotalCarbon(), decoded.TotalCarbon(), 0.01*float64(len(s.Assignments)))
	assert.InDelta(t, s.TotalCost(), decoded.TotalCost(), 0.01*float64(len(s.Assignments)))
	assert.Equal(t, s.Unscheduled, decoded.Unscheduled)
	assert.Equal(t, "windowed", decoded.Algorithm)
	assert.True(t, s.CreatedAt.Equal(decoded.CreatedAt))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	summary := raw["summary"].(map[string]any)
	assert.Equal(t, float64(3), summary["tasks_scheduled"])
	assert.Equal(t, float64(1), summary["tasks_unscheduled"])
}

func TestRound(t *testing.T) {
	assert.Equal(t, 1.24, Round(1.239, 2))
	assert.Equal(t, 80.0, Round(80.0, 2))
	assert.Equal(t, -2.5, Round(-2.4875, 1))
	assert.Equal(t, 3.0, Round(2.5, 0))
}
