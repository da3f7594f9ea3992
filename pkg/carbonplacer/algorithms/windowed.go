package algorithms

import (
	"math"
	"sort"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/model"
)

// windowed searches every (slot, datacenter) pair between a workload's arrival
// slot and its latest feasible start and takes the one with the lowest
// forecast emissions. It is the only strategy that may delay work, and it never
// starts a workload before it arrives.
type windowed struct{}

func (*windowed) Name() Name { return Windowed }

// slotPool holds per-slot free capacity of each datacenter. It is seeded from
// datacenter totals and is independent of the lease counters. A placed
// workload occupies every slot it runs in.
type slotPool struct {
	cpu    [][]float64 // [slot][datacenter]
	memory [][]float64
}

func newSlotPool(dcs []model.Datacenter, slots int) *slotPool {
	p := &slotPool{
		cpu:    make([][]float64, slots),
		memory: make([][]float64, slots),
	}
	for t := 0; t < slots; t++ {
		p.cpu[t] = make([]float64, len(dcs))
		p.memory[t] = make([]float64, len(dcs))
		for i, dc := range dcs {
			p.cpu[t][i] = dc.TotalCPU
			p.memory[t][i] = dc.TotalMemory
		}
	}
	return p
}

// fits reports whether dc has cpu and mem free in every slot of
// [start, start+span) that lies inside the horizon.
func (p *slotPool) fits(start, span, dc int, cpu, mem float64) bool {
	for t := start; t < min(start+span, len(p.cpu)); t++ {
		if p.cpu[t][dc] < cpu || p.memory[t][dc] < mem {
			return false
		}
	}
	return true
}

func (p *slotPool) take(start, span, dc int, cpu, mem float64) {
	for t := start; t < min(start+span, len(p.cpu)); t++ {
		p.cpu[t][dc] -= cpu
		p.memory[t][dc] -= mem
	}
}

// byDeadline orders by earliest deadline, then higher priority, ties kept in
// input order.
func byDeadline(workloads []*model.Workload) []*model.Workload {
	out := make([]*model.Workload, len(workloads))
	copy(out, workloads)
	sort.SliceStable(out, func(i, j int) bool {
		di, dj := out[i].Deadline(), out[j].Deadline()
		if !di.Equal(dj) {
			return di.Before(dj)
		}
		return out[i].Priority() > out[j].Priority()
	})
	return out
}

// durationSlots is the duration rounded up to whole slots, at least one.
func durationSlots(w *model.Workload) int {
	return max(1, int(math.Ceil(w.Duration())))
}

// latestStart is the last slot a workload may start in so that it ends by
// both its deadline and the horizon, clamped to [0, slots-1]. A deadline that
// cannot be met leaves only slot 0.
func latestStart(w *model.Workload, origin time.Time, slots int) int {
	dur := durationSlots(w)
	deadlineHours := max(1, int(math.Floor(w.Deadline().Sub(origin).Hours())))
	latest := min(slots-dur, deadlineHours-dur)
	return max(0, min(latest, slots-1))
}

// earliestStart is the first slot at or after the workload's arrival.
func earliestStart(w *model.Workload, origin time.Time) int {
	return max(0, int(math.Ceil(w.ArrivalTime().Sub(origin).Hours())))
}

func (a *windowed) Schedule(in Input) *model.Schedule {
	slots := in.slots()
	var dcs []model.Datacenter
	if in.Lease != nil {
		dcs = in.Lease.Datacenters()
	}
	pool := newSlotPool(dcs, slots)

	return execute(Windowed, in, byDeadline(in.Workloads), func(w *model.Workload) model.Outcome {
		earliest := earliestStart(w, in.Origin)
		if earliest >= slots {
			return model.Unplaceable(w, reasonNoSlot)
		}
		// A deadline that cannot be met after arrival leaves only the arrival slot.
		latest := max(earliest, latestStart(w, in.Origin, slots))
		span := durationSlots(w)
		energy := w.EnergyKWh()

		bestSlot, bestDC := -1, -1
		bestEmissions := math.Inf(1)
		for t := earliest; t <= latest; t++ {
			for i, dc := range dcs {
				if !pool.fits(t, span, i, w.CPU(), w.Memory()) {
					continue
				}
				emissions := energy * in.Forecast.Lookup(dc.ID, t).Intensity
				if emissions < bestEmissions {
					bestSlot, bestDC, bestEmissions = t, i, emissions
				}
			}
		}
		if bestSlot < 0 {
			return model.Unplaceable(w, reasonNoSlot)
		}

		pool.take(bestSlot, span, bestDC, w.CPU(), w.Memory())
		dc := dcs[bestDC]
		v := in.Forecast.Lookup(dc.ID, bestSlot)
		start := in.Origin.Add(time.Duration(bestSlot) * time.Hour)
		if bestSlot > earliest {
			klog.V(3).InfoS("Delaying workload into lower-carbon window",
				"workload", w.ID(), "datacenter", dc.ID, "slot", bestSlot, "intensity", v.Intensity)
		}
		return model.Placed(model.NewAssignment(w, dc, start, v.Intensity, v.Renewable))
	})
}
