package algorithms

import (
	"math"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/carbon"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/model"
)

// greedy assigns each workload to the feasible datacenter with the lowest
// current intensity, given capacity already taken by earlier workloads.
type greedy struct{}

func (*greedy) Name() Name { return Greedy }

func (a *greedy) Schedule(in Input) *model.Schedule {
	return execute(Greedy, in, byArrival(in.Workloads), func(w *model.Workload) model.Outcome {
		var best *model.Capacity
		bestIntensity := math.Inf(1)
		for _, c := range in.Lease.Capacities() {
			if !c.CanAccommodate(w.CPU(), w.Memory()) {
				continue
			}
			intensity := rankingIntensity(in.Carbon, c.ID())
			if best == nil || intensity < bestIntensity {
				best = c
				bestIntensity = intensity
			}
		}
		if best == nil {
			return model.Unplaceable(w, reasonNoCapacity)
		}

		best.Allocate(w.CPU(), w.Memory())
		return assignNow(w, best, in.Carbon)
	})
}

// rankingIntensity orders datacenters without carbon data after every
// datacenter that has some.
func rankingIntensity(s carbon.Snapshot, id string) float64 {
	if v, ok := s.Get(id); ok {
		return v.Intensity
	}
	return math.Inf(1)
}
