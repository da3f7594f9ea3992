package algorithms

import (
	"math/rand/v2"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/model"
)

// fcfs assigns each workload to the first datacenter in lease order that has
// room. It ignores carbon and serves as the baseline.
type fcfs struct{}

func (*fcfs) Name() Name { return FCFS }

func (a *fcfs) Schedule(in Input) *model.Schedule {
	return execute(FCFS, in, byArrival(in.Workloads), func(w *model.Workload) model.Outcome {
		for _, c := range in.Lease.Capacities() {
			if c.Allocate(w.CPU(), w.Memory()) {
				return assignNow(w, c, in.Carbon)
			}
		}
		return model.Unplaceable(w, reasonNoCapacity)
	})
}

// roundRobin rotates a cursor over the datacenters. The cursor moves one
// step per workload whether or not it was placed.
type roundRobin struct{}

func (*roundRobin) Name() Name { return RoundRobin }

func (a *roundRobin) Schedule(in Input) *model.Schedule {
	var capacities []*model.Capacity
	if in.Lease != nil {
		capacities = in.Lease.Capacities()
	}
	cursor := 0

	return execute(RoundRobin, in, byArrival(in.Workloads), func(w *model.Workload) model.Outcome {
		n := len(capacities)
		if n == 0 {
			return model.Unplaceable(w, reasonNoCapacity)
		}
		defer func() { cursor = (cursor + 1) % n }()

		for i := 0; i < n; i++ {
			c := capacities[(cursor+i)%n]
			if c.Allocate(w.CPU(), w.Memory()) {
				return assignNow(w, c, in.Carbon)
			}
		}
		return model.Unplaceable(w, reasonNoCapacity)
	})
}

// random picks uniformly among the datacenters that have room.
type random struct {
	rng *rand.Rand
}

func (*random) Name() Name { return Random }

func (a *random) Schedule(in Input) *model.Schedule {
	return execute(Random, in, byArrival(in.Workloads), func(w *model.Workload) model.Outcome {
		var candidates []*model.Capacity
		for _, c := range in.Lease.Capacities() {
			if c.CanAccommodate(w.CPU(), w.Memory()) {
				candidates = append(candidates, c)
			}
		}
		if len(candidates) == 0 {
			return model.Unplaceable(w, reasonNoCapacity)
		}

		c := candidates[a.rng.IntN(len(candidates))]
		c.Allocate(w.CPU(), w.Memory())
		return assignNow(w, c, in.Carbon)
	})
}
