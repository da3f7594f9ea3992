package algorithms

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/carbon"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/model"
)

// Name identifies a scheduling strategy.
type Name string

const (
	FCFS       Name = "fcfs"
	RoundRobin Name = "round_robin"
	Random     Name = "random"
	Greedy     Name = "greedy"
	Windowed   Name = "windowed"
)

// DefaultHorizonSlots is the number of one-hour slots the windowed strategy
// searches when the input does not say.
const DefaultHorizonSlots = 24

// ErrUnknownAlgorithm is returned for a name outside the supported set.
var ErrUnknownAlgorithm = errors.New("unknown algorithm")

// Names lists every supported strategy in a stable order.
func Names() []Name {
	return []Name{FCFS, RoundRobin, Random, Greedy, Windowed}
}

// ParseName resolves a user-supplied algorithm name. Matching ignores case
// and surrounding space; "dp" is accepted as an alias for windowed.
func ParseName(s string) (Name, error) {
	n := Name(strings.ToLower(strings.TrimSpace(s)))
	if n == "dp" {
		return Windowed, nil
	}
	for _, known := range Names() {
		if n == known {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %q (supported: fcfs, round_robin, random, greedy, windowed)", ErrUnknownAlgorithm, s)
}

// Description is a short human-readable summary of each strategy.
func (n Name) Description() string {
	switch n {
	case FCFS:
		return "First come first serve: first datacenter in list order with capacity, ignoring carbon"
	case RoundRobin:
		return "Round robin: rotates across datacenters, ignoring carbon"
	case Random:
		return "Random: uniformly random datacenter among those with capacity"
	case Greedy:
		return "Greedy: lowest current carbon intensity among datacenters with capacity"
	case Windowed:
		return "Time windowed: lowest forecast emissions over (time slot, datacenter) up to the deadline"
	default:
		return ""
	}
}

// UsesForecast reports whether the strategy reads the time-indexed forecast.
func (n Name) UsesForecast() bool {
	return n == Windowed
}

// Input is everything one scheduling run sees. The lease is owned by the run
// and supplies datacenter order and capacity.
type Input struct {
	Workloads []*model.Workload
	Lease     *model.Lease
	Carbon    carbon.Snapshot
	Forecast  carbon.Forecast
	// Origin is the start time of forecast slot 0.
	Origin time.Time
	// Slots is the forecast horizon in one-hour slots.
	Slots int
	// Now stamps the resulting schedule. Zero means the wall clock.
	Now time.Time
}

func (in Input) createdAt() time.Time {
	if in.Now.IsZero() {
		return time.Now()
	}
	return in.Now
}

func (in Input) slots() int {
	if in.Slots <= 0 {
		return DefaultHorizonSlots
	}
	return in.Slots
}

// Algorithm maps a batch of workloads onto datacenters.
type Algorithm interface {
	Name() Name
	// Schedule places every workload it can and reports the rest as
	// unscheduled. It never fails on an individual workload.
	Schedule(in Input) *model.Schedule
}

// Option customizes algorithm construction
type Option func(*options)

type options struct {
	rng *rand.Rand
}

// WithRand supplies the random source used by the random strategy.
func WithRand(r *rand.Rand) Option {
	return func(o *options) {
		o.rng = r
	}
}

// New creates the algorithm for name.
func New(name Name, opts ...Option) (Algorithm, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	switch name {
	case FCFS:
		return &fcfs{}, nil
	case RoundRobin:
		return &roundRobin{}, nil
	case Random:
		rng := o.rng
		if rng == nil {
			rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
		}
		return &random{rng: rng}, nil
	case Greedy:
		return &greedy{}, nil
	case Windowed:
		return &windowed{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

const (
	reasonNoCapacity = "no datacenter has sufficient capacity"
	reasonNoSlot     = "no feasible time slot with sufficient capacity"
	reasonLease      = "capacity lease closed"
)

// byArrival returns a copy of workloads ordered by arrival time, ties kept
// in input order.
func byArrival(workloads []*model.Workload) []*model.Workload {
	out := make([]*model.Workload, len(workloads))
	copy(out, workloads)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ArrivalTime().Before(out[j].ArrivalTime())
	})
	return out
}

// execute runs place over ordered and assembles the timed schedule.
func execute(name Name, in Input, ordered []*model.Workload, place func(*model.Workload) model.Outcome) *model.Schedule {
	start := time.Now()
	s := model.NewSchedule(string(name), in.createdAt())

	for _, w := range ordered {
		var o model.Outcome
		if in.Lease == nil || in.Lease.Closed() {
			o = model.Unplaceable(w, reasonLease)
		} else {
			o = place(w)
		}
		if a, ok := o.Assignment(); ok {
			klog.V(3).InfoS("Placed workload", "algorithm", name, "workload", w.ID(),
				"datacenter", a.DatacenterID(), "start", a.StartTime(), "carbon", a.CarbonEmissions())
		} else {
			klog.V(3).InfoS("Workload unplaceable", "algorithm", name, "workload", w.ID(),
				"cpu", w.CPU(), "memory", w.Memory())
		}
		s.Record(o)
	}

	s.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000
	klog.V(2).InfoS("Scheduling run complete",
		"algorithm", name,
		"placed", len(s.Assignments),
		"unscheduled", len(s.Unscheduled),
		"totalCarbon", s.TotalCarbon(),
		"executionMs", s.ExecutionTimeMs)
	return s
}

// assignNow places w on c at its arrival time using the instantaneous signal.
func assignNow(w *model.Workload, c *model.Capacity, signal carbon.Snapshot) model.Outcome {
	v := signal.Lookup(c.ID())
	return model.Placed(model.NewAssignment(w, c.Datacenter(), w.ArrivalTime(), v.Intensity, v.Renewable))
}
