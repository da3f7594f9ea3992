package workload

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/model"
)

// Simulation defaults.
const (
	DefaultCount       = 50
	MaxCount           = 1000
	DefaultSpan        = 24 * time.Hour
	DefaultBurstWindow = 30 * time.Minute

	minDuration = 0.25
	maxDuration = 8.0
)

// Mode selects how arrivals are spread.
type Mode string

const (
	ModeNormal Mode = "normal"
	ModeBurst  Mode = "burst"
)

var (
	cpuOptions     = []float64{0.5, 1, 2, 4, 8, 16}
	cpuWeights     = []float64{0.2, 0.3, 0.25, 0.15, 0.07, 0.03}
	memoryOptions  = []float64{0.5, 1, 2, 4, 8, 16, 32}
	priorityWeight = []float64{1, 2, 3, 5, 8, 10, 8, 5, 3, 2} // priorities 1..10
)

// Simulator generates synthetic workloads skewed towards small, short jobs.
// It is safe for concurrent use.
type Simulator struct {
	mu  sync.Mutex
	src rand.Source
	rng *rand.Rand

	cpu      distuv.Categorical
	priority distuv.Categorical
	duration distuv.LogNormal
}

// NewSimulator creates a simulator. A zero seed draws one from the clock.
func NewSimulator(seed uint64) *Simulator {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	src := rand.NewSource(seed)
	return &Simulator{
		src:      src,
		rng:      rand.New(src),
		cpu:      distuv.NewCategorical(cpuWeights, src),
		priority: distuv.NewCategorical(priorityWeight, src),
		duration: distuv.LogNormal{Mu: 0.5, Sigma: 0.8, Src: src},
	}
}

// Generate creates count workloads arriving uniformly over [start, start+span).
func (s *Simulator) Generate(count int, start time.Time, span time.Duration) ([]*model.Workload, error) {
	if count <= 0 || count > MaxCount {
		return nil, fmt.Errorf("workload count must be in [1, %d], got %d", MaxCount, count)
	}
	if span <= 0 {
		span = DefaultSpan
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	spanHours := span.Hours()
	arrival := distuv.Uniform{Min: 0, Max: spanHours, Src: s.src}
	slack := distuv.Uniform{Min: 1, Max: 12, Src: s.src}

	out := make([]*model.Workload, 0, count)
	for i := 0; i < count; i++ {
		cpuIdx := int(s.cpu.Rand())
		memIdx := max(0, min(len(memoryOptions)-1, cpuIdx+s.rng.Intn(3)-1))
		duration := model.Round(max(minDuration, min(maxDuration, s.duration.Rand())), 2)

		arrivalAt := start.Add(hours(arrival.Rand()))
		deadline := arrivalAt.Add(hours(duration + slack.Rand()))

		w, err := model.NewWorkload(model.WorkloadSpec{
			CPU:         cpuOptions[cpuIdx],
			Memory:      memoryOptions[memIdx],
			Duration:    duration,
			Priority:    int(s.priority.Rand()) + 1,
			ArrivalTime: &arrivalAt,
			Deadline:    &deadline,
		}, start)
		if err != nil {
			return nil, fmt.Errorf("generated invalid workload: %w", err)
		}
		out = append(out, w)
	}

	klog.V(2).InfoS("Generated workloads", "count", count, "start", start, "span", span)
	return out, nil
}

// Burst creates count workloads that all arrive within window.
func (s *Simulator) Burst(count int, start time.Time, window time.Duration) ([]*model.Workload, error) {
	if window <= 0 {
		window = DefaultBurstWindow
	}
	return s.Generate(count, start, window)
}

// Simulate dispatches on mode. Burst mode ignores span and uses the default
// burst window.
func (s *Simulator) Simulate(mode Mode, count int, start time.Time, span time.Duration) ([]*model.Workload, error) {
	switch mode {
	case ModeBurst:
		return s.Burst(count, start, DefaultBurstWindow)
	case ModeNormal, "":
		return s.Generate(count, start, span)
	default:
		return nil, fmt.Errorf("unknown simulation mode %q (supported: normal, burst)", mode)
	}
}

func hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
