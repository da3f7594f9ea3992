package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/algorithms"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/carbon"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/clock"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/config"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/metrics"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/model"
)

// Configuration errors. Callers map these to client errors.
var (
	ErrUnknownAlgorithm  = algorithms.ErrUnknownAlgorithm
	ErrUnknownDatacenter = errors.New("unknown datacenter")
	ErrNoDatacenters     = errors.New("no datacenters with carbon data available")
	ErrNoWorkloads       = errors.New("no workloads provided")
	ErrTooManyWorkloads  = errors.New("too many workloads")
)

// Optimizer runs scheduling algorithms against fresh capacity and carbon data.
// It holds no per-run state and is safe for concurrent use.
type Optimizer struct {
	provider carbon.Provider
	catalog  []model.Datacenter

	clock            clock.Clock
	metrics          *Metrics
	horizon          int
	maxWorkloads     int
	seed             int64
	defaultAlgorithm algorithms.Name
}

// Option configures an Optimizer
type Option func(*Optimizer)

// WithClock sets the clock used to stamp schedules.
func WithClock(c clock.Clock) Option {
	return func(o *Optimizer) {
		o.clock = c
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(o *Optimizer) {
		o.metrics = m
	}
}

// WithHorizon sets the number of forecast slots the windowed strategy searches.
func WithHorizon(slots int) Option {
	return func(o *Optimizer) {
		if slots > 0 {
			o.horizon = slots
		}
	}
}

// WithMaxWorkloads caps the batch size. 0 means no limit.
func WithMaxWorkloads(n int) Option {
	return func(o *Optimizer) {
		o.maxWorkloads = n
	}
}

// WithSeed makes random placement reproducible. 0 seeds from entropy.
func WithSeed(seed int64) Option {
	return func(o *Optimizer) {
		o.seed = seed
	}
}

// WithDefaultAlgorithm sets the strategy used when a caller names none.
func WithDefaultAlgorithm(name algorithms.Name) Option {
	return func(o *Optimizer) {
		o.defaultAlgorithm = name
	}
}

// New creates an optimizer over the datacenter catalog. The catalog order is
// the list order seen by order-sensitive strategies.
func New(provider carbon.Provider, catalog []model.Datacenter, opts ...Option) *Optimizer {
	o := &Optimizer{
		provider:         provider,
		catalog:          append([]model.Datacenter(nil), catalog...),
		clock:            clock.RealClock{},
		horizon:          algorithms.DefaultHorizonSlots,
		defaultAlgorithm: algorithms.Greedy,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewFromConfig creates an optimizer from the scheduling section of cfg.
func NewFromConfig(cfg *config.Config, provider carbon.Provider, opts ...Option) (*Optimizer, error) {
	def, err := algorithms.ParseName(cfg.Scheduling.DefaultAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("invalid default algorithm: %w", err)
	}
	base := []Option{
		WithHorizon(cfg.Scheduling.HorizonSlots),
		WithMaxWorkloads(cfg.Scheduling.MaxWorkloads),
		WithSeed(cfg.Scheduling.RandomSeed),
		WithDefaultAlgorithm(def),
	}
	return New(provider, cfg.Datacenters, append(base, opts...)...), nil
}

// Datacenters returns the catalog in list order.
func (o *Optimizer) Datacenters() []model.Datacenter {
	return append([]model.Datacenter(nil), o.catalog...)
}

// Datacenter looks up one catalog entry.
func (o *Optimizer) Datacenter(id string) (model.Datacenter, bool) {
	for _, dc := range o.catalog {
		if dc.ID == id {
			return dc, true
		}
	}
	return model.Datacenter{}, false
}

// DefaultAlgorithm is the strategy used when a request names none.
func (o *Optimizer) DefaultAlgorithm() algorithms.Name {
	return o.defaultAlgorithm
}

// Horizon is the number of forecast slots searched by the windowed strategy.
func (o *Optimizer) Horizon() int {
	return o.horizon
}

// Result is the outcome of one optimize call.
type Result struct {
	Schedule        *model.Schedule
	Baseline        *model.Schedule
	Metrics         metrics.Report
	CarbonData      carbon.Snapshot
	DatacentersUsed []string
}

type resultJSON struct {
	Schedule        *model.Schedule `json:"schedule"`
	Baseline        *model.Schedule `json:"baseline"`
	Metrics         metrics.Report  `json:"metrics"`
	CarbonData      carbon.Snapshot `json:"carbon_data"`
	DatacentersUsed []string        `json:"datacenters_used"`
}

// MarshalJSON renders the result with metrics at presentation precision.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		Schedule:        r.Schedule,
		Baseline:        r.Baseline,
		Metrics:         r.Metrics.Rounded(),
		CarbonData:      r.CarbonData,
		DatacentersUsed: r.DatacentersUsed,
	})
}

// Optimize schedules workloads with algorithm on the requested datacenters
// (all known ones when ids is empty) and compares the result with an FCFS
// baseline computed on its own fresh capacity.
func (o *Optimizer) Optimize(ctx context.Context, workloads []*model.Workload, algorithm string, ids []string) (*Result, error) {
	name, err := o.resolve(algorithm)
	if err != nil {
		return nil, err
	}
	if err := o.checkBatch(workloads); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snapshot := o.provider.CurrentIntensity(ctx)
	dcs, err := o.selectDatacenters(ids, snapshot)
	if err != nil {
		return nil, err
	}

	in := o.input(ctx, workloads, snapshot, name.UsesForecast())
	optimized, err := o.run(name, in, dcs)
	if err != nil {
		return nil, err
	}
	baseline, err := o.run(algorithms.FCFS, in, dcs)
	if err != nil {
		return nil, err
	}

	report := metrics.Calculate(optimized, baseline)
	o.metrics.observe(optimized)
	o.metrics.saved(report.Carbon.CarbonSaved)

	klog.InfoS("Optimization complete",
		"algorithm", name,
		"workloads", len(workloads),
		"datacenters", len(dcs),
		"placed", len(optimized.Assignments),
		"totalCarbon", optimized.TotalCarbon(),
		"carbonSaved", report.Carbon.CarbonSaved)

	return &Result{
		Schedule:        optimized,
		Baseline:        baseline,
		Metrics:         report,
		CarbonData:      snapshot,
		DatacentersUsed: datacenterIDs(dcs),
	}, nil
}

// AlgorithmResult summarises one strategy in a comparison.
type AlgorithmResult struct {
	Algorithm        algorithms.Name                    `json:"algorithm"`
	TotalCarbon      float64                            `json:"total_carbon"`
	TotalCost        float64                            `json:"total_cost"`
	ExecutionTimeMs  float64                            `json:"execution_time_ms"`
	TasksScheduled   int                                `json:"tasks_scheduled"`
	TasksUnscheduled int                                `json:"tasks_unscheduled"`
	Distribution     map[string]metrics.DatacenterShare `json:"distribution"`
	Schedule         *model.Schedule                    `json:"-"`
}

// Rounded returns the summary at presentation precision.
func (r AlgorithmResult) Rounded() AlgorithmResult {
	out := r
	out.TotalCarbon = model.Round(r.TotalCarbon, 2)
	out.TotalCost = model.Round(r.TotalCost, 2)
	out.ExecutionTimeMs = model.Round(r.ExecutionTimeMs, 2)
	out.Distribution = make(map[string]metrics.DatacenterShare, len(r.Distribution))
	for id, share := range r.Distribution {
		out.Distribution[id] = share.Rounded()
	}
	return out
}

// Comparison is the outcome of running several strategies on one batch.
type Comparison struct {
	// Results keeps the requested order.
	Results         []AlgorithmResult
	BestAlgorithm   algorithms.Name
	CarbonData      carbon.Snapshot
	DatacentersUsed []string
}

type comparisonJSON struct {
	Results         map[algorithms.Name]AlgorithmResult `json:"results"`
	Order           []algorithms.Name                   `json:"algorithms"`
	BestAlgorithm   algorithms.Name                     `json:"best_algorithm"`
	CarbonData      carbon.Snapshot                     `json:"carbon_data"`
	DatacentersUsed []string                            `json:"datacenters_used"`
}

// MarshalJSON renders results keyed by algorithm name.
func (c *Comparison) MarshalJSON() ([]byte, error) {
	out := comparisonJSON{
		Results:         make(map[algorithms.Name]AlgorithmResult, len(c.Results)),
		Order:           make([]algorithms.Name, 0, len(c.Results)),
		BestAlgorithm:   c.BestAlgorithm,
		CarbonData:      c.CarbonData,
		DatacentersUsed: c.DatacentersUsed,
	}
	for _, r := range c.Results {
		out.Results[r.Algorithm] = r.Rounded()
		out.Order = append(out.Order, r.Algorithm)
	}
	return json.Marshal(out)
}

// Result returns the entry for name.
func (c *Comparison) Result(name algorithms.Name) (AlgorithmResult, bool) {
	for _, r := range c.Results {
		if r.Algorithm == name {
			return r, true
		}
	}
	return AlgorithmResult{}, false
}

// Compare runs every named strategy (all of them when names is empty) against
// one carbon snapshot, each on its own fresh capacity. The best algorithm is
// the one with the lowest total carbon; ties go to the earlier name.
func (o *Optimizer) Compare(ctx context.Context, workloads []*model.Workload, names []string, ids []string) (*Comparison, error) {
	resolved, err := resolveAll(names)
	if err != nil {
		return nil, err
	}
	if err := o.checkBatch(workloads); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snapshot := o.provider.CurrentIntensity(ctx)
	dcs, err := o.selectDatacenters(ids, snapshot)
	if err != nil {
		return nil, err
	}

	needForecast := false
	for _, n := range resolved {
		needForecast = needForecast || n.UsesForecast()
	}
	in := o.input(ctx, workloads, snapshot, needForecast)

	c := &Comparison{
		Results:         make([]AlgorithmResult, 0, len(resolved)),
		CarbonData:      snapshot,
		DatacentersUsed: datacenterIDs(dcs),
	}
	bestIdx := -1
	for _, name := range resolved {
		s, err := o.run(name, in, dcs)
		if err != nil {
			return nil, err
		}
		o.metrics.observe(s)

		c.Results = append(c.Results, AlgorithmResult{
			Algorithm:        name,
			TotalCarbon:      s.TotalCarbon(),
			TotalCost:        s.TotalCost(),
			ExecutionTimeMs:  s.ExecutionTimeMs,
			TasksScheduled:   len(s.Assignments),
			TasksUnscheduled: len(s.Unscheduled),
			Distribution:     metrics.Distribution(s),
			Schedule:         s,
		})
		if bestIdx < 0 || s.TotalCarbon() < c.Results[bestIdx].TotalCarbon {
			bestIdx = len(c.Results) - 1
		}
	}
	c.BestAlgorithm = c.Results[bestIdx].Algorithm

	klog.InfoS("Comparison complete",
		"algorithms", resolved,
		"workloads", len(workloads),
		"datacenters", len(dcs),
		"best", c.BestAlgorithm)
	return c, nil
}

func (o *Optimizer) resolve(algorithm string) (algorithms.Name, error) {
	if algorithm == "" {
		return o.defaultAlgorithm, nil
	}
	return algorithms.ParseName(algorithm)
}

// resolveAll parses names, dropping repeats. Empty means every strategy.
func resolveAll(names []string) ([]algorithms.Name, error) {
	if len(names) == 0 {
		return algorithms.Names(), nil
	}
	seen := sets.New[algorithms.Name]()
	out := make([]algorithms.Name, 0, len(names))
	for _, raw := range names {
		n, err := algorithms.ParseName(raw)
		if err != nil {
			return nil, err
		}
		if seen.Has(n) {
			continue
		}
		seen.Insert(n)
		out = append(out, n)
	}
	return out, nil
}

func (o *Optimizer) checkBatch(workloads []*model.Workload) error {
	if len(workloads) == 0 {
		return ErrNoWorkloads
	}
	if o.maxWorkloads > 0 && len(workloads) > o.maxWorkloads {
		return fmt.Errorf("%w: %d exceeds the limit of %d", ErrTooManyWorkloads, len(workloads), o.maxWorkloads)
	}
	return nil
}

// selectDatacenters restricts the catalog to the requested ids, keeping
// catalog order, and drops any datacenter without carbon data.
func (o *Optimizer) selectDatacenters(ids []string, snapshot carbon.Snapshot) ([]model.Datacenter, error) {
	known := sets.New[string]()
	for _, dc := range o.catalog {
		known.Insert(dc.ID)
	}

	wanted := known
	if len(ids) > 0 {
		wanted = sets.New(ids...)
		if missing := wanted.Difference(known); missing.Len() > 0 {
			return nil, fmt.Errorf("%w: %v", ErrUnknownDatacenter, sets.List(missing))
		}
	}

	var out []model.Datacenter
	for _, dc := range o.catalog {
		if !wanted.Has(dc.ID) {
			continue
		}
		if _, ok := snapshot.Get(dc.ID); !ok {
			klog.V(2).InfoS("Skipping datacenter without carbon data", "datacenter", dc.ID)
			continue
		}
		out = append(out, dc)
	}
	if len(out) == 0 {
		return nil, ErrNoDatacenters
	}
	return out, nil
}

// input builds the shared part of every run. The horizon origin is the
// earliest arrival in the batch.
func (o *Optimizer) input(ctx context.Context, workloads []*model.Workload, snapshot carbon.Snapshot, withForecast bool) algorithms.Input {
	origin := workloads[0].ArrivalTime()
	for _, w := range workloads[1:] {
		if w.ArrivalTime().Before(origin) {
			origin = w.ArrivalTime()
		}
	}

	now := o.clock.Now()
	in := algorithms.Input{
		Workloads: workloads,
		Carbon:    snapshot,
		Origin:    origin,
		Slots:     o.horizon,
		Now:       now,
	}
	if withForecast {
		in.Forecast = o.alignedForecast(ctx, origin, now)
	}
	return in
}

// maxForecastLead bounds how far past the current hour a batch origin may
// pull the forecast request.
const maxForecastLead = 48

// alignedForecast fetches a forecast and re-indexes it so that slot 0 is the
// hour holding the batch origin rather than the provider's current hour.
// Batches that start in the past use the earliest forecast slot.
func (o *Optimizer) alignedForecast(ctx context.Context, origin, now time.Time) carbon.Forecast {
	lead := min(maxForecastLead, max(0, hoursBetween(now, origin)))
	f := o.provider.Forecast(ctx, o.horizon+lead)

	start, ok := f.Origin()
	if !ok {
		start = now
	}
	offset := hoursBetween(start, origin)
	if offset != 0 {
		klog.V(3).InfoS("Aligning forecast to batch origin", "origin", origin, "forecastOrigin", start, "offsetHours", offset)
	}
	return f.Shift(offset, o.horizon)
}

// run executes one strategy on a lease of its own, closed when the run ends.
func (o *Optimizer) run(name algorithms.Name, in algorithms.Input, dcs []model.Datacenter) (*model.Schedule, error) {
	algo, err := algorithms.New(name, algorithms.WithRand(o.rng()))
	if err != nil {
		return nil, err
	}

	lease := model.NewLease(dcs)
	defer lease.Close()
	in.Lease = lease
	return algo.Schedule(in), nil
}

func (o *Optimizer) rng() *rand.Rand {
	if o.seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(uint64(o.seed), uint64(o.seed)))
}

func datacenterIDs(dcs []model.Datacenter) []string {
	out := make([]string, len(dcs))
	for i, dc := range dcs {
		out[i] = dc.ID
	}
	return out
}

// hoursBetween is the number of hours from a to b, rounded to the nearest
// whole hour.
func hoursBetween(a, b time.Time) int {
	return int(math.Round(b.Sub(a).Hours()))
}
