package carbon

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/api"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/cache"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/clock"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/config"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/forecast"
)

const (
	currentCacheKey = "current_all"

	// minFilteredDatacenters is the fewest datacenters the floor filter may
	// leave; below this it clamps intensities instead of excluding sites.
	minFilteredDatacenters = 3
)

// lowCarbonFuels are the generation-mix fuels counted towards the renewable percentage.
var lowCarbonFuels = map[string]bool{
	"wind":    true,
	"solar":   true,
	"hydro":   true,
	"nuclear": true,
}

// Source is the subset of the API client the provider depends on.
type Source interface {
	GetRegional(ctx context.Context) ([]api.Region, error)
	GetNationalForecast(ctx context.Context, from, to time.Time) ([]api.IntensityPeriod, error)
}

// APIProvider implements Provider over a regional carbon intensity API with
// caching, optional history recording and static fallback data.
type APIProvider struct {
	source      Source
	regions     map[int]string
	datacenters []string
	defaults    Snapshot
	floor       float64

	snapshots *cache.Cache[Snapshot]
	forecasts *cache.Cache[Forecast]

	history  forecast.HistoryStore
	lookback time.Duration
	clock    clock.Clock
}

var _ Provider = (*APIProvider)(nil)

// Option customizes the provider
type Option func(*APIProvider)

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(p *APIProvider) {
		p.clock = c
	}
}

// WithHistory records every live snapshot into store and uses its hourly
// profiles to build fallback data.
func WithHistory(store forecast.HistoryStore) Option {
	return func(p *APIProvider) {
		p.history = store
	}
}

// WithDefaults replaces the static fallback table.
func WithDefaults(s Snapshot) Option {
	return func(p *APIProvider) {
		p.defaults = s
	}
}

// New creates a provider for the datacenters and region mapping in cfg.
func New(cfg *config.Config, source Source, opts ...Option) *APIProvider {
	ids := make([]string, 0, len(cfg.Datacenters))
	for _, dc := range cfg.Datacenters {
		ids = append(ids, dc.ID)
	}

	p := &APIProvider{
		source:      source,
		regions:     cfg.RegionIndex(),
		datacenters: ids,
		defaults:    DefaultSnapshot(),
		floor:       cfg.Carbon.MinIntensityFloor,
		lookback:    time.Duration(cfg.Carbon.HistoryLookback) * 24 * time.Hour,
		clock:       clock.RealClock{},
	}
	for _, opt := range opts {
		opt(p)
	}

	p.snapshots = cache.New[Snapshot](cfg.Cache.TTL, cfg.Cache.MaxAge, cache.WithClock[Snapshot](p.clock))
	p.forecasts = cache.New[Forecast](cfg.Cache.TTL, cfg.Cache.MaxAge, cache.WithClock[Forecast](p.clock))

	return p
}

// DefaultSnapshot is the static table used when the API is unreachable.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		"UK-Scotland": {Intensity: 85, Renewable: 80, Index: "low", Estimated: true},
		"UK-North":    {Intensity: 145, Renewable: 55, Index: "moderate", Estimated: true},
		"UK-Wales":    {Intensity: 195, Renewable: 42, Index: "moderate", Estimated: true},
		"UK-Midlands": {Intensity: 180, Renewable: 45, Index: "moderate", Estimated: true},
		"UK-East":     {Intensity: 165, Renewable: 50, Index: "moderate", Estimated: true},
		"UK-South":    {Intensity: 230, Renewable: 35, Index: "high", Estimated: true},
	}
}

// CurrentIntensity returns the cached snapshot, fetching a new one when it is stale.
func (p *APIProvider) CurrentIntensity(ctx context.Context) Snapshot {
	if cached, ok := p.snapshots.Get(currentCacheKey); ok {
		klog.V(3).InfoS("Using cached carbon intensity", "datacenters", len(cached))
		return cached.Clone()
	}

	regions, err := p.source.GetRegional(ctx)
	if err != nil {
		klog.ErrorS(err, "Failed to fetch regional carbon intensity, using fallback data")
		return p.fallbackSnapshot()
	}

	now := p.clock.Now()
	result := p.fromRegions(regions, now)
	if len(result) == 0 {
		klog.InfoS("Regional response matched no configured datacenter, using fallback data",
			"regions", len(regions))
		return p.fallbackSnapshot()
	}

	result = applyFloor(result, p.floor)

	for _, id := range result.IDs() {
		v := result[id]
		klog.V(2).InfoS("Carbon intensity", "datacenter", id, "intensity", v.Intensity, "renewable", v.Renewable, "region", v.RegionName)
	}

	p.snapshots.Set(currentCacheKey, result)
	p.record(result, now)
	return result.Clone()
}

// fromRegions maps API regions onto datacenters. When several regions map to
// one datacenter the lowest intensity wins.
func (p *APIProvider) fromRegions(regions []api.Region, now time.Time) Snapshot {
	result := make(Snapshot)
	for _, region := range regions {
		dcID, ok := p.regions[region.RegionID]
		if !ok {
			continue
		}

		intensity, ok := region.Intensity.Value()
		if !ok {
			intensity = DefaultIntensity
		}

		mix := make(map[string]float64, len(region.GenerationMix))
		renewable := 0.0
		for _, share := range region.GenerationMix {
			mix[share.Fuel] = share.Perc
			if lowCarbonFuels[share.Fuel] {
				renewable += share.Perc
			}
		}

		if existing, ok := result[dcID]; ok && existing.Intensity <= intensity {
			continue
		}
		result[dcID] = Intensity{
			Intensity:     intensity,
			Renewable:     renewable,
			Index:         region.Intensity.Index,
			RegionName:    region.ShortName,
			GenerationMix: mix,
			Timestamp:     now,
		}
	}
	return result
}

// applyFloor drops datacenters reporting below floor. If fewer than three
// would remain it keeps every datacenter and raises low values to the floor.
func applyFloor(s Snapshot, floor float64) Snapshot {
	if floor <= 0 {
		return s
	}

	filtered := make(Snapshot, len(s))
	var excluded []string
	for id, v := range s {
		if v.Intensity < floor {
			excluded = append(excluded, fmt.Sprintf("%s (%.0f gCO2/kWh)", id, v.Intensity))
			continue
		}
		filtered[id] = v
	}
	if len(excluded) > 0 {
		klog.V(2).InfoS("Excluded datacenters below intensity floor", "floor", floor, "excluded", excluded)
	}

	if len(filtered) >= minFilteredDatacenters {
		return filtered
	}

	klog.InfoS("Too few datacenters above intensity floor, clamping instead",
		"floor", floor, "remaining", len(filtered))
	clamped := make(Snapshot, len(s))
	for id, v := range s {
		v.Intensity = max(v.Intensity, floor)
		clamped[id] = v
	}
	return clamped
}

// Forecast returns hourly intensities for every datacenter in the current
// snapshot. The national forecast is scaled per datacenter by the ratio of
// its current intensity to the snapshot mean.
func (p *APIProvider) Forecast(ctx context.Context, hours int) Forecast {
	if hours <= 0 {
		hours = 1
	}
	key := fmt.Sprintf("forecast_%d", hours)
	if cached, ok := p.forecasts.Get(key); ok {
		klog.V(3).InfoS("Using cached carbon forecast", "hours", hours)
		return cached
	}

	now := p.clock.Now()
	periods, err := p.source.GetNationalForecast(ctx, now, now.Add(time.Duration(hours)*time.Hour))
	if err != nil {
		klog.ErrorS(err, "Failed to fetch carbon forecast, using fallback data", "hours", hours)
		return p.fallbackForecast(hours)
	}

	national, origin := hourlyNational(periods, hours)
	if len(national) == 0 {
		klog.InfoS("Forecast response had no usable periods, using fallback data")
		return p.fallbackForecast(hours)
	}

	current := p.CurrentIntensity(ctx)
	avg := 0.0
	for _, v := range current {
		avg += v.Intensity
	}
	if len(current) > 0 {
		avg /= float64(len(current))
	}

	result := make(Forecast, hours*len(current))
	for slot := 0; slot < hours; slot++ {
		for id, v := range current {
			ratio := 1.0
			if avg > 0 {
				ratio = v.Intensity / avg
			}
			result[SlotKey{DatacenterID: id, Slot: slot}] = Intensity{
				Intensity: max(national[slot]*ratio, p.floor),
				Renewable: v.Renewable,
				Index:     v.Index,
				Timestamp: origin.Add(time.Duration(slot) * time.Hour),
				Estimated: v.Estimated,
			}
		}
	}

	klog.V(2).InfoS("Built carbon forecast", "hours", hours, "datacenters", len(current), "origin", origin)
	p.forecasts.Set(key, result)
	return result
}

// hourlyNational averages the half-hourly national periods into hourly slots
// measured from the first period. Slots without data repeat the previous one.
func hourlyNational(periods []api.IntensityPeriod, hours int) ([]float64, time.Time) {
	var origin time.Time
	sums := make([]float64, hours)
	counts := make([]int, hours)
	for _, period := range periods {
		start, err := period.Start()
		if err != nil {
			klog.V(3).InfoS("Skipping forecast period with bad timestamp", "from", period.From, "error", err)
			continue
		}
		if origin.IsZero() {
			origin = start
		}
		slot := int(start.Sub(origin) / time.Hour)
		if slot < 0 || slot >= hours {
			continue
		}
		value, ok := period.Intensity.Value()
		if !ok {
			continue
		}
		sums[slot] += value
		counts[slot]++
	}
	if origin.IsZero() || counts[0] == 0 {
		return nil, origin
	}

	out := make([]float64, hours)
	for i := range out {
		switch {
		case counts[i] > 0:
			out[i] = sums[i] / float64(counts[i])
		default:
			out[i] = out[i-1]
		}
	}
	return out, origin
}

// fallbackSnapshot covers every configured datacenter, preferring the
// history profile for the current hour over the static table. It is never cached.
func (p *APIProvider) fallbackSnapshot() Snapshot {
	now := p.clock.Now()
	result := make(Snapshot, len(p.datacenters))
	for _, id := range p.datacenters {
		v := p.defaultFor(id)
		if stat, ok := p.profile(id).At(now); ok {
			v.Intensity = stat.Intensity
			v.Renewable = stat.Renewable
		}
		v.Timestamp = now
		result[id] = v
	}
	return result
}

// fallbackForecast uses history profiles when present, else the static
// table with a repeating eight-hour variation.
func (p *APIProvider) fallbackForecast(hours int) Forecast {
	now := p.clock.Now()
	result := make(Forecast, hours*len(p.datacenters))
	for _, id := range p.datacenters {
		base := p.defaultFor(id)
		profile := p.profile(id)
		for slot := 0; slot < hours; slot++ {
			at := now.Add(time.Duration(slot) * time.Hour)
			v := base
			if stat, ok := profile.At(at); ok {
				v.Intensity = stat.Intensity
				v.Renewable = stat.Renewable
			} else {
				v.Intensity = base.Intensity + float64(slot%8-4)*10
			}
			v.Intensity = max(v.Intensity, p.floor, 0)
			v.Timestamp = at
			result[SlotKey{DatacenterID: id, Slot: slot}] = v
		}
	}
	return result
}

func (p *APIProvider) defaultFor(id string) Intensity {
	if v, ok := p.defaults[id]; ok {
		v.Estimated = true
		return v
	}
	return defaultIntensity()
}

func (p *APIProvider) profile(id string) forecast.Profile {
	if p.history == nil {
		return nil
	}
	since := p.clock.Now().Add(-p.lookback)
	profile, err := p.history.HourlyProfile(id, since)
	if err != nil {
		klog.V(2).InfoS("Failed to read carbon history", "datacenter", id, "error", err)
		return nil
	}
	return profile
}

func (p *APIProvider) record(s Snapshot, now time.Time) {
	if p.history == nil {
		return
	}
	records := make([]forecast.Record, 0, len(s))
	for _, id := range s.IDs() {
		records = append(records, forecast.Record{
			Timestamp:    now,
			DatacenterID: id,
			Intensity:    s[id].Intensity,
			Renewable:    s[id].Renewable,
		})
	}
	if err := p.history.Store(records); err != nil {
		klog.ErrorS(err, "Failed to record carbon history")
	}
}

// ClearCache drops cached snapshots and forecasts.
func (p *APIProvider) ClearCache() {
	p.snapshots.Clear()
	p.forecasts.Clear()
	klog.V(2).InfoS("Carbon cache cleared")
}

// Close stops the cache cleanup loops.
func (p *APIProvider) Close() {
	p.snapshots.Close()
	p.forecasts.Close()
}
