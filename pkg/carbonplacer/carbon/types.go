package carbon

import (
	"context"
	"sort"
	"time"
)

// Moderate values assumed for a datacenter with no carbon data.
const (
	DefaultIntensity = 200.0
	DefaultRenewable = 30.0
)

// Provider supplies carbon signals to the scheduler. Implementations never
// fail: when live data is unavailable they substitute fallback data.
type Provider interface {
	// CurrentIntensity returns the latest intensity for every known datacenter.
	CurrentIntensity(ctx context.Context) Snapshot
	// Forecast returns hourly intensities for the next hours, slot 0 being now.
	Forecast(ctx context.Context, hours int) Forecast
}

// Intensity is the carbon signal of one datacenter at one point in time.
type Intensity struct {
	Intensity     float64            `json:"intensity"` // gCO2eq/kWh
	Renewable     float64            `json:"renewable"` // percentage (0-100)
	Index         string             `json:"index,omitempty"`
	RegionName    string             `json:"region_name,omitempty"`
	GenerationMix map[string]float64 `json:"generation_mix,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
	// Estimated marks fallback values that did not come from the live API.
	Estimated bool `json:"estimated,omitempty"`
}

func defaultIntensity() Intensity {
	return Intensity{Intensity: DefaultIntensity, Renewable: DefaultRenewable, Index: "moderate", Estimated: true}
}

// Snapshot maps datacenter id to its current carbon signal.
type Snapshot map[string]Intensity

// Get returns the entry for id and whether it exists.
func (s Snapshot) Get(id string) (Intensity, bool) {
	v, ok := s[id]
	return v, ok
}

// Lookup returns the entry for id or the moderate default when it is missing.
func (s Snapshot) Lookup(id string) Intensity {
	if v, ok := s[id]; ok {
		return v
	}
	return defaultIntensity()
}

// IDs returns the datacenter ids in the snapshot, sorted.
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a shallow copy that callers may modify.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// SlotKey addresses one datacenter in one hourly forecast slot.
type SlotKey struct {
	DatacenterID string
	Slot         int
}

// Forecast maps (datacenter, slot) to the expected carbon signal.
type Forecast map[SlotKey]Intensity

// Get returns the entry for id at slot and whether it exists.
func (f Forecast) Get(id string, slot int) (Intensity, bool) {
	v, ok := f[SlotKey{DatacenterID: id, Slot: slot}]
	return v, ok
}

// Lookup returns the entry for id at slot or the moderate default.
func (f Forecast) Lookup(id string, slot int) Intensity {
	if v, ok := f.Get(id, slot); ok {
		return v
	}
	return defaultIntensity()
}

// Slots is one more than the highest slot index present.
func (f Forecast) Slots() int {
	n := 0
	for k := range f {
		if k.Slot+1 > n {
			n = k.Slot + 1
		}
	}
	return n
}

// Origin is the timestamp of the earliest slot that carries one.
func (f Forecast) Origin() (time.Time, bool) {
	var origin time.Time
	slot := -1
	for k, v := range f {
		if v.Timestamp.IsZero() {
			continue
		}
		if slot < 0 || k.Slot < slot {
			slot = k.Slot
			origin = v.Timestamp.Add(-time.Duration(k.Slot) * time.Hour)
		}
	}
	return origin, slot >= 0
}

// Shift re-indexes the forecast so that slot 0 is offset slots after the
// current slot 0, keeping hours slots. Slots outside the forecast take the
// nearest slot it covers.
func (f Forecast) Shift(offset, hours int) Forecast {
	n := f.Slots()
	if offset == 0 || n == 0 {
		return f
	}
	ids := make(map[string]struct{})
	for k := range f {
		ids[k.DatacenterID] = struct{}{}
	}

	out := make(Forecast, len(ids)*hours)
	for slot := 0; slot < hours; slot++ {
		src := max(0, min(n-1, slot+offset))
		for id := range ids {
			if v, ok := f.Get(id, src); ok {
				out[SlotKey{DatacenterID: id, Slot: slot}] = v
			}
		}
	}
	return out
}

// ForecastPoint is the flattened external form of one forecast entry.
type ForecastPoint struct {
	DatacenterID string  `json:"datacenter_id"`
	Hour         int     `json:"hour"`
	Intensity    float64 `json:"intensity"`
	Renewable    float64 `json:"renewable"`
	Timestamp    string  `json:"timestamp,omitempty"`
}

// Points lists the forecast ordered by hour, then datacenter id.
func (f Forecast) Points() []ForecastPoint {
	points := make([]ForecastPoint, 0, len(f))
	for k, v := range f {
		p := ForecastPoint{
			DatacenterID: k.DatacenterID,
			Hour:         k.Slot,
			Intensity:    v.Intensity,
			Renewable:    v.Renewable,
		}
		if !v.Timestamp.IsZero() {
			p.Timestamp = v.Timestamp.UTC().Format(time.RFC3339)
		}
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].Hour != points[j].Hour {
			return points[i].Hour < points[j].Hour
		}
		return points[i].DatacenterID < points[j].DatacenterID
	})
	return points
}

// FlatForecast repeats a snapshot across hours slots.
func FlatForecast(s Snapshot, hours int) Forecast {
	f := make(Forecast, len(s)*hours)
	for slot := 0; slot < hours; slot++ {
		for id, v := range s {
			f[SlotKey{DatacenterID: id, Slot: slot}] = v
		}
	}
	return f
}
