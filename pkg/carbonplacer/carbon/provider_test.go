package carbon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/api"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/clock"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/config"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/forecast"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/model"
)

var testNow = time.Date(2025, 12, 10, 14, 0, 0, 0, time.UTC)

const regionalBody = `{"data":[{"regionid":0,"from":"2025-12-10T13:30Z","to":"2025-12-10T14:00Z","regions":[
 {"regionid":1,"shortname":"North Scotland","intensity":{"forecast":60,"index":"low"},
  "generationmix":[{"fuel":"wind","perc":70},{"fuel":"gas","perc":20},{"fuel":"nuclear","perc":10}]},
 {"regionid":2,"shortname":"South Scotland","intensity":{"forecast":40,"index":"very low"},
  "generationmix":[{"fuel":"wind","perc":60},{"fuel":"hydro","perc":5},{"fuel":"gas","perc":35}]},
 {"regionid":13,"shortname":"London","intensity":{"forecast":260,"index":"high"},
  "generationmix":[{"fuel":"gas","perc":70},{"fuel":"solar","perc":10},{"fuel":"imports","perc":20}]},
 {"regionid":99,"shortname":"Unmapped","intensity":{"forecast":1,"index":"very low"},"generationmix":[]}
]}]}`

const forecastBody = `{"data":[
 {"from":"2025-12-10T14:00Z","to":"2025-12-10T14:30Z","intensity":{"forecast":100,"index":"low"}},
 {"from":"2025-12-10T14:30Z","to":"2025-12-10T15:00Z","intensity":{"forecast":120,"index":"low"}},
 {"from":"2025-12-10T15:00Z","to":"2025-12-10T15:30Z","intensity":{"forecast":200,"index":"moderate"}},
 {"from":"2025-12-10T15:30Z","to":"2025-12-10T16:00Z","intensity":{"forecast":200,"index":"moderate"}}
]}`

type fakeAPI struct {
	server   *httptest.Server
	requests atomic.Int32
	fail     atomic.Bool
}

func newFakeAPI(t *testing.T) *fakeAPI {
	f := &fakeAPI{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		if f.fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		switch {
		case r.URL.Path == "/regional":
			w.Write([]byte(regionalBody))
		case strings.HasPrefix(r.URL.Path, "/intensity/"):
			w.Write([]byte(forecastBody))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func testConfig(url string) *config.Config {
	return &config.Config{
		API: config.APIConfig{URL: url, Timeout: 2 * time.Second, RetryDelay: time.Millisecond, RateLimit: 1000},
		Cache: config.CacheConfig{TTL: 30 * time.Minute, MaxAge: time.Hour},
		Carbon: config.CarbonConfig{HistoryLookback: 7},
		Datacenters: []model.Datacenter{
			{ID: "UK-Scotland", TotalCPU: 10, TotalMemory: 10},
			{ID: "UK-South", TotalCPU: 10, TotalMemory: 10},
			{ID: "DC-Custom", TotalCPU: 10, TotalMemory: 10},
		},
		Regions: []config.RegionMapping{
			{RegionID: 1, DatacenterID: "UK-Scotland"},
			{RegionID: 2, DatacenterID: "UK-Scotland"},
			{RegionID: 13, DatacenterID: "UK-South"},
		},
	}
}

func newTestProvider(t *testing.T, cfg *config.Config, opts ...Option) (*APIProvider, *clock.FakeClock) {
	client := api.NewClient(cfg.API)
	t.Cleanup(client.Close)
	fc := clock.NewFakeClock(testNow)
	p := New(cfg, client, append([]Option{WithClock(fc)}, opts...)...)
	t.Cleanup(p.Close)
	return p, fc
}

func TestCurrentIntensityFromAPI(t *testing.T) {
	fake := newFakeAPI(t)
	p, _ := newTestProvider(t, testConfig(fake.server.URL))

	snap := p.CurrentIntensity(context.Background())
	require.Len(t, snap, 2, "only mapped datacenters with data")

	scotland := snap["UK-Scotland"]
	assert.Equal(t, 40.0, scotland.Intensity, "lowest regional intensity wins")
	assert.Equal(t, 65.0, scotland.Renewable, "wind and hydro shares")
	assert.Equal(t, "South Scotland", scotland.RegionName)
	assert.False(t, scotland.Estimated)
	assert.Equal(t, testNow, scotland.Timestamp)

	south := snap["UK-South"]
	assert.Equal(t, 260.0, south.Intensity)
	assert.Equal(t, 10.0, south.Renewable)
	assert.Equal(t, 70.0, south.GenerationMix["gas"])

	_, ok := snap.Get("DC-Custom")
	assert.False(t, ok)
}

func TestCurrentIntensityCaching(t *testing.T) {
	fake := newFakeAPI(t)
	p, fc := newTestProvider(t, testConfig(fake.server.URL))
	ctx := context.Background()

	first := p.CurrentIntensity(ctx)
	first["UK-South"] = Intensity{Intensity: 1}
	second := p.CurrentIntensity(ctx)
	assert.Equal(t, int32(1), fake.requests.Load(), "second read is served from cache")
	assert.Equal(t, 260.0, second["UK-South"].Intensity, "callers cannot mutate the cached snapshot")

	fc.Step(31 * time.Minute)
	p.CurrentIntensity(ctx)
	assert.Equal(t, int32(2), fake.requests.Load(), "stale entry triggers a refetch")

	p.ClearCache()
	p.CurrentIntensity(ctx)
	assert.Equal(t, int32(3), fake.requests.Load())
}

func TestCurrentIntensityFallback(t *testing.T) {
	fake := newFakeAPI(t)
	fake.fail.Store(true)
	p, _ := newTestProvider(t, testConfig(fake.server.URL))
	ctx := context.Background()

	snap := p.CurrentIntensity(ctx)
	require.Len(t, snap, 3, "fallback covers every configured datacenter")
	assert.Equal(t, 85.0, snap["UK-Scotland"].Intensity)
	assert.Equal(t, 230.0, snap["UK-South"].Intensity)
	assert.Equal(t, DefaultIntensity, snap["DC-Custom"].Intensity)
	assert.Equal(t, DefaultRenewable, snap["DC-Custom"].Renewable)
	for id, v := range snap {
		assert.True(t, v.Estimated, id)
	}

	p.CurrentIntensity(ctx)
	assert.Equal(t, int32(2), fake.requests.Load(), "fallback data is not cached")
}

func TestApplyFloor(t *testing.T) {
	tests := []struct {
		name  string
		input Snapshot
		floor float64
		want  map[string]float64
	}{
		{
			name:  "disabled",
			input: Snapshot{"a": {Intensity: 10}, "b": {Intensity: 300}},
			floor: 0,
			want:  map[string]float64{"a": 10, "b": 300},
		},
		{
			name:  "excludes low datacenters when enough remain",
			input: Snapshot{"a": {Intensity: 20}, "b": {Intensity: 100}, "c": {Intensity: 150}, "d": {Intensity: 50}},
			floor: 50,
			want:  map[string]float64{"b": 100, "c": 150, "d": 50},
		},
		{
			name:  "clamps when too few remain",
			input: Snapshot{"a": {Intensity: 20}, "b": {Intensity: 100}, "c": {Intensity: 150}},
			floor: 50,
			want:  map[string]float64{"a": 50, "b": 100, "c": 150},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := applyFloor(tt.input, tt.floor)
			values := make(map[string]float64, len(got))
			for id, v := range got {
				values[id] = v.Intensity
			}
			assert.Equal(t, tt.want, values)
		})
	}
}

func TestForecastScalesNationalSeries(t *testing.T) {
	fake := newFakeAPI(t)
	cfg := testConfig(fake.server.URL)
	p, _ := newTestProvider(t, cfg)
	ctx := context.Background()

	f := p.Forecast(ctx, 3)
	// current: Scotland 40, South 260, mean 150
	require.Len(t, f, 6)
	assert.InDelta(t, 110.0*40/150, f.Lookup("UK-Scotland", 0).Intensity, 1e-9)
	assert.InDelta(t, 110.0*260/150, f.Lookup("UK-South", 0).Intensity, 1e-9)
	assert.InDelta(t, 200.0*40/150, f.Lookup("UK-Scotland", 1).Intensity, 1e-9)
	assert.InDelta(t, 200.0*40/150, f.Lookup("UK-Scotland", 2).Intensity, 1e-9, "missing slot repeats the previous")
	assert.Equal(t, 65.0, f.Lookup("UK-Scotland", 2).Renewable)
	assert.Equal(t, testNow.Add(time.Hour), f.Lookup("UK-South", 1).Timestamp)
	assert.Equal(t, 3, f.Slots())

	requests := fake.requests.Load()
	p.Forecast(ctx, 3)
	assert.Equal(t, requests, fake.requests.Load(), "forecast is cached")
}

func TestForecastAppliesFloor(t *testing.T) {
	fake := newFakeAPI(t)
	cfg := testConfig(fake.server.URL)
	cfg.Carbon.MinIntensityFloor = 50
	p, _ := newTestProvider(t, cfg)

	f := p.Forecast(context.Background(), 1)
	// Scotland 40 is clamped to 50 in the snapshot (only two datacenters), mean 155
	assert.InDelta(t, max(110.0*50/155, 50), f.Lookup("UK-Scotland", 0).Intensity, 1e-9)
}

func TestForecastFallback(t *testing.T) {
	fake := newFakeAPI(t)
	fake.fail.Store(true)
	p, _ := newTestProvider(t, testConfig(fake.server.URL))

	f := p.Forecast(context.Background(), 10)
	require.Len(t, f, 30)
	assert.Equal(t, 85.0-40, f.Lookup("UK-Scotland", 0).Intensity)
	assert.Equal(t, 85.0, f.Lookup("UK-Scotland", 4).Intensity)
	assert.Equal(t, 85.0+30, f.Lookup("UK-Scotland", 7).Intensity)
	assert.Equal(t, 85.0-40, f.Lookup("UK-Scotland", 8).Intensity)
	assert.Equal(t, DefaultIntensity-30, f.Lookup("DC-Custom", 1).Intensity)
	assert.True(t, f.Lookup("UK-South", 3).Estimated)
}

func TestHistoryRecordingAndFallback(t *testing.T) {
	fake := newFakeAPI(t)
	store, err := forecast.NewFileHistoryStore(t.TempDir())
	require.NoError(t, err)

	p, fc := newTestProvider(t, testConfig(fake.server.URL), WithHistory(store))
	ctx := context.Background()

	p.CurrentIntensity(ctx)
	profile, err := store.HourlyProfile("UK-Scotland", testNow.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 40.0, profile[14].Intensity)

	// a day later at the same hour the API is down: history beats the static table
	fake.fail.Store(true)
	fc.Step(24 * time.Hour)
	snap := p.CurrentIntensity(ctx)
	assert.Equal(t, 40.0, snap["UK-Scotland"].Intensity)
	assert.Equal(t, 65.0, snap["UK-Scotland"].Renewable)
	assert.Equal(t, DefaultIntensity, snap["DC-Custom"].Intensity, "no history for this datacenter")

	f := p.Forecast(ctx, 2)
	assert.Equal(t, 40.0, f.Lookup("UK-Scotland", 0).Intensity)
	assert.Equal(t, 85.0-30, f.Lookup("UK-Scotland", 1).Intensity, "hour 15 has no history")
}

func TestSnapshotAndForecastHelpers(t *testing.T) {
	s := Snapshot{"b": {Intensity: 2}, "a": {Intensity: 1}}
	assert.Equal(t, []string{"a", "b"}, s.IDs())
	assert.Equal(t, DefaultIntensity, s.Lookup("zzz").Intensity)

	f := FlatForecast(s, 2)
	assert.Len(t, f, 4)
	assert.Equal(t, 2, f.Slots())
	assert.Equal(t, DefaultRenewable, f.Lookup("a", 5).Renewable)

	points := f.Points()
	require.Len(t, points, 4)
	assert.Equal(t, "a", points[0].DatacenterID)
	assert.Equal(t, 0, points[1].Hour)
	assert.Equal(t, 1, points[2].Hour)
}

func TestForecastOriginAndShift(t *testing.T) {
	f := Forecast{}
	for slot := 0; slot < 4; slot++ {
		f[SlotKey{DatacenterID: "a", Slot: slot}] = Intensity{
			Intensity: float64(100 + slot),
			Timestamp: testNow.Add(time.Duration(slot) * time.Hour),
		}
	}

	origin, ok := f.Origin()
	require.True(t, ok)
	assert.Equal(t, testNow, origin)

	_, ok = FlatForecast(Snapshot{"a": {Intensity: 1}}, 2).Origin()
	assert.False(t, ok, "no timestamps")

	tests := []struct {
		name   string
		offset int
		hours  int
		want   []float64
	}{
		{name: "no offset", offset: 0, hours: 4, want: []float64{100, 101, 102, 103}},
		{name: "later batch", offset: 2, hours: 3, want: []float64{102, 103, 103}},
		{name: "earlier batch", offset: -2, hours: 4, want: []float64{100, 100, 100, 101}},
		{name: "far past", offset: -500, hours: 2, want: []float64{100, 100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shifted := f.Shift(tt.offset, tt.hours)
			got := make([]float64, tt.hours)
			for slot := range got {
				v, ok := shifted.Get("a", slot)
				require.True(t, ok, "slot %d", slot)
				got[slot] = v.Intensity
			}
			assert.Equal(t, tt.want, got)
		})
	}
}
