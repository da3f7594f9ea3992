package mock

import (
	"context"
	"sync"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/carbon"
)

// Provider implements carbon.Provider with fixed data for testing
type Provider struct {
	snapshot carbon.Snapshot
	forecast carbon.Forecast

	mu            sync.Mutex
	currentCalls  int
	forecastCalls int
}

// New creates a mock whose forecast repeats the snapshot in every slot.
func New(snapshot carbon.Snapshot) *Provider {
	return &Provider{snapshot: snapshot}
}

// NewWithForecast creates a mock with an explicit forecast.
func NewWithForecast(snapshot carbon.Snapshot, forecast carbon.Forecast) *Provider {
	return &Provider{snapshot: snapshot, forecast: forecast}
}

// Uniform builds a snapshot giving every id the same intensity and renewable share.
func Uniform(intensity, renewable float64, ids ...string) carbon.Snapshot {
	s := make(carbon.Snapshot, len(ids))
	for _, id := range ids {
		s[id] = carbon.Intensity{Intensity: intensity, Renewable: renewable}
	}
	return s
}

// CurrentIntensity returns a copy of the configured snapshot
func (m *Provider) CurrentIntensity(ctx context.Context) carbon.Snapshot {
	m.mu.Lock()
	m.currentCalls++
	m.mu.Unlock()
	return m.snapshot.Clone()
}

// Forecast returns the configured forecast, or the snapshot repeated over hours
func (m *Provider) Forecast(ctx context.Context, hours int) carbon.Forecast {
	m.mu.Lock()
	m.forecastCalls++
	m.mu.Unlock()
	if m.forecast != nil {
		return m.forecast
	}
	return carbon.FlatForecast(m.snapshot, hours)
}

// Calls reports how many times each method was invoked.
func (m *Provider) Calls() (current, forecast int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentCalls, m.forecastCalls
}

// FuncProvider delegates to caller-supplied functions for finer control in tests
type FuncProvider struct {
	CurrentIntensityFunc func(ctx context.Context) carbon.Snapshot
	ForecastFunc         func(ctx context.Context, hours int) carbon.Forecast
}

// CurrentIntensity delegates to the mock function
func (m *FuncProvider) CurrentIntensity(ctx context.Context) carbon.Snapshot {
	if m.CurrentIntensityFunc != nil {
		return m.CurrentIntensityFunc(ctx)
	}
	return carbon.Snapshot{}
}

// Forecast delegates to the mock function
func (m *FuncProvider) Forecast(ctx context.Context, hours int) carbon.Forecast {
	if m.ForecastFunc != nil {
		return m.ForecastFunc(ctx, hours)
	}
	return carbon.Forecast{}
}
