package config

import (
	"fmt"
	"time"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/model"
)

// Config holds all configuration for the carbon placement service
type Config struct {
	API           APIConfig           `yaml:"api"`
	Cache         CacheConfig         `yaml:"cache"`
	Scheduling    SchedulingConfig    `yaml:"scheduling"`
	Carbon        CarbonConfig        `yaml:"carbon"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
	Datacenters   []model.Datacenter  `yaml:"datacenters"`
	Regions       []RegionMapping     `yaml:"regions"`
}

// APIConfig holds configuration for the carbon intensity API
type APIConfig struct {
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"maxRetries"`
	RetryDelay time.Duration `yaml:"retryDelay"`
	RateLimit  int           `yaml:"rateLimit"` // requests per second
}

// CacheConfig controls how long fetched carbon data is reused
type CacheConfig struct {
	TTL    time.Duration `yaml:"ttl"`
	MaxAge time.Duration `yaml:"maxAge"`
}

// SchedulingConfig holds configuration for scheduling runs
type SchedulingConfig struct {
	DefaultAlgorithm string `yaml:"defaultAlgorithm"`
	// HorizonSlots is the number of one-hour forecast slots the windowed
	// strategy may delay work into.
	HorizonSlots int   `yaml:"horizonSlots"`
	MaxWorkloads int   `yaml:"maxWorkloads"`
	RandomSeed   int64 `yaml:"randomSeed"` // 0 = seed from time
}

// CarbonConfig holds carbon data handling settings
type CarbonConfig struct {
	// MinIntensityFloor excludes datacenters reporting less than this many
	// gCO2/kWh (clamping instead when fewer than three would remain). 0 disables it.
	MinIntensityFloor float64 `yaml:"minIntensityFloor"`
	HistoryPath       string  `yaml:"historyPath"` // sqlite file, or a directory for JSON history
	HistoryBackend    string  `yaml:"historyBackend"`
	HistoryLookback   int     `yaml:"historyLookbackDays"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"readTimeout"`
	WriteTimeout   time.Duration `yaml:"writeTimeout"`
	MetricsEnabled bool          `yaml:"metricsEnabled"`
}

// ObservabilityConfig holds logging settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"logLevel"`
}

// RegionMapping maps a grid region id reported by the carbon API to a datacenter.
type RegionMapping struct {
	RegionID     int    `yaml:"regionId"`
	DatacenterID string `yaml:"datacenterId"`
}

// Validate performs validation of the configuration
func (c *Config) Validate() error {
	if c.API.URL == "" {
		return fmt.Errorf("carbon API url is required")
	}
	if c.API.RateLimit <= 0 {
		return fmt.Errorf("API rate limit must be positive")
	}
	if c.API.MaxRetries < 0 {
		return fmt.Errorf("API max retries cannot be negative")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.Scheduling.HorizonSlots <= 0 {
		return fmt.Errorf("horizon slots must be positive")
	}
	if c.Scheduling.MaxWorkloads <= 0 {
		return fmt.Errorf("max workloads must be positive")
	}
	if c.Carbon.MinIntensityFloor < 0 {
		return fmt.Errorf("minimum intensity floor cannot be negative")
	}
	switch c.Carbon.HistoryBackend {
	case "", "sqlite", "file":
	default:
		return fmt.Errorf("unknown history backend: %s", c.Carbon.HistoryBackend)
	}

	if len(c.Datacenters) == 0 {
		return fmt.Errorf("at least one datacenter is required")
	}
	seen := make(map[string]bool, len(c.Datacenters))
	for i, dc := range c.Datacenters {
		if err := dc.Validate(); err != nil {
			return fmt.Errorf("invalid datacenter at index %d: %w", i, err)
		}
		if seen[dc.ID] {
			return fmt.Errorf("duplicate datacenter id: %s", dc.ID)
		}
		seen[dc.ID] = true
	}
	for _, r := range c.Regions {
		if !seen[r.DatacenterID] {
			return fmt.Errorf("region %d maps to unknown datacenter %s", r.RegionID, r.DatacenterID)
		}
	}

	return nil
}

// RegionIndex returns the region-to-datacenter mapping as a lookup table.
func (c *Config) RegionIndex() map[int]string {
	index := make(map[int]string, len(c.Regions))
	for _, r := range c.Regions {
		index[r.RegionID] = r.DatacenterID
	}
	return index
}

// DefaultDatacenters is the built-in catalog of UK sites. The order puts
// higher-carbon regions first, which is the order FCFS and round-robin follow.
func DefaultDatacenters() []model.Datacenter {
	return []model.Datacenter{
		{ID: "UK-Wales", Name: "UK Wales", Location: "Cardiff, UK", RegionCode: "7", Latitude: 51.4816, Longitude: -3.1791, TotalCPU: 200, TotalMemory: 800, CostPerCoreHour: 0.044},
		{ID: "UK-South", Name: "UK South", Location: "London, UK", RegionCode: "13", Latitude: 51.5074, Longitude: -0.1278, TotalCPU: 200, TotalMemory: 800, CostPerCoreHour: 0.055},
		{ID: "UK-East", Name: "UK East", Location: "Cambridge, UK", RegionCode: "12", Latitude: 52.2053, Longitude: 0.1218, TotalCPU: 200, TotalMemory: 800, CostPerCoreHour: 0.050},
		{ID: "UK-Midlands", Name: "UK Midlands", Location: "Birmingham, UK", RegionCode: "9", Latitude: 52.4862, Longitude: -1.8904, TotalCPU: 200, TotalMemory: 800, CostPerCoreHour: 0.048},
		{ID: "UK-North", Name: "UK North", Location: "Manchester, UK", RegionCode: "4", Latitude: 53.4808, Longitude: -2.2426, TotalCPU: 200, TotalMemory: 800, CostPerCoreHour: 0.045},
		{ID: "UK-Scotland", Name: "UK Scotland", Location: "Edinburgh, UK", RegionCode: "2", Latitude: 55.9533, Longitude: -3.1883, TotalCPU: 200, TotalMemory: 800, CostPerCoreHour: 0.042},
	}
}

// DefaultRegions maps the fourteen GB grid regions onto the default catalog.
func DefaultRegions() []RegionMapping {
	return []RegionMapping{
		{RegionID: 1, DatacenterID: "UK-Scotland"},
		{RegionID: 2, DatacenterID: "UK-Scotland"},
		{RegionID: 3, DatacenterID: "UK-North"},
		{RegionID: 4, DatacenterID: "UK-North"},
		{RegionID: 5, DatacenterID: "UK-North"},
		{RegionID: 6, DatacenterID: "UK-Midlands"},
		{RegionID: 7, DatacenterID: "UK-Wales"},
		{RegionID: 8, DatacenterID: "UK-Midlands"},
		{RegionID: 9, DatacenterID: "UK-Midlands"},
		{RegionID: 10, DatacenterID: "UK-East"},
		{RegionID: 11, DatacenterID: "UK-South"},
		{RegionID: 12, DatacenterID: "UK-East"},
		{RegionID: 13, DatacenterID: "UK-South"},
		{RegionID: 14, DatacenterID: "UK-South"},
	}
}
