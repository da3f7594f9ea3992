package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"
)

// ConfigPathEnv names the optional YAML file layered over the environment.
const ConfigPathEnv = "CARBONPLACER_CONFIG"

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		API: APIConfig{
			URL:        getEnvOrDefault("CARBON_API_URL", "https://api.carbonintensity.org.uk"),
			Timeout:    getDurationOrDefault("CARBON_API_TIMEOUT", 10*time.Second),
			MaxRetries: getIntOrDefault("CARBON_API_MAX_RETRIES", 2),
			RetryDelay: getDurationOrDefault("CARBON_API_RETRY_DELAY", 500*time.Millisecond),
			RateLimit:  getIntOrDefault("CARBON_API_RATE_LIMIT", 10),
		},
		Cache: CacheConfig{
			TTL:    getDurationOrDefault("CARBON_CACHE_TTL", 30*time.Minute),
			MaxAge: getDurationOrDefault("CARBON_CACHE_MAX_AGE", 2*time.Hour),
		},
		Scheduling: SchedulingConfig{
			DefaultAlgorithm: getEnvOrDefault("DEFAULT_ALGORITHM", "greedy"),
			HorizonSlots:     getIntOrDefault("FORECAST_HORIZON_SLOTS", 24),
			MaxWorkloads:     getIntOrDefault("MAX_WORKLOADS_PER_REQUEST", 1000),
			RandomSeed:       int64(getIntOrDefault("RANDOM_SEED", 0)),
		},
		Carbon: CarbonConfig{
			MinIntensityFloor: getFloatOrDefault("CARBON_MIN_INTENSITY_FLOOR", 0),
			HistoryPath:       os.Getenv("CARBON_HISTORY_PATH"),
			HistoryBackend:    getEnvOrDefault("CARBON_HISTORY_BACKEND", "sqlite"),
			HistoryLookback:   getIntOrDefault("CARBON_HISTORY_LOOKBACK_DAYS", 14),
		},
		Server: ServerConfig{
			Port:           getIntOrDefault("SERVER_PORT", 5000),
			ReadTimeout:    getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:   getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			MetricsEnabled: getBoolOrDefault("METRICS_ENABLED", true),
		},
		Observability: ObservabilityConfig{
			LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		},
		Datacenters: DefaultDatacenters(),
		Regions:     DefaultRegions(),
	}

	if path := os.Getenv(ConfigPathEnv); path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	klog.V(2).InfoS("Loaded configuration",
		"carbonAPI", cfg.API.URL,
		"cacheTTL", cfg.Cache.TTL,
		"defaultAlgorithm", cfg.Scheduling.DefaultAlgorithm,
		"horizonSlots", cfg.Scheduling.HorizonSlots,
		"datacenters", len(cfg.Datacenters),
		"historyBackend", cfg.Carbon.HistoryBackend)

	return cfg, nil
}

// loadFile overlays the YAML document at path onto cfg. Sections absent from
// the file keep their current values; a datacenters list replaces the catalog.
func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.Atoi(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid integer value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := strconv.ParseFloat(strValue, 64); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid float value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if strValue := os.Getenv(key); strValue != "" {
		value, err := strconv.ParseBool(strValue)
		if err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid boolean value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if strValue := os.Getenv(key); strValue != "" {
		if value, err := time.ParseDuration(strValue); err == nil {
			return value
		}
		klog.V(2).InfoS("Invalid duration value, using default",
			"key", key,
			"value", strValue,
			"default", defaultValue)
	}
	return defaultValue
}
