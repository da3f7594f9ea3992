package forecast

import (
	"time"
)

// Record is one observed carbon intensity sample for a datacenter.
type Record struct {
	Timestamp    time.Time `json:"timestamp"`
	DatacenterID string    `json:"datacenterId"`
	Intensity    float64   `json:"intensity"` // gCO2eq/kWh
	Renewable    float64   `json:"renewable"` // percentage (0-100)
}

// HourStat aggregates the samples observed in one UTC hour of the day.
type HourStat struct {
	Intensity float64 `json:"intensity"`
	Renewable float64 `json:"renewable"`
	Samples   int     `json:"samples"`
}

// Profile maps hour of day (0-23, UTC) to the mean observation for that hour.
// Hours without samples are absent.
type Profile map[int]HourStat

// At returns the statistics for the hour of day containing t.
func (p Profile) At(t time.Time) (HourStat, bool) {
	s, ok := p[t.UTC().Hour()]
	return s, ok
}
