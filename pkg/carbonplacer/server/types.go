package server

import (
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/carbon"
	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/model"
)

// OptimizeRequest is the body of POST /api/optimize.
type OptimizeRequest struct {
	Workloads   []model.WorkloadSpec `json:"workloads"`
	Algorithm   string               `json:"algorithm"`
	Datacenters []string             `json:"datacenters,omitempty"`
}

// CompareRequest is the body of POST /api/compare.
type CompareRequest struct {
	Workloads   []model.WorkloadSpec `json:"workloads"`
	Algorithms  []string             `json:"algorithms,omitempty"`
	Datacenters []string             `json:"datacenters,omitempty"`
}

// SimulateRequest is the body of POST /api/simulate.
type SimulateRequest struct {
	Count         int     `json:"count"`
	TimeSpanHours float64 `json:"time_span_hours"`
	Mode          string  `json:"mode"`
	Seed          uint64  `json:"seed,omitempty"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Success bool     `json:"success"`
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// DatacenterView is a catalog entry with its current carbon signal.
type DatacenterView struct {
	model.Datacenter
	Carbon *carbon.Intensity `json:"carbon,omitempty"`
}

type datacentersResponse struct {
	Success     bool             `json:"success"`
	Datacenters []DatacenterView `json:"datacenters"`
	Count       int              `json:"count"`
}

type datacenterResponse struct {
	Success    bool           `json:"success"`
	Datacenter DatacenterView `json:"datacenter"`
}

type carbonResponse struct {
	Success   bool                        `json:"success"`
	Data      carbon.Snapshot             `json:"data"`
	Forecast  map[string]carbon.Intensity `json:"forecast,omitempty"`
	Timestamp string                      `json:"timestamp"`
}

type forecastEntry struct {
	Hour      int     `json:"hour"`
	Intensity float64 `json:"intensity"`
	Renewable float64 `json:"renewable"`
}

type forecastResponse struct {
	Success   bool                       `json:"success"`
	Forecast  map[string][]forecastEntry `json:"forecast"`
	Hours     int                        `json:"hours"`
	Timestamp string                     `json:"timestamp"`
}

type workloadsResponse struct {
	Success   bool              `json:"success"`
	Workloads []*model.Workload `json:"workloads"`
	Count     int               `json:"count"`
	Mode      string            `json:"mode,omitempty"`
	Errors    []string          `json:"errors,omitempty"`
	Message   string            `json:"message,omitempty"`
}

type algorithmView struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	UsesForecast bool   `json:"uses_forecast"`
}

type healthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}
