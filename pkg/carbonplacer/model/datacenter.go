package model

import (
	"fmt"
)

// Datacenter is the static description of a placement target. Capacity that
// changes during a run lives in a Lease, never here.
type Datacenter struct {
	ID              string  `json:"id" yaml:"id"`
	Name            string  `json:"name" yaml:"name"`
	Location        string  `json:"location" yaml:"location"`
	RegionCode      string  `json:"region_code" yaml:"regionCode"`
	Latitude        float64 `json:"latitude" yaml:"latitude"`
	Longitude       float64 `json:"longitude" yaml:"longitude"`
	TotalCPU        float64 `json:"total_cpu" yaml:"totalCPU"`
	TotalMemory     float64 `json:"total_memory" yaml:"totalMemory"`
	CostPerCoreHour float64 `json:"cost_per_core_hour" yaml:"costPerCoreHour"`
}

// Validate checks the static capacity and pricing fields.
func (d Datacenter) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("datacenter id is required")
	}
	if d.TotalCPU <= 0 {
		return fmt.Errorf("datacenter %s: total cpu must be positive", d.ID)
	}
	if d.TotalMemory <= 0 {
		return fmt.Errorf("datacenter %s: total memory must be positive", d.ID)
	}
	if d.CostPerCoreHour < 0 {
		return fmt.Errorf("datacenter %s: cost per core hour cannot be negative", d.ID)
	}
	return nil
}

// Capacity tracks the available CPU and memory of one datacenter within a
// single lease. It carries no locking: a lease and its counters belong to
// exactly one scheduling run.
type Capacity struct {
	dc              Datacenter
	availableCPU    float64
	availableMemory float64
	lease           *Lease
}

func newCapacity(dc Datacenter, lease *Lease) *Capacity {
	return &Capacity{
		dc:              dc,
		availableCPU:    dc.TotalCPU,
		availableMemory: dc.TotalMemory,
		lease:           lease,
	}
}

// Datacenter returns the static record this counter belongs to.
func (c *Capacity) Datacenter() Datacenter { return c.dc }

// ID is shorthand for Datacenter().ID.
func (c *Capacity) ID() string { return c.dc.ID }

func (c *Capacity) AvailableCPU() float64    { return c.availableCPU }
func (c *Capacity) AvailableMemory() float64 { return c.availableMemory }

// CanAccommodate reports whether cpu cores and mem GB fit in what is left.
// A counter whose lease has been closed accommodates nothing.
func (c *Capacity) CanAccommodate(cpu, mem float64) bool {
	if c.lease != nil && c.lease.closed {
		return false
	}
	return c.availableCPU >= cpu && c.availableMemory >= mem
}

// Allocate reserves cpu and mem if they fit and reports whether it did.
func (c *Capacity) Allocate(cpu, mem float64) bool {
	if !c.CanAccommodate(cpu, mem) {
		return false
	}
	c.availableCPU -= cpu
	c.availableMemory -= mem
	return true
}

// Release returns capacity, never exceeding the datacenter totals.
func (c *Capacity) Release(cpu, mem float64) {
	c.availableCPU = min(c.dc.TotalCPU, c.availableCPU+cpu)
	c.availableMemory = min(c.dc.TotalMemory, c.availableMemory+mem)
}

// Reset restores the counter to full capacity.
func (c *Capacity) Reset() {
	c.availableCPU = c.dc.TotalCPU
	c.availableMemory = c.dc.TotalMemory
}

// CPUUtilization is the allocated share of CPU in [0, 1].
func (c *Capacity) CPUUtilization() float64 {
	return (c.dc.TotalCPU - c.availableCPU) / c.dc.TotalCPU
}

// MemoryUtilization is the allocated share of memory in [0, 1].
func (c *Capacity) MemoryUtilization() float64 {
	return (c.dc.TotalMemory - c.availableMemory) / c.dc.TotalMemory
}
