package model

// Lease owns an independent, fully reset set of capacity counters for one
// scheduling run. Counters keep the order of the datacenters the lease was
// created from; algorithms that depend on list order (FCFS, round-robin)
// read that order from here.
type Lease struct {
	capacities []*Capacity
	index      map[string]*Capacity
	closed     bool
}

// NewLease creates fresh counters for datacenters. The datacenter records are
// copied, so later changes to the caller's slice do not leak into the run.
func NewLease(datacenters []Datacenter) *Lease {
	l := &Lease{
		capacities: make([]*Capacity, 0, len(datacenters)),
		index:      make(map[string]*Capacity, len(datacenters)),
	}
	for _, dc := range datacenters {
		c := newCapacity(dc, l)
		l.capacities = append(l.capacities, c)
		l.index[dc.ID] = c
	}
	return l
}

// Capacities returns the counters in datacenter order.
func (l *Lease) Capacities() []*Capacity {
	out := make([]*Capacity, len(l.capacities))
	copy(out, l.capacities)
	return out
}

// Get returns the counter for a datacenter id.
func (l *Lease) Get(id string) (*Capacity, bool) {
	c, ok := l.index[id]
	return c, ok
}

// Datacenters returns the static records in lease order.
func (l *Lease) Datacenters() []Datacenter {
	out := make([]Datacenter, len(l.capacities))
	for i, c := range l.capacities {
		out[i] = c.dc
	}
	return out
}

// Len is the number of datacenters in the lease.
func (l *Lease) Len() int { return len(l.capacities) }

// Close ends the lease. Counters of a closed lease refuse every allocation.
func (l *Lease) Close() { l.closed = true }

// Closed reports whether Close has been called.
func (l *Lease) Closed() bool { return l.closed }
