package mesos

import (
	units "github.com/docker/go-units"
)

// Resource is a single named scalar allocation. Only scalar resources are
// meaningful to the Docker containerizer.
type Resource struct {
	Name   string
	Scalar float64
}

// Resources is an allocation as handed down from the master. Memory scalars
// are in megabytes, matching the wire format.
type Resources []Resource

// Well known resource names.
const (
	ResourceCPUs = "cpus"
	ResourceMem  = "mem"
)

// NewResources is a convenience constructor for the common cpus+mem case.
// Either value may be zero to leave the resource unset.
func NewResources(cpus float64, memMB float64) Resources {
	var r Resources
	if cpus > 0 {
		r = append(r, Resource{Name: ResourceCPUs, Scalar: cpus})
	}
	if memMB > 0 {
		r = append(r, Resource{Name: ResourceMem, Scalar: memMB})
	}
	return r
}

func (r Resources) get(name string) (float64, bool) {
	for _, res := range r {
		if res.Name == name {
			return res.Scalar, true
		}
	}
	return 0, false
}

// CPUs returns the cpu allocation, if present.
func (r Resources) CPUs() (float64, bool) {
	return r.get(ResourceCPUs)
}

// MemBytes returns the memory allocation in bytes, if present.
func (r Resources) MemBytes() (int64, bool) {
	mb, ok := r.get(ResourceMem)
	if !ok {
		return 0, false
	}
	return int64(mb * float64(units.MiB)), true
}

// Equals reports whether two allocations carry the same scalars. Order does
// not matter, missing and zero are distinct.
func (r Resources) Equals(other Resources) bool {
	if len(r) != len(other) {
		return false
	}
	for _, res := range r {
		v, ok := other.get(res.Name)
		if !ok || v != res.Scalar {
			return false
		}
	}
	return true
}
