package mesos

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourcesAccessors(t *testing.T) {
	r := NewResources(1.5, 512)

	cpus, ok := r.CPUs()
	assert.True(t, ok)
	assert.Equal(t, 1.5, cpus)

	mem, ok := r.MemBytes()
	assert.True(t, ok)
	assert.Equal(t, int64(512*1024*1024), mem)
}

func TestResourcesMissing(t *testing.T) {
	r := NewResources(2.0, 0)

	_, ok := r.MemBytes()
	assert.False(t, ok)

	empty := NewResources(0, 0)
	_, ok = empty.CPUs()
	assert.False(t, ok)
	assert.Len(t, empty, 0)
}

func TestResourcesEquals(t *testing.T) {
	fixtures := []struct {
		a, b Resources
		want bool
	}{
		{a: NewResources(1, 128), b: NewResources(1, 128), want: true},
		{a: NewResources(1, 128), b: NewResources(2, 128), want: false},
		{a: NewResources(1, 128), b: NewResources(1, 0), want: false},
		{a: NewResources(0, 0), b: NewResources(0, 0), want: true},
		// Order does not matter.
		{
			a:    Resources{{Name: ResourceMem, Scalar: 128}, {Name: ResourceCPUs, Scalar: 1}},
			b:    NewResources(1, 128),
			want: true,
		},
	}

	for _, f := range fixtures {
		assert.Equal(t, f.want, f.a.Equals(f.b))
		assert.Equal(t, f.want, f.b.Equals(f.a))
	}
}
