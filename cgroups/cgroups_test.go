package cgroups

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	units "github.com/docker/go-units"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharesForCPUs(t *testing.T) {
	fixtures := []struct {
		cpus float64
		want uint64
	}{
		{cpus: 2.0, want: 2048},
		{cpus: 0.5, want: 512},
		{cpus: 1.0, want: 1024},
		{cpus: 0.001, want: MinCPUShares},
		{cpus: 0, want: MinCPUShares},
	}

	for _, f := range fixtures {
		assert.Equal(t, f.want, SharesForCPUs(f.cpus))
	}
}

func TestMemoryLimitClamp(t *testing.T) {
	assert.Equal(t, int64(MinMemory), MemoryLimit(0))
	assert.Equal(t, int64(MinMemory), MemoryLimit(units.MiB))
	assert.Equal(t, int64(units.GiB), MemoryLimit(units.GiB))
}

func fakeHierarchy(t *testing.T, cgroup string) string {
	hierarchy, err := ioutil.TempDir("", "cgroups-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(hierarchy) })
	require.NoError(t, os.MkdirAll(filepath.Join(hierarchy, cgroup), 0755))
	return hierarchy
}

func TestControlFileRoundTrip(t *testing.T) {
	hierarchy := fakeHierarchy(t, "docker/abc")

	require.NoError(t, WriteCPUShares(hierarchy, "docker/abc", 2048))
	out, err := ioutil.ReadFile(filepath.Join(hierarchy, "docker/abc", "cpu.shares"))
	require.NoError(t, err)
	assert.Equal(t, "2048", string(out))

	require.NoError(t, WriteMemoryLimit(hierarchy, "docker/abc", 64*units.MiB))
	limit, err := ReadMemoryLimit(hierarchy, "docker/abc")
	require.NoError(t, err)
	assert.Equal(t, uint64(64*units.MiB), limit)
}

func TestReadMemoryLimitMalformed(t *testing.T) {
	hierarchy := fakeHierarchy(t, "docker/abc")
	path := filepath.Join(hierarchy, "docker/abc", "memory.limit_in_bytes")
	require.NoError(t, ioutil.WriteFile(path, []byte("not-a-number\n"), 0644))

	_, err := ReadMemoryLimit(hierarchy, "docker/abc")
	assert.Error(t, err)
}

func TestReadMemoryLimitTrimsWhitespace(t *testing.T) {
	hierarchy := fakeHierarchy(t, "docker/abc")
	path := filepath.Join(hierarchy, "docker/abc", "memory.limit_in_bytes")
	require.NoError(t, ioutil.WriteFile(path, []byte("123456\n"), 0644))

	limit, err := ReadMemoryLimit(hierarchy, "docker/abc")
	require.NoError(t, err)
	assert.Equal(t, uint64(123456), limit)
}
