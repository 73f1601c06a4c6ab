// Package cgroups locates the cpu and memory cgroup hierarchies and updates
// the control files the Docker containerizer cares about.
package cgroups

import (
	"io/ioutil"
	"path/filepath"
	"strconv"
	"strings"

	units "github.com/docker/go-units"
	"github.com/pkg/errors"
)

// Constants mirroring the agent's cgroups isolator.
const (
	// CPUSharesPerCPU is the number of cpu.shares granted per cpu.
	CPUSharesPerCPU = 1024
	// MinCPUShares is the smallest value the kernel accepts.
	MinCPUShares = 2
	// MinMemory is the smallest memory limit we will apply.
	MinMemory = 32 * units.MiB
)

// SharesForCPUs converts a fractional cpu allocation into cpu.shares.
func SharesForCPUs(cpus float64) uint64 {
	shares := uint64(CPUSharesPerCPU * cpus)
	if shares < MinCPUShares {
		return MinCPUShares
	}
	return shares
}

// MemoryLimit clamps a requested memory limit to the supported minimum.
func MemoryLimit(requested int64) int64 {
	if requested < MinMemory {
		return MinMemory
	}
	return requested
}

func writeControl(hierarchy, cgroup, file string, value uint64) error {
	path := filepath.Join(hierarchy, cgroup, file)
	err := ioutil.WriteFile(path, []byte(strconv.FormatUint(value, 10)), 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}

func readControl(hierarchy, cgroup, file string) (uint64, error) {
	path := filepath.Join(hierarchy, cgroup, file)
	out, err := ioutil.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read %s", path)
	}
	value, err := strconv.ParseUint(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed value in %s", path)
	}
	return value, nil
}

// WriteCPUShares updates cpu.shares for the cgroup within the hierarchy.
func WriteCPUShares(hierarchy, cgroup string, shares uint64) error {
	return writeControl(hierarchy, cgroup, "cpu.shares", shares)
}

// WriteMemorySoftLimit updates memory.soft_limit_in_bytes.
func WriteMemorySoftLimit(hierarchy, cgroup string, limit uint64) error {
	return writeControl(hierarchy, cgroup, "memory.soft_limit_in_bytes", limit)
}

// ReadMemoryLimit reads the current memory.limit_in_bytes.
func ReadMemoryLimit(hierarchy, cgroup string) (uint64, error) {
	return readControl(hierarchy, cgroup, "memory.limit_in_bytes")
}

// WriteMemoryLimit updates memory.limit_in_bytes.
func WriteMemoryLimit(hierarchy, cgroup string, limit uint64) error {
	return writeControl(hierarchy, cgroup, "memory.limit_in_bytes", limit)
}
