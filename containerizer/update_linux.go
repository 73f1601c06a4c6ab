//go:build linux
// +build linux

package containerizer

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/openmesos/docker-agent/api/mesos"
	"github.com/openmesos/docker-agent/cgroups"
)

// updateCgroups applies the new allocation to the cgroups the container's
// init pid lives in. Memory hard limits are only ever raised here: lowering
// the limit under running tasks invites the OOM killer.
func (dc *DockerContainerizer) updateCgroups(ctx context.Context, c *container, resources mesos.Resources) error { // nolint: gocyclo
	cpus, hasCPUs := resources.CPUs()
	mem, hasMem := resources.MemBytes()
	if !hasCPUs && !hasMem {
		log.WithField("container", c.id).Warning("Ignoring update as no supported resources are present")
		return nil
	}

	pid, err := dc.resolvePid(ctx, c)
	if err != nil {
		return err
	}
	if pid == 0 {
		// Nothing to update against; the container is not running
		// (yet, or anymore).
		return nil
	}

	// The hierarchies the cpu and memory subsystems are mounted on; they
	// may be the same. Lookups are memoised for the process lifetime.
	cpuHierarchy, err := dc.hierarchy("cpu")
	if err != nil {
		return err
	}
	memoryHierarchy, err := dc.hierarchy("memory")
	if err != nil {
		return err
	}

	if hasCPUs {
		cpuCgroup, err := dc.cgroupOf(pid, "cpu")
		if err != nil {
			return err
		}
		if cpuCgroup == "" {
			log.WithField("container", c.id).
				Warning("Container does not appear to be a member of a cgroup where the 'cpu' subsystem is mounted")
		} else {
			shares := cgroups.SharesForCPUs(cpus)
			if err := cgroups.WriteCPUShares(cpuHierarchy, cpuCgroup, shares); err != nil {
				return errors.Wrap(err, "failed to update 'cpu.shares'")
			}
			log.WithFields(log.Fields{
				"container": c.id,
				"cgroup":    cpuCgroup,
				"shares":    shares,
			}).Info("Updated 'cpu.shares'")
		}
	}

	if hasMem {
		memoryCgroup, err := dc.cgroupOf(pid, "memory")
		if err != nil {
			return err
		}
		if memoryCgroup == "" {
			log.WithField("container", c.id).
				Warning("Container does not appear to be a member of a cgroup where the 'memory' subsystem is mounted")
			return nil
		}

		limit := uint64(cgroups.MemoryLimit(mem))

		// Always set the soft limit.
		if err := cgroups.WriteMemorySoftLimit(memoryHierarchy, memoryCgroup, limit); err != nil {
			return errors.Wrap(err, "failed to set 'memory.soft_limit_in_bytes'")
		}
		log.WithFields(log.Fields{"container": c.id, "limit": limit}).Info("Updated 'memory.soft_limit_in_bytes'")

		current, err := cgroups.ReadMemoryLimit(memoryHierarchy, memoryCgroup)
		if err != nil {
			return errors.Wrap(err, "failed to read 'memory.limit_in_bytes'")
		}

		// Only raise the hard limit; reductions wait until the
		// container is relaunched.
		if limit > current {
			if err := cgroups.WriteMemoryLimit(memoryHierarchy, memoryCgroup, limit); err != nil {
				return errors.Wrap(err, "failed to set 'memory.limit_in_bytes'")
			}
			log.WithFields(log.Fields{
				"container": c.id,
				"cgroup":    memoryCgroup,
				"limit":     limit,
			}).Info("Updated 'memory.limit_in_bytes'")
		}
	}

	return nil
}

// resolvePid returns the container's init pid, inspecting and caching it
// when unknown. A zero pid with nil error means the container cannot be
// resolved right now and the update should be skipped.
func (dc *DockerContainerizer) resolvePid(ctx context.Context, c *container) (int, error) {
	dc.mu.Lock()
	pid := c.pid
	containerID := c.id
	dc.mu.Unlock()
	if pid != 0 {
		return pid, nil
	}

	inspected, err := dc.docker.Inspect(ctx, c.name())
	if err != nil {
		return 0, err
	}
	if inspected.Pid == 0 {
		return 0, nil
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()
	if current, ok := dc.containers[containerID]; !ok || current != c {
		log.WithField("container", containerID).Info("Container removed during docker inspect, skipping update")
		return 0, nil
	}
	c.pid = inspected.Pid
	return inspected.Pid, nil
}
