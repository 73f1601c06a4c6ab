// Package containerizer implements the Docker containerizer: the agent
// subsystem owning the full lifecycle of Docker-backed executor and task
// containers on one worker node. It provisions sandboxes, fetches
// artifacts, pulls images, launches containers and their executor helpers,
// answers update/usage/wait queries, drives destruction, and reconciles
// surviving containers across agent restarts.
package containerizer

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/openmesos/docker-agent/api/mesos"
	"github.com/openmesos/docker-agent/cgroups"
	"github.com/openmesos/docker-agent/config"
	"github.com/openmesos/docker-agent/docker"
	"github.com/openmesos/docker-agent/fetcher"
	"github.com/openmesos/docker-agent/usage"
)

// DockerContainerizer manages every Docker container this agent launches.
// The registry map is the single source of truth; each mutation of it and
// of per-container state happens under mu, and every launch stage re-checks
// membership after blocking I/O so a racing destroy wins cleanly.
type DockerContainerizer struct {
	cfg     config.Config
	docker  docker.Client
	fetcher fetcher.Fetcher

	// Collaborator seams, overridable in tests.
	probe      usage.Probe
	hierarchy  func(subsystem string) (string, error)
	cgroupOf   func(pid int, subsystem string) (string, error)
	delayAfter func(d time.Duration, f func()) *time.Timer

	mu         sync.Mutex
	containers map[string]*container
}

// New builds a containerizer on top of the given Docker client and fetcher.
func New(cfg config.Config, client docker.Client, f fetcher.Fetcher) *DockerContainerizer {
	return &DockerContainerizer{
		cfg:        cfg,
		docker:     client,
		fetcher:    f,
		probe:      usage.FromProc,
		hierarchy:  cgroups.Hierarchy,
		cgroupOf:   cgroups.Of,
		delayAfter: time.AfterFunc,
		containers: map[string]*container{},
	}
}

func (dc *DockerContainerizer) lookup(containerID string) (*container, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	c, ok := dc.containers[containerID]
	return c, ok
}

// remove drops a container from the registry. The caller must have set or
// failed the termination promise first.
func (dc *DockerContainerizer) remove(containerID string) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	delete(dc.containers, containerID)
}

// Containers returns a snapshot of the live ContainerIDs.
func (dc *DockerContainerizer) Containers() []string {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	ids := make([]string, 0, len(dc.containers))
	for id := range dc.containers {
		ids = append(ids, id)
	}
	return ids
}

// Wait blocks until the container terminates and returns its Termination.
func (dc *DockerContainerizer) Wait(ctx context.Context, containerID string) (*mesos.Termination, error) {
	c, ok := dc.lookup(containerID)
	if !ok {
		return nil, errors.Errorf("unknown container: %s", containerID)
	}
	return c.termination.wait(ctx)
}

// Usage samples resource statistics for a running container.
func (dc *DockerContainerizer) Usage(ctx context.Context, containerID string) (*mesos.ResourceStatistics, error) {
	dc.mu.Lock()
	c, ok := dc.containers[containerID]
	if !ok {
		dc.mu.Unlock()
		return nil, errors.Errorf("unknown container: %s", containerID)
	}
	if c.state == stateDestroying {
		dc.mu.Unlock()
		return nil, errors.Errorf("container is being removed: %s", containerID)
	}
	pid := c.pid
	resources := c.resources
	dc.mu.Unlock()

	// Inside a Docker container ourselves we cannot see the host's
	// cgroups, so report empty statistics rather than lies.
	if dc.cfg.DockerMesosImage != "" {
		return &mesos.ResourceStatistics{}, nil
	}

	if pid == 0 {
		inspected, err := dc.docker.Inspect(ctx, c.name())
		if err != nil {
			return nil, err
		}
		if inspected.Pid == 0 {
			return nil, errors.Errorf("container is not running: %s", containerID)
		}
		pid = inspected.Pid

		dc.mu.Lock()
		if current, ok := dc.containers[containerID]; !ok || current != c {
			dc.mu.Unlock()
			return nil, errors.Errorf("container has been destroyed: %s", containerID)
		}
		if c.state == stateDestroying {
			dc.mu.Unlock()
			return nil, errors.Errorf("container is being removed: %s", containerID)
		}
		c.pid = pid
		dc.mu.Unlock()
	}

	// The root pid is enough: it acts as init inside the container, so
	// no descendant escapes it.
	statistics, err := dc.probe(pid, true, true)
	if err != nil {
		return nil, err
	}

	if mem, ok := resources.MemBytes(); ok {
		statistics.MemLimitBytes = uint64(mem)
	}
	if cpus, ok := resources.CPUs(); ok {
		statistics.CPUsLimit = cpus
	}
	return statistics, nil
}

// Update applies a new resource allocation to a running container.
func (dc *DockerContainerizer) Update(ctx context.Context, containerID string, resources mesos.Resources) error {
	dc.mu.Lock()
	c, ok := dc.containers[containerID]
	if !ok {
		dc.mu.Unlock()
		log.WithField("container", containerID).Warning("Ignoring update for unknown container")
		return nil
	}
	if c.state == stateDestroying {
		dc.mu.Unlock()
		log.WithField("container", containerID).Info("Ignoring update for container being destroyed")
		return nil
	}
	if c.resources.Equals(resources) {
		dc.mu.Unlock()
		log.WithField("container", containerID).Info("Ignoring update with identical resources")
		return nil
	}

	// Store for usage() regardless of whether cgroups get written.
	c.resources = resources
	dc.mu.Unlock()

	if dc.cfg.DockerMesosImage != "" {
		log.Info("Ignoring update as agent is running under Docker")
		return nil
	}

	return dc.updateCgroups(ctx, c, resources)
}

// reaped runs when the executor's pid has been collected: the normal,
// non-killed teardown path.
func (dc *DockerContainerizer) reaped(ctx context.Context, containerID string) {
	if _, ok := dc.lookup(containerID); !ok {
		return
	}
	log.WithField("container", containerID).Info("Executor for container has exited")
	dc.destroy(ctx, containerID, false)
}

// scheduleRemove arranges the delayed docker rm -f of both container
// names. The delay leaves the container around for debugging.
func (dc *DockerContainerizer) scheduleRemove(name, executorName string) {
	dc.delayAfter(dc.cfg.DockerRemoveDelay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := dc.docker.Rm(ctx, name, true); err != nil && !docker.IsErrNotFound(err) {
			log.WithField("container", name).Warning("Delayed remove failed: ", err)
		}
		if err := dc.docker.Rm(ctx, executorName, true); err != nil && !docker.IsErrNotFound(err) {
			log.WithField("container", executorName).Warning("Delayed remove failed: ", err)
		}
	})
}
