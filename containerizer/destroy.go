package containerizer

import (
	"context"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/openmesos/docker-agent/api/mesos"
	"github.com/openmesos/docker-agent/reaper"
	"github.com/openmesos/docker-agent/state"
)

// Destroy tears a container down on request. It is idempotent: once a
// destroy is underway, later calls return without doing anything. The call
// blocks until the termination promise has been fulfilled.
func (dc *DockerContainerizer) Destroy(ctx context.Context, containerID string) {
	dc.destroy(ctx, containerID, true)
}

// destroy is the shared teardown entry for explicit destroys (killed=true)
// and executor exits noticed by the reaper (killed=false).
func (dc *DockerContainerizer) destroy(ctx context.Context, containerID string, killed bool) { // nolint: gocyclo
	dc.mu.Lock()
	c, ok := dc.containers[containerID]
	if !ok {
		dc.mu.Unlock()
		log.WithField("container", containerID).Warning("Ignoring destroy of unknown container")
		return
	}

	if c.runFailed() {
		// docker run never succeeded: either we are cleaning up after
		// the failed launch, or someone asked to destroy before the
		// queued cleanup got here. Nothing to stop.
		c.termination.set(&mesos.Termination{
			Killed:  killed,
			Message: "Failed to run container: " + c.runErr.Error(),
		})
		delete(dc.containers, containerID)
		dc.mu.Unlock()
		return
	}

	if c.state == stateDestroying {
		dc.mu.Unlock()
		return
	}

	log.WithFields(log.Fields{"container": containerID, "state": c.state}).Info("Destroying container")

	switch c.state {
	case stateFetching:
		// Even if the fetch succeeds just after this, removing the
		// container here keeps the pipeline from running the pull.
		dc.fetcher.Kill(containerID)
		c.termination.set(&mesos.Termination{
			Killed:  killed,
			Message: "Container destroyed while fetching",
		})
		delete(dc.containers, containerID)
		dc.mu.Unlock()
		return

	case statePulling:
		c.pullCancel()
		c.termination.set(&mesos.Termination{
			Killed:  killed,
			Message: "Container destroyed while pulling image",
		})
		delete(dc.containers, containerID)
		dc.mu.Unlock()
		return
	}

	// RUNNING: commit to the teardown sequence.
	c.state = stateDestroying
	executorPid := c.executorPid
	dc.mu.Unlock()

	// Errors on this path are collected but never block the teardown:
	// the helper may legitimately be gone already.
	var ignored *multierror.Error

	// The executor helper container might not exist, but a recovered
	// container could have one from a previous agent run. Stopping it is
	// unconditional.
	if err := dc.docker.Stop(ctx, c.executorName(), 0); err != nil {
		ignored = multierror.Append(ignored, errors.Wrap(err, "stopping executor container"))
	}

	if executorPid != 0 {
		// The helper may never have gotten its run task; either way it
		// must not outlive the container.
		log.WithField("pid", executorPid).Info("Sending SIGTERM to executor")
		if err := reaper.KillTree(executorPid, unix.SIGTERM); err != nil {
			ignored = multierror.Append(ignored, errors.Wrapf(err, "killing executor tree %d", executorPid))
		}
	}

	if err := ignored.ErrorOrNil(); err != nil {
		log.WithField("container", containerID).Debug("Ignoring teardown errors: ", err)
	}

	// Wait for the reaper to be armed before stopping the container, or
	// for the run to settle if it is still in flight.
	select {
	case <-c.status.armed:
	case <-c.runDone:
		if c.runErr != nil {
			c.termination.set(&mesos.Termination{
				Killed:  killed,
				Message: "Failed to run container: " + c.runErr.Error(),
			})
			dc.remove(containerID)
			return
		}
		<-c.status.armed
	}

	log.WithField("container", containerID).Info("Running docker stop on container")

	if err := dc.docker.Stop(ctx, c.name(), dc.cfg.DockerStopTimeout); err != nil {
		// The container may well still be running after this; there is
		// no retry policy yet, only the delayed forced remove.
		c.termination.fail(errors.Wrap(err, "failed to kill the Docker container"))
		dc.remove(containerID)
		dc.scheduleRemove(c.name(), c.executorName())
		return
	}

	// The stop forces the executor out; collect its exit status.
	<-c.status.done

	termination := &mesos.Termination{
		Killed: killed,
		Status: c.status.status,
	}
	if killed {
		termination.Message = "Container killed"
	} else {
		termination.Message = "Container terminated"
	}
	c.termination.set(termination)

	dc.markCompleted(c)
	dc.remove(containerID)
	dc.scheduleRemove(c.name(), c.executorName())
}

// markCompleted flags the checkpointed run as done so the next recovery
// skips it.
func (dc *DockerContainerizer) markCompleted(c *container) {
	if !c.checkpoint {
		return
	}
	metaRoot := state.MetaRootDir(dc.cfg.WorkDir)
	err := state.MarkCompleted(metaRoot, c.slaveID, c.executor.FrameworkID, c.executor.ExecutorID, c.id)
	if err != nil {
		log.WithField("container", c.id).Warning("Cannot mark run completed: ", err)
	}
}
