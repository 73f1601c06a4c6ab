package containerizer

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/openmesos/docker-agent/api/mesos"
	"github.com/openmesos/docker-agent/docker"
	"github.com/openmesos/docker-agent/reaper"
	"github.com/openmesos/docker-agent/state"
)

// Recover reconciles checkpointed executor runs with the containers Docker
// still knows about, reattaching a reaper to every run that is still alive.
// With a nil state there is nothing checkpointed and nothing to do.
func (dc *DockerContainerizer) Recover(ctx context.Context, slaveState *state.SlaveState) error {
	log.Info("Recovering Docker containers")

	if slaveState == nil {
		return nil
	}

	live, err := dc.docker.Ps(ctx, true, dockerNamePrefix+slaveState.ID)
	if err != nil {
		return errors.Wrap(err, "failed to list containers for recovery")
	}

	// Partition what Docker reports into main containers and executor
	// helper containers, ignoring anything this agent did not start.
	liveContainers := map[string]docker.Container{}
	liveExecutors := map[string]docker.Container{}
	for _, cont := range live {
		id, ok := parseContainerName(cont.Name)
		if !ok {
			continue
		}
		if isExecutorContainerName(cont.Name) {
			log.WithField("container", id).Debug("Detected executor container")
			liveExecutors[id] = cont
		} else {
			log.WithField("container", id).Debug("Detected docker container")
			liveContainers[id] = cont
		}
	}

	// Track pids as they are claimed to catch the (barely possible)
	// duplicate: a new executor reusing the pid of one that just exited,
	// with the agent dying in between.
	claimedPids := map[int]string{}

	for _, framework := range slaveState.Frameworks {
		for _, executor := range framework.Executors {
			if executor.Latest == "" {
				log.WithFields(log.Fields{"executor": executor.ID, "framework": framework.ID}).
					Warning("Skipping recovery of executor because its latest run could not be recovered")
				continue
			}

			// Only the latest run matters; earlier runs are history.
			containerID := executor.Latest
			run, ok := executor.Runs[containerID]
			if !ok {
				log.WithFields(log.Fields{"executor": executor.ID, "framework": framework.ID}).
					Warning("Skipping recovery of executor with missing latest run")
				continue
			}

			// Without a pid the reaper has nothing to watch. The agent
			// will wait on the container and get a failed termination,
			// cleaning everything up.
			if run.ForkedPid == nil {
				continue
			}

			if run.Completed {
				log.WithField("container", containerID).Debug("Skipping recovery of completed run")
				continue
			}

			log.WithFields(log.Fields{
				"container": containerID,
				"executor":  executor.ID,
				"framework": framework.ID,
			}).Info("Recovering container")

			err := dc.recoverContainer(containerID, slaveState.ID, framework.ID, executor.ID,
				*run.ForkedPid, liveContainers, liveExecutors, claimedPids)
			if err != nil {
				return err
			}
		}
	}

	if dc.cfg.DockerKillOrphans {
		dc.killOrphans(ctx, liveContainers, liveExecutors)
	}

	return nil
}

func (dc *DockerContainerizer) recoverContainer(containerID, slaveID, frameworkID, executorID string,
	executorPid int, liveContainers, liveExecutors map[string]docker.Container, claimedPids map[int]string) error {

	reattachExecutor := false
	if reaper.Exists(executorPid) {
		// A live pid alone proves nothing: the number may have been
		// reused by an unrelated process after the container was
		// removed. Only reap by pid when the container is still there.
		if lc, ok := liveContainers[containerID]; !ok || !lc.Running {
			log.WithField("container", containerID).Info("Skipping recovery of container as no live container matches its pid")
			return nil
		}
	} else {
		if lc, ok := liveContainers[containerID]; ok {
			// The forked executor is gone but the container is still
			// there, which happens when the agent itself ran inside a
			// container and lost its children on restart. The only
			// recovery is reattaching to the executor's own container.
			if !lc.Running {
				log.WithField("container", containerID).Info("Skipping recovery of container as it already completed")
				return nil
			}
			if _, ok := liveExecutors[containerID]; !ok {
				// A fresh executor cannot be launched in its place: we
				// cannot assume it tolerates relaunching.
				log.WithField("container", containerID).Info("Skipping recovery of container as executor cannot be found")
				return nil
			}
			reattachExecutor = true
		}
	}

	if other, dup := claimedPids[executorPid]; dup {
		return errors.Errorf("detected duplicate pid %d for containers %s and %s", executorPid, other, containerID)
	}
	claimedPids[executorPid] = containerID

	delete(liveContainers, containerID)

	c := newRecoveredContainer(containerID, slaveID)
	c.checkpoint = true
	c.executor = mesos.ExecutorInfo{ExecutorID: executorID, FrameworkID: frameworkID}
	c.executorPid = executorPid

	dc.mu.Lock()
	dc.containers[containerID] = c
	dc.mu.Unlock()

	if reattachExecutor {
		log.WithField("container", containerID).Debug("Rewaiting on executor container")

		waitCmd, err := docker.NewWaitProcess(dc.cfg.Docker, liveExecutors[containerID].ID)
		if err != nil {
			return err
		}
		delete(liveExecutors, containerID)

		dc.mu.Lock()
		c.executorPid = waitCmd.Process.Pid
		c.executorCmd = waitCmd
		dc.mu.Unlock()

		c.status.arm(reaper.ReapCmd(waitCmd))
	} else {
		c.status.arm(reaper.Reap(executorPid))
	}

	go func() {
		<-c.status.done
		dc.reaped(context.Background(), containerID)
	}()

	return nil
}

// killOrphans stops every live Mesos-named container nobody claimed during
// recovery. Failures are logged, not fatal: the delayed remove in a later
// teardown or a manual sweep can still catch them.
func (dc *DockerContainerizer) killOrphans(ctx context.Context, liveContainers, liveExecutors map[string]docker.Container) {
	var group errgroup.Group

	stop := func(cont docker.Container) {
		group.Go(func() error {
			log.WithField("container", cont.Name).Info("Stopping orphaned container")
			if err := dc.docker.Stop(ctx, cont.ID, dc.cfg.DockerStopTimeout); err != nil {
				log.WithField("container", cont.Name).Warning("Cannot stop orphan: ", err)
			}
			return nil
		})
	}

	for _, cont := range liveContainers {
		stop(cont)
	}
	for _, cont := range liveExecutors {
		stop(cont)
	}

	_ = group.Wait()
}
