package containerizer

import (
	"context"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/openmesos/docker-agent/api/mesos"
	"github.com/openmesos/docker-agent/config"
	"github.com/openmesos/docker-agent/state"
)

// containerState is the lifecycle phase of a container. Transitions only
// move forward; FETCHING and PULLING may jump straight to teardown when a
// destroy races the launch pipeline.
type containerState int

const (
	stateFetching containerState = iota + 1
	statePulling
	stateRunning
	stateDestroying
)

func (s containerState) String() string {
	switch s {
	case stateFetching:
		return "FETCHING"
	case statePulling:
		return "PULLING"
	case stateRunning:
		return "RUNNING"
	case stateDestroying:
		return "DESTROYING"
	}
	return "UNKNOWN"
}

// container is the registry record for one launched (or recovered)
// container. All mutable fields are guarded by the containerizer mutex.
type container struct {
	id         string
	taskInfo   *mesos.TaskInfo
	executor   mesos.ExecutorInfo
	directory  string
	symlinked  bool
	user       string
	slaveID    string
	slavePid   string
	checkpoint bool

	state     containerState
	resources mesos.Resources

	// pid is the init process inside the Docker container. executorPid
	// is the local helper (or docker wait stand-in); they are distinct.
	pid         int
	executorPid int

	// executorCmd is set on the local-subprocess and docker-wait launch
	// paths, so the reaper can collect a real exit status.
	executorCmd *exec.Cmd

	// pullCancel discards an in-flight image pull.
	pullCancel context.CancelFunc

	// runErr records the outcome of docker run once runDone is closed.
	// A failed run short-circuits destroy.
	runErr  error
	runDone chan struct{}

	status      *statusFuture
	termination *terminationPromise
}

// newContainer prepares the sandbox and builds the registry record. Every
// failure here aborts the launch before the container is registered.
func newContainer(cfg config.Config, id string, taskInfo *mesos.TaskInfo, executorInfo mesos.ExecutorInfo,
	directory, runAsUser, slaveID, slavePid string, checkpoint bool) (*container, error) {

	// Before anything else make sure the stdout/stderr files exist and
	// have the right ownership.
	for _, name := range []string{"stdout", "stderr"} {
		if err := touch(filepath.Join(directory, name)); err != nil {
			return nil, errors.Wrapf(err, "failed to touch %q", name)
		}
	}

	if runAsUser != "" {
		if err := chownRecursively(runAsUser, directory); err != nil {
			return nil, errors.Wrap(err, "failed to chown")
		}
	}

	symlinkDir := filepath.Join(state.SlavePath(cfg.WorkDir, slaveID), dockerSymlinkDirectory)
	if err := os.MkdirAll(symlinkDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "unable to create symlink folder for docker %s", symlinkDir)
	}

	// Docker CLI treats a colon as the volume separator, so sandbox
	// paths containing one are reachable only through a symlink.
	symlinked := false
	workDirectory := directory
	if strings.Contains(directory, ":") {
		workDirectory = filepath.Join(symlinkDir, id)
		if err := os.Symlink(directory, workDirectory); err != nil {
			return nil, errors.Wrapf(err, "failed to symlink directory %q to %q", directory, workDirectory)
		}
		symlinked = true
	}

	resources := executorInfo.Resources
	if taskInfo != nil {
		resources = taskInfo.Resources
	}

	return &container{
		id:          id,
		taskInfo:    taskInfo,
		executor:    executorInfo,
		directory:   workDirectory,
		symlinked:   symlinked,
		user:        runAsUser,
		slaveID:     slaveID,
		slavePid:    slavePid,
		checkpoint:  checkpoint,
		state:       stateFetching,
		resources:   resources,
		runDone:     make(chan struct{}),
		status:      newStatusFuture(),
		termination: newTerminationPromise(),
	}, nil
}

// newRecoveredContainer builds the minimal record recovery needs: enough
// to wait, destroy and answer queries for a reattached container.
func newRecoveredContainer(id, slaveID string) *container {
	return &container{
		id:          id,
		slaveID:     slaveID,
		state:       stateRunning,
		runDone:     make(chan struct{}),
		status:      newStatusFuture(),
		termination: newTerminationPromise(),
	}
}

func (c *container) name() string {
	return containerName(c.slaveID, c.id)
}

func (c *container) executorName() string {
	return executorContainerName(c.slaveID, c.id)
}

// containerInfo returns the task's ContainerInfo when the container wraps
// a task, and the executor's otherwise.
func (c *container) containerInfo() *mesos.ContainerInfo {
	if c.taskInfo != nil && c.taskInfo.Container != nil {
		return c.taskInfo.Container
	}
	return c.executor.Container
}

// commandInfo returns the command whose URIs get fetched and which runs
// inside the main container.
func (c *container) commandInfo() *mesos.CommandInfo {
	if c.taskInfo != nil && c.taskInfo.Command != nil {
		return c.taskInfo.Command
	}
	return c.executor.Command
}

func (c *container) image() string {
	info := c.containerInfo()
	if info == nil || info.Docker == nil {
		return ""
	}
	return info.Docker.Image
}

func (c *container) forcePullImage() bool {
	info := c.containerInfo()
	if info == nil || info.Docker == nil {
		return false
	}
	return info.Docker.ForcePullImage
}

// recordRunResult publishes the outcome of docker run. Waiters on runDone
// include a destroy stuck behind a run that is going to fail.
func (c *container) recordRunResult(err error) {
	c.runErr = err
	close(c.runDone)
}

func (c *container) runFailed() bool {
	select {
	case <-c.runDone:
		return c.runErr != nil
	default:
		return false
	}
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	return f.Close()
}

// chownRecursively hands the sandbox over to the run-as user.
func chownRecursively(username, directory string) error {
	u, err := user.Lookup(username)
	if err != nil {
		return err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return err
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return err
	}

	return filepath.Walk(directory, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := os.Lchown(path, uid, gid); err != nil {
			log.WithField("path", path).Warning("Cannot chown: ", err)
			return err
		}
		return nil
	})
}
