package containerizer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/openmesos/docker-agent/api/mesos"
	"github.com/openmesos/docker-agent/cgroups"
	"github.com/openmesos/docker-agent/docker"
	"github.com/openmesos/docker-agent/reaper"
	"github.com/openmesos/docker-agent/state"
)

// Launch drives a container through fetch, pull and docker run, starts its
// executor, and arms the reaper. The returned bool is false when the
// request does not name a Docker container type, in which case the agent
// should fall through to another containerizer; it is only meaningful when
// the error is nil.
//
// A destroy may arrive at any point while this runs. Every stage re-checks
// that the container is still registered after blocking I/O, so a racing
// destroy aborts the pipeline instead of resurrecting the container.
func (dc *DockerContainerizer) Launch(ctx context.Context, containerID string,
	taskInfo *mesos.TaskInfo, executorInfo mesos.ExecutorInfo,
	directory, runAsUser, slaveID, slavePid string, checkpoint bool) (bool, error) {

	info := executorInfo.Container
	if taskInfo != nil {
		info = taskInfo.Container
	}
	if info == nil {
		log.WithField("container", containerID).Info("No container info found, skipping launch")
		return false, nil
	}
	if info.Type != mesos.ContainerTypeDocker {
		log.WithField("container", containerID).Info("Skipping non-docker container")
		return false, nil
	}

	dc.mu.Lock()
	if _, ok := dc.containers[containerID]; ok {
		dc.mu.Unlock()
		return false, errors.Errorf("container already started: %s", containerID)
	}
	c, err := newContainer(dc.cfg, containerID, taskInfo, executorInfo, directory, runAsUser, slaveID, slavePid, checkpoint)
	if err != nil {
		dc.mu.Unlock()
		return false, errors.Wrap(err, "failed to create container")
	}
	dc.containers[containerID] = c
	dc.mu.Unlock()

	log.WithFields(log.Fields{
		"container": containerID,
		"executor":  executorInfo.ExecutorID,
		"framework": executorInfo.FrameworkID,
	}).Info("Starting container")

	if err := dc.fetcher.Fetch(ctx, containerID, c.commandInfo(), c.directory); err != nil {
		dc.destroy(ctx, containerID, true)
		return false, errors.Wrap(err, "failed to fetch URIs")
	}

	// The fetch may have succeeded just as a destroy removed the
	// container; in that case we must not proceed to the pull.
	pullCtx, ok := dc.enterPulling(ctx, containerID)
	if !ok {
		return false, errors.New("container was destroyed while launching")
	}

	if err := dc.docker.Pull(pullCtx, c.image(), c.forcePullImage()); err != nil {
		if pullCtx.Err() != nil {
			return false, errors.New("container was destroyed while pulling image")
		}
		dc.destroy(ctx, containerID, true)
		return false, errors.Wrap(err, "failed to pull image")
	}
	log.WithField("image", c.image()).Debug("Docker pull completed")

	if !dc.enterRunning(containerID) {
		return false, errors.New("container was destroyed while pulling image")
	}

	err = dc.docker.Run(ctx, dc.runOptions(c))
	c.recordRunResult(err)
	if err != nil {
		dc.destroy(ctx, containerID, true)
		return false, err
	}

	// From here on the container must stay registered until the reaper
	// has been armed; destroy waits for the arming instead of removing.
	pid, err := dc.launchExecutor(ctx, c)
	if err != nil {
		// The executor never came up, so there is no status to wait
		// for. Deliver an empty one so teardown is not wedged.
		delivered := make(chan *int, 1)
		delivered <- nil
		c.status.arm(delivered)
		dc.destroy(ctx, containerID, true)
		return false, err
	}

	dc.streamLogs(c)

	go func() {
		<-c.status.done
		dc.reaped(context.Background(), containerID)
	}()

	log.WithFields(log.Fields{"container": containerID, "pid": pid}).Info("Executor is being watched")
	return true, nil
}

// enterPulling transitions FETCHING -> PULLING and hands back the
// cancellable context the pull runs under.
func (dc *DockerContainerizer) enterPulling(ctx context.Context, containerID string) (context.Context, bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	c, ok := dc.containers[containerID]
	if !ok {
		return nil, false
	}
	c.state = statePulling
	pullCtx, cancel := context.WithCancel(ctx)
	c.pullCancel = cancel
	return pullCtx, true
}

// enterRunning transitions PULLING -> RUNNING.
func (dc *DockerContainerizer) enterRunning(containerID string) bool {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	c, ok := dc.containers[containerID]
	if !ok {
		return false
	}
	c.state = stateRunning
	return true
}

// launchExecutor picks the launch strategy and arms the reaper on the
// resulting pid. Three shapes exist: a custom executor running as the
// container itself, a local helper subprocess, and a helper nested in its
// own Docker container when the agent is containerized.
func (dc *DockerContainerizer) launchExecutor(ctx context.Context, c *container) (int, error) {
	switch {
	case c.taskInfo == nil:
		return dc.attachExecutorContainer(ctx, c)
	case dc.cfg.DockerMesosImage == "":
		return dc.launchExecutorProcess(c)
	default:
		return dc.launchExecutorInContainer(ctx, c)
	}
}

// attachExecutorContainer covers launches without a TaskInfo: the started
// container is the executor. Its init pid is checkpointed and reaped
// directly.
func (dc *DockerContainerizer) attachExecutorContainer(ctx context.Context, c *container) (int, error) {
	inspected, err := dc.docker.Inspect(ctx, c.name())
	if err != nil {
		return 0, err
	}
	if inspected.Pid == 0 {
		return 0, errors.New("unable to get executor pid after launch")
	}

	if err := dc.checkpointPid(c, inspected.Pid); err != nil {
		return 0, err
	}

	dc.mu.Lock()
	c.pid = inspected.Pid
	dc.mu.Unlock()

	// Not our child, so only liveness can be observed.
	c.status.arm(reaper.Reap(inspected.Pid))
	return inspected.Pid, nil
}

// launchExecutorProcess forks the local mesos-docker-executor helper. The
// helper is handed a piped stdin and blocks reading one byte before doing
// anything; we write that byte only after its pid has been checkpointed,
// so an agent crash in between never loses track of a running helper.
func (dc *DockerContainerizer) launchExecutorProcess(c *container) (int, error) {
	stdout, err := os.OpenFile(filepath.Join(c.directory, "stdout"), os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, errors.Wrap(err, "failed to open sandbox stdout")
	}
	stderr, err := os.OpenFile(filepath.Join(c.directory, "stderr"), os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		_ = stdout.Close()
		return 0, errors.Wrap(err, "failed to open sandbox stderr")
	}

	helper := filepath.Join(dc.cfg.LauncherDir, "mesos-docker-executor")
	cmd := exec.Command(helper,
		"--docker="+dc.cfg.Docker,
		"--container="+c.name())
	cmd.Dir = c.directory
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = dc.executorEnvironment(c)
	// Its own session, so killing the agent does not take the executor
	// tree down with it.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return 0, errors.Wrap(err, "failed to pipe executor stdin")
	}

	log.WithField("container", c.id).Debug("Launching docker executor: ", helper)

	if err := cmd.Start(); err != nil {
		_ = stdout.Close()
		_ = stderr.Close()
		return 0, errors.Wrap(err, "failed to fork executor")
	}
	// The files are duplicated into the child; our copies can go.
	_ = stdout.Close()
	_ = stderr.Close()

	pid := cmd.Process.Pid

	if err := dc.checkpointPid(c, pid); err != nil {
		// Closing stdin makes the helper abort its handshake read.
		_ = stdin.Close()
		return 0, errors.Wrap(err, "failed to checkpoint executor's pid")
	}

	// Checkpoint complete, release the helper.
	if _, err := stdin.Write([]byte{0}); err != nil {
		_ = stdin.Close()
		return 0, errors.Wrap(err, "failed to synchronize with child process")
	}
	_ = stdin.Close()

	dc.mu.Lock()
	c.executorCmd = cmd
	dc.mu.Unlock()

	c.status.arm(reaper.ReapCmd(cmd))
	return pid, nil
}

// launchExecutorInContainer starts the helper inside its own Docker
// container, with the Docker socket mounted read-only and the sandbox
// read-write. Liveness is tracked through a docker wait subprocess whose
// exit mirrors the helper container's: the only arrangement that survives
// restarts of a containerized agent, which forgets its forked children.
func (dc *DockerContainerizer) launchExecutorInContainer(ctx context.Context, c *container) (int, error) {
	command := fmt.Sprintf("%s --docker=%s --container=%s --sandbox_directory=%s --mapped_directory=%s",
		filepath.Join(dc.cfg.LauncherDir, "mesos-docker-executor"),
		dc.cfg.Docker,
		c.name(),
		c.directory,
		dc.cfg.DockerSandboxDirectory)

	log.WithField("container", c.id).Debug("Launching docker executor in container: ", command)

	opts := docker.RunOptions{
		Name:  c.executorName(),
		Image: dc.cfg.DockerMesosImage,
		Cmd:   []string{"/bin/sh", "-c", command},
		Env:   dc.executorEnvironment(c),
		Binds: []string{
			dc.cfg.DockerSocket + ":" + dc.cfg.DockerSocket + ":ro",
			c.directory + ":" + c.directory + ":rw",
		},
	}
	if err := dc.docker.Run(ctx, opts); err != nil {
		return 0, errors.Wrap(err, "failed to run executor container")
	}

	waitCmd, err := docker.NewWaitProcess(dc.cfg.Docker, c.executorName())
	if err != nil {
		return 0, err
	}
	pid := waitCmd.Process.Pid

	if err := dc.checkpointPid(c, pid); err != nil {
		return 0, errors.Wrap(err, "failed to checkpoint executor's pid")
	}

	dc.mu.Lock()
	c.executorCmd = waitCmd
	dc.mu.Unlock()

	c.status.arm(reaper.ReapCmd(waitCmd))
	return pid, nil
}

// checkpointPid records the executor pid on the container and, when
// checkpointing is on, persists it for recovery after agent restarts.
func (dc *DockerContainerizer) checkpointPid(c *container, pid int) error {
	dc.mu.Lock()
	c.executorPid = pid
	dc.mu.Unlock()

	if !c.checkpoint {
		return nil
	}

	metaRoot := state.MetaRootDir(dc.cfg.WorkDir)
	path := state.ForkedPidPath(metaRoot, c.slaveID, c.executor.FrameworkID, c.executor.ExecutorID, c.id)

	log.WithFields(log.Fields{"pid": pid, "path": path}).Info("Checkpointing executor pid")

	if err := state.CheckpointPid(path, pid); err != nil {
		return err
	}
	if err := state.RecordLatest(metaRoot, c.slaveID, c.executor.FrameworkID, c.executor.ExecutorID, c.id); err != nil {
		log.WithField("container", c.id).Warning("Cannot record latest run: ", err)
	}
	return nil
}

// executorEnvironment builds the helper's environment: the agent handles
// first, then the executor's own variables on top.
func (dc *DockerContainerizer) executorEnvironment(c *container) []string {
	env := map[string]string{
		"MESOS_FRAMEWORK_ID": c.executor.FrameworkID,
		"MESOS_EXECUTOR_ID":  c.executor.ExecutorID,
		"MESOS_DIRECTORY":    c.directory,
		"MESOS_SLAVE_ID":     c.slaveID,
		"MESOS_SLAVE_PID":    c.slavePid,
		"MESOS_CHECKPOINT":   "0",
	}
	if c.checkpoint {
		env["MESOS_CHECKPOINT"] = "1"
		env["MESOS_RECOVERY_TIMEOUT"] = dc.cfg.RecoveryTimeout.String()
	}

	if c.executor.Command != nil {
		for name, value := range c.executor.Command.Environment {
			env[name] = value
		}
	}

	// Pass the agent's glog verbosity through to the helper.
	if glog := os.Getenv("GLOG_v"); glog != "" {
		env["GLOG_v"] = glog
	}

	flattened := make([]string, 0, len(env))
	for name, value := range env {
		flattened = append(flattened, name+"="+value)
	}
	sort.Strings(flattened)
	return flattened
}

// runOptions translates the container description into a docker run.
func (dc *DockerContainerizer) runOptions(c *container) docker.RunOptions {
	info := c.containerInfo()
	command := c.commandInfo()

	opts := docker.RunOptions{
		Name:  c.name(),
		Image: c.image(),
		Binds: []string{c.directory + ":" + dc.cfg.DockerSandboxDirectory},
	}

	if info.Docker != nil {
		opts.Network = info.Docker.Network
		opts.Privileged = info.Docker.Privileged
	}

	for _, volume := range info.Volumes {
		mode := "rw"
		if volume.Mode == mesos.VolumeRO {
			mode = "ro"
		}
		hostPath := volume.HostPath
		if hostPath == "" {
			hostPath = volume.ContainerPath
		}
		opts.Binds = append(opts.Binds, hostPath+":"+volume.ContainerPath+":"+mode)
	}

	env := map[string]string{
		"MESOS_SANDBOX": dc.cfg.DockerSandboxDirectory,
	}
	if command != nil {
		for name, value := range command.Environment {
			env[name] = value
		}
	}
	for name, value := range env {
		opts.Env = append(opts.Env, name+"="+value)
	}
	sort.Strings(opts.Env)

	if command != nil {
		if command.Shell && command.Value != "" {
			opts.Cmd = []string{"/bin/sh", "-c", command.Value}
		} else if command.Value != "" {
			opts.Cmd = append([]string{command.Value}, command.Arguments...)
		}
	}

	if cpus, ok := c.resources.CPUs(); ok {
		opts.CPUShares = int64(cgroups.SharesForCPUs(cpus))
	}
	if mem, ok := c.resources.MemBytes(); ok {
		limit := cgroups.MemoryLimit(mem)
		opts.Memory = limit
		opts.MemoryReservation = limit
	}

	return opts
}

// streamLogs mirrors the container's stdout/stderr into the sandbox files.
// The stream runs until the container exits; failures only cost logs, not
// the container, so they are logged and dropped.
func (dc *DockerContainerizer) streamLogs(c *container) {
	stdout, err := os.OpenFile(filepath.Join(c.directory, "stdout"), os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.WithField("container", c.id).Warning("Cannot open sandbox stdout for logs: ", err)
		return
	}
	stderr, err := os.OpenFile(filepath.Join(c.directory, "stderr"), os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		_ = stdout.Close()
		log.WithField("container", c.id).Warning("Cannot open sandbox stderr for logs: ", err)
		return
	}

	name := c.name()
	go func() {
		defer func() {
			_ = stdout.Close()
			_ = stderr.Close()
		}()
		if err := dc.docker.Logs(context.Background(), name, stdout, stderr); err != nil {
			log.WithField("container", name).Debug("Log stream ended: ", err)
		}
	}()
}
