// Package state models the slice of checkpointed agent state the Docker
// containerizer consumes during recovery, plus the forked-pid checkpoint it
// writes during launch.
package state

import (
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/google/renameio"
	"github.com/pkg/errors"
)

// SlaveState is the recovered per-agent checkpoint handed to Recover.
type SlaveState struct {
	ID         string
	Frameworks map[string]FrameworkState
}

// FrameworkState holds the executors checkpointed for one framework.
type FrameworkState struct {
	ID        string
	Executors map[string]ExecutorState
}

// ExecutorState holds the runs checkpointed for one executor. Latest names
// the container id of the most recent run; only that run is recovered.
type ExecutorState struct {
	ID     string
	Latest string
	Runs   map[string]RunState
}

// RunState is a single executor run. ForkedPid is nil when the pid
// checkpoint was never written; an unreadable or malformed checkpoint
// makes Read fail instead.
type RunState struct {
	ID        string
	ForkedPid *int
	Completed bool
}

// CheckpointPid atomically writes the forked executor pid. A torn pid file
// is worse than a missing one at recovery time, hence the rename dance.
func CheckpointPid(path string, pid int) error {
	if err := os.MkdirAll(dir(path), 0755); err != nil {
		return errors.Wrapf(err, "failed to create checkpoint directory for %s", path)
	}
	if err := renameio.WriteFile(path, []byte(strconv.Itoa(pid)), 0644); err != nil {
		return errors.Wrapf(err, "failed to checkpoint pid to %s", path)
	}
	return nil
}

// ReadForkedPid reads back a checkpointed pid. A missing file returns
// (nil, nil): the agent simply never got as far as checkpointing.
func ReadForkedPid(path string) (*int, error) {
	out, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read pid checkpoint %s", path)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return nil, errors.Wrapf(err, "malformed pid checkpoint %s", path)
	}
	return &pid, nil
}
