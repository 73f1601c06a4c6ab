package docker

import (
	"fmt"
	"os/exec"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// NewWaitProcess spawns a shell running `docker wait` against the given
// container and returns the started command. The subprocess exits with the
// container's exit status, so reaping it stands in for reaping the container
// itself. This is how executors are tracked when the agent runs inside
// Docker: forked children are lost on agent restart, but the wait process
// can always be relaunched against the still-live container.
func NewWaitProcess(dockerPath, name string) (*exec.Cmd, error) {
	command := fmt.Sprintf("exit `%s wait %s`", dockerPath, name)

	log.WithField("container", name).Debug("Launching wait process: ", command)

	cmd := exec.Command("/bin/sh", "-c", command)
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "unable to launch docker wait on executor")
	}

	return cmd, nil
}
