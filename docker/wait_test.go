package docker

import (
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"gotest.tools/assert"
)

// fakeDockerCLI writes a docker stand-in whose wait subcommand reports the
// given exit status.
func fakeDockerCLI(t *testing.T, waitStatus string) string {
	dir, err := ioutil.TempDir("", "wait-test")
	assert.NilError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	script := filepath.Join(dir, "docker")
	body := "#!/bin/sh\nif [ \"$1\" = \"wait\" ]; then echo " + waitStatus + "; fi\n"
	assert.NilError(t, ioutil.WriteFile(script, []byte(body), 0755))
	return script
}

func TestNewWaitProcessForwardsExitStatus(t *testing.T) {
	cmd, err := NewWaitProcess(fakeDockerCLI(t, "3"), "mesos-S1.c1")
	assert.NilError(t, err)

	waitErr := cmd.Wait()
	exitErr, ok := waitErr.(*exec.ExitError)
	assert.Assert(t, ok, "expected an exit error, got %v", waitErr)
	assert.Equal(t, 3, exitErr.ExitCode())
}

func TestNewWaitProcessCleanExit(t *testing.T) {
	cmd, err := NewWaitProcess(fakeDockerCLI(t, "0"), "mesos-S1.c1")
	assert.NilError(t, err)
	assert.NilError(t, cmd.Wait())
}
