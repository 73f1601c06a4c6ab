package reaper

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReapCmdExitStatus(t *testing.T) {
	cmd := exec.Command("/bin/sh", "-c", "exit 7")
	require.NoError(t, cmd.Start())

	select {
	case status := <-ReapCmd(cmd):
		require.NotNil(t, status)
		assert.Equal(t, 7, *status)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for exit status")
	}
}

func TestReapCmdSuccess(t *testing.T) {
	cmd := exec.Command("/bin/true")
	require.NoError(t, cmd.Start())

	status := <-ReapCmd(cmd)
	require.NotNil(t, status)
	assert.Equal(t, 0, *status)
}

func TestReapAdoptedPid(t *testing.T) {
	cmd := exec.Command("/bin/sleep", "0.2")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid

	statusChan := Reap(pid)
	// Collect the child ourselves so the pid actually goes away.
	_ = cmd.Wait()

	select {
	case status := <-statusChan:
		assert.Nil(t, status)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for adopted pid to be reaped")
	}
}

func TestExists(t *testing.T) {
	assert.True(t, Exists(os.Getpid()))
	assert.False(t, Exists(0))
	assert.False(t, Exists(-42))
}
