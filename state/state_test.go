package state

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempWorkDir(t *testing.T) string {
	workDir, err := ioutil.TempDir("", "state-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(workDir) })
	return workDir
}

func TestCheckpointPidRoundTrip(t *testing.T) {
	workDir := tempWorkDir(t)
	path := ForkedPidPath(MetaRootDir(workDir), "S1", "fw", "ex", "c1")

	require.NoError(t, CheckpointPid(path, 4711))

	pid, err := ReadForkedPid(path)
	require.NoError(t, err)
	require.NotNil(t, pid)
	assert.Equal(t, 4711, *pid)
}

func TestReadForkedPidMissing(t *testing.T) {
	workDir := tempWorkDir(t)
	pid, err := ReadForkedPid(ForkedPidPath(MetaRootDir(workDir), "S1", "fw", "ex", "c1"))
	require.NoError(t, err)
	assert.Nil(t, pid)
}

func TestReadStateEmpty(t *testing.T) {
	workDir := tempWorkDir(t)
	slaveState, err := Read(workDir, "S1")
	require.NoError(t, err)
	assert.Nil(t, slaveState)
}

func TestReadStateRoundTrip(t *testing.T) {
	workDir := tempWorkDir(t)
	metaRoot := MetaRootDir(workDir)

	require.NoError(t, CheckpointPid(ForkedPidPath(metaRoot, "S1", "fw1", "ex1", "c1"), 100))
	require.NoError(t, CheckpointPid(ForkedPidPath(metaRoot, "S1", "fw1", "ex1", "c2"), 200))
	require.NoError(t, RecordLatest(metaRoot, "S1", "fw1", "ex1", "c2"))
	require.NoError(t, MarkCompleted(metaRoot, "S1", "fw1", "ex1", "c1"))

	slaveState, err := Read(workDir, "S1")
	require.NoError(t, err)
	require.NotNil(t, slaveState)

	executor := slaveState.Frameworks["fw1"].Executors["ex1"]
	assert.Equal(t, "c2", executor.Latest)
	require.Len(t, executor.Runs, 2)

	run1 := executor.Runs["c1"]
	require.NotNil(t, run1.ForkedPid)
	assert.Equal(t, 100, *run1.ForkedPid)
	assert.True(t, run1.Completed)

	run2 := executor.Runs["c2"]
	require.NotNil(t, run2.ForkedPid)
	assert.Equal(t, 200, *run2.ForkedPid)
	assert.False(t, run2.Completed)
}

func TestReadStateSingleRunImpliesLatest(t *testing.T) {
	workDir := tempWorkDir(t)
	metaRoot := MetaRootDir(workDir)
	require.NoError(t, CheckpointPid(ForkedPidPath(metaRoot, "S1", "fw1", "ex1", "only"), 42))

	slaveState, err := Read(workDir, "S1")
	require.NoError(t, err)
	assert.Equal(t, "only", slaveState.Frameworks["fw1"].Executors["ex1"].Latest)
}
