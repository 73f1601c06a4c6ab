package state

import (
	"io/ioutil"
	"os"
	"path/filepath"
)

func dir(path string) string {
	return filepath.Dir(path)
}

// MetaRootDir is where run checkpoints live under the agent work directory.
func MetaRootDir(workDir string) string {
	return filepath.Join(workDir, "meta")
}

// SlavePath is the per-agent directory under the work directory.
func SlavePath(workDir, slaveID string) string {
	return filepath.Join(workDir, slaveID)
}

// ForkedPidPath is the checkpoint location for one executor run's pid.
func ForkedPidPath(metaRoot, slaveID, frameworkID, executorID, containerID string) string {
	return filepath.Join(
		metaRoot,
		"slaves", slaveID,
		"frameworks", frameworkID,
		"executors", executorID,
		"runs", containerID,
		"pids", "forked.pid")
}

// completedMarkerPath flags a run whose termination was already observed.
func completedMarkerPath(metaRoot, slaveID, frameworkID, executorID, containerID string) string {
	return filepath.Join(
		metaRoot,
		"slaves", slaveID,
		"frameworks", frameworkID,
		"executors", executorID,
		"runs", containerID,
		"completed")
}

// MarkCompleted records that a run's termination has been delivered, so a
// later recovery skips it.
func MarkCompleted(metaRoot, slaveID, frameworkID, executorID, containerID string) error {
	path := completedMarkerPath(metaRoot, slaveID, frameworkID, executorID, containerID)
	if err := os.MkdirAll(dir(path), 0755); err != nil {
		return err
	}
	return ioutil.WriteFile(path, nil, 0644)
}

// Read walks the checkpoint layout under the work directory and rebuilds
// the SlaveState recovery input. A missing meta directory yields nil state,
// which Recover treats as a fresh agent.
func Read(workDir, slaveID string) (*SlaveState, error) {
	metaRoot := MetaRootDir(workDir)
	frameworksDir := filepath.Join(metaRoot, "slaves", slaveID, "frameworks")

	frameworkEntries, err := ioutil.ReadDir(frameworksDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	slaveState := &SlaveState{
		ID:         slaveID,
		Frameworks: map[string]FrameworkState{},
	}

	for _, frameworkEntry := range frameworkEntries {
		if !frameworkEntry.IsDir() {
			continue
		}
		frameworkID := frameworkEntry.Name()
		framework := FrameworkState{ID: frameworkID, Executors: map[string]ExecutorState{}}

		executorsDir := filepath.Join(frameworksDir, frameworkID, "executors")
		executorEntries, err := ioutil.ReadDir(executorsDir)
		if err != nil {
			continue
		}

		for _, executorEntry := range executorEntries {
			if !executorEntry.IsDir() {
				continue
			}
			executorID := executorEntry.Name()
			executor := ExecutorState{ID: executorID, Runs: map[string]RunState{}}

			runsDir := filepath.Join(executorsDir, executorID, "runs")
			runEntries, err := ioutil.ReadDir(runsDir)
			if err != nil {
				continue
			}

			for _, runEntry := range runEntries {
				if runEntry.Mode()&os.ModeSymlink != 0 && runEntry.Name() == "latest" {
					if target, err := os.Readlink(filepath.Join(runsDir, "latest")); err == nil {
						executor.Latest = filepath.Base(target)
					}
					continue
				}
				if !runEntry.IsDir() {
					continue
				}
				containerID := runEntry.Name()
				pid, err := ReadForkedPid(ForkedPidPath(metaRoot, slaveID, frameworkID, executorID, containerID))
				if err != nil {
					return nil, err
				}
				completed := false
				if _, err := os.Stat(completedMarkerPath(metaRoot, slaveID, frameworkID, executorID, containerID)); err == nil {
					completed = true
				}
				executor.Runs[containerID] = RunState{
					ID:        containerID,
					ForkedPid: pid,
					Completed: completed,
				}
			}

			// Without a latest symlink a single run is unambiguous.
			if executor.Latest == "" && len(executor.Runs) == 1 {
				for id := range executor.Runs {
					executor.Latest = id
				}
			}

			framework.Executors[executorID] = executor
		}

		slaveState.Frameworks[frameworkID] = framework
	}

	return slaveState, nil
}

// RecordLatest points the latest symlink of an executor's runs directory at
// the given container id.
func RecordLatest(metaRoot, slaveID, frameworkID, executorID, containerID string) error {
	runsDir := filepath.Join(
		metaRoot,
		"slaves", slaveID,
		"frameworks", frameworkID,
		"executors", executorID,
		"runs")
	if err := os.MkdirAll(filepath.Join(runsDir, containerID), 0755); err != nil {
		return err
	}
	link := filepath.Join(runsDir, "latest")
	_ = os.Remove(link)
	return os.Symlink(filepath.Join(runsDir, containerID), link)
}
