// Package reaper watches processes for exit and delivers their status.
//
// Two kinds of processes are watched: direct children, whose exit status we
// can collect with wait, and adopted pids recovered from a previous agent
// run, which are not our children and can only be polled for liveness.
package reaper

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"os/exec"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

const pollInterval = 100 * time.Millisecond

// ReapCmd waits on a started command and delivers its exit status on the
// returned channel. The channel is closed after the single delivery.
func ReapCmd(cmd *exec.Cmd) <-chan *int {
	statusChan := make(chan *int, 1)
	go func() {
		defer close(statusChan)
		err := cmd.Wait()
		status := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			status = exitErr.ExitCode()
		} else if err != nil {
			log.WithField("pid", cmd.Process.Pid).Warning("Wait failed: ", err)
			statusChan <- nil
			return
		}
		statusChan <- &status
	}()
	return statusChan
}

// Reap polls an arbitrary pid until it no longer exists and then delivers a
// nil status, since the exit status of a non-child cannot be observed. The
// channel is closed after the single delivery.
func Reap(pid int) <-chan *int {
	statusChan := make(chan *int, 1)
	go func() {
		defer close(statusChan)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for range ticker.C {
			if !Exists(pid) {
				statusChan <- nil
				return
			}
		}
	}()
	return statusChan
}

// Exists reports whether a process with the given pid is alive. Sending
// signal 0 probes for existence without delivering anything.
func Exists(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	// EPERM means the process exists but belongs to someone else.
	if err != nil && err != unix.EPERM {
		return false
	}
	// A zombie still answers signal 0 until its parent waits for it, but
	// it is no longer alive.
	if stat, err := ioutil.ReadFile(fmt.Sprintf("/proc/%d/stat", pid)); err == nil {
		if idx := bytes.LastIndexByte(stat, ')'); idx >= 0 && idx+2 < len(stat) && stat[idx+2] == 'Z' {
			return false
		}
	}
	return true
}

// KillTree delivers the signal to the process group led by pid, falling
// back to the single process when it leads no group. Executors are started
// with setsid, so the group normally covers their whole tree.
func KillTree(pid int, sig unix.Signal) error {
	if err := unix.Kill(-pid, sig); err == nil {
		return nil
	}
	return unix.Kill(pid, sig)
}
