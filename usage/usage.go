// Package usage samples per-process resource statistics out of /proc. The
// root pid of a Docker container acts as its init, so walking its children
// covers every process inside the container.
package usage

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/openmesos/docker-agent/api/mesos"
)

// Probe resolves resource statistics for a pid. It matches the agent's
// usage helper contract: optionally include all descendant processes, and
// optionally include cpu/memory statistics beyond the bare process counts.
type Probe func(pid int, includeChildren, includeStatistics bool) (*mesos.ResourceStatistics, error)

// clockTicks is the kernel's USER_HZ. It has been 100 on every platform Go
// runs on for a long time; reading it via sysconf is not worth cgo here.
const clockTicks = 100

type procSample struct {
	utimeTicks uint64
	stimeTicks uint64
	rssPages   uint64
	threads    uint32
}

// FromProc is the default Probe implementation.
func FromProc(pid int, includeChildren, includeStatistics bool) (*mesos.ResourceStatistics, error) {
	pids := []int{pid}
	if includeChildren {
		var err error
		pids, err = descendants(pid)
		if err != nil {
			return nil, err
		}
	}

	result := &mesos.ResourceStatistics{
		Timestamp: float64(time.Now().UnixNano()) / float64(time.Second),
		Processes: uint32(len(pids)),
	}
	if !includeStatistics {
		return result, nil
	}

	pageSize := uint64(os.Getpagesize())
	for _, p := range pids {
		sample, err := readStat(p)
		if err != nil {
			// Processes may exit while we walk the tree.
			continue
		}
		result.CPUsUserTimeSecs += float64(sample.utimeTicks) / clockTicks
		result.CPUsSystemTimeSecs += float64(sample.stimeTicks) / clockTicks
		result.MemRSSBytes += sample.rssPages * pageSize
		result.Threads += sample.threads
	}

	return result, nil
}

// descendants returns pid plus every transitive child, walking
// /proc/<pid>/task/<tid>/children.
func descendants(pid int) ([]int, error) {
	if _, err := os.Stat(fmt.Sprintf("/proc/%d", pid)); err != nil {
		return nil, errors.Wrapf(err, "process %d does not exist", pid)
	}

	all := []int{}
	queue := []int{pid}
	seen := map[int]bool{pid: true}

	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		all = append(all, p)

		tasks, err := ioutil.ReadDir(fmt.Sprintf("/proc/%d/task", p))
		if err != nil {
			continue
		}
		for _, task := range tasks {
			out, err := ioutil.ReadFile(filepath.Join("/proc", strconv.Itoa(p), "task", task.Name(), "children"))
			if err != nil {
				continue
			}
			for _, field := range strings.Fields(string(out)) {
				child, err := strconv.Atoi(field)
				if err != nil || seen[child] {
					continue
				}
				seen[child] = true
				queue = append(queue, child)
			}
		}
	}

	return all, nil
}

func readStat(pid int) (*procSample, error) {
	out, err := ioutil.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return nil, err
	}
	return parseStat(string(out))
}

// parseStat picks the utime, stime, num_threads and rss fields out of a
// /proc/<pid>/stat line. The comm field may contain spaces and parentheses,
// so fields are counted from the last ')'.
func parseStat(line string) (*procSample, error) {
	idx := strings.LastIndex(line, ")")
	if idx < 0 {
		return nil, errors.New("malformed stat line")
	}
	fields := strings.Fields(line[idx+1:])
	// fields[0] is the state, field numbering in proc(5) starts at 1 for
	// the pid, so utime (14) lands at fields[11].
	if len(fields) < 22 {
		return nil, errors.New("truncated stat line")
	}

	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "bad utime")
	}
	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "bad stime")
	}
	threads, err := strconv.ParseUint(fields[17], 10, 32)
	if err != nil {
		return nil, errors.Wrap(err, "bad num_threads")
	}
	rss, err := strconv.ParseUint(fields[21], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "bad rss")
	}

	return &procSample{
		utimeTicks: utime,
		stimeTicks: stime,
		rssPages:   rss,
		threads:    uint32(threads),
	}, nil
}
