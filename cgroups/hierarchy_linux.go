//go:build linux
// +build linux

package cgroups

import (
	"fmt"
	"sync"

	runcCgroups "github.com/opencontainers/runc/libcontainer/cgroups"
	"github.com/pkg/errors"
)

var (
	hierarchyMu    sync.Mutex
	hierarchyCache = map[string]string{}
)

// Hierarchy returns the mount point of the hierarchy the given subsystem is
// attached to. Results are memoised for the life of the process, since
// cgroup mounts do not move under a running agent.
func Hierarchy(subsystem string) (string, error) {
	hierarchyMu.Lock()
	defer hierarchyMu.Unlock()

	if mount, ok := hierarchyCache[subsystem]; ok {
		return mount, nil
	}

	mount, err := runcCgroups.FindCgroupMountpoint("", subsystem)
	if err != nil {
		return "", errors.Wrapf(err,
			"failed to determine the cgroup hierarchy where the %q subsystem is mounted", subsystem)
	}

	hierarchyCache[subsystem] = mount
	return mount, nil
}

// Of returns the cgroup the pid belongs to within the given subsystem's
// hierarchy. An empty string with nil error means the pid is not a member
// of any cgroup in that subsystem.
func Of(pid int, subsystem string) (string, error) {
	paths, err := runcCgroups.ParseCgroupFile(fmt.Sprintf("/proc/%d/cgroup", pid))
	if err != nil {
		return "", errors.Wrapf(err, "failed to determine cgroup for the %q subsystem", subsystem)
	}
	return paths[subsystem], nil
}
