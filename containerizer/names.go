package containerizer

import "strings"

// Containers created by this agent are named mesos-<slaveId>.<containerId>
// to tell them apart from containers started by anyone else. Executor
// helper containers append a trailing ".executor" token.
const (
	dockerNamePrefix    = "mesos-"
	dockerNameSeparator = "."
	executorSuffix      = "executor"

	// dockerSymlinkDirectory, under the per-slave work directory, holds
	// stand-in symlinks for sandbox paths Docker cannot mount directly.
	dockerSymlinkDirectory = "docker/links"
)

// containerName builds the Docker name for a container.
func containerName(slaveID, containerID string) string {
	return dockerNamePrefix + slaveID + dockerNameSeparator + containerID
}

// executorContainerName builds the Docker name for the executor helper
// container belonging to a container.
func executorContainerName(slaveID, containerID string) string {
	return containerName(slaveID, containerID) + dockerNameSeparator + executorSuffix
}

// parseContainerName extracts the ContainerID from a Docker container name,
// reporting false for containers this agent did not start. The Docker API
// is inconsistent about a leading slash, so both forms are accepted, and
// the pre-slave-id legacy format mesos-<containerId> still parses for one
// deprecation cycle.
func parseContainerName(name string) (string, bool) {
	trimmed := strings.TrimPrefix(name, "/")
	if !strings.HasPrefix(trimmed, dockerNamePrefix) {
		return "", false
	}
	trimmed = strings.TrimPrefix(trimmed, dockerNamePrefix)

	if !strings.Contains(trimmed, dockerNameSeparator) {
		// TODO(recovery): drop the legacy format after the deprecation
		// cycle for slave-id qualified names completes.
		return trimmed, trimmed != ""
	}

	parts := strings.Split(trimmed, dockerNameSeparator)
	if len(parts) != 2 && len(parts) != 3 {
		return "", false
	}

	// The ContainerID is the last segment that is not the executor
	// token: a legacy executor-helper name has only the id before it.
	var id string
	if parts[len(parts)-1] == executorSuffix {
		id = parts[len(parts)-2]
	} else {
		id = parts[len(parts)-1]
	}
	return id, id != ""
}

// isExecutorContainerName reports whether the name belongs to an executor
// helper container.
func isExecutorContainerName(name string) bool {
	return strings.Contains(name, dockerNameSeparator+executorSuffix)
}
