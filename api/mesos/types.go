// Package mesos holds the subset of agent API messages the Docker
// containerizer exchanges with the rest of the slave: task and executor
// descriptions, resource allocations and the termination record delivered
// when a container is destroyed.
package mesos

// ContainerType discriminates which containerizer a task asked for.
type ContainerType int

const (
	// ContainerTypeMesos requests the built-in Mesos containerizer.
	ContainerTypeMesos ContainerType = iota + 1
	// ContainerTypeDocker requests the Docker containerizer.
	ContainerTypeDocker
)

// VolumeMode controls whether a volume is writable from the container.
type VolumeMode int

const (
	// VolumeRW mounts the volume read-write.
	VolumeRW VolumeMode = iota + 1
	// VolumeRO mounts the volume read-only.
	VolumeRO
)

// Volume describes a host path bind-mounted into a container.
type Volume struct {
	HostPath      string
	ContainerPath string
	Mode          VolumeMode
}

// Parameter is an arbitrary flag passed through to docker run.
type Parameter struct {
	Key   string
	Value string
}

// DockerInfo is the Docker specific portion of a ContainerInfo.
type DockerInfo struct {
	Image          string
	Network        string
	Privileged     bool
	ForcePullImage bool
	Parameters     []Parameter
}

// ContainerInfo describes the container a task or executor should run in.
type ContainerInfo struct {
	Type    ContainerType
	Docker  *DockerInfo
	Volumes []Volume
}

// URI is an artifact to fetch into the sandbox before launch.
type URI struct {
	Value      string
	Executable bool
	Extract    bool
	Cache      bool
	OutputFile string
}

// CommandInfo describes the command an executor runs, along with its
// environment and the artifacts that have to be staged first.
type CommandInfo struct {
	Value       string
	Shell       bool
	Arguments   []string
	URIs        []URI
	Environment map[string]string
	User        string
}

// TaskInfo describes a single task wrapped by a container.
type TaskInfo struct {
	TaskID    string
	Name      string
	Container *ContainerInfo
	Command   *CommandInfo
	Resources Resources
}

// ExecutorInfo describes the executor the agent launches for a task.
type ExecutorInfo struct {
	ExecutorID  string
	FrameworkID string
	Name        string
	Container   *ContainerInfo
	Command     *CommandInfo
	Resources   Resources
}

// Termination is delivered through Containerizer.Wait when a container
// reaches the end of its life.
type Termination struct {
	// Killed is true when the container was destroyed on request rather
	// than because the executor exited on its own.
	Killed bool
	// Status carries the executor's exit status when it is known.
	Status *int
	// Message is a human readable description of why the container went
	// away.
	Message string
}

// ResourceStatistics is a point-in-time usage sample for a container.
type ResourceStatistics struct {
	Timestamp          float64
	CPUsLimit          float64
	CPUsUserTimeSecs   float64
	CPUsSystemTimeSecs float64
	MemLimitBytes      uint64
	MemRSSBytes        uint64
	Processes          uint32
	Threads            uint32
}
