// Package config carries the flag-bound configuration for the Docker
// containerizer and its helper binaries.
package config

import (
	"time"

	"github.com/urfave/cli"
)

// Config represents the configuration for the Docker containerizer.
type Config struct { // nolint: maligned
	// Docker is the path of the Docker CLI binary, used for the helper
	// subprocesses (docker wait) that must outlive the agent.
	Docker string
	// DockerHost is the Docker daemon endpoint for the API client.
	DockerHost string
	// DockerSocket is the host path of the Docker socket, mounted into
	// the executor container when the agent itself runs in Docker.
	DockerSocket string
	// DockerMesosImage, when set, runs the executor helper inside a
	// Docker container using this image instead of a local subprocess.
	DockerMesosImage string
	// DockerSandboxDirectory is the sandbox path mapped inside task
	// containers.
	DockerSandboxDirectory string
	// DockerStopTimeout is the grace period passed to docker stop.
	DockerStopTimeout time.Duration
	// DockerRemoveDelay is how long to wait before docker rm -f during
	// teardown.
	DockerRemoveDelay time.Duration
	// DockerKillOrphans controls whether recovery stops Mesos-named
	// containers nobody claimed.
	DockerKillOrphans bool

	WorkDir         string
	LauncherDir     string
	RecoveryTimeout time.Duration
}

// NewConfig generates a configuration, with a set of flags tied to it.
func NewConfig() (*Config, []cli.Flag) {
	cfg := &Config{}
	flags := []cli.Flag{
		cli.StringFlag{
			Name:        "docker",
			EnvVar:      "MESOS_DOCKER",
			Value:       "docker",
			Destination: &cfg.Docker,
		},
		cli.StringFlag{
			Name:        "docker_host",
			EnvVar:      "DOCKER_HOST",
			Value:       "unix:///var/run/docker.sock",
			Destination: &cfg.DockerHost,
		},
		cli.StringFlag{
			Name:        "docker_socket",
			Value:       "/var/run/docker.sock",
			Destination: &cfg.DockerSocket,
		},
		cli.StringFlag{
			Name:        "docker_mesos_image",
			EnvVar:      "MESOS_DOCKER_MESOS_IMAGE",
			Destination: &cfg.DockerMesosImage,
		},
		cli.StringFlag{
			Name:        "docker_sandbox_directory",
			Value:       "/mnt/mesos/sandbox",
			Destination: &cfg.DockerSandboxDirectory,
		},
		cli.DurationFlag{
			Name:        "docker_stop_timeout",
			Value:       0 * time.Second,
			Destination: &cfg.DockerStopTimeout,
		},
		cli.DurationFlag{
			Name:        "docker_remove_delay",
			Value:       6 * time.Hour,
			Destination: &cfg.DockerRemoveDelay,
		},
		cli.BoolTFlag{
			Name:        "docker_kill_orphans",
			Destination: &cfg.DockerKillOrphans,
		},
		cli.StringFlag{
			Name:        "work_dir",
			EnvVar:      "MESOS_WORK_DIR",
			Value:       "/tmp/mesos",
			Destination: &cfg.WorkDir,
		},
		cli.StringFlag{
			Name:        "launcher_dir",
			EnvVar:      "MESOS_LAUNCHER_DIR",
			Value:       "/usr/libexec/mesos",
			Destination: &cfg.LauncherDir,
		},
		cli.DurationFlag{
			Name:        "recovery_timeout",
			Value:       15 * time.Minute,
			Destination: &cfg.RecoveryTimeout,
		},
	}
	return cfg, flags
}

// GenerateConfiguration parses the given command line arguments into a
// Config. It exists so tests can exercise flag parsing without a real app.
func GenerateConfiguration(args []string) (*Config, error) {
	cfg, flags := NewConfig()

	app := cli.NewApp()
	app.Flags = flags
	app.Action = func(c *cli.Context) error {
		return nil
	}
	if args == nil {
		args = []string{}
	}

	args = append([]string{"fakename"}, args...)

	return cfg, app.Run(args)
}
