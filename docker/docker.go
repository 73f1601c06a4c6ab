// Package docker wraps the subset of the Docker Engine API the containerizer
// consumes behind a small interface, so the lifecycle engine can be driven
// against a deterministic double in tests.
package docker

import (
	"context"
	"io"
	"io/ioutil"
	"time"

	"github.com/docker/distribution/reference"
	dockerTypes "github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockerClient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Container is the slice of docker inspect/ps output the containerizer
// cares about.
type Container struct {
	ID      string
	Name    string
	Pid     int
	Running bool
}

// RunOptions describes a container to create and start.
type RunOptions struct {
	Name       string
	Image      string
	Cmd        []string
	Entrypoint []string
	Env        []string
	Binds      []string
	WorkingDir string
	Network    string
	Privileged bool

	CPUShares         int64
	Memory            int64
	MemoryReservation int64
}

// Client is the capability set the containerizer needs from Docker.
type Client interface {
	Run(ctx context.Context, opts RunOptions) error
	Stop(ctx context.Context, name string, timeout time.Duration) error
	Rm(ctx context.Context, name string, force bool) error
	Inspect(ctx context.Context, name string) (*Container, error)
	Ps(ctx context.Context, all bool, namePrefix string) ([]Container, error)
	Pull(ctx context.Context, image string, force bool) error
	Logs(ctx context.Context, name string, stdout, stderr io.Writer) error
}

// IsErrNotFound reports whether the error is Docker's not-found error.
func IsErrNotFound(err error) bool {
	return dockerClient.IsErrNotFound(errors.Cause(err))
}

type apiClient struct {
	client *dockerClient.Client
}

// NewClient connects to the Docker daemon at the given host.
func NewClient(host string) (Client, error) {
	c, err := dockerClient.NewClientWithOpts(
		dockerClient.WithHost(host),
		dockerClient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "cannot connect to Docker daemon")
	}
	return &apiClient{client: c}, nil
}

func (c *apiClient) Run(ctx context.Context, opts RunOptions) error {
	cfg := &container.Config{
		Image:      opts.Image,
		Cmd:        opts.Cmd,
		Entrypoint: opts.Entrypoint,
		Env:        opts.Env,
		WorkingDir: opts.WorkingDir,
	}
	hostCfg := &container.HostConfig{
		Binds:      opts.Binds,
		Privileged: opts.Privileged,
		Resources: container.Resources{
			CPUShares:         opts.CPUShares,
			Memory:            opts.Memory,
			MemoryReservation: opts.MemoryReservation,
		},
	}
	if opts.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(opts.Network)
	}

	created, err := c.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, opts.Name)
	if err != nil {
		return errors.Wrapf(err, "failed to create container %s", opts.Name)
	}
	for _, warning := range created.Warnings {
		log.WithField("container", opts.Name).Warning(warning)
	}

	if err := c.client.ContainerStart(ctx, created.ID, dockerTypes.ContainerStartOptions{}); err != nil {
		return errors.Wrapf(err, "failed to start container %s", opts.Name)
	}
	return nil
}

func (c *apiClient) Stop(ctx context.Context, name string, timeout time.Duration) error {
	if err := c.client.ContainerStop(ctx, name, &timeout); err != nil {
		return errors.Wrapf(err, "failed to stop container %s", name)
	}
	return nil
}

func (c *apiClient) Rm(ctx context.Context, name string, force bool) error {
	err := c.client.ContainerRemove(ctx, name, dockerTypes.ContainerRemoveOptions{Force: force})
	if err != nil {
		return errors.Wrapf(err, "failed to remove container %s", name)
	}
	return nil
}

func (c *apiClient) Inspect(ctx context.Context, name string) (*Container, error) {
	inspected, err := c.client.ContainerInspect(ctx, name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to inspect container %s", name)
	}
	parsed := &Container{
		ID:   inspected.ID,
		Name: inspected.Name,
	}
	if inspected.State != nil {
		parsed.Pid = inspected.State.Pid
		parsed.Running = inspected.State.Running
	}
	return parsed, nil
}

func (c *apiClient) Ps(ctx context.Context, all bool, namePrefix string) ([]Container, error) {
	filter := filters.NewArgs()
	if namePrefix != "" {
		filter.Add("name", namePrefix)
	}
	listed, err := c.client.ContainerList(ctx, dockerTypes.ContainerListOptions{
		All:     all,
		Filters: filter,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to list containers")
	}

	containers := make([]Container, 0, len(listed))
	for _, l := range listed {
		name := ""
		if len(l.Names) > 0 {
			name = l.Names[0]
		}
		containers = append(containers, Container{
			ID:      l.ID,
			Name:    name,
			Running: l.State == "running",
		})
	}
	return containers, nil
}

func (c *apiClient) Pull(ctx context.Context, image string, force bool) error {
	named, err := reference.ParseNormalizedNamed(image)
	if err != nil {
		return errors.Wrapf(err, "invalid image reference %q", image)
	}
	ref := reference.TagNameOnly(named).String()

	if !force {
		if _, _, err := c.client.ImageInspectWithRaw(ctx, ref); err == nil {
			log.WithField("image", ref).Debug("Image already present, skipping pull")
			return nil
		}
	}

	resp, err := c.client.ImagePull(ctx, ref, dockerTypes.ImagePullOptions{})
	if err != nil {
		return errors.Wrapf(err, "failed to pull image %s", ref)
	}
	defer func() {
		if err := resp.Close(); err != nil {
			log.WithField("image", ref).Warning("Cannot close pull stream: ", err)
		}
	}()

	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(ioutil.Discard, resp); err != nil {
		return errors.Wrapf(err, "failed to pull image %s", ref)
	}
	return nil
}

func (c *apiClient) Logs(ctx context.Context, name string, stdout, stderr io.Writer) error {
	stream, err := c.client.ContainerLogs(ctx, name, dockerTypes.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to stream logs for container %s", name)
	}
	defer func() {
		if err := stream.Close(); err != nil {
			log.WithField("container", name).Warning("Cannot close log stream: ", err)
		}
	}()

	_, err = stdcopy.StdCopy(stdout, stderr, stream)
	return err
}
