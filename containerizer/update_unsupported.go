//go:build !linux
// +build !linux

package containerizer

import (
	"context"

	"github.com/openmesos/docker-agent/api/mesos"
)

// updateCgroups is a no-op off Linux; the allocation is still stored for
// usage reporting.
func (dc *DockerContainerizer) updateCgroups(ctx context.Context, c *container, resources mesos.Resources) error {
	return nil
}
