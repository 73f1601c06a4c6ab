package containerizer

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestParseContainerNameRoundTrip(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("current format round trips", prop.ForAll(
		func(slaveID, containerID string) bool {
			parsed, ok := parseContainerName(containerName(slaveID, containerID))
			return ok && parsed == containerID
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.Property("executor container name round trips", prop.ForAll(
		func(slaveID, containerID string) bool {
			name := executorContainerName(slaveID, containerID)
			parsed, ok := parseContainerName(name)
			return ok && parsed == containerID && isExecutorContainerName(name)
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.Property("leading slash yields the same result", prop.ForAll(
		func(slaveID, containerID string) bool {
			parsed, ok := parseContainerName("/" + containerName(slaveID, containerID))
			return ok && parsed == containerID
		},
		gen.Identifier(),
		gen.Identifier(),
	))

	properties.Property("legacy format parses to the id", prop.ForAll(
		func(containerID string) bool {
			parsed, ok := parseContainerName(dockerNamePrefix + containerID)
			return ok && parsed == containerID
		},
		gen.Identifier(),
	))

	properties.Property("legacy executor name parses to the id", prop.ForAll(
		func(containerID string) bool {
			name := dockerNamePrefix + containerID + dockerNameSeparator + executorSuffix
			parsed, ok := parseContainerName(name)
			return ok && parsed == containerID
		},
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

func TestParseContainerNameRejectsForeignNames(t *testing.T) {
	fixtures := []string{
		"",
		"/",
		"nginx",
		"/nginx",
		"mesos-",
		"totally-mesos-looking",
		"/k8s_mesos-agent_abc",
	}

	for _, name := range fixtures {
		_, ok := parseContainerName(name)
		assert.False(t, ok, "expected %q to be rejected", name)
	}
}

func TestParseContainerNameSegments(t *testing.T) {
	fixtures := []struct {
		name string
		want string
		ok   bool
	}{
		{name: "mesos-S1.c-42", want: "c-42", ok: true},
		{name: "/mesos-S1.c-42", want: "c-42", ok: true},
		{name: "mesos-S1.c-42.executor", want: "c-42", ok: true},
		{name: "mesos-legacy-id", want: "legacy-id", ok: true},
		{name: "mesos-legacy-id.executor", want: "legacy-id", ok: true},
		{name: "/mesos-legacy-id.executor", want: "legacy-id", ok: true},
		{name: "mesos-.executor", ok: false},
		{name: "mesos-a.b.c.d", ok: false},
	}

	for _, f := range fixtures {
		parsed, ok := parseContainerName(f.name)
		assert.Equal(t, f.ok, ok, f.name)
		if f.ok {
			assert.Equal(t, f.want, parsed, f.name)
		}
	}
}

func TestContainerNames(t *testing.T) {
	assert.Equal(t, "mesos-S1.c1", containerName("S1", "c1"))
	assert.Equal(t, "mesos-S1.c1.executor", executorContainerName("S1", "c1"))
	assert.False(t, isExecutorContainerName("mesos-S1.c1"))
	assert.True(t, isExecutorContainerName("/mesos-S1.c1.executor"))
}
