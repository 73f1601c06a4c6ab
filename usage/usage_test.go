package usage

import (
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStat(t *testing.T) {
	// A real stat line with an awkward comm value.
	line := "4711 (some (weird) name) S 1 4711 4711 0 -1 4194560 1000 0 0 0 250 125 0 0 20 0 3 0 100 10000000 512 18446744073709551615 1 1 0 0 0 0 0 0 0 0 0 0 17 0 0 0 0 0 0"

	sample, err := parseStat(line)
	require.NoError(t, err)
	assert.Equal(t, uint64(250), sample.utimeTicks)
	assert.Equal(t, uint64(125), sample.stimeTicks)
	assert.Equal(t, uint32(3), sample.threads)
	assert.Equal(t, uint64(512), sample.rssPages)
}

func TestParseStatMalformed(t *testing.T) {
	_, err := parseStat("not a stat line")
	assert.Error(t, err)

	_, err = parseStat("1 (x) S 1 2 3")
	assert.Error(t, err)
}

func TestFromProcSelf(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("requires /proc")
	}

	stats, err := FromProc(os.Getpid(), false, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), stats.Processes)
	assert.True(t, stats.MemRSSBytes > 0)
	assert.True(t, stats.Threads >= 1)
}

func TestFromProcMissingProcess(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("requires /proc")
	}

	_, err := FromProc(1<<22+7, true, true)
	assert.Error(t, err)
}
