package fetcher

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmesos/docker-agent/api/mesos"
)

func sandbox(t *testing.T) string {
	directory, err := ioutil.TempDir("", "fetcher-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(directory) })
	return directory
}

func TestFetchHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("artifact body"))
	}))
	defer server.Close()

	directory := sandbox(t)
	command := &mesos.CommandInfo{
		URIs: []mesos.URI{{Value: server.URL + "/artifact.tar", Executable: true}},
	}

	f := New()
	require.NoError(t, f.Fetch(context.Background(), "c1", command, directory))

	out, err := ioutil.ReadFile(filepath.Join(directory, "artifact.tar"))
	require.NoError(t, err)
	assert.Equal(t, "artifact body", string(out))

	info, err := os.Stat(filepath.Join(directory, "artifact.tar"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestFetchFile(t *testing.T) {
	directory := sandbox(t)
	source := filepath.Join(directory, "source.txt")
	require.NoError(t, ioutil.WriteFile(source, []byte("local"), 0644))

	command := &mesos.CommandInfo{
		URIs: []mesos.URI{{Value: "file://" + source, OutputFile: "copied.txt"}},
	}

	f := New()
	require.NoError(t, f.Fetch(context.Background(), "c1", command, directory))

	out, err := ioutil.ReadFile(filepath.Join(directory, "copied.txt"))
	require.NoError(t, err)
	assert.Equal(t, "local", string(out))
}

func TestFetchHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	f := New()
	err := f.Fetch(context.Background(), "c1", &mesos.CommandInfo{
		URIs: []mesos.URI{{Value: server.URL + "/missing"}},
	}, sandbox(t))
	assert.Error(t, err)
}

func TestKillCancelsFetch(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)

	f := New()
	fetchErr := make(chan error, 1)
	go func() {
		fetchErr <- f.Fetch(context.Background(), "c1", &mesos.CommandInfo{
			URIs: []mesos.URI{{Value: server.URL + "/slow"}},
		}, sandbox(t))
	}()

	// Give the fetch a moment to get in flight, then kill it.
	time.Sleep(50 * time.Millisecond)
	f.Kill("c1")

	select {
	case err := <-fetchErr:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("fetch did not cancel")
	}
}

func TestFetchNoURIsIsNoop(t *testing.T) {
	f := New()
	assert.NoError(t, f.Fetch(context.Background(), "c1", nil, sandbox(t)))
	assert.NoError(t, f.Fetch(context.Background(), "c1", &mesos.CommandInfo{}, sandbox(t)))
}

func TestOutputFile(t *testing.T) {
	fixtures := []struct {
		uri  mesos.URI
		want string
	}{
		{uri: mesos.URI{Value: "http://example.com/a/b/tool.tgz"}, want: "tool.tgz"},
		{uri: mesos.URI{Value: "http://example.com/dl?id=9"}, want: "dl"},
		{uri: mesos.URI{Value: "http://example.com/"}, want: "artifact"},
		{uri: mesos.URI{Value: "http://example.com/x", OutputFile: "renamed"}, want: "renamed"},
	}

	for _, f := range fixtures {
		assert.Equal(t, f.want, outputFile(f.uri), f.uri.Value)
	}
}
