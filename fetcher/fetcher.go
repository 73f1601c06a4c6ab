// Package fetcher stages command URIs into a container's sandbox before
// launch. Fetches are cancellable per container, since a destroy can arrive
// while a download is still in flight.
package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/openmesos/docker-agent/api/mesos"
)

// Fetcher downloads a command's URIs into the sandbox directory.
type Fetcher interface {
	// Fetch stages every URI of the command into directory. It blocks
	// until all URIs are staged or one of them fails.
	Fetch(ctx context.Context, containerID string, command *mesos.CommandInfo, directory string) error
	// Kill cancels an in-flight fetch for the container, if any.
	Kill(containerID string)
}

// URIFetcher fetches http(s) and local file URIs.
type URIFetcher struct {
	client *http.Client

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New returns a ready URIFetcher.
func New() *URIFetcher {
	return &URIFetcher{
		client:  &http.Client{},
		cancels: map[string]context.CancelFunc{},
	}
}

// Fetch implements Fetcher.
func (f *URIFetcher) Fetch(ctx context.Context, containerID string, command *mesos.CommandInfo, directory string) error {
	if command == nil || len(command.URIs) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancels[containerID] = cancel
	f.mu.Unlock()

	defer func() {
		cancel()
		f.mu.Lock()
		delete(f.cancels, containerID)
		f.mu.Unlock()
	}()

	for _, uri := range command.URIs {
		if err := f.fetchOne(ctx, uri, directory); err != nil {
			return errors.Wrapf(err, "failed to fetch %q", uri.Value)
		}
	}
	return nil
}

// Kill implements Fetcher.
func (f *URIFetcher) Kill(containerID string) {
	f.mu.Lock()
	cancel := f.cancels[containerID]
	f.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (f *URIFetcher) fetchOne(ctx context.Context, uri mesos.URI, directory string) error {
	target := filepath.Join(directory, outputFile(uri))

	parsed, err := url.Parse(uri.Value)
	if err != nil {
		return errors.Wrap(err, "malformed URI")
	}

	log.WithField("uri", uri.Value).Info("Fetching into ", target)

	switch parsed.Scheme {
	case "http", "https":
		err = f.download(ctx, uri.Value, target)
	case "file", "":
		err = copyFile(strings.TrimPrefix(uri.Value, "file://"), target)
	default:
		return errors.Errorf("unsupported URI scheme %q", parsed.Scheme)
	}
	if err != nil {
		return err
	}

	if uri.Executable {
		if err := os.Chmod(target, 0755); err != nil {
			return errors.Wrap(err, "failed to mark artifact executable")
		}
	}
	return nil
}

func (f *URIFetcher) download(ctx context.Context, rawURL, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected HTTP status %s", resp.Status)
	}

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func copyFile(source, target string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// outputFile picks the sandbox file name for a URI.
func outputFile(uri mesos.URI) string {
	if uri.OutputFile != "" {
		return uri.OutputFile
	}
	name := uri.Value
	if parsed, err := url.Parse(uri.Value); err == nil {
		// Only the path names the artifact; a bare host has no file name.
		name = parsed.Path
	}
	base := filepath.Base(strings.TrimSuffix(name, "/"))
	if idx := strings.Index(base, "?"); idx >= 0 {
		base = base[:idx]
	}
	if base == "" || base == "." || base == "/" {
		return "artifact"
	}
	return base
}
