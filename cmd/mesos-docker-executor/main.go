// mesos-docker-executor brokers between the agent and Docker for one task
// container. The agent forks it with a piped stdin and writes a single byte
// once the pid checkpoint is durable; until that byte arrives the helper
// must not touch anything. After the handshake it waits on the container
// and exits with the container's exit status; a SIGTERM is translated into
// docker stop with the configured grace period.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/sys/unix"
)

func main() {
	var (
		dockerPath  string
		container   string
		sandboxDir  string
		mappedDir   string
		stopTimeout time.Duration
	)

	app := cli.NewApp()
	app.Name = "mesos-docker-executor"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:        "docker",
			Value:       "docker",
			Destination: &dockerPath,
		},
		cli.StringFlag{
			Name:        "container",
			Destination: &container,
		},
		cli.StringFlag{
			Name:        "sandbox_directory",
			Destination: &sandboxDir,
		},
		cli.StringFlag{
			Name:        "mapped_directory",
			Destination: &mappedDir,
		},
		cli.DurationFlag{
			Name:        "stop_timeout",
			Value:       0,
			Destination: &stopTimeout,
		},
	}
	app.Action = func(c *cli.Context) error {
		if container == "" {
			return cli.NewExitError("--container is required", 2)
		}
		return run(dockerPath, container, stopTimeout)
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(dockerPath, container string, stopTimeout time.Duration) error {
	// Synchronize with the agent: one byte on stdin means our pid has
	// been checkpointed and we may proceed. EOF means the agent gave up
	// (or died) and so should we.
	buf := make([]byte, 1)
	if n, err := os.Stdin.Read(buf); n != 1 {
		return cli.NewExitError(fmt.Sprintf("failed to synchronize with agent (it has probably exited): %v", err), 1)
	}

	log.WithField("container", container).Info("Monitoring container")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, unix.SIGTERM, unix.SIGINT)
	go func() {
		sig := <-signals
		log.WithField("signal", sig).Info("Stopping container")
		stop := exec.Command(dockerPath, "stop", // nolint: gosec
			"--time", strconv.Itoa(int(stopTimeout.Seconds())), container)
		if out, err := stop.CombinedOutput(); err != nil {
			log.WithField("output", string(out)).Warning("docker stop failed: ", err)
		}
	}()

	// docker wait blocks until the container exits and prints its exit
	// status; forward that status as our own so the agent's reaper sees
	// the container's fate, not ours.
	wait := exec.Command(dockerPath, "wait", container) // nolint: gosec
	out, err := wait.Output()
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("docker wait failed: %v", err), 1)
	}

	status, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return cli.NewExitError(fmt.Sprintf("malformed docker wait output %q", string(out)), 1)
	}

	log.WithFields(log.Fields{"container": container, "status": status}).Info("Container exited")
	os.Exit(status)
	return nil
}
