// mesos-docker-agent is a standalone harness around the Docker
// containerizer: it recovers checkpointed containers on boot and then
// holds them until stopped. The real agent embeds the containerizer
// package directly; this binary exists for operation and debugging on a
// single node.
package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"golang.org/x/sys/unix"

	"github.com/openmesos/docker-agent/config"
	"github.com/openmesos/docker-agent/containerizer"
	"github.com/openmesos/docker-agent/docker"
	"github.com/openmesos/docker-agent/fetcher"
	"github.com/openmesos/docker-agent/logsutil"
	"github.com/openmesos/docker-agent/state"
)

func main() {
	go handleQuitSignal()

	var (
		slaveID string
		debug   bool
	)

	cfg, flags := config.NewConfig()

	app := cli.NewApp()
	app.Name = "mesos-docker-agent"
	app.Flags = append(flags,
		cli.StringFlag{
			Name:        "slave_id",
			EnvVar:      "MESOS_SLAVE_ID",
			Destination: &slaveID,
		},
		cli.BoolFlag{
			Name:        "debug",
			Destination: &debug,
		},
	)
	app.Action = func(c *cli.Context) error {
		if debug {
			log.SetLevel(log.DebugLevel)
		} else {
			logsutil.MaybeSetupJournald()
		}
		if slaveID == "" {
			slaveID = uuid.New().String()
			log.WithField("slaveId", slaveID).Warning("No slave id given, generated one")
		}
		return run(*cfg, slaveID)
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
}

func run(cfg config.Config, slaveID string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := docker.NewClient(cfg.DockerHost)
	if err != nil {
		return err
	}

	dc := containerizer.New(cfg, client, fetcher.New())

	slaveState, err := state.Read(cfg.WorkDir, slaveID)
	if err != nil {
		return err
	}
	if err := dc.Recover(ctx, slaveState); err != nil {
		return err
	}
	log.WithField("containers", dc.Containers()).Info("Recovery complete")

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, unix.SIGTERM, unix.SIGINT)
	sig := <-signals

	// Containers deliberately keep running: a restarting agent picks
	// them back up through recovery.
	log.WithField("signal", sig).Info("Shutting down")
	return nil
}

// handleQuitSignal dumps goroutines on SIGQUIT without exiting, mimicking
// the JVM behavior operators expect.
func handleQuitSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, unix.SIGQUIT)
	buf := make([]byte, 1<<20)
	for {
		<-signals
		stacklen := runtime.Stack(buf, true)
		log.Printf("=== received SIGQUIT ===\n*** goroutine dump...\n%s\n*** end\n", buf[:stacklen])
	}
}
