// Package controller is the composition root: it wires the Config
// Store, FD Registry, DAQ Worker, Script Executor, Dispatch Core,
// Event Link and Command Link into one running service and owns their
// shutdown order.
package controller

import (
	"context"
	"fmt"
	"os"

	"github.com/kenichisakai-git/tofcore/internal/config"
	"github.com/kenichisakai-git/tofcore/internal/daq"
	"github.com/kenichisakai-git/tofcore/internal/dispatch"
	"github.com/kenichisakai-git/tofcore/internal/fdreg"
	"github.com/kenichisakai-git/tofcore/internal/frame"
	"github.com/kenichisakai-git/tofcore/internal/link"
	"github.com/kenichisakai-git/tofcore/internal/script"
	"github.com/op/go-logging"
	"golang.org/x/sync/errgroup"
)

// Options carries the CLI-surface inputs the Controller needs to
// construct its collaborators.
type Options struct {
	NoFPGA      bool
	CommandPort int
	EventPort   int
	EventIP     string
	ConfigFile  string
	LogFile     string
}

// Controller owns the running service's collaborators and coordinates
// their startup and shutdown.
type Controller struct {
	log *logging.Logger
	reg *fdreg.Registry

	cmdLink   *link.CommandLink
	eventLink *link.EventLink
	worker    *daq.Worker
	dispatch  *dispatch.Dispatcher
}

// New loads configuration, builds every collaborator, and wires the
// command-link handler to dispatch-then-callback, per spec.md §4.10.
// Configuration load failure is fatal, matching the spec's failure
// semantics; DAQ initialization is deferred to START_DAQ, so it alone
// cannot fail New.
func New(opts Options, log *logging.Logger) (*Controller, error) {
	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	reg := fdreg.New()

	scriptRoot, err := cfg.GetAbsolutePath("scripts", "root")
	if err != nil {
		return nil, fmt.Errorf("resolve script root: %w", err)
	}
	scripts := script.NewExecutor(scriptRoot, log)

	daqType, err := cfg.GetString("daq", "type")
	if err != nil {
		return nil, fmt.Errorf("resolve daq type: %w", err)
	}
	socketPath, err := cfg.GetString("daq", "socket_path")
	if err != nil {
		return nil, fmt.Errorf("resolve daq socket path: %w", err)
	}
	shmName, err := cfg.GetString("daq", "shm_name")
	if err != nil {
		return nil, fmt.Errorf("resolve daq shm name: %w", err)
	}
	partitions, err := cfg.GetInt("daq", "partitions")
	if err != nil {
		partitions = 32
	}

	worker := daq.NewWorker(daq.Config{
		SocketPath:    socketPath,
		ShmName:       shmName,
		ShmSize:       partitions * 4096 * 8,
		Type:          daq.DAQType(daqType),
		CardList:      []int{0},
		NoFPGA:        opts.NoFPGA,
		Partitions:    partitions,
		PartitionSize: 4096 * 8,
	}, log)

	d := dispatch.New(cfg, scripts, worker, log, opts.NoFPGA, func(err error) {
		log.Critical("controller: fatal daq initialization error, exiting:", err)
		os.Exit(1)
	})

	c := &Controller{log: log, reg: reg, worker: worker, dispatch: d}

	cmdAddr := fmt.Sprintf("%s:%d", firstNonEmpty(opts.EventIP, "127.0.0.1"), opts.CommandPort)
	eventAddr := fmt.Sprintf("%s:%d", firstNonEmpty(opts.EventIP, "127.0.0.1"), opts.EventPort)

	c.eventLink = link.NewEventLink(eventAddr, nil, reg, log)
	c.cmdLink = link.NewCommandLink(cmdAddr, c.handleCommand, reg, log)

	return c, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// handleCommand is the Command Link's Handler: dispatch, then answer
// with a CALLBACK carrying the original code and the success bit.
func (c *Controller) handleCommand(pkt frame.Packet) {
	success := c.dispatch.Dispatch(pkt.Code, pkt.Argv)

	successBit := int32(0)
	if success {
		successBit = 1
	}
	callback, err := frame.New(frame.Callback, int32(pkt.Code), successBit)
	if err != nil {
		c.log.Error("controller: building callback packet:", err)
		return
	}
	if err := c.eventLink.SendPacket(callback); err != nil {
		c.log.Warning("controller: sending callback failed:", err)
	}
}

// Run starts both links and blocks until ctx is cancelled, then stops
// every service in the order the spec requires: command link, event
// link, DAQ session.
//
// Grounded on the teacher's krd.go main loop (launch services in
// goroutines, block on a stop signal), generalized from a single
// stopSignal channel to an errgroup.Group so the three independently
// reconnecting services shut down in a specific, enforced order rather
// than racing each other on process exit.
func (c *Controller) Run(ctx context.Context) error {
	c.cmdLink.Start()
	c.eventLink.Start()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		c.cmdLink.Stop()
		c.eventLink.Stop()
		c.worker.Stop()
		return nil
	})

	<-ctx.Done()
	return g.Wait()
}

// Registry exposes the FD Registry for diagnostics/testing.
func (c *Controller) Registry() *fdreg.Registry { return c.reg }
