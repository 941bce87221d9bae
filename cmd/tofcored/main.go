package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/kenichisakai-git/tofcore/internal/controller"
	"github.com/kenichisakai-git/tofcore/internal/logx"
	"github.com/op/go-logging"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "tofcored"
	app.Usage = "TOF flight operations control core"
	app.Version = controller.Version.String()
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "no-fpga", Usage: "run against a simulated DMA ring instead of real hardware"},
		cli.IntFlag{Name: "command-port", Value: 50007, Usage: "Hub TCP port for the command link"},
		cli.IntFlag{Name: "event-port", Value: 50006, Usage: "Hub TCP port for the event link"},
		cli.StringFlag{Name: "event-ip", Usage: "Hub IP address (defaults to 127.0.0.1)"},
		cli.StringFlag{Name: "config-file", Value: "/etc/tofcore/tofcore.ini", Usage: "path to the INI configuration file"},
		cli.StringFlag{Name: "log-file", Usage: "log file path (defaults to stderr)"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	log := logx.Setup(c.String("log-file"), logging.NOTICE)

	defer func() {
		if r := recover(); r != nil {
			log.Error(fmt.Sprintf("run time panic: %v", r))
			log.Error(string(debug.Stack()))
			panic(r)
		}
	}()

	opts := controller.Options{
		NoFPGA:      c.Bool("no-fpga"),
		CommandPort: c.Int("command-port"),
		EventPort:   c.Int("event-port"),
		EventIP:     c.String("event-ip"),
		ConfigFile:  c.String("config-file"),
		LogFile:     c.String("log-file"),
	}

	ctrl, err := controller.New(opts, log)
	if err != nil {
		log.Critical("startup failed:", err)
		os.Exit(1)
	}

	log.Notice("tofcored", controller.Version.String(), "launched, command link and event link starting")

	ctx, cancel := context.WithCancel(context.Background())
	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, os.Interrupt, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM)
	go func() {
		sig, ok := <-stopSignal
		if ok {
			log.Notice("stopping with signal", sig)
		}
		cancel()
	}()

	return ctrl.Run(ctx)
}
