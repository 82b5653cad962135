//go:build linux

// Command autoprobe prepares the probe for one target process and exports the calls its hooks
// report. The hooks themselves are attached by the loader that embeds the agent.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/cirruscomms/autoprobe"
	"github.com/cirruscomms/autoprobe/agent"
	"github.com/cirruscomms/autoprobe/foreign"
)

func main() {
	cfg, err := autoprobe.LoadConfig()
	if err != nil {
		autoprobe.Fatal("could not load configuration", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, o, err := autoprobe.Initialise(ctx, cfg, os.Stdout, os.Stderr)
	if err != nil {
		autoprobe.Fatal("could not initialise observer", err)
	}

	if cfg.TargetPID() == 0 {
		o.Fatal("TARGET_PID is required", errors.New("no target process"))
	}

	proc, err := foreign.OpenProcess(cfg.TargetPID())
	if err != nil {
		o.Fatal("could not open target process", err, autoprobe.FieldPID, cfg.TargetPID())
	}

	a, err := agent.New(ctx, cfg, proc)
	if err != nil {
		o.Fatal("could not create agent", err)
	}

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		o.Fatal("agent stopped", err)
	}

	o.Info("agent stopped")
}
