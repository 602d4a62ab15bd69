/*
Anima RT opens a window, loads the testbed scene and path traces it until
the window is closed or the process is signalled.
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/anima-rt/engine"
	"github.com/spaghettifunk/anima-rt/engine/config"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/testbed"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "anima.toml", "path to the TOML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		core.LogError("failed to load configuration", "path", *configPath, "err", err)
		return 1
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		core.LogError("invalid environment override", "err", err)
		return 1
	}

	tb := testbed.NewTestGame(cfg)

	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogError("failed to create engine", "err", err)
		return 1
	}
	defer func() {
		if err := e.Shutdown(); err != nil {
			core.LogError("shutdown failed", "err", err)
		}
	}()

	if err := e.Initialize(); err != nil {
		core.LogError("failed to initialize engine", "err", err)
		return 1
	}

	// capture sigterm and other system calls here
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	defer stop()

	if err := e.Run(ctx); err != nil {
		core.LogError("engine stopped", "err", err, "fatal", core.IsFatal(err))
		return 1
	}
	return 0
}
