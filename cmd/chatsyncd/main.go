package main

import (
	"context"
	"fmt"
	"os"

	"chatsync/internal/app"
	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/shutdown"
	"chatsync/pkg/transport"
)

// build metadata - set via ldflags during build/release
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	logger.Init()

	flags := config.ParseConfigFlags()
	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config file: %v\n", err)
		os.Exit(1)
	}
	envCfg, _ := config.ParseConfigEnvs()
	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists, envCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve config: %v\n", err)
		os.Exit(1)
	}
	if eff.Config != nil && eff.Config.Logging.Level != "" {
		logger.InitWithLevel(eff.Config.Logging.Level)
	}

	// Loopback transport: every send is acknowledged and echoed locally.
	// Deployments against a real backend swap in their own adapter here.
	mem := transport.NewMemory()

	a, err := app.New(eff, mem, mem, version, commit, buildDate)
	if err != nil {
		shutdown.Abort("startup failed", err, eff.DBPath, 0)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()

	if err := a.Run(ctx); err != nil {
		shutdown.Abort("daemon exited with error", err, eff.DBPath, 0)
	}
	logger.Info("daemon_stopped")
}
