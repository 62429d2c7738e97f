package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/procman/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/procman/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/procman/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "procd: %v\n", err)
		os.Exit(1)
	}

	port := flag.String("port", cfg.Server.Port, "Server port")
	host := flag.String("host", cfg.Server.Host, "Listen address")
	root := flag.String("root", cfg.Process.ProgramRoot, "Program root directory")
	manifest := flag.String("boot", cfg.Boot.Manifest, "Boot manifest (.yaml, .yml or .toml)")
	maxPID := flag.Int("max-pid", cfg.Process.MaxPID, "Process table size")
	tty := flag.Bool("require-tty", cfg.Process.RequireTTY, "Refuse processes without a terminal unless fully piped")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development mode (colored logs, debug level)")
	flag.Parse()

	cfg.Server.Port = *port
	cfg.Server.Host = *host
	cfg.Process.ProgramRoot = *root
	cfg.Boot.Manifest = *manifest
	cfg.Process.MaxPID = *maxPID
	cfg.Process.RequireTTY = *tty
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.FromConfig(cfg.Logging))
	if err != nil {
		fmt.Fprintf(os.Stderr, "procd: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("Shutdown complete")
}
