//go:build !windows

package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"slsdispatch/pkg/logging"
	"slsdispatch/services/agents/cad"
)

func main() {
	configPath := flag.String("config", cad.ConfigPath(), "path to agent configuration file")
	flag.Parse()

	logger := logging.Setup("sls-agent", os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	cfg, err := cad.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc := cad.NewService(cfg, cad.NewProber(cfg), logger)
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("agent exited with error")
	}
}
