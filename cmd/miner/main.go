package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/templar/internal/config"
	"github.com/tensorplex-labs/templar/internal/core"
	"github.com/tensorplex-labs/templar/internal/miner"
	"github.com/tensorplex-labs/templar/internal/utils/logger"
)

func main() {
	logger.Init()
	log.Info().Msg("Starting miner...")

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env not loaded; continuing with existing environment")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load environment configuration")
	}
	intervals := config.NewIntervalConfig(cfg.Environment)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	deps, err := core.Bootstrap(ctx, cfg, intervals.MinerRefreshInterval)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap miner")
	}

	m := miner.NewMiner(core.NewNode(deps))

	// setup signal handling for graceful shutdown before starting the miner
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	stopped := make(chan struct{})
	go func() {
		<-sigChan
		log.Info().Msg("shutdown signal received, stopping miner")
		m.Stop()
		close(stopped)
	}()

	m.Start()
	m.Wg.Add(1)
	go func() {
		defer m.Wg.Done()
		m.Run()
	}()

	log.Info().Bool("baseline", cfg.Baseline).Msg("Miner is running. Press Ctrl+C to shutdown...")
	<-stopped
	log.Info().Msg("Miner shutdown complete")
}
