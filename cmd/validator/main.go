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
	"github.com/tensorplex-labs/templar/internal/utils/logger"
	"github.com/tensorplex-labs/templar/internal/utils/redis"
	"github.com/tensorplex-labs/templar/internal/validator"
)

func main() {
	logger.Init()
	log.Info().Msg("Starting validator...")

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env not loaded; continuing with existing environment")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load environment configuration")
	}
	intervals := config.NewIntervalConfig(cfg.Environment)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	deps, err := core.Bootstrap(ctx, cfg, intervals.ValidatorRefreshInterval)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap validator")
	}

	var scores validator.ScoreStore = validator.NewFileScoreStore(cfg.ScoresPath)
	if cfg.UseRedisScores {
		r, err := redis.NewRedis(&cfg.RedisEnvConfig)
		if err != nil {
			log.Error().Err(err).Msg("failed to init redis client, keeping scores on disk")
		} else {
			defer r.Close()
			scores = validator.NewRedisScoreStore(r, validator.DefaultScoresKey)
		}
	}

	v := validator.NewValidator(core.NewNode(deps), scores)

	// setup signal handling for graceful shutdown before starting validator
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	stopped := make(chan struct{})
	go func() {
		<-sigChan
		log.Info().Msg("shutdown signal received, stopping validator")
		v.Stop()
		close(stopped)
	}()

	v.Start()
	v.Wg.Add(1)
	go func() {
		defer v.Wg.Done()
		v.Run()
	}()

	<-stopped
	log.Info().Msg("validator stopped")
}
