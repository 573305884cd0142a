// Package config defines environment configuration structs and loaders.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type AppConfig struct {
	ChainEnvConfig
	WalletEnvConfig
	KamiEnvConfig
	ServerEnvConfig
	ClientEnvConfig
	RedisEnvConfig
	StoreEnvConfig
	HparamsEnvConfig
	RuntimeEnvConfig
	MinerEnvConfig
	ValidatorEnvConfig
}

func LoadConfig() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.HparamsEnvConfig.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ChainEnvConfig holds chain-specific environment values.
type ChainEnvConfig struct {
	Netuid int `env:"NETUID" envDefault:"3"`
}

// WalletEnvConfig holds wallet key configuration.
type WalletEnvConfig struct {
	WalletHotkey  string `env:"WALLET_HOTKEY"`
	WalletColdkey string `env:"WALLET_COLDKEY"`
	BittensorDir  string `env:"BITTENSOR_DIR" envDefault:"~/.bittensor"`
}

// KamiEnvConfig contains Kami service target and keys.
type KamiEnvConfig struct {
	WalletEnvConfig
	SubtensorNetwork string `env:"SUBTENSOR_NETWORK" envDefault:"test"`
	KamiHost         string `env:"KAMI_HOST" envDefault:"127.0.0.1"`
	KamiPort         string `env:"KAMI_PORT" envDefault:"3000"`
}

// ServerEnvConfig configures the bucket server each role hosts.
type ServerEnvConfig struct {
	Address       string `env:"AXON_IP" envDefault:"127.0.0.1"`
	Port          int    `env:"AXON_PORT" envDefault:"8080"`
	BodySizeLimit int    `env:"SERVER_BODY_LIMIT" envDefault:"67108864"`
	// PublicURL overrides the address committed on chain, e.g. behind a proxy.
	PublicURL string `env:"PUBLIC_URL"`
}

// EndpointURL is the storage location this process commits on chain.
func (s ServerEnvConfig) EndpointURL() string {
	if s.PublicURL != "" {
		return strings.TrimRight(s.PublicURL, "/")
	}
	return fmt.Sprintf("http://%s:%d", s.Address, s.Port)
}

// ClientEnvConfig configures the client.
type ClientEnvConfig struct {
	ClientTimeout   time.Duration `env:"CLIENT_TIMEOUT" envDefault:"30s"`
	EndpointTimeout time.Duration `env:"ENDPOINT_TIMEOUT" envDefault:"20s"`
}

// RedisEnvConfig configures Redis connection.
type RedisEnvConfig struct {
	RedisHost     string `env:"REDIS_HOST" envDefault:"127.0.0.1"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisUsername string `env:"REDIS_USERNAME"`
}

// StoreEnvConfig configures where slices live on disk.
type StoreEnvConfig struct {
	SaveLocation string `env:"SAVE_LOCATION" envDefault:"/tmp/templar/cache"`
	BucketDir    string `env:"BUCKET_DIR" envDefault:"/tmp/templar/bucket"`
}

// HparamsEnvConfig holds the protocol constants every participant must agree on.
type HparamsEnvConfig struct {
	WindowLength          int     `env:"WINDOW_LENGTH" envDefault:"2"`
	Compression           int     `env:"COMPRESSION" envDefault:"300"`
	MaxHistory            int     `env:"MAX_HISTORY" envDefault:"10"`
	ScoreAlpha            float64 `env:"SCORE_ALPHA" envDefault:"0.9"`
	EvalOffset            int     `env:"EVAL_OFFSET" envDefault:"2"`
	WeightsIntervalBlocks int     `env:"WEIGHTS_INTERVAL_BLOCKS" envDefault:"100"`
	BatchSize             int     `env:"BATCH_SIZE" envDefault:"8"`
	PagesPerWindow        int     `env:"PAGES_PER_WINDOW" envDefault:"4"`
	BatchesPerPage        int     `env:"BATCHES_PER_PAGE" envDefault:"16"`
	LearningRate          float64 `env:"LEARNING_RATE" envDefault:"0.01"`
	ModelDimension        int     `env:"MODEL_DIMENSION" envDefault:"1024"`
	CheckpointSteps       int     `env:"CHECKPOINT_STEPS" envDefault:"500"`
}

// Validate rejects values that would make window or index arithmetic meaningless.
func (h HparamsEnvConfig) Validate() error {
	switch {
	case h.WindowLength <= 0:
		return fmt.Errorf("WINDOW_LENGTH must be positive, got %d", h.WindowLength)
	case h.Compression <= 0:
		return fmt.Errorf("COMPRESSION must be positive, got %d", h.Compression)
	case h.MaxHistory < 0:
		return fmt.Errorf("MAX_HISTORY cannot be negative, got %d", h.MaxHistory)
	case h.ScoreAlpha < 0 || h.ScoreAlpha > 1:
		return fmt.Errorf("SCORE_ALPHA must be within [0, 1], got %f", h.ScoreAlpha)
	case h.EvalOffset < 0:
		return fmt.Errorf("EVAL_OFFSET cannot be negative, got %d", h.EvalOffset)
	case h.WeightsIntervalBlocks <= 0:
		return fmt.Errorf("WEIGHTS_INTERVAL_BLOCKS must be positive, got %d", h.WeightsIntervalBlocks)
	}
	return nil
}

// RuntimeEnvConfig holds settings shared by both roles.
type RuntimeEnvConfig struct {
	Environment string `env:"ENVIRONMENT" envDefault:"dev"`
	// SyncState replays recent state slices before the first round.
	SyncState bool `env:"SYNC_STATE" envDefault:"true"`
}

// MinerEnvConfig configures miner runtime.
type MinerEnvConfig struct {
	Baseline       bool   `env:"BASELINE" envDefault:"false"`
	CheckpointPath string `env:"CHECKPOINT_PATH" envDefault:"/tmp/templar/checkpoint.bin"`
}

// ValidatorEnvConfig configures validator runtime.
type ValidatorEnvConfig struct {
	ScoresPath     string `env:"SCORES_PATH" envDefault:"scores.json"`
	UseRedisScores bool   `env:"USE_REDIS_SCORES" envDefault:"false"`
}

type IntervalConfig struct {
	MinerRefreshInterval     time.Duration
	ValidatorRefreshInterval time.Duration
	ListenerBackoff          time.Duration
	WindowPollInterval       time.Duration
}

var (
	DevIntervalConfig = &IntervalConfig{
		MinerRefreshInterval:     30 * time.Second,
		ValidatorRefreshInterval: 10 * time.Second,
		ListenerBackoff:          2 * time.Second,
		WindowPollInterval:       100 * time.Millisecond,
	}
	TestIntervalConfig = &IntervalConfig{
		MinerRefreshInterval:     600 * time.Second,
		ValidatorRefreshInterval: 60 * time.Second,
		ListenerBackoff:          5 * time.Second,
		WindowPollInterval:       100 * time.Millisecond,
	}

	ProdIntervalConfig = &IntervalConfig{
		MinerRefreshInterval:     600 * time.Second,
		ValidatorRefreshInterval: 60 * time.Second,
		ListenerBackoff:          5 * time.Second,
		WindowPollInterval:       100 * time.Millisecond,
	}
)

func NewIntervalConfig(environment string) *IntervalConfig {
	switch strings.ToLower(environment) {
	case "dev":
		return DevIntervalConfig
	case "test":
		return TestIntervalConfig
	case "prod":
		return ProdIntervalConfig
	}

	return DevIntervalConfig
}
