package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tensorplex-labs/templar/internal/bucket"
	"github.com/tensorplex-labs/templar/internal/config"
	"github.com/tensorplex-labs/templar/internal/dataset"
	"github.com/tensorplex-labs/templar/internal/kami"
	"github.com/tensorplex-labs/templar/internal/model"
	"github.com/tensorplex-labs/templar/internal/participants"
	"github.com/tensorplex-labs/templar/internal/slices"
	chainutils "github.com/tensorplex-labs/templar/internal/utils/chain_utils"
	"github.com/tensorplex-labs/templar/internal/window"
	"github.com/tensorplex-labs/templar/pkg/chain"
	"github.com/tensorplex-labs/templar/pkg/signature"
)

// ModelSeed initialises every participant's model identically.
const ModelSeed uint64 = 0

// Bootstrap wires the production collaborators described by cfg. The
// participant table is refreshed every refresh.
func Bootstrap(ctx context.Context, cfg *config.AppConfig, refresh time.Duration) (Deps, error) {
	intervals := config.NewIntervalConfig(cfg.Environment)

	signer, err := signature.LoadProvider(ctx, cfg.WalletColdkey, cfg.WalletHotkey)
	if err != nil {
		return Deps{}, fmt.Errorf("load wallet: %w", err)
	}

	k, err := kami.NewKami(&cfg.KamiEnvConfig)
	if err != nil {
		return Deps{}, fmt.Errorf("create kami client: %w", err)
	}
	if sidecarHotkey, err := kami.GetHotkey(k); err != nil {
		log.Warn().Err(err).Msg("failed to read sidecar keyring pair")
	} else if sidecarHotkey != signer.Hotkey() {
		log.Warn().
			Str("wallet_hotkey", signer.Hotkey()).
			Str("sidecar_hotkey", sidecarHotkey).
			Msg("sidecar signs extrinsics with a different hotkey than the wallet")
	}

	headers, err := chain.NewKamiHeaderSource(ctx, chain.WithPollInterval(intervals.WindowPollInterval))
	if err != nil {
		return Deps{}, err
	}
	clock, err := window.NewClock(headers, cfg.WindowLength, intervals.ListenerBackoff)
	if err != nil {
		return Deps{}, err
	}

	endpoint, err := chainutils.ResolveEndpointURL(ctx, cfg.PublicURL, cfg.ServerEnvConfig.Address, cfg.ServerEnvConfig.Port, "")
	if err != nil {
		endpoint = cfg.ServerEnvConfig.EndpointURL()
		log.Warn().Err(err).Str("endpoint", endpoint).Msg("failed to discover external address, using configured one")
	}

	verifier := signature.NewVerifier()
	server, err := bucket.NewServer(&bucket.ServerConfig{
		Host:      cfg.ServerEnvConfig.Address,
		Port:      cfg.ServerEnvConfig.Port,
		BodyLimit: cfg.BodySizeLimit,
		Dir:       cfg.BucketDir,
		Owner:     signer.Hotkey(),
	}, verifier)
	if err != nil {
		return Deps{}, err
	}

	store, err := slices.NewStore(slices.StoreConfig{
		Remote:          bucket.NewClient(&bucket.ClientConfig{Timeout: cfg.ClientTimeout, Signer: signer}),
		Signer:          signer,
		Verifier:        verifier,
		CacheDir:        cfg.SaveLocation,
		OwnEndpoint:     endpoint,
		EndpointTimeout: cfg.EndpointTimeout,
	})
	if err != nil {
		return Deps{}, err
	}

	return Deps{
		Config:   cfg,
		Kami:     k,
		Clock:    clock,
		Registry: participants.NewRegistry(k, cfg.Netuid, refresh),
		Store:    store,
		Server:   server,
		Model:    model.NewLinear(cfg.ModelDimension, cfg.LearningRate, ModelSeed),
		Loader:   dataset.NewLoader(cfg.ModelDimension, cfg.BatchSize, cfg.BatchesPerPage, dataset.DefaultCorpusSeed),
		Signer:   signer,
		Endpoint: endpoint,
	}, nil
}
