// Package config holds environment structs for the pkg/ layer, processed with go-envconfig.
package config

// KamiEnvConfig locates the Kami sidecar.
type KamiEnvConfig struct {
	KamiHost string `env:"KAMI_HOST, default=127.0.0.1"`
	KamiPort string `env:"KAMI_PORT, default=3000"`
}

// WalletEnvConfig locates bittensor wallets on disk.
type WalletEnvConfig struct {
	BittensorDir string `env:"BITTENSOR_DIR, default=~/.bittensor"`
}
