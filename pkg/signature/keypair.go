package signature

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
	"github.com/sethvargo/go-envconfig"

	"github.com/tensorplex-labs/templar/pkg/config"
)

type hotkeyFile struct {
	SecretPhrase string `json:"secretPhrase"`
	SS58Address  string `json:"ss58Address"`
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	usr, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("failed to get current user: %w", err)
	}
	return filepath.Join(usr.HomeDir, path[2:]), nil
}

// LoadMnemonic reads the secret phrase from a bittensor hotkey file.
func LoadMnemonic(path string) (string, error) {
	path, err := expandHome(path)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	var hk hotkeyFile
	if err := sonic.Unmarshal(data, &hk); err != nil {
		return "", fmt.Errorf("failed to parse JSON: %w", err)
	}
	if hk.SecretPhrase == "" {
		return "", fmt.Errorf("secretPhrase not found in %s", path)
	}
	return hk.SecretPhrase, nil
}

// HotkeyPath is where a wallet's hotkey file lives below bittensorDir.
func HotkeyPath(bittensorDir, coldkeyName, hotkeyName string) string {
	if bittensorDir == "" {
		bittensorDir = DefaultBittensorDir
	}
	if coldkeyName == "" {
		coldkeyName = DefaultWalletColdkey
	}
	return filepath.Join(bittensorDir, "wallets", coldkeyName, "hotkeys", hotkeyName)
}

// LoadProvider builds a Provider from the wallet named by coldkeyName and
// hotkeyName under BITTENSOR_DIR.
func LoadProvider(ctx context.Context, coldkeyName, hotkeyName string) (*Provider, error) {
	var envCfg config.WalletEnvConfig
	if err := envconfig.Process(ctx, &envCfg); err != nil {
		return nil, fmt.Errorf("process wallet environment: %w", err)
	}

	path := HotkeyPath(envCfg.BittensorDir, coldkeyName, hotkeyName)
	log.Debug().
		Str("path", path).
		Str("hotkey_name", hotkeyName).
		Msg("Loading keypair from hotkey path")

	mnemonic, err := LoadMnemonic(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load seed phrase: %w", err)
	}
	return NewProviderFromMnemonic(mnemonic)
}
