package signature

import (
	"encoding/hex"
	"fmt"

	"github.com/ChainSafe/gossamer/lib/crypto/sr25519"
	"github.com/rs/zerolog/log"
	"github.com/vedhavyas/go-subkey"
)

var _ Signer = (*Provider)(nil)

// NewProvider wraps keypair as a Signer.
func NewProvider(keypair *sr25519.Keypair) (*Provider, error) {
	if keypair == nil {
		return nil, fmt.Errorf("keypair cannot be nil")
	}
	return &Provider{
		keypair: keypair,
		hotkey:  ToSs58Address(keypair),
	}, nil
}

// NewProviderFromMnemonic derives the keypair from a secret phrase.
func NewProviderFromMnemonic(mnemonic string) (*Provider, error) {
	keypair, err := sr25519.NewKeypairFromMnenomic(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create keypair from mnemonic: %w", err)
	}
	return NewProvider(keypair)
}

// Sign returns the signature of message as 0x-prefixed hex.
func (p *Provider) Sign(message string) (string, error) {
	if p.keypair == nil {
		return "", fmt.Errorf("private key not initialized")
	}

	signature, err := p.keypair.Sign([]byte(message))
	if err != nil {
		log.Error().Err(err).Msg("Failed to sign message")
		return "", fmt.Errorf("failed to sign message: %w", err)
	}

	return "0x" + hex.EncodeToString(signature), nil
}

// Hotkey is the SS58 address of the signing key.
func (p *Provider) Hotkey() string {
	return p.hotkey
}

func ToSs58Address(keypair *sr25519.Keypair) string {
	return subkey.SS58Encode(keypair.Public().Encode(), SubstrateNetworkId)
}
