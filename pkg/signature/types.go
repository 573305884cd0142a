// Package signature signs and verifies messages with sr25519 hotkeys
// addressed by their SS58 encoding.
package signature

import "github.com/ChainSafe/gossamer/lib/crypto/sr25519"

const (
	SubstrateNetworkId = 42

	DefaultBittensorDir  = "~/.bittensor"
	DefaultWalletColdkey = "default"

	SignatureHexLength = 2 + 128
)

// Signer signs on behalf of one hotkey.
type Signer interface {
	Sign(message string) (string, error)
	Hotkey() string
}

// SignatureVerifier checks a signature against an SS58 address.
type SignatureVerifier interface {
	Verify(message, signature, ss58Address string) (bool, error)
}

// Verifier is the sr25519 SignatureVerifier.
type Verifier struct{}

// Provider is the sr25519 Signer backed by an in-memory keypair.
type Provider struct {
	keypair *sr25519.Keypair
	hotkey  string
}
