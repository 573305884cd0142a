package signature

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ChainSafe/gossamer/lib/crypto/sr25519"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedhavyas/go-subkey"
)

func TestProvider_SignVerifyRoundTrip(t *testing.T) {
	keypair, err := sr25519.GenerateKeypair()
	require.NoError(t, err)
	p, err := NewProvider(keypair)
	require.NoError(t, err)

	sig, err := p.Sign("bafkreiexample")
	require.NoError(t, err)
	assert.Len(t, sig, SignatureHexLength)

	ok, err := Verify("bafkreiexample", sig, p.Hotkey())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Verify("tampered", sig, p.Hotkey())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestProvider_HotkeyMatchesSubkeyEncoding(t *testing.T) {
	p, err := NewProviderFromMnemonic(subkey.DevPhrase)
	require.NoError(t, err)

	keypair, err := sr25519.NewKeypairFromMnenomic(subkey.DevPhrase, "")
	require.NoError(t, err)
	assert.Equal(t, subkey.SS58Encode(keypair.Public().Encode(), SubstrateNetworkId), p.Hotkey())
}

func TestNewProvider_NilKeypair(t *testing.T) {
	_, err := NewProvider(nil)
	assert.Error(t, err)

	_, err = (&Provider{}).Sign("m")
	assert.Error(t, err)
}

func TestVerify_KnownVector(t *testing.T) {
	message := "I solemnly swear that I am up to some good. Hotkey: 5Eq1FDc9oz1tTm4MqGLdH4ajgz9eMgQ5To812axojN121DiQ"
	sig := "0x8ee4ce50165f23b739ec55c2beeafcd273685819c32470df26b0641d15593d3b08b8aef7c391f01e7c2e34c2ee12b80df0c4b615cc0d0966be0dc81192bbc286"

	ok, err := NewVerifier().Verify(message, sig, "5Eq1FDc9oz1tTm4MqGLdH4ajgz9eMgQ5To812axojN121DiQ")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_MalformedInput(t *testing.T) {
	address := "5Eq1FDc9oz1tTm4MqGLdH4ajgz9eMgQ5To812axojN121DiQ"

	_, err := Verify("m", "8ee4", address)
	assert.Error(t, err, "missing 0x prefix")

	_, err = Verify("m", "0x8ee4ce50", address)
	assert.Error(t, err, "short signature")

	_, err = Verify("m", "0xzz", address)
	assert.Error(t, err, "bad hex")

	keypair, err := sr25519.GenerateKeypair()
	require.NoError(t, err)
	p, err := NewProvider(keypair)
	require.NoError(t, err)
	sig, err := p.Sign("m")
	require.NoError(t, err)
	_, err = Verify("m", sig, "invalid-address")
	assert.Error(t, err)
}

func TestLoadProvider_FromWalletDir(t *testing.T) {
	dir := t.TempDir()
	path := HotkeyPath(dir, "cold", "hot")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{"secretPhrase":"`+subkey.DevPhrase+`"}`), 0o600))
	t.Setenv("BITTENSOR_DIR", dir)

	p, err := LoadProvider(context.Background(), "cold", "hot")
	require.NoError(t, err)

	expected, err := NewProviderFromMnemonic(subkey.DevPhrase)
	require.NoError(t, err)
	assert.Equal(t, expected.Hotkey(), p.Hotkey())
}

func TestLoadMnemonic_MissingPhrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hot")
	require.NoError(t, os.WriteFile(path, []byte(`{"ss58Address":"x"}`), 0o600))

	_, err := LoadMnemonic(path)
	assert.Error(t, err)
}
