package slices

import (
	"math"
	"testing"

	"github.com/ChainSafe/gossamer/lib/crypto/sr25519"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vedhavyas/go-subkey"

	"github.com/tensorplex-labs/templar/internal/indices"
	"github.com/tensorplex-labs/templar/internal/model"
	"github.com/tensorplex-labs/templar/pkg/signature"
)

func newSigner(t *testing.T) *signature.Provider {
	t.Helper()
	kp, err := sr25519.GenerateKeypair()
	require.NoError(t, err)
	p, err := signature.NewProvider(kp)
	require.NoError(t, err)
	return p
}

func devSigner(t *testing.T) *signature.Provider {
	t.Helper()
	p, err := signature.NewProviderFromMnemonic(subkey.DevPhrase)
	require.NoError(t, err)
	return p
}

func testParams(t *testing.T, seed uint64) (map[string]*model.Tensor, indices.Selection) {
	t.Helper()
	m := model.NewLinear(16, 0.01, seed)
	params := model.ByName(m)
	sel, err := indices.Select(model.Shapes(m), "0xseed", 4)
	require.NoError(t, err)
	return params, sel
}

func TestKey_RoundTrip(t *testing.T) {
	key := Key(Delta, 12, "5Grwva")
	assert.Equal(t, "delta-12-5Grwva.bin", key)

	kind, w, producer, err := ParseKey(key)
	require.NoError(t, err)
	assert.Equal(t, Delta, kind)
	assert.Equal(t, 12, w)
	assert.Equal(t, "5Grwva", producer)

	for _, bad := range []string{"delta-12-x", "gradient-1-x.bin", "state-abc-x.bin", "state-3-.bin"} {
		_, _, _, err := ParseKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	signer := devSigner(t)
	params, sel := testParams(t, 1)

	s, err := Build(State, 7, signer.Hotkey(), 42, params, sel)
	require.NoError(t, err)
	data, err := Encode(s, signer)
	require.NoError(t, err)
	assert.NotEmpty(t, s.CID)
	assert.Len(t, s.Signature, signature.SignatureHexLength)

	got, err := Decode(data, signature.NewVerifier())
	require.NoError(t, err)
	assert.Equal(t, s.Key(), got.Key())
	assert.Equal(t, 42, got.GlobalStep)
	assert.Equal(t, s.Payload, got.Payload)
}

func TestEncode_RejectsForeignProducer(t *testing.T) {
	params, sel := testParams(t, 1)
	s, err := Build(State, 7, "someone-else", 0, params, sel)
	require.NoError(t, err)

	_, err = Encode(s, devSigner(t))
	assert.Error(t, err)
}

func TestDecode_DetectsTampering(t *testing.T) {
	signer := devSigner(t)
	verifier := signature.NewVerifier()
	params, sel := testParams(t, 1)

	t.Run("payload changed after signing", func(t *testing.T) {
		s, err := Build(Delta, 3, signer.Hotkey(), 0, params, sel)
		require.NoError(t, err)
		_, err = Encode(s, signer)
		require.NoError(t, err)

		s.Payload[model.WeightName][0] += 1
		raw, err := encodeUnsigned(s)
		require.NoError(t, err)

		_, err = Decode(raw, verifier)
		assert.ErrorIs(t, err, ErrArtifactCorrupt)
	})

	t.Run("window changed after signing", func(t *testing.T) {
		s, err := Build(Delta, 3, signer.Hotkey(), 0, params, sel)
		require.NoError(t, err)
		_, err = Encode(s, signer)
		require.NoError(t, err)

		s.Window = 4
		raw, err := encodeUnsigned(s)
		require.NoError(t, err)

		_, err = Decode(raw, verifier)
		assert.ErrorIs(t, err, ErrArtifactCorrupt)
	})

	t.Run("not zstd", func(t *testing.T) {
		_, err := Decode([]byte("definitely not an envelope"), verifier)
		assert.ErrorIs(t, err, ErrArtifactCorrupt)
	})
}

func TestDecode_RejectsOutOfRangeValues(t *testing.T) {
	signer := devSigner(t)
	params, sel := testParams(t, 1)

	for name, v := range map[string]float64{
		"near float max": 1.6e308,
		"above bound":    -2 * MaxValueMagnitude,
	} {
		t.Run(name, func(t *testing.T) {
			s, err := Build(Delta, 3, signer.Hotkey(), 0, params, sel)
			require.NoError(t, err)
			s.Payload[model.WeightName][0] = v
			data, err := Encode(s, signer)
			require.NoError(t, err)

			_, err = Decode(data, signature.NewVerifier())
			assert.ErrorIs(t, err, ErrArtifactCorrupt)
		})
	}
}

func TestApply_RejectsNonFiniteValues(t *testing.T) {
	for name, v := range map[string]float64{
		"nan":       math.NaN(),
		"+inf":      math.Inf(1),
		"-inf":      math.Inf(-1),
		"too large": MaxValueMagnitude * 10,
	} {
		t.Run(name, func(t *testing.T) {
			src, sel := testParams(t, 1)
			dst, _ := testParams(t, 2)
			before := append([]float64(nil), dst[model.WeightName].Data...)

			s, err := Build(State, 1, "p", 0, src, sel)
			require.NoError(t, err)
			s.Payload[model.WeightName][len(s.Payload[model.WeightName])-1] = v

			assert.ErrorIs(t, Apply(s, dst, sel), ErrArtifactCorrupt)
			assert.Equal(t, before, dst[model.WeightName].Data)
		})
	}
}

func TestApply_WritesSelectedOffsets(t *testing.T) {
	src, sel := testParams(t, 1)
	dst, _ := testParams(t, 2)

	s, err := Build(State, 1, "p", 0, src, sel)
	require.NoError(t, err)
	require.NoError(t, Apply(s, dst, sel))

	selected := make(map[int]bool)
	for _, o := range sel[model.WeightName] {
		selected[o] = true
		assert.Equal(t, src[model.WeightName].Data[o], dst[model.WeightName].Data[o])
	}
	fresh, _ := testParams(t, 2)
	for i, v := range dst[model.WeightName].Data {
		if !selected[i] {
			assert.Equal(t, fresh[model.WeightName].Data[i], v, "offset %d should be untouched", i)
		}
	}
}

func TestApply_LengthMismatchLeavesParamsUntouched(t *testing.T) {
	src, sel := testParams(t, 1)
	dst, _ := testParams(t, 2)
	before := append([]float64(nil), dst[model.WeightName].Data...)

	s, err := Build(State, 1, "p", 0, src, sel)
	require.NoError(t, err)
	s.Payload[model.WeightName] = s.Payload[model.WeightName][:1]

	err = Apply(s, dst, sel)
	assert.ErrorIs(t, err, ErrArtifactCorrupt)
	assert.Equal(t, before, dst[model.WeightName].Data)
}

func TestApply_UnknownTensor(t *testing.T) {
	params, sel := testParams(t, 1)
	s := &Slice{Kind: State, Window: 1, Producer: "p", Payload: map[string][]float64{"conv.weight": {1}}}
	assert.ErrorIs(t, Apply(s, params, sel), ErrArtifactCorrupt)
}

func TestApplyAll_LaterSlicesWin(t *testing.T) {
	params, sel := testParams(t, 1)
	first, _ := testParams(t, 2)
	second, _ := testParams(t, 3)

	a, err := Build(Delta, 1, "a", 10, first, sel)
	require.NoError(t, err)
	b, err := Build(Delta, 1, "b", 25, second, sel)
	require.NoError(t, err)
	bad := &Slice{Kind: Delta, Window: 1, Producer: "c", GlobalStep: 99, Payload: map[string][]float64{model.WeightName: {1}}}

	applied, step := ApplyAll([]*Slice{a, bad, b}, params, sel)
	assert.Equal(t, 2, applied)
	assert.Equal(t, 25, step)
	for _, o := range sel[model.WeightName] {
		assert.Equal(t, second[model.WeightName].Data[o], params[model.WeightName].Data[o])
	}
}
