package slices

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/ipfs/go-cid"
	"github.com/klauspost/compress/zstd"
	"github.com/multiformats/go-multihash"

	"github.com/tensorplex-labs/templar/internal/indices"
	"github.com/tensorplex-labs/templar/internal/model"
	"github.com/tensorplex-labs/templar/pkg/signature"
)

var (
	encoder *zstd.Encoder
	decoder *zstd.Decoder
)

func init() {
	var err error
	if encoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault)); err != nil {
		panic(fmt.Sprintf("create zstd encoder: %v", err))
	}
	if decoder, err = zstd.NewReader(nil); err != nil {
		panic(fmt.Sprintf("create zstd decoder: %v", err))
	}
}

// Build copies the selected coordinates of params into an unsigned slice.
func Build(kind ArtifactKind, window int, producer string, globalStep int, params map[string]*model.Tensor, sel indices.Selection) (*Slice, error) {
	payload := make(map[string][]float64, len(sel))
	for name, offsets := range sel {
		p, ok := params[name]
		if !ok {
			return nil, fmt.Errorf("selection names unknown tensor %s", name)
		}
		values := make([]float64, len(offsets))
		for i, o := range offsets {
			if o < 0 || o >= p.Size() {
				return nil, fmt.Errorf("offset %d out of range for %s of size %d", o, name, p.Size())
			}
			values[i] = p.Data[o]
		}
		payload[name] = values
	}
	return &Slice{
		Kind:       kind,
		Window:     window,
		Producer:   producer,
		GlobalStep: globalStep,
		Payload:    payload,
	}, nil
}

// Apply writes the slice's values into params at the selected offsets. The
// slice is validated in full first, so a corrupt slice leaves params untouched.
func Apply(s *Slice, params map[string]*model.Tensor, sel indices.Selection) error {
	if err := checkValues(s.Payload); err != nil {
		return fmt.Errorf("%w: %s %v", ErrArtifactCorrupt, s.Key(), err)
	}
	for name, values := range s.Payload {
		p, ok := params[name]
		if !ok {
			return fmt.Errorf("%w: %s carries unknown tensor %s", ErrArtifactCorrupt, s.Key(), name)
		}
		offsets, ok := sel[name]
		if !ok || len(offsets) != len(values) {
			return fmt.Errorf("%w: %s has %d values for %s, selection has %d",
				ErrArtifactCorrupt, s.Key(), len(values), name, len(offsets))
		}
		for _, o := range offsets {
			if o >= p.Size() {
				return fmt.Errorf("%w: offset %d out of range for %s", ErrArtifactCorrupt, o, name)
			}
		}
	}

	for name, values := range s.Payload {
		p := params[name]
		for i, o := range sel[name] {
			p.Data[o] = values[i]
		}
	}
	return nil
}

// checkValues rejects non-finite coordinates and ones beyond MaxValueMagnitude.
func checkValues(payload map[string][]float64) error {
	for name, values := range payload {
		for i, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > MaxValueMagnitude {
				return fmt.Errorf("tensor %s value %d is out of range: %g", name, i, v)
			}
		}
	}
	return nil
}

// payloadCID content-addresses the payload as a CIDv1 raw sha2-256 over a
// canonical little-endian encoding with tensors in name order.
func payloadCID(payload map[string][]float64) (string, error) {
	names := make([]string, 0, len(payload))
	size := 0
	for name, values := range payload {
		names = append(names, name)
		size += 16 + len(name) + 8*len(values)
	}
	sort.Strings(names)

	buf := make([]byte, 0, size)
	for _, name := range names {
		values := payload[name]
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(name)))
		buf = append(buf, name...)
		buf = binary.LittleEndian.AppendUint64(buf, uint64(len(values)))
		for _, v := range values {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}

	mh, err := multihash.Sum(buf, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("hash payload: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

// signedMessage binds the object key to the payload CID.
func signedMessage(key, payloadID string) string {
	return key + ":" + payloadID
}

// Encode fills in the CID and signature of s and returns the compressed envelope.
func Encode(s *Slice, signer signature.Signer) ([]byte, error) {
	if signer.Hotkey() != s.Producer {
		return nil, fmt.Errorf("signer %s cannot sign slice produced by %s", signer.Hotkey(), s.Producer)
	}

	id, err := payloadCID(s.Payload)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(signedMessage(s.Key(), id))
	if err != nil {
		return nil, fmt.Errorf("sign slice: %w", err)
	}
	s.CID = id
	s.Signature = sig

	raw, err := sonic.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal slice: %w", err)
	}
	return encoder.EncodeAll(raw, nil), nil
}

// Decode parses an envelope and checks its value range, CID and producer
// signature. Every failure wraps ErrArtifactCorrupt.
func Decode(data []byte, verifier signature.SignatureVerifier) (*Slice, error) {
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrArtifactCorrupt, err)
	}

	var s Slice
	if err := sonic.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrArtifactCorrupt, err)
	}
	if _, err := ParseKind(string(s.Kind)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}
	if s.Producer == "" {
		return nil, fmt.Errorf("%w: missing producer", ErrArtifactCorrupt)
	}
	if err := checkValues(s.Payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}

	id, err := payloadCID(s.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArtifactCorrupt, err)
	}
	if id != s.CID {
		return nil, fmt.Errorf("%w: payload cid %s does not match declared %s", ErrArtifactCorrupt, id, s.CID)
	}

	ok, err := verifier.Verify(signedMessage(s.Key(), s.CID), s.Signature, s.Producer)
	if err != nil {
		return nil, fmt.Errorf("%w: verify signature: %v", ErrArtifactCorrupt, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: signature does not match producer %s", ErrArtifactCorrupt, s.Producer)
	}
	return &s, nil
}
