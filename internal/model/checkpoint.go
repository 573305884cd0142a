package model

import (
	"fmt"
	"os"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"

	"github.com/tensorplex-labs/templar/internal/utils/fsutil"
)

type checkpoint struct {
	GlobalStep int                  `json:"global_step"`
	Tensors    map[string][]float64 `json:"tensors"`
}

// SaveCheckpoint writes the parameters of m and globalStep to path.
func SaveCheckpoint(path string, m Trainable, globalStep int) error {
	ckpt := checkpoint{GlobalStep: globalStep, Tensors: make(map[string][]float64)}
	for _, p := range m.Parameters() {
		ckpt.Tensors[p.Name] = p.Data
	}

	raw, err := sonic.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("create zstd encoder: %w", err)
	}
	defer enc.Close()

	return fsutil.WriteFileAtomic(path, enc.EncodeAll(raw, nil), 0o644)
}

// LoadCheckpoint restores parameters of m from path and returns the saved global step.
// Tensors missing from the checkpoint or with a different size are left untouched.
func LoadCheckpoint(path string, m Trainable) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	dec, err := zstd.NewReader(nil)
	if err != nil {
		return 0, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return 0, fmt.Errorf("decompress checkpoint: %w", err)
	}

	var ckpt checkpoint
	if err := sonic.Unmarshal(raw, &ckpt); err != nil {
		return 0, fmt.Errorf("unmarshal checkpoint: %w", err)
	}

	for _, p := range m.Parameters() {
		values, ok := ckpt.Tensors[p.Name]
		if !ok || len(values) != p.Size() {
			continue
		}
		copy(p.Data, values)
	}
	return ckpt.GlobalStep, nil
}
