// Package indices derives the coordinates of each tensor exchanged in a window.
// Producer and consumers compute the same selection from the window seed, so
// offsets never travel with a slice.
package indices

import (
	"crypto/sha256"
	"fmt"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat/sampleuv"
)

// Selection maps tensor name to ascending coordinate offsets.
type Selection map[string][]int

// Count is the number of offsets selected from a tensor of size coordinates.
func Count(size, ratio int) int {
	if size <= 0 || ratio <= 0 {
		return 0
	}
	return size / ratio
}

// Select samples floor(size/ratio) distinct offsets per tensor, seeded by the
// window seed and the tensor name.
func Select(shapes map[string]int, seed string, ratio int) (Selection, error) {
	if ratio <= 0 {
		return nil, fmt.Errorf("compression ratio must be positive, got %d", ratio)
	}

	sel := make(Selection, len(shapes))
	for name, size := range shapes {
		if size < 0 {
			return nil, fmt.Errorf("tensor %s has negative size %d", name, size)
		}
		sel[name] = selectTensor(name, size, seed, ratio)
	}
	return sel, nil
}

func selectTensor(name string, size int, seed string, ratio int) []int {
	k := Count(size, ratio)
	offsets := make([]int, k)
	if k == 0 {
		return offsets
	}
	sampleuv.WithoutReplacement(offsets, size, tensorSource(seed, name))
	slices.Sort(offsets)
	return offsets
}

func tensorSource(seed, name string) rand.Source {
	return rand.NewChaCha8(sha256.Sum256([]byte(seed + "\x00" + name)))
}

// Total is the number of offsets across all tensors.
func (s Selection) Total() int {
	n := 0
	for _, offsets := range s {
		n += len(offsets)
	}
	return n
}
