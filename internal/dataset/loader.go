// Package dataset serves deterministic training pages. A page is identified by
// a window offset, a participant seed and its index, so any participant can
// regenerate exactly the batches another one trained on.
package dataset

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

const DefaultCorpusSeed uint64 = 0x7e3a1a5

// Batch is one minibatch of a linear regression corpus.
type Batch struct {
	Inputs  [][]float64
	Targets []float64
}

// Page identifies a deterministic group of batches.
type Page struct {
	Offset int
	Seed   int
	Index  int
}

type Loader struct {
	dimension      int
	batchSize      int
	batchesPerPage int
	corpusSeed     uint64
	truth          []float64
	bias           float64
	noise          float64
}

func NewLoader(dimension, batchSize, batchesPerPage int, corpusSeed uint64) *Loader {
	rng := rand.New(rand.NewPCG(corpusSeed, corpusSeed^0x9e3779b97f4a7c15))
	truth := make([]float64, dimension)
	for i := range truth {
		truth[i] = rng.NormFloat64()
	}
	return &Loader{
		dimension:      dimension,
		batchSize:      batchSize,
		batchesPerPage: batchesPerPage,
		corpusSeed:     corpusSeed,
		truth:          truth,
		bias:           rng.NormFloat64(),
		noise:          0.01,
	}
}

// NextPages returns n pages for the given window offset and participant seed.
func (l *Loader) NextPages(offset, n, seed int) []Page {
	pages := make([]Page, n)
	for i := range pages {
		pages[i] = Page{Offset: offset, Seed: seed, Index: i}
	}
	return pages
}

// Batches expands pages into their batches, in page order.
func (l *Loader) Batches(pages []Page) []Batch {
	out := make([]Batch, 0, len(pages)*l.batchesPerPage)
	for _, p := range pages {
		rng := rand.New(rand.NewPCG(
			l.corpusSeed^uint64(p.Seed)<<20^uint64(p.Index),
			uint64(p.Offset),
		))
		for range l.batchesPerPage {
			out = append(out, l.batch(rng))
		}
	}
	return out
}

func (l *Loader) batch(rng *rand.Rand) Batch {
	b := Batch{
		Inputs:  make([][]float64, l.batchSize),
		Targets: make([]float64, l.batchSize),
	}
	for i := range b.Inputs {
		x := make([]float64, l.dimension)
		for j := range x {
			x[j] = rng.NormFloat64()
		}
		b.Inputs[i] = x
		b.Targets[i] = floats.Dot(l.truth, x) + l.bias + l.noise*rng.NormFloat64()
	}
	return b
}
