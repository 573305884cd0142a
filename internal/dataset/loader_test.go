package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatches_DeterministicPerPage(t *testing.T) {
	l := NewLoader(8, 4, 3, DefaultCorpusSeed)

	a := l.Batches(l.NextPages(10, 2, 5))
	b := l.Batches(l.NextPages(10, 2, 5))
	require.Len(t, a, 6)
	assert.Equal(t, a, b)
}

func TestBatches_SeedAndOffsetChangeData(t *testing.T) {
	l := NewLoader(8, 4, 1, DefaultCorpusSeed)

	base := l.Batches(l.NextPages(10, 1, 5))
	otherSeed := l.Batches(l.NextPages(10, 1, 6))
	otherOffset := l.Batches(l.NextPages(11, 1, 5))

	assert.NotEqual(t, base[0].Targets, otherSeed[0].Targets)
	assert.NotEqual(t, base[0].Targets, otherOffset[0].Targets)
}

func TestNextPages(t *testing.T) {
	l := NewLoader(2, 1, 1, DefaultCorpusSeed)
	pages := l.NextPages(3, 2, 9)
	assert.Equal(t, []Page{{Offset: 3, Seed: 9, Index: 0}, {Offset: 3, Seed: 9, Index: 1}}, pages)
}
