package synth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/visualmesh/internal/mesh/l1records"
)

func TestGenerator_Reproducible(t *testing.T) {
	a, err := NewGenerator(7).NextRecord()
	require.NoError(t, err)
	b, err := NewGenerator(7).NextRecord()
	require.NoError(t, err)
	assert.Equal(t, l1records.EncodeExample(a), l1records.EncodeExample(b))
}

func TestGenerator_Fields(t *testing.T) {
	g := NewGenerator(1)
	g.Stereo = true
	rec, err := g.NextRecord()
	require.NoError(t, err)

	assert.Len(t, rec.Features["Hoc"].Floats, 16)
	for _, p := range []string{"left/", "right/"} {
		n := len(rec.Features[p+"mesh/X"].Floats) / 3
		assert.GreaterOrEqual(t, n, g.MinNodes)
		assert.LessOrEqual(t, n, g.MaxNodes)
		assert.Len(t, rec.Features[p+"mesh/G"].Ints, n*g.Degree)
		assert.Len(t, rec.Features[p+"mesh/px"].Floats, 2*n)
		assert.Len(t, rec.Features[p+"mesh/class"].Ints, n)
		for _, j := range rec.Features[p+"mesh/G"].Ints {
			assert.True(t, j >= 0 && j <= int64(n), "neighbour %d outside [0, %d]", j, n)
		}
		assert.Len(t, rec.Features[p+"image"].Bytes, 1)
	}
}

func TestGenerator_EmptyViews(t *testing.T) {
	g := NewGenerator(3)
	g.EmptyFraction = 1
	rec, err := g.NextRecord()
	require.NoError(t, err)
	assert.Empty(t, rec.Features["mesh/X"].Floats)
	assert.Equal(t, l1records.KindInt64, rec.Features["mesh/G"].Kind)
}
