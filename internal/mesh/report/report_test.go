package report

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	s := Summarize([]int{2, 4, 4, 4, 5, 5, 7, 9})
	assert.Equal(t, 8, s.Examples)
	assert.Equal(t, 40, s.Nodes)
	assert.Equal(t, 5.0, s.Mean)
	// Sample standard deviation.
	assert.InDelta(t, math.Sqrt(32.0/7.0), s.StdDev, 1e-9)
	assert.Equal(t, 4.0, s.Median)
	assert.Equal(t, 2, s.Min)
	assert.Equal(t, 9, s.Max)
	assert.Contains(t, s.String(), "8 examples, 40 nodes")
}

func TestSummarize_Edges(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))

	one := Summarize([]int{7})
	assert.Equal(t, Summary{Examples: 1, Nodes: 7, Mean: 7, Median: 7, Min: 7, Max: 7}, one)
}

func TestWriteHistogram(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nodes.png")
	require.NoError(t, WriteHistogram([]int{3, 8, 8, 12, 40, 41, 5}, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")), "png signature")

	assert.ErrorIs(t, WriteHistogram(nil, path), ErrNoData)
}
