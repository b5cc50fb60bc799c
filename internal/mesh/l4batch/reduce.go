package l4batch

import (
	"fmt"
	"math"

	"github.com/banshee-data/visualmesh/internal/mesh"
)

// Reduce packs examples into one Batch sharing a single node index space.
//
// Each example's neighbour indices are shifted by the number of nodes that
// precede it in the batch. Negative ("no neighbour") entries are left alone
// during the shift and only afterwards redirected to the sentinel index,
// which equals the total node count. Resolving sentinels before the shift
// would move them onto real nodes.
//
// degree is the projection's neighbour count and sets the width of the
// sentinel's own row. The examples are not modified.
func Reduce(examples []*mesh.Graph, degree int) (*mesh.Batch, error) {
	if degree <= 0 {
		return nil, fmt.Errorf("%w: neighbour count must be positive, got %d", mesh.ErrInvalidGraph, degree)
	}

	counts := make([]int, len(examples))
	for i, ex := range examples {
		if ex == nil {
			return nil, fmt.Errorf("%w: example %d is nil", mesh.ErrInvalidGraph, i)
		}
		counts[i] = ex.Len()
	}
	offsets, sentinel, err := nodeOffsets(counts)
	if err != nil {
		return nil, err
	}
	total := int(sentinel)

	b := &mesh.Batch{
		X:   make([][3]float32, 0, total+1),
		G:   make([][]int32, 0, total+1),
		Y:   make([][]float32, 0, total),
		W:   make([]float32, 0, total),
		C:   make([][]float32, 0, total),
		V:   make([]float32, 0, total),
		N:   make([][]int, 0, len(examples)),
		Jpg: make([][][]byte, 0, len(examples)),
	}

	for i, ex := range examples {
		n := ex.Len()
		if err := checkLengths(i, ex); err != nil {
			return nil, err
		}

		b.X = append(b.X, ex.X...)

		cn := offsets[i]
		for r, row := range ex.G {
			if len(row) != degree {
				return nil, fmt.Errorf("%w: example %d row %d has %d neighbours, want %d",
					mesh.ErrInvalidGraph, i, r, len(row), degree)
			}
			out := make([]int32, degree)
			for k, j := range row {
				if j < 0 {
					out[k] = j
					continue
				}
				if j >= int32(n) {
					return nil, fmt.Errorf("%w: example %d row %d references node %d of %d",
						mesh.ErrInvalidGraph, i, r, j, n)
				}
				out[k] = j + cn
			}
			b.G = append(b.G, out)
		}

		b.Y = append(b.Y, ex.Y...)
		b.W = append(b.W, ex.W...)
		b.C = append(b.C, ex.C...)
		b.V = append(b.V, ex.V...)

		views := ex.N
		if len(views) == 0 {
			views = []int{n}
		}
		b.N = append(b.N, append([]int(nil), views...))
		b.Jpg = append(b.Jpg, ex.Jpg)
	}

	b.X = append(b.X, mesh.SentinelCoordinate)

	// Only now do the remaining negatives become the sentinel.
	for _, row := range b.G {
		for k, j := range row {
			if j < 0 {
				row[k] = sentinel
			} else if j >= sentinel {
				return nil, fmt.Errorf("%w: offset index %d outside batch of %d nodes",
					mesh.ErrInvalidGraph, j, total)
			}
		}
	}
	self := make([]int32, degree)
	for k := range self {
		self[k] = sentinel
	}
	b.G = append(b.G, self)

	return b, nil
}

func checkLengths(i int, ex *mesh.Graph) error {
	n := ex.Len()
	if len(ex.G) != n || len(ex.Y) != n || len(ex.W) != n || len(ex.C) != n || len(ex.V) != n {
		return fmt.Errorf("%w: example %d has mismatched per-node lengths (X=%d G=%d Y=%d W=%d C=%d V=%d)",
			mesh.ErrInvalidGraph, i, n, len(ex.G), len(ex.Y), len(ex.W), len(ex.C), len(ex.V))
	}
	return nil
}

// nodeOffsets returns the exclusive prefix sum of counts and their total.
// The total becomes the sentinel index, so it must fit in an int32.
func nodeOffsets(counts []int) ([]int32, int32, error) {
	offsets := make([]int32, len(counts))
	var total int64
	for i, n := range counts {
		offsets[i] = int32(total)
		total += int64(n)
		if total > math.MaxInt32 {
			return nil, 0, fmt.Errorf("%w: batch exceeds %d nodes at example %d",
				mesh.ErrInvalidGraph, math.MaxInt32, i)
		}
	}
	return offsets, int32(total), nil
}
