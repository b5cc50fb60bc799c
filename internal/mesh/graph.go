package mesh

import (
	"errors"
	"fmt"
)

// NoNeighbour marks a neighbour slot with no node behind it. Any negative
// index is treated the same way; this is the value plugins should emit.
const NoNeighbour int32 = -1

// ErrInvalidGraph is returned when a Graph or Batch breaks its structural
// invariants. It always indicates a bug upstream and is never recoverable.
var ErrInvalidGraph = errors.New("invalid graph")

// Graph is the mesh for one view, or for one example once its views have
// been merged.
type Graph struct {
	X [][3]float32 // node coordinates
	G [][]int32    // neighbour rows, negative = no neighbour
	Y [][]float32  // per-node label vector
	W []float32    // per-node weight
	C [][]float32  // per-node colour/feature vector
	V []float32    // per-node visibility flag

	// N holds the node count contributed by each view, in view order.
	// Its sum equals len(X).
	N []int

	// Jpg is the opaque per-example payload, one entry per view.
	Jpg [][]byte
}

// Len returns the node count of the graph.
func (g *Graph) Len() int {
	if g == nil {
		return 0
	}
	return len(g.X)
}

// Degree returns the neighbour-row width, or 0 for an empty graph.
func (g *Graph) Degree() int {
	if g == nil || len(g.G) == 0 {
		return 0
	}
	return len(g.G[0])
}

// Validate checks every Graph invariant: equal per-node lengths, a fixed
// neighbour width, local neighbour indices in [0, n), view counts that add
// up to n and, when present, one payload per view.
func (g *Graph) Validate() error {
	if g == nil {
		return fmt.Errorf("%w: nil graph", ErrInvalidGraph)
	}
	n := len(g.X)
	lengths := []struct {
		name string
		l    int
	}{
		{"G", len(g.G)},
		{"Y", len(g.Y)},
		{"W", len(g.W)},
		{"C", len(g.C)},
		{"V", len(g.V)},
	}
	for _, f := range lengths {
		if f.l != n {
			return fmt.Errorf("%w: len(%s)=%d, want %d", ErrInvalidGraph, f.name, f.l, n)
		}
	}

	degree := g.Degree()
	for i, row := range g.G {
		if len(row) != degree {
			return fmt.Errorf("%w: row %d has %d neighbours, want %d", ErrInvalidGraph, i, len(row), degree)
		}
		for _, j := range row {
			if j >= int32(n) {
				return fmt.Errorf("%w: row %d references node %d of %d", ErrInvalidGraph, i, j, n)
			}
		}
	}

	total := 0
	for _, c := range g.N {
		if c < 0 {
			return fmt.Errorf("%w: negative view count %d", ErrInvalidGraph, c)
		}
		total += c
	}
	if total != n {
		return fmt.Errorf("%w: view counts sum to %d, want %d", ErrInvalidGraph, total, n)
	}
	if len(g.Jpg) != 0 && len(g.Jpg) != len(g.N) {
		return fmt.Errorf("%w: %d payloads for %d views", ErrInvalidGraph, len(g.Jpg), len(g.N))
	}
	return nil
}
