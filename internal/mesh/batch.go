package mesh

// SentinelCoordinate is the position given to the off-mesh node appended to
// every batch.
var SentinelCoordinate = [3]float32{-1, -1, -1}

// Batch is a flat, self-contained group of examples sharing one node index
// space. Index Nodes() is the sentinel node; it is the last entry of X and
// its G row points at itself.
type Batch struct {
	X [][3]float32
	G [][]int32
	Y [][]float32
	W []float32
	C [][]float32
	V []float32

	// N is the ragged length table: N[i][v] is the node count of view v
	// of example i.
	N [][]int

	// Jpg holds one payload group per example, in example order.
	Jpg [][][]byte
}

// Nodes returns the number of real (non-sentinel) nodes in the batch, which
// is also the sentinel index.
func (b *Batch) Nodes() int {
	if b == nil || len(b.X) == 0 {
		return 0
	}
	return len(b.X) - 1
}

// Examples returns the number of examples packed into the batch.
func (b *Batch) Examples() int {
	if b == nil {
		return 0
	}
	return len(b.N)
}

// Offsets returns the exclusive prefix sum of per-example node counts, that
// is the global index of each example's first node.
func (b *Batch) Offsets() []int {
	if b == nil {
		return nil
	}
	offsets := make([]int, len(b.N))
	total := 0
	for i, views := range b.N {
		offsets[i] = total
		for _, c := range views {
			total += c
		}
	}
	return offsets
}

// ExampleCount returns the node count of example i summed over its views.
func (b *Batch) ExampleCount(i int) int {
	total := 0
	for _, c := range b.N[i] {
		total += c
	}
	return total
}
