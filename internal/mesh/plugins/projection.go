package plugins

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/visualmesh/internal/mesh"
	"github.com/banshee-data/visualmesh/internal/mesh/l2features"
	"github.com/banshee-data/visualmesh/internal/mesh/l3views"
)

// Stored field and result names used by the mesh projection.
const (
	FieldMeshX  = "mesh/X"
	FieldMeshG  = "mesh/G"
	FieldMeshPx = "mesh/px"
	KeyPx       = "px"
)

// DefaultNeighbourCount matches the radial6 mesh model.
const DefaultNeighbourCount = 6

// MeshProjection reads a mesh that was projected when the record was
// written: node coordinates, neighbour rows and pixel coordinates.
type MeshProjection struct {
	neighbours int
}

// NewMeshProjection returns a projection with rows of the given width.
func NewMeshProjection(neighbours int) (*MeshProjection, error) {
	if neighbours < 1 {
		return nil, fmt.Errorf("neighbour_count must be at least 1, got %d", neighbours)
	}
	return &MeshProjection{neighbours: neighbours}, nil
}

func (p *MeshProjection) NeighbourCount() int { return p.neighbours }

func (p *MeshProjection) Features() l2features.Request {
	return l2features.Request{
		FieldMeshX:  l2features.Float,
		FieldMeshG:  l2features.Int64,
		FieldMeshPx: l2features.Float,
	}
}

// Project builds X, G, n and px for the view. Node coordinates are rotated
// into the observation frame when an orientation produced Rco. Neighbour
// entries at or beyond n mark off-mesh neighbours and are rewritten to
// mesh.NoNeighbour.
func (p *MeshProjection) Project(args l3views.Args) (l3views.Values, error) {
	xs, err := args.Features.Floats(FieldMeshX)
	if err != nil {
		return nil, err
	}
	gs, err := args.Features.Ints(FieldMeshG)
	if err != nil {
		return nil, err
	}
	pxs, err := args.Features.Floats(FieldMeshPx)
	if err != nil {
		return nil, err
	}
	if len(xs)%3 != 0 {
		return nil, fmt.Errorf("%s has %d values, not a multiple of 3", FieldMeshX, len(xs))
	}
	n := len(xs) / 3
	if len(gs) != n*p.neighbours {
		return nil, fmt.Errorf("%s has %d values, want %d for %d nodes", FieldMeshG, len(gs), n*p.neighbours, n)
	}
	if len(pxs) != 2*n {
		return nil, fmt.Errorf("%s has %d values, want %d for %d nodes", FieldMeshPx, len(pxs), 2*n, n)
	}

	rco, hasRotation, err := optional[*mat.Dense](args, KeyRco)
	if err != nil {
		return nil, err
	}
	if hasRotation {
		if r, c := rco.Dims(); r != 3 || c != 3 {
			return nil, fmt.Errorf("%w: %s is %dx%d, want 3x3", l3views.ErrPluginContract, KeyRco, r, c)
		}
	}

	X := make([][3]float32, n)
	var in, out mat.VecDense
	in.ReuseAsVec(3)
	for i := range X {
		for k := 0; k < 3; k++ {
			in.SetVec(k, float64(xs[3*i+k]))
		}
		if hasRotation {
			out.MulVec(rco, &in)
			X[i] = [3]float32{float32(out.AtVec(0)), float32(out.AtVec(1)), float32(out.AtVec(2))}
		} else {
			X[i] = [3]float32{xs[3*i], xs[3*i+1], xs[3*i+2]}
		}
	}

	G := make([][]int32, n)
	for i := range G {
		row := make([]int32, p.neighbours)
		for k := range row {
			j := gs[i*p.neighbours+k]
			if j < 0 || j >= int64(n) {
				row[k] = mesh.NoNeighbour
			} else {
				row[k] = int32(j)
			}
		}
		G[i] = row
	}

	px := make([][2]float32, n)
	for i := range px {
		px[i] = [2]float32{pxs[2*i], pxs[2*i+1]}
	}

	return l3views.Values{
		l3views.KeyX: X,
		l3views.KeyG: G,
		l3views.KeyN: n,
		KeyPx:        px,
	}, nil
}
