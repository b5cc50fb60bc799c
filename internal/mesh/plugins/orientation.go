package plugins

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/visualmesh/internal/mesh/l2features"
	"github.com/banshee-data/visualmesh/internal/mesh/l3views"
)

// Result names produced by orientation stages.
const (
	KeyHoc = "Hoc"
	KeyRco = "Rco"
)

// GroundOrientation reads the stored 4x4 homogeneous transform from camera
// to observation plane, row-major, and exposes it with its rotation block.
type GroundOrientation struct{}

func (GroundOrientation) Features() l2features.Request {
	return l2features.Request{KeyHoc: l2features.Float}
}

func (GroundOrientation) Orient(args l3views.Args) (l3views.Values, error) {
	v, err := args.Features.Floats(KeyHoc)
	if err != nil {
		return nil, err
	}
	if len(v) != 16 {
		return nil, fmt.Errorf("%s has %d values, want 16", KeyHoc, len(v))
	}
	data := make([]float64, 16)
	for i, f := range v {
		data[i] = float64(f)
	}
	hoc := mat.NewDense(4, 4, data)
	return l3views.Values{
		KeyHoc: hoc,
		KeyRco: rotationOf(hoc),
	}, nil
}

// IdentityOrientation places the camera at the observation plane origin.
// It reads nothing from the record.
type IdentityOrientation struct{}

func (IdentityOrientation) Features() l2features.Request { return l2features.Request{} }

func (IdentityOrientation) Orient(l3views.Args) (l3views.Values, error) {
	hoc := identity(4)
	return l3views.Values{
		KeyHoc: hoc,
		KeyRco: rotationOf(hoc),
	}, nil
}

func identity(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// rotationOf copies the upper-left 3x3 block of a homogeneous transform.
func rotationOf(h *mat.Dense) *mat.Dense {
	return mat.DenseCopyOf(h.Slice(0, 3, 0, 3))
}
