package plugins

import (
	"fmt"

	"github.com/banshee-data/visualmesh/internal/mesh/l2features"
	"github.com/banshee-data/visualmesh/internal/mesh/l3views"
)

// FieldMeshClass holds one class index per node; -1 marks an unlabelled node.
const FieldMeshClass = "mesh/class"

// ClassificationLabel emits a one-hot Y per node. W is 1 for labelled nodes
// that are visible and 0 otherwise.
type ClassificationLabel struct {
	classes []string
}

// NewClassificationLabel returns a label stage for the given class names.
func NewClassificationLabel(classes []string) (*ClassificationLabel, error) {
	if len(classes) == 0 {
		return nil, fmt.Errorf("classification label needs at least one class")
	}
	return &ClassificationLabel{classes: append([]string(nil), classes...)}, nil
}

// Classes returns the class names in index order.
func (l *ClassificationLabel) Classes() []string {
	return append([]string(nil), l.classes...)
}

func (l *ClassificationLabel) Features() l2features.Request {
	return l2features.Request{FieldMeshClass: l2features.Int64}
}

func (l *ClassificationLabel) Label(args l3views.Args) (l3views.Values, error) {
	n, err := upstream[int](args, l3views.KeyN)
	if err != nil {
		return nil, err
	}
	classes, err := args.Features.Ints(FieldMeshClass)
	if err != nil {
		return nil, err
	}
	if len(classes) != n {
		return nil, fmt.Errorf("%s has %d values, want %d", FieldMeshClass, len(classes), n)
	}
	visible, hasV, err := optional[[]float32](args, l3views.KeyV)
	if err != nil {
		return nil, err
	}
	if hasV && len(visible) != n {
		return nil, fmt.Errorf("%w: V has %d values, want %d", l3views.ErrPluginContract, len(visible), n)
	}

	Y := make([][]float32, n)
	W := make([]float32, n)
	for i, c := range classes {
		Y[i] = make([]float32, len(l.classes))
		switch {
		case c == -1:
			continue
		case c < -1 || c >= int64(len(l.classes)):
			return nil, fmt.Errorf("node %d has class %d, want -1 or [0, %d)", i, c, len(l.classes))
		}
		Y[i][c] = 1
		if !hasV || visible[i] > 0 {
			W[i] = 1
		}
	}
	return l3views.Values{
		l3views.KeyY: Y,
		l3views.KeyW: W,
	}, nil
}
