package plugins

import (
	"fmt"

	"github.com/banshee-data/visualmesh/internal/mesh"
	"github.com/banshee-data/visualmesh/internal/mesh/l3views"
)

// Monoscopic is a single unprefixed view whose graph passes through as is.
type Monoscopic struct{}

func (Monoscopic) Prefixes() []string { return []string{""} }

func (Monoscopic) Merge(views map[string]*mesh.Graph) (*mesh.Graph, error) {
	g, ok := views[""]
	if !ok || g == nil {
		return nil, fmt.Errorf("%w: monoscopic merge has no view", l3views.ErrPluginContract)
	}
	return g, nil
}

// Stereoscopic pairs a left and right camera. The merged example holds the
// left nodes followed by the right nodes; the right view's neighbour indices
// are shifted past the left view's nodes. The two meshes stay disconnected.
type Stereoscopic struct{}

func (Stereoscopic) Prefixes() []string { return []string{"left/", "right/"} }

func (s Stereoscopic) Merge(views map[string]*mesh.Graph) (*mesh.Graph, error) {
	return concatViews(s.Prefixes(), views)
}

// concatViews joins views in prefix order into one local index space.
// Negative neighbour entries are left for the batch reducer to resolve. Jpg
// keeps one entry per view, nil for a view without a payload, unless no view
// has one.
func concatViews(prefixes []string, views map[string]*mesh.Graph) (*mesh.Graph, error) {
	out := &mesh.Graph{}
	offset := int32(0)
	degree := -1
	payloads := false
	for _, p := range prefixes {
		v, ok := views[p]
		if !ok || v == nil {
			return nil, fmt.Errorf("%w: view %q missing from merge", l3views.ErrPluginContract, p)
		}
		if v.Len() > 0 {
			if degree >= 0 && v.Degree() != degree {
				return nil, fmt.Errorf("%w: view %q has %d neighbours per node, want %d",
					mesh.ErrInvalidGraph, p, v.Degree(), degree)
			}
			degree = v.Degree()
		}

		for _, row := range v.G {
			shifted := make([]int32, len(row))
			for k, j := range row {
				if j >= 0 {
					j += offset
				}
				shifted[k] = j
			}
			out.G = append(out.G, shifted)
		}
		out.X = append(out.X, v.X...)
		out.Y = append(out.Y, v.Y...)
		out.W = append(out.W, v.W...)
		out.C = append(out.C, v.C...)
		out.V = append(out.V, v.V...)
		out.N = append(out.N, v.Len())
		if len(v.Jpg) > 0 {
			payloads = true
			out.Jpg = append(out.Jpg, v.Jpg...)
		} else {
			out.Jpg = append(out.Jpg, make([][]byte, len(v.N))...)
		}
		offset += int32(v.Len())
	}
	if !payloads {
		out.Jpg = nil
	}
	return out, nil
}
