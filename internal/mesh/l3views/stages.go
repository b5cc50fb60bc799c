package l3views

import (
	"github.com/banshee-data/visualmesh/internal/mesh"
	"github.com/banshee-data/visualmesh/internal/mesh/l2features"
)

// Args is what a stage receives: the raw features it declared (prefix
// stripped) and the results of the stages that ran before it. Result is
// read-only for the stage; outputs are returned as Values instead.
type Args struct {
	Features l2features.Features
	Result   *Accumulator
}

// Get looks a name up in the accumulated result first and falls back to the
// stage's raw features, matching how earlier outputs shadow stored fields.
func (a Args) Get(key string) (any, bool) {
	if a.Result != nil {
		if v, ok := a.Result.Get(key); ok {
			return v, true
		}
	}
	if v, ok := a.Features[key]; ok {
		return v, true
	}
	return nil, false
}

// FeatureDeclarer is implemented by every stage: the raw fields it must
// read from each view of a record.
type FeatureDeclarer interface {
	Features() l2features.Request
}

// Orientation works out where the mesh sits relative to the camera.
type Orientation interface {
	FeatureDeclarer
	Orient(args Args) (Values, error)
}

// Example decodes the view's input before projection and produces the
// per-node inputs after it.
type Example interface {
	FeatureDeclarer
	Input(args Args) (Values, error)
	Output(args Args) (Values, error)
}

// Projection produces the view's mesh: at least X, G and n.
type Projection interface {
	FeatureDeclarer
	// NeighbourCount is the fixed width of every G row.
	NeighbourCount() int
	Project(args Args) (Values, error)
}

// Label produces the per-node training targets.
type Label interface {
	FeatureDeclarer
	Label(args Args) (Values, error)
}

// ViewPlugin owns the set of views in an example and how their graphs are
// combined. Merge must return a graph whose indices all live in the merged
// graph's own index space.
type ViewPlugin interface {
	Prefixes() []string
	Merge(views map[string]*mesh.Graph) (*mesh.Graph, error)
}

// Stages is the full set of per-view stages, chosen at construction time.
type Stages struct {
	Orientation Orientation
	Example     Example
	Projection  Projection
	Label       Label
}

// Requests returns the feature requests of every stage, for schema
// resolution.
func (s Stages) Requests() []l2features.Request {
	return []l2features.Request{
		s.Orientation.Features(),
		s.Projection.Features(),
		s.Example.Features(),
		s.Label.Features(),
	}
}
