package l3views

import (
	"errors"
	"fmt"

	"github.com/banshee-data/visualmesh/internal/mesh"
	"github.com/banshee-data/visualmesh/internal/mesh/l2features"
)

// ErrPluginContract marks output that breaks the stage contract: a missing
// required name or a value of the wrong type. It is never retried.
var ErrPluginContract = errors.New("plugin contract violation")

// StageError wraps an error returned by one stage of one view.
type StageError struct {
	Stage  string
	Prefix string
	Err    error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("view %q %s stage: %v", e.Prefix, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Names of the values every view must end up with.
const (
	KeyX   = "X"
	KeyG   = "G"
	KeyN   = "n"
	KeyY   = "Y"
	KeyW   = "W"
	KeyC   = "C"
	KeyV   = "V"
	KeyJpg = "jpg"
)

// RunView runs the stages for one view in their fixed order: orientation,
// example input, projection, example output, label. features holds the whole
// record; each stage sees only what it declared, under prefix.
func RunView(features l2features.Features, prefix string, s Stages) (*Accumulator, error) {
	acc := NewAccumulator()

	steps := []struct {
		name string
		req  l2features.Request
		run  func(Args) (Values, error)
	}{
		{"orientation", s.Orientation.Features(), s.Orientation.Orient},
		{"input", s.Example.Features(), s.Example.Input},
		{"projection", s.Projection.Features(), s.Projection.Project},
		{"example", s.Example.Features(), s.Example.Output},
		{"label", s.Label.Features(), s.Label.Label},
	}
	for _, step := range steps {
		out, err := step.run(Args{Features: features.ForPrefix(prefix, step.req), Result: acc})
		if err != nil {
			return nil, &StageError{Stage: step.name, Prefix: prefix, Err: err}
		}
		acc.Merge(out)
	}
	return acc, nil
}

// GraphFromResult extracts a single-view Graph from a finished view result.
func GraphFromResult(acc *Accumulator) (*mesh.Graph, error) {
	g := &mesh.Graph{}
	var n int
	if err := requireValue(acc, KeyN, &n); err != nil {
		return nil, err
	}
	if err := requireValue(acc, KeyX, &g.X); err != nil {
		return nil, err
	}
	if err := requireValue(acc, KeyG, &g.G); err != nil {
		return nil, err
	}
	if err := requireValue(acc, KeyY, &g.Y); err != nil {
		return nil, err
	}
	if err := requireValue(acc, KeyW, &g.W); err != nil {
		return nil, err
	}
	if err := requireValue(acc, KeyC, &g.C); err != nil {
		return nil, err
	}
	if err := requireValue(acc, KeyV, &g.V); err != nil {
		return nil, err
	}
	if n != len(g.X) {
		return nil, fmt.Errorf("%w: n=%d but X has %d nodes", ErrPluginContract, n, len(g.X))
	}
	g.N = []int{n}

	if v, ok := acc.Get(KeyJpg); ok {
		jpg, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: %q is %T, want []byte", ErrPluginContract, KeyJpg, v)
		}
		g.Jpg = [][]byte{jpg}
	}
	return g, nil
}

func requireValue[T any](acc *Accumulator, key string, dst *T) error {
	v, ok := acc.Get(key)
	if !ok {
		return fmt.Errorf("%w: view result has no %q", ErrPluginContract, key)
	}
	t, ok := v.(T)
	if !ok {
		return fmt.Errorf("%w: %q is %T, want %T", ErrPluginContract, key, v, *dst)
	}
	*dst = t
	return nil
}

// BuildExample runs every view of one record and merges them with the view
// plugin's policy.
func BuildExample(features l2features.Features, view ViewPlugin, s Stages) (*mesh.Graph, error) {
	prefixes := view.Prefixes()
	views := make(map[string]*mesh.Graph, len(prefixes))
	for _, p := range prefixes {
		acc, err := RunView(features, p, s)
		if err != nil {
			return nil, err
		}
		g, err := GraphFromResult(acc)
		if err != nil {
			return nil, fmt.Errorf("view %q: %w", p, err)
		}
		views[p] = g
	}
	merged, err := view.Merge(views)
	if err != nil {
		return nil, fmt.Errorf("merge views: %w", err)
	}
	return merged, nil
}
