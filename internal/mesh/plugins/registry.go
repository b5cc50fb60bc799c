package plugins

import (
	"errors"
	"fmt"
	"sort"

	"github.com/banshee-data/visualmesh/internal/config"
	"github.com/banshee-data/visualmesh/internal/mesh/l3views"
)

// ErrUnknownPlugin is returned when a configuration names a variant that is
// not registered.
var ErrUnknownPlugin = errors.New("unknown plugin")

var (
	views = map[string]func(Options) (l3views.ViewPlugin, error){
		"monoscopic":   func(Options) (l3views.ViewPlugin, error) { return Monoscopic{}, nil },
		"stereoscopic": func(Options) (l3views.ViewPlugin, error) { return Stereoscopic{}, nil },
	}
	orientations = map[string]func(Options) (l3views.Orientation, error){
		"ground":   func(Options) (l3views.Orientation, error) { return GroundOrientation{}, nil },
		"identity": func(Options) (l3views.Orientation, error) { return IdentityOrientation{}, nil },
	}
	examples = map[string]func(Options) (l3views.Example, error){
		"image": func(Options) (l3views.Example, error) { return ImageExample{}, nil },
	}
	projections = map[string]func(Options) (l3views.Projection, error){
		"mesh": func(o Options) (l3views.Projection, error) {
			k, err := o.Int("neighbour_count", DefaultNeighbourCount)
			if err != nil {
				return nil, err
			}
			p, err := NewMeshProjection(k)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
	}
	labels = map[string]func(Options) (l3views.Label, error){
		"classification": func(o Options) (l3views.Label, error) {
			classes, err := o.Strings("classes")
			if err != nil {
				return nil, err
			}
			l, err := NewClassificationLabel(classes)
			if err != nil {
				return nil, err
			}
			return l, nil
		},
	}
)

// Set is the complete plugin selection for a run.
type Set struct {
	View   l3views.ViewPlugin
	Stages l3views.Stages
}

// Build constructs every plugin named by cfg. Unknown names and invalid
// options fail here, before any record is read.
func Build(cfg *config.PipelineConfig) (*Set, error) {
	var (
		s   Set
		err error
	)
	if s.View, err = build(views, "view", cfg.GetView()); err != nil {
		return nil, err
	}
	if s.Stages.Orientation, err = build(orientations, "orientation", cfg.GetOrientation()); err != nil {
		return nil, err
	}
	if s.Stages.Example, err = build(examples, "example", cfg.GetExample()); err != nil {
		return nil, err
	}
	if s.Stages.Projection, err = build(projections, "projection", cfg.GetProjection()); err != nil {
		return nil, err
	}
	if s.Stages.Label, err = build(labels, "label", cfg.GetLabel()); err != nil {
		return nil, err
	}
	return &s, nil
}

// Names lists the registered variants of each stage kind, for -help output.
func Names() map[string][]string {
	return map[string][]string{
		"view":        keys(views),
		"orientation": keys(orientations),
		"example":     keys(examples),
		"projection":  keys(projections),
		"label":       keys(labels),
	}
}

func build[T any](registry map[string]func(Options) (T, error), kind string, section *config.PluginSection) (T, error) {
	var zero T
	factory, ok := registry[section.Type]
	if !ok {
		return zero, fmt.Errorf("%w: %s %q (have %v)", ErrUnknownPlugin, kind, section.Type, keys(registry))
	}
	p, err := factory(Options(section.Config))
	if err != nil {
		return zero, fmt.Errorf("%s %q: %w", kind, section.Type, err)
	}
	return p, nil
}

func keys[T any](m map[string]T) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
