package pipeline

import (
	"context"
	"fmt"

	"github.com/banshee-data/visualmesh/internal/mesh"
)

// Sink receives finished batches from the single sink goroutine, in order.
type Sink interface {
	Deliver(ctx context.Context, b *mesh.Batch) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, b *mesh.Batch) error

// Deliver calls f(ctx, b).
func (f SinkFunc) Deliver(ctx context.Context, b *mesh.Batch) error { return f(ctx, b) }

// Discard is a Sink that drops every batch.
var Discard Sink = SinkFunc(func(context.Context, *mesh.Batch) error { return nil })

// MultiSink delivers each batch to every sink in order, stopping at the
// first error. Nil sinks are skipped.
func MultiSink(sinks ...Sink) Sink {
	var live []Sink
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	switch len(live) {
	case 0:
		return Discard
	case 1:
		return live[0]
	}
	return SinkFunc(func(ctx context.Context, b *mesh.Batch) error {
		for i, s := range live {
			if err := s.Deliver(ctx, b); err != nil {
				return fmt.Errorf("sink %d: %w", i, err)
			}
		}
		return nil
	})
}
