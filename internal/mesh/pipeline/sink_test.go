package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/visualmesh/internal/mesh"
)

func TestMultiSink(t *testing.T) {
	ctx := context.Background()
	b := &mesh.Batch{}

	var a, c collector
	require.NoError(t, MultiSink(&a, nil, &c).Deliver(ctx, b))
	assert.Len(t, a.batches, 1)
	assert.Len(t, c.batches, 1)

	boom := errors.New("full")
	var after collector
	err := MultiSink(SinkFunc(func(context.Context, *mesh.Batch) error { return boom }), &after).Deliver(ctx, b)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, after.batches, "delivery stops at the first error")

	assert.NoError(t, MultiSink().Deliver(ctx, b))
	single := &collector{}
	assert.Same(t, single, MultiSink(nil, single))
}
