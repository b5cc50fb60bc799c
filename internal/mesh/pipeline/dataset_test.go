package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/visualmesh/internal/config"
	"github.com/banshee-data/visualmesh/internal/mesh"
	"github.com/banshee-data/visualmesh/internal/mesh/l1records"
	"github.com/banshee-data/visualmesh/internal/mesh/l2features"
	"github.com/banshee-data/visualmesh/internal/mesh/l3views"
	"github.com/banshee-data/visualmesh/internal/mesh/plugins"
	"github.com/banshee-data/visualmesh/internal/monitoring"
	"github.com/banshee-data/visualmesh/internal/testutil"
)

func testPlugins(t *testing.T, stereo bool) *plugins.Set {
	t.Helper()
	cfg := config.EmptyPipelineConfig()
	if stereo {
		cfg.View = &config.PluginSection{Type: "stereoscopic"}
	}
	cfg.Label = &config.PluginSection{Type: "classification", Config: map[string]any{"classes": []any{"a", "b"}}}
	set, err := plugins.Build(cfg)
	require.NoError(t, err)
	return set
}

func newTestDataset(t *testing.T, stereo bool, opts Options) *Dataset {
	t.Helper()
	set := testPlugins(t, stereo)
	d, err := NewDataset(set.View, set.Stages, opts)
	require.NoError(t, err)
	return d
}

func records(t *testing.T, n int, stereo bool, empty map[int]bool) [][]byte {
	t.Helper()
	return testutil.Records(t, n, testutil.RecordOptions{Seed: 11, Stereo: stereo, Empty: empty})
}

// collector is a Sink that keeps every batch.
type collector struct {
	mu      sync.Mutex
	batches []*mesh.Batch
}

func (c *collector) Deliver(_ context.Context, b *mesh.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, b)
	return nil
}

func checkBatch(t *testing.T, b *mesh.Batch, degree int) {
	t.Helper()
	n := b.Nodes()
	require.Len(t, b.X, n+1)
	require.Len(t, b.G, n+1)
	assert.Equal(t, mesh.SentinelCoordinate, b.X[n])
	for _, j := range b.G[n] {
		assert.Equal(t, int32(n), j)
	}
	for i, row := range b.G {
		require.Len(t, row, degree, "row %d", i)
		for _, j := range row {
			assert.True(t, j >= 0 && int(j) <= n, "row %d references %d outside [0, %d]", i, j, n)
		}
	}
	total := 0
	for i := range b.N {
		total += b.ExampleCount(i)
	}
	assert.Equal(t, n, total, "node counts are conserved")
	assert.Len(t, b.Y, n)
	assert.Len(t, b.V, n)
	assert.Len(t, b.Jpg, b.Examples())
}

func TestRun_BatchesAllRecords(t *testing.T) {
	for _, stereo := range []bool{false, true} {
		d := newTestDataset(t, stereo, Options{BatchSize: 4, Prefetch: 2, Workers: 3, MaxSkipFraction: 0})
		var sink collector
		stats, err := d.Run(context.Background(), l1records.NewSliceSource(records(t, 10, stereo, nil)), &sink)
		require.NoError(t, err)

		assert.Equal(t, 10, stats.RecordsRead)
		assert.Equal(t, 10, stats.Examples)
		assert.Equal(t, 3, stats.Batches)
		require.Len(t, sink.batches, 3)

		sizes := []int{}
		nodes := 0
		for _, b := range sink.batches {
			checkBatch(t, b, plugins.DefaultNeighbourCount)
			sizes = append(sizes, b.Examples())
			nodes += b.Nodes()
			for _, views := range b.N {
				assert.Len(t, views, len(d.view.Prefixes()))
			}
		}
		assert.Equal(t, []int{4, 4, 2}, sizes, "only the last batch is partial")
		assert.Equal(t, nodes, stats.Nodes)
		assert.Len(t, stats.ExampleNodes, 10)
	}
}

func TestRun_EmptyExamplesExcluded(t *testing.T) {
	d := newTestDataset(t, false, Options{BatchSize: 3, Workers: 2})
	empty := map[int]bool{0: true, 4: true, 5: true}
	var sink collector
	stats, err := d.Run(context.Background(), l1records.NewSliceSource(records(t, 9, false, empty)), &sink)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.ExamplesEmpty)
	assert.Equal(t, 0, stats.RecordsMalformed, "empty is not malformed")
	assert.Equal(t, 6, stats.Examples)
	for _, n := range stats.ExampleNodes {
		assert.Positive(t, n)
	}
	for _, b := range sink.batches {
		for i := range b.N {
			assert.Positive(t, b.ExampleCount(i))
		}
	}
}

func TestRun_MalformedRecordsSkipped(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := monitoring.NewMetrics(reg)
	require.NoError(t, err)

	d := newTestDataset(t, false, Options{
		BatchSize: 2, MaxSkipFraction: 0.5, MinRecordsForSkipCheck: 4, Metrics: metrics,
	})
	recs := records(t, 6, false, map[int]bool{5: true})
	recs = append(recs, []byte{0xff, 0xff}, l1records.EncodeExample(&l1records.Example{}))

	var sink collector
	stats, err := d.Run(context.Background(), l1records.NewSliceSource(recs), &sink)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.RecordsMalformed)
	assert.Equal(t, 1, stats.ExamplesEmpty)
	assert.Equal(t, 5, stats.Examples)
	assert.Equal(t, 8.0, promtestutil.ToFloat64(metrics.RecordsRead))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(metrics.RecordsMalformed))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.ExamplesEmpty))
	assert.Equal(t, 3.0, promtestutil.ToFloat64(metrics.Batches))
}

func TestRun_SkipRateExceeded(t *testing.T) {
	d := newTestDataset(t, false, Options{BatchSize: 2, MaxSkipFraction: 0.1, MinRecordsForSkipCheck: 5})
	recs := records(t, 20, false, nil)
	for i := 0; i < 20; i += 3 {
		recs[i] = []byte("garbage")
	}

	_, err := d.Run(context.Background(), l1records.NewSliceSource(recs), &collector{})
	assert.ErrorIs(t, err, ErrSkipRateExceeded)
}

// badLabel omits W, which breaks the stage contract.
type badLabel struct{ inner l3views.Label }

func (b badLabel) Features() l2features.Request { return b.inner.Features() }

func (badLabel) Label(args l3views.Args) (l3views.Values, error) {
	return l3views.Values{l3views.KeyY: [][]float32{}}, nil
}

func TestRun_PluginContractIsFatal(t *testing.T) {
	set := testPlugins(t, false)
	set.Stages.Label = badLabel{set.Stages.Label}
	d, err := NewDataset(set.View, set.Stages, Options{BatchSize: 2, MaxSkipFraction: 1})
	require.NoError(t, err)

	_, err = d.Run(context.Background(), l1records.NewSliceSource(records(t, 4, false, nil)), &collector{})
	assert.ErrorIs(t, err, l3views.ErrPluginContract)
	assert.NotErrorIs(t, err, ErrMalformedRecord)
}

// conflictingLabel asks for the image as floats.
type conflictingLabel struct{ inner l3views.Label }

func (conflictingLabel) Features() l2features.Request {
	return l2features.Request{"image": l2features.Float}
}

func (c conflictingLabel) Label(args l3views.Args) (l3views.Values, error) {
	return c.inner.Label(args)
}

func TestNewDataset_SchemaConflict(t *testing.T) {
	set := testPlugins(t, true)
	set.Stages.Label = conflictingLabel{set.Stages.Label}
	_, err := NewDataset(set.View, set.Stages, Options{})
	assert.ErrorIs(t, err, l2features.ErrSchemaConflict)

	_, err = NewDataset(set.View, l3views.Stages{}, Options{})
	assert.ErrorIs(t, err, l3views.ErrPluginContract)
}

func TestRun_CancellationDropsPartialBatch(t *testing.T) {
	d := newTestDataset(t, false, Options{BatchSize: 4, Workers: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sink collector
	stats, err := d.Run(ctx, l1records.NewSliceSource(records(t, 10, false, nil)), SinkFunc(func(ctx context.Context, b *mesh.Batch) error {
		cancel()
		return sink.Deliver(ctx, b)
	}))
	require.ErrorIs(t, err, context.Canceled)
	require.NotEmpty(t, sink.batches)
	assert.Equal(t, len(sink.batches), stats.Batches)
	for _, b := range sink.batches {
		assert.Equal(t, 4, b.Examples(), "no partial batch after cancellation")
	}
}

func TestRun_MaxBatches(t *testing.T) {
	d := newTestDataset(t, false, Options{BatchSize: 2, MaxBatches: 2})
	var sink collector
	stats, err := d.Run(context.Background(), l1records.NewSliceSource(records(t, 12, false, nil)), &sink)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Batches)
	assert.Len(t, sink.batches, 2)
}

type failingSource struct{ err error }

func (s failingSource) Next(context.Context) ([]byte, error) { return nil, s.err }
func (failingSource) Close() error                          { return nil }

func TestRun_SourceAndSinkErrors(t *testing.T) {
	d := newTestDataset(t, false, Options{BatchSize: 1})
	boom := errors.New("disk gone")
	_, err := d.Run(context.Background(), failingSource{boom}, &collector{})
	assert.ErrorIs(t, err, boom)

	_, err = d.Run(context.Background(), l1records.NewSliceSource(records(t, 3, false, nil)),
		SinkFunc(func(context.Context, *mesh.Batch) error { return boom }))
	assert.ErrorIs(t, err, boom)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.MustLoadDefaultConfig()
	opts := OptionsFromConfig(cfg)
	assert.Equal(t, 16, opts.BatchSize)
	assert.Equal(t, 4, opts.Workers)
	assert.Equal(t, 0.05, opts.MaxSkipFraction)

	zero := Options{}.withDefaults()
	assert.Equal(t, 1, zero.BatchSize)
	assert.Equal(t, 1, zero.Prefetch)
	assert.Equal(t, 1, zero.Workers)
	assert.Equal(t, DefaultMaxSkipFraction, zero.MaxSkipFraction)
	assert.Equal(t, DefaultMinRecordsForSkipCheck, zero.MinRecordsForSkipCheck)

	strict := Options{MaxSkipFraction: -1, MinRecordsForSkipCheck: -1}.withDefaults()
	assert.Zero(t, strict.MaxSkipFraction)
	assert.Zero(t, strict.MinRecordsForSkipCheck)

	cfg.MaxSkipFraction = new(float64)
	cfg.MinRecordsForSkipCheck = new(int)
	fromZero := OptionsFromConfig(cfg).withDefaults()
	assert.Zero(t, fromZero.MaxSkipFraction, "explicit zero in config is kept")
	assert.Zero(t, fromZero.MinRecordsForSkipCheck)
}

func TestRun_DefaultOptionsTolerateMalformedRecords(t *testing.T) {
	recs := records(t, 49, false, nil)
	recs = append(recs[:10], append([][]byte{[]byte("garbage")}, recs[10:]...)...)

	d := newTestDataset(t, false, Options{BatchSize: 4})
	var sink collector
	stats, err := d.Run(context.Background(), l1records.NewSliceSource(recs), &sink)
	require.NoError(t, err)
	assert.Equal(t, 50, stats.RecordsRead)
	assert.Equal(t, 1, stats.RecordsMalformed)
	assert.Equal(t, 49, stats.Examples)
	assert.Equal(t, 13, stats.Batches)
}
