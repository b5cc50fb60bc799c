package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/visualmesh/internal/config"
	"github.com/banshee-data/visualmesh/internal/mesh"
	"github.com/banshee-data/visualmesh/internal/mesh/l1records"
	"github.com/banshee-data/visualmesh/internal/mesh/l2features"
	"github.com/banshee-data/visualmesh/internal/mesh/l3views"
	"github.com/banshee-data/visualmesh/internal/mesh/l4batch"
	"github.com/banshee-data/visualmesh/internal/monitoring"
)

var (
	// ErrMalformedRecord marks a record that could not be decoded, parsed or
	// turned into an example. Such records are skipped and counted.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrSkipRateExceeded is returned when too many records are malformed.
	ErrSkipRateExceeded = errors.New("malformed record rate exceeded")
)

// Defaults for the malformed record check, matching the pipeline config.
const (
	DefaultMaxSkipFraction        = 0.05
	DefaultMinRecordsForSkipCheck = 100
)

// Options tune a Dataset. Zero values are replaced by defaults.
type Options struct {
	BatchSize int
	Prefetch  int // bound of every inter-stage channel
	Workers   int

	// Once MinRecordsForSkipCheck records have been processed, the run
	// fails when the malformed fraction exceeds MaxSkipFraction. A negative
	// MaxSkipFraction tolerates no malformed records; a negative
	// MinRecordsForSkipCheck applies the check from the first record.
	MaxSkipFraction        float64
	MinRecordsForSkipCheck int

	// Keys redirects namespaced logical keys to stored field names.
	Keys map[string]string

	// MaxBatches stops the run cleanly after that many batches; 0 is
	// unlimited.
	MaxBatches int

	Metrics *monitoring.Metrics
}

// OptionsFromConfig maps a pipeline configuration onto Options.
func OptionsFromConfig(cfg *config.PipelineConfig) Options {
	opts := Options{
		BatchSize:              cfg.GetBatchSize(),
		Prefetch:               cfg.GetPrefetch(),
		Workers:                cfg.GetWorkers(),
		MaxSkipFraction:        cfg.GetMaxSkipFraction(),
		MinRecordsForSkipCheck: cfg.GetMinRecordsForSkipCheck(),
		Keys:                   cfg.GetKeys(),
	}
	// An explicit zero in the config is kept, not defaulted.
	if opts.MaxSkipFraction == 0 {
		opts.MaxSkipFraction = -1
	}
	if opts.MinRecordsForSkipCheck == 0 {
		opts.MinRecordsForSkipCheck = -1
	}
	return opts
}

func (o Options) withDefaults() Options {
	if o.BatchSize < 1 {
		o.BatchSize = 1
	}
	if o.Prefetch < 1 {
		o.Prefetch = 1
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	switch {
	case o.MaxSkipFraction == 0:
		o.MaxSkipFraction = DefaultMaxSkipFraction
	case o.MaxSkipFraction < 0:
		o.MaxSkipFraction = 0
	}
	switch {
	case o.MinRecordsForSkipCheck == 0:
		o.MinRecordsForSkipCheck = DefaultMinRecordsForSkipCheck
	case o.MinRecordsForSkipCheck < 0:
		o.MinRecordsForSkipCheck = 0
	}
	return o
}

// Stats summarises one run.
type Stats struct {
	RecordsRead      int
	RecordsMalformed int
	ExamplesEmpty    int
	Examples         int   // examples placed in delivered batches
	Batches          int   // batches delivered to the sink
	Nodes            int   // real nodes across delivered batches
	ExampleNodes     []int // node count of every delivered example
}

// Dataset turns a stream of raw records into batches. The feature schema is
// resolved once at construction and is read-only afterwards, so one Dataset
// may serve several sequential runs.
type Dataset struct {
	schema *l2features.Schema
	view   l3views.ViewPlugin
	stages l3views.Stages
	degree int
	opts   Options
}

// NewDataset resolves the schema for the given plugins. A conflicting
// feature request fails here with l2features.ErrSchemaConflict.
func NewDataset(view l3views.ViewPlugin, stages l3views.Stages, opts Options) (*Dataset, error) {
	if view == nil || stages.Orientation == nil || stages.Example == nil ||
		stages.Projection == nil || stages.Label == nil {
		return nil, fmt.Errorf("%w: every stage must be set", l3views.ErrPluginContract)
	}
	degree := stages.Projection.NeighbourCount()
	if degree < 1 {
		return nil, fmt.Errorf("%w: neighbour count %d", l3views.ErrPluginContract, degree)
	}
	schema, err := l2features.Resolve(view.Prefixes(), stages.Requests(), opts.Keys)
	if err != nil {
		return nil, fmt.Errorf("resolve feature schema: %w", err)
	}
	return &Dataset{
		schema: schema,
		view:   view,
		stages: stages,
		degree: degree,
		opts:   opts.withDefaults(),
	}, nil
}

// Schema returns the resolved feature schema.
func (d *Dataset) Schema() *l2features.Schema { return d.schema }

type record struct {
	seq int
	raw []byte
}

type outcomeKind int

const (
	outcomeExample outcomeKind = iota
	outcomeEmpty
	outcomeMalformed
)

type outcome struct {
	seq   int
	kind  outcomeKind
	graph *mesh.Graph
	err   error
}

// Run streams every record of src through the pipeline and delivers batches
// to sink. The final partial batch is delivered only when src is exhausted;
// on cancellation or error any partial batch is dropped. Run returns the
// first fatal error, or the context's error when cancelled.
func (d *Dataset) Run(ctx context.Context, src l1records.Source, sink Sink) (Stats, error) {
	var stats Stats
	opts := d.opts

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gctx := errgroup.WithContext(runCtx)

	records := make(chan record, opts.Prefetch)
	outcomes := make(chan outcome, opts.Prefetch)
	batches := make(chan *mesh.Batch, opts.Prefetch)

	// Reader
	g.Go(func() error {
		defer close(records)
		for seq := 0; ; seq++ {
			raw, err := src.Next(gctx)
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read record %d: %w", seq, err)
			}
			stats.RecordsRead++
			opts.Metrics.RecordRead()
			select {
			case records <- record{seq: seq, raw: raw}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	// Workers
	var workers sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for rec := range records {
				out, err := d.process(rec)
				if err != nil {
					return err
				}
				select {
				case outcomes <- out:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		workers.Wait()
		close(outcomes)
		return nil
	})

	// Batcher
	g.Go(func() error {
		defer close(batches)
		pending := make([]*mesh.Graph, 0, opts.BatchSize)
		processed := 0
		emit := func() error {
			b, err := l4batch.Reduce(pending, d.degree)
			if err != nil {
				return fmt.Errorf("reduce batch: %w", err)
			}
			pending = make([]*mesh.Graph, 0, opts.BatchSize)
			select {
			case batches <- b:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		}

		for out := range outcomes {
			processed++
			switch out.kind {
			case outcomeMalformed:
				stats.RecordsMalformed++
				opts.Metrics.RecordMalformed()
				opsf("skipping record %d: %v", out.seq, out.err)
			case outcomeEmpty:
				stats.ExamplesEmpty++
				opts.Metrics.ExampleEmpty()
				diagf("record %d produced an empty example, skipping", out.seq)
			case outcomeExample:
				opts.Metrics.ExampleEmitted()
				pending = append(pending, out.graph)
			}

			if processed >= opts.MinRecordsForSkipCheck && processed > 0 {
				if frac := float64(stats.RecordsMalformed) / float64(processed); frac > opts.MaxSkipFraction {
					return fmt.Errorf("%w: %d of %d records malformed (%.3f > %.3f)", ErrSkipRateExceeded,
						stats.RecordsMalformed, processed, frac, opts.MaxSkipFraction)
				}
			}

			if len(pending) == opts.BatchSize {
				if err := emit(); err != nil {
					return err
				}
			}
		}

		// outcomes is also closed when the group is cancelled; only a
		// drained source flushes the remainder.
		if gctx.Err() != nil {
			return gctx.Err()
		}
		if len(pending) > 0 {
			return emit()
		}
		return nil
	})

	// Sink
	limitReached := false
	g.Go(func() error {
		for {
			select {
			case b, ok := <-batches:
				if !ok {
					return nil
				}
				// Nothing is delivered once the run is cancelled.
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := sink.Deliver(gctx, b); err != nil {
					return fmt.Errorf("deliver batch %d: %w", stats.Batches, err)
				}
				stats.Batches++
				stats.Examples += b.Examples()
				stats.Nodes += b.Nodes()
				for i := 0; i < b.Examples(); i++ {
					stats.ExampleNodes = append(stats.ExampleNodes, b.ExampleCount(i))
				}
				opts.Metrics.BatchDelivered(b.Nodes())
				tracef("batch %d: %d examples, %d nodes", stats.Batches-1, b.Examples(), b.Nodes())

				if opts.MaxBatches > 0 && stats.Batches >= opts.MaxBatches {
					limitReached = true
					stop()
					return nil
				}
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	err := g.Wait()
	if err != nil && limitReached && ctx.Err() == nil && errors.Is(err, context.Canceled) {
		err = nil
	}
	if err != nil {
		opsf("run failed after %d records: %v", stats.RecordsRead, err)
		return stats, err
	}
	diagf("run complete: %d records, %d malformed, %d empty, %d batches, %d examples, %d nodes",
		stats.RecordsRead, stats.RecordsMalformed, stats.ExamplesEmpty, stats.Batches, stats.Examples, stats.Nodes)
	return stats, nil
}

// process maps one raw record to an outcome. Only contract violations and
// invalid graphs are returned as errors; everything else a record can get
// wrong makes it malformed.
func (d *Dataset) process(rec record) (outcome, error) {
	malformed := func(err error) (outcome, error) {
		return outcome{seq: rec.seq, kind: outcomeMalformed, err: fmt.Errorf("%w: %w", ErrMalformedRecord, err)}, nil
	}

	ex, err := l1records.DecodeExample(rec.raw)
	if err != nil {
		return malformed(err)
	}
	features, err := d.schema.Parse(ex)
	if err != nil {
		return malformed(err)
	}
	g, err := l3views.BuildExample(features, d.view, d.stages)
	if err != nil {
		if isFatal(err) {
			return outcome{}, fmt.Errorf("record %d: %w", rec.seq, err)
		}
		return malformed(err)
	}
	if g.Len() == 0 {
		return outcome{seq: rec.seq, kind: outcomeEmpty}, nil
	}
	if err := g.Validate(); err != nil {
		return outcome{}, fmt.Errorf("record %d: %w", rec.seq, err)
	}
	if g.Degree() != d.degree {
		return outcome{}, fmt.Errorf("record %d: %w: %d neighbours per node, projection declares %d",
			rec.seq, mesh.ErrInvalidGraph, g.Degree(), d.degree)
	}
	return outcome{seq: rec.seq, kind: outcomeExample, graph: g}, nil
}

func isFatal(err error) bool {
	return errors.Is(err, l3views.ErrPluginContract) || errors.Is(err, mesh.ErrInvalidGraph)
}
