// Command meshbatch reads visual mesh training records, turns them into
// batches and optionally serves the batches to training clients over gRPC.
//
// Usage:
//
//	meshbatch -config config/pipeline.defaults.yaml -records 'data/train-*.tfrecord'
//	meshbatch -db runs.db -source sqlite -shard train -listen localhost:50061
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/banshee-data/visualmesh/internal/config"
	"github.com/banshee-data/visualmesh/internal/fsutil"
	"github.com/banshee-data/visualmesh/internal/mesh/l1records"
	"github.com/banshee-data/visualmesh/internal/mesh/pipeline"
	"github.com/banshee-data/visualmesh/internal/mesh/plugins"
	"github.com/banshee-data/visualmesh/internal/mesh/report"
	"github.com/banshee-data/visualmesh/internal/mesh/storage/sqlite"
	"github.com/banshee-data/visualmesh/internal/mesh/stream"
	"github.com/banshee-data/visualmesh/internal/monitoring"
	"github.com/banshee-data/visualmesh/internal/timeutil"
	"github.com/banshee-data/visualmesh/internal/version"
)

type options struct {
	configPath    string
	records       string
	dbPath        string
	source        string
	shard         string
	listen        string
	waitClients   int
	metricsListen string
	hist          string
	maxBatches    int
	trace         bool
	showVersion   bool
	listPlugins   bool
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var o options
	fs.StringVar(&o.configPath, "config", config.DefaultConfigPath, "pipeline configuration (.json, .yaml)")
	fs.StringVar(&o.records, "records", "", "comma separated record file globs")
	fs.StringVar(&o.dbPath, "db", "", "SQLite database for the run log (overrides database_path)")
	fs.StringVar(&o.source, "source", "files", "record source: files or sqlite")
	fs.StringVar(&o.shard, "shard", "", "record shard to read with -source=sqlite (empty reads all)")
	fs.StringVar(&o.listen, "listen", "", "serve batches over gRPC on this address (overrides stream_listen_addr)")
	fs.IntVar(&o.waitClients, "wait-clients", 0, "wait for this many stream clients before reading records; batches are always held until one connects")
	fs.StringVar(&o.metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")
	fs.StringVar(&o.hist, "hist", "", "write a histogram of nodes per example to this image file")
	fs.IntVar(&o.maxBatches, "max-batches", 0, "stop after this many batches (0 = all)")
	fs.BoolVar(&o.trace, "trace", false, "enable per-batch trace logging")
	fs.BoolVar(&o.showVersion, "version", false, "print version and exit")
	fs.BoolVar(&o.listPlugins, "plugins", false, "list registered plugins and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	switch o.source {
	case "files":
		if o.records == "" && !o.showVersion && !o.listPlugins {
			return o, errors.New("-records is required with -source=files")
		}
	case "sqlite":
		if o.dbPath == "" {
			return o, errors.New("-db is required with -source=sqlite")
		}
	default:
		return o, fmt.Errorf("unknown -source %q (want files or sqlite)", o.source)
	}
	if o.maxBatches < 0 {
		return o, fmt.Errorf("-max-batches must be non-negative, got %d", o.maxBatches)
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("invalid flags: %v", err)
	}
	if opts.showVersion {
		fmt.Println(version.String("meshbatch"))
		return
	}
	if opts.listPlugins {
		printPlugins(os.Stdout)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := run(ctx, opts); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Printf("interrupted: %v", err)
			os.Exit(130)
		}
		log.Fatalf("meshbatch: %v", err)
	}
}

func printPlugins(w io.Writer) {
	names := plugins.Names()
	for _, kind := range []string{"view", "orientation", "projection", "example", "label"} {
		fmt.Fprintf(w, "%-12s %s\n", kind, strings.Join(names[kind], ", "))
	}
}

// runSummary is the stats document stored with each run.
type runSummary struct {
	RecordsRead      int            `json:"records_read"`
	RecordsMalformed int            `json:"records_malformed"`
	ExamplesEmpty    int            `json:"examples_empty"`
	Examples         int            `json:"examples"`
	Batches          int            `json:"batches"`
	Nodes            report.Summary `json:"nodes"`
	DurationSeconds  float64        `json:"duration_seconds"`
	StreamDropped    uint64         `json:"stream_dropped,omitempty"`
}

func run(ctx context.Context, o options) (pipeline.Stats, error) {
	var clock timeutil.Clock = timeutil.RealClock{}
	logs := monitoring.Writer()
	var trace io.Writer
	if o.trace {
		trace = logs
	}
	pipeline.SetLogWriters(logs, logs, trace)
	stream.SetLogWriters(logs, logs, trace)

	cfg, err := config.LoadPipelineConfig(o.configPath)
	if err != nil {
		return pipeline.Stats{}, err
	}
	if o.listen != "" {
		cfg.StreamListenAddr = &o.listen
	}
	if o.dbPath != "" {
		cfg.DatabasePath = &o.dbPath
	}

	set, err := plugins.Build(cfg)
	if err != nil {
		return pipeline.Stats{}, err
	}

	reg := prometheus.NewRegistry()
	metrics, err := monitoring.NewMetrics(reg)
	if err != nil {
		return pipeline.Stats{}, err
	}
	if o.metricsListen != "" {
		stopMetrics := serveMetrics(o.metricsListen, reg)
		defer stopMetrics()
	}

	popts := pipeline.OptionsFromConfig(cfg)
	popts.MaxBatches = o.maxBatches
	popts.Metrics = metrics
	dataset, err := pipeline.NewDataset(set.View, set.Stages, popts)
	if err != nil {
		return pipeline.Stats{}, err
	}
	monitoring.Logf("schema resolved: %d stored features", len(dataset.Schema().StorageKeys()))

	var db *sqlite.DB
	if path := cfg.GetDatabasePath(); path != "" {
		db, err = sqlite.Open(path)
		if err != nil {
			return pipeline.Stats{}, err
		}
		defer db.Close()
	}

	src, err := openSource(o, db)
	if err != nil {
		return pipeline.Stats{}, err
	}
	defer src.Close()

	var publisher *stream.Publisher
	if addr := cfg.GetStreamListenAddr(); addr != "" {
		scfg := stream.DefaultConfig()
		scfg.ListenAddr = addr
		publisher = stream.NewPublisher(scfg, metrics)
		if err := publisher.Start(); err != nil {
			return pipeline.Stats{}, err
		}
		defer publisher.Stop()
		if o.waitClients > 0 {
			monitoring.Logf("waiting for %d stream client(s) on %s", o.waitClients, publisher.Addr())
			if err := publisher.WaitForClients(ctx, o.waitClients); err != nil {
				return pipeline.Stats{}, err
			}
		}
	}

	var (
		runs   *sqlite.RunStore
		record *sqlite.Run
	)
	if db != nil {
		runs = sqlite.NewRunStore(db, clock)
		cfgJSON, err := json.Marshal(cfg)
		if err != nil {
			return pipeline.Stats{}, fmt.Errorf("marshal config: %w", err)
		}
		if record, err = runs.Start(ctx, cfgJSON); err != nil {
			return pipeline.Stats{}, err
		}
		monitoring.Logf("run %s started", record.ID)
	}

	var sink pipeline.Sink = pipeline.Discard
	if publisher != nil {
		sink = publisher.Sink()
	}

	start := clock.Now()
	stats, runErr := dataset.Run(ctx, src, sink)
	summary := runSummary{
		RecordsRead:      stats.RecordsRead,
		RecordsMalformed: stats.RecordsMalformed,
		ExamplesEmpty:    stats.ExamplesEmpty,
		Examples:         stats.Examples,
		Batches:          stats.Batches,
		Nodes:            report.Summarize(stats.ExampleNodes),
		DurationSeconds:  clock.Since(start).Seconds(),
	}
	if publisher != nil {
		// Flush queued batches to subscribers before the run is recorded.
		publisher.Stop()
		summary.StreamDropped = publisher.Stats().Dropped
	}
	monitoring.Logf("nodes per example: %s", summary.Nodes)

	if record != nil {
		// The run context may already be cancelled; the outcome is still recorded.
		if err := runs.Finish(context.WithoutCancel(ctx), record, summary, runErr); err != nil {
			monitoring.Logf("failed to record run %s: %v", record.ID, err)
		}
	}
	if runErr != nil {
		return stats, runErr
	}

	if o.hist != "" && len(stats.ExampleNodes) > 0 {
		if err := report.WriteHistogram(stats.ExampleNodes, o.hist); err != nil {
			return stats, err
		}
		monitoring.Logf("histogram written to %s", o.hist)
	}
	return stats, nil
}

func openSource(o options, db *sqlite.DB) (l1records.Source, error) {
	if o.source == "sqlite" {
		if db == nil {
			return nil, errors.New("sqlite source requires a database")
		}
		return sqlite.NewRecordStore(db).Source(o.shard), nil
	}

	fsys := fsutil.OSFileSystem{}
	paths, err := l1records.ExpandPaths(fsys, strings.Split(o.records, ",")...)
	if err != nil {
		return nil, err
	}
	monitoring.Logf("reading %d record file(s)", len(paths))
	return l1records.NewFileSource(fsys, paths), nil
}

func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Logf("metrics server error: %v", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}
}
