// Command gen-records generates synthetic visual mesh records for smoke
// tests of meshbatch.
//
// Usage:
//
//	go run ./cmd/tools/gen-records -o data/train -n 200 -shards 2 -stereo
//	go run ./cmd/tools/gen-records -o data/train -n 200 -db runs.db -shard train
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"path/filepath"

	"github.com/banshee-data/visualmesh/internal/fsutil"
	"github.com/banshee-data/visualmesh/internal/mesh/l1records"
	"github.com/banshee-data/visualmesh/internal/mesh/storage/sqlite"
	"github.com/banshee-data/visualmesh/internal/mesh/synth"
)

type genOptions struct {
	output        string
	records       int
	shards        int
	stereo        bool
	seed          int64
	emptyFraction float64
	dbPath        string
	shard         string
}

func main() {
	var o genOptions
	flag.StringVar(&o.output, "o", "sample", "output path prefix")
	flag.IntVar(&o.records, "n", 100, "number of records")
	flag.IntVar(&o.shards, "shards", 1, "number of record files")
	flag.BoolVar(&o.stereo, "stereo", false, "write left/ and right/ views")
	flag.Int64Var(&o.seed, "seed", 1, "random seed")
	flag.Float64Var(&o.emptyFraction, "empty-fraction", 0, "probability that a view has no nodes")
	flag.StringVar(&o.dbPath, "db", "", "also import the records into this SQLite database")
	flag.StringVar(&o.shard, "shard", "synthetic", "record shard name for -db")
	flag.Parse()

	paths, err := generate(context.Background(), fsutil.OSFileSystem{}, o)
	if err != nil {
		log.Fatalf("gen-records: %v", err)
	}
	for _, p := range paths {
		log.Printf("✓ Created: %s", p)
	}
	if o.dbPath != "" {
		log.Printf("✓ Imported %d records into %s (shard %q)", o.records, o.dbPath, o.shard)
	}
}

// generate writes o.records records spread round-robin over o.shards files
// and returns the file paths.
func generate(ctx context.Context, fsys fsutil.FileSystem, o genOptions) ([]string, error) {
	if o.records < 0 || o.shards < 1 {
		return nil, fmt.Errorf("need a non-negative record count and at least one shard")
	}
	if o.emptyFraction < 0 || o.emptyFraction > 1 {
		return nil, fmt.Errorf("empty fraction %.2f outside [0, 1]", o.emptyFraction)
	}

	gen := synth.NewGenerator(o.seed)
	gen.Stereo = o.stereo
	gen.EmptyFraction = o.emptyFraction

	all := make([][]byte, 0, o.records)
	shards := make([][][]byte, o.shards)
	for i := 0; i < o.records; i++ {
		ex, err := gen.NextRecord()
		if err != nil {
			return nil, fmt.Errorf("generate record %d: %w", i, err)
		}
		payload := l1records.EncodeExample(ex)
		all = append(all, payload)
		shards[i%o.shards] = append(shards[i%o.shards], payload)
		if (i+1)%100 == 0 {
			log.Printf("%d/%d records", i+1, o.records)
		}
	}

	if dir := filepath.Dir(o.output); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}
	paths := make([]string, o.shards)
	for i, payloads := range shards {
		paths[i] = fmt.Sprintf("%s-%05d-of-%05d.tfrecord", o.output, i, o.shards)
		if err := l1records.WriteFile(fsys, paths[i], payloads); err != nil {
			return nil, err
		}
	}

	if o.dbPath != "" {
		db, err := sqlite.Open(o.dbPath)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		if err := sqlite.NewRecordStore(db).Insert(ctx, o.shard, all...); err != nil {
			return nil, err
		}
	}
	return paths, nil
}
