// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"testing"

	"github.com/banshee-data/visualmesh/internal/mesh/l1records"
	"github.com/banshee-data/visualmesh/internal/mesh/synth"
	"github.com/banshee-data/visualmesh/internal/monitoring"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// QuietLogs mutes monitoring.Logf for the duration of the test.
func QuietLogs(t testing.TB) {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.SetLogger(prev) })
}

// RecordOptions shape the synthetic records returned by Records.
type RecordOptions struct {
	Seed   int64
	Stereo bool
	// Empty lists record indices whose views have no nodes.
	Empty map[int]bool
}

// Records returns n encoded synthetic records. The same options always
// produce the same payloads.
func Records(t testing.TB, n int, opts RecordOptions) [][]byte {
	t.Helper()
	full := synth.NewGenerator(opts.Seed)
	full.Stereo = opts.Stereo
	none := synth.NewGenerator(opts.Seed + 1)
	none.Stereo = opts.Stereo
	none.EmptyFraction = 1

	out := make([][]byte, n)
	for i := range out {
		gen := full
		if opts.Empty[i] {
			gen = none
		}
		ex, err := gen.NextRecord()
		AssertNoError(t, err)
		out[i] = l1records.EncodeExample(ex)
	}
	return out
}
