// Package mesh holds the shared data model of the visual mesh dataset
// pipeline: the per-view and per-example Graph, and the flat Batch handed to
// the learning system.
//
// The layer packages build on it in order:
//
//	l1records  raw TFRecord / Example payloads
//	l2features feature schema resolution and record parsing
//	l3views    per-view stage chaining and view merging
//	l4batch    batch reduction into a shared index space
//
// Dependency rule: a layer may depend on lower layers and on this package,
// never on a higher layer. internal/mesh/pipeline is the composition root.
package mesh
