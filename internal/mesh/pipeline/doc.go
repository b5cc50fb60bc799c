// Package pipeline is the composition root of the visual mesh dataset.
//
// It wires the record source (L1), schema parsing (L2), the per-view stages
// and merge (L3) and the batch reducer (L4) into a bounded, concurrent
// stream of batches handed to a Sink. The pipeline owns no domain logic;
// it delegates to the layer packages and to the configured plugins.
package pipeline
