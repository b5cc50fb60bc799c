// Package l1records owns Layer 1 (Records) of the visual mesh data model.
//
// Responsibilities: TFRecord framing, the tf.train.Example wire format, and
// record sources that feed the pipeline.
// Key types: Example, Feature, Kind, Source.
//
// Dependency rule: L1 depends on nothing above it.
package l1records
