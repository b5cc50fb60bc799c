// Package l4batch owns Layer 4 (Batch) of the visual mesh data model.
//
// Responsibilities: flattening a group of variable-sized example graphs into
// one Batch, renumbering neighbour indices into the batch's global index
// space, and appending the off-mesh sentinel node.
//
// Dependency rule: L4 depends only on the mesh data model. It performs no
// I/O and holds no state between calls.
package l4batch
