// Package l3views owns Layer 3 (Views) of the visual mesh data model.
//
// Responsibilities: the stage contracts (orientation, example, projection,
// label, view), running the stages for one camera view with an explicit
// last-write-wins accumulator, turning a view result into a Graph, and
// handing the per-view graphs to the view plugin's merge policy.
//
// Dependency rule: L3 may depend on L1-L2, but never on L4.
package l3views
