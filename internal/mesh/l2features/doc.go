// Package l2features owns Layer 2 (Features) of the visual mesh data model.
//
// Responsibilities: resolving the typed fields every stage needs for every
// view into one conflict-checked Schema, mapping logical keys to the keys
// actually stored in records, and parsing decoded records against it.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
package l2features
