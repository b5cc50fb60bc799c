// Package plugins provides the reference stage variants for the visual mesh
// pipeline and the registry that selects them by name from configuration.
//
// The reference projection reads meshes that were projected when the
// dataset was written; it does not implement lens or mesh geometry.
package plugins
