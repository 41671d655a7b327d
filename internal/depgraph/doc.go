// Package depgraph scans an artifact and the artifacts nested in it,
// following component.json descriptors, and turns the result into a load
// plan: one version per component id, an ordered load list and the
// dependencies that need a restart because the host already loaded an
// older copy.
package depgraph
