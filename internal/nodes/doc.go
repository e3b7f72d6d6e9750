// Package nodes contains the graph nodes a client session runs.
//
// Ownership boundary:
// - master name resolution and the session namespace
//
// - dashboard diagnostics summary, system commands, pose and goal publishing
package nodes
