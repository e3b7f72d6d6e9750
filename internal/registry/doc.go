// Package registry owns the master registry: the HTTP server a local master runs
// and the client every node uses to reach a master.
//
// Ownership boundary:
// - graph name registration for nodes and services
//
// - latched topic messages (last value per topic)
//
// - the parameter server, backed by memory or Redis
//
// Transport failures surface as *master.ConnectError so callers can classify them.
package registry
