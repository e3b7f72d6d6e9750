// Package graph owns the node-execution runtime.
//
// Ownership boundary:
// - node handles and their Created -> Started -> ShuttingDown -> Stopped lifecycle
//
// - registration with the master, retried with backoff
//
// - graph name resolution and the per-node Conn
//
// - request/response services over HTTP JSON
package graph
