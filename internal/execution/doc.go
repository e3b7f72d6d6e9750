// Package execution owns the long-running execution context of a client session.
//
// Ownership boundary:
// - the node executor and the set of running nodes
//
// - the master endpoint, set once per session, and an optional in-process master
//
// - the host lock held while the session runs
//
// - the shutdown signal and its listeners
//
// Callers read state through accessors and request changes through methods;
// nothing outside this package mutates the context directly.
package execution
