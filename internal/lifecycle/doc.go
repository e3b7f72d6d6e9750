// Package lifecycle drives a client session from bind to ready and tears it
// down when the execution service shuts down.
//
// Ownership boundary:
// - the session state machine and its foreground hooks
//
// - master selection (existing, new public, new private, cancel)
//
// - the foreground dispatcher that all user-visible effects go through
package lifecycle
