// Package appmode decides how a client session was launched and runs its
// mode-specific start sequence.
//
// Ownership boundary:
// - launch parameter decoding (mode tag, parameters, remappings, master description)
//
// - resolver-first node startup, node release, and back navigation handoff
package appmode
