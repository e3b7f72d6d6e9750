// Package tools provides host runtime helpers shared by the client packages.
//
// Ownership boundary:
// - external command execution
//
// - captured command output and exit codes
package tools
