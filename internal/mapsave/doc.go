// Package mapsave saves the robot's current map through a bounded service call.
//
// Ownership boundary:
// - save service name resolution and lookup
//
// - single-outcome callbacks for success, failure and timeout
package mapsave
