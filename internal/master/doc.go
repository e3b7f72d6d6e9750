// Package master owns master endpoint concerns on the client side.
//
// Ownership boundary:
// - master address grammar and normalization
//
// - connection failure classification for user-facing messages
//
// Parsing never touches the network. Probing a master lives with the registry client.
package master
