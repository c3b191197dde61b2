// Package protocol defines the wire contract between an embedding host and an
// embedded UI: the typed message taxonomy, the version compatibility rule, the
// scope set used for permission tracking, and the local event dispatch table
// shared by the client and host engines.
//
// The package is transport-agnostic. Messages are plain structs with a
// mandatory Type discriminator; how they travel between the two sides is the
// concern of the transport package.
package protocol
