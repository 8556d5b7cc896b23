// Package contracts provides the shared data model for the wirelink client.
//
// This package defines the types that cross component boundaries:
//   - Envelope: the JSON wire format for every frame
//   - WireError: the typed error taxonomy reported on the error channel
//   - Reserved message types for the heartbeat exchange
//
// The envelope format is the JSON wire protocol spoken by wirelink
// servers; field names are fixed by that protocol.
package contracts
