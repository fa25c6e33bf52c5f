// Package marshal converts between the loosely typed wire values exchanged
// with remote services and the client's domain values.
//
// Wire values are google.golang.org/protobuf structpb values:
//
//   - Tagged results are structs holding exactly one of "ok" or "err".
//   - Optional values are lists of length zero or one.
//   - Natural numbers travel as decimal strings so they round-trip at any size.
//   - Identities travel as canonical principal text.
//
// Every decoder reports contract violations as MALFORMED_RESPONSE errors and
// every encoder rejects invalid domain input as VALIDATION errors, so no
// malformed value crosses the boundary in either direction.
package marshal
