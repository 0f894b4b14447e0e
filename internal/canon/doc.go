// Package canon renders engine states and observer traces as canonical JSON
// and fingerprints them.
//
// Canonical JSON follows RFC 8785 for the value kinds the engine uses:
// object keys sorted by UTF-16 code units, strings NFC normalized and only
// minimally escaped, no floats, no null. Two states with the same
// non-plumbing content render to the same bytes and the same fingerprint,
// whatever the order in which their values were written.
package canon
