// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors, tested with errors.Is.
var (
	// Write validation errors
	ErrEmptyIdentifier  = errors.New("synthcap: empty capture file identifier")
	ErrPayloadTooLarge  = errors.New("synthcap: payload exceeds IPv4 total length")
	ErrInvalidDirection = errors.New("synthcap: invalid direction")
	ErrInvalidAddress   = errors.New("synthcap: invalid IPv4 address")

	// A record header was appended but the packet bytes behind it were not.
	// The capture file ends with a dangling 16-byte record header.
	ErrOrphanedRecord = errors.New("synthcap: record header appended without packet")

	// Configuration errors
	ErrConfigInvalid = errors.New("synthcap: invalid configuration")
)
