// Package core defines core types with zero external dependencies.
package core

import (
	"fmt"
	"strings"
)

// Synthetic frame layout.
const (
	IPv4HeaderLen = 20
	TCPHeaderLen  = 20

	// FrameOverhead is the size of the synthetic IPv4 + TCP headers prepended to every payload.
	FrameOverhead = IPv4HeaderLen + TCPHeaderLen

	// MaxPayload keeps payload + FrameOverhead inside the 16-bit IPv4 total length.
	MaxPayload = 0xFFFF - FrameOverhead
)

// Direction tells whether a chunk left the intercepted endpoint or arrived at it.
type Direction uint8

const (
	Sent Direction = iota + 1
	Received
)

// ParseDirection accepts "sent"/"received" plus the short forms "out"/"in".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sent", "send", "out":
		return Sent, nil
	case "received", "recv", "in":
		return Received, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDirection, s)
	}
}

// Valid reports whether d is Sent or Received.
func (d Direction) Valid() bool {
	return d == Sent || d == Received
}

func (d Direction) String() string {
	switch d {
	case Sent:
		return "sent"
	case Received:
		return "received"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDirection, uint8(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Chunk is one intercepted application-layer write, addressed to a capture file.
type Chunk struct {
	File      string // capture file identifier
	Payload   []byte
	Direction Direction
	SrcAddr   string // dotted IPv4, only honored in caller address mode
	DstAddr   string
	SrcPort   uint16
	DstPort   uint16
}

// Validate checks the fields every write needs, independent of address mode.
func (c *Chunk) Validate() error {
	if c.File == "" {
		return ErrEmptyIdentifier
	}
	if !c.Direction.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidDirection, uint8(c.Direction))
	}
	if len(c.Payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(c.Payload), MaxPayload)
	}
	return nil
}
