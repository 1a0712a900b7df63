package capture

import (
	"sync"
	"time"

	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/synthcap/internal/core"
)

// Session is the mutable state of one capture file. All fields after name
// are guarded by mu; the registry owns every Session it hands out.
type Session struct {
	name string

	mu            sync.Mutex
	headerWritten bool
	seq           uint32 // next sequence number of the local endpoint
	ack           uint32 // next sequence number of the remote endpoint

	out *appendWriter
	pw  *pcapgo.Writer

	packets   uint64
	bytes     uint64
	lastWrite time.Time
}

// SessionInfo is a point-in-time copy of a session's state.
type SessionInfo struct {
	Name          string    `json:"name"`
	HeaderWritten bool      `json:"header_written"`
	Seq           uint32    `json:"seq"`
	Ack           uint32    `json:"ack"`
	Packets       uint64    `json:"packets"`
	PayloadBytes  uint64    `json:"payload_bytes"`
	LastWrite     time.Time `json:"last_write"`
}

func newSession(name string, seq, ack uint32, appender Appender) *Session {
	out := &appendWriter{name: name, appender: appender}
	return &Session{
		name: name,
		seq:  seq,
		ack:  ack,
		out:  out,
		pw:   pcapgo.NewWriter(out),
	}
}

// Name returns the capture file identifier.
func (s *Session) Name() string {
	return s.name
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		Name:          s.name,
		HeaderWritten: s.headerWritten,
		Seq:           s.seq,
		Ack:           s.ack,
		Packets:       s.packets,
		PayloadBytes:  s.bytes,
		LastWrite:     s.lastWrite,
	}
}

// roles returns the sequence and acknowledgment numbers for a packet
// travelling in direction dir.
func (s *Session) roles(dir core.Direction) (seq, ack uint32) {
	if dir == core.Received {
		return s.ack, s.seq
	}
	return s.seq, s.ack
}

// advance moves the sender's counter past n payload bytes, mod 2^32.
func (s *Session) advance(dir core.Direction, n int) {
	if dir == core.Received {
		s.ack += uint32(n)
		return
	}
	s.seq += uint32(n)
}

// rewind undoes advance.
func (s *Session) rewind(dir core.Direction, n int) {
	if dir == core.Received {
		s.ack -= uint32(n)
		return
	}
	s.seq -= uint32(n)
}
