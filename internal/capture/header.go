package capture

import (
	"github.com/google/gopacket/layers"
)

// DefaultSnapLen is the global header's snaplen until a maximum packet size is configured.
const DefaultSnapLen uint32 = 65535

// writeGlobalHeader appends the 24-byte pcap preamble (magic 0xa1b2c3d4,
// version 2.4, zone 0, sigfigs 0, snaplen, LINKTYPE_IPV4) once per session.
// The flag is only set after a successful append, so a failed attempt is
// retried by the next write. Caller holds s.mu.
func (s *Session) writeGlobalHeader(snaplen uint32) error {
	if s.headerWritten {
		return nil
	}
	if err := s.pw.WriteFileHeader(snaplen, layers.LinkTypeIPv4); err != nil {
		return err
	}
	s.headerWritten = true
	return nil
}
