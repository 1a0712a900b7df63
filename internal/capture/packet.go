package capture

import (
	"fmt"
	"net"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/synthcap/internal/core"
)

// Placeholder endpoints used in fixed address mode.
var (
	LocalAddr  = net.IPv4(49, 49, 49, 49).To4()
	RemoteAddr = net.IPv4(50, 50, 50, 50).To4()
)

// AddressMode decides where synthetic IPv4 addresses come from.
type AddressMode string

const (
	// AddressFixed ignores caller addresses: sent packets go LocalAddr -> RemoteAddr,
	// received packets the other way round.
	AddressFixed AddressMode = "fixed"
	// AddressCaller uses the caller's source and destination as given.
	AddressCaller AddressMode = "caller"
)

// ParseAddressMode validates a configured address mode. Empty means fixed.
func ParseAddressMode(s string) (AddressMode, error) {
	switch m := AddressMode(strings.ToLower(s)); m {
	case AddressFixed, AddressCaller:
		return m, nil
	case "":
		return AddressFixed, nil
	default:
		return "", fmt.Errorf("%w: unknown address mode %q", core.ErrConfigInvalid, s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *AddressMode) UnmarshalText(text []byte) error {
	parsed, err := ParseAddressMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// endpoints picks the IPv4 source and destination for c.
func (m AddressMode) endpoints(c *core.Chunk) (src, dst net.IP, err error) {
	if m != AddressCaller {
		if c.Direction == core.Received {
			return RemoteAddr, LocalAddr, nil
		}
		return LocalAddr, RemoteAddr, nil
	}

	if src, err = parseIPv4(c.SrcAddr); err != nil {
		return nil, nil, err
	}
	if dst, err = parseIPv4(c.DstAddr); err != nil {
		return nil, nil, err
	}
	return src, dst, nil
}

func parseIPv4(s string) (net.IP, error) {
	ip := net.ParseIP(strings.TrimSpace(s)).To4()
	if ip == nil {
		return nil, fmt.Errorf("%w: %q", core.ErrInvalidAddress, s)
	}
	return ip, nil
}

var serializeOpts = gopacket.SerializeOptions{
	FixLengths:       true,
	ComputeChecksums: false,
}

// buildPacket frames payload as IPv4 | TCP | payload. The header values
// mimic an established connection: DF set, TTL 255, PSH+ACK, full window,
// both checksums left zero. The session counter of the sending side moves
// past the payload. The returned slice is freshly allocated.
// Caller holds s.mu.
func (s *Session) buildPacket(payload []byte, dir core.Direction, src, dst net.IP, srcPort, dstPort uint16) ([]byte, error) {
	seq, ack := s.roles(dir)

	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		Flags:    layers.IPv4DontFragment,
		TTL:      255,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    src,
		DstIP:    dst,
	}
	tcp := &layers.TCP{
		SrcPort:    layers.TCPPort(srcPort),
		DstPort:    layers.TCPPort(dstPort),
		Seq:        seq,
		Ack:        ack,
		DataOffset: 5,
		PSH:        true,
		ACK:        true,
		Window:     0xFFFF,
	}

	buf := gopacket.NewSerializeBufferExpectedSize(core.FrameOverhead+len(payload), 0)
	if err := gopacket.SerializeLayers(buf, serializeOpts, ip, tcp, gopacket.Payload(payload)); err != nil {
		return nil, fmt.Errorf("serialize packet: %w", err)
	}

	s.advance(dir, len(payload))
	return buf.Bytes(), nil
}
