package capture

import (
	"time"

	"github.com/google/gopacket"

	"firestige.xyz/synthcap/internal/core"
)

// RecordHeader describes the 16-byte pcap record header preceding each packet:
// ts_sec and ts_usec from Timestamp, incl_len from CaptureLength and orig_len
// from Length, all little-endian.
type RecordHeader = gopacket.CaptureInfo

// NewRecordHeader builds the record header for a payload of payloadLen bytes
// captured at now. Both lengths include the synthetic IPv4 and TCP headers.
func NewRecordHeader(payloadLen int, now time.Time) RecordHeader {
	n := payloadLen + core.FrameOverhead
	return RecordHeader{
		Timestamp:     now,
		CaptureLength: n,
		Length:        n,
	}
}
