// Package capture encodes intercepted application-layer writes into pcap
// capture files. Each payload is wrapped in a synthetic IPv4/TCP packet whose
// sequence numbers advance per file and per direction, then appended to the
// file behind a pcap record header. Files are opened by identifier through
// an Appender; the first write to a file also emits the pcap global header.
package capture

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"firestige.xyz/synthcap/internal/core"
)

// Option configures a Writer.
type Option func(*Writer)

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// WithSeeder sets how new sessions draw their initial counters.
func WithSeeder(seeder Seeder) Option {
	return func(w *Writer) { w.seeder = seeder }
}

// WithAddressMode sets where synthetic IPv4 addresses come from.
func WithAddressMode(mode AddressMode) Option {
	return func(w *Writer) { w.mode = mode }
}

// WithMaxPacketSize is SetMaxPacketSize at construction time.
func WithMaxPacketSize(n uint32) Option {
	return func(w *Writer) { w.SetMaxPacketSize(n) }
}

// Writer is the single entry point for appending chunks to capture files.
// It is safe for concurrent use: writes to one file are serialized by that
// file's session lock, writes to different files proceed in parallel.
type Writer struct {
	registry *Registry
	seeder   Seeder
	mode     AddressMode
	now      func() time.Time
	snaplen  atomic.Uint32
}

// NewWriter creates a Writer persisting through appender.
func NewWriter(appender Appender, opts ...Option) *Writer {
	w := &Writer{
		mode: AddressFixed,
		now:  time.Now,
	}
	w.snaplen.Store(DefaultSnapLen)
	for _, opt := range opts {
		opt(w)
	}
	w.registry = NewRegistry(appender, w.seeder)
	return w
}

// SetMaxPacketSize sets the snaplen announced by global headers written from
// now on to n plus the synthetic frame overhead, saturating at MaxUint32.
func (w *Writer) SetMaxPacketSize(n uint32) {
	if n > math.MaxUint32-core.FrameOverhead {
		w.snaplen.Store(math.MaxUint32)
		return
	}
	w.snaplen.Store(n + core.FrameOverhead)
}

// SnapLen returns the snaplen used for new global headers.
func (w *Writer) SnapLen() uint32 {
	return w.snaplen.Load()
}

// Registry exposes the sessions owned by w.
func (w *Writer) Registry() *Registry {
	return w.registry
}

// Write frames c.Payload and appends it to c.File: the global header if the
// file has none yet, then the record header, then the packet.
//
// Invalid chunks are rejected before any state changes. Append failures are
// returned wrapped; when the record header made it to the file but the packet
// did not, the error also matches core.ErrOrphanedRecord and the file ends
// with a dangling record header. There are no retries.
func (w *Writer) Write(ctx context.Context, c core.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	src, dst, err := w.mode.endpoints(&c)
	if err != nil {
		return err
	}

	rec := NewRecordHeader(len(c.Payload), w.now())

	s := w.registry.GetOrCreate(c.File)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.out.reset()
	if err := s.writeGlobalHeader(w.SnapLen()); err != nil {
		return fmt.Errorf("write global header to %q: %w", c.File, s.out.cause(err))
	}

	pkt, err := s.buildPacket(c.Payload, c.Direction, src, dst, c.SrcPort, c.DstPort)
	if err != nil {
		return err
	}

	s.out.reset()
	if err := s.pw.WritePacket(rec, pkt); err != nil {
		cause := s.out.cause(err)
		if s.out.appended == 0 {
			// Nothing reached the file, the counters must not move either.
			s.rewind(c.Direction, len(c.Payload))
			return fmt.Errorf("append record header to %q: %w", c.File, cause)
		}
		return fmt.Errorf("append packet to %q: %w: %w", c.File, core.ErrOrphanedRecord, cause)
	}

	s.packets++
	s.bytes += uint64(len(c.Payload))
	s.lastWrite = rec.Timestamp
	return nil
}

// Sessions is a snapshot of every capture file written through w.
func (w *Writer) Sessions() []SessionInfo {
	return w.registry.Sessions()
}

// SessionCount returns the number of capture files known to w.
func (w *Writer) SessionCount() int {
	return w.registry.Len()
}
