package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"firestige.xyz/synthcap/internal/core"
)

var testTime = time.Date(2024, 5, 17, 8, 30, 15, 250_000_000, time.UTC)

func newTestWriter(app Appender, opts ...Option) *Writer {
	opts = append([]Option{
		WithClock(func() time.Time { return testTime }),
		WithSeeder(fixedSeeder(1000, 5000)),
	}, opts...)
	return NewWriter(app, opts...)
}

func sent(file, payload string) core.Chunk {
	return core.Chunk{File: file, Payload: []byte(payload), Direction: core.Sent, SrcPort: 50000, DstPort: 8443}
}

func received(file, payload string) core.Chunk {
	return core.Chunk{File: file, Payload: []byte(payload), Direction: core.Received, SrcPort: 8443, DstPort: 50000}
}

func TestWriteFirstPacketLayout(t *testing.T) {
	app := newMemAppender()
	w := newTestWriter(app)

	require.NoError(t, w.Write(context.Background(), sent("first.pcap", "hello")))

	data := app.bytes("first.pcap")
	require.Len(t, data, 24+16+45)

	global := []byte{
		0xD4, 0xC3, 0xB2, 0xA1, // magic
		0x02, 0x00, // major
		0x04, 0x00, // minor
		0x00, 0x00, 0x00, 0x00, // thiszone
		0x00, 0x00, 0x00, 0x00, // sigfigs
		0xFF, 0xFF, 0x00, 0x00, // snaplen 65535
		0xE4, 0x00, 0x00, 0x00, // LINKTYPE_IPV4 (228)
	}
	assert.Equal(t, global, data[:24])

	rec := data[24:40]
	assert.Equal(t, uint32(testTime.Unix()), binary.LittleEndian.Uint32(rec[0:4]))
	assert.Equal(t, uint32(250_000), binary.LittleEndian.Uint32(rec[4:8]))
	assert.Equal(t, uint32(45), binary.LittleEndian.Uint32(rec[8:12]))
	assert.Equal(t, uint32(45), binary.LittleEndian.Uint32(rec[12:16]))

	pkt := data[40:]
	assert.Equal(t, uint16(45), binary.BigEndian.Uint16(pkt[2:4]))
	assert.Equal(t, uint32(1000), binary.BigEndian.Uint32(pkt[24:28]), "seq is the initial seed")
	assert.Equal(t, uint32(5000), binary.BigEndian.Uint32(pkt[28:32]))
	assert.Equal(t, []byte("hello"), pkt[40:])

	// header append, record header append, packet append
	assert.Equal(t, 3, app.appendCalls("first.pcap"))
}

func TestWriteGlobalHeaderOnce(t *testing.T) {
	app := newMemAppender()
	w := newTestWriter(app)
	ctx := context.Background()

	require.NoError(t, w.Write(ctx, sent("once.pcap", "a")))
	afterOne := app.bytes("once.pcap")

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Write(ctx, received("once.pcap", "bb")))
	}
	data := app.bytes("once.pcap")

	assert.Equal(t, afterOne[:24], data[:24])
	assert.Equal(t, 1, bytes.Count(data, data[:4]), "magic must appear once")

	_, records := readCapture(t, data)
	assert.Len(t, records, 6)
	assert.True(t, w.Registry().Sessions()[0].HeaderWritten)
}

func TestWriteSequenceNumbersAdvance(t *testing.T) {
	app := newMemAppender()
	w := newTestWriter(app, WithSeeder(fixedSeeder(0xFFFFFFF0, 77)))
	ctx := context.Background()

	lengths := []int{0, 7, 1, 13, 0, 32}
	for _, n := range lengths {
		require.NoError(t, w.Write(ctx, sent("seq.pcap", string(bytes.Repeat([]byte{'s'}, n)))))
	}

	_, records := readCapture(t, app.bytes("seq.pcap"))
	require.Len(t, records, len(lengths))

	expected := uint32(0xFFFFFFF0)
	for i, r := range records {
		_, tcp := decode(t, r.data)
		assert.Equal(t, expected, tcp.Seq, "packet %d", i)
		assert.Equal(t, uint32(77), tcp.Ack, "packet %d", i)
		assert.Equal(t, lengths[i]+40, r.ci.CaptureLength)
		assert.Equal(t, lengths[i]+40, r.ci.Length)
		expected += uint32(lengths[i])
	}

	info := w.Registry().Sessions()[0]
	assert.Equal(t, expected, info.Seq)
	assert.Equal(t, uint32(77), info.Ack)
}

func TestWriteAcknowledgmentAdvancesOnReceive(t *testing.T) {
	app := newMemAppender()
	w := newTestWriter(app)
	ctx := context.Background()

	require.NoError(t, w.Write(ctx, sent("conv.pcap", "request")))    // seq 1000
	require.NoError(t, w.Write(ctx, received("conv.pcap", "reply!"))) // seq 5000, ack 1007
	require.NoError(t, w.Write(ctx, received("conv.pcap", "more")))   // seq 5006, ack 1007
	require.NoError(t, w.Write(ctx, sent("conv.pcap", "thanks")))     // seq 1007, ack 5010

	_, records := readCapture(t, app.bytes("conv.pcap"))
	require.Len(t, records, 4)

	want := []struct{ seq, ack uint32 }{
		{1000, 5000},
		{5000, 1007},
		{5006, 1007},
		{1007, 5010},
	}
	for i, r := range records {
		_, tcp := decode(t, r.data)
		assert.Equal(t, want[i].seq, tcp.Seq, "packet %d seq", i)
		assert.Equal(t, want[i].ack, tcp.Ack, "packet %d ack", i)
	}

	ip0, _ := decode(t, records[0].data)
	ip1, _ := decode(t, records[1].data)
	assert.True(t, ip0.SrcIP.Equal(LocalAddr))
	assert.True(t, ip1.SrcIP.Equal(RemoteAddr))
}

func TestWriteConcurrentSameFile(t *testing.T) {
	app := newMemAppender()
	w := NewWriter(app, WithSeeder(fixedSeeder(0, 0)))
	ctx := context.Background()

	const writers, perWriter = 16, 50
	var g errgroup.Group
	for id := 0; id < writers; id++ {
		g.Go(func() error {
			for i := 0; i < perWriter; i++ {
				// Payloads are filled with the writer id, so bytes from two
				// writers inside one record show up when parsing.
				n := 1 + (id*perWriter+i)%97
				c := core.Chunk{
					File:      "shared.pcap",
					Payload:   bytes.Repeat([]byte{byte(id)}, n),
					Direction: core.Sent,
					SrcPort:   uint16(10000 + id),
					DstPort:   8443,
				}
				if err := w.Write(ctx, c); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	_, records := readCapture(t, app.bytes("shared.pcap"))
	require.Len(t, records, writers*perWriter)

	var total uint32
	for i, r := range records {
		_, tcp := decode(t, r.data)
		id := int(tcp.SrcPort) - 10000
		require.Equal(t, bytes.Repeat([]byte{byte(id)}, len(tcp.Payload)), []byte(tcp.Payload), "record %d mixes writers", i)
		assert.Equal(t, total, tcp.Seq, "record %d", i)
		total += uint32(len(tcp.Payload))
	}
}

func TestWriteConcurrentDifferentFiles(t *testing.T) {
	app := newMemAppender()
	w := NewWriter(app)
	ctx := context.Background()

	files := []string{"left.pcap", "right.pcap"}
	var g errgroup.Group
	for _, f := range files {
		g.Go(func() error {
			for i := 0; i < 100; i++ {
				if err := w.Write(ctx, sent(f, fmt.Sprintf("%s-%d", f, i))); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for _, f := range files {
		_, records := readCapture(t, app.bytes(f))
		require.Len(t, records, 100, f)
		for i, r := range records {
			_, tcp := decode(t, r.data)
			assert.Equal(t, fmt.Sprintf("%s-%d", f, i), string(tcp.Payload))
		}
	}
	assert.Equal(t, 2, w.Registry().Len())
}

func TestWriteRoundTripExactLength(t *testing.T) {
	app := newMemAppender()
	w := newTestWriter(app)
	ctx := context.Background()

	payloads := []string{"", "x", "hello world", string(make([]byte, 1460))}
	expectedSize := 24
	for _, p := range payloads {
		require.NoError(t, w.Write(ctx, sent("rt.pcap", p)))
		expectedSize += 16 + 40 + len(p)
	}

	data := app.bytes("rt.pcap")
	assert.Len(t, data, expectedSize)

	r, records := readCapture(t, data)
	assert.Equal(t, DefaultSnapLen, r.Snaplen())
	require.Len(t, records, len(payloads))
	for i, rec := range records {
		assert.Equal(t, len(payloads[i])+40, len(rec.data))
		assert.True(t, rec.ci.Timestamp.Equal(testTime.Truncate(time.Microsecond)))
	}
}

func TestWriteMaxPacketSize(t *testing.T) {
	app := newMemAppender()
	w := newTestWriter(app, WithMaxPacketSize(1500))
	assert.Equal(t, uint32(1540), w.SnapLen())

	require.NoError(t, w.Write(context.Background(), sent("snap.pcap", "x")))
	r, _ := readCapture(t, app.bytes("snap.pcap"))
	assert.Equal(t, uint32(1540), r.Snaplen())

	w.SetMaxPacketSize(9000)
	require.NoError(t, w.Write(context.Background(), sent("snap2.pcap", "x")))
	r, _ = readCapture(t, app.bytes("snap2.pcap"))
	assert.Equal(t, uint32(9040), r.Snaplen())
}

func TestSetMaxPacketSizeSaturates(t *testing.T) {
	w := newTestWriter(newMemAppender())

	w.SetMaxPacketSize(math.MaxUint32 - 40)
	assert.Equal(t, uint32(math.MaxUint32), w.SnapLen())

	w.SetMaxPacketSize(math.MaxUint32 - 10)
	assert.Equal(t, uint32(math.MaxUint32), w.SnapLen())

	w.SetMaxPacketSize(math.MaxUint32)
	assert.Equal(t, uint32(math.MaxUint32), w.SnapLen())
}

func TestWriteRejectsInvalidChunks(t *testing.T) {
	app := newMemAppender()
	w := newTestWriter(app, WithAddressMode(AddressCaller))
	ctx := context.Background()

	tests := []struct {
		name  string
		chunk core.Chunk
		err   error
	}{
		{"empty file", core.Chunk{Direction: core.Sent, SrcAddr: "1.1.1.1", DstAddr: "2.2.2.2"}, core.ErrEmptyIdentifier},
		{"no direction", core.Chunk{File: "bad.pcap", SrcAddr: "1.1.1.1", DstAddr: "2.2.2.2"}, core.ErrInvalidDirection},
		{"too large", core.Chunk{File: "bad.pcap", Direction: core.Sent, Payload: make([]byte, core.MaxPayload+1), SrcAddr: "1.1.1.1", DstAddr: "2.2.2.2"}, core.ErrPayloadTooLarge},
		{"bad address", core.Chunk{File: "bad.pcap", Direction: core.Sent, SrcAddr: "example.com", DstAddr: "2.2.2.2"}, core.ErrInvalidAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, w.Write(ctx, tt.chunk), tt.err)
		})
	}

	assert.Nil(t, app.bytes("bad.pcap"))
	assert.Equal(t, 0, w.Registry().Len(), "rejected chunks must not create sessions")
}

func TestWriteCallerAddresses(t *testing.T) {
	app := newMemAppender()
	w := newTestWriter(app, WithAddressMode(AddressCaller))

	c := received("addr.pcap", "data")
	c.SrcAddr, c.DstAddr = "93.184.216.34", "192.168.1.20"
	require.NoError(t, w.Write(context.Background(), c))

	_, records := readCapture(t, app.bytes("addr.pcap"))
	ip, _ := decode(t, records[0].data)
	assert.Equal(t, "93.184.216.34", ip.SrcIP.String())
	assert.Equal(t, "192.168.1.20", ip.DstIP.String())
}

func TestWriteCancelledContext(t *testing.T) {
	app := newMemAppender()
	w := newTestWriter(app)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, w.Write(ctx, sent("c.pcap", "x")), context.Canceled)
	assert.Nil(t, app.bytes("c.pcap"))
}

func TestWriteGlobalHeaderFailureIsRetried(t *testing.T) {
	app := newMemAppender()
	app.failOn = func(name string, n int) error {
		if n == 1 {
			return errDiskFull
		}
		return nil
	}
	w := newTestWriter(app)
	ctx := context.Background()

	err := w.Write(ctx, sent("retry.pcap", "one"))
	assert.ErrorIs(t, err, errDiskFull)
	info := w.Registry().Sessions()[0]
	assert.False(t, info.HeaderWritten)
	assert.Equal(t, uint32(1000), info.Seq, "failed write must not consume sequence space")

	require.NoError(t, w.Write(ctx, sent("retry.pcap", "two")))
	_, records := readCapture(t, app.bytes("retry.pcap"))
	require.Len(t, records, 1)
	_, tcp := decode(t, records[0].data)
	assert.Equal(t, uint32(1000), tcp.Seq)
	assert.Equal(t, "two", string(tcp.Payload))
}

func TestWriteRecordHeaderFailureRewinds(t *testing.T) {
	app := newMemAppender()
	w := newTestWriter(app)
	ctx := context.Background()

	require.NoError(t, w.Write(ctx, sent("rh.pcap", "ok")))

	// calls: 1 global, 2 record, 3 packet, 4 record (fails)
	app.failOn = func(name string, n int) error {
		if n == 4 {
			return errDiskFull
		}
		return nil
	}
	err := w.Write(ctx, sent("rh.pcap", "lost"))
	assert.ErrorIs(t, err, errDiskFull)
	assert.False(t, errors.Is(err, core.ErrOrphanedRecord))

	info := w.Registry().Sessions()[0]
	assert.Equal(t, uint32(1002), info.Seq)
	assert.Equal(t, uint64(1), info.Packets)

	_, records := readCapture(t, app.bytes("rh.pcap"))
	assert.Len(t, records, 1)
}

func TestWritePacketFailureLeavesOrphanedRecord(t *testing.T) {
	app := newMemAppender()
	app.failOn = func(name string, n int) error {
		if n == 3 { // global header, record header, then the packet fails
			return errDiskFull
		}
		return nil
	}
	w := newTestWriter(app)
	ctx := context.Background()

	err := w.Write(ctx, sent("orphan.pcap", "abc"))
	assert.ErrorIs(t, err, errDiskFull)
	assert.ErrorIs(t, err, core.ErrOrphanedRecord)

	data := app.bytes("orphan.pcap")
	assert.Len(t, data, 24+16, "file ends with a dangling record header")

	// The lock was released and the sequence space stays consumed.
	require.NoError(t, w.Write(ctx, sent("orphan.pcap", "def")))
	info := w.Registry().Sessions()[0]
	assert.Equal(t, uint32(1006), info.Seq)
}

func TestSessionsSnapshot(t *testing.T) {
	app := newMemAppender()
	w := newTestWriter(app)
	ctx := context.Background()

	require.NoError(t, w.Write(ctx, sent("b.pcap", "1234")))
	require.NoError(t, w.Write(ctx, received("a.pcap", "12")))
	require.NoError(t, w.Write(ctx, received("a.pcap", "345")))

	want := []SessionInfo{
		{Name: "a.pcap", HeaderWritten: true, Seq: 1000, Ack: 5005, Packets: 2, PayloadBytes: 5, LastWrite: testTime},
		{Name: "b.pcap", HeaderWritten: true, Seq: 1004, Ack: 5000, Packets: 1, PayloadBytes: 4, LastWrite: testTime},
	}
	if diff := cmp.Diff(want, w.Registry().Sessions()); diff != "" {
		t.Errorf("Sessions() mismatch (-want +got):\n%s", diff)
	}
}
