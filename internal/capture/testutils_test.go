package capture

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/require"
)

var errDiskFull = errors.New("disk full")

// memAppender keeps capture files in memory and can fail chosen appends.
type memAppender struct {
	mu    sync.Mutex
	files map[string]*bytes.Buffer
	calls map[string]int

	// failOn returns a non-nil error to fail the n-th (1-based) append to name.
	failOn func(name string, n int) error
}

func newMemAppender() *memAppender {
	return &memAppender{
		files: make(map[string]*bytes.Buffer),
		calls: make(map[string]int),
	}
}

func (m *memAppender) Append(name string, p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[name]++
	if m.failOn != nil {
		if err := m.failOn(name, m.calls[name]); err != nil {
			return err
		}
	}
	buf, ok := m.files[name]
	if !ok {
		buf = &bytes.Buffer{}
		m.files[name] = buf
	}
	buf.Write(p)
	return nil
}

func (m *memAppender) bytes(name string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if buf, ok := m.files[name]; ok {
		return append([]byte(nil), buf.Bytes()...)
	}
	return nil
}

func (m *memAppender) appendCalls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

// fixedSeeder hands out the same counters to every session.
func fixedSeeder(seq, ack uint32) Seeder {
	return SeederFunc(func() (uint32, uint32) { return seq, ack })
}

type record struct {
	ci   gopacket.CaptureInfo
	data []byte
}

// readCapture parses a capture file strictly by its declared lengths and
// fails the test on trailing or truncated bytes.
func readCapture(t *testing.T, data []byte) (*pcapgo.Reader, []record) {
	t.Helper()

	r, err := pcapgo.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, layers.LinkTypeIPv4, r.LinkType())

	var records []record
	for {
		pkt, ci, err := r.ReadPacketData()
		if err == io.EOF {
			break
		}
		require.NoError(t, err, "record %d", len(records))
		records = append(records, record{ci: ci, data: pkt})
	}
	return r, records
}

// decode parses a synthetic packet back into its IPv4 and TCP layers.
func decode(t *testing.T, data []byte) (*layers.IPv4, *layers.TCP) {
	t.Helper()

	p := gopacket.NewPacket(data, layers.LayerTypeIPv4, gopacket.Default)

	ip, ok := p.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.True(t, ok, "missing IPv4 layer")
	tcp, ok := p.Layer(layers.LayerTypeTCP).(*layers.TCP)
	require.True(t, ok, "missing TCP layer")
	return ip, tcp
}
