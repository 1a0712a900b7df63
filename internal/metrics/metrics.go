// Package metrics implements Prometheus metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"firestige.xyz/synthcap/internal/core"
)

var (
	// ChunksWrittenTotal counts chunks appended to capture files by direction
	ChunksWrittenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synthcap_chunks_written_total",
			Help: "Total number of chunks appended to capture files",
		},
		[]string{"direction"},
	)

	// PayloadBytesTotal counts application payload bytes, without synthetic headers
	PayloadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synthcap_payload_bytes_total",
			Help: "Total number of payload bytes written",
		},
		[]string{"direction"},
	)

	// WriteErrorsTotal counts failed writes by error kind
	WriteErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "synthcap_write_errors_total",
			Help: "Total number of failed chunk writes",
		},
		[]string{"kind"},
	)

	// WriteLatencySeconds measures one Writer.Write call
	WriteLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "synthcap_write_latency_seconds",
			Help:    "Latency of chunk writes in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 20), // 1µs to ~1s
		},
	)

	// CaptureSessions tracks the number of capture files known to the registry
	CaptureSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "synthcap_capture_sessions",
			Help: "Current number of capture file sessions",
		},
	)
)

// Error kinds used as the WriteErrorsTotal label.
const (
	ErrorKindInvalid  = "invalid"
	ErrorKindOrphaned = "orphaned_record"
	ErrorKindIO       = "io"
)

// ErrorKind classifies a Writer.Write error.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, core.ErrEmptyIdentifier),
		errors.Is(err, core.ErrPayloadTooLarge),
		errors.Is(err, core.ErrInvalidDirection),
		errors.Is(err, core.ErrInvalidAddress):
		return ErrorKindInvalid
	case errors.Is(err, core.ErrOrphanedRecord):
		return ErrorKindOrphaned
	default:
		return ErrorKindIO
	}
}

// ObserveWrite records the outcome of one chunk write.
func ObserveWrite(dir core.Direction, payloadLen int, elapsed time.Duration, err error) {
	WriteLatencySeconds.Observe(elapsed.Seconds())
	if err != nil {
		WriteErrorsTotal.WithLabelValues(ErrorKind(err)).Inc()
		return
	}
	ChunksWrittenTotal.WithLabelValues(dir.String()).Inc()
	PayloadBytesTotal.WithLabelValues(dir.String()).Add(float64(payloadLen))
}
