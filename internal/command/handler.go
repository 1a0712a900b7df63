// Package command implements the local control plane: JSON-RPC 2.0 over a
// Unix domain socket, used by interceptors to hand over chunks and by the
// CLI to query and stop the daemon.
package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"firestige.xyz/synthcap/internal/capture"
	"firestige.xyz/synthcap/internal/core"
	"firestige.xyz/synthcap/internal/log"
	"firestige.xyz/synthcap/internal/metrics"
)

// Version is reported by daemon_status.
const Version = "0.1.0"

// Method names.
const (
	MethodCaptureWrite   = "capture_write"
	MethodCaptureStats   = "capture_stats"
	MethodDaemonStatus   = "daemon_status"
	MethodDaemonShutdown = "daemon_shutdown"
	MethodPing           = "ping"
)

// CaptureService is the part of capture.Writer the handler drives.
type CaptureService interface {
	Write(ctx context.Context, c core.Chunk) error
	Sessions() []capture.SessionInfo
	SessionCount() int
}

// CommandHandler handles control plane commands.
type CommandHandler struct {
	capture      CaptureService
	shutdownFunc func() // Called by daemon_shutdown to trigger graceful stop
	startTime    time.Time
}

// NewCommandHandler creates a new command handler.
func NewCommandHandler(svc CaptureService) *CommandHandler {
	return &CommandHandler{
		capture:   svc,
		startTime: time.Now(),
	}
}

// SetShutdownFunc sets the callback invoked by the daemon_shutdown command.
func (h *CommandHandler) SetShutdownFunc(fn func()) {
	h.shutdownFunc = fn
}

// Command represents a control plane command.
type Command struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     string          `json:"id"`
}

// Response represents a command response.
type Response struct {
	ID     string      `json:"id"`               // matches request ID
	Result interface{} `json:"result,omitempty"` // success result
	Error  *ErrorInfo  `json:"error,omitempty"`  // error info if failed
}

// ErrorInfo represents an error in the response.
type ErrorInfo struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorInfo) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Error codes
const (
	ErrCodeParseError     = -32700 // Invalid JSON
	ErrCodeInvalidRequest = -32600 // Invalid request object
	ErrCodeMethodNotFound = -32601 // Method not found
	ErrCodeInvalidParams  = -32602 // Invalid method parameters
	ErrCodeInternalError  = -32603 // Internal error
)

// WriteParams carries one intercepted write. Payload travels base64-encoded.
type WriteParams struct {
	File      string         `json:"file"`
	Payload   []byte         `json:"payload"`
	Direction core.Direction `json:"direction"`
	SrcAddr   string         `json:"src_addr,omitempty"`
	DstAddr   string         `json:"dst_addr,omitempty"`
	SrcPort   uint16         `json:"src_port"`
	DstPort   uint16         `json:"dst_port"`
}

// Chunk converts the params into the capture input.
func (p WriteParams) Chunk() core.Chunk {
	return core.Chunk{
		File:      p.File,
		Payload:   p.Payload,
		Direction: p.Direction,
		SrcAddr:   p.SrcAddr,
		DstAddr:   p.DstAddr,
		SrcPort:   p.SrcPort,
		DstPort:   p.DstPort,
	}
}

// WriteResult acknowledges a capture_write.
type WriteResult struct {
	File  string `json:"file"`
	Bytes int    `json:"bytes"`
}

// StatsResult lists every capture file session.
type StatsResult struct {
	Sessions []capture.SessionInfo `json:"sessions"`
}

// StatusResult describes the running daemon.
type StatusResult struct {
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Sessions      int    `json:"sessions"`
}

// Handle processes a command and returns a response.
func (h *CommandHandler) Handle(ctx context.Context, cmd Command) Response {
	// capture_write is the hot path, keep it out of info logs.
	if cmd.Method != MethodCaptureWrite && cmd.Method != MethodPing {
		log.GetLogger().WithFields(map[string]interface{}{
			"method": cmd.Method,
			"id":     cmd.ID,
		}).Info("handling command")
	}

	switch cmd.Method {
	case MethodCaptureWrite:
		return h.handleCaptureWrite(ctx, cmd)
	case MethodCaptureStats:
		return h.handleCaptureStats(ctx, cmd)
	case MethodDaemonStatus:
		return h.handleDaemonStatus(ctx, cmd)
	case MethodDaemonShutdown:
		return h.handleDaemonShutdown(ctx, cmd)
	case MethodPing:
		return Response{ID: cmd.ID, Result: "pong"}
	default:
		return errorResponse(cmd.ID, ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", cmd.Method))
	}
}

func errorResponse(id string, code int, msg string) Response {
	return Response{
		ID:    id,
		Error: &ErrorInfo{Code: code, Message: msg},
	}
}

// handleCaptureWrite handles capture_write command.
func (h *CommandHandler) handleCaptureWrite(ctx context.Context, cmd Command) Response {
	var params WriteParams
	if err := json.Unmarshal(cmd.Params, &params); err != nil {
		return errorResponse(cmd.ID, ErrCodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}

	start := time.Now()
	err := h.capture.Write(ctx, params.Chunk())
	metrics.ObserveWrite(params.Direction, len(params.Payload), time.Since(start), err)
	metrics.CaptureSessions.Set(float64(h.capture.SessionCount()))

	if err != nil {
		logger := log.GetLogger().WithError(err).WithField("file", params.File)
		if metrics.ErrorKind(err) == metrics.ErrorKindInvalid {
			logger.Debug("rejected chunk")
			return errorResponse(cmd.ID, ErrCodeInvalidParams, err.Error())
		}
		logger.Error("capture write failed")
		return errorResponse(cmd.ID, ErrCodeInternalError, err.Error())
	}

	if l := log.GetLogger(); l.IsDebugEnabled() {
		l.WithFields(map[string]interface{}{
			"file":      params.File,
			"direction": params.Direction.String(),
			"bytes":     len(params.Payload),
		}).Debug("chunk written")
	}

	return Response{
		ID:     cmd.ID,
		Result: WriteResult{File: params.File, Bytes: len(params.Payload)},
	}
}

// handleCaptureStats returns per-file counters.
func (h *CommandHandler) handleCaptureStats(_ context.Context, cmd Command) Response {
	return Response{
		ID:     cmd.ID,
		Result: StatsResult{Sessions: h.capture.Sessions()},
	}
}

// handleDaemonStatus returns daemon status information.
func (h *CommandHandler) handleDaemonStatus(_ context.Context, cmd Command) Response {
	return Response{
		ID: cmd.ID,
		Result: StatusResult{
			Version:       Version,
			UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
			Sessions:      h.capture.SessionCount(),
		},
	}
}

// handleDaemonShutdown triggers a graceful stop after the response is sent.
func (h *CommandHandler) handleDaemonShutdown(_ context.Context, cmd Command) Response {
	if h.shutdownFunc == nil {
		return errorResponse(cmd.ID, ErrCodeInternalError, "shutdown handler not registered")
	}

	log.GetLogger().Info("daemon_shutdown command received, initiating graceful shutdown")
	go h.shutdownFunc()

	return Response{
		ID: cmd.ID,
		Result: map[string]interface{}{
			"status": "shutting_down",
		},
	}
}

// decodeResult converts a generic Result back into a typed value.
func decodeResult(resp *Response, v interface{}) error {
	if resp.Error != nil {
		return resp.Error
	}
	data, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to re-encode result: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode result: %w", err)
	}
	return nil
}

// IsRPCError reports whether err came from the remote handler.
func IsRPCError(err error, code int) bool {
	var info *ErrorInfo
	return errors.As(err, &info) && info.Code == code
}
