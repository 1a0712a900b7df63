// Package daemon implements the daemon lifecycle manager.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"firestige.xyz/synthcap/internal/capture"
	"firestige.xyz/synthcap/internal/command"
	"firestige.xyz/synthcap/internal/config"
	"firestige.xyz/synthcap/internal/core"
	logpkg "firestige.xyz/synthcap/internal/log"
	"firestige.xyz/synthcap/internal/metrics"
)

// Daemon owns the capture writer and the servers exposing it.
type Daemon struct {
	// Configuration
	config     *config.GlobalConfig
	configPath string
	socketPath string
	pidFile    string

	// Core components
	writer        *capture.Writer
	cmdHandler    *command.CommandHandler
	udsServer     *command.UDSServer
	udsDone       chan struct{}
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	stopOnce     sync.Once
}

// New creates a new Daemon instance. Empty socketPath or pidFile fall back
// to the configured control.socket and control.pid_file.
func New(configPath, socketPath, pidFile string) (*Daemon, error) {
	globalConfig, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if socketPath == "" {
		socketPath = globalConfig.Control.Socket
	}
	if pidFile == "" {
		pidFile = globalConfig.Control.PIDFile
	}

	d := &Daemon{
		config:       globalConfig,
		configPath:   configPath,
		socketPath:   socketPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}, 1),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())

	return d, nil
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	logpkg.GetLogger().WithFields(map[string]interface{}{
		"version":    command.Version,
		"config":     d.configPath,
		"socket":     d.socketPath,
		"output_dir": d.config.Capture.OutputDir,
	}).Info("starting synthcap daemon")

	// 2. Build the capture writer
	w, err := NewWriter(d.config.Capture)
	if err != nil {
		return fmt.Errorf("failed to create capture writer: %w", err)
	}
	d.writer = w

	// 3. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 4. Start metrics server
	if err := d.startMetrics(); err != nil {
		d.removePIDFile()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 5. Command handler, with daemon_shutdown wired to Run
	d.cmdHandler = command.NewCommandHandler(d.writer)
	d.cmdHandler.SetShutdownFunc(func() {
		logpkg.GetLogger().Info("shutdown triggered via daemon_shutdown command")
		d.TriggerShutdown()
	})

	// 6. Start UDS server for interceptors and CLI
	d.udsServer = command.NewUDSServer(d.socketPath, d.cmdHandler)
	d.udsDone = make(chan struct{})
	startErr := make(chan error, 1)
	go func() {
		defer close(d.udsDone)
		if err := d.udsServer.Start(d.ctx); err != nil && !errors.Is(err, context.Canceled) {
			startErr <- err
		}
	}()

	select {
	case <-d.udsServer.Ready():
	case err := <-startErr:
		d.stopMetrics()
		d.removePIDFile()
		return fmt.Errorf("failed to start uds server: %w", err)
	}

	logpkg.GetLogger().Info("daemon started successfully")
	return nil
}

// NewWriter builds the capture writer described by cfg.
func NewWriter(cfg config.CaptureConfig) (*capture.Writer, error) {
	appender, err := capture.NewFileAppender(cfg.OutputDir)
	if err != nil {
		return nil, err
	}
	seeder, err := capture.NewSeeder(cfg.SeedMode)
	if err != nil {
		return nil, err
	}

	opts := []capture.Option{
		capture.WithSeeder(seeder),
		capture.WithAddressMode(cfg.AddressMode),
	}
	if cfg.MaxPacketSize > 0 {
		opts = append(opts, capture.WithMaxPacketSize(cfg.MaxPacketSize))
	}
	return capture.NewWriter(appender, opts...), nil
}

// Writer exposes the capture writer, nil before Start.
func (d *Daemon) Writer() *capture.Writer {
	return d.writer
}

// SocketPath returns the control socket in use.
func (d *Daemon) SocketPath() string {
	return d.socketPath
}

// Stop performs graceful shutdown of all daemon components. Safe to call
// more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	logger := logpkg.GetLogger()
	logger.Info("initiating graceful shutdown")

	// 1. Stop accepting chunks; in-flight writes finish first
	if d.udsServer != nil {
		logger.Info("stopping uds server")
		d.udsServer.Stop()
	}

	// 2. Stop metrics server
	d.stopMetrics()

	// 3. Cancel context to signal all goroutines
	d.cancel()
	if d.udsDone != nil {
		<-d.udsDone
	}

	// 4. Unregister signal handler
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 5. Remove PID file
	if err := d.removePIDFile(); err != nil {
		logger.WithError(err).Error("error removing PID file")
	}

	if d.writer != nil {
		for _, s := range d.writer.Sessions() {
			logger.WithFields(map[string]interface{}{
				"file":    s.Name,
				"packets": s.Packets,
				"bytes":   s.PayloadBytes,
			}).Info("capture file closed")
		}
	}

	logger.Info("daemon stopped gracefully")
}

// Run runs the daemon main loop, blocking until shutdown is triggered.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. daemon_shutdown command via UDS
//  3. SIGHUP triggers config reload
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	logger := logpkg.GetLogger()
	logger.Info("daemon running, waiting for signals or commands")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				logger.WithField("signal", sig.String()).Info("received shutdown signal")
				d.Stop()
				return nil

			case syscall.SIGHUP:
				logger.Info("received reload signal")
				if err := d.Reload(); err != nil {
					logger.WithError(err).Error("failed to reload config")
				}
			}

		case <-d.shutdownChan:
			logger.Info("shutdown triggered by command")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			logger.WithError(d.ctx.Err()).Info("context cancelled")
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// Reload re-reads the configuration file.
// Hot-reloadable: log level/format/outputs, capture.max_packet_size (applies
// to files whose global header is not written yet).
// Cold (requires restart): capture.output_dir, address and seed modes,
// control socket, metrics listen address.
func (d *Daemon) Reload() error {
	logger := logpkg.GetLogger()
	logger.WithField("path", d.configPath).Info("reloading configuration")

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}

	old := d.config
	hotReloaded := []string{}

	// 1. Re-initialize logging with new config
	d.config = newConfig
	if err := d.initLogging(); err != nil {
		logger.WithError(err).Error("failed to reinitialize logging")
	} else if newConfig.Log != old.Log {
		hotReloaded = append(hotReloaded, "log")
	}

	// 2. Snaplen for headers written from now on
	if newConfig.Capture.MaxPacketSize != old.Capture.MaxPacketSize && d.writer != nil {
		if newConfig.Capture.MaxPacketSize > 0 {
			d.writer.SetMaxPacketSize(newConfig.Capture.MaxPacketSize)
		} else {
			d.writer.SetMaxPacketSize(capture.DefaultSnapLen - core.FrameOverhead)
		}
		hotReloaded = append(hotReloaded, "capture.max_packet_size")
	}

	// 3. Warn about cold-reload items that changed
	requiresRestart := []string{}
	if newConfig.Capture.OutputDir != old.Capture.OutputDir {
		requiresRestart = append(requiresRestart, "capture.output_dir")
	}
	if newConfig.Capture.AddressMode != old.Capture.AddressMode {
		requiresRestart = append(requiresRestart, "capture.address_mode")
	}
	if newConfig.Capture.SeedMode != old.Capture.SeedMode {
		requiresRestart = append(requiresRestart, "capture.seed_mode")
	}
	if newConfig.Metrics != old.Metrics {
		requiresRestart = append(requiresRestart, "metrics")
	}

	logpkg.GetLogger().WithFields(map[string]interface{}{
		"hot_reloaded":     hotReloaded,
		"requires_restart": requiresRestart,
	}).Info("configuration reloaded")

	return nil
}

// TriggerShutdown triggers graceful shutdown from external caller (e.g., daemon_shutdown command).
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	logpkg.GetLogger().WithFields(map[string]interface{}{
		"level":  d.config.Log.Level,
		"format": d.config.Log.Format,
	}).Debug("logging initialized")
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		logpkg.GetLogger().Info("metrics server disabled")
		return nil
	}

	s := metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := s.Start(d.ctx); err != nil {
		return err
	}
	d.metricsServer = s
	return nil
}

func (d *Daemon) stopMetrics() {
	if d.metricsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.config.Control.ShutdownTimeout)
	defer cancel()
	if err := d.metricsServer.Stop(ctx); err != nil {
		logpkg.GetLogger().WithError(err).Error("error stopping metrics server")
	}
	d.metricsServer = nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	logpkg.GetLogger().WithFields(map[string]interface{}{"path": d.pidFile, "pid": pid}).Debug("PID file written")
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	return nil
}
