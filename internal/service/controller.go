// Package service owns the inference server process and its port. The
// port is a singleton resource: exactly one Controller exists per run,
// and it fully vacates the port before every Start.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"
)

const (
	// DefaultProbeAttempts bounds the readiness loop (~60s at 1s cadence)
	DefaultProbeAttempts = 60

	// DefaultProbeInterval is the cadence of readiness probes
	DefaultProbeInterval = 1 * time.Second

	// DefaultSettleDelay is how long to wait after the first successful
	// probe. The server accepts connections before its internal queues
	// are warm, so a bare connectivity probe is not enough.
	DefaultSettleDelay = 30 * time.Second

	// DefaultStopGrace is how long to wait after SIGTERM before SIGKILL
	DefaultStopGrace = 5 * time.Second
)

// Config describes one server launch
type Config struct {
	Binary      string
	Model       string
	Host        string
	Port        int
	ContextSize int
	Threads     int
	BatchSize   int
	Width       int // parallel request slots (-np)
	LogPath     string

	ProbeAttempts int
	ProbeInterval time.Duration
	SettleDelay   time.Duration
	StopGrace     time.Duration
}

func (c *Config) baseURL() string {
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// PortFreer reclaims a TCP port from whatever holds it
type PortFreer func(ctx context.Context, port int) error

// instance is one launched server process
type instance struct {
	cmd     *exec.Cmd
	done    chan error // closed-over cmd.Wait result
	logFile *os.File
	grace   time.Duration
	port    int
}

// Controller starts, probes and stops the inference server process
type Controller struct {
	logger   *slog.Logger
	client   *http.Client
	freePort PortFreer

	mu   sync.Mutex
	inst *instance
}

// Option configures the controller
type Option func(*Controller)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithHTTPClient sets the probe HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Controller) {
		c.client = client
	}
}

// WithPortFreer sets the port reclaim function
func WithPortFreer(f PortFreer) Option {
	return func(c *Controller) {
		c.freePort = f
	}
}

// New creates a controller
func New(opts ...Option) *Controller {
	c := &Controller{
		logger: slog.Default(),
		client: &http.Client{Timeout: 2 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Running reports whether a server instance is currently held
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inst != nil
}

// Start launches the server and blocks until it is ready. The target
// port is force-freed first (best-effort; a failure here is logged and
// the server's own bind error surfaces any real conflict). Returns
// ErrStartupFailed if the probe ceiling is exhausted; in that case the
// launched process is killed and the port freed before returning.
func (c *Controller) Start(ctx context.Context, cfg Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inst != nil {
		return fmt.Errorf("server already running on port %d", c.inst.port)
	}

	if _, err := os.Stat(cfg.Binary); err != nil {
		return fmt.Errorf("%w: %s", ErrBinaryNotFound, cfg.Binary)
	}

	applyDefaults(&cfg)

	if c.freePort != nil {
		if err := c.freePort(ctx, cfg.Port); err != nil {
			c.logger.Debug("port free attempt", "port", cfg.Port, "error", err)
		}
	}

	inst, err := c.launch(cfg)
	if err != nil {
		return err
	}
	c.inst = inst

	c.logger.Info("server launched",
		"binary", cfg.Binary,
		"pid", inst.cmd.Process.Pid,
		"port", cfg.Port,
		"width", cfg.Width)

	if err := c.awaitReady(ctx, cfg, inst); err != nil {
		c.stopLocked(ctx)
		return err
	}

	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.ProbeAttempts <= 0 {
		cfg.ProbeAttempts = DefaultProbeAttempts
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay // negative disables the settle wait
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
}

func (c *Controller) launch(cfg Config) (*instance, error) {
	args := []string{
		"-m", cfg.Model,
		"-c", strconv.Itoa(cfg.ContextSize),
		"-t", strconv.Itoa(cfg.Threads),
		"-b", strconv.Itoa(cfg.BatchSize),
		"-np", strconv.Itoa(cfg.Width),
		"--host", cfg.Host,
		"--port", strconv.Itoa(cfg.Port),
	}

	cmd := exec.Command(cfg.Binary, args...)

	var logFile *os.File
	if cfg.LogPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0755); err == nil {
			logFile, _ = os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		}
	}
	if logFile != nil {
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			logFile.Close()
		}
		return nil, fmt.Errorf("failed to launch server: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	return &instance{
		cmd:     cmd,
		done:    done,
		logFile: logFile,
		grace:   cfg.StopGrace,
		port:    cfg.Port,
	}, nil
}

// awaitReady polls the health surface up to the probe ceiling, then
// imposes the settle delay once the server answers.
func (c *Controller) awaitReady(ctx context.Context, cfg Config, inst *instance) error {
	base := cfg.baseURL()

	for attempt := 1; attempt <= cfg.ProbeAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-inst.done:
			inst.done <- err // keep the exit result for the reap in stopLocked
			return fmt.Errorf("%w: server exited during startup: %v", ErrStartupFailed, err)
		default:
		}

		if c.probe(ctx, base) {
			c.logger.Info("server ready", "port", cfg.Port, "probes", attempt)
			if cfg.SettleDelay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(cfg.SettleDelay):
				}
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.ProbeInterval):
		}
	}

	return fmt.Errorf("%w: no response after %d probes", ErrStartupFailed, cfg.ProbeAttempts)
}

// probe succeeds when either the health path or the bare root answers
// with any HTTP response.
func (c *Controller) probe(ctx context.Context, base string) bool {
	for _, path := range []string{"/health", "/"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
		if err != nil {
			continue
		}
		resp, err := c.client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		return true
	}
	return false
}

// Stop terminates the current instance: SIGTERM, a bounded grace wait,
// SIGKILL escalation, then a best-effort port free. Idempotent: safe
// to call twice or on a controller that never started.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked(ctx)
	return nil
}

func (c *Controller) stopLocked(ctx context.Context) {
	inst := c.inst
	if inst == nil {
		return
	}
	c.inst = nil

	pid := inst.cmd.Process.Pid
	if err := inst.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already dead; still reap below
		c.logger.Debug("sigterm", "pid", pid, "error", err)
	}

	select {
	case <-inst.done:
	case <-time.After(inst.grace):
		c.logger.Warn("server did not exit, escalating to SIGKILL", "pid", pid)
		_ = inst.cmd.Process.Kill()
		<-inst.done
	}

	if inst.logFile != nil {
		inst.logFile.Close()
	}

	if c.freePort != nil {
		if err := c.freePort(ctx, inst.port); err != nil {
			c.logger.Debug("port free after stop", "port", inst.port, "error", err)
		}
	}

	c.logger.Info("server stopped", "pid", pid, "port", inst.port)
}
