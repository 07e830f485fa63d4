// Package connwatch tracks whether the language-model backend is
// reachable. A Watcher probes the backend on a schedule, retries with
// exponential backoff while it is down and reports every change of
// state, which hermitd feeds to its metrics and MQTT status.
//
// This is distinct from httpkit's transport-level retry, which handles
// sub-second transient dial errors. connwatch covers outages that last
// seconds to hours: a local Ollama that was not started yet, a laptop
// that went offline, a provider having a bad afternoon.
//
// Generation never waits on the watcher. A request sent while the
// backend is down fails on its own with the backend's error.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// BackoffConfig controls probe timing.
type BackoffConfig struct {
	// InitialDelay is the delay before the first retry after a failed
	// probe (default: 2s).
	InitialDelay time.Duration

	// MaxDelay is the ceiling for backoff growth (default: 60s).
	MaxDelay time.Duration

	// Multiplier scales the delay after each failed probe (default: 2.0).
	Multiplier float64

	// PollInterval is the check interval while the service is up
	// (default: 60s).
	PollInterval time.Duration

	// ProbeTimeout limits how long each individual probe call may take (default: 10s).
	ProbeTimeout time.Duration
}

// DefaultBackoffConfig returns 2s, 4s, 8s, ... capped at 60s while down,
// and 60-second polling while up.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

func (b BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// Transition reports a change in reachability. The first probe result
// is always reported.
type Transition struct {
	Name string
	Up   bool
	// Err is the probe error when Up is false.
	Err error
	At  time.Time
}

// Config configures a Watcher.
type Config struct {
	// Name identifies the service in logs and transitions, e.g. "ollama".
	Name string

	// Probe checks service health.
	Probe ProbeFunc

	// Backoff controls retry timing. Zero fields take defaults.
	Backoff BackoffConfig

	// OnChange is called from the watcher goroutine on every
	// transition. It must not block. Optional.
	OnChange func(Transition)

	// Logger for structured logging. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// Status is a point-in-time view of a watched service.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	Probes    int       `json:"probes"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors one service.
type Watcher struct {
	config Config
	logger *slog.Logger

	mu        sync.Mutex
	known     bool
	ready     bool
	probes    int
	lastErr   error
	lastCheck time.Time
}

// New creates a Watcher. Call [Watcher.Run] to start probing.
//
// Panics if Name is empty or Probe is nil; both are programming errors.
func New(cfg Config) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: Config.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: Config.Probe must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Backoff = cfg.Backoff.withDefaults()
	return &Watcher{
		config: cfg,
		logger: cfg.Logger.With("component", "connwatch", "service", cfg.Name),
	}
}

// Run probes until ctx is cancelled and then returns nil. The first
// probe happens immediately.
func (w *Watcher) Run(ctx context.Context) error {
	cfg := w.config.Backoff
	delay := cfg.InitialDelay

	for {
		err := w.probe(ctx)
		if ctx.Err() != nil {
			return nil
		}
		w.record(err)

		wait := cfg.PollInterval
		if err != nil {
			wait = delay
			delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
			w.logger.Debug("probe failed", "next_probe", wait.String(), "error", err)
		} else {
			delay = cfg.InitialDelay
		}

		if !sleepCtx(ctx, wait) {
			return nil
		}
	}
}

// probe calls the configured ProbeFunc with a timeout.
func (w *Watcher) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.config.Backoff.ProbeTimeout)
	defer cancel()
	return w.config.Probe(probeCtx)
}

// record stores the probe outcome and reports a transition if the
// state changed.
func (w *Watcher) record(err error) {
	now := time.Now()
	up := err == nil

	w.mu.Lock()
	changed := !w.known || w.ready != up
	w.known = true
	w.ready = up
	w.probes++
	w.lastErr = err
	w.lastCheck = now
	w.mu.Unlock()

	if !changed {
		return
	}
	if up {
		w.logger.Info("service reachable")
	} else {
		w.logger.Warn("service unreachable", "error", err)
	}
	if w.config.OnChange != nil {
		w.config.OnChange(Transition{Name: w.config.Name, Up: up, Err: err, At: now})
	}
}

// IsReady reports whether the last probe succeeded.
func (w *Watcher) IsReady() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

// Status returns the current health status.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := Status{
		Name:      w.config.Name,
		Ready:     w.ready,
		Probes:    w.probes,
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
