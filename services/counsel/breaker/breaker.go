// Copyright (C) 2025 DharmaDesk Labs (oss@dharmadesk.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package breaker provides a generic three-state circuit breaker used to
// isolate every external dependency of the consultation pipeline.
//
// Each named dependency (one per generation provider, one for the retrieval
// service) owns a single Breaker instance for the lifetime of the process.
// Callers are expected to perform their own retries internally and report at
// most one success or failure per logical request.
package breaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by callers that translate a rejected Allow into an error.
var ErrOpen = errors.New("circuit breaker is open, requests blocked")

// -----------------------------------------------------------------------------
// State
// -----------------------------------------------------------------------------

// State represents the breaker's position in its state machine.
type State int32

const (
	// StateClosed indicates normal operation; all requests pass.
	StateClosed State = iota
	// StateOpen indicates the dependency is considered down; requests are
	// rejected without being attempted.
	StateOpen
	// StateHalfOpen indicates the recovery timeout elapsed and probe
	// requests are allowed through.
	StateHalfOpen
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

// TransitionReporter receives every breaker state transition exactly once.
//
// Implementations are used for alerting and metrics, never for control flow.
// Reports are delivered while the breaker mutex is held, so implementations
// must not call back into the breaker.
type TransitionReporter interface {
	ReportTransition(name string, from, to State)
}

// Config configures a Breaker.
type Config struct {
	// Name identifies the protected dependency (e.g. "openai", "retrieval").
	Name string

	// FailureThreshold is the number of consecutive failures that opens
	// the breaker while closed.
	// Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before the next
	// state read transitions it to half-open.
	// Default: 30s
	RecoveryTimeout time.Duration

	// Reporter receives state transitions. Optional.
	Reporter TransitionReporter

	// Logger for transition logging.
	// Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		Logger:           slog.Default(),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Name == "" {
		return errors.New("name must not be empty")
	}
	if c.FailureThreshold < 1 {
		return errors.New("failure_threshold must be at least 1")
	}
	if c.RecoveryTimeout <= 0 {
		return errors.New("recovery_timeout must be positive")
	}
	return nil
}

// applyDefaults fills in zero values with defaults.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig(c.Name)
	if c.FailureThreshold == 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}
	if c.RecoveryTimeout == 0 {
		c.RecoveryTimeout = defaults.RecoveryTimeout
	}
	if c.Logger == nil {
		c.Logger = defaults.Logger
	}
}

// -----------------------------------------------------------------------------
// Breaker
// -----------------------------------------------------------------------------

// Snapshot is a point-in-time view of a breaker, used by the admin surface.
type Snapshot struct {
	Name             string    `json:"name"`
	State            string    `json:"state"`
	Failures         int       `json:"consecutive_failures"`
	LastFailure      time.Time `json:"last_failure,omitzero"`
	FailureThreshold int       `json:"failure_threshold"`
	RecoveryTimeout  string    `json:"recovery_timeout"`
}

// Breaker is a three-state circuit breaker.
//
// State machine:
//
//	closed    -- threshold consecutive failures --> open
//	open      -- recovery timeout elapsed, next state read --> half_open
//	half_open -- success --> closed (failure count reset)
//	half_open -- failure --> open (immediately, threshold not required)
//
// Thread Safety: Safe for concurrent use; all mutations occur under a
// single mutex.
type Breaker struct {
	config Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time

	// now is replaceable for tests.
	now func() time.Time
}

// New creates a Breaker from config, applying defaults first.
func New(config Config) (*Breaker, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Breaker{
		config: config,
		logger: config.Logger.With(slog.String("component", "breaker"), slog.String("dependency", config.Name)),
		state:  StateClosed,
		now:    time.Now,
	}, nil
}

// Name returns the protected dependency name.
func (b *Breaker) Name() string {
	return b.config.Name
}

// Allow reports whether a request may proceed.
//
// Reading the state is side-effecting: if the breaker is open and the
// recovery timeout has elapsed since the last failure, the breaker
// transitions to half-open and the request is allowed as a probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked() != StateOpen
}

// State returns the breaker state, lazily transitioning open to half-open
// once the recovery timeout has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentStateLocked()
}

// RecordSuccess reports one successful logical request.
//
// While half-open a single success closes the breaker and resets the
// consecutive failure counter. While closed it only resets the counter.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentStateLocked() {
	case StateHalfOpen:
		b.failures = 0
		b.transitionLocked(StateClosed)
	case StateClosed:
		b.failures = 0
	}
}

// RecordFailure reports one failed logical request.
//
// While closed, reaching the failure threshold opens the breaker. While
// half-open a single failure reopens it immediately without requiring the
// threshold to be re-reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()

	switch b.currentStateLocked() {
	case StateHalfOpen:
		b.transitionLocked(StateOpen)
	case StateClosed:
		b.failures++
		if b.failures >= b.config.FailureThreshold {
			b.transitionLocked(StateOpen)
		}
	case StateOpen:
		// Already open; only the failure timestamp moved forward.
	}
}

// Reset is the administrative action that forces the breaker closed and
// clears the failure counter.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.lastFailure = time.Time{}
	if b.state != StateClosed {
		b.transitionLocked(StateClosed)
	}
}

// Snapshot returns a point-in-time view for the admin surface.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		Name:             b.config.Name,
		State:            b.currentStateLocked().String(),
		Failures:         b.failures,
		LastFailure:      b.lastFailure,
		FailureThreshold: b.config.FailureThreshold,
		RecoveryTimeout:  b.config.RecoveryTimeout.String(),
	}
}

// currentStateLocked returns the state after applying the lazy
// open -> half_open transition. Caller must hold b.mu.
func (b *Breaker) currentStateLocked() State {
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.config.RecoveryTimeout {
		b.transitionLocked(StateHalfOpen)
	}
	return b.state
}

// transitionLocked changes state and reports the transition exactly once.
// Caller must hold b.mu.
func (b *Breaker) transitionLocked(newState State) {
	oldState := b.state
	if oldState == newState {
		return
	}
	b.state = newState

	b.logger.Info("breaker state transition",
		slog.String("from", oldState.String()),
		slog.String("to", newState.String()),
		slog.Int("consecutive_failures", b.failures))

	if b.config.Reporter != nil {
		b.config.Reporter.ReportTransition(b.config.Name, oldState, newState)
	}
}
