// Package store owns the connection state of the backing store that holds
// audit records, and gates requests on it.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// State is the connection state of the backing store.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateFatal // retries exhausted, no attempts until Reset
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

const (
	DefaultMaxRetries     = 5
	DefaultRetryDelay     = 5 * time.Second
	defaultAttemptTimeout = 5 * time.Second
)

var (
	ErrRetriesExhausted = errors.New("backing store connection retries exhausted")
	ErrClosed           = errors.New("connection manager closed")
)

// ConnectionError is returned once the manager has given up connecting.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("backing store unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() []error { return []error{ErrRetriesExhausted, e.Err} }

func (e *ConnectionError) StatusCode() int { return http.StatusInternalServerError }

// ConnectFunc performs one connection attempt (for PostgreSQL, a pool ping).
type ConnectFunc func(ctx context.Context) error

// RetryPolicy bounds reconnection. The delay between attempts is fixed.
type RetryPolicy struct {
	MaxRetries     int
	RetryDelay     time.Duration
	AttemptTimeout time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = DefaultRetryDelay
	}
	if p.AttemptTimeout <= 0 {
		p.AttemptTimeout = defaultAttemptTimeout
	}
	return p
}

// Manager is the single owner of the backing store connection state.
type Manager struct {
	mu         sync.RWMutex
	state      State
	retryCount int
	fatalErr   error
	fatalAt    time.Time

	connect ConnectFunc
	policy  RetryPolicy
	logger  *slog.Logger
	group   singleflight.Group
	done    chan struct{}
	once    sync.Once

	after        func(time.Duration) <-chan time.Time
	onAttempt    func(ok bool)
	onTransition func(State)
}

// NewManager creates a manager in the Disconnected state. No connection is
// attempted until EnsureConnected is called.
func NewManager(connect ConnectFunc, policy RetryPolicy, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		state:   StateDisconnected,
		connect: connect,
		policy:  policy.withDefaults(),
		logger:  logger.With("component", "store.manager"),
		done:    make(chan struct{}),
		after:   time.After,
	}
}

// OnAttempt registers a hook invoked after every connection attempt.
// Must be called before the manager is used.
func (m *Manager) OnAttempt(fn func(ok bool)) { m.onAttempt = fn }

// OnTransition registers a hook invoked on every state change.
// Must be called before the manager is used.
func (m *Manager) OnTransition(fn func(State)) { m.onTransition = fn }

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) RetryCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.retryCount
}

// Snapshot is a consistent view of the manager for health reporting.
type Snapshot struct {
	State      string `json:"state"`
	RetryCount int    `json:"retry_count"`
	MaxRetries int    `json:"max_retries"`
}

func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{State: m.state.String(), RetryCount: m.retryCount, MaxRetries: m.policy.MaxRetries}
}

// setState must be called with mu held.
func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.onTransition != nil {
		m.onTransition(s)
	}
}

// EnsureConnected returns nil once the store is connected. It returns
// immediately when already connected, and returns the fatal error without any
// attempt once retries are exhausted. Concurrent callers share one connect
// loop; a caller whose context ends stops waiting but the loop carries on.
func (m *Manager) EnsureConnected(ctx context.Context) error {
	m.mu.RLock()
	state, fatalErr := m.state, m.fatalErr
	m.mu.RUnlock()

	switch state {
	case StateConnected:
		return nil
	case StateFatal:
		return fatalErr
	}

	ch := m.group.DoChan("connect", func() (any, error) {
		return nil, m.connectLoop()
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return fmt.Errorf("waiting for backing store: %w", ctx.Err())
	}
}

// Start begins connecting in the background and returns immediately.
// Requests arriving meanwhile join the same connect loop.
func (m *Manager) Start(ctx context.Context) {
	go func() {
		err := m.EnsureConnected(ctx)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, ErrClosed) {
			m.logger.Warn("backing store not reachable at startup, requests will retry", "error", err)
		}
	}()
}

func (m *Manager) connectLoop() error {
	m.mu.Lock()
	switch m.state {
	case StateConnected:
		m.mu.Unlock()
		return nil
	case StateFatal:
		err := m.fatalErr
		m.mu.Unlock()
		return err
	}
	m.setState(StateConnecting)
	m.mu.Unlock()

	for {
		ctx, cancel := context.WithTimeout(context.Background(), m.policy.AttemptTimeout)
		err := m.connect(ctx)
		cancel()
		if m.onAttempt != nil {
			m.onAttempt(err == nil)
		}

		m.mu.Lock()
		if err == nil {
			m.retryCount = 0
			m.fatalErr = nil
			m.setState(StateConnected)
			m.mu.Unlock()
			m.logger.Info("backing store connected")
			return nil
		}

		m.retryCount++
		attempt := m.retryCount
		if attempt >= m.policy.MaxRetries {
			m.fatalErr = &ConnectionError{Attempts: attempt, Err: err}
			m.fatalAt = time.Now()
			m.setState(StateFatal)
			fatalErr := m.fatalErr
			m.mu.Unlock()
			m.logger.Error("backing store connection retries exhausted",
				"attempts", attempt,
				"error", err,
			)
			return fatalErr
		}
		m.setState(StateDisconnected)
		m.mu.Unlock()

		m.logger.Warn("backing store connection failed, retrying",
			"attempt", attempt,
			"max_retries", m.policy.MaxRetries,
			"retry_in", m.policy.RetryDelay.String(),
			"error", err,
		)

		select {
		case <-m.after(m.policy.RetryDelay):
		case <-m.done:
			return ErrClosed
		}

		m.mu.Lock()
		m.setState(StateConnecting)
		m.mu.Unlock()
	}
}

// MarkDisconnected records that the store signalled connection loss.
func (m *Manager) MarkDisconnected(reason error) {
	m.mu.Lock()
	if m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.setState(StateDisconnected)
	m.mu.Unlock()
	m.logger.Warn("backing store connection lost", "error", reason)
}

// Disconnect moves a connected manager to Disconnected, e.g. on shutdown.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateConnected {
		m.setState(StateDisconnected)
		m.logger.Info("backing store disconnected")
	}
}

// Reset clears the fatal state so the next EnsureConnected retries.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateFatal {
		return
	}
	m.retryCount = 0
	m.fatalErr = nil
	m.setState(StateDisconnected)
	m.logger.Info("connection manager reset")
}

// Close aborts any pending retry delay. Subsequent loops return ErrClosed
// once they reach a delay.
func (m *Manager) Close() {
	m.once.Do(func() { close(m.done) })
}

// Watch runs until ctx ends. While connected it probes the store every
// interval and marks the manager disconnected on failure; once fatal for at
// least recoverAfter it resets the manager. recoverAfter <= 0 disables resets.
func (m *Manager) Watch(ctx context.Context, interval, recoverAfter time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.probe(recoverAfter)
		}
	}
}

func (m *Manager) probe(recoverAfter time.Duration) {
	m.mu.RLock()
	state, fatalAt := m.state, m.fatalAt
	m.mu.RUnlock()

	switch state {
	case StateConnected:
		ctx, cancel := context.WithTimeout(context.Background(), m.policy.AttemptTimeout)
		err := m.connect(ctx)
		cancel()
		if err != nil {
			m.MarkDisconnected(err)
		}
	case StateFatal:
		if recoverAfter > 0 && time.Since(fatalAt) >= recoverAfter {
			m.Reset()
		}
	}
}
