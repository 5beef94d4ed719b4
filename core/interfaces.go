package core

import (
	"fmt"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling work unit panics
// =============================================================================

// PanicHandler is called when a work unit panics during execution.
// A panicking unit aborts the surrounding run; the handler exists for
// logging, crash reporting, and recovery strategies.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a work unit panics.
	//
	// Parameters:
	// - queueName: The name of the work queue where the panic occurred
	// - workerID: The index of the worker that executed the unit
	// - panicInfo: The panic value recovered from the unit body
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(queueName string, workerID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler provides a basic panic handler that logs to stdout.
type DefaultPanicHandler struct{}

// HandlePanic prints panic information to stdout.
func (h *DefaultPanicHandler) HandlePanic(queueName string, workerID int, panicInfo any, stackTrace []byte) {
	fmt.Printf("[Worker %d @ %s] Panic: %v\nStack trace:\n%s",
		workerID, queueName, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting work queue metrics.
// Implementations can send metrics to monitoring systems (Prometheus, StatsD, etc.).
//
// All methods are optional; implementations should handle nil receivers gracefully.
// Methods are called from the supervisor between runs, never from the steal loop,
// but should still be non-blocking and fast.
type Metrics interface {
	// RecordRunDuration records how long a run took from start to finish.
	RecordRunDuration(queueName string, duration time.Duration)

	// RecordUnitsExecuted records how many work units a run executed,
	// seeds and forked units both included.
	RecordUnitsExecuted(queueName string, count int64)

	// RecordUnitPanic records that a work unit panicked during execution.
	RecordUnitPanic(queueName string, panicInfo any)

	// RecordRunAborted records that a run was abandoned because a unit panicked.
	RecordRunAborted(queueName string, reason string)
}

// NilMetrics provides a no-op metrics implementation that does nothing.
// This is the default when no metrics interface is provided.
type NilMetrics struct{}

// RecordRunDuration is a no-op.
func (m *NilMetrics) RecordRunDuration(queueName string, duration time.Duration) {
}

// RecordUnitsExecuted is a no-op.
func (m *NilMetrics) RecordUnitsExecuted(queueName string, count int64) {
}

// RecordUnitPanic is a no-op.
func (m *NilMetrics) RecordUnitPanic(queueName string, panicInfo any) {
}

// RecordRunAborted is a no-op.
func (m *NilMetrics) RecordRunAborted(queueName string, reason string) {
}

// =============================================================================
// BackoffConfig: Tuning for the worker steal loop
// =============================================================================

// BackoffConfig controls how aggressively starving workers hunt for work.
//
// A worker that finds its own deque empty steals from random victims. Each
// failed attempt bumps a counter: every SpinsBeforeControlCheck failures the
// worker polls its control channel, and beyond SpinsBeforeSleep failures it
// starts sleeping, SleepIncrement longer per round up to MaxSleep. Any
// successful pop or steal resets the counter.
type BackoffConfig struct {
	// SpinsBeforeControlCheck is the number of failed steal attempts
	// between non-blocking control channel polls.
	SpinsBeforeControlCheck int

	// SpinsBeforeSleep is the number of consecutive failed steal attempts
	// after which the worker starts sleeping between attempts.
	SpinsBeforeSleep int

	// SleepIncrement is added to the sleep duration every sleeping round,
	// so the sleep grows linearly while the worker keeps starving.
	SleepIncrement time.Duration

	// MaxSleep caps the grown sleep. The cap bounds how stale a worker can
	// be when work reappears or a Stop arrives; uncapped growth would let
	// an idle worker drift arbitrarily far from the control channel.
	MaxSleep time.Duration
}

// DefaultBackoffConfig returns the steal loop tuning used when none is given.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		SpinsBeforeControlCheck: 32,
		SpinsBeforeSleep:        128,
		SleepIncrement:          5 * time.Microsecond,
		MaxSleep:                time.Millisecond,
	}
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	def := DefaultBackoffConfig()
	if c.SpinsBeforeControlCheck <= 0 {
		c.SpinsBeforeControlCheck = def.SpinsBeforeControlCheck
	}
	if c.SpinsBeforeSleep <= 0 {
		c.SpinsBeforeSleep = def.SpinsBeforeSleep
	}
	if c.SleepIncrement <= 0 {
		c.SleepIncrement = def.SleepIncrement
	}
	if c.MaxSleep <= 0 {
		c.MaxSleep = def.MaxSleep
	}
	return c
}

// =============================================================================
// Config: Configuration for WorkQueue
// =============================================================================

// Config holds configuration options for a WorkQueue.
// All fields are optional; zero values fall back to defaults.
type Config struct {
	// Logger receives lifecycle messages (construction, shutdown, aborted
	// runs). Never called from the steal loop. Defaults to DefaultLogger.
	Logger Logger

	// Metrics is called to record run metrics. Defaults to NilMetrics.
	Metrics Metrics

	// PanicHandler is called when a work unit panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Backoff tunes the worker steal loop.
	Backoff BackoffConfig

	// LockOSThread pins each worker goroutine to its own OS thread.
	// Useful when unit bodies rely on thread-local state (cgo) or when
	// benchmarking against thread-per-worker runtimes.
	LockOSThread bool

	// RunHistoryCapacity is the number of completed runs retained for
	// RecentRuns. Defaults to 64.
	RunHistoryCapacity int
}

// DefaultConfig returns a config with default handlers and tuning.
func DefaultConfig() *Config {
	return &Config{
		Logger:             NewDefaultLogger(),
		Metrics:            &NilMetrics{},
		PanicHandler:       &DefaultPanicHandler{},
		Backoff:            DefaultBackoffConfig(),
		RunHistoryCapacity: defaultRunHistoryCapacity,
	}
}
