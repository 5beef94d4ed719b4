package workqueue

import "github.com/parwork/go-work-queue/core"

// Re-export commonly used types from core package for convenience.
// This allows users to import only the workqueue package for most use cases.

// WorkUnit is the unit of work: a body plus the value it runs on
type WorkUnit[Q, W any] = core.WorkUnit[Q, W]

// WorkBody is the function a work unit executes
type WorkBody[Q, W any] = core.WorkBody[Q, W]

// WorkQueue is the fork-join supervisor owning the worker goroutines
type WorkQueue[Q, W any] = core.WorkQueue[Q, W]

// Proxy lets a running unit fork new units and reach the queue context
type Proxy[Q, W any] = core.Proxy[Q, W]

// Deque is the per-worker work-stealing double-ended queue
type Deque[T any] = core.Deque[T]

// StealResult reports the outcome of a steal attempt
type StealResult = core.StealResult

// Steal outcomes
const (
	StealEmpty   StealResult = core.StealEmpty
	StealAbort   StealResult = core.StealAbort
	StealSuccess StealResult = core.StealSuccess
)

// Config bundles the pluggable pieces of a queue
type Config = core.Config

// BackoffConfig tunes the idle-worker backoff policy
type BackoffConfig = core.BackoffConfig

// Logger is the structured logging interface used by the queue
type Logger = core.Logger

// Field is a key-value pair for structured logging
type Field = core.Field

// Observability snapshot types
type (
	QueueStats  = core.QueueStats
	WorkerStats = core.WorkerStats
	RunRecord   = core.RunRecord
)

// ErrRunAborted is wrapped by Run errors when a unit panicked.
var ErrRunAborted = core.ErrRunAborted

// Convenience re-exports
var (
	F                    = core.F
	DefaultConfig        = core.DefaultConfig
	DefaultBackoffConfig = core.DefaultBackoffConfig
	NewDefaultLogger     = core.NewDefaultLogger
	NewNoOpLogger        = core.NewNoOpLogger
)

// New creates a work queue with threadCount workers and the given
// queue-wide context value.
func New[Q, W any](name string, threadCount int, data Q) *WorkQueue[Q, W] {
	return core.NewWorkQueue[Q, W](name, threadCount, data)
}

// NewWithConfig creates a work queue with custom configuration.
// This is re-exported for users who want to plug in their own logger,
// metrics, or backoff tuning.
func NewWithConfig[Q, W any](name string, threadCount int, data Q, config *Config) *WorkQueue[Q, W] {
	return core.NewWorkQueueWithConfig[Q, W](name, threadCount, data, config)
}
