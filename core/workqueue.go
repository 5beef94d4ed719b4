package core

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// maxAllowedThreads is the maximum allowed value for threadCount.
	// Values higher than this could lead to excessive goroutine creation
	// and memory exhaustion.
	maxAllowedThreads = 10000

	// seedWorker is the index of the worker whose deque receives Push
	// seeds. Thieves spread them across the pool once the run starts.
	seedWorker = 0
)

// ErrRunAborted is returned (wrapped) by Run when a unit body panicked.
// Match it with errors.Is.
var ErrRunAborted = errors.New("workqueue: run aborted by panicked unit")

// Queue states. Push and Run are only valid while idle; Shutdown is
// terminal.
const (
	stateIdle int32 = iota
	stateRunning
	stateShutdown
)

func stateName(s int32) string {
	switch s {
	case stateIdle:
		return "idle"
	case stateRunning:
		return "running"
	case stateShutdown:
		return "shut down"
	}
	return fmt.Sprintf("state(%d)", s)
}

// WorkQueue is a fork-join work-stealing scheduler.
//
// A queue owns a fixed pool of workers, one deque per worker, and a data
// value of type Q shared by all units. Work is seeded with Push, executed
// by Run (which blocks until every seeded and forked unit completed), and
// the same queue is reused for any number of runs until Shutdown.
//
// The public methods are not thread-safe against each other: a queue is
// owned by one embedder goroutine, like the workers own their deques.
// Misuse (Push while running, Run after Shutdown) panics rather than
// corrupting a run. Stats, WorkerStats, and RecentRuns are the exception
// and may be called from anywhere, including while a run is in flight.
type WorkQueue[Q, W any] struct {
	name        string
	threadCount int
	data        Q

	config       Config
	logger       Logger
	metrics      Metrics
	panicHandler PanicHandler

	// deques[i] belongs to workers[i] for the queue's whole lifetime.
	// Between runs the supervisor holds them (seeding, clearing,
	// compaction); during a run each worker holds its own.
	deques  []*Deque[WorkUnit[Q, W]]
	workers []*worker[Q, W]

	supervisorCh chan supervisorMsg[Q, W]
	outstanding  atomic.Int64
	pendingSeeds int64

	state atomic.Int32
	wg    sync.WaitGroup

	runsCompleted atomic.Int64
	runsAborted   atomic.Int64
	history       runHistory
}

// NewWorkQueue creates a work queue with default configuration and spawns
// its workers. The workers idle until Run. data is the queue-wide context
// handed to every unit body via Proxy.Context.
func NewWorkQueue[Q, W any](name string, threadCount int, data Q) *WorkQueue[Q, W] {
	return NewWorkQueueWithConfig[Q, W](name, threadCount, data, DefaultConfig())
}

// NewWorkQueueWithConfig creates a work queue with the given configuration.
// Panics if threadCount is out of the valid range [1, 10000].
func NewWorkQueueWithConfig[Q, W any](name string, threadCount int, data Q, config *Config) *WorkQueue[Q, W] {
	if threadCount < 1 {
		panic("WorkQueue: threadCount must be at least 1")
	}
	if threadCount > maxAllowedThreads {
		panic(fmt.Sprintf("WorkQueue: threadCount must not exceed %d", maxAllowedThreads))
	}
	if name == "" {
		name = "workqueue"
	}

	q := &WorkQueue[Q, W]{
		name:        name,
		threadCount: threadCount,
		data:        data,
	}

	// Apply config
	if config != nil {
		q.config = *config
	}

	// Use defaults if not provided
	if q.config.Logger == nil {
		q.config.Logger = NewDefaultLogger()
	}
	if q.config.Metrics == nil {
		q.config.Metrics = &NilMetrics{}
	}
	if q.config.PanicHandler == nil {
		q.config.PanicHandler = &DefaultPanicHandler{}
	}
	q.config.Backoff = q.config.Backoff.withDefaults()
	q.logger = q.config.Logger
	q.metrics = q.config.Metrics
	q.panicHandler = q.config.PanicHandler

	q.history = newRunHistory(q.config.RunHistoryCapacity)

	q.deques = make([]*Deque[WorkUnit[Q, W]], threadCount)
	for i := range q.deques {
		q.deques[i] = NewDeque[WorkUnit[Q, W]]()
	}

	// Worst case per run is one Aborted plus one ReturnDeque from every
	// worker; sized so no worker ever blocks reporting status.
	q.supervisorCh = make(chan supervisorMsg[Q, W], 2*threadCount)

	q.workers = make([]*worker[Q, W], threadCount)
	for i := range q.workers {
		q.workers[i] = newWorker(i, q)
	}

	q.wg.Add(threadCount)
	for _, w := range q.workers {
		go w.run()
	}

	q.logger.Info("work queue started",
		F("queue", q.name), F("threads", threadCount), F("lock_os_thread", q.config.LockOSThread))
	return q
}

// Push seeds a unit for the next run. Only valid while the queue is idle;
// pushing during a run or after Shutdown panics. Bodies running inside a
// pass schedule follow-up work through Proxy.Fork instead.
func (q *WorkQueue[Q, W]) Push(unit WorkUnit[Q, W]) {
	switch q.state.Load() {
	case stateRunning:
		panic("WorkQueue: Push called while running")
	case stateShutdown:
		panic("WorkQueue: Push called after Shutdown")
	}
	if unit.Body == nil {
		panic("WorkQueue: Push called with nil Body")
	}

	q.deques[seedWorker].Push(unit)
	q.pendingSeeds++
}

// Run executes all seeded units and everything they transitively fork,
// blocking until the last unit completed. On success it returns nil and
// the queue is idle again, ready for more seeds.
//
// If any unit body panics the run is aborted: the panic is given to the
// PanicHandler, the workers are stopped, leftover units are discarded,
// and Run returns an error matching ErrRunAborted. The queue remains
// usable for subsequent runs.
//
// Running with nothing seeded is a no-op.
func (q *WorkQueue[Q, W]) Run() error {
	if !q.state.CompareAndSwap(stateIdle, stateRunning) {
		switch q.state.Load() {
		case stateShutdown:
			panic("WorkQueue: Run called after Shutdown")
		default:
			panic("WorkQueue: Run called while already running")
		}
	}

	if q.pendingSeeds == 0 {
		q.state.Store(stateIdle)
		return nil
	}

	startedAt := time.Now()
	baseline := q.workerTotals()

	q.outstanding.Store(q.pendingSeeds)
	q.pendingSeeds = 0

	for i, w := range q.workers {
		w.ctrl <- workerMsg[Q, W]{
			kind:        msgStart,
			deque:       q.deques[i],
			outstanding: &q.outstanding,
			data:        &q.data,
		}
	}

	// Phase 1: wait for the run to resolve. Exactly one Finished on
	// success; one or more Aborted when bodies panicked (a panicked
	// unit's counter increment is never matched, so Finished and Aborted
	// are mutually exclusive within a run).
	var abortErrs []error
	msg := <-q.supervisorCh
	switch msg.kind {
	case msgFinished:
	case msgAborted:
		abortErrs = append(abortErrs, abortError(msg))
	default:
		panic(fmt.Sprintf("WorkQueue: received %v before Stop", msg.kind))
	}

	// Phase 2: stop every worker and take the deques back.
	for _, w := range q.workers {
		w.ctrl <- workerMsg[Q, W]{kind: msgStop}
	}
	returned := 0
	for returned < q.threadCount {
		msg := <-q.supervisorCh
		switch msg.kind {
		case msgReturnDeque:
			returned++
		case msgAborted:
			// Another body panicked while the stop was in flight.
			abortErrs = append(abortErrs, abortError(msg))
		default:
			panic(fmt.Sprintf("WorkQueue: received %v while collecting deques", msg.kind))
		}
	}

	aborted := len(abortErrs) > 0
	if aborted {
		// Leftover units are part of the failed run; drop them so the
		// next run starts clean.
		for _, d := range q.deques {
			d.Clear()
		}
		q.outstanding.Store(0)
	}
	for _, d := range q.deques {
		d.MaybeCompact()
	}

	finishedAt := time.Now()
	totals := q.workerTotals()
	record := RunRecord{
		QueueName:     q.name,
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
		Duration:      finishedAt.Sub(startedAt),
		UnitsExecuted: totals.UnitsExecuted - baseline.UnitsExecuted,
		Steals:        totals.Steals - baseline.Steals,
		Forks:         totals.Forks - baseline.Forks,
		Aborted:       aborted,
	}
	q.history.Add(record)
	q.metrics.RecordRunDuration(q.name, record.Duration)
	q.metrics.RecordUnitsExecuted(q.name, record.UnitsExecuted)

	q.state.Store(stateIdle)

	if aborted {
		q.runsAborted.Add(1)
		err := errors.Join(abortErrs...)
		// The reason is a category, not the panic text: it becomes a
		// metrics label and must stay low-cardinality.
		q.metrics.RecordRunAborted(q.name, "unit panic")
		q.logger.Warn("run aborted", F("queue", q.name), F("error", err))
		return fmt.Errorf("%w: %w", ErrRunAborted, err)
	}

	q.runsCompleted.Add(1)
	return nil
}

func abortError[Q, W any](msg supervisorMsg[Q, W]) error {
	return fmt.Errorf("worker %d: unit panicked: %v", msg.workerID, msg.panicValue)
}

// Shutdown terminates all workers and waits for them to exit. The queue
// may not be reused afterwards; any later Push, Run, or Shutdown panics.
func (q *WorkQueue[Q, W]) Shutdown() {
	if !q.state.CompareAndSwap(stateIdle, stateShutdown) {
		switch q.state.Load() {
		case stateRunning:
			panic("WorkQueue: Shutdown called while running")
		default:
			panic("WorkQueue: Shutdown called twice")
		}
	}

	for _, w := range q.workers {
		w.ctrl <- workerMsg[Q, W]{kind: msgExit}
	}
	q.wg.Wait()

	// Release references held by never-run seeds.
	for _, d := range q.deques {
		d.Clear()
	}

	q.logger.Info("work queue shut down",
		F("queue", q.name),
		F("runs_completed", q.runsCompleted.Load()),
		F("runs_aborted", q.runsAborted.Load()))
}

// Name returns the queue name used in logs, stats, and metrics labels.
func (q *WorkQueue[Q, W]) Name() string { return q.name }

// ThreadCount returns the number of workers.
func (q *WorkQueue[Q, W]) ThreadCount() int { return q.threadCount }

// Context returns the queue-wide data. The same pointer unit bodies see
// through Proxy.Context.
func (q *WorkQueue[Q, W]) Context() *Q { return &q.data }

// PendingUnits returns the number of units sitting in deques. Between
// runs that is the seed count; during a run it is a moving estimate.
func (q *WorkQueue[Q, W]) PendingUnits() int {
	total := 0
	for _, d := range q.deques {
		total += d.Len()
	}
	return total
}

// Stats returns current observability data for this queue.
func (q *WorkQueue[Q, W]) Stats() QueueStats {
	stats := QueueStats{
		Name:          q.name,
		Threads:       q.threadCount,
		State:         stateName(q.state.Load()),
		PendingUnits:  q.PendingUnits(),
		RunsCompleted: q.runsCompleted.Load(),
		RunsAborted:   q.runsAborted.Load(),
		UnitsExecuted: q.workerTotals().UnitsExecuted,
	}
	if last, ok := q.history.Last(); ok {
		stats.LastRunAt = last.FinishedAt
		stats.LastRunDuration = last.Duration
	}
	return stats
}

// WorkerStats returns lifetime counters for every worker, indexed by
// worker ID.
func (q *WorkQueue[Q, W]) WorkerStats() []WorkerStats {
	out := make([]WorkerStats, len(q.workers))
	for i, w := range q.workers {
		out[i] = w.stats()
	}
	return out
}

// RecentRuns returns completed run records in newest-first order.
func (q *WorkQueue[Q, W]) RecentRuns(limit int) []RunRecord {
	return q.history.Recent(limit)
}

func (q *WorkQueue[Q, W]) workerTotals() WorkerStats {
	var total WorkerStats
	for _, w := range q.workers {
		s := w.stats()
		total.UnitsExecuted += s.UnitsExecuted
		total.Steals += s.Steals
		total.Forks += s.Forks
	}
	return total
}
