package core

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type recordingPanicHandler struct {
	mu    sync.Mutex
	calls []any
}

func (h *recordingPanicHandler) HandlePanic(queueName string, workerID int, panicInfo any, stackTrace []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, panicInfo)
}

func (h *recordingPanicHandler) callCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

type recordingMetrics struct {
	mu       sync.Mutex
	runs     int
	units    int64
	panics   int
	aborts   int
	durTotal time.Duration
}

func (m *recordingMetrics) RecordRunDuration(queueName string, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs++
	m.durTotal += duration
}

func (m *recordingMetrics) RecordUnitsExecuted(queueName string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units += count
}

func (m *recordingMetrics) RecordUnitPanic(queueName string, panicInfo any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics++
}

func (m *recordingMetrics) RecordRunAborted(queueName string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborts++
}

func quietConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logger = NewNoOpLogger()
	return cfg
}

func expectPanic(t *testing.T, contains string, fn func()) {
	t.Helper()
	defer func() {
		rec := recover()
		if rec == nil {
			t.Fatalf("expected panic containing %q, got none", contains)
		}
		msg, ok := rec.(string)
		if !ok {
			t.Fatalf("panic value = %v (%T), want string", rec, rec)
		}
		if !strings.Contains(msg, contains) {
			t.Errorf("panic message = %q, want it to contain %q", msg, contains)
		}
	}()
	fn()
}

// TestWorkQueue_RunExecutesAllSeeds verifies the basic run cycle
// Given: A queue with several seeded units
// When: Run is called
// Then: Every seed executes exactly once and Run returns nil
func TestWorkQueue_RunExecutesAllSeeds(t *testing.T) {
	// Arrange
	q := NewWorkQueueWithConfig[struct{}, int]("seeds", 4, struct{}{}, quietConfig())
	defer q.Shutdown()

	const seeds = 100
	executed := make([]atomic.Int32, seeds)
	body := func(i int, p *Proxy[struct{}, int]) {
		executed[i].Add(1)
	}

	for i := 0; i < seeds; i++ {
		q.Push(WorkUnit[struct{}, int]{Body: body, Data: i})
	}

	// Act
	err := q.Run()

	// Assert
	if err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	for i := range executed {
		if n := executed[i].Load(); n != 1 {
			t.Errorf("unit %d executed %d times, want 1", i, n)
		}
	}
	if got := q.PendingUnits(); got != 0 {
		t.Errorf("PendingUnits() after run = %d, want 0", got)
	}
}

// TestWorkQueue_ForkedUnitsAllExecute verifies transitively forked work
// completes within the same run
// Given: A seed whose body forks two children down to a fixed depth
// When: Run is called
// Then: Run blocks until the whole fork tree executed (2^(d+1)-1 units)
func TestWorkQueue_ForkedUnitsAllExecute(t *testing.T) {
	// Arrange
	q := NewWorkQueueWithConfig[struct{}, int]("forks", 4, struct{}{}, quietConfig())
	defer q.Shutdown()

	const depth = 10
	var executed atomic.Int64
	var body WorkBody[struct{}, int]
	body = func(d int, p *Proxy[struct{}, int]) {
		executed.Add(1)
		if d > 0 {
			p.Fork(WorkUnit[struct{}, int]{Body: body, Data: d - 1})
			p.Fork(WorkUnit[struct{}, int]{Body: body, Data: d - 1})
		}
	}
	q.Push(WorkUnit[struct{}, int]{Body: body, Data: depth})

	// Act
	err := q.Run()

	// Assert - Full binary tree of units
	if err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	want := int64(1<<(depth+1) - 1)
	if got := executed.Load(); got != want {
		t.Errorf("executed = %d, want %d", got, want)
	}
}

// TestWorkQueue_ReusedAcrossRuns verifies the run/idle lifecycle
// Given: A queue that completed a run
// When: New units are pushed and Run is called again
// Then: The second run executes on the same workers without leakage
func TestWorkQueue_ReusedAcrossRuns(t *testing.T) {
	q := NewWorkQueueWithConfig[struct{}, int]("reuse", 2, struct{}{}, quietConfig())
	defer q.Shutdown()

	for pass := 1; pass <= 3; pass++ {
		var executed atomic.Int64
		body := func(i int, p *Proxy[struct{}, int]) {
			executed.Add(1)
		}
		for i := 0; i < pass*10; i++ {
			q.Push(WorkUnit[struct{}, int]{Body: body, Data: i})
		}

		if err := q.Run(); err != nil {
			t.Fatalf("pass %d: Run() = %v, want nil", pass, err)
		}
		if got := executed.Load(); got != int64(pass*10) {
			t.Errorf("pass %d: executed = %d, want %d", pass, got, pass*10)
		}
	}

	if got := q.Stats().RunsCompleted; got != 3 {
		t.Errorf("RunsCompleted = %d, want 3", got)
	}
}

// TestWorkQueue_RunWithNothingSeeded verifies the empty-run edge case
// Given: A queue with no seeds
// When: Run is called
// Then: It returns nil immediately without waking the workers
func TestWorkQueue_RunWithNothingSeeded(t *testing.T) {
	q := NewWorkQueueWithConfig[struct{}, int]("empty", 2, struct{}{}, quietConfig())
	defer q.Shutdown()

	if err := q.Run(); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	if got := q.Stats().UnitsExecuted; got != 0 {
		t.Errorf("UnitsExecuted = %d, want 0", got)
	}
}

// TestWorkQueue_SingleWorker verifies a one-worker queue completes runs
// Given: A queue with threadCount=1 (no steal victims at all)
// When: Seeds that fork more work are run
// Then: The single worker drains everything
func TestWorkQueue_SingleWorker(t *testing.T) {
	q := NewWorkQueueWithConfig[struct{}, int]("solo", 1, struct{}{}, quietConfig())
	defer q.Shutdown()

	var executed atomic.Int64
	var body WorkBody[struct{}, int]
	body = func(d int, p *Proxy[struct{}, int]) {
		executed.Add(1)
		if d > 0 {
			p.Fork(WorkUnit[struct{}, int]{Body: body, Data: d - 1})
		}
	}
	q.Push(WorkUnit[struct{}, int]{Body: body, Data: 50})

	if err := q.Run(); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	if got := executed.Load(); got != 51 {
		t.Errorf("executed = %d, want 51", got)
	}
}

// TestWorkQueue_ContextAndWorkerID verifies queue data and worker index
// plumbing
// Given: A queue whose context holds one accumulator slot per worker
// When: Bodies add into the slot of their own worker
// Then: Slots sum to the expected total and no body saw an out-of-range ID
func TestWorkQueue_ContextAndWorkerID(t *testing.T) {
	// Arrange
	type sumContext struct {
		perWorker []atomic.Int64
	}
	const threads = 4
	ctx := sumContext{perWorker: make([]atomic.Int64, threads)}
	q := NewWorkQueueWithConfig[sumContext, int]("ctx", threads, ctx, quietConfig())
	defer q.Shutdown()

	var badID atomic.Int32
	body := func(v int, p *Proxy[sumContext, int]) {
		id := p.WorkerID()
		if id < 0 || id >= threads {
			badID.Add(1)
			return
		}
		p.Context().perWorker[id].Add(int64(v))
	}

	const seeds = 1000
	want := int64(0)
	for i := 1; i <= seeds; i++ {
		q.Push(WorkUnit[sumContext, int]{Body: body, Data: i})
		want += int64(i)
	}

	// Act
	if err := q.Run(); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}

	// Assert
	if badID.Load() != 0 {
		t.Errorf("%d bodies saw an out-of-range worker ID", badID.Load())
	}
	got := int64(0)
	for i := range q.Context().perWorker {
		got += q.Context().perWorker[i].Load()
	}
	if got != want {
		t.Errorf("per-worker sums = %d, want %d", got, want)
	}
}

// TestWorkQueue_WorkIsDistributed verifies that starving workers steal
// Given: Seeds that sleep briefly, all placed on worker 0's deque
// When: A 4-worker run executes them
// Then: The run's steal count is non-zero and per-worker units sum up
func TestWorkQueue_WorkIsDistributed(t *testing.T) {
	q := NewWorkQueueWithConfig[struct{}, int]("spread", 4, struct{}{}, quietConfig())
	defer q.Shutdown()

	const seeds = 64
	body := func(i int, p *Proxy[struct{}, int]) {
		time.Sleep(100 * time.Microsecond)
	}
	for i := 0; i < seeds; i++ {
		q.Push(WorkUnit[struct{}, int]{Body: body, Data: i})
	}

	if err := q.Run(); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}

	runs := q.RecentRuns(1)
	if len(runs) != 1 {
		t.Fatalf("RecentRuns(1) returned %d records, want 1", len(runs))
	}
	if runs[0].UnitsExecuted != seeds {
		t.Errorf("RunRecord.UnitsExecuted = %d, want %d", runs[0].UnitsExecuted, seeds)
	}
	if runs[0].Steals == 0 {
		t.Error("RunRecord.Steals = 0, want > 0 (seeds start on one deque)")
	}

	var total int64
	for _, ws := range q.WorkerStats() {
		total += ws.UnitsExecuted
	}
	if total != seeds {
		t.Errorf("sum of WorkerStats.UnitsExecuted = %d, want %d", total, seeds)
	}
}

// TestWorkQueue_PanicAbortsRun verifies the abort path end to end
// Given: A run in which exactly one unit panics
// When: Run returns
// Then: The error matches ErrRunAborted, the panic handler fired once,
//	leftover units are discarded, and the queue stays usable
func TestWorkQueue_PanicAbortsRun(t *testing.T) {
	// Arrange
	handler := &recordingPanicHandler{}
	metrics := &recordingMetrics{}
	cfg := quietConfig()
	cfg.PanicHandler = handler
	cfg.Metrics = metrics
	q := NewWorkQueueWithConfig[struct{}, int]("abort", 2, struct{}{}, cfg)
	defer q.Shutdown()

	q.Push(WorkUnit[struct{}, int]{Body: func(i int, p *Proxy[struct{}, int]) {
		panic("boom")
	}, Data: 0})

	// Act
	err := q.Run()

	// Assert - Error shape
	if err == nil {
		t.Fatal("Run() = nil, want abort error")
	}
	if !errors.Is(err, ErrRunAborted) {
		t.Errorf("errors.Is(err, ErrRunAborted) = false for %v", err)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("err = %v, want it to mention the panic value", err)
	}

	// Assert - Handler and metrics observed the panic
	if got := handler.callCount(); got != 1 {
		t.Errorf("panic handler called %d times, want 1", got)
	}
	metrics.mu.Lock()
	panics, aborts := metrics.panics, metrics.aborts
	metrics.mu.Unlock()
	if panics != 1 {
		t.Errorf("RecordUnitPanic called %d times, want 1", panics)
	}
	if aborts != 1 {
		t.Errorf("RecordRunAborted called %d times, want 1", aborts)
	}

	// Assert - Queue survives and the next run is clean
	if got := q.Stats().RunsAborted; got != 1 {
		t.Errorf("RunsAborted = %d, want 1", got)
	}
	var executed atomic.Int64
	q.Push(WorkUnit[struct{}, int]{Body: func(i int, p *Proxy[struct{}, int]) {
		executed.Add(1)
	}, Data: 0})
	if err := q.Run(); err != nil {
		t.Fatalf("Run() after abort = %v, want nil", err)
	}
	if executed.Load() != 1 {
		t.Errorf("executed = %d, want 1", executed.Load())
	}
}

// TestWorkQueue_AbortDiscardsLeftovers verifies failed-run units never
// leak into the next run
// Given: Many slow seeds plus one that panics
// When: The aborted run returns and a fresh run follows
// Then: The fresh run executes exactly its own seeds
func TestWorkQueue_AbortDiscardsLeftovers(t *testing.T) {
	q := NewWorkQueueWithConfig[struct{}, int]("leftovers", 2, struct{}{}, quietConfig())
	defer q.Shutdown()

	var firstBatch atomic.Int64
	slow := func(i int, p *Proxy[struct{}, int]) {
		firstBatch.Add(1)
		time.Sleep(time.Millisecond)
	}
	for i := 0; i < 100; i++ {
		q.Push(WorkUnit[struct{}, int]{Body: slow, Data: i})
	}
	q.Push(WorkUnit[struct{}, int]{Body: func(i int, p *Proxy[struct{}, int]) {
		panic("fail fast")
	}, Data: -1})

	if err := q.Run(); !errors.Is(err, ErrRunAborted) {
		t.Fatalf("Run() = %v, want ErrRunAborted", err)
	}
	if got := q.PendingUnits(); got != 0 {
		t.Errorf("PendingUnits() after abort = %d, want 0", got)
	}

	var secondBatch atomic.Int64
	for i := 0; i < 5; i++ {
		q.Push(WorkUnit[struct{}, int]{Body: func(i int, p *Proxy[struct{}, int]) {
			secondBatch.Add(1)
		}, Data: i})
	}
	if err := q.Run(); err != nil {
		t.Fatalf("Run() after abort = %v, want nil", err)
	}
	if got := secondBatch.Load(); got != 5 {
		t.Errorf("second run executed = %d, want exactly 5", got)
	}
}

// TestWorkQueue_PushFromBodyPanicsAndAborts verifies the idle-only Push
// guard is enforced even from inside a run
// Given: A body that calls Push on its own queue
// When: Run executes it
// Then: The guard panic aborts the run with a descriptive error
func TestWorkQueue_PushFromBodyPanicsAndAborts(t *testing.T) {
	cfg := quietConfig()
	cfg.PanicHandler = &recordingPanicHandler{}
	q := NewWorkQueueWithConfig[struct{}, int]("pushguard", 2, struct{}{}, cfg)
	defer q.Shutdown()

	q.Push(WorkUnit[struct{}, int]{Body: func(i int, p *Proxy[struct{}, int]) {
		q.Push(WorkUnit[struct{}, int]{Body: func(int, *Proxy[struct{}, int]) {}, Data: 0})
	}, Data: 0})

	err := q.Run()
	if !errors.Is(err, ErrRunAborted) {
		t.Fatalf("Run() = %v, want ErrRunAborted", err)
	}
	if !strings.Contains(err.Error(), "Push called while running") {
		t.Errorf("err = %v, want the Push guard message", err)
	}
}

// TestWorkQueue_LifecyclePanics verifies fail-fast misuse guards
// Given: Queues in various lifecycle states
// When: Methods are called in invalid states
// Then: Each call panics with a descriptive message
func TestWorkQueue_LifecyclePanics(t *testing.T) {
	// Constructor guards
	expectPanic(t, "threadCount must be at least 1", func() {
		NewWorkQueue[struct{}, int]("bad", 0, struct{}{})
	})
	expectPanic(t, "threadCount must not exceed", func() {
		NewWorkQueue[struct{}, int]("bad", maxAllowedThreads+1, struct{}{})
	})

	// Nil body guard
	q := NewWorkQueueWithConfig[struct{}, int]("guards", 1, struct{}{}, quietConfig())
	expectPanic(t, "nil Body", func() {
		q.Push(WorkUnit[struct{}, int]{})
	})

	// Terminal state guards
	q.Shutdown()
	expectPanic(t, "Push called after Shutdown", func() {
		q.Push(WorkUnit[struct{}, int]{Body: func(int, *Proxy[struct{}, int]) {}, Data: 0})
	})
	expectPanic(t, "Run called after Shutdown", func() {
		q.Run()
	})
	expectPanic(t, "Shutdown called twice", func() {
		q.Shutdown()
	})
}

// TestWorkQueue_StatsAndHistory verifies the observability surface
// Given: A queue that completed two runs
// When: Stats and RecentRuns are read
// Then: Counters, state, and newest-first history line up
func TestWorkQueue_StatsAndHistory(t *testing.T) {
	q := NewWorkQueueWithConfig[struct{}, int]("stats", 2, struct{}{}, quietConfig())
	defer q.Shutdown()

	body := func(i int, p *Proxy[struct{}, int]) {}
	q.Push(WorkUnit[struct{}, int]{Body: body, Data: 0})
	if err := q.Run(); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	for i := 0; i < 3; i++ {
		q.Push(WorkUnit[struct{}, int]{Body: body, Data: i})
	}
	if err := q.Run(); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	stats := q.Stats()
	if stats.Name != "stats" {
		t.Errorf("Stats().Name = %q, want %q", stats.Name, "stats")
	}
	if stats.Threads != 2 {
		t.Errorf("Stats().Threads = %d, want 2", stats.Threads)
	}
	if stats.State != "idle" {
		t.Errorf("Stats().State = %q, want %q", stats.State, "idle")
	}
	if stats.RunsCompleted != 2 {
		t.Errorf("Stats().RunsCompleted = %d, want 2", stats.RunsCompleted)
	}
	if stats.UnitsExecuted != 4 {
		t.Errorf("Stats().UnitsExecuted = %d, want 4", stats.UnitsExecuted)
	}
	if stats.LastRunAt.IsZero() {
		t.Error("Stats().LastRunAt is zero, want a timestamp")
	}

	runs := q.RecentRuns(0)
	if len(runs) != 2 {
		t.Fatalf("RecentRuns(0) returned %d records, want 2", len(runs))
	}
	// Newest first: the 3-unit run precedes the 1-unit run.
	if runs[0].UnitsExecuted != 3 || runs[1].UnitsExecuted != 1 {
		t.Errorf("RecentRuns units = [%d, %d], want [3, 1]",
			runs[0].UnitsExecuted, runs[1].UnitsExecuted)
	}
	if runs[0].Aborted || runs[1].Aborted {
		t.Error("clean runs marked aborted")
	}

	workers := q.WorkerStats()
	if len(workers) != 2 {
		t.Fatalf("WorkerStats() returned %d entries, want 2", len(workers))
	}
	for i, ws := range workers {
		if ws.ID != i {
			t.Errorf("WorkerStats()[%d].ID = %d, want %d", i, ws.ID, i)
		}
	}
}

// TestWorkQueue_LockOSThread verifies the pinned-worker configuration
// still completes runs
// Given: A queue configured with LockOSThread
// When: A forking workload runs
// Then: Everything executes and the queue shuts down cleanly
func TestWorkQueue_LockOSThread(t *testing.T) {
	cfg := quietConfig()
	cfg.LockOSThread = true
	q := NewWorkQueueWithConfig[struct{}, int]("pinned", 2, struct{}{}, cfg)

	var executed atomic.Int64
	var body WorkBody[struct{}, int]
	body = func(d int, p *Proxy[struct{}, int]) {
		executed.Add(1)
		if d > 0 {
			p.Fork(WorkUnit[struct{}, int]{Body: body, Data: d - 1})
		}
	}
	q.Push(WorkUnit[struct{}, int]{Body: body, Data: 10})

	if err := q.Run(); err != nil {
		t.Fatalf("Run() = %v, want nil", err)
	}
	if executed.Load() != 11 {
		t.Errorf("executed = %d, want 11", executed.Load())
	}
	q.Shutdown()
}

// TestWorkQueue_MetricsRecorded verifies run metrics reach the Metrics
// implementation
// Given: A queue with a recording Metrics
// When: A clean run completes
// Then: Duration and unit counts were recorded once
func TestWorkQueue_MetricsRecorded(t *testing.T) {
	metrics := &recordingMetrics{}
	cfg := quietConfig()
	cfg.Metrics = metrics
	q := NewWorkQueueWithConfig[struct{}, int]("metered", 2, struct{}{}, cfg)
	defer q.Shutdown()

	for i := 0; i < 7; i++ {
		q.Push(WorkUnit[struct{}, int]{Body: func(int, *Proxy[struct{}, int]) {}, Data: i})
	}
	if err := q.Run(); err != nil {
		t.Fatalf("Run() = %v", err)
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	if metrics.runs != 1 {
		t.Errorf("RecordRunDuration called %d times, want 1", metrics.runs)
	}
	if metrics.units != 7 {
		t.Errorf("RecordUnitsExecuted total = %d, want 7", metrics.units)
	}
	if metrics.aborts != 0 {
		t.Errorf("RecordRunAborted called %d times, want 0", metrics.aborts)
	}
}

// TestBackoffConfig_WithDefaults verifies zero fields fall back without
// clobbering explicit values
func TestBackoffConfig_WithDefaults(t *testing.T) {
	def := DefaultBackoffConfig()

	zero := BackoffConfig{}.withDefaults()
	if zero != def {
		t.Errorf("zero.withDefaults() = %+v, want %+v", zero, def)
	}

	custom := BackoffConfig{SpinsBeforeSleep: 9}.withDefaults()
	if custom.SpinsBeforeSleep != 9 {
		t.Errorf("SpinsBeforeSleep = %d, want 9", custom.SpinsBeforeSleep)
	}
	if custom.SpinsBeforeControlCheck != def.SpinsBeforeControlCheck {
		t.Errorf("SpinsBeforeControlCheck = %d, want default %d",
			custom.SpinsBeforeControlCheck, def.SpinsBeforeControlCheck)
	}
	if custom.MaxSleep != def.MaxSleep {
		t.Errorf("MaxSleep = %v, want default %v", custom.MaxSleep, def.MaxSleep)
	}
}

// TestWorkQueue_NilConfigUsesDefaults verifies construction with a nil
// config behaves like NewWorkQueue
func TestWorkQueue_NilConfigUsesDefaults(t *testing.T) {
	q := NewWorkQueueWithConfig[struct{}, int]("", 1, struct{}{}, nil)
	defer q.Shutdown()

	if q.Name() != "workqueue" {
		t.Errorf("Name() = %q, want the default %q", q.Name(), "workqueue")
	}
	var executed atomic.Int64
	q.Push(WorkUnit[struct{}, int]{Body: func(int, *Proxy[struct{}, int]) {
		executed.Add(1)
	}, Data: 0})
	if err := q.Run(); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if executed.Load() != 1 {
		t.Errorf("executed = %d, want 1", executed.Load())
	}
}
