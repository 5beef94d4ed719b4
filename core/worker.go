package core

import (
	"fmt"
	"math/rand"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// =============================================================================
// Control protocol between the WorkQueue supervisor and its workers
// =============================================================================

type workerMsgKind int

const (
	// msgStart hands a worker its deque, the shared outstanding-work
	// counter, and the queue data, and moves it from idle to running.
	msgStart workerMsgKind = iota

	// msgStop tells a running worker to return its deque and go idle.
	msgStop

	// msgExit tells an idle worker to terminate.
	msgExit
)

func (k workerMsgKind) String() string {
	switch k {
	case msgStart:
		return "Start"
	case msgStop:
		return "Stop"
	case msgExit:
		return "Exit"
	}
	return fmt.Sprintf("workerMsgKind(%d)", int(k))
}

// workerMsg is a control message from the supervisor to one worker.
// Payload fields are only set for Start.
type workerMsg[Q, W any] struct {
	kind        workerMsgKind
	deque       *Deque[WorkUnit[Q, W]]
	outstanding *atomic.Int64
	data        *Q
}

type supervisorMsgKind int

const (
	// msgFinished reports that the sender's counter decrement took the
	// outstanding-work count to zero: the run is complete.
	msgFinished supervisorMsgKind = iota

	// msgReturnDeque hands the worker's deque back after a Stop.
	msgReturnDeque

	// msgAborted reports that a unit body panicked on the sender.
	msgAborted
)

func (k supervisorMsgKind) String() string {
	switch k {
	case msgFinished:
		return "Finished"
	case msgReturnDeque:
		return "ReturnDeque"
	case msgAborted:
		return "Aborted"
	}
	return fmt.Sprintf("supervisorMsgKind(%d)", int(k))
}

// supervisorMsg is a status message from a worker to the supervisor.
type supervisorMsg[Q, W any] struct {
	kind       supervisorMsgKind
	workerID   int
	deque      *Deque[WorkUnit[Q, W]]
	panicValue any
	stack      []byte
}

// =============================================================================
// worker: one stealing goroutine of a WorkQueue
// =============================================================================

// worker runs one goroutine of the queue. Between runs it parks on its
// control channel. During a run it owns one deque (always the same one,
// handed over in Start and handed back in ReturnDeque) and steals from the
// other workers' deques when its own runs dry.
type worker[Q, W any] struct {
	id    int
	queue *WorkQueue[Q, W]
	ctrl  chan workerMsg[Q, W]

	// Run state, delivered via Start. Only touched by this worker's
	// goroutine while running; bodies reach it through their Proxy.
	deque       *Deque[WorkUnit[Q, W]]
	outstanding *atomic.Int64
	data        *Q

	// Steal victims are drawn from a per-worker source so workers never
	// contend on shared rng state in the steal loop.
	rng *rand.Rand

	// Lifetime counters, read concurrently by WorkerStats.
	unitsExecuted atomic.Int64
	steals        atomic.Int64
	forks         atomic.Int64
}

func newWorker[Q, W any](id int, queue *WorkQueue[Q, W]) *worker[Q, W] {
	return &worker[Q, W]{
		id:    id,
		queue: queue,
		// Capacity 2 holds the worst case of an unconsumed Start plus the
		// Stop that follows a run resolving before this worker woke up.
		ctrl: make(chan workerMsg[Q, W], 2),
		rng:  rand.New(rand.NewSource(int64(id)<<32 ^ time.Now().UnixNano())),
	}
}

// run is the goroutine entry point: an idle loop around running passes.
func (w *worker[Q, W]) run() {
	defer w.queue.wg.Done()

	if w.queue.config.LockOSThread {
		// Pin this worker to its own OS thread. No matching unlock: the
		// thread is torn down with the goroutine on Exit.
		runtime.LockOSThread()
	}

	for {
		msg := <-w.ctrl
		switch msg.kind {
		case msgStart:
			w.runPass(msg)
		case msgExit:
			return
		default:
			panic(fmt.Sprintf("worker %d: received %v while idle", w.id, msg.kind))
		}
	}
}

// runPass works one run: execute own work, steal when starving, back off
// when the whole queue looks drained, and return the deque on Stop.
func (w *worker[Q, W]) runPass(start workerMsg[Q, W]) {
	w.deque = start.deque
	w.outstanding = start.outstanding
	w.data = start.data

	cfg := w.queue.config.Backoff
	fails := 0
	var sleep time.Duration

	for {
		unit, ok := w.deque.Pop()
		if !ok {
			unit, ok = w.trySteal()
		}

		if ok {
			if !w.runUnit(unit) {
				// Unit panicked; abort already reported and the deque
				// returned. The pass is over for this worker.
				return
			}
			fails = 0
			sleep = 0
			continue
		}

		fails++

		if fails%cfg.SpinsBeforeControlCheck == 0 && w.pollStop() {
			w.returnDeque()
			return
		}

		if fails >= cfg.SpinsBeforeSleep {
			sleep = min(sleep+cfg.SleepIncrement, cfg.MaxSleep)
			time.Sleep(sleep)
		} else {
			runtime.Gosched()
		}
	}
}

// trySteal makes one steal attempt against a uniformly random victim.
// An Abort counts as a failure like Empty does; the caller simply comes
// back around, usually to a different victim.
func (w *worker[Q, W]) trySteal() (WorkUnit[Q, W], bool) {
	deques := w.queue.deques
	n := len(deques)
	if n <= 1 {
		var zero WorkUnit[Q, W]
		return zero, false
	}

	victim := w.rng.Intn(n - 1)
	if victim >= w.id {
		victim++
	}

	unit, res := deques[victim].Steal()
	if res != StealSuccess {
		var zero WorkUnit[Q, W]
		return zero, false
	}
	w.steals.Add(1)
	return unit, true
}

// runUnit executes one unit and settles its accounting. Returns false if
// the body panicked, in which case the worker has already reported the
// abort and returned its deque.
func (w *worker[Q, W]) runUnit(unit WorkUnit[Q, W]) bool {
	rec, stack := w.execute(unit)
	if rec != nil {
		q := w.queue
		q.panicHandler.HandlePanic(q.name, w.id, rec, stack)
		q.metrics.RecordUnitPanic(q.name, rec)

		// No counter decrement: the panicked unit's work never completed,
		// so the counter must not reach zero and report a finished run.
		q.supervisorCh <- supervisorMsg[Q, W]{
			kind:       msgAborted,
			workerID:   w.id,
			panicValue: rec,
			stack:      stack,
		}
		w.awaitStop()
		w.returnDeque()
		return false
	}

	w.unitsExecuted.Add(1)
	if w.outstanding.Add(-1) == 0 {
		w.queue.supervisorCh <- supervisorMsg[Q, W]{kind: msgFinished, workerID: w.id}
	}
	return true
}

// execute runs the body with panic recovery. A fresh proxy per invocation
// keeps retained proxies from poking a later run's state.
func (w *worker[Q, W]) execute(unit WorkUnit[Q, W]) (rec any, stack []byte) {
	defer func() {
		if r := recover(); r != nil {
			rec = r
			stack = debug.Stack()
		}
	}()
	proxy := Proxy[Q, W]{worker: w}
	unit.Body(unit.Data, &proxy)
	return nil, nil
}

// pollStop drains one control message without blocking. Anything other
// than Stop while running means the supervisor broke the protocol.
func (w *worker[Q, W]) pollStop() bool {
	select {
	case msg := <-w.ctrl:
		if msg.kind != msgStop {
			panic(fmt.Sprintf("worker %d: received %v while running", w.id, msg.kind))
		}
		return true
	default:
		return false
	}
}

// awaitStop blocks until the supervisor sends Stop. Used after reporting
// an abort: the worker must not keep executing, but the deque handover
// still follows the normal Stop/ReturnDeque order.
func (w *worker[Q, W]) awaitStop() {
	msg := <-w.ctrl
	if msg.kind != msgStop {
		panic(fmt.Sprintf("worker %d: received %v while aborting", w.id, msg.kind))
	}
}

// returnDeque hands the deque back to the supervisor and clears the run
// state so a stale body cannot reach a finished run through it.
func (w *worker[Q, W]) returnDeque() {
	d := w.deque
	w.deque = nil
	w.outstanding = nil
	w.data = nil
	w.queue.supervisorCh <- supervisorMsg[Q, W]{kind: msgReturnDeque, workerID: w.id, deque: d}
}

func (w *worker[Q, W]) stats() WorkerStats {
	return WorkerStats{
		ID:            w.id,
		UnitsExecuted: w.unitsExecuted.Load(),
		Steals:        w.steals.Load(),
		Forks:         w.forks.Load(),
	}
}
