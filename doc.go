// Package workqueue provides a fork-join work-stealing scheduler for Go.
//
// This library implements a supervisor-and-workers model where an owning
// goroutine seeds work units, runs them to completion across a fixed set
// of worker goroutines, and collects the outcome. Each worker owns a
// lock-free deque; idle workers steal from busy ones, so irregular
// workloads that fork new units mid-flight stay balanced without any
// central queue.
//
// # Quick Start
//
// Create a queue, seed it, and run:
//
//	queue := workqueue.New[struct{}, int]("demo", 4, struct{}{})
//	defer queue.Shutdown()
//
//	queue.Push(workqueue.WorkUnit[struct{}, int]{
//		Body: func(data int, proxy *workqueue.Proxy[struct{}, int]) {
//			// Runs on some worker; fork follow-up work via proxy.Fork.
//		},
//		Data: 42,
//	})
//	if err := queue.Run(); err != nil {
//		// A unit panicked and the run was aborted.
//	}
//
// # Key Concepts
//
// WorkUnit: A closure plus the value it runs on. Units are seeded with
// Push before a run, or forked by running units through their Proxy.
//
// WorkQueue: The supervisor. One goroutine owns it and alternates
// between seeding (Push) and running (Run). Run returns only when every
// unit, including everything forked along the way, has executed.
//
// Proxy: The handle a unit's body uses to fork new units onto its own
// worker's deque and to reach the queue-wide context value.
//
// Deque: The per-worker Chase-Lev double-ended queue. The owner pushes
// and pops at the bottom; thieves steal from the top.
//
// # Execution Model
//
// A run finishes when the outstanding-unit counter drops to zero. Units
// forked before their parent finishes are counted before they are
// published, so the counter can never hit zero while work is still in
// flight. If a unit panics the run aborts: leftover units are discarded,
// Run returns an error wrapping ErrRunAborted, and the queue stays
// usable for the next run.
//
// # Example
//
//	import (
//		workqueue "github.com/parwork/go-work-queue"
//	)
//
//	func main() {
//		queue := workqueue.New[struct{}, int]("sum", 4, struct{}{})
//		defer queue.Shutdown()
//
//		for i := range 100 {
//			queue.Push(workqueue.WorkUnit[struct{}, int]{
//				Body: process,
//				Data: i,
//			})
//		}
//		if err := queue.Run(); err != nil {
//			panic(err)
//		}
//	}
//
// For parallel tree traversals built on this queue, see the traverse
// subpackage.
//
// For more details, see https://github.com/parwork/go-work-queue
package workqueue
