package core

// Proxy gives an executing work unit controlled access to the queue that
// is running it. A fresh proxy is handed to every body invocation and is
// only valid until that invocation returns; bodies must not retain it.
type Proxy[Q, W any] struct {
	worker *worker[Q, W]
}

// Fork schedules a new unit onto the executing worker's own deque, where
// it is picked up by this worker or stolen by a starving one.
//
// The outstanding-work counter is incremented before the unit becomes
// visible. The other order would let the counter dip to zero while forked
// work still exists and end the run early.
func (p *Proxy[Q, W]) Fork(unit WorkUnit[Q, W]) {
	if unit.Body == nil {
		panic("Proxy: Fork called with nil Body")
	}
	w := p.worker
	w.outstanding.Add(1)
	w.deque.Push(unit)
	w.forks.Add(1)
}

// Context returns the queue-wide data shared by all units of the queue.
// The data is owned by the queue; bodies on different workers read it
// concurrently, so treat it as immutable unless Q does its own locking.
func (p *Proxy[Q, W]) Context() *Q {
	return p.worker.data
}

// WorkerID returns the index of the worker executing the current unit,
// in [0, thread count). Bodies can use it to keep per-worker scratch
// state without locks.
func (p *Proxy[Q, W]) WorkerID() int {
	return p.worker.id
}
