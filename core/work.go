package core

// WorkBody is the function executed for a unit of work (Closure).
//
// data is the unit's payload. proxy gives the body access to the queue it
// is running on: forking follow-up units, the queue-wide context, and the
// index of the executing worker. The proxy is only valid for the duration
// of the call.
//
// Q is the queue-wide context type shared by all units; W is the per-unit
// payload type. Both must be safe to share across workers: W values are
// moved between workers by stealing, and Q is read concurrently.
type WorkBody[Q, W any] func(data W, proxy *Proxy[Q, W])

// WorkUnit pairs a body with its payload.
//
// Many units usually share one body (the algorithm) and differ only in
// Data (the position or item the algorithm is applied to). Units are
// small values; they are copied into and out of deques.
type WorkUnit[Q, W any] struct {
	Body WorkBody[Q, W]
	Data W
}
