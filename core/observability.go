package core

import "time"

// RunRecord captures one completed run of a work queue.
type RunRecord struct {
	QueueName     string
	StartedAt     time.Time
	FinishedAt    time.Time
	Duration      time.Duration
	UnitsExecuted int64
	Steals        int64
	Forks         int64
	Aborted       bool
}

// QueueStats represents runtime observability state for a work queue.
type QueueStats struct {
	Name            string
	Threads         int
	State           string
	PendingUnits    int
	RunsCompleted   int64
	RunsAborted     int64
	UnitsExecuted   int64
	LastRunAt       time.Time
	LastRunDuration time.Duration
}

// WorkerStats represents lifetime counters for one worker of a queue.
//
// UnitsExecuted counts bodies run to completion, Steals counts successful
// steals from other workers' deques, Forks counts units forked while a
// body executed on this worker. During a run the values are point-in-time
// estimates; between runs they are exact.
type WorkerStats struct {
	ID            int
	UnitsExecuted int64
	Steals        int64
	Forks         int64
}
