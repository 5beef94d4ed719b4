package prometheus

import (
	"context"
	"strconv"
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/parwork/go-work-queue/core"
)

// QueueSnapshotProvider provides current queue and worker stats snapshots.
// *core.WorkQueue satisfies it for any type parameters.
type QueueSnapshotProvider interface {
	Stats() core.QueueStats
	WorkerStats() []core.WorkerStats
}

// SnapshotPoller periodically exports queue Stats() snapshots into
// Prometheus gauges. Stats and WorkerStats are safe to call from the
// poller goroutine while the owning goroutine runs passes.
type SnapshotPoller struct {
	interval time.Duration

	queuesMu sync.RWMutex
	queues   map[string]QueueSnapshotProvider

	queuePending       *prom.GaugeVec
	queueRunsCompleted *prom.GaugeVec
	queueRunsAborted   *prom.GaugeVec
	queueUnitsExecuted *prom.GaugeVec
	queueThreads       *prom.GaugeVec
	queueRunning       *prom.GaugeVec

	workerUnitsExecuted *prom.GaugeVec
	workerSteals        *prom.GaugeVec
	workerForks         *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	queuePending := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "workqueue",
		Name:      "queue_pending_units",
		Help:      "Seeded units waiting for the next run per queue.",
	}, []string{"queue"})
	queueRunsCompleted := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "workqueue",
		Name:      "queue_runs_completed",
		Help:      "Completed run count snapshot per queue.",
	}, []string{"queue"})
	queueRunsAborted := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "workqueue",
		Name:      "queue_runs_aborted",
		Help:      "Aborted run count snapshot per queue.",
	}, []string{"queue"})
	queueUnitsExecuted := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "workqueue",
		Name:      "queue_units_executed",
		Help:      "Executed unit count snapshot per queue.",
	}, []string{"queue"})
	queueThreads := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "workqueue",
		Name:      "queue_threads",
		Help:      "Worker thread count per queue.",
	}, []string{"queue"})
	queueRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "workqueue",
		Name:      "queue_running",
		Help:      "Queue run state (1=running, 0=idle or shut down).",
	}, []string{"queue"})

	workerUnitsExecuted := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "workqueue",
		Name:      "worker_units_executed",
		Help:      "Executed unit count snapshot per worker.",
	}, []string{"queue", "worker"})
	workerSteals := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "workqueue",
		Name:      "worker_steals",
		Help:      "Successful steal count snapshot per worker.",
	}, []string{"queue", "worker"})
	workerForks := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "workqueue",
		Name:      "worker_forks",
		Help:      "Forked unit count snapshot per worker.",
	}, []string{"queue", "worker"})

	var err error
	if queuePending, err = registerCollector(reg, queuePending); err != nil {
		return nil, err
	}
	if queueRunsCompleted, err = registerCollector(reg, queueRunsCompleted); err != nil {
		return nil, err
	}
	if queueRunsAborted, err = registerCollector(reg, queueRunsAborted); err != nil {
		return nil, err
	}
	if queueUnitsExecuted, err = registerCollector(reg, queueUnitsExecuted); err != nil {
		return nil, err
	}
	if queueThreads, err = registerCollector(reg, queueThreads); err != nil {
		return nil, err
	}
	if queueRunning, err = registerCollector(reg, queueRunning); err != nil {
		return nil, err
	}
	if workerUnitsExecuted, err = registerCollector(reg, workerUnitsExecuted); err != nil {
		return nil, err
	}
	if workerSteals, err = registerCollector(reg, workerSteals); err != nil {
		return nil, err
	}
	if workerForks, err = registerCollector(reg, workerForks); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:            interval,
		queues:              make(map[string]QueueSnapshotProvider),
		queuePending:        queuePending,
		queueRunsCompleted:  queueRunsCompleted,
		queueRunsAborted:    queueRunsAborted,
		queueUnitsExecuted:  queueUnitsExecuted,
		queueThreads:        queueThreads,
		queueRunning:        queueRunning,
		workerUnitsExecuted: workerUnitsExecuted,
		workerSteals:        workerSteals,
		workerForks:         workerForks,
	}, nil
}

// AddQueue adds or replaces a queue snapshot provider by name.
func (p *SnapshotPoller) AddQueue(name string, provider QueueSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "queue")
	p.queuesMu.Lock()
	p.queues[name] = provider
	p.queuesMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.queuesMu.RLock()
	defer p.queuesMu.RUnlock()

	for name, provider := range p.queues {
		stats := provider.Stats()
		p.queuePending.WithLabelValues(name).Set(float64(stats.PendingUnits))
		p.queueRunsCompleted.WithLabelValues(name).Set(float64(stats.RunsCompleted))
		p.queueRunsAborted.WithLabelValues(name).Set(float64(stats.RunsAborted))
		p.queueUnitsExecuted.WithLabelValues(name).Set(float64(stats.UnitsExecuted))
		p.queueThreads.WithLabelValues(name).Set(float64(stats.Threads))
		if stats.State == "running" {
			p.queueRunning.WithLabelValues(name).Set(1)
		} else {
			p.queueRunning.WithLabelValues(name).Set(0)
		}

		for _, ws := range provider.WorkerStats() {
			worker := strconv.Itoa(ws.ID)
			p.workerUnitsExecuted.WithLabelValues(name, worker).Set(float64(ws.UnitsExecuted))
			p.workerSteals.WithLabelValues(name, worker).Set(float64(ws.Steals))
			p.workerForks.WithLabelValues(name, worker).Set(float64(ws.Forks))
		}
	}
}
