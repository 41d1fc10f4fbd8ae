package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cloud-gpu-shopper/inferload/internal/earlyexit"
	"github.com/cloud-gpu-shopper/inferload/internal/inferclient"
	"github.com/cloud-gpu-shopper/inferload/internal/pausegate"
	"github.com/cloud-gpu-shopper/inferload/internal/tsbuffer"
	"github.com/cloud-gpu-shopper/inferload/pkg/model"
)

// ClientFactory builds one RPC client for the worker at the given index.
// The synchronous pool calls it once per worker, at spawn time, since each
// worker exclusively owns one RPC context for its lifetime.
type ClientFactory func(index int) (inferclient.Client, error)

// RequestTemplate is the (mostly non-goal) request shape every worker
// issues. Random bytes stand in for realistic payload generation.
type RequestTemplate struct {
	ModelName    string
	ModelVersion int64
	BatchSize    int
	InputBytes   []byte
}

func (t RequestTemplate) options() inferclient.RunOptions {
	return inferclient.RunOptions{
		ModelName:    t.ModelName,
		ModelVersion: t.ModelVersion,
		BatchSize:    t.BatchSize,
		InputBytes:   t.InputBytes,
	}
}

// SyncPool is the synchronous worker pool variant of spec §4.2: each worker
// is a dedicated goroutine bound to one RPC context, issuing one blocking
// request at a time and suspending on the Pause Gate between windows of
// activity. Workers are spawned once and never destroyed; lowering
// concurrency only pauses them.
type SyncPool struct {
	newClient ClientFactory
	template  RequestTemplate
	gate      *pausegate.Gate
	buf       *tsbuffer.Buffer
	stats     *StatSet
	exit      *earlyexit.Flag
	logger    *slog.Logger

	mu      sync.Mutex
	workers []*syncWorker
	wg      sync.WaitGroup
}

type syncWorker struct {
	index  int
	client inferclient.Client
	status Status
}

// NewSyncPool constructs a pool with no workers spawned yet; call
// EnsureConcurrency to spawn up to a target concurrency level.
func NewSyncPool(newClient ClientFactory, template RequestTemplate, gate *pausegate.Gate, buf *tsbuffer.Buffer, logger *slog.Logger) *SyncPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncPool{
		newClient: newClient,
		template:  template,
		gate:      gate,
		buf:       buf,
		stats:     NewStatSet(0),
		exit:      earlyexit.New(),
		logger:    logger,
	}
}

// WorkerCount returns the number of workers spawned so far.
func (p *SyncPool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// EnsureConcurrency raises the pause gate to target and spawns any
// additional workers needed to reach it. It never lowers worker count; a
// smaller target only pauses the excess workers via the gate.
func (p *SyncPool) EnsureConcurrency(ctx context.Context, target int) error {
	p.gate.SetActiveCount(target)

	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.workers) < target {
		idx := len(p.workers)
		client, err := p.newClient(idx)
		if err != nil {
			return fmt.Errorf("spawn worker %d: %w", idx, err)
		}

		maxBatch, err := client.NegotiateMaxBatchSize(ctx, p.template.ModelName, p.template.ModelVersion)
		if err != nil {
			return fmt.Errorf("negotiate batch size for worker %d: %w", idx, err)
		}
		if p.template.BatchSize > maxBatch {
			return inferclient.New(inferclient.KindInvalidArgument, "EnsureConcurrency",
				fmt.Sprintf("requested batch size %d exceeds model maximum %d", p.template.BatchSize, maxBatch), nil)
		}

		w := &syncWorker{index: idx, client: client}
		p.workers = append(p.workers, w)
		p.stats.Grow(len(p.workers))

		p.wg.Add(1)
		go p.run(ctx, w)
	}
	return nil
}

func (p *SyncPool) run(ctx context.Context, w *syncWorker) {
	defer p.wg.Done()
	opts := p.template.options()

	for !p.exit.IsSet() {
		start := model.Now()
		_, err := w.client.Run(ctx, opts)
		end := model.Now()

		if err != nil {
			w.status.SetErr(err)
			p.logger.Error("worker RPC failed", slog.Int("worker", w.index), slog.String("error", err.Error()))
			return
		}

		p.buf.Append(model.TimestampPair{Start: start, End: end})

		if stat, statErr := w.client.GetStat(ctx); statErr == nil {
			p.stats.Set(w.index, stat)
		}

		p.gate.Wait(w.index)
	}
}

// StatusErr returns the first fatal error recorded by any spawned worker,
// or nil if all are healthy.
func (p *SyncPool) StatusErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		if err := w.status.Err(); err != nil {
			return fmt.Errorf("worker %d: %w", w.index, err)
		}
	}
	return nil
}

// Stats returns the ContextStat snapshot summed across every worker.
func (p *SyncPool) Stats() model.ContextStat {
	return p.stats.Snapshot()
}

// Shutdown sets early-exit, releases every worker from the pause gate so
// none is left blocked, joins them all, and closes their clients.
func (p *SyncPool) Shutdown() {
	p.exit.Set()
	p.mu.Lock()
	n := len(p.workers)
	p.mu.Unlock()
	p.gate.ReleaseAll(n)
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		_ = w.client.Close()
	}
}
