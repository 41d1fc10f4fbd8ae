package workerpool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cloud-gpu-shopper/inferload/internal/earlyexit"
	"github.com/cloud-gpu-shopper/inferload/internal/inferclient"
	"github.com/cloud-gpu-shopper/inferload/internal/pausegate"
	"github.com/cloud-gpu-shopper/inferload/internal/tsbuffer"
	"github.com/cloud-gpu-shopper/inferload/pkg/model"
)

// pollInterval bounds how long the async worker blocks on
// GetReadyAsyncRequest before re-checking early-exit, so teardown is never
// stuck waiting for a completion that will never arrive.
const pollInterval = 100 * time.Millisecond

// AsyncPool is the asynchronous worker pool variant of spec §4.3: a single
// goroutine drives up to pause_index simultaneous in-flight requests from
// one RPC context, trading worker-thread count for tighter scheduling when
// the client supports pipelining natively.
type AsyncPool struct {
	client   inferclient.Client
	template RequestTemplate
	gate     *pausegate.Gate
	buf      *tsbuffer.Buffer
	stats    *StatSet
	exit     *earlyexit.Flag
	logger   *slog.Logger
	status   Status

	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewAsyncPool constructs a pool around a single client. Exactly one worker
// goroutine is started, lazily, the first time EnsureConcurrency is called.
func NewAsyncPool(client inferclient.Client, template RequestTemplate, gate *pausegate.Gate, buf *tsbuffer.Buffer, logger *slog.Logger) *AsyncPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncPool{
		client:   client,
		template: template,
		gate:     gate,
		buf:      buf,
		stats:    NewStatSet(1),
		exit:     earlyexit.New(),
		logger:   logger,
	}
}

// EnsureConcurrency raises the pause gate to target and, on first call,
// starts the single driving goroutine.
func (p *AsyncPool) EnsureConcurrency(ctx context.Context, target int) error {
	p.gate.SetActiveCount(target)

	maxBatch, err := p.client.NegotiateMaxBatchSize(ctx, p.template.ModelName, p.template.ModelVersion)
	if err != nil {
		return fmt.Errorf("negotiate batch size: %w", err)
	}
	if p.template.BatchSize > maxBatch {
		return inferclient.New(inferclient.KindInvalidArgument, "EnsureConcurrency",
			fmt.Sprintf("requested batch size %d exceeds model maximum %d", p.template.BatchSize, maxBatch), nil)
	}

	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.run(ctx)
	})
	return nil
}

func (p *AsyncPool) run(ctx context.Context) {
	defer p.wg.Done()

	opts := p.template.options()
	pending := map[inferclient.RequestID]model.Timestamp{}
	inFlight := 0

	for !p.exit.IsSet() {
		active := p.gate.ActiveCount()

		for inFlight < active && !p.exit.IsSet() {
			start := model.Now()
			id, err := p.client.AsyncRun(ctx, opts)
			if err != nil {
				p.status.SetErr(err)
				p.logger.Error("async dispatch failed", slog.String("error", err.Error()))
				return
			}
			pending[id] = start
			inFlight++
		}

		blocking := inFlight >= active
		pollCtx, cancel := ctx, func() {}
		if blocking {
			pollCtx, cancel = context.WithTimeout(ctx, pollInterval)
		}
		id, err := p.client.GetReadyAsyncRequest(pollCtx, blocking)
		cancel()

		if err != nil {
			if inferclient.IsUnavailable(err) || pollCtx.Err() != nil {
				continue
			}
			p.status.SetErr(err)
			p.logger.Error("async completion poll failed", slog.String("error", err.Error()))
			return
		}

		end := model.Now()
		start, ok := pending[id]
		delete(pending, id)

		if _, err := p.client.GetAsyncRunResults(ctx, id); err != nil {
			p.status.SetErr(err)
			p.logger.Error("async result fetch failed", slog.String("error", err.Error()))
			return
		}
		inFlight--

		if ok {
			p.buf.Append(model.TimestampPair{Start: start, End: end})
		}

		if stat, statErr := p.client.GetStat(ctx); statErr == nil {
			p.stats.Set(0, stat)
		}
	}
}

// StatusErr returns the driving goroutine's fatal error, if any.
func (p *AsyncPool) StatusErr() error {
	if err := p.status.Err(); err != nil {
		return fmt.Errorf("async worker: %w", err)
	}
	return nil
}

// Stats returns the single client's ContextStat snapshot.
func (p *AsyncPool) Stats() model.ContextStat {
	return p.stats.Snapshot()
}

// Shutdown sets early-exit and joins the driving goroutine.
func (p *AsyncPool) Shutdown() {
	p.exit.Set()
	p.gate.ReleaseAll(1)
	p.wg.Wait()
	_ = p.client.Close()
}
