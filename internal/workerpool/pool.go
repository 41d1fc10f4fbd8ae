package workerpool

import (
	"context"

	"github.com/cloud-gpu-shopper/inferload/pkg/model"
)

// Pool is the concurrency-adjustable worker collection the measurement loop
// drives, satisfied by both SyncPool and AsyncPool.
type Pool interface {
	EnsureConcurrency(ctx context.Context, target int) error
	StatusErr() error
	Stats() model.ContextStat
	Shutdown()
}

var (
	_ Pool = (*SyncPool)(nil)
	_ Pool = (*AsyncPool)(nil)
)
