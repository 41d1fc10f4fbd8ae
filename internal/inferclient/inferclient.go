// Package inferclient defines the collaborator interface the concurrency
// manager core drives: a single request/response inference RPC exposed in
// both blocking and pipelined forms, plus the server-status and profiling
// side channels. httpclient, grpcclient, and mockclient are concrete
// implementations.
package inferclient

import (
	"context"

	"github.com/cloud-gpu-shopper/inferload/pkg/model"
)

// RunOptions describes one inference request. Inputs are random bytes; the
// core does not attempt realistic payload generation (spec Non-goals).
type RunOptions struct {
	ModelName    string
	ModelVersion int64
	BatchSize    int
	InputBytes   []byte
}

// RunResult is the (mostly unexamined) result of one inference request.
// OutputBytes exists so implementations have somewhere to put a response
// body; the core never inspects it (spec Non-goals: no per-request result
// validation).
type RunResult struct {
	OutputBytes []byte
}

// RequestID identifies one in-flight asynchronous request.
type RequestID string

// Client is the RPC collaborator the core requires. Every method may
// return an *Error; GetReadyAsyncRequest additionally uses Kind Unavailable
// to signal "nothing ready yet" rather than a real failure.
type Client interface {
	// NegotiateMaxBatchSize returns the model's maximum supported batch
	// size, used at worker startup to validate the requested batch size.
	NegotiateMaxBatchSize(ctx context.Context, modelName string, modelVersion int64) (int, error)

	// Run issues one synchronous inference request and blocks for its
	// response.
	Run(ctx context.Context, opts RunOptions) (RunResult, error)

	// AsyncRun submits one request without blocking for the response and
	// returns an identifier used to retrieve it later.
	AsyncRun(ctx context.Context, opts RunOptions) (RequestID, error)

	// GetReadyAsyncRequest returns the next completed request id. If
	// blocking is true it waits for one to become ready; if false and none
	// is ready, it returns an *Error with Kind Unavailable.
	GetReadyAsyncRequest(ctx context.Context, blocking bool) (RequestID, error)

	// GetAsyncRunResults retrieves and forgets the result for id.
	GetAsyncRunResults(ctx context.Context, id RequestID) (RunResult, error)

	// GetStat returns this client's own cumulative ContextStat snapshot.
	GetStat(ctx context.Context) (model.ContextStat, error)

	// GetServerStatus queries the server's per-model-version inference
	// counters.
	GetServerStatus(ctx context.Context, modelName string) (model.ModelStatus, error)

	// StartProfile and StopProfile bracket a measurement window with an
	// optional server-side profiling session.
	StartProfile(ctx context.Context) error
	StopProfile(ctx context.Context) error

	// Close releases any resources held by the client (connections,
	// goroutines).
	Close() error
}
