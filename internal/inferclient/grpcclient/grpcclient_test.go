package grpcclient

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/cloud-gpu-shopper/inferload/internal/inferclient"
)

// fakeServer answers every RPC generically by method name, decoding and
// encoding with the same JSON codec the client uses, so the test never
// needs protoc-generated service stubs either.
func fakeServer(t *testing.T) (target string, stop func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer(grpc.UnknownServiceHandler(func(_ interface{}, stream grpc.ServerStream) error {
		method, ok := grpc.MethodFromServerStream(stream)
		if !ok {
			return errors.New("missing method")
		}
		switch method {
		case "/inferload.InferenceService/Run":
			var req inferRequest
			if err := stream.RecvMsg(&req); err != nil {
				return err
			}
			return stream.SendMsg(&inferResponse{Output: []byte("ok")})
		case "/inferload.InferenceService/GetConfig":
			var req configRequest
			if err := stream.RecvMsg(&req); err != nil {
				return err
			}
			return stream.SendMsg(&configResponse{MaxBatchSize: 8})
		default:
			return errors.New("unknown method " + method)
		}
	}))

	go func() { _ = srv.Serve(lis) }()
	return lis.Addr().String(), srv.Stop
}

func TestRunRoundTripsOverGRPC(t *testing.T) {
	target, stop := fakeServer(t)
	defer stop()

	c, err := New(Config{Target: target})
	require.NoError(t, err)
	defer c.Close()

	out, err := c.Run(context.Background(), inferclient.RunOptions{ModelName: "m", BatchSize: 1, InputBytes: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), out.OutputBytes)
}

func TestNegotiateMaxBatchSizeOverGRPC(t *testing.T) {
	target, stop := fakeServer(t)
	defer stop()

	c, err := New(Config{Target: target})
	require.NoError(t, err)
	defer c.Close()

	max, err := c.NegotiateMaxBatchSize(context.Background(), "m", 1)
	require.NoError(t, err)
	assert.Equal(t, 8, max)
}

func TestRunRejectsInvalidBatchSizeOverGRPC(t *testing.T) {
	c, err := New(Config{Target: "127.0.0.1:0"})
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Run(context.Background(), inferclient.RunOptions{BatchSize: 0})
	require.Error(t, err)
	assert.True(t, inferclient.IsInvalidArgument(err))
}
