package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-gpu-shopper/inferload/internal/inferclient"
)

func TestRunRoundTrips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/infer":
			var req inferRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "m", req.ModelName)
			assert.Equal(t, 2, req.BatchSize)
			_ = json.NewEncoder(w).Encode(inferResponse{Output: []byte("ok")})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	out, err := c.Run(context.Background(), inferclient.RunOptions{ModelName: "m", BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), out.OutputBytes)

	stat, err := c.GetStat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stat.CompletedRequestCount)
}

func TestRunRejectsInvalidBatchSize(t *testing.T) {
	c := New(Config{BaseURL: "http://unused.invalid"})
	_, err := c.Run(context.Background(), inferclient.RunOptions{BatchSize: 0})
	require.Error(t, err)
	assert.True(t, inferclient.IsInvalidArgument(err))
}

func TestRunSurfacesServerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.Run(context.Background(), inferclient.RunOptions{ModelName: "m", BatchSize: 1})
	require.Error(t, err)
	assert.True(t, inferclient.IsServerError(err))
}

func TestGetReadyAsyncRequestNonBlockingWhenNotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(asyncPollResponse{Ready: false})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.GetReadyAsyncRequest(context.Background(), false)
	require.Error(t, err)
	assert.True(t, inferclient.IsUnavailable(err))
}

func TestNegotiateMaxBatchSize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models/m/versions/1/config", r.URL.Path)
		_ = json.NewEncoder(w).Encode(configResponse{MaxBatchSize: 16})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	max, err := c.NegotiateMaxBatchSize(context.Background(), "m", 1)
	require.NoError(t, err)
	assert.Equal(t, 16, max)
}
