package tsbuffer

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloud-gpu-shopper/inferload/pkg/model"
)

func TestAppendDrain(t *testing.T) {
	b := New()
	b.Append(model.TimestampPair{Start: 1, End: 2})
	b.Append(model.TimestampPair{Start: 3, End: 4})

	require.Equal(t, 2, b.Len())

	drained := b.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, b.Len(), "drain must leave the buffer empty")
}

func TestDrainCountMatchesAppends(t *testing.T) {
	b := New()
	const workers = 8
	const perWorker = 200

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				b.Append(model.TimestampPair{Start: model.Now()})
			}
		}()
	}
	wg.Wait()

	drained := b.Drain()
	assert.Len(t, drained, workers*perWorker)
	assert.Equal(t, 0, b.Len())
}

func TestDrainEmpty(t *testing.T) {
	b := New()
	drained := b.Drain()
	assert.Empty(t, drained)
}
