package localtrader

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestQueue_FIFO(t *testing.T) {
	q := newRequestQueue()
	a, b := newFakeRequest(false, false), newFakeRequest(false, false)
	require.NoError(t, q.push(queuedRequest{req: a}))
	require.NoError(t, q.push(queuedRequest{req: b, retries: 2}))
	assert.Equal(t, 2, q.len())

	got, ok := q.pop()
	require.True(t, ok)
	assert.Same(t, a, got.req)
	got, ok = q.pop()
	require.True(t, ok)
	assert.Same(t, b, got.req)
	assert.Equal(t, 2, got.retries)
}

func TestRequestQueue_PopBlocksUntilPush(t *testing.T) {
	q := newRequestQueue()
	out := make(chan queuedRequest, 1)
	go func() {
		item, ok := q.pop()
		if ok {
			out <- item
		}
	}()

	select {
	case <-out:
		t.Fatal("pop returned on an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	r := newFakeRequest(false, false)
	require.NoError(t, q.push(queuedRequest{req: r}))
	select {
	case item := <-out:
		assert.Same(t, r, item.req)
	case <-time.After(waitTimeout):
		t.Fatal("pop was not woken up")
	}
}

func TestRequestQueue_CloseDropsAndWakes(t *testing.T) {
	q := newRequestQueue()
	require.NoError(t, q.push(queuedRequest{req: newFakeRequest(false, false)}))
	require.NoError(t, q.push(queuedRequest{req: newFakeRequest(false, false)}))

	assert.Equal(t, 2, q.close())
	assert.Zero(t, q.close())
	assert.ErrorIs(t, q.push(queuedRequest{req: newFakeRequest(false, false)}), ErrQueueClosed)

	_, ok := q.pop()
	assert.False(t, ok)
}
