package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	mu    sync.Mutex
	calls int
}

func (c *countingHandler) handler(ctx context.Context, e Event) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *countingHandler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func waitForCount(t *testing.T, c *countingHandler, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("handler calls = %d, want %d", c.count(), want)
}

func TestLocalBus_PublishReachesSubscribers(t *testing.T) {
	b := NewLocalBus()
	h := &countingHandler{}
	_, err := b.Subscribe(TopicScanStarted, h.handler)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), Event{Topic: TopicScanStarted}))
	waitForCount(t, h, 1)

	// other topics do not leak in
	require.NoError(t, b.Publish(context.Background(), Event{Topic: TopicAlertFired}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.count())
}

func TestLocalBus_UnsubscribeRemovesOnlyOwnHandler(t *testing.T) {
	b := NewLocalBus()
	h1, h2, h3 := &countingHandler{}, &countingHandler{}, &countingHandler{}

	unsub1, err := b.Subscribe(TopicScanFinished, h1.handler)
	require.NoError(t, err)
	unsub2, err := b.Subscribe(TopicScanFinished, h2.handler)
	require.NoError(t, err)
	_, err = b.Subscribe(TopicScanFinished, h3.handler)
	require.NoError(t, err)

	// removing earlier subscriptions must not shift later ones
	unsub1()
	unsub2()

	require.NoError(t, b.Publish(context.Background(), Event{Topic: TopicScanFinished}))
	waitForCount(t, h3, 1)
	assert.Equal(t, 0, h1.count())
	assert.Equal(t, 0, h2.count())
}

func TestLocalBus_UnsubscribeIsIdempotent(t *testing.T) {
	b := NewLocalBus()
	h1, h2 := &countingHandler{}, &countingHandler{}

	unsub1, err := b.Subscribe(TopicAgentRunFinished, h1.handler)
	require.NoError(t, err)
	_, err = b.Subscribe(TopicAgentRunFinished, h2.handler)
	require.NoError(t, err)

	unsub1()
	unsub1()

	require.NoError(t, b.Publish(context.Background(), Event{Topic: TopicAgentRunFinished}))
	waitForCount(t, h2, 1)
	assert.Equal(t, 0, h1.count())
}

func TestLocalBus_PublishStampsTimestamp(t *testing.T) {
	b := NewLocalBus()
	got := make(chan Event, 1)
	_, err := b.Subscribe(TopicAlertFired, func(ctx context.Context, e Event) { got <- e })
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), Event{Topic: TopicAlertFired}))
	select {
	case e := <-got:
		assert.False(t, e.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}
