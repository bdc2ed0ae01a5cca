package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convsession/internal/model"
)

type fetchFunc func(ctx context.Context, id model.ID) ([]model.Message, error)

func (f fetchFunc) GetMessages(ctx context.Context, id model.ID) ([]model.Message, error) {
	return f(ctx, id)
}

type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handle(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestPoller_Ticks(t *testing.T) {
	var calls atomic.Int32
	p := NewPoller(fetchFunc(func(ctx context.Context, id model.ID) ([]model.Message, error) {
		calls.Add(1)
		return []model.Message{{ID: "1", ConversationID: id}}, nil
	}), "c1", PollerOptions{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	col := &collector{}
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, col.handle) }()

	require.Eventually(t, func() bool { return len(col.snapshot()) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	ev := col.snapshot()[0]
	assert.Equal(t, EventSnapshot, ev.Kind)
	assert.Equal(t, model.ID("c1"), ev.ConversationID)
	assert.Len(t, ev.Messages, 1)
}

func TestPoller_RefreshIsImmediateAndThrottled(t *testing.T) {
	p := NewPoller(fetchFunc(func(ctx context.Context, id model.ID) ([]model.Message, error) {
		return nil, nil
	}), "c1", PollerOptions{Interval: time.Hour, RefreshRate: 0.001, RefreshBurst: 2})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	col := &collector{}
	go func() { _ = p.Run(ctx, col.handle) }()

	assert.True(t, p.Refresh())
	require.Eventually(t, func() bool { return len(col.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, p.Refresh())
	assert.False(t, p.Refresh(), "burst used up")
}

func TestPoller_FailureReported(t *testing.T) {
	boom := errors.New("connection refused")
	p := NewPoller(fetchFunc(func(ctx context.Context, id model.ID) ([]model.Message, error) {
		return nil, boom
	}), "c1", PollerOptions{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	col := &collector{}
	go func() { _ = p.Run(ctx, col.handle) }()
	p.Refresh()

	require.Eventually(t, func() bool { return len(col.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	ev := col.snapshot()[0]
	assert.Equal(t, EventFailed, ev.Kind)
	assert.ErrorIs(t, ev.Err, boom)
}

func TestPoller_CancelledFetchIsDropped(t *testing.T) {
	started := make(chan struct{})
	p := NewPoller(fetchFunc(func(ctx context.Context, id model.ID) ([]model.Message, error) {
		close(started)
		<-ctx.Done()
		return []model.Message{{ID: "late"}}, nil
	}), "c1", PollerOptions{Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	col := &collector{}
	done := make(chan struct{})
	go func() { _ = p.Run(ctx, col.handle); close(done) }()
	p.Refresh()
	<-started
	cancel()
	<-done
	assert.Empty(t, col.snapshot())
}
