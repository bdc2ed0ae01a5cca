package startup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := retry(context.Background(), "backend", time.Second, time.Millisecond, "", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_GivesUp(t *testing.T) {
	boom := errors.New("down")
	err := retry(context.Background(), "backend", 0, time.Millisecond, "", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestRetry_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retry(ctx, "backend", time.Hour, time.Hour, "", func(context.Context) error { return errors.New("down") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConnectRedisWithRetry(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := ConnectRedisWithRetry(context.Background(), "redis://"+mr.Addr(), time.Second, "test: ")
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.NoError(t, c.Close())
}
