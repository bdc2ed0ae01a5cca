package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/convsession/internal/logger"
)

const maxBackoff = 30 * time.Second

// Retry вызывает fn с экспоненциальной задержкой (2s, 4s, ... до 30s), пока fn не вернёт nil,
// не истечёт maxWait или не отменится ctx. logPrefix добавляется к сообщениям лога (например "session: ").
func Retry(ctx context.Context, what string, maxWait time.Duration, logPrefix string, fn func(ctx context.Context) error) error {
	return retry(ctx, what, maxWait, 2*time.Second, logPrefix, fn)
}

func retry(ctx context.Context, what string, maxWait, backoff time.Duration, logPrefix string, fn func(ctx context.Context) error) error {
	deadline := time.Now().Add(maxWait)
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			logger.Errorf("%s%s (gave up after %v): %v", logPrefix, what, maxWait, err)
			return fmt.Errorf("%s: %w", what, err)
		}
		logger.Errorf("%s%s failed, retry in %v: %v", logPrefix, what, backoff, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
