package mirror

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/alexjbarnes/drive-mirror/internal/remote"
)

const (
	// maxRetryBackoff caps the delay between attempts.
	maxRetryBackoff = 60 * time.Second

	// jitterDivisor bounds the random jitter added to each delay:
	// uniform in [0, backoff/jitterDivisor).
	jitterDivisor = 2
)

// retryPolicy repeats remote calls that failed with a retryable error.
// One attempt means no retry.
type retryPolicy struct {
	attempts int
	backoff  time.Duration

	// sleep waits for d or until ctx ends. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func newRetryPolicy(attempts int, backoff time.Duration) retryPolicy {
	if attempts < 1 {
		attempts = 1
	}

	if backoff <= 0 {
		backoff = time.Second
	}

	return retryPolicy{attempts: attempts, backoff: backoff, sleep: sleepContext}
}

// do runs fn until it succeeds, fails with a non-retryable error, or the
// attempts run out. The last error is returned.
func (p retryPolicy) do(ctx context.Context, logger *slog.Logger, op, path string, fn func() error) error {
	backoff := p.backoff

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || attempt >= p.attempts || !remote.IsRetryable(err) {
			return err
		}

		wait := backoff
		if j := int64(backoff) / jitterDivisor; j > 0 {
			wait += time.Duration(rand.Int64N(j))
		}

		logger.Debug("retrying remote call",
			slog.String("op", op),
			slog.String("path", path),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)

		if p.sleep(ctx, wait) != nil {
			return err
		}

		backoff = min(backoff*2, maxRetryBackoff)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
