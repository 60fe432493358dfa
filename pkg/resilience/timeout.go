package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/nexlayer/nexlayer/pkg/datasource"
)

// ErrTimeout reports an operation that exceeded its deadline.
var ErrTimeout = errors.New("operation timed out")

// WithTimeout runs fn under a deadline. A deadline overrun surfaces as a
// retryable network error so the retry controller treats slow backends the
// same as unreachable ones. fn keeps running in its goroutine after an
// overrun; it must honor the derived context to stop early.
func WithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(tctx)
	}()

	select {
	case err := <-done:
		return err
	case <-tctx.Done():
		if errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return datasource.NewNetworkError("timeout", true, ErrTimeout)
		}
		return tctx.Err()
	}
}
