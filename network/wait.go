package network

import (
	"context"
	"time"

	"github.com/go-errors/errors"
)

var errTimeout = errors.New("timed out")

// waitFor polls ready until it reports true, fails, or the timeout elapses.
func waitFor(ctx context.Context, poll time.Duration, timeout time.Duration, ready func() (bool, error)) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		ok, err := ready()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return errTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
