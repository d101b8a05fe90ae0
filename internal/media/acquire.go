package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/pion/logging"
)

// ErrEmptyLadder is returned when there is nothing to try.
var ErrEmptyLadder = errors.New("no constraint sets to try")

// Acquirer captures local media for one constraint set. On failure it may
// return the tracks it managed to open alongside the error; callers stop them.
type Acquirer interface {
	Acquire(ctx context.Context, c Constraints) (*Stream, error)
}

// AcquirerFunc adapts a function to Acquirer.
type AcquirerFunc func(ctx context.Context, c Constraints) (*Stream, error)

func (f AcquirerFunc) Acquire(ctx context.Context, c Constraints) (*Stream, error) {
	return f(ctx, c)
}

// AcquireWithFallback walks the ladder until one rung succeeds. Partial
// captures from failed rungs are stopped before the next attempt. A
// permission failure or cancellation ends the walk immediately.
func AcquireWithFallback(ctx context.Context, acq Acquirer, ladder Ladder, log logging.LeveledLogger) (*Stream, Constraints, error) {
	if len(ladder) == 0 {
		return nil, Constraints{}, ErrEmptyLadder
	}

	var last *Error
	for i, c := range ladder {
		if err := ctx.Err(); err != nil {
			return nil, c, err
		}

		stream, err := acq.Acquire(ctx, c)
		if err == nil {
			if i > 0 && log != nil {
				log.Infof("acquired media with fallback constraints %s", c)
			}
			return stream, c, nil
		}

		if stream != nil {
			if stopErr := stream.Stop(); stopErr != nil && log != nil {
				log.Warnf("stop partial capture: %v", stopErr)
			}
		}
		if IsCanceled(err) {
			return nil, c, err
		}

		last = Classify(err, c)
		if log != nil {
			log.Warnf("acquire %s failed (%s): %v", c, last.Category, err)
		}
		if !last.Retryable() {
			break
		}
	}
	return nil, last.Constraints, fmt.Errorf("acquire media: %w", last)
}
