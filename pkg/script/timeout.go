package script

import (
	"errors"
	"fmt"
	"time"
)

var errTimedOut = errors.New("script: evaluation timed out")

// evalResult passes evaluation results through channels.
type evalResult struct {
	value  any
	errors []EvalError
	err    error
}

// waitWithTimeout waits for a result from ch, returning a timeout error if
// evaluation exceeds limit. On timeout the goroutine may still be running;
// ch is buffered so its late result is dropped without blocking the sender.
func waitWithTimeout(ch <-chan evalResult, limit time.Duration) (any, []EvalError, error) {
	timer := time.NewTimer(limit)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res.value, res.errors, res.err
	case <-timer.C:
		return nil, nil, fmt.Errorf("%w after %s", errTimedOut, limit)
	}
}
