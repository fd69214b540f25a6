package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/Lol3rrr/cfuzz/internal/types"
)

type outcome struct {
	artifacts [][]byte
	err       error
}

// RunToCompletion runs the backend on its own goroutine and waits for it.
// A panic in the backend is returned as ErrExecutionLost.
func RunToCompletion(ctx context.Context, r Runner, req types.RunRequest, sig *Signal) ([][]byte, error) {
	result := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				result <- outcome{err: fmt.Errorf("%w: %v", ErrExecutionLost, p)}
			}
		}()
		artifacts, err := r.Run(ctx, req, sig)
		result <- outcome{artifacts: artifacts, err: err}
	}()

	o := <-result
	return o.artifacts, o.err
}

// RunWithTimeout is RunToCompletion that fires sig once timeout elapsed.
// A run that hit the timeout reports no artifacts, like a cancelled one.
func RunWithTimeout(ctx context.Context, r Runner, req types.RunRequest, sig *Signal, timeout time.Duration) ([][]byte, error) {
	if sig == nil {
		sig = NewSignal()
	}
	timer := time.AfterFunc(timeout, sig.Fire)
	defer timer.Stop()

	return RunToCompletion(ctx, r, req, sig)
}
