package runner

import (
	"errors"
	"fmt"
	"sync"

	"maxpop/internal/metrics"
	"maxpop/internal/queue"
)

// EmptyQueueError means a pop found the origin queue empty: the fill side
// did not keep up with the ramp.
type EmptyQueueError struct {
	Endpoint queue.Endpoint
	Raw      string
}

func (e *EmptyQueueError) Error() string {
	return fmt.Sprintf("empty queue on %s: %s", e.Endpoint, e.Raw)
}

// NoResponseError means a pop never got an answer.
type NoResponseError struct {
	Endpoint queue.Endpoint
	Err      error
}

func (e *NoResponseError) Error() string {
	return fmt.Sprintf("no response from %s: %v", e.Endpoint, e.Err)
}

func (e *NoResponseError) Unwrap() error {
	return e.Err
}

// FillError is returned under FillErrorsFatal.
type FillError struct {
	Failed int
	Total  int
	Err    error
}

func (e *FillError) Error() string {
	return fmt.Sprintf("%d of %d pushes failed: %v", e.Failed, e.Total, e.Err)
}

func (e *FillError) Unwrap() error {
	return e.Err
}

func outcomeOf(err error) string {
	var empty *EmptyQueueError
	var noResp *NoResponseError
	var fill *FillError
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.As(err, &empty):
		return metrics.OutcomeEmptyQueue
	case errors.As(err, &noResp):
		return metrics.OutcomeNoResponse
	case errors.As(err, &fill):
		return metrics.OutcomeFillError
	default:
		return metrics.OutcomeCancelled
	}
}

// firstError keeps the first error reported by a fan-out and signals it on Done.
type firstError struct {
	once sync.Once
	mu   sync.Mutex
	err  error
	done chan struct{}
}

func newFirstError() *firstError {
	return &firstError{done: make(chan struct{})}
}

func (f *firstError) Set(err error) {
	f.once.Do(func() {
		f.mu.Lock()
		f.err = err
		f.mu.Unlock()
		close(f.done)
	})
}

func (f *firstError) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *firstError) Done() <-chan struct{} {
	return f.done
}
