package callsignal

import (
	"context"
	"errors"
	"sync"
)

// ErrStoppableWorkersAlreadyStopped is returned when adding a worker to a stopped group.
var ErrStoppableWorkersAlreadyStopped = errors.New("cannot add worker: already stopped")

// StoppableWorkers is a collection of goroutines that can be stopped at a
// later time.
type StoppableWorkers struct {
	mu         sync.RWMutex
	ctx        context.Context
	cancelFunc func()

	workers sync.WaitGroup
}

// NewStoppableWorkers creates a new StoppableWorkers instance. The instance's
// context will be derived from passed in context.
func NewStoppableWorkers(ctx context.Context) *StoppableWorkers {
	ctx, cancelFunc := context.WithCancel(ctx)
	return &StoppableWorkers{ctx: ctx, cancelFunc: cancelFunc}
}

// Add starts up a goroutine for the passed-in function. Workers:
//
//   - MUST respond appropriately to errors on the context parameter.
//   - MUST NOT call Stop on the group to which they belong.
//
// Any `panic`s from workers will be `recover`ed and logged.
func (sw *StoppableWorkers) Add(worker func(context.Context)) error {
	// Read-lock to allow concurrent worker addition. The Stop method will write-lock.
	sw.mu.RLock()
	if sw.ctx.Err() != nil {
		sw.mu.RUnlock()
		return ErrStoppableWorkersAlreadyStopped
	}
	sw.workers.Add(1)
	sw.mu.RUnlock()

	PanicCapturingGo(func() {
		defer sw.workers.Done()
		worker(sw.ctx)
	})
	return nil
}

// Context returns the context the workers run under. It is done once Stop is called.
func (sw *StoppableWorkers) Context() context.Context {
	return sw.ctx
}

// Stop idempotently shuts down all the goroutines we started up and waits for them
// to return, even if the parent context was already canceled.
func (sw *StoppableWorkers) Stop() {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.cancelFunc()
	sw.workers.Wait()
}
