// Package jobs runs detached background work decoupled from the request
// that triggered it.
package jobs

import (
	"log"
	"runtime"

	"github.com/panjf2000/ants/v2"
)

// Runner executes fire-and-forget tasks on a bounded worker pool. Tasks
// never join back to the submitting goroutine; their outcome is only
// observable through logging.
type Runner struct {
	pool *ants.Pool
}

// NewRunner creates a Runner with the given pool size. Size <= 0 defaults
// to half the CPU count, with a minimum of 1.
func NewRunner(size int) (*Runner, error) {
	if size <= 0 {
		size = runtime.NumCPU() / 2
		if size < 1 {
			size = 1
		}
	}

	pool, err := ants.NewPool(size, ants.WithPanicHandler(func(v interface{}) {
		log.Printf("detached task panicked: %v", v)
	}))
	if err != nil {
		return nil, err
	}

	return &Runner{pool: pool}, nil
}

// Submit schedules a task for execution. It returns an error only when the
// task could not be scheduled, e.g. after Release.
func (r *Runner) Submit(task func()) error {
	return r.pool.Submit(task)
}

// Running reports the number of tasks currently executing
func (r *Runner) Running() int {
	return r.pool.Running()
}

// Release stops the pool. Queued tasks that have not started are dropped.
func (r *Runner) Release() {
	r.pool.Release()
}
