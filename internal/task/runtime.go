// Package task provides the in-process task runtime driving all background
// work: immediate submissions, delayed re-arms and periodic sweeps.
package task

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wearsync/internal/config"
	apperrors "github.com/wearsync/internal/errors"
	"github.com/wearsync/internal/logging"
)

// Func is one unit of work. Transient errors are retried with exponential
// backoff up to the configured attempt limit; any other error ends the task.
type Func func(ctx context.Context) error

type task struct {
	name     string
	fn       Func
	runAt    time.Time
	attempts int
	index    int
}

// delayQueue is a min-heap on runAt.
type delayQueue []*task

func (q delayQueue) Len() int            { return len(q) }
func (q delayQueue) Less(i, j int) bool  { return q[i].runAt.Before(q[j].runAt) }
func (q delayQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i]; q[i].index = i; q[j].index = j }
func (q *delayQueue) Push(x interface{}) { t := x.(*task); t.index = len(*q); *q = append(*q, t) }
func (q *delayQueue) Pop() interface{} {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return t
}

// Runtime runs submitted tasks on a bounded worker pool. A single dispatcher
// goroutine holds tasks until their due time and hands them to workers.
type Runtime struct {
	cfg    *config.WorkerConfig
	logger *logging.Logger

	mu      sync.Mutex
	queue   delayQueue
	wake    chan struct{}
	ready   chan *task
	stopCh  chan struct{}
	doneCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

// NewRuntime creates a task runtime.
func NewRuntime(cfg *config.WorkerConfig, logger *logging.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger.WithField("component", "task_runtime"),
		wake:   make(chan struct{}, 1),
		ready:  make(chan *task),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the dispatcher and worker pool.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("task runtime already running")
	}
	r.running = true
	r.mu.Unlock()

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(ctx)
	}
	go r.dispatch()

	r.logger.WithField("workers", r.cfg.Workers).Info("Task runtime started")
	return nil
}

// Stop drains the dispatcher and waits for in-flight tasks to finish.
// Pending delayed tasks are dropped; session state in the store lets the
// reclaimer pick the work back up after restart.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
	r.wg.Wait()
	r.logger.Info("Task runtime stopped")
}

// SubmitNow enqueues a task for immediate execution.
func (r *Runtime) SubmitNow(name string, fn Func) {
	r.submit(&task{name: name, fn: fn, runAt: time.Now()})
}

// SubmitDelayed enqueues a task to run after the delay.
func (r *Runtime) SubmitDelayed(name string, fn Func, delay time.Duration) {
	r.submit(&task{name: name, fn: fn, runAt: time.Now().Add(delay)})
}

// Periodic runs fn on a fixed interval until the runtime stops. The first
// run happens one interval after the call.
func (r *Runtime) Periodic(name string, interval time.Duration, fn Func) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.SubmitNow(name, fn)
			case <-r.stopCh:
				return
			}
		}
	}()
}

func (r *Runtime) submit(t *task) {
	r.mu.Lock()
	heap.Push(&r.queue, t)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// dispatch moves due tasks from the delay queue to the ready channel.
func (r *Runtime) dispatch() {
	defer close(r.doneCh)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		r.mu.Lock()
		var next *task
		if r.queue.Len() > 0 {
			next = r.queue[0]
		}
		r.mu.Unlock()

		if next == nil {
			select {
			case <-r.wake:
				continue
			case <-r.stopCh:
				return
			}
		}

		wait := time.Until(next.runAt)
		if wait > 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(wait)
			select {
			case <-timer.C:
			case <-r.wake:
				continue
			case <-r.stopCh:
				return
			}
		}

		r.mu.Lock()
		if r.queue.Len() == 0 || r.queue[0] != next {
			r.mu.Unlock()
			continue
		}
		heap.Pop(&r.queue)
		r.mu.Unlock()

		select {
		case r.ready <- next:
		case <-r.stopCh:
			return
		}
	}
}

func (r *Runtime) worker(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case t := <-r.ready:
			r.run(ctx, t)
		case <-r.stopCh:
			return
		}
	}
}

func (r *Runtime) run(ctx context.Context, t *task) {
	err := t.fn(ctx)
	if err == nil {
		return
	}

	logger := r.logger.WithFields(map[string]interface{}{
		"task":    t.name,
		"attempt": t.attempts + 1,
	})

	if !apperrors.IsTransient(err) {
		logger.WithError(err).Warn("Task failed, not retryable")
		return
	}

	t.attempts++
	if t.attempts >= r.cfg.MaxAttempts {
		logger.WithError(err).Error("Task exhausted retry attempts")
		return
	}

	backoff := r.backoff(t.attempts)
	logger.WithField("backoff", backoff.String()).WithError(err).Debug("Task failed, retrying")
	t.runAt = time.Now().Add(backoff)
	r.submit(t)
}

// backoff doubles per attempt, capped at MaxBackoff.
func (r *Runtime) backoff(attempt int) time.Duration {
	d := r.cfg.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= r.cfg.MaxBackoff {
			return r.cfg.MaxBackoff
		}
	}
	if d > r.cfg.MaxBackoff {
		return r.cfg.MaxBackoff
	}
	return d
}
