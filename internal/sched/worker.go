package sched

import (
	"sync"

	"github.com/google/uuid"
)

// Worker is a cooperative single-threaded scheduler. Every Task spawned
// on a Worker holds its token while running.
type Worker struct {
	name  string
	token chan struct{}

	timerMu   sync.Mutex
	timers    timerHeap
	timerSeq  uint64
	timerWake chan struct{}

	blocking *blockingPool

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// NewWorker creates a Worker with its own token, timer heap, and a
// blocking-I/O offload pool of the given size (see RunBlocking). A size
// of 0 or less uses a small default, enough for occasional disk flushes
// without letting a stall pile up unboundedly many goroutines.
func NewWorker(name string, blockingPoolSize int) *Worker {
	w := &Worker{
		name:      name,
		token:     make(chan struct{}, 1),
		timerWake: make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
	w.token <- struct{}{}
	w.blocking = newBlockingPool(blockingPoolSize)
	w.wg.Add(1)
	go w.timerLoop()
	return w
}

// Name returns the worker's label, used in logging and stream-to-worker
// sharding.
func (w *Worker) Name() string { return w.name }

// acquire blocks until the token is available, i.e. until every other
// task on w has suspended or exited. It returns immediately, without
// the token, once w has been Closed: shutdown takes priority over
// mutual exclusion so unwinding tasks don't deadlock.
func (w *Worker) acquire() {
	select {
	case <-w.token:
	case <-w.closed:
	}
}

func (w *Worker) release() {
	select {
	case w.token <- struct{}{}:
	default:
	}
}

// Spawn starts fn as a new Task on w. fn runs holding w's token and
// must only give it up at the documented suspension points (called on
// the *Task handle it receives). Spawn returns immediately; use
// Task.Wait to block until fn returns.
func (w *Worker) Spawn(fn func(t *Task)) *Task {
	t := &Task{
		worker:    w,
		id:        uuid.NewString(),
		cancelled: make(chan struct{}),
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(t.done)
		w.acquire()
		defer w.release()
		fn(t)
	}()
	return t
}

// Close signals every suspended task to observe cancellation is
// irrelevant (acquire bypasses the token once closed) and waits for all
// spawned tasks and the timer loop to return.
func (w *Worker) Close() {
	w.closeOnce.Do(func() { close(w.closed) })
	w.wg.Wait()
}
