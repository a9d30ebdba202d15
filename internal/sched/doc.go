// Package sched implements the cooperative, single-threaded-per-worker
// task scheduler the RTMP connection read/write loops run on. A Worker
// owns a capacity-1 token: a Task must hold the token to run and gives
// it up at one of its suspension points (Sleep, WaitReadable,
// WaitWritable, WaitCond, Yield, RunBlocking). That is what guarantees
// no two tasks on the same worker ever run concurrently, matching the
// single-threaded-coroutine model the rest of the system assumes
// (no preemption mid-message). The Go runtime still schedules other
// workers' goroutines freely; the exclusion is per-Worker, not
// process-wide.
//
// Cancellation is cooperative: Cancel marks a Task cancelled, and the
// task observes this the next time it calls a suspension primitive,
// which returns ErrCancelled. The task is expected to unwind from
// there rather than continue.
package sched
