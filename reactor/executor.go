// Package reactor provides the two executor roles the salt library is
// built on: a single-goroutine control executor that owns registry
// mutations and reconnection timers, and a multi-goroutine transfer
// executor pool that owns socket reads and writes. Neither executor
// blocks its caller; work is posted onto a channel and drained by the
// executor's own goroutine(s), mirroring the request-channel-plus-worker
// idiom used throughout the example pool's connection pools.
package reactor

import (
	"sync"
	"time"

	"github.com/go-salt/salt/printer"
)

const defaultJobQueueDepth = 1024

// ControlExecutor runs posted work on exactly one goroutine, in the order
// it was posted. It stands in for the "control executor" role: registry
// mutations, DNS resolution kickoff, and reconnection timers all run here
// so a user never observes two lifecycle notifications interleaved.
type ControlExecutor struct {
	jobs   chan func()
	done   chan struct{}
	once   sync.Once
	stopWG sync.WaitGroup
	clock  Clock
}

// NewControlExecutor starts the executor's goroutine and returns it ready
// to accept posted work.
func NewControlExecutor() *ControlExecutor {
	e := &ControlExecutor{
		jobs:  make(chan func(), defaultJobQueueDepth),
		done:  make(chan struct{}),
		clock: SystemClock,
	}
	e.stopWG.Add(1)
	go e.run()
	return e
}

// SetClock overrides the executor's notion of wall-clock time, used only
// for diagnostic logging around PostAfter. Tests that want deterministic
// scheduling should instead pass duration 0, which PostAfter special-cases
// to avoid the timer altogether.
func (e *ControlExecutor) SetClock(c Clock) {
	if c != nil {
		e.clock = c
	}
}

// PostAfter schedules fn to run on the control executor after d elapses.
// d<=0 posts immediately, matching the spec's "0 ⇒ immediate" retry
// interval convention without involving a timer at all.
func (e *ControlExecutor) PostAfter(d time.Duration, fn func()) {
	if d <= 0 {
		e.Post(fn)
		return
	}
	scheduledAt := e.clock.Now()
	time.AfterFunc(d, func() {
		printer.Debugln("reactor: firing timer scheduled at", scheduledAt, "after delay", d)
		e.Post(fn)
	})
}

func (e *ControlExecutor) run() {
	defer e.stopWG.Done()
	for {
		select {
		case job := <-e.jobs:
			runJobRecovering(job)
		case <-e.done:
			// Drain whatever is already queued before exiting so posted
			// teardown work (close notifications, etc.) still runs.
			for {
				select {
				case job := <-e.jobs:
					runJobRecovering(job)
				default:
					return
				}
			}
		}
	}
}

// Post schedules fn to run on the control executor's goroutine. Safe to
// call from any goroutine, including from within another posted job.
func (e *ControlExecutor) Post(fn func()) {
	select {
	case e.jobs <- fn:
	case <-e.done:
		// Executor is shutting down; drop the work rather than block
		// forever on a channel nobody is draining.
	}
}

// Stop signals the executor to finish queued work and exit. It blocks
// until the goroutine has returned.
func (e *ControlExecutor) Stop() {
	e.once.Do(func() {
		close(e.done)
	})
	e.stopWG.Wait()
}

func runJobRecovering(job func()) {
	defer func() {
		if r := recover(); r != nil {
			printer.Errorf("reactor: recovered panic in posted job: %v\n", r)
		}
	}()
	job()
}

// TransferExecutor is a pool of N worker goroutines sharing one job
// channel. It stands in for the "transfer executor" role: socket reads,
// writes, and parser invocation all run here. A work-guard
// (sync.WaitGroup) ensures Stop does not return while a job is mid-flight.
type TransferExecutor struct {
	jobs    chan func()
	done    chan struct{}
	once    sync.Once
	workers sync.WaitGroup
}

// NewTransferExecutor starts n worker goroutines (n is clamped to at
// least 1) ready to drain posted jobs.
func NewTransferExecutor(n int) *TransferExecutor {
	if n < 1 {
		n = 1
	}
	e := &TransferExecutor{
		jobs: make(chan func(), defaultJobQueueDepth),
		done: make(chan struct{}),
	}
	e.workers.Add(n)
	for i := 0; i < n; i++ {
		go e.worker()
	}
	return e
}

func (e *TransferExecutor) worker() {
	defer e.workers.Done()
	for {
		select {
		case job := <-e.jobs:
			runJobRecovering(job)
		case <-e.done:
			for {
				select {
				case job := <-e.jobs:
					runJobRecovering(job)
				default:
					return
				}
			}
		}
	}
}

// Post schedules fn to run on whichever worker goroutine picks it up
// next. No ordering is guaranteed across connections; per-connection
// ordering is the caller's responsibility (see conn.Connection).
func (e *TransferExecutor) Post(fn func()) {
	select {
	case e.jobs <- fn:
	case <-e.done:
	}
}

// Stop signals all workers to finish queued work and exit, and blocks
// until every worker goroutine has returned.
func (e *TransferExecutor) Stop() {
	e.once.Do(func() {
		close(e.done)
	})
	e.workers.Wait()
}
