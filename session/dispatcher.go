package session

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Job is a unit of background work. Its context carries the job timeout.
type Job func(ctx context.Context) error

type dispatchJob struct {
	name string
	run  Job
}

// Dispatcher runs jobs on a bounded pool of workers. Jobs submitted to a
// single-worker dispatcher run in submission order.
type Dispatcher struct {
	jobs           chan dispatchJob
	jobTimeout     time.Duration
	handoffTimeout time.Duration
	logger         *log.Entry
	wg             sync.WaitGroup
	closeOnce      sync.Once
}

// NewDispatcher starts workers goroutines reading from a queue of buffer jobs.
func NewDispatcher(workers, buffer int, jobTimeout, handoffTimeout time.Duration, logger *log.Entry) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	if jobTimeout <= 0 {
		jobTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	d := &Dispatcher{
		jobs:           make(chan dispatchJob, buffer),
		jobTimeout:     jobTimeout,
		handoffTimeout: handoffTimeout,
		logger:         logger,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Debugf("dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", workers, buffer, jobTimeout, handoffTimeout)
	return d
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for j := range d.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), d.jobTimeout)
		err := j.run(ctx)
		cancel()
		if err != nil {
			d.logger.WithError(err).WithFields(log.Fields{"job": j.name, "worker": id}).Warn("background job failed")
		}
	}
}

// TrySubmit queues fn without blocking longer than the handoff timeout and
// reports whether it was queued.
func (d *Dispatcher) TrySubmit(name string, fn Job) bool {
	job := dispatchJob{name: name, run: fn}
	if ok, closed := trySendNonBlocking(d.jobs, job); closed {
		return false
	} else if ok {
		return true
	}
	if d.handoffTimeout <= 0 {
		return false
	}
	timer := time.NewTimer(d.handoffTimeout)
	defer timer.Stop()
	ok, _ := sendWithTimer(d.jobs, job, timer.C)
	return ok
}

// Submit queues fn, waiting for capacity. It returns false only once the
// dispatcher is closed.
func (d *Dispatcher) Submit(name string, fn Job) bool {
	ok, _ := sendWithTimer(d.jobs, dispatchJob{name: name, run: fn}, nil)
	return ok
}

// Close stops accepting jobs and waits for queued jobs to finish.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.jobs) })
	d.wg.Wait()
}

func trySendNonBlocking(ch chan dispatchJob, job dispatchJob) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	default:
		return false, false
	}
}

// sendWithTimer blocks until job is queued or timer fires; a nil timer
// waits indefinitely.
func sendWithTimer(ch chan dispatchJob, job dispatchJob, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	case <-timer:
		return false, false
	}
}
