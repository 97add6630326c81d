package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

func newTestDispatcher(workers, buffer int, handoff time.Duration) (*Dispatcher, *test.Hook) {
	logger, hook := test.NewNullLogger()
	return NewDispatcher(workers, buffer, time.Second, handoff, log.NewEntry(logger)), hook
}

// blockWorkers occupies every worker until the returned func is called.
func blockWorkers(t *testing.T, d *Dispatcher, workers int) func() {
	t.Helper()
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(workers)
	for i := 0; i < workers; i++ {
		if !d.Submit("block", func(context.Context) error {
			started.Done()
			<-release
			return nil
		}) {
			t.Fatal("expected blocking job to be queued")
		}
	}
	started.Wait()
	return func() { close(release) }
}

func TestTrySubmitWaitsForCapacity(t *testing.T) {
	d, _ := newTestDispatcher(1, 1, 50*time.Millisecond)
	release := blockWorkers(t, d, 1)
	defer d.Close()

	if !d.TrySubmit("fill", func(context.Context) error { return nil }) {
		t.Fatal("expected buffered submit to succeed")
	}

	done := make(chan bool, 1)
	go func() {
		done <- d.TrySubmit("wait", func(context.Context) error { return nil })
	}()

	select {
	case <-done:
		t.Fatal("TrySubmit returned before capacity was freed")
	case <-time.After(20 * time.Millisecond):
	}

	release()

	select {
	case ok := <-done:
		if !ok {
			t.Fatal("expected successful submit after capacity freed")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for submit")
	}
}

func TestTrySubmitTimesOut(t *testing.T) {
	d, _ := newTestDispatcher(1, 1, 20*time.Millisecond)
	release := blockWorkers(t, d, 1)
	defer d.Close()
	defer release()

	if !d.TrySubmit("fill", func(context.Context) error { return nil }) {
		t.Fatal("expected buffered submit to succeed")
	}
	if d.TrySubmit("overflow", func(context.Context) error { return nil }) {
		t.Fatal("expected submit to fail when the handoff timeout elapsed")
	}
}

func TestTrySubmitNoWaitWhenZeroHandoff(t *testing.T) {
	d, _ := newTestDispatcher(1, 0, 0)
	release := blockWorkers(t, d, 1)
	defer d.Close()
	defer release()

	if d.TrySubmit("overflow", func(context.Context) error { return nil }) {
		t.Fatal("expected submit to fail without capacity or handoff")
	}
}

func TestSubmitAfterCloseFails(t *testing.T) {
	d, _ := newTestDispatcher(2, 4, time.Millisecond)
	d.Close()
	d.Close()

	if d.TrySubmit("late", func(context.Context) error { return nil }) {
		t.Fatal("expected TrySubmit to fail on a closed dispatcher")
	}
	if d.Submit("late", func(context.Context) error { return nil }) {
		t.Fatal("expected Submit to fail on a closed dispatcher")
	}
}

func TestCloseDrainsQueuedJobs(t *testing.T) {
	d, _ := newTestDispatcher(1, 16, 0)
	var order []int
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		i := i
		if !d.Submit("job", func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}) {
			t.Fatalf("submit %d failed", i)
		}
	}
	d.Close()

	if len(order) != 10 {
		t.Fatalf("expected 10 jobs to run, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("single worker ran jobs out of order: %v", order)
		}
	}
}

func TestJobErrorsAreLogged(t *testing.T) {
	d, hook := newTestDispatcher(1, 1, 0)
	var ran atomic.Bool
	d.Submit("publish statusUpdate", func(ctx context.Context) error {
		ran.Store(true)
		if _, ok := ctx.Deadline(); !ok {
			return errors.New("missing deadline")
		}
		return errors.New("relay down")
	})
	d.Close()

	if !ran.Load() {
		t.Fatal("job did not run")
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel {
		t.Fatalf("expected a warning, got %#v", entry)
	}
	if entry.Data["job"] != "publish statusUpdate" {
		t.Fatalf("unexpected job field: %v", entry.Data["job"])
	}
	if err, _ := entry.Data[log.ErrorKey].(error); err == nil || err.Error() != "relay down" {
		t.Fatalf("unexpected error field: %v", entry.Data[log.ErrorKey])
	}
}
