package domain

import (
	"sync/atomic"
	"time"
)

// Ledger stamps tasks with their version and modification time. Every
// accepted mutation goes through Bump; creation goes through Init.
type Ledger struct {
	now  func() time.Time
	last atomic.Int64
}

// NewLedger returns a ledger using now as its clock; nil means time.Now.
func NewLedger(now func() time.Time) *Ledger {
	if now == nil {
		now = time.Now
	}
	return &Ledger{now: now}
}

// Init stamps a newly created task.
func (l *Ledger) Init(t *Task) {
	t.Version = 1
	t.LastModified = l.stamp()
}

// Bump records one accepted mutation.
func (l *Ledger) Bump(t *Task) {
	t.Version++
	t.LastModified = l.stamp()
}

// stamp returns the clock in unix milliseconds, never going backwards.
func (l *Ledger) stamp() int64 {
	for {
		now := l.now().UnixMilli()
		last := l.last.Load()
		if now < last {
			now = last
		}
		if l.last.CompareAndSwap(last, now) {
			return now
		}
	}
}

// Observe moves the clock forward to ms so later local stamps are never
// older than a write seen from another session.
func (l *Ledger) Observe(ms int64) {
	for {
		last := l.last.Load()
		if ms <= last || l.last.CompareAndSwap(last, ms) {
			return
		}
	}
}
