// Package lock implements advisory per-task edit locks with lazy expiry.
//
// A lock records the task version observed when an edit started. Commits
// call CanUpdate right before writing: an expired lock is released and
// allows the write, a live lock allows it only while the task version still
// matches the recorded one.
package lock

import (
	"time"

	"board-sync/domain"
)

// DefaultTimeout is how long an abandoned edit keeps its lock.
const DefaultTimeout = 30 * time.Second

// Entry is the lock state kept for one task.
type Entry struct {
	Locked   bool      `json:"locked"`
	Version  int       `json:"version"`
	LockedAt time.Time `json:"lockedAt"`
}

// Manager keeps the lock table of one session. It is not safe for
// concurrent use.
type Manager struct {
	timeout time.Duration
	now     func() time.Time
	entries map[string]Entry
}

// NewManager creates a Manager. A non-positive timeout selects
// DefaultTimeout and a nil clock selects time.Now.
func NewManager(timeout time.Duration, now func() time.Time) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{timeout: timeout, now: now, entries: make(map[string]Entry)}
}

// Timeout returns the expiry window.
func (m *Manager) Timeout() time.Duration { return m.timeout }

// Expired reports whether a lock taken at lockedAt is past timeout at now.
func Expired(now, lockedAt time.Time, timeout time.Duration) bool {
	return now.Sub(lockedAt) > timeout
}

// Acquire locks taskID at observedVersion. It fails without side effects
// while an unexpired lock exists.
func (m *Manager) Acquire(taskID string, observedVersion int) bool {
	now := m.now()
	if cur, ok := m.entries[taskID]; ok && !Expired(now, cur.LockedAt, m.timeout) {
		return false
	}
	m.entries[taskID] = Entry{Locked: true, Version: observedVersion, LockedAt: now}
	return true
}

// Release drops the lock of taskID. Releasing an unknown id is a no-op.
func (m *Manager) Release(taskID string) {
	delete(m.entries, taskID)
}

// CanUpdate reports whether task may be written now.
func (m *Manager) CanUpdate(task domain.Task) bool {
	cur, ok := m.entries[task.ID]
	if !ok {
		return true
	}
	if Expired(m.now(), cur.LockedAt, m.timeout) {
		m.Release(task.ID)
		return true
	}
	return cur.Version == task.Version
}

// Entry returns the current lock of taskID, if any, without evaluating expiry.
func (m *Manager) Entry(taskID string) (Entry, bool) {
	e, ok := m.entries[taskID]
	return e, ok
}

// Held reports whether taskID has an unexpired lock.
func (m *Manager) Held(taskID string) bool {
	e, ok := m.entries[taskID]
	return ok && !Expired(m.now(), e.LockedAt, m.timeout)
}

// Len returns the number of lock entries, expired ones included.
func (m *Manager) Len() int { return len(m.entries) }

// Sweep drops expired entries and returns how many were removed. Expiry is
// already enforced lazily, so calling it only frees memory early.
func (m *Manager) Sweep() int {
	now := m.now()
	n := 0
	for id, e := range m.entries {
		if Expired(now, e.LockedAt, m.timeout) {
			delete(m.entries, id)
			n++
		}
	}
	return n
}
