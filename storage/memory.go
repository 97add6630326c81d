package storage

import (
	"context"
	"sync"

	"board-sync/domain"
)

// Memory is a process-local store. It is safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	boards map[string]*memoryBoard
}

type memoryBoard struct {
	tasks   map[string]domain.Task
	columns map[string]domain.Column
	order   []string
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{boards: make(map[string]*memoryBoard)}
}

func (m *Memory) board(owner string) *memoryBoard {
	b, ok := m.boards[owner]
	if !ok {
		b = &memoryBoard{tasks: make(map[string]domain.Task), columns: make(map[string]domain.Column)}
		m.boards[owner] = b
	}
	return b
}

// LoadBoard returns copies of the owner's columns in creation order and
// their tasks.
func (m *Memory) LoadBoard(_ context.Context, owner string) (domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.board(owner)
	snap := domain.Snapshot{Columns: make([]domain.Column, 0, len(b.order)), Tasks: make([]domain.Task, 0, len(b.tasks))}
	for _, id := range b.order {
		c := b.columns[id]
		c.TaskIDs = append([]string{}, c.TaskIDs...)
		snap.Columns = append(snap.Columns, c)
	}
	for _, c := range snap.Columns {
		for _, id := range c.TaskIDs {
			if t, ok := b.tasks[id]; ok {
				snap.Tasks = append(snap.Tasks, t)
			}
		}
	}
	return snap, nil
}

func (m *Memory) SaveTask(_ context.Context, owner string, t domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.board(owner).tasks[t.ID] = t
	return nil
}

func (m *Memory) DeleteTask(_ context.Context, owner, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.board(owner).tasks, taskID)
	return nil
}

// DeleteColumn removes a column row. A missing column is not an error.
func (m *Memory) DeleteColumn(_ context.Context, owner, columnID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.board(owner)
	delete(b.columns, columnID)
	for i, id := range b.order {
		if id == columnID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return nil
}

// ReorderColumns moves the listed columns to the front in the given order.
// Unknown ids are skipped and unlisted columns keep their relative order.
func (m *Memory) ReorderColumns(_ context.Context, owner string, columnIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.board(owner)
	listed := make(map[string]bool, len(columnIDs))
	order := make([]string, 0, len(b.order))
	for _, id := range columnIDs {
		if _, ok := b.columns[id]; ok && !listed[id] {
			listed[id] = true
			order = append(order, id)
		}
	}
	for _, id := range b.order {
		if !listed[id] {
			order = append(order, id)
		}
	}
	b.order = order
	return nil
}

func (m *Memory) SaveColumn(_ context.Context, owner string, c domain.Column) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.board(owner)
	if _, ok := b.columns[c.ID]; !ok {
		b.order = append(b.order, c.ID)
	}
	c.TaskIDs = append([]string{}, c.TaskIDs...)
	b.columns[c.ID] = c
	return nil
}
