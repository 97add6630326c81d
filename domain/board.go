package domain

import (
	"fmt"
	"sort"
	"strings"
)

// Board holds the tasks and columns of one owner. Every task id appears in
// exactly one column's TaskIDs and ColumnID always equals ParentID.
//
// Board is not safe for concurrent use; callers serialise access.
type Board struct {
	owner   string
	ledger  *Ledger
	tasks   map[string]*Task
	columns map[string]*Column
	order   []string
}

// NewBoard creates an empty board for owner.
func NewBoard(owner string, ledger *Ledger) *Board {
	if ledger == nil {
		ledger = NewLedger(nil)
	}
	return &Board{
		owner:   owner,
		ledger:  ledger,
		tasks:   make(map[string]*Task),
		columns: make(map[string]*Column),
	}
}

// Owner returns the owner identity of the board.
func (b *Board) Owner() string { return b.owner }

// Task returns a copy of the task.
func (b *Board) Task(id string) (Task, bool) {
	t, ok := b.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Column returns a copy of the column.
func (b *Board) Column(id string) (Column, bool) {
	c, ok := b.columns[id]
	if !ok {
		return Column{}, false
	}
	return c.clone(), true
}

// Columns returns copies of all columns in display order.
func (b *Board) Columns() []Column {
	out := make([]Column, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.columns[id].clone())
	}
	return out
}

// Tasks returns copies of all tasks ordered by column then position.
func (b *Board) Tasks() []Task {
	out := make([]Task, 0, len(b.tasks))
	for _, cid := range b.order {
		for _, tid := range b.columns[cid].TaskIDs {
			if t, ok := b.tasks[tid]; ok {
				out = append(out, *t)
			}
		}
	}
	return out
}

// ColumnTasks returns the tasks of a column in display order.
func (b *Board) ColumnTasks(columnID string) []Task {
	c, ok := b.columns[columnID]
	if !ok {
		return nil
	}
	out := make([]Task, 0, len(c.TaskIDs))
	for _, id := range c.TaskIDs {
		if t, ok := b.tasks[id]; ok {
			out = append(out, *t)
		}
	}
	return out
}

// Len returns the number of tasks.
func (b *Board) Len() int { return len(b.tasks) }

// AddColumn creates a column or retitles an existing one.
func (b *Board) AddColumn(id, title string) Column {
	c := b.ensureColumn(id)
	if title != "" {
		c.Title = title
	}
	return c.clone()
}

func (b *Board) ensureColumn(id string) *Column {
	c, ok := b.columns[id]
	if !ok {
		c = &Column{ID: id, TaskIDs: []string{}}
		b.columns[id] = c
		b.order = append(b.order, id)
	}
	return c
}

// DeleteColumn removes an empty column. Tasks never lose their column, so a
// column holding tasks is rejected with ErrColumnNotEmpty.
func (b *Board) DeleteColumn(id string) (Column, error) {
	c, ok := b.columns[id]
	if !ok {
		return Column{}, ErrColumnNotFound
	}
	if len(c.TaskIDs) > 0 {
		return Column{}, ErrColumnNotEmpty
	}
	delete(b.columns, id)
	for i, cid := range b.order {
		if cid == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	return *c, nil
}

// ReorderColumns sets the display order of the columns. ids must name every
// column exactly once.
func (b *Board) ReorderColumns(ids []string) error {
	if len(ids) != len(b.order) {
		return &ValidationError{Field: "columnIds", Reason: fmt.Sprintf("expected %d columns, got %d", len(b.order), len(ids))}
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := b.columns[id]; !ok {
			return fmt.Errorf("%w: %s", ErrColumnNotFound, id)
		}
		if seen[id] {
			return &ValidationError{Field: "columnIds", Reason: "duplicate column " + id}
		}
		seen[id] = true
	}
	b.order = append(b.order[:0:0], ids...)
	return nil
}

// Filter returns the tasks, in board order, whose content contains term
// (ignoring case), whose status equals *status when status is non-nil, and
// that are favorites when favoritesOnly is set.
func (b *Board) Filter(term string, status *Status, favoritesOnly bool) []Task {
	key := contentKey(term)
	out := []Task{}
	for _, t := range b.Tasks() {
		if key != "" && !strings.Contains(contentKey(t.Content), key) {
			continue
		}
		if status != nil && t.Status != *status {
			continue
		}
		if favoritesOnly && !t.IsFavorite {
			continue
		}
		out = append(out, t)
	}
	return out
}

// HasContent reports whether a task other than exceptID already has content.
func (b *Board) HasContent(content, exceptID string) bool {
	key := contentKey(content)
	for id, t := range b.tasks {
		if id != exceptID && contentKey(t.Content) == key {
			return true
		}
	}
	return false
}

// AddTask inserts a new task at the end of its column and stamps it with
// version 1. Missing status defaults to StatusDefault.
func (b *Board) AddTask(t Task) (Task, error) {
	if t.ID == "" {
		return Task{}, &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if t.ColumnID == "" {
		return Task{}, &ValidationError{Field: "columnId", Reason: "must not be empty"}
	}
	if _, exists := b.tasks[t.ID]; exists {
		return Task{}, fmt.Errorf("task %s already exists", t.ID)
	}
	if t.Status == "" {
		t.Status = StatusDefault
	}
	t.ParentID = t.ColumnID
	b.ledger.Init(&t)
	b.tasks[t.ID] = &t
	b.ensureColumn(t.ColumnID).insert(t.ID, -1)
	return t, nil
}

// PutTask stores t as received from elsewhere, keeping its version and
// timestamp. An existing task with the same id is replaced and moved if its
// column differs.
func (b *Board) PutTask(t Task) Task {
	if t.Status == "" {
		t.Status = StatusDefault
	}
	if t.Version < 1 {
		t.Version = 1
	}
	t.ParentID = t.ColumnID
	if old, ok := b.tasks[t.ID]; ok && old.ColumnID != t.ColumnID {
		if c, ok := b.columns[old.ColumnID]; ok {
			c.remove(t.ID)
		}
	}
	c := b.ensureColumn(t.ColumnID)
	if c.indexOf(t.ID) < 0 {
		c.insert(t.ID, -1)
	}
	b.ledger.Observe(t.LastModified)
	b.tasks[t.ID] = &t
	return t
}

// Restamp sets the modification time of a task to ms, the time another
// session wrote the change just applied. The version is left alone.
func (b *Board) Restamp(id string, ms int64) (Task, error) {
	t, ok := b.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if ms > 0 {
		t.LastModified = ms
		b.ledger.Observe(ms)
	}
	return *t, nil
}

// DeleteTask removes the task and its column reference.
func (b *Board) DeleteTask(id string) (Task, error) {
	t, ok := b.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if c, ok := b.columns[t.ColumnID]; ok {
		c.remove(id)
	}
	delete(b.tasks, id)
	return *t, nil
}

// SetContent replaces the content of a task.
func (b *Board) SetContent(id, content string) (Task, error) {
	return b.mutate(id, func(t *Task) error {
		t.Content = content
		return nil
	})
}

// SetStatus replaces the status of a task.
func (b *Board) SetStatus(id string, s Status) (Task, error) {
	if err := ValidateStatus(s); err != nil {
		return Task{}, err
	}
	return b.mutate(id, func(t *Task) error {
		t.Status = s
		return nil
	})
}

// SetFavorite sets the favorite flag of a task.
func (b *Board) SetFavorite(id string, fav bool) (Task, error) {
	return b.mutate(id, func(t *Task) error {
		t.IsFavorite = fav
		return nil
	})
}

// MoveTask moves a task to columnID at index; a negative index appends.
// Reordering inside the same column is not a task mutation and keeps the version.
func (b *Board) MoveTask(id, columnID string, index int) (Task, error) {
	t, ok := b.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if columnID == "" {
		return Task{}, &ValidationError{Field: "columnId", Reason: "must not be empty"}
	}
	if t.ColumnID == columnID {
		c := b.columns[columnID]
		c.remove(id)
		c.insert(id, index)
		return *t, nil
	}
	return b.mutate(id, func(t *Task) error {
		if old, ok := b.columns[t.ColumnID]; ok {
			old.remove(id)
		}
		t.ColumnID = columnID
		t.ParentID = columnID
		b.ensureColumn(columnID).insert(id, index)
		return nil
	})
}

func (b *Board) mutate(id string, fn func(t *Task) error) (Task, error) {
	t, ok := b.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if err := fn(t); err != nil {
		return Task{}, err
	}
	b.ledger.Bump(t)
	return *t, nil
}

// Snapshot copies the board.
func (b *Board) Snapshot() Snapshot {
	return Snapshot{Columns: b.Columns(), Tasks: b.Tasks()}
}

// Restore replaces the board contents with snap. Tasks missing from every
// column are appended to their own column; ids referenced by a column
// without a task are dropped.
func (b *Board) Restore(snap Snapshot) {
	b.tasks = make(map[string]*Task, len(snap.Tasks))
	b.columns = make(map[string]*Column, len(snap.Columns))
	b.order = nil
	for _, c := range snap.Columns {
		b.ensureColumn(c.ID).Title = c.Title
	}
	for i := range snap.Tasks {
		t := snap.Tasks[i]
		if t.ColumnID == "" {
			t.ColumnID = t.ParentID
		}
		t.ParentID = t.ColumnID
		if t.Version < 1 {
			t.Version = 1
		}
		if t.Status == "" {
			t.Status = StatusDefault
		}
		b.ledger.Observe(t.LastModified)
		b.tasks[t.ID] = &t
	}
	placed := make(map[string]bool, len(b.tasks))
	for _, c := range snap.Columns {
		col := b.columns[c.ID]
		for _, id := range c.TaskIDs {
			t, ok := b.tasks[id]
			if !ok || placed[id] || t.ColumnID != c.ID {
				continue
			}
			col.TaskIDs = append(col.TaskIDs, id)
			placed[id] = true
		}
	}
	ids := make([]string, 0, len(b.tasks))
	for id := range b.tasks {
		if !placed[id] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		b.ensureColumn(b.tasks[id].ColumnID).insert(id, -1)
	}
}

// Check verifies the column partition and parent invariants.
func (b *Board) Check() error {
	seen := make(map[string]string, len(b.tasks))
	for _, cid := range b.order {
		for _, tid := range b.columns[cid].TaskIDs {
			if prev, dup := seen[tid]; dup {
				return fmt.Errorf("task %s listed in columns %s and %s", tid, prev, cid)
			}
			seen[tid] = cid
			t, ok := b.tasks[tid]
			if !ok {
				return fmt.Errorf("column %s lists unknown task %s", cid, tid)
			}
			if t.ColumnID != cid || t.ParentID != cid {
				return fmt.Errorf("task %s points at %s/%s but is listed in %s", tid, t.ColumnID, t.ParentID, cid)
			}
		}
	}
	for id := range b.tasks {
		if _, ok := seen[id]; !ok {
			return fmt.Errorf("task %s is in no column", id)
		}
	}
	return nil
}
