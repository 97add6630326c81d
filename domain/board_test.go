package domain

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func fixedLedger(start time.Time) (*Ledger, *time.Time) {
	now := start
	return NewLedger(func() time.Time { return now }), &now
}

func TestVersionCountsAcceptedMutations(t *testing.T) {
	ledger, now := fixedLedger(time.UnixMilli(1_000))
	b := NewBoard("u1", ledger)
	task, err := b.AddTask(Task{ID: "t1", Content: "Buy milk", ColumnID: "todo"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if task.Version != 1 || task.LastModified != 1_000 {
		t.Fatalf("unexpected initial stamp: %+v", task)
	}

	steps := []func() (Task, error){
		func() (Task, error) { return b.SetContent("t1", "Buy oat milk") },
		func() (Task, error) { return b.SetStatus("t1", StatusUrgent) },
		func() (Task, error) { return b.SetFavorite("t1", true) },
		func() (Task, error) { return b.MoveTask("t1", "doing", -1) },
		func() (Task, error) { return b.SetStatus("t1", StatusCompleted) },
	}
	for i, step := range steps {
		*now = now.Add(time.Second)
		got, err := step()
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if got.Version != 2+i {
			t.Fatalf("step %d: expected version %d, got %d", i, 2+i, got.Version)
		}
		if got.LastModified != now.UnixMilli() {
			t.Fatalf("step %d: expected lastModified %d, got %d", i, now.UnixMilli(), got.LastModified)
		}
	}
	if err := b.Check(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestLedgerNeverGoesBackwards(t *testing.T) {
	ledger, now := fixedLedger(time.UnixMilli(5_000))
	var task Task
	ledger.Init(&task)
	*now = time.UnixMilli(4_000)
	ledger.Bump(&task)
	if task.Version != 2 || task.LastModified != 5_000 {
		t.Fatalf("unexpected stamp after clock skew: %+v", task)
	}
}

func TestRejectedMutationKeepsVersion(t *testing.T) {
	b := NewBoard("u1", nil)
	if _, err := b.AddTask(Task{ID: "t1", Content: "Buy milk", ColumnID: "todo"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := b.SetStatus("t1", "someday"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := b.SetStatus("missing", StatusUrgent); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	task, _ := b.Task("t1")
	if task.Version != 1 {
		t.Fatalf("expected version 1, got %d", task.Version)
	}
}

func TestDeleteTaskRemovesColumnReference(t *testing.T) {
	b := NewBoard("u1", nil)
	for _, id := range []string{"a", "b", "c"} {
		if _, err := b.AddTask(Task{ID: id, Content: "task " + id + " here", ColumnID: "todo"}); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	if _, err := b.DeleteTask("b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	col, _ := b.Column("todo")
	if len(col.TaskIDs) != 2 || col.TaskIDs[0] != "a" || col.TaskIDs[1] != "c" {
		t.Fatalf("unexpected column ids: %v", col.TaskIDs)
	}
	if _, ok := b.Task("b"); ok {
		t.Fatal("task still present")
	}
	if _, err := b.DeleteTask("b"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if err := b.Check(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestMoveTaskKeepsPartition(t *testing.T) {
	b := NewBoard("u1", nil)
	b.AddColumn("todo", "To do")
	b.AddColumn("done", "Done")
	for _, id := range []string{"a", "b"} {
		if _, err := b.AddTask(Task{ID: id, Content: "task " + id + " here", ColumnID: "todo"}); err != nil {
			t.Fatalf("add %s: %v", id, err)
		}
	}
	moved, err := b.MoveTask("b", "done", 0)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.ColumnID != "done" || moved.ParentID != "done" || moved.Version != 2 {
		t.Fatalf("unexpected moved task: %+v", moved)
	}
	reordered, err := b.MoveTask("a", "todo", 0)
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if reordered.Version != 1 {
		t.Fatalf("reorder within column must not bump version, got %d", reordered.Version)
	}
	if err := b.Check(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
	if got := b.ColumnTasks("done"); len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("unexpected done column: %+v", got)
	}
}

func TestHasContentIgnoresCaseAndSelf(t *testing.T) {
	b := NewBoard("u1", nil)
	if _, err := b.AddTask(Task{ID: "t1", Content: "Buy milk", ColumnID: "todo"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !b.HasContent("  buy MILK ", "") {
		t.Fatal("expected duplicate detection")
	}
	if b.HasContent("Buy milk", "t1") {
		t.Fatal("task must not duplicate itself")
	}
}

func TestRestoreRepairsPartition(t *testing.T) {
	b := NewBoard("u1", nil)
	b.Restore(Snapshot{
		Columns: []Column{
			{ID: "todo", Title: "To do", TaskIDs: []string{"t1", "ghost", "t1"}},
			{ID: "done", Title: "Done", TaskIDs: []string{"t1"}},
		},
		Tasks: []Task{
			{ID: "t1", Content: "Buy milk", ColumnID: "todo", Version: 3},
			{ID: "t2", Content: "Walk dog", ParentID: "done"},
		},
	})
	if err := b.Check(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
	todo, _ := b.Column("todo")
	if len(todo.TaskIDs) != 1 || todo.TaskIDs[0] != "t1" {
		t.Fatalf("unexpected todo ids: %v", todo.TaskIDs)
	}
	t2, _ := b.Task("t2")
	if t2.ColumnID != "done" || t2.Version != 1 || t2.Status != StatusDefault {
		t.Fatalf("unexpected repaired task: %+v", t2)
	}
}

func TestPutTaskMovesExisting(t *testing.T) {
	b := NewBoard("u1", nil)
	if _, err := b.AddTask(Task{ID: "t1", Content: "Buy milk", ColumnID: "todo"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	b.PutTask(Task{ID: "t1", Content: "Buy milk", ColumnID: "done", Version: 4})
	if err := b.Check(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
	got, _ := b.Task("t1")
	if got.Version != 4 || got.ParentID != "done" {
		t.Fatalf("unexpected task: %+v", got)
	}
}

func TestNewTaskIDUnpadded(t *testing.T) {
	a, b := NewTaskID("u1"), NewTaskID("u1")
	if a == b {
		t.Fatal("expected distinct ids")
	}
	for _, id := range []string{a, b} {
		if id == "" || id[len(id)-1] == '=' {
			t.Fatalf("unexpected id %q", id)
		}
	}
}

func TestRestampAdvancesLedger(t *testing.T) {
	ledger, now := fixedLedger(time.UnixMilli(1_000))
	b := NewBoard("u1", ledger)
	if _, err := b.AddTask(Task{ID: "t1", Content: "Buy milk", ColumnID: "todo"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := b.SetStatus("t1", StatusUrgent); err != nil {
		t.Fatalf("set status: %v", err)
	}
	got, err := b.Restamp("t1", 5_000)
	if err != nil {
		t.Fatalf("restamp: %v", err)
	}
	if got.Version != 2 || got.LastModified != 5_000 {
		t.Fatalf("unexpected task after restamp: %+v", got)
	}
	*now = time.UnixMilli(2_000)
	got, _ = b.SetFavorite("t1", true)
	if got.LastModified != 5_000 {
		t.Fatalf("local stamp went behind an observed write: %d", got.LastModified)
	}
	if _, err := b.Restamp("missing", 1); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func filterBoard(t *testing.T) *Board {
	t.Helper()
	b := NewBoard("u1", nil)
	for _, task := range []Task{
		{ID: "t1", Content: "Buy milk", ColumnID: "todo"},
		{ID: "t2", Content: "Walk the dog", ColumnID: "todo", Status: StatusUrgent},
		{ID: "t3", Content: "Buy bread", ColumnID: "done", Status: StatusUrgent, IsFavorite: true},
	} {
		if _, err := b.AddTask(task); err != nil {
			t.Fatalf("add %s: %v", task.ID, err)
		}
	}
	return b
}

func TestFilter(t *testing.T) {
	urgent := StatusUrgent
	delayed := StatusDelayed
	tests := []struct {
		name     string
		term     string
		status   *Status
		favorite bool
		want     []string
	}{
		{name: "all", want: []string{"t1", "t2", "t3"}},
		{name: "term ignores case", term: "  BUY ", want: []string{"t1", "t3"}},
		{name: "status", status: &urgent, want: []string{"t2", "t3"}},
		{name: "favorites", favorite: true, want: []string{"t3"}},
		{name: "combined", term: "buy", status: &urgent, want: []string{"t3"}},
		{name: "no match", status: &delayed, want: []string{}},
	}
	b := filterBoard(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.Filter(tt.term, tt.status, tt.favorite)
			ids := make([]string, 0, len(got))
			for _, task := range got {
				ids = append(ids, task.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("Filter() = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestDeleteColumn(t *testing.T) {
	b := filterBoard(t)
	b.AddColumn("later", "Later")

	if _, err := b.DeleteColumn("todo"); !errors.Is(err, ErrColumnNotEmpty) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrColumnNotEmpty, got %v", err)
	}
	if _, err := b.DeleteColumn("missing"); !errors.Is(err, ErrColumnNotFound) {
		t.Fatalf("expected ErrColumnNotFound, got %v", err)
	}
	if _, err := b.DeleteColumn("later"); err != nil {
		t.Fatalf("delete empty column: %v", err)
	}
	if _, ok := b.Column("later"); ok {
		t.Fatal("column still present")
	}
	if got := len(b.Columns()); got != 2 {
		t.Fatalf("expected 2 columns, got %d", got)
	}
	if err := b.Check(); err != nil {
		t.Fatalf("partition broken: %v", err)
	}
}

func TestReorderColumns(t *testing.T) {
	b := filterBoard(t)
	b.AddColumn("later", "")

	if err := b.ReorderColumns([]string{"later", "done", "todo"}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	var ids []string
	for _, c := range b.Columns() {
		ids = append(ids, c.ID)
	}
	if strings.Join(ids, ",") != "later,done,todo" {
		t.Fatalf("unexpected order %v", ids)
	}
	if tasks := b.Tasks(); tasks[0].ID != "t3" {
		t.Fatalf("tasks should follow column order, got %v", tasks[0].ID)
	}

	for _, bad := range [][]string{{"later", "done"}, {"later", "done", "done"}} {
		if err := b.ReorderColumns(bad); !errors.Is(err, ErrValidation) {
			t.Fatalf("expected validation error for %v, got %v", bad, err)
		}
	}
	if err := b.ReorderColumns([]string{"later", "done", "ghost"}); !errors.Is(err, ErrColumnNotFound) {
		t.Fatalf("expected ErrColumnNotFound, got %v", err)
	}
}
