package storage

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/bytedance/sonic"

	"board-sync/domain"
)

func TestDecodeTaskEntity(t *testing.T) {
	data := []byte(`{"PartitionKey":"u1","RowKey":"t1","Content":"Buy milk","ColumnId":"todo","Status":"urgent",` +
		`"IsFavorite":true,"Version":3,"LastModified@odata.type":"Edm.Int64","LastModified":"1700000000123"}`)
	task, err := decodeTaskEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := domain.Task{ID: "t1", Content: "Buy milk", ColumnID: "todo", ParentID: "todo", Status: domain.StatusUrgent, IsFavorite: true, Version: 3, LastModified: 1700000000123}
	if task != want {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestTaskEntityEncoding(t *testing.T) {
	task := domain.Task{ID: "t1", Content: "Buy milk", ColumnID: "todo", Status: domain.StatusDefault, Version: 2, LastModified: 1700000000123}
	payload, err := sonic.Marshal(newTaskEntity("u1", task))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(payload)
	for _, want := range []string{`"PartitionKey":"u1"`, `"RowKey":"t1"`, `"LastModified":"1700000000123"`, `"LastModified@odata.type":"Edm.Int64"`, `"Version@odata.type":"Edm.Int32"`} {
		if !strings.Contains(s, want) {
			t.Fatalf("payload %s missing %s", s, want)
		}
	}
	back, err := decodeTaskEntity(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	task.ParentID = "todo"
	if back != task {
		t.Fatalf("round trip mismatch: %+v", back)
	}
}

func TestColumnEntity(t *testing.T) {
	ent, err := newColumnEntity("u1", domain.Column{ID: "todo", Title: "To do", TaskIDs: []string{"a", "b"}}, 42)
	if err != nil {
		t.Fatalf("new column entity: %v", err)
	}
	if ent.TaskIDs != `["a","b"]` {
		t.Fatalf("unexpected task ids encoding: %s", ent.TaskIDs)
	}
	payload, err := sonic.Marshal(ent)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := decodeColumnEntity(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Created != 42 {
		t.Fatalf("unexpected created: %d", decoded.Created)
	}
	c, err := decoded.column()
	if err != nil {
		t.Fatalf("column: %v", err)
	}
	if !reflect.DeepEqual(c, domain.Column{ID: "todo", Title: "To do", TaskIDs: []string{"a", "b"}}) {
		t.Fatalf("unexpected column: %+v", c)
	}

	empty, err := newColumnEntity("u1", domain.Column{ID: "done"}, 1)
	if err != nil || empty.TaskIDs != "[]" {
		t.Fatalf("expected empty list encoding, got %q, %v", empty.TaskIDs, err)
	}
	if _, err := (ColumnEntity{Entity: Entity{RowKey: "x"}, TaskIDs: "{"}).column(); err == nil {
		t.Fatal("expected error for malformed task ids")
	}
}

func TestPartitionFilterEscapesQuotes(t *testing.T) {
	if got := partitionFilter("o'brien"); got != "PartitionKey eq 'o''brien'" {
		t.Fatalf("unexpected filter: %s", got)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	must(m.SaveColumn(ctx, "u1", domain.Column{ID: "todo", Title: "To do", TaskIDs: []string{"t1", "t2"}}))
	must(m.SaveColumn(ctx, "u1", domain.Column{ID: "done", TaskIDs: []string{}}))
	must(m.SaveTask(ctx, "u1", domain.Task{ID: "t1", Content: "Buy milk", ColumnID: "todo", Version: 1}))
	must(m.SaveTask(ctx, "u1", domain.Task{ID: "t2", Content: "Walk the dog", ColumnID: "todo", Version: 1}))
	must(m.SaveTask(ctx, "u2", domain.Task{ID: "x", Content: "Other owner", ColumnID: "todo", Version: 1}))
	must(m.DeleteTask(ctx, "u1", "t2"))
	must(m.SaveColumn(ctx, "u1", domain.Column{ID: "todo", Title: "To do", TaskIDs: []string{"t1"}}))

	snap, err := m.LoadBoard(ctx, "u1")
	must(err)
	if len(snap.Columns) != 2 || snap.Columns[0].ID != "todo" || snap.Columns[1].ID != "done" {
		t.Fatalf("unexpected columns: %+v", snap.Columns)
	}
	if len(snap.Tasks) != 1 || snap.Tasks[0].ID != "t1" {
		t.Fatalf("unexpected tasks: %+v", snap.Tasks)
	}

	snap.Columns[0].TaskIDs[0] = "mutated"
	again, _ := m.LoadBoard(ctx, "u1")
	if again.Columns[0].TaskIDs[0] != "t1" {
		t.Fatal("LoadBoard must return copies")
	}
}

func TestSortColumns(t *testing.T) {
	entities := []ColumnEntity{
		{Entity: Entity{RowKey: "c"}, Created: 30},
		{Entity: Entity{RowKey: "b"}, Created: 10},
		{Entity: Entity{RowKey: "a"}, Created: 10},
	}
	sortColumns(entities)
	var ids []string
	for _, e := range entities {
		ids = append(ids, e.RowKey)
	}
	if strings.Join(ids, ",") != "a,b,c" {
		t.Fatalf("unexpected order %v", ids)
	}
}

func TestColumnOrderEncoding(t *testing.T) {
	payload, err := sonic.Marshal(columnOrder{Entity: Entity{PartitionKey: "u1", RowKey: "todo"}, Created: 7, CreatedType: EdmInt64})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(payload)
	if strings.Contains(s, "Title") || strings.Contains(s, "TaskIds") {
		t.Fatalf("merge payload must only carry the order stamp: %s", s)
	}
	if !strings.Contains(s, `"Created":"7"`) {
		t.Fatalf("unexpected payload %s", s)
	}
}

func TestMemoryColumnManagement(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, id := range []string{"todo", "doing", "done"} {
		if err := m.SaveColumn(ctx, "u1", domain.Column{ID: id}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if err := m.ReorderColumns(ctx, "u1", []string{"done", "ghost", "todo"}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if err := m.DeleteColumn(ctx, "u1", "todo"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.DeleteColumn(ctx, "u1", "missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	snap, _ := m.LoadBoard(ctx, "u1")
	var ids []string
	for _, c := range snap.Columns {
		ids = append(ids, c.ID)
	}
	if strings.Join(ids, ",") != "done,doing" {
		t.Fatalf("unexpected columns %v", ids)
	}
}
