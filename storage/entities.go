package storage

import (
	"github.com/bytedance/sonic"

	"board-sync/domain"
)

const (
	EdmInt32   = "Edm.Int32"
	EdmBoolean = "Edm.Boolean"
	EdmInt64   = "Edm.Int64"
)

// Entity represents base table entity keys.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

// TaskEntity is a task row. PartitionKey is the owner, RowKey the task id.
type TaskEntity struct {
	Entity
	Content          string `json:"Content"`
	ColumnID         string `json:"ColumnId"`
	Status           string `json:"Status"`
	IsFavorite       bool   `json:"IsFavorite"`
	IsFavoriteType   string `json:"IsFavorite@odata.type,omitempty"`
	Version          int    `json:"Version"`
	VersionType      string `json:"Version@odata.type,omitempty"`
	LastModified     int64  `json:"LastModified,string"`
	LastModifiedType string `json:"LastModified@odata.type,omitempty"`
}

// ColumnEntity is a column row. PartitionKey is the owner, RowKey the
// column id. TaskIDs holds the JSON encoded display order. Created orders
// the columns on the board and is rewritten by ReorderColumns.
type ColumnEntity struct {
	Entity
	Title       string `json:"Title"`
	TaskIDs     string `json:"TaskIds"`
	Created     int64  `json:"Created,string"`
	CreatedType string `json:"Created@odata.type,omitempty"`
}

// columnOrder is the partial row merged by ReorderColumns.
type columnOrder struct {
	Entity
	Created     int64  `json:"Created,string"`
	CreatedType string `json:"Created@odata.type"`
}

func newTaskEntity(owner string, t domain.Task) TaskEntity {
	return TaskEntity{
		Entity:           Entity{PartitionKey: owner, RowKey: t.ID},
		Content:          t.Content,
		ColumnID:         t.ColumnID,
		Status:           string(t.Status),
		IsFavorite:       t.IsFavorite,
		IsFavoriteType:   EdmBoolean,
		Version:          t.Version,
		VersionType:      EdmInt32,
		LastModified:     t.LastModified,
		LastModifiedType: EdmInt64,
	}
}

func (e TaskEntity) task() domain.Task {
	return domain.Task{
		ID:           e.RowKey,
		Content:      e.Content,
		ColumnID:     e.ColumnID,
		ParentID:     e.ColumnID,
		Status:       domain.Status(e.Status),
		IsFavorite:   e.IsFavorite,
		Version:      e.Version,
		LastModified: e.LastModified,
	}
}

func newColumnEntity(owner string, c domain.Column, created int64) (ColumnEntity, error) {
	ids := c.TaskIDs
	if ids == nil {
		ids = []string{}
	}
	encoded, err := sonic.MarshalString(ids)
	if err != nil {
		return ColumnEntity{}, err
	}
	return ColumnEntity{
		Entity:      Entity{PartitionKey: owner, RowKey: c.ID},
		Title:       c.Title,
		TaskIDs:     encoded,
		Created:     created,
		CreatedType: EdmInt64,
	}, nil
}

func (e ColumnEntity) column() (domain.Column, error) {
	c := domain.Column{ID: e.RowKey, Title: e.Title, TaskIDs: []string{}}
	if e.TaskIDs != "" {
		if err := sonic.UnmarshalString(e.TaskIDs, &c.TaskIDs); err != nil {
			return domain.Column{}, err
		}
	}
	return c, nil
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent TaskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return ent.task(), nil
}

func decodeColumnEntity(data []byte) (ColumnEntity, error) {
	var ent ColumnEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return ColumnEntity{}, err
	}
	return ent, nil
}
