// Package storage persists owner boards in Azure Tables, with an in-memory
// store for single-process use and a Redis read-through cache.
package storage

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

// Storage keeps tasks and columns in two tables partitioned by owner.
type Storage struct {
	taskTable   *aztables.Client
	columnTable *aztables.Client
	now         func() time.Time
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, columnsTable string) (*Storage, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Storage{
		taskTable:   svc.NewClient(tasksTable),
		columnTable: svc.NewClient(columnsTable),
		now:         time.Now,
	}, nil
}

// EnsureTables creates the tables if they do not exist yet.
func (s *Storage) EnsureTables(ctx context.Context) error {
	for _, c := range []*aztables.Client{s.taskTable, s.columnTable} {
		if _, err := c.CreateTable(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return err
			}
		}
	}
	return nil
}

// LoadBoard returns every column and task of owner. Columns come back
// ordered by their Created stamp.
func (s *Storage) LoadBoard(ctx context.Context, owner string) (domain.Snapshot, error) {
	filter := partitionFilter(owner)
	entities, err := s.listColumns(ctx, owner)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snap := domain.Snapshot{Columns: make([]domain.Column, 0, len(entities)), Tasks: []domain.Task{}}
	for _, ent := range entities {
		c, err := ent.column()
		if err != nil {
			log.WithError(err).WithFields(log.Fields{"owner": owner, "column": ent.RowKey}).Warn("column task order unreadable, rebuilding")
			c = domain.Column{ID: ent.RowKey, Title: ent.Title, TaskIDs: []string{}}
		}
		snap.Columns = append(snap.Columns, c)
	}

	taskPager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for taskPager.More() {
		resp, err := taskPager.NextPage(ctx)
		if err != nil {
			return domain.Snapshot{}, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return domain.Snapshot{}, err
			}
			snap.Tasks = append(snap.Tasks, t)
		}
	}
	return snap, nil
}

// SaveTask creates or replaces a task row.
func (s *Storage) SaveTask(ctx context.Context, owner string, t domain.Task) error {
	payload, err := sonic.Marshal(newTaskEntity(owner, t))
	if err == nil {
		_, err = s.taskTable.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	}
	return err
}

// DeleteTask removes a task row. A missing row is not an error.
func (s *Storage) DeleteTask(ctx context.Context, owner, taskID string) error {
	_, err := s.taskTable.DeleteEntity(ctx, owner, taskID, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

// SaveColumn creates or replaces a column row, keeping its creation time.
func (s *Storage) SaveColumn(ctx context.Context, owner string, c domain.Column) error {
	created := s.now().UnixMilli()
	existing, err := s.columnTable.GetEntity(ctx, owner, c.ID, nil)
	switch {
	case err == nil:
		if prev, derr := decodeColumnEntity(existing.Value); derr == nil && prev.Created > 0 {
			created = prev.Created
		}
	case !isNotFound(err):
		return err
	}
	ent, err := newColumnEntity(owner, c, created)
	if err != nil {
		return err
	}
	payload, err := sonic.Marshal(ent)
	if err == nil {
		_, err = s.columnTable.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	}
	return err
}

// DeleteColumn removes a column row. A missing row is not an error.
func (s *Storage) DeleteColumn(ctx context.Context, owner, columnID string) error {
	_, err := s.columnTable.DeleteEntity(ctx, owner, columnID, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

// ReorderColumns rewrites the Created stamps of the listed columns so they
// sort in the given order. The stamps start at the owner's oldest column,
// which keeps columns added later at the end.
func (s *Storage) ReorderColumns(ctx context.Context, owner string, columnIDs []string) error {
	entities, err := s.listColumns(ctx, owner)
	if err != nil {
		return err
	}
	base := s.now().UnixMilli()
	if len(entities) > 0 && entities[0].Created > 0 {
		base = entities[0].Created
	}
	for i, id := range columnIDs {
		payload, err := sonic.Marshal(columnOrder{
			Entity:      Entity{PartitionKey: owner, RowKey: id},
			Created:     base + int64(i),
			CreatedType: EdmInt64,
		})
		if err != nil {
			return err
		}
		if _, err := s.columnTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeMerge}); err != nil && !isNotFound(err) {
			return err
		}
	}
	return nil
}

// listColumns returns the owner's column rows sorted by Created.
func (s *Storage) listColumns(ctx context.Context, owner string) ([]ColumnEntity, error) {
	filter := partitionFilter(owner)
	var entities []ColumnEntity
	pager := s.columnTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			ent, err := decodeColumnEntity(e)
			if err != nil {
				return nil, err
			}
			entities = append(entities, ent)
		}
	}
	sortColumns(entities)
	return entities, nil
}

func sortColumns(entities []ColumnEntity) {
	sort.SliceStable(entities, func(i, j int) bool {
		if entities[i].Created != entities[j].Created {
			return entities[i].Created < entities[j].Created
		}
		return entities[i].RowKey < entities[j].RowKey
	})
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func partitionFilter(owner string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(owner, "'", "''") + "'"
}
