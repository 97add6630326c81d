// Package session keeps one owner's board consistent across local edits and
// changes pushed from other sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"board-sync/cache"
	"board-sync/domain"
	"board-sync/lock"
)

// One publish worker keeps a session's events in order on the wire.
const (
	defaultPublishWorkers = 1
	defaultPublishBuffer  = 64
	defaultWriteBuffer    = 256
	defaultHandoff        = 15 * time.Millisecond
	defaultJobTimeout     = 10 * time.Second
)

// ConnectionStatus is the state of the push connection as seen by the session.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusClosed       ConnectionStatus = "closed"
)

// Publisher sends an event to the relay.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Store persists an owner's board.
type Store interface {
	LoadBoard(ctx context.Context, owner string) (domain.Snapshot, error)
	SaveTask(ctx context.Context, owner string, t domain.Task) error
	DeleteTask(ctx context.Context, owner, taskID string) error
	SaveColumn(ctx context.Context, owner string, c domain.Column) error
	DeleteColumn(ctx context.Context, owner, columnID string) error
	ReorderColumns(ctx context.Context, owner string, columnIDs []string) error
}

// Config holds the collaborators and tunables of a Session. Zero values
// select the defaults.
type Config struct {
	LockTimeout time.Duration
	CacheTTL    time.Duration
	Now         func() time.Time

	Publisher Publisher
	Store     Store
	Notifier  Notifier
	Logger    *log.Logger

	PublishWorkers int
	PublishBuffer  int
	HandoffTimeout time.Duration
	JobTimeout     time.Duration
}

// Session is the editing and receiving side for one owner. All methods run
// to completion under one mutex, so callbacks from the push connection and
// local edits never interleave.
type Session struct {
	mu sync.Mutex

	owner  string
	origin string
	now    func() time.Time
	cfg    Config

	ledger *domain.Ledger
	board  *domain.Board
	locks  *lock.Manager
	cache  *cache.Cache

	publisher Publisher
	store     Store
	notifier  Notifier
	logger    *log.Entry

	publishes *Dispatcher
	writes    *Dispatcher
	status    ConnectionStatus
}

// New creates an empty session for owner.
func New(owner string, cfg Config) (*Session, error) {
	if owner == "" {
		return nil, domain.ErrMissingOwner
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = lock.DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	if cfg.PublishWorkers <= 0 {
		cfg.PublishWorkers = defaultPublishWorkers
	}
	if cfg.PublishBuffer <= 0 {
		cfg.PublishBuffer = defaultPublishBuffer
	}
	if cfg.HandoffTimeout == 0 {
		cfg.HandoffTimeout = defaultHandoff
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	origin := uuid.NewString()
	entry := logger.WithFields(log.Fields{"owner": owner, "origin": origin})
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = LogNotifier{Entry: entry}
	}

	ledger := domain.NewLedger(cfg.Now)
	s := &Session{
		owner:     owner,
		origin:    origin,
		now:       cfg.Now,
		cfg:       cfg,
		ledger:    ledger,
		board:     domain.NewBoard(owner, ledger),
		locks:     lock.NewManager(cfg.LockTimeout, cfg.Now),
		cache:     cache.New(cfg.CacheTTL, cfg.Now),
		publisher: cfg.Publisher,
		store:     cfg.Store,
		notifier:  notifier,
		logger:    entry,
		status:    StatusDisconnected,
	}
	if s.publisher != nil {
		s.publishes = NewDispatcher(cfg.PublishWorkers, cfg.PublishBuffer, cfg.JobTimeout, cfg.HandoffTimeout, entry.WithField("pool", "publish"))
	}
	if s.store != nil {
		s.writes = NewDispatcher(1, defaultWriteBuffer, cfg.JobTimeout, 0, entry.WithField("pool", "store"))
	}
	return s, nil
}

// Owner returns the owner identity of the session.
func (s *Session) Owner() string { return s.owner }

// Origin returns the id stamped on events published by this session.
func (s *Session) Origin() string { return s.origin }

// Load replaces the board with the owner's persisted board. Locks and
// cached reads are dropped.
func (s *Session) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	snap, err := s.store.LoadBoard(ctx, s.owner)
	if err != nil {
		return fmt.Errorf("load board: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.board.Restore(snap)
	s.locks = lock.NewManager(s.cfg.LockTimeout, s.now)
	s.cache = cache.New(s.cfg.CacheTTL, s.now)
	s.logger.WithField("tasks", s.board.Len()).Info("board loaded")
	return nil
}

// Task returns the task, served from the read cache while the cached copy
// is current.
func (s *Session) Task(id string) (domain.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.board.Task(id)
	if !ok {
		s.cache.Invalidate(id)
		return domain.Task{}, false
	}
	if t, ok := s.cache.GetFresh(id, current.Version); ok {
		return t, true
	}
	s.cache.Set(current)
	return current, true
}

// Tasks returns every task of the board.
func (s *Session) Tasks() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Tasks()
}

// ColumnTasks returns the tasks of a column in display order.
func (s *Session) ColumnTasks(columnID string) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.ColumnTasks(columnID)
}

// Columns returns every column of the board.
func (s *Session) Columns() []domain.Column {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Columns()
}

// Snapshot copies the board.
func (s *Session) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Snapshot()
}

// BeginEdit locks the task for an edit at its current version.
func (s *Session) BeginEdit(id string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.board.Task(id)
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	if !s.locks.Acquire(id, t.Version) {
		s.notifier.Conflict(id)
		return domain.Task{}, domain.ErrLockConflict
	}
	return t, nil
}

// CancelEdit abandons an edit.
func (s *Session) CancelEdit(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks.Release(id)
}

// CommitContent ends an edit by writing content. The lock is released
// whatever the outcome.
func (s *Session) CommitContent(id, content string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.locks.Release(id)

	t, err := s.checkUpdate(id)
	if err != nil {
		return domain.Task{}, err
	}
	normalized, err := domain.ValidateContent(content)
	if err != nil {
		return domain.Task{}, err
	}
	if normalized == t.Content {
		return t, nil
	}
	if s.board.HasContent(normalized, id) {
		return domain.Task{}, domain.ErrDuplicateContent
	}
	s.cache.Invalidate(id)
	updated, err := s.board.SetContent(id, normalized)
	if err != nil {
		return domain.Task{}, err
	}
	s.persist([]domain.Task{updated}, nil)
	s.publish(domain.NewContentUpdate(updated))
	return updated, nil
}

// UpdateStatus sets the status of a task.
func (s *Session) UpdateStatus(id string, status domain.Status) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.checkUpdate(id); err != nil {
		return domain.Task{}, err
	}
	if err := domain.ValidateStatus(status); err != nil {
		return domain.Task{}, err
	}
	s.cache.Invalidate(id)
	updated, err := s.board.SetStatus(id, status)
	if err != nil {
		return domain.Task{}, err
	}
	s.persist([]domain.Task{updated}, nil)
	s.publish(domain.NewStatusUpdate(updated))
	return updated, nil
}

// ToggleFavorite flips the favorite flag of a task.
func (s *Session) ToggleFavorite(id string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.checkUpdate(id)
	if err != nil {
		return domain.Task{}, err
	}
	s.cache.Invalidate(id)
	updated, err := s.board.SetFavorite(id, !t.IsFavorite)
	if err != nil {
		return domain.Task{}, err
	}
	s.persist([]domain.Task{updated}, nil)
	s.publish(domain.NewFavoriteUpdate(updated))
	return updated, nil
}

// MoveTask moves a task to columnID at index; a negative index appends.
func (s *Session) MoveTask(id, columnID string, index int) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before, err := s.checkUpdate(id)
	if err != nil {
		return domain.Task{}, err
	}
	s.cache.Invalidate(id)
	updated, err := s.board.MoveTask(id, columnID, index)
	if err != nil {
		return domain.Task{}, err
	}
	if updated.Version == before.Version {
		s.persist(nil, nil, columnID)
		return updated, nil
	}
	s.persist([]domain.Task{updated}, nil, before.ColumnID, columnID)
	s.publish(domain.NewTaskMoved(updated))
	return updated, nil
}

// DeleteTask removes a task with its cache entry and lock.
func (s *Session) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.checkUpdate(id); err != nil {
		return err
	}
	removed, err := s.board.DeleteTask(id)
	if err != nil {
		return err
	}
	s.forget(id)
	s.persist(nil, []string{id}, removed.ColumnID)
	s.publish(domain.NewDeleteTask(id))
	return nil
}

// CreateTask adds a task with content at the end of columnID.
func (s *Session) CreateTask(content, columnID string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	normalized, err := domain.ValidateContent(content)
	if err != nil {
		return domain.Task{}, err
	}
	if s.board.HasContent(normalized, "") {
		return domain.Task{}, domain.ErrDuplicateContent
	}
	t, err := s.board.AddTask(domain.Task{
		ID:       domain.NewTaskID(s.owner),
		Content:  normalized,
		ColumnID: columnID,
		Status:   domain.StatusDefault,
	})
	if err != nil {
		return domain.Task{}, err
	}
	s.cache.Invalidate(t.ID)
	s.persist([]domain.Task{t}, nil, t.ColumnID)
	s.publish(domain.NewTaskCreated(t))
	return t, nil
}

// AddColumn creates a column or retitles an existing one.
func (s *Session) AddColumn(id, title string) (domain.Column, error) {
	if id == "" {
		return domain.Column{}, &domain.ValidationError{Field: "columnId", Reason: "must not be empty"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.board.AddColumn(id, title)
	s.persist(nil, nil, id)
	return c, nil
}

// DeleteColumn removes an empty column. A column still holding tasks is
// rejected with domain.ErrColumnNotEmpty.
func (s *Session) DeleteColumn(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.board.DeleteColumn(id); err != nil {
		return err
	}
	if s.writes != nil {
		store, owner := s.store, s.owner
		s.writes.Submit("delete column", func(ctx context.Context) error {
			return store.DeleteColumn(ctx, owner, id)
		})
	}
	return nil
}

// ReorderColumns sets the display order of the columns. ids must name every
// column exactly once.
func (s *Session) ReorderColumns(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.board.ReorderColumns(ids); err != nil {
		return err
	}
	if s.writes != nil {
		store, owner, order := s.store, s.owner, append([]string{}, ids...)
		s.writes.Submit("reorder columns", func(ctx context.Context) error {
			return store.ReorderColumns(ctx, owner, order)
		})
	}
	return nil
}

// FilterTasks returns the tasks matching a content search term, a status
// (nil for all) and the favorites-only switch.
func (s *Session) FilterTasks(term string, status *domain.Status, favoritesOnly bool) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.board.Filter(term, status, favoritesOnly)
}

// ApplyRemote applies an event received from the relay and reports whether
// it changed the board. Events published by this session, pings, stale
// events and events for unknown tasks are ignored.
func (s *Session) ApplyRemote(ev domain.Event) bool {
	if !ev.Mutates() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Origin != "" && ev.Origin == s.origin {
		return false
	}
	entry := s.logger.WithFields(log.Fields{"type": ev.Type, "taskId": ev.TaskID})

	var applied bool
	switch ev.Type {
	case domain.TaskCreated:
		applied = s.applyCreated(ev, entry)
	case domain.DeleteTask:
		removed, err := s.board.DeleteTask(ev.TaskID)
		if err != nil {
			entry.Debug("delete for unknown task ignored")
			return false
		}
		s.forget(ev.TaskID)
		s.persist(nil, []string{ev.TaskID}, removed.ColumnID)
		applied = true
	default:
		applied = s.applyUpdate(ev, entry)
	}
	if applied {
		s.notifier.Applied(ev)
	}
	return applied
}

func (s *Session) applyCreated(ev domain.Event, entry *log.Entry) bool {
	if ev.Task == nil || ev.Task.ID == "" || ev.Task.ColumnID == "" {
		entry.Warn("taskCreated without a task ignored")
		return false
	}
	incoming := *ev.Task
	if current, ok := s.board.Task(incoming.ID); ok && incoming.Version <= current.Version {
		entry.Debug("taskCreated not newer than local copy ignored")
		return false
	}
	previous, existed := s.board.Task(incoming.ID)
	incoming.Content = domain.NormalizeContent(incoming.Content)
	if !incoming.Status.Valid() {
		incoming.Status = domain.StatusDefault
	}
	s.cache.Invalidate(incoming.ID)
	t := s.board.PutTask(incoming)
	columns := []string{t.ColumnID}
	if existed && previous.ColumnID != t.ColumnID {
		columns = append(columns, previous.ColumnID)
	}
	s.persist([]domain.Task{t}, nil, columns...)
	return true
}

func (s *Session) applyUpdate(ev domain.Event, entry *log.Entry) bool {
	current, ok := s.board.Task(ev.TaskID)
	if !ok {
		entry.Debug("event for unknown task ignored")
		return false
	}
	if ev.LastModified != 0 && ev.LastModified < current.LastModified {
		entry.WithFields(log.Fields{"event": ev.LastModified, "local": current.LastModified}).Debug("stale event ignored")
		return false
	}

	var (
		updated domain.Task
		err     error
	)
	switch ev.Type {
	case domain.StatusUpdate:
		if ev.Status == nil || !ev.Status.Valid() {
			entry.Warn("statusUpdate with unknown status ignored")
			return false
		}
		s.cache.Invalidate(ev.TaskID)
		updated, err = s.board.SetStatus(ev.TaskID, *ev.Status)
	case domain.FavoriteUpdate:
		if ev.IsFavorite == nil {
			entry.Warn("favoriteUpdate without isFavorite ignored")
			return false
		}
		s.cache.Invalidate(ev.TaskID)
		updated, err = s.board.SetFavorite(ev.TaskID, *ev.IsFavorite)
	case domain.ContentUpdate:
		if ev.Content == nil {
			entry.Warn("contentUpdate without content ignored")
			return false
		}
		s.cache.Invalidate(ev.TaskID)
		updated, err = s.board.SetContent(ev.TaskID, domain.NormalizeContent(*ev.Content))
	case domain.TaskMoved:
		if ev.ColumnID == nil || *ev.ColumnID == "" || *ev.ColumnID == current.ColumnID {
			return false
		}
		s.cache.Invalidate(ev.TaskID)
		updated, err = s.board.MoveTask(ev.TaskID, *ev.ColumnID, -1)
	default:
		return false
	}
	if err != nil {
		entry.WithError(err).Warn("remote event rejected")
		return false
	}
	if ev.LastModified > 0 {
		updated, _ = s.board.Restamp(ev.TaskID, ev.LastModified)
	}
	columns := []string{updated.ColumnID}
	if updated.ColumnID != current.ColumnID {
		columns = append(columns, current.ColumnID)
	}
	s.persist([]domain.Task{updated}, nil, columns...)
	return true
}

// SetConnectionStatus records the push connection state and notifies the
// user on changes.
func (s *Session) SetConnectionStatus(status ConnectionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == s.status {
		return
	}
	s.status = status
	switch status {
	case StatusConnected:
		s.notifier.Connected()
	case StatusReconnecting:
		s.notifier.Reconnecting()
	}
}

// ConnectionStatus returns the last recorded push connection state.
func (s *Session) ConnectionStatus() ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// SweepExpired drops expired locks and cache entries. Expiry is also
// applied on access, so calling it only frees memory.
func (s *Session) SweepExpired() (locks, cached int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks.Sweep(), s.cache.Sweep()
}

// Held reports whether an unexpired edit lock exists for the task.
func (s *Session) Held(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locks.Held(id)
}

// Cached reports whether the read cache holds an entry for the task.
func (s *Session) Cached(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cache.Get(id)
	return ok
}

// Close waits for queued publishes and writes to finish.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishes != nil {
		s.publishes.Close()
	}
	if s.writes != nil {
		s.writes.Close()
	}
	s.status = StatusClosed
}

// checkUpdate returns the task if no edit lock blocks a write to it. A lock
// whose version no longer matches is released.
func (s *Session) checkUpdate(id string) (domain.Task, error) {
	t, ok := s.board.Task(id)
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	if !s.locks.CanUpdate(t) {
		s.locks.Release(id)
		s.notifier.Conflict(id)
		return domain.Task{}, domain.ErrLockConflict
	}
	return t, nil
}

func (s *Session) forget(id string) {
	s.cache.Invalidate(id)
	s.locks.Release(id)
}

func (s *Session) publish(ev domain.Event) {
	if s.publishes == nil {
		return
	}
	ev.ID = uuid.NewString()
	ev.Origin = s.origin
	pub := s.publisher
	if !s.publishes.TrySubmit("publish "+ev.Type, func(ctx context.Context) error {
		return pub.Publish(ctx, ev)
	}) {
		s.logger.WithFields(log.Fields{"type": ev.Type, "taskId": ev.TaskID}).Warn("publish dropped, dispatcher saturated")
	}
}

// persist queues store writes for saved and deleted tasks and the current
// state of columns. Writes run in order on a single worker.
func (s *Session) persist(saved []domain.Task, deleted []string, columns ...string) {
	if s.writes == nil {
		return
	}
	var cols []domain.Column
	seen := make(map[string]bool, len(columns))
	for _, id := range columns {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if c, ok := s.board.Column(id); ok {
			cols = append(cols, c)
		}
	}
	store, owner := s.store, s.owner
	s.writes.Submit("persist", func(ctx context.Context) error {
		var errs []error
		for _, t := range saved {
			errs = append(errs, store.SaveTask(ctx, owner, t))
		}
		for _, id := range deleted {
			errs = append(errs, store.DeleteTask(ctx, owner, id))
		}
		for _, c := range cols {
			errs = append(errs, store.SaveColumn(ctx, owner, c))
		}
		return errors.Join(errs...)
	})
}
