package domain

const (
	StatusUpdate   = "statusUpdate"
	FavoriteUpdate = "favoriteUpdate"
	ContentUpdate  = "contentUpdate"
	TaskMoved      = "taskMoved"
	DeleteTask     = "deleteTask"
	TaskCreated    = "taskCreated"
	Ping           = "ping"
)

// DefaultEventName is the SSE event name used for payloads without a type.
const DefaultEventName = "message"

// Event is a task mutation notification relayed to every session of an owner.
type Event struct {
	ID           string  `json:"id,omitempty"`
	Type         string  `json:"type"`
	TaskID       string  `json:"taskId,omitempty"`
	Status       *Status `json:"status,omitempty"`
	IsFavorite   *bool   `json:"isFavorite,omitempty"`
	Content      *string `json:"content,omitempty"`
	ColumnID     *string `json:"columnId,omitempty"`
	Task         *Task   `json:"task,omitempty"`
	Time         int64   `json:"time,omitempty"`
	LastModified int64   `json:"lastModified,omitempty"`
	Origin       string  `json:"origin,omitempty"`
}

// Name returns the SSE event name for e.
func (e Event) Name() string {
	if e.Type == "" {
		return DefaultEventName
	}
	return e.Type
}

// Mutates reports whether applying e can change board state.
func (e Event) Mutates() bool {
	switch e.Type {
	case StatusUpdate, FavoriteUpdate, ContentUpdate, TaskMoved, DeleteTask, TaskCreated:
		return true
	}
	return false
}

// NewStatusUpdate builds a statusUpdate event for t.
func NewStatusUpdate(t Task) Event {
	s := t.Status
	return Event{Type: StatusUpdate, TaskID: t.ID, Status: &s, LastModified: t.LastModified}
}

// NewFavoriteUpdate builds a favoriteUpdate event for t.
func NewFavoriteUpdate(t Task) Event {
	fav := t.IsFavorite
	return Event{Type: FavoriteUpdate, TaskID: t.ID, IsFavorite: &fav, LastModified: t.LastModified}
}

// NewContentUpdate builds a contentUpdate event for t.
func NewContentUpdate(t Task) Event {
	c := t.Content
	return Event{Type: ContentUpdate, TaskID: t.ID, Content: &c, LastModified: t.LastModified}
}

// NewTaskMoved builds a taskMoved event for t.
func NewTaskMoved(t Task) Event {
	col := t.ColumnID
	return Event{Type: TaskMoved, TaskID: t.ID, ColumnID: &col, LastModified: t.LastModified}
}

// NewDeleteTask builds a deleteTask event.
func NewDeleteTask(taskID string) Event {
	return Event{Type: DeleteTask, TaskID: taskID}
}

// NewTaskCreated builds a taskCreated event carrying the whole task.
func NewTaskCreated(t Task) Event {
	return Event{Type: TaskCreated, TaskID: t.ID, Task: &t, LastModified: t.LastModified}
}
