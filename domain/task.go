package domain

// Status is the progress marker shown on a task card.
type Status string

const (
	StatusDefault   Status = "default"
	StatusOnTime    Status = "on_time"
	StatusOnGoing   Status = "on_going"
	StatusDelayed   Status = "delayed"
	StatusUrgent    Status = "urgent"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusDefault, StatusOnTime, StatusOnGoing, StatusDelayed, StatusUrgent, StatusCompleted:
		return true
	}
	return false
}

// Task represents a single card on the board.
type Task struct {
	ID           string `json:"id"`
	Content      string `json:"content"`
	ColumnID     string `json:"columnId"`
	ParentID     string `json:"parentId"`
	Status       Status `json:"status"`
	IsFavorite   bool   `json:"isFavorite"`
	Version      int    `json:"version"`
	LastModified int64  `json:"lastModified"`
}

// Column is an ordered lane of task ids.
type Column struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	TaskIDs []string `json:"taskIds"`
}

func (c Column) clone() Column {
	ids := make([]string, len(c.TaskIDs))
	copy(ids, c.TaskIDs)
	c.TaskIDs = ids
	return c
}

func (c *Column) indexOf(taskID string) int {
	for i, id := range c.TaskIDs {
		if id == taskID {
			return i
		}
	}
	return -1
}

func (c *Column) remove(taskID string) bool {
	i := c.indexOf(taskID)
	if i < 0 {
		return false
	}
	c.TaskIDs = append(c.TaskIDs[:i], c.TaskIDs[i+1:]...)
	return true
}

// insert places taskID at index; a negative or out of range index appends.
func (c *Column) insert(taskID string, index int) {
	if index < 0 || index >= len(c.TaskIDs) {
		c.TaskIDs = append(c.TaskIDs, taskID)
		return
	}
	c.TaskIDs = append(c.TaskIDs, "")
	copy(c.TaskIDs[index+1:], c.TaskIDs[index:])
	c.TaskIDs[index] = taskID
}

// Snapshot is a serialisable copy of one owner's board.
type Snapshot struct {
	Columns []Column `json:"columns"`
	Tasks   []Task   `json:"tasks"`
}
