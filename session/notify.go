package session

import (
	log "github.com/sirupsen/logrus"

	"board-sync/domain"
)

// Notifier receives user-facing notifications. Nothing depends on a
// notification being shown.
type Notifier interface {
	Connected()
	Reconnecting()
	Applied(ev domain.Event)
	Conflict(taskID string)
}

// LogNotifier writes notifications to a logrus entry.
type LogNotifier struct {
	Entry *log.Entry
}

// NewLogNotifier returns a LogNotifier tagged with owner.
func NewLogNotifier(owner string) LogNotifier {
	return LogNotifier{Entry: log.WithField("owner", owner)}
}

func (n LogNotifier) Connected() { n.Entry.Info("Connected to real-time updates") }

func (n LogNotifier) Reconnecting() { n.Entry.Warn("Connection lost. Reconnecting...") }

func (n LogNotifier) Applied(ev domain.Event) {
	n.Entry.WithFields(log.Fields{"type": ev.Type, "taskId": ev.TaskID}).Info("Task updated from another session")
}

func (n LogNotifier) Conflict(taskID string) {
	n.Entry.WithField("taskId", taskID).Warn("Task is being edited or changed elsewhere")
}
