package storage

import (
	"context"
	"errors"
	"time"

	"github.com/velkro/remindgram/internal/models"
)

// ErrNotFound is returned when a mutation matched no rows, e.g. completing
// a reminder that was already deleted.
var ErrNotFound = errors.New("not found")

type Storage interface {
	ReminderStorage
	TimetableStorage
	ChatStorage
	Close() error
}

type ReminderStorage interface {
	CreateReminder(ctx context.Context, userID int64, task string, remindAt time.Time) (*models.Reminder, error)
	ListReminders(ctx context.Context, userID int64) ([]*models.Reminder, error)
	CompleteReminder(ctx context.Context, userID int64, id int64) error
	ClearReminders(ctx context.Context, userID int64) (int64, error)

	// DueReminders returns every reminder with remind_at <= now, across all
	// owners, in remind_at order.
	DueReminders(ctx context.Context, now time.Time) ([]*models.Reminder, error)

	// RescheduleReminder updates status and remind_at for a single reminder.
	// Returns ErrNotFound if the reminder no longer exists, so a poller
	// racing a concurrent complete does not resurrect a deleted row.
	RescheduleReminder(ctx context.Context, id int64, status models.ReminderStatus, remindAt time.Time) error
}

type TimetableStorage interface {
	AddTimetableEntry(ctx context.Context, userID int64, day, subject, timeOfDay string) (*models.TimetableEntry, error)
	TimetableByDay(ctx context.Context, userID int64, day string) ([]*models.TimetableEntry, error)
}

type ChatStorage interface {
	AppendChatMessage(ctx context.Context, msg *models.ChatMessage) error

	// RecentChatMessages returns at most limit of the newest turns for a
	// user, ordered oldest-first.
	RecentChatMessages(ctx context.Context, userID int64, limit int) ([]*models.ChatMessage, error)
}
