package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/velkro/remindgram/internal/models"
)

// MemoryStorage keeps everything in process memory. Used for local runs
// without a database and by the tests.
type MemoryStorage struct {
	mu        sync.RWMutex
	nextID    int64
	reminders map[int64]*models.Reminder
	timetable []*models.TimetableEntry
	history   []*models.ChatMessage
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		reminders: make(map[int64]*models.Reminder),
	}
}

func (s *MemoryStorage) nextIDLocked() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStorage) CreateReminder(ctx context.Context, userID int64, task string, remindAt time.Time) (*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminder := &models.Reminder{
		ID:       s.nextIDLocked(),
		UserID:   userID,
		Task:     task,
		RemindAt: remindAt,
		Status:   models.StatusPending,
	}
	s.reminders[reminder.ID] = reminder

	clone := *reminder
	return &clone, nil
}

func (s *MemoryStorage) ListReminders(ctx context.Context, userID int64) ([]*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var reminders []*models.Reminder
	for _, r := range s.reminders {
		if r.UserID == userID {
			clone := *r
			reminders = append(reminders, &clone)
		}
	}

	sort.Slice(reminders, func(i, j int) bool {
		return reminders[i].RemindAt.Before(reminders[j].RemindAt)
	})

	return reminders, nil
}

func (s *MemoryStorage) DueReminders(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*models.Reminder
	for _, r := range s.reminders {
		if !r.RemindAt.After(now) {
			clone := *r
			due = append(due, &clone)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].RemindAt.Before(due[j].RemindAt)
	})

	return due, nil
}

func (s *MemoryStorage) CompleteReminder(ctx context.Context, userID int64, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminder, exists := s.reminders[id]
	if !exists || reminder.UserID != userID {
		return ErrNotFound
	}

	delete(s.reminders, id)
	return nil
}

func (s *MemoryStorage) ClearReminders(ctx context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cleared int64
	for id, r := range s.reminders {
		if r.UserID == userID {
			delete(s.reminders, id)
			cleared++
		}
	}

	return cleared, nil
}

func (s *MemoryStorage) RescheduleReminder(ctx context.Context, id int64, status models.ReminderStatus, remindAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reminder, exists := s.reminders[id]
	if !exists {
		return ErrNotFound
	}

	reminder.Status = status
	reminder.RemindAt = remindAt
	return nil
}

func (s *MemoryStorage) AddTimetableEntry(ctx context.Context, userID int64, day, subject, timeOfDay string) (*models.TimetableEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &models.TimetableEntry{
		ID:      s.nextIDLocked(),
		UserID:  userID,
		Day:     day,
		Subject: subject,
		Time:    timeOfDay,
	}
	s.timetable = append(s.timetable, entry)

	clone := *entry
	return &clone, nil
}

func (s *MemoryStorage) TimetableByDay(ctx context.Context, userID int64, day string) ([]*models.TimetableEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*models.TimetableEntry
	for _, e := range s.timetable {
		if e.UserID == userID && strings.EqualFold(e.Day, day) {
			clone := *e
			entries = append(entries, &clone)
		}
	}

	return entries, nil
}

func (s *MemoryStorage) AppendChatMessage(ctx context.Context, msg *models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.ID = s.nextIDLocked()

	clone := *msg
	s.history = append(s.history, &clone)
	return nil
}

func (s *MemoryStorage) RecentChatMessages(ctx context.Context, userID int64, limit int) ([]*models.ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var messages []*models.ChatMessage
	for _, m := range s.history {
		if m.UserID == userID {
			clone := *m
			messages = append(messages, &clone)
		}
	}

	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	return messages, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
