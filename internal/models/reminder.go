package models

import "time"

type ReminderStatus string

const (
	StatusPending ReminderStatus = "PENDING"
	StatusNagging ReminderStatus = "NAGGING"
)

// Reminder is a single task the bot nags the user about until completed.
type Reminder struct {
	ID       int64          `json:"id"`
	UserID   int64          `json:"user_id"`
	Task     string         `json:"task"`
	RemindAt time.Time      `json:"remind_at"`
	Status   ReminderStatus `json:"status"`
}
