package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/velkro/remindgram/internal/models"
)

// remindAtLayout is the wall-clock format the model is instructed to use
// for due times. Parsed in the configured location, stored naive.
const remindAtLayout = "2006-01-02 15:04"

type toolHandler func(ctx context.Context, userID int64, arguments string) (string, error)

// buildToolTable declares the fixed set of tools the model may call. Each
// tool has an explicit parameter schema and a typed handler; nothing is
// inferred from function signatures.
func (a *Assistant) buildToolTable() ([]openai.Tool, map[string]toolHandler) {
	specs := []struct {
		name        string
		description string
		parameters  jsonschema.Definition
		handler     toolHandler
	}{
		{
			name:        "add_reminder",
			description: "Save a reminder. The bot will notify the user when it is due and keep nagging until it is completed.",
			parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"task": {
						Type:        jsonschema.String,
						Description: "What to remind the user about",
					},
					"remind_at": {
						Type:        jsonschema.String,
						Description: `Due time in the user's local time, formatted "2006-01-02 15:04"`,
					},
				},
				Required: []string{"task", "remind_at"},
			},
			handler: a.handleAddReminder,
		},
		{
			name:        "list_reminders",
			description: "List all of the user's reminders, soonest first.",
			parameters: jsonschema.Definition{
				Type:       jsonschema.Object,
				Properties: map[string]jsonschema.Definition{},
			},
			handler: a.handleListReminders,
		},
		{
			name:        "complete_reminder",
			description: "Mark a reminder as done and stop nagging about it.",
			parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"id": {
						Type:        jsonschema.Integer,
						Description: "The reminder id, as shown in the reminder list",
					},
				},
				Required: []string{"id"},
			},
			handler: a.handleCompleteReminder,
		},
		{
			name:        "clear_reminders",
			description: "Delete every reminder the user has.",
			parameters: jsonschema.Definition{
				Type:       jsonschema.Object,
				Properties: map[string]jsonschema.Definition{},
			},
			handler: a.handleClearReminders,
		},
		{
			name:        "add_timetable_entry",
			description: "Add a subject to the user's weekly timetable.",
			parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"day": {
						Type:        jsonschema.String,
						Description: `Day of the week, e.g. "Monday"`,
					},
					"subject": {
						Type:        jsonschema.String,
						Description: "The subject or activity",
					},
					"time": {
						Type:        jsonschema.String,
						Description: `Time of day as the user said it, e.g. "10:30 AM"`,
					},
				},
				Required: []string{"day", "subject", "time"},
			},
			handler: a.handleAddTimetableEntry,
		},
		{
			name:        "get_timetable",
			description: "Look up the user's timetable for a given day of the week.",
			parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"day": {
						Type:        jsonschema.String,
						Description: `Day of the week, e.g. "Monday"`,
					},
				},
				Required: []string{"day"},
			},
			handler: a.handleGetTimetable,
		},
	}

	tools := make([]openai.Tool, 0, len(specs))
	handlers := make(map[string]toolHandler, len(specs))
	for _, spec := range specs {
		params := spec.parameters
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        spec.name,
				Description: spec.description,
				Parameters:  &params,
			},
		})
		handlers[spec.name] = spec.handler
	}

	return tools, handlers
}

func (a *Assistant) handleAddReminder(ctx context.Context, userID int64, arguments string) (string, error) {
	var args struct {
		Task     string `json:"task"`
		RemindAt string `json:"remind_at"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %v", err)
	}
	if strings.TrimSpace(args.Task) == "" {
		return "", fmt.Errorf("task is empty")
	}

	remindAt, err := time.ParseInLocation(remindAtLayout, args.RemindAt, a.location)
	if err != nil {
		return "", fmt.Errorf("could not parse remind_at %q", args.RemindAt)
	}

	reminder, err := a.store.CreateReminder(ctx, userID, args.Task, remindAt)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("✅ Reminder #%d saved: %s at %s.",
		reminder.ID, reminder.Task, reminder.RemindAt.Format("Mon 2 Jan 15:04")), nil
}

func (a *Assistant) handleListReminders(ctx context.Context, userID int64, arguments string) (string, error) {
	reminders, err := a.store.ListReminders(ctx, userID)
	if err != nil {
		return "", err
	}
	return FormatReminders(reminders), nil
}

func (a *Assistant) handleCompleteReminder(ctx context.Context, userID int64, arguments string) (string, error) {
	var args struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %v", err)
	}

	if err := a.store.CompleteReminder(ctx, userID, args.ID); err != nil {
		return "", err
	}
	return fmt.Sprintf("✅ Done! Reminder #%d completed.", args.ID), nil
}

func (a *Assistant) handleClearReminders(ctx context.Context, userID int64, arguments string) (string, error) {
	cleared, err := a.store.ClearReminders(ctx, userID)
	if err != nil {
		return "", err
	}
	if cleared == 0 {
		return "You had no reminders to clear.", nil
	}
	return fmt.Sprintf("🧹 Cleared %d reminder(s).", cleared), nil
}

func (a *Assistant) handleAddTimetableEntry(ctx context.Context, userID int64, arguments string) (string, error) {
	var args struct {
		Day     string `json:"day"`
		Subject string `json:"subject"`
		Time    string `json:"time"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %v", err)
	}
	if strings.TrimSpace(args.Day) == "" || strings.TrimSpace(args.Subject) == "" {
		return "", fmt.Errorf("day and subject are required")
	}

	entry, err := a.store.AddTimetableEntry(ctx, userID, args.Day, args.Subject, args.Time)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("📅 Added %s on %s at %s.", entry.Subject, entry.Day, entry.Time), nil
}

func (a *Assistant) handleGetTimetable(ctx context.Context, userID int64, arguments string) (string, error) {
	var args struct {
		Day string `json:"day"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %v", err)
	}

	entries, err := a.store.TimetableByDay(ctx, userID, args.Day)
	if err != nil {
		return "", err
	}
	return FormatTimetable(args.Day, entries), nil
}

// FormatReminders renders a reminder list the way the bot shows it in chat.
func FormatReminders(reminders []*models.Reminder) string {
	if len(reminders) == 0 {
		return "You have no reminders. 🎉"
	}

	var sb strings.Builder
	sb.WriteString("Your reminders:\n")
	for _, r := range reminders {
		marker := ""
		if r.Status == models.StatusNagging {
			marker = " ⏰ overdue"
		}
		sb.WriteString(fmt.Sprintf("#%d — %s (%s)%s\n",
			r.ID, r.Task, r.RemindAt.Format("Mon 2 Jan 15:04"), marker))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatTimetable renders a day's timetable entries.
func FormatTimetable(day string, entries []*models.TimetableEntry) string {
	if len(entries) == 0 {
		return fmt.Sprintf("Nothing on the timetable for %s.", day)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Timetable for %s:\n", day))
	for _, e := range entries {
		sb.WriteString(fmt.Sprintf("• %s — %s\n", e.Time, e.Subject))
	}
	return strings.TrimRight(sb.String(), "\n")
}
