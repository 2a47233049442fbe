package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/velkro/remindgram/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

const (
	connectRetries = 5
	connectBackoff = 2 * time.Second
)

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	// The database container may still be starting; retry the first
	// connection a few times before giving up.
	if err := pingWithRetry(db, logger); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	storage := &PostgresStorage{db: db, logger: logger}

	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %v", err)
	}

	return storage, nil
}

func pingWithRetry(db *sql.DB, logger *zap.Logger) error {
	var err error
	for attempt := 1; attempt <= connectRetries; attempt++ {
		if err = db.Ping(); err == nil {
			return nil
		}
		logger.Warn("Database not ready yet, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", connectRetries))
		time.Sleep(connectBackoff)
	}
	return err
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %v", err)
	}

	_, err = s.db.Exec(string(migrationSQL))
	if err != nil {
		return fmt.Errorf("error executing migrations: %v", err)
	}

	return nil
}

func (s *PostgresStorage) CreateReminder(ctx context.Context, userID int64, task string, remindAt time.Time) (*models.Reminder, error) {
	query := `
		INSERT INTO reminders (user_id, task, remind_at, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	reminder := &models.Reminder{
		UserID:   userID,
		Task:     task,
		RemindAt: remindAt,
		Status:   models.StatusPending,
	}

	err := s.db.QueryRowContext(ctx, query, userID, task, remindAt, models.StatusPending).Scan(&reminder.ID)
	if err != nil {
		return nil, fmt.Errorf("error creating reminder: %v", err)
	}

	return reminder, nil
}

func (s *PostgresStorage) ListReminders(ctx context.Context, userID int64) ([]*models.Reminder, error) {
	query := `
		SELECT id, user_id, task, remind_at, status
		FROM reminders
		WHERE user_id = $1
		ORDER BY remind_at ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying reminders: %v", err)
	}
	defer rows.Close()

	return scanReminders(rows)
}

func (s *PostgresStorage) DueReminders(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	query := `
		SELECT id, user_id, task, remind_at, status
		FROM reminders
		WHERE remind_at <= $1
		ORDER BY remind_at ASC`

	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("error querying due reminders: %v", err)
	}
	defer rows.Close()

	return scanReminders(rows)
}

func scanReminders(rows *sql.Rows) ([]*models.Reminder, error) {
	var reminders []*models.Reminder
	for rows.Next() {
		reminder := &models.Reminder{}
		err := rows.Scan(
			&reminder.ID,
			&reminder.UserID,
			&reminder.Task,
			&reminder.RemindAt,
			&reminder.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning reminder: %v", err)
		}
		reminders = append(reminders, reminder)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reminders: %v", err)
	}

	return reminders, nil
}

func (s *PostgresStorage) CompleteReminder(ctx context.Context, userID int64, id int64) error {
	query := `
		DELETE FROM reminders
		WHERE id = $1 AND user_id = $2`

	result, err := s.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("error completing reminder: %v", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStorage) ClearReminders(ctx context.Context, userID int64) (int64, error) {
	query := `
		DELETE FROM reminders
		WHERE user_id = $1`

	result, err := s.db.ExecContext(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("error clearing reminders: %v", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error getting rows affected: %v", err)
	}

	return rowsAffected, nil
}

func (s *PostgresStorage) RescheduleReminder(ctx context.Context, id int64, status models.ReminderStatus, remindAt time.Time) error {
	query := `
		UPDATE reminders
		SET status = $1, remind_at = $2
		WHERE id = $3`

	result, err := s.db.ExecContext(ctx, query, status, remindAt, id)
	if err != nil {
		return fmt.Errorf("error rescheduling reminder: %v", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}

	if rowsAffected == 0 {
		// The reminder was completed or cleared while this tick was running.
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStorage) AddTimetableEntry(ctx context.Context, userID int64, day, subject, timeOfDay string) (*models.TimetableEntry, error) {
	query := `
		INSERT INTO timetable (user_id, day, subject, time)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	entry := &models.TimetableEntry{
		UserID:  userID,
		Day:     day,
		Subject: subject,
		Time:    timeOfDay,
	}

	err := s.db.QueryRowContext(ctx, query, userID, day, subject, timeOfDay).Scan(&entry.ID)
	if err != nil {
		return nil, fmt.Errorf("error creating timetable entry: %v", err)
	}

	return entry, nil
}

func (s *PostgresStorage) TimetableByDay(ctx context.Context, userID int64, day string) ([]*models.TimetableEntry, error) {
	query := `
		SELECT id, user_id, day, subject, time
		FROM timetable
		WHERE user_id = $1 AND LOWER(day) = $2
		ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, userID, strings.ToLower(day))
	if err != nil {
		return nil, fmt.Errorf("error querying timetable: %v", err)
	}
	defer rows.Close()

	var entries []*models.TimetableEntry
	for rows.Next() {
		entry := &models.TimetableEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.Day,
			&entry.Subject,
			&entry.Time,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning timetable entry: %v", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating timetable entries: %v", err)
	}

	return entries, nil
}

func (s *PostgresStorage) AppendChatMessage(ctx context.Context, msg *models.ChatMessage) error {
	query := `
		INSERT INTO chat_history (user_id, role, content, timestamp)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	err := s.db.QueryRowContext(ctx, query, msg.UserID, msg.Role, msg.Content, msg.Timestamp).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("error appending chat message: %v", err)
	}

	return nil
}

func (s *PostgresStorage) RecentChatMessages(ctx context.Context, userID int64, limit int) ([]*models.ChatMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	// Take the newest rows, then flip them back to oldest-first.
	query := `
		SELECT id, user_id, role, content, timestamp
		FROM (
			SELECT id, user_id, role, content, timestamp
			FROM chat_history
			WHERE user_id = $1
			ORDER BY id DESC
			LIMIT $2
		) recent
		ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying chat history: %v", err)
	}
	defer rows.Close()

	var messages []*models.ChatMessage
	for rows.Next() {
		msg := &models.ChatMessage{}
		err := rows.Scan(
			&msg.ID,
			&msg.UserID,
			&msg.Role,
			&msg.Content,
			&msg.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning chat message: %v", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat messages: %v", err)
	}

	return messages, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
