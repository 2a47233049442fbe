package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/velkro/remindgram/internal/models"
	"github.com/velkro/remindgram/internal/storage"
)

// Notifier delivers a message to a user. Best-effort: a non-nil error means
// the message did not go out.
type Notifier interface {
	Send(userID int64, text string) error
}

// Poller scans for due reminders on a fixed interval and escalates them:
// first notice flips PENDING to NAGGING, then repeat notices follow every
// escalation interval until the user completes the reminder.
type Poller struct {
	store      storage.Storage
	notifier   Notifier
	location   *time.Location
	poll       time.Duration
	escalation time.Duration
	cron       *cron.Cron
	logger     *zap.Logger

	// now is split out so tests can pin the tick's clock.
	now func() time.Time
}

func New(store storage.Storage, notifier Notifier, location *time.Location, pollInterval, escalationInterval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		store:      store,
		notifier:   notifier,
		location:   location,
		poll:       pollInterval,
		escalation: escalationInterval,
		cron:       cron.New(cron.WithLocation(location)),
		logger:     logger,
		now:        time.Now,
	}
}

// Start registers the tick job and starts the scheduler loop.
func (p *Poller) Start() error {
	_, err := p.cron.AddFunc(fmt.Sprintf("@every %s", p.poll), p.runTick)
	if err != nil {
		return fmt.Errorf("failed to schedule poller: %w", err)
	}
	p.cron.Start()
	p.logger.Info("Reminder poller started",
		zap.Duration("poll_interval", p.poll),
		zap.Duration("escalation_interval", p.escalation))
	return nil
}

// Stop stops the scheduler and waits for a running tick to finish.
func (p *Poller) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
	p.logger.Info("Reminder poller stopped")
}

// runTick wraps Tick so a failing tick never takes the poller down; the
// next tick proceeds independently.
func (p *Poller) runTick() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Poller tick panicked", zap.Any("panic", r))
		}
	}()

	if err := p.Tick(context.Background()); err != nil {
		p.logger.Error("Poller tick failed", zap.Error(err))
	}
}

// Tick runs one poll cycle: find everything due as of now, notify each
// owner, and push the due time forward. A reminder is only rescheduled
// after its notification was confirmed sent, so an unreachable user is
// retried on the next tick instead of silently losing the nag.
func (p *Poller) Tick(ctx context.Context) error {
	now := p.now().In(p.location)

	due, err := p.store.DueReminders(ctx, now)
	if err != nil {
		return fmt.Errorf("failed to query due reminders: %w", err)
	}

	for _, reminder := range due {
		text := nagText(reminder)

		if err := p.notifier.Send(reminder.UserID, text); err != nil {
			p.logger.Warn("Failed to deliver reminder, will retry next tick",
				zap.Error(err),
				zap.Int64("reminder_id", reminder.ID),
				zap.Int64("user_id", reminder.UserID))
			continue
		}

		next := now.Add(p.escalation)
		err := p.store.RescheduleReminder(ctx, reminder.ID, models.StatusNagging, next)
		if err != nil {
			if err == storage.ErrNotFound {
				// Completed or cleared while this tick was running.
				p.logger.Debug("Reminder vanished during tick",
					zap.Int64("reminder_id", reminder.ID))
				continue
			}
			p.logger.Error("Failed to reschedule reminder",
				zap.Error(err),
				zap.Int64("reminder_id", reminder.ID))
			continue
		}

		p.logger.Info("Reminder escalated",
			zap.Int64("reminder_id", reminder.ID),
			zap.Int64("user_id", reminder.UserID),
			zap.Time("next_remind_at", next))

		// Record the nag as an assistant turn so the conversation model
		// knows it was just sent ("stop nagging me about that").
		historyErr := p.store.AppendChatMessage(ctx, &models.ChatMessage{
			UserID:  reminder.UserID,
			Role:    models.RoleAssistant,
			Content: text,
		})
		if historyErr != nil {
			p.logger.Error("Failed to record nag in chat history",
				zap.Error(historyErr),
				zap.Int64("reminder_id", reminder.ID))
		}
	}

	return nil
}

func nagText(reminder *models.Reminder) string {
	if reminder.Status == models.StatusPending {
		return fmt.Sprintf("⏰ Reminder: %s\n(reply \"done %d\" or use /done %d when finished)",
			reminder.Task, reminder.ID, reminder.ID)
	}
	return fmt.Sprintf("🔁 Still pending: %s\nI'll keep nagging until you run /done %d.",
		reminder.Task, reminder.ID)
}
