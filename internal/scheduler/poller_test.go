package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/velkro/remindgram/internal/models"
	"github.com/velkro/remindgram/internal/storage"
)

type fakeNotifier struct {
	sent   []sentMessage
	fail   bool
	onSend func(userID int64)
}

type sentMessage struct {
	userID int64
	text   string
}

func (n *fakeNotifier) Send(userID int64, text string) error {
	if n.onSend != nil {
		n.onSend(userID)
	}
	if n.fail {
		return errors.New("user unreachable")
	}
	n.sent = append(n.sent, sentMessage{userID: userID, text: text})
	return nil
}

func newTestPoller(t *testing.T, store storage.Storage, notifier Notifier, now time.Time) *Poller {
	t.Helper()
	p := New(store, notifier, time.UTC, time.Minute, 20*time.Minute, zap.NewNop())
	p.now = func() time.Time { return now }
	return p
}

func TestTickEscalatesPendingReminder(t *testing.T) {
	t.Parallel()
	store := storage.NewMemoryStorage()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	r, err := store.CreateReminder(ctx, 1, "submit report", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	notifier := &fakeNotifier{}
	p := newTestPoller(t, store, notifier, now)

	if err := p.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.sent))
	}
	if notifier.sent[0].userID != 1 {
		t.Fatalf("notification sent to wrong user: %d", notifier.sent[0].userID)
	}

	reminders, err := store.ListReminders(ctx, 1)
	if err != nil {
		t.Fatalf("list reminders: %v", err)
	}
	if len(reminders) != 1 {
		t.Fatalf("expected reminder to survive the tick, got %d", len(reminders))
	}
	got := reminders[0]
	if got.ID != r.ID {
		t.Fatalf("unexpected reminder id %d", got.ID)
	}
	if got.Status != models.StatusNagging {
		t.Fatalf("expected status NAGGING, got %s", got.Status)
	}
	if want := now.Add(20 * time.Minute); !got.RemindAt.Equal(want) {
		t.Fatalf("remind_at = %s, want %s", got.RemindAt, want)
	}
}

func TestTickKeepsNaggingReminderNagging(t *testing.T) {
	t.Parallel()
	store := storage.NewMemoryStorage()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	r, err := store.CreateReminder(ctx, 1, "call dentist", now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("create reminder: %v", err)
	}
	if err := store.RescheduleReminder(ctx, r.ID, models.StatusNagging, now.Add(-time.Minute)); err != nil {
		t.Fatalf("seed nagging state: %v", err)
	}

	notifier := &fakeNotifier{}
	p := newTestPoller(t, store, notifier, now)

	if err := p.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	reminders, _ := store.ListReminders(ctx, 1)
	if len(reminders) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(reminders))
	}
	if reminders[0].Status != models.StatusNagging {
		t.Fatalf("expected status to stay NAGGING, got %s", reminders[0].Status)
	}
	if want := now.Add(20 * time.Minute); !reminders[0].RemindAt.Equal(want) {
		t.Fatalf("remind_at = %s, want %s", reminders[0].RemindAt, want)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 repeat notification, got %d", len(notifier.sent))
	}
}

func TestTickDoesNotRescheduleOnFailedDelivery(t *testing.T) {
	t.Parallel()
	store := storage.NewMemoryStorage()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	due := now.Add(-time.Minute)
	if _, err := store.CreateReminder(ctx, 1, "water plants", due); err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	notifier := &fakeNotifier{fail: true}
	p := newTestPoller(t, store, notifier, now)

	if err := p.Tick(ctx); err != nil {
		t.Fatalf("tick should contain delivery failures: %v", err)
	}

	reminders, _ := store.ListReminders(ctx, 1)
	if len(reminders) != 1 {
		t.Fatalf("expected 1 reminder, got %d", len(reminders))
	}
	if reminders[0].Status != models.StatusPending {
		t.Fatalf("failed delivery must not change status, got %s", reminders[0].Status)
	}
	if !reminders[0].RemindAt.Equal(due) {
		t.Fatalf("failed delivery must not move remind_at, got %s", reminders[0].RemindAt)
	}

	// Next tick retries and succeeds.
	notifier.fail = false
	if err := p.Tick(ctx); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	reminders, _ = store.ListReminders(ctx, 1)
	if reminders[0].Status != models.StatusNagging {
		t.Fatalf("expected escalation on retry, got %s", reminders[0].Status)
	}
}

func TestTickNotifiesEachOwnerIndependently(t *testing.T) {
	t.Parallel()
	store := storage.NewMemoryStorage()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := store.CreateReminder(ctx, 1, "alpha", now.Add(-time.Minute)); err != nil {
		t.Fatalf("create reminder: %v", err)
	}
	if _, err := store.CreateReminder(ctx, 2, "beta", now.Add(-time.Minute)); err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	notifier := &fakeNotifier{}
	p := newTestPoller(t, store, notifier, now)

	if err := p.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(notifier.sent) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notifier.sent))
	}
	counts := map[int64]int{}
	for _, msg := range notifier.sent {
		counts[msg.userID]++
	}
	if counts[1] != 1 || counts[2] != 1 {
		t.Fatalf("each owner should be notified exactly once, got %v", counts)
	}

	for _, userID := range []int64{1, 2} {
		reminders, _ := store.ListReminders(ctx, userID)
		if len(reminders) != 1 || reminders[0].Status != models.StatusNagging {
			t.Fatalf("user %d reminder not escalated: %+v", userID, reminders)
		}
	}
}

func TestTickSkipsReminderCompletedMidTick(t *testing.T) {
	t.Parallel()
	store := storage.NewMemoryStorage()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	r, err := store.CreateReminder(ctx, 1, "ghost", now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	// The front-end completes the reminder while the notification is in
	// flight; the reschedule must not bring the row back.
	notifier := &fakeNotifier{}
	notifier.onSend = func(userID int64) {
		if err := store.CompleteReminder(ctx, userID, r.ID); err != nil {
			t.Errorf("mid-tick complete: %v", err)
		}
	}

	p := newTestPoller(t, store, notifier, now)
	if err := p.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	reminders, _ := store.ListReminders(ctx, 1)
	if len(reminders) != 0 {
		t.Fatalf("completed reminder was resurrected: %+v", reminders)
	}
}

func TestTickRecordsNagInChatHistory(t *testing.T) {
	t.Parallel()
	store := storage.NewMemoryStorage()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := store.CreateReminder(ctx, 1, "buy milk", now.Add(-time.Minute)); err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	notifier := &fakeNotifier{}
	p := newTestPoller(t, store, notifier, now)
	if err := p.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}

	history, err := store.RecentChatMessages(ctx, 1, 10)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 history turn, got %d", len(history))
	}
	if history[0].Role != models.RoleAssistant {
		t.Fatalf("nag should be recorded as assistant turn, got %s", history[0].Role)
	}
	if history[0].Content != notifier.sent[0].text {
		t.Fatalf("history content %q does not match sent text %q", history[0].Content, notifier.sent[0].text)
	}
}

func TestRunTickContainsPanic(t *testing.T) {
	t.Parallel()
	store := storage.NewMemoryStorage()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	due := now.Add(-time.Minute)
	if _, err := store.CreateReminder(ctx, 1, "fragile", due); err != nil {
		t.Fatalf("create reminder: %v", err)
	}

	// The sink blows up on the first delivery attempt; the tick must be
	// contained and the next tick must run normally.
	notifier := &fakeNotifier{}
	exploded := false
	notifier.onSend = func(int64) {
		if !exploded {
			exploded = true
			panic("sink exploded")
		}
	}

	p := newTestPoller(t, store, notifier, now)
	p.runTick()

	if !exploded {
		t.Fatal("expected the first delivery attempt to run")
	}
	reminders, _ := store.ListReminders(ctx, 1)
	if len(reminders) != 1 || reminders[0].Status != models.StatusPending {
		t.Fatalf("panicking tick must leave the reminder untouched: %+v", reminders)
	}
	if !reminders[0].RemindAt.Equal(due) {
		t.Fatalf("panicking tick must not move remind_at, got %s", reminders[0].RemindAt)
	}

	p.runTick()

	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 notification from the second tick, got %d", len(notifier.sent))
	}
	reminders, _ = store.ListReminders(ctx, 1)
	if len(reminders) != 1 || reminders[0].Status != models.StatusNagging {
		t.Fatalf("second tick should escalate normally: %+v", reminders)
	}
}

type brokenStore struct {
	*storage.MemoryStorage
}

func (s *brokenStore) DueReminders(ctx context.Context, now time.Time) ([]*models.Reminder, error) {
	return nil, errors.New("connection lost")
}

func TestTickReturnsStoreError(t *testing.T) {
	t.Parallel()
	store := &brokenStore{MemoryStorage: storage.NewMemoryStorage()}
	notifier := &fakeNotifier{}
	p := newTestPoller(t, store, notifier, time.Now())

	if err := p.Tick(context.Background()); err == nil {
		t.Fatal("expected store error to surface from Tick")
	}
	if len(notifier.sent) != 0 {
		t.Fatalf("no notifications expected on a failed tick, got %d", len(notifier.sent))
	}
}
