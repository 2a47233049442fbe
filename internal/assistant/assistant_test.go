package assistant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/velkro/remindgram/internal/models"
	"github.com/velkro/remindgram/internal/storage"
)

// newFakeModelAssistant points the OpenAI client at a local test server so
// Reply can be exercised end to end without the real API.
func newFakeModelAssistant(t *testing.T, handler http.HandlerFunc) (*Assistant, *storage.MemoryStorage) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	clientConfig := openai.DefaultConfig("test-key")
	clientConfig.BaseURL = srv.URL

	store := storage.NewMemoryStorage()
	a := &Assistant{
		client:        openai.NewClientWithConfig(clientConfig),
		store:         store,
		model:         "gpt-4o-mini",
		maxTokens:     500,
		temperature:   0.7,
		historyWindow: 12,
		location:      time.UTC,
		logger:        zap.NewNop(),
	}
	a.tools, a.handlers = a.buildToolTable()
	return a, store
}

func writeCompletion(t *testing.T, w http.ResponseWriter, message map[string]any) {
	t.Helper()
	resp := map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"model":  "gpt-4o-mini",
		"choices": []map[string]any{
			{"index": 0, "message": message, "finish_reason": "stop"},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.Errorf("encode completion: %v", err)
	}
}

func TestReplyApologizesOnModelError(t *testing.T) {
	t.Parallel()
	a, store := newFakeModelAssistant(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusInternalServerError)
	})

	reply := a.Reply(context.Background(), 1, "hello")
	if reply != apologyReply {
		t.Fatalf("expected apology on API error, got %q", reply)
	}

	// A failed turn leaves no partial history behind.
	history, _ := store.RecentChatMessages(context.Background(), 1, 10)
	if len(history) != 0 {
		t.Fatalf("failed turn should not be recorded, got %+v", history)
	}
}

func TestReplyApologizesOnEmptyChoices(t *testing.T) {
	t.Parallel()
	a, _ := newFakeModelAssistant(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chatcmpl-test","object":"chat.completion","choices":[]}`))
	})

	if reply := a.Reply(context.Background(), 1, "hello"); reply != apologyReply {
		t.Fatalf("expected apology on empty choices, got %q", reply)
	}
}

func TestReplyRecordsBothTurns(t *testing.T) {
	t.Parallel()
	a, store := newFakeModelAssistant(t, func(w http.ResponseWriter, r *http.Request) {
		writeCompletion(t, w, map[string]any{
			"role":    "assistant",
			"content": "Hello there!",
		})
	})

	reply := a.Reply(context.Background(), 1, "hi")
	if reply != "Hello there!" {
		t.Fatalf("unexpected reply: %q", reply)
	}

	history, err := store.RecentChatMessages(context.Background(), 1, 10)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected user and assistant turns, got %d", len(history))
	}
	if history[0].Role != models.RoleUser || history[0].Content != "hi" {
		t.Fatalf("first turn should be the user's, got %+v", history[0])
	}
	if history[1].Role != models.RoleAssistant || history[1].Content != "Hello there!" {
		t.Fatalf("second turn should be the assistant's, got %+v", history[1])
	}
}

func TestReplyExecutesToolCallsSinglePass(t *testing.T) {
	t.Parallel()
	requests := 0
	a, store := newFakeModelAssistant(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		writeCompletion(t, w, map[string]any{
			"role":    "assistant",
			"content": "",
			"tool_calls": []map[string]any{
				{
					"id":   "call-1",
					"type": "function",
					"function": map[string]any{
						"name":      "add_reminder",
						"arguments": `{"task":"buy milk","remind_at":"2026-03-02 09:00"}`,
					},
				},
			},
		})
	})

	reply := a.Reply(context.Background(), 1, "remind me to buy milk tomorrow at 9")
	if !strings.Contains(reply, "buy milk") {
		t.Fatalf("tool result should appear in the reply, got %q", reply)
	}
	if requests != 1 {
		t.Fatalf("single-pass execution must not call the model again, got %d requests", requests)
	}

	reminders, err := store.ListReminders(context.Background(), 1)
	if err != nil {
		t.Fatalf("list reminders: %v", err)
	}
	if len(reminders) != 1 || reminders[0].Task != "buy milk" {
		t.Fatalf("tool call should have saved the reminder: %+v", reminders)
	}

	history, _ := store.RecentChatMessages(context.Background(), 1, 10)
	if len(history) != 2 || history[1].Content != reply {
		t.Fatalf("assistant turn should match the sent reply: %+v", history)
	}
}

func TestReplySeedsHistoryOldestFirst(t *testing.T) {
	t.Parallel()
	var got openai.ChatCompletionRequest
	a, store := newFakeModelAssistant(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		writeCompletion(t, w, map[string]any{
			"role":    "assistant",
			"content": "Noted.",
		})
	})

	ctx := context.Background()
	seed := []*models.ChatMessage{
		{UserID: 1, Role: models.RoleUser, Content: "earlier question"},
		{UserID: 1, Role: models.RoleAssistant, Content: "earlier answer"},
	}
	for _, m := range seed {
		if err := store.AppendChatMessage(ctx, m); err != nil {
			t.Fatalf("seed history: %v", err)
		}
	}

	a.Reply(ctx, 1, "new question")

	wantRoles := []string{
		openai.ChatMessageRoleSystem,
		openai.ChatMessageRoleUser,
		openai.ChatMessageRoleAssistant,
		openai.ChatMessageRoleUser,
	}
	if len(got.Messages) != len(wantRoles) {
		t.Fatalf("expected %d messages, got %d", len(wantRoles), len(got.Messages))
	}
	for i, role := range wantRoles {
		if got.Messages[i].Role != role {
			t.Fatalf("message %d role = %q, want %q", i, got.Messages[i].Role, role)
		}
	}
	if got.Messages[1].Content != "earlier question" || got.Messages[2].Content != "earlier answer" {
		t.Fatalf("history not seeded oldest-first: %+v", got.Messages[1:3])
	}
	if got.Messages[3].Content != "new question" {
		t.Fatalf("current message should come last, got %q", got.Messages[3].Content)
	}
	if len(got.Tools) == 0 {
		t.Fatal("tool declarations missing from the request")
	}
}
