package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/velkro/remindgram/internal/models"
	"github.com/velkro/remindgram/internal/storage"
)

const apologyReply = "Sorry, I'm having trouble thinking right now. Please try again in a moment."

// Assistant is the conversational front-end: it feeds a rolling history
// window plus the user's message to the model, executes any tool calls the
// model issues against storage, and records both turns in chat history.
type Assistant struct {
	client        *openai.Client
	store         storage.Storage
	model         string
	maxTokens     int
	temperature   float64
	historyWindow int
	location      *time.Location
	tools         []openai.Tool
	handlers      map[string]toolHandler
	logger        *zap.Logger
}

func New(apiKey, model string, maxTokens int, temperature float64, historyWindow int, location *time.Location, store storage.Storage, logger *zap.Logger) *Assistant {
	a := &Assistant{
		client:        openai.NewClient(apiKey),
		store:         store,
		model:         model,
		maxTokens:     maxTokens,
		temperature:   temperature,
		historyWindow: historyWindow,
		location:      location,
		logger:        logger,
	}
	a.tools, a.handlers = a.buildToolTable()
	return a
}

func (a *Assistant) systemPrompt(now time.Time) string {
	return fmt.Sprintf(`You are a personal assistant bot. You manage the user's reminders and weekly timetable through the tools you are given.

The current date and time is %s (%s).

When the user asks to be reminded of something, call add_reminder with remind_at formatted exactly as "2006-01-02 15:04" in the user's local time. Resolve relative phrases like "tomorrow at 9" yourself before calling the tool. When a tool is the right answer, call it instead of describing what you would do. Keep replies short and friendly.`,
		now.Format("Monday, 2 January 2006 15:04"), a.location.String())
}

// Reply handles one conversation turn. It always returns something to show
// the user; model failures degrade to an apology rather than an error.
func (a *Assistant) Reply(ctx context.Context, userID int64, text string) string {
	turnID := uuid.New().String()
	now := time.Now().In(a.location)

	history, err := a.store.RecentChatMessages(ctx, userID, a.historyWindow)
	if err != nil {
		a.logger.Error("Failed to load chat history",
			zap.Error(err),
			zap.String("turn_id", turnID),
			zap.Int64("user_id", userID))
		// A blank context still makes for a usable turn.
		history = nil
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: a.systemPrompt(now),
	})
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})

	resp, err := a.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       a.model,
			Messages:    messages,
			Tools:       a.tools,
			MaxTokens:   a.maxTokens,
			Temperature: float32(a.temperature),
		},
	)
	if err != nil {
		a.logger.Error("Failed to get model response",
			zap.Error(err),
			zap.String("turn_id", turnID),
			zap.Int64("user_id", userID))
		return apologyReply
	}

	if len(resp.Choices) == 0 {
		a.logger.Error("Model returned no choices",
			zap.String("turn_id", turnID),
			zap.Int64("user_id", userID))
		return apologyReply
	}

	choice := resp.Choices[0].Message
	reply := strings.TrimSpace(choice.Content)

	// Tool calls are executed single-pass: results go straight into the
	// reply instead of another model round.
	if len(choice.ToolCalls) > 0 {
		results := a.executeToolCalls(ctx, userID, turnID, choice.ToolCalls)
		if reply != "" {
			results = append([]string{reply}, results...)
		}
		reply = strings.Join(results, "\n")
	}

	if reply == "" {
		reply = apologyReply
	}

	a.recordTurn(ctx, userID, models.RoleUser, text, turnID)
	a.recordTurn(ctx, userID, models.RoleAssistant, reply, turnID)

	return reply
}

func (a *Assistant) executeToolCalls(ctx context.Context, userID int64, turnID string, calls []openai.ToolCall) []string {
	results := make([]string, 0, len(calls))
	for _, call := range calls {
		if call.Type != openai.ToolTypeFunction {
			continue
		}

		name := call.Function.Name
		handler, ok := a.handlers[name]
		if !ok {
			a.logger.Warn("Model requested unknown tool",
				zap.String("tool", name),
				zap.String("turn_id", turnID),
				zap.Int64("user_id", userID))
			results = append(results, fmt.Sprintf("I don't have a %q action.", name))
			continue
		}

		result, err := handler(ctx, userID, call.Function.Arguments)
		if err != nil {
			a.logger.Error("Tool call failed",
				zap.Error(err),
				zap.String("tool", name),
				zap.String("turn_id", turnID),
				zap.Int64("user_id", userID))
			results = append(results, fmt.Sprintf("Sorry, %s didn't work: %v", name, err))
			continue
		}

		a.logger.Info("Tool call executed",
			zap.String("tool", name),
			zap.String("turn_id", turnID),
			zap.Int64("user_id", userID))
		results = append(results, result)
	}
	return results
}

func (a *Assistant) recordTurn(ctx context.Context, userID int64, role models.ChatRole, content, turnID string) {
	err := a.store.AppendChatMessage(ctx, &models.ChatMessage{
		UserID:  userID,
		Role:    role,
		Content: content,
	})
	if err != nil {
		a.logger.Error("Failed to record chat turn",
			zap.Error(err),
			zap.String("role", string(role)),
			zap.String("turn_id", turnID),
			zap.Int64("user_id", userID))
	}
}
