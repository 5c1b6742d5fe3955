package app

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"formpilot/pkg/ai"
	"formpilot/pkg/domain"
)

const maxTitleRunes = 60

type ConverseInput struct {
	UserID         string
	ConversationID string
	Message        string
}

type ConverseReply struct {
	ConversationID string
	ChatReply
}

// Converse runs one chat turn inside a stored conversation, creating the
// conversation when no id is given. The latest form in the conversation is
// what a modify request applies to.
func (a *App) Converse(ctx context.Context, in ConverseInput) (ConverseReply, error) {
	userID, err := requireUser(in.UserID)
	if err != nil {
		return ConverseReply{}, err
	}
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return ConverseReply{}, invalid("message is required")
	}
	var conv domain.Conversation
	isNew := strings.TrimSpace(in.ConversationID) == ""
	if !isNew {
		conv, err = a.GetConversation(ctx, userID, in.ConversationID)
		if err != nil {
			return ConverseReply{}, err
		}
	}
	history := make([]ai.Message, 0, len(conv.Messages))
	var current *domain.FormDefinition
	for _, m := range conv.Messages {
		history = append(history, ai.Message{Role: m.Role, Content: m.Content})
		if m.FormDefinition != nil {
			current = m.FormDefinition
		}
	}
	reply, err := a.Chat(ctx, ChatInput{Message: message, History: history, CurrentForm: current})
	if err != nil {
		return ConverseReply{}, err
	}

	now := a.now()
	if isNew {
		conv = domain.Conversation{
			ID:        uuid.NewString(),
			UserID:    userID,
			Title:     conversationTitle(message),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := a.store.CreateConversation(ctx, conv); err != nil {
			return ConverseReply{}, fmt.Errorf("create conversation: %w", err)
		}
	}
	userMsg := domain.Message{ID: uuid.NewString(), Role: domain.RoleUser, Content: message, CreatedAt: now}
	assistantMsg := domain.Message{
		ID:             uuid.NewString(),
		Role:           domain.RoleAssistant,
		Content:        reply.Message,
		FormDefinition: reply.FormDefinition,
		CreatedAt:      replyTime(now, a.now()),
	}
	if err := a.store.AppendConversationMessages(ctx, conv.ID, userMsg, assistantMsg); err != nil {
		return ConverseReply{}, fmt.Errorf("save messages: %w", err)
	}
	return ConverseReply{ConversationID: conv.ID, ChatReply: reply}, nil
}

// ListConversations lists recent conversations for a user.
func (a *App) ListConversations(ctx context.Context, userID string, limit int) ([]domain.Conversation, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return nil, err
	}
	items, err := a.store.ListConversationsByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return items, nil
}

func (a *App) GetConversation(ctx context.Context, userID, conversationID string) (domain.Conversation, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return domain.Conversation{}, err
	}
	conv, ok, err := a.store.GetConversation(ctx, strings.TrimSpace(conversationID))
	if err != nil {
		return domain.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	if !ok || conv.UserID != userID {
		return domain.Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

func (a *App) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	conv, err := a.GetConversation(ctx, userID, conversationID)
	if err != nil {
		return err
	}
	if err := a.store.DeleteConversation(ctx, conv.ID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

func conversationTitle(message string) string {
	title := strings.Join(strings.Fields(message), " ")
	if utf8.RuneCountInString(title) <= maxTitleRunes {
		return title
	}
	runes := []rune(title)
	return strings.TrimSpace(string(runes[:maxTitleRunes-1])) + "…"
}

// replyTime is at least one microsecond after asked, the precision of the
// message timestamp column.
func replyTime(asked, now time.Time) time.Time {
	asked = asked.Truncate(time.Microsecond)
	now = now.Truncate(time.Microsecond)
	if !now.After(asked) {
		return asked.Add(time.Microsecond)
	}
	return now
}
