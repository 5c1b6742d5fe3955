package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"formpilot/internal/util"
	"formpilot/pkg/ai"
	"formpilot/pkg/domain"
	"formpilot/pkg/formdef"
)

type Intent string

const (
	IntentCreateForm Intent = "create_form"
	IntentModifyForm Intent = "modify_form"
	IntentChat       Intent = "chat"
)

const historyLimit = 20

type ChatInput struct {
	Message     string
	History     []ai.Message
	CurrentForm *domain.FormDefinition
}

type ChatReply struct {
	Intent         Intent
	Message        string
	FormDefinition *domain.FormDefinition
}

// Chat answers one user turn, generating or revising a form when the
// message asks for one.
func (a *App) Chat(ctx context.Context, in ChatInput) (ChatReply, error) {
	in.Message = strings.TrimSpace(in.Message)
	if in.Message == "" {
		return ChatReply{}, invalid("message is required")
	}
	in.History = trimHistory(in.History)
	intent := a.detectIntent(ctx, in)
	if intent == IntentChat {
		text, err := a.generator.GenerateText(ctx, ai.Prompt{
			System:   chatSystemPrompt,
			Messages: append(in.History, ai.Message{Role: domain.RoleUser, Content: in.Message}),
		})
		if err != nil {
			return ChatReply{}, fmt.Errorf("generate reply: %w", err)
		}
		return ChatReply{Intent: intent, Message: strings.TrimSpace(text)}, nil
	}
	text, err := a.generator.GenerateText(ctx, formPrompt(in, intent))
	if err != nil {
		return ChatReply{}, fmt.Errorf("generate form: %w", err)
	}
	def, err := parseGeneratedForm(text)
	if err != nil {
		return ChatReply{}, err
	}
	return ChatReply{Intent: intent, Message: formSummary(intent, def), FormDefinition: &def}, nil
}

// StreamForm generates a form definition, passing model output to emit as it
// arrives, and returns the parsed result.
func (a *App) StreamForm(ctx context.Context, in ChatInput, emit ai.StreamFunc) (domain.FormDefinition, error) {
	in.Message = strings.TrimSpace(in.Message)
	if in.Message == "" {
		return domain.FormDefinition{}, invalid("message is required")
	}
	in.History = trimHistory(in.History)
	intent := IntentCreateForm
	if in.CurrentForm != nil {
		intent = IntentModifyForm
	}
	text, err := a.generator.StreamText(ctx, formPrompt(in, intent), emit)
	if err != nil {
		return domain.FormDefinition{}, fmt.Errorf("stream form: %w", err)
	}
	return parseGeneratedForm(text)
}

func (a *App) detectIntent(ctx context.Context, in ChatInput) Intent {
	user := in.Message
	if in.CurrentForm != nil {
		user = fmt.Sprintf("The user is currently editing a form titled %q.\nLatest message: %s", in.CurrentForm.Title, in.Message)
	}
	prompt := ai.Prompt{
		System:   intentSystemPrompt,
		Messages: append(append([]ai.Message{}, in.History...), ai.Message{Role: domain.RoleUser, Content: user}),
		JSON:     true,
	}
	text, err := a.generator.GenerateText(ctx, prompt)
	if err == nil {
		if intent, ok := parseIntent(text); ok {
			if intent == IntentModifyForm && in.CurrentForm == nil {
				return IntentCreateForm
			}
			return intent
		}
	}
	util.LoggerFromContext(ctx).Warn("intent detection fell back to keywords", "err", err)
	return keywordIntent(in)
}

func parseIntent(text string) (Intent, bool) {
	raw, err := formdef.ExtractJSON(text)
	if err != nil {
		return "", false
	}
	var out struct {
		Intent string `json:"intent"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", false
	}
	switch intent := Intent(strings.ToLower(strings.TrimSpace(out.Intent))); intent {
	case IntentCreateForm, IntentModifyForm, IntentChat:
		return intent, true
	}
	return "", false
}

var formKeywords = []string{"form", "survey", "questionnaire", "quiz", "poll", "registration", "sign up", "signup", "rsvp", "feedback"}

func keywordIntent(in ChatInput) Intent {
	msg := strings.ToLower(in.Message)
	for _, kw := range formKeywords {
		if strings.Contains(msg, kw) {
			return IntentCreateForm
		}
	}
	if in.CurrentForm != nil {
		return IntentModifyForm
	}
	return IntentChat
}

func formPrompt(in ChatInput, intent Intent) ai.Prompt {
	user := in.Message
	if intent == IntentModifyForm && in.CurrentForm != nil {
		current, _ := json.Marshal(in.CurrentForm)
		user = "Current form:\n" + string(current) + "\n\nApply this change and return the complete updated form:\n" + in.Message
	}
	return ai.Prompt{
		System:   formSystemPrompt,
		Messages: append(append([]ai.Message{}, in.History...), ai.Message{Role: domain.RoleUser, Content: user}),
		JSON:     true,
	}
}

func parseGeneratedForm(text string) (domain.FormDefinition, error) {
	def, err := formdef.Extract(text)
	if err != nil {
		return domain.FormDefinition{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	def = formdef.Normalize(def)
	if err := formdef.Validate(def); err != nil {
		return domain.FormDefinition{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return def, nil
}

func formSummary(intent Intent, def domain.FormDefinition) string {
	if intent == IntentModifyForm {
		return fmt.Sprintf("I've updated %q. It now has %d fields.", def.Title, len(def.Fields))
	}
	return fmt.Sprintf("I've created %q with %d fields. You can publish it or ask for changes.", def.Title, len(def.Fields))
}

func trimHistory(history []ai.Message) []ai.Message {
	out := make([]ai.Message, 0, len(history))
	for _, m := range history {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if m.Role != domain.RoleAssistant {
			m.Role = domain.RoleUser
		}
		out = append(out, m)
	}
	if len(out) > historyLimit {
		out = out[len(out)-historyLimit:]
	}
	return out
}
