package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"formpilot/pkg/domain"
)

type SubmitInput struct {
	FormID    string
	Data      map[string]any
	IP        string
	UserAgent string
}

// SubmitForm records one response to an active form.
func (a *App) SubmitForm(ctx context.Context, in SubmitInput) (domain.Submission, error) {
	if in.Data == nil {
		return domain.Submission{}, invalid("formData is required")
	}
	form, err := a.GetPublicForm(ctx, in.FormID)
	if err != nil {
		return domain.Submission{}, err
	}
	for _, f := range form.Definition.Fields {
		if f.Required && isBlank(in.Data[f.ID]) {
			return domain.Submission{}, invalid("missing required field: " + f.Label)
		}
	}
	sub := domain.Submission{
		ID:          uuid.NewString(),
		FormID:      form.ID,
		Data:        in.Data,
		IP:          in.IP,
		UserAgent:   in.UserAgent,
		SubmittedAt: a.now(),
	}
	if err := a.store.AddSubmission(ctx, sub); err != nil {
		return domain.Submission{}, fmt.Errorf("save submission: %w", err)
	}
	return sub, nil
}

// ListSubmissions returns a form's submissions to its owner.
func (a *App) ListSubmissions(ctx context.Context, userID, formID string) ([]domain.Submission, error) {
	form, err := a.ownedForm(ctx, userID, formID)
	if err != nil {
		return nil, err
	}
	subs, err := a.store.ListSubmissions(ctx, form.ID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return subs, nil
}

func isBlank(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	}
	return false
}
