package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"formpilot/internal/util"
	"formpilot/pkg/domain"
	"formpilot/pkg/formdef"
)

// CreateFormInput is a request to host a form internally.
type CreateFormInput struct {
	UserID      string
	Definition  domain.FormDefinition
	Title       string
	Description string
}

// CreateForm stores an internally hosted form and returns it with its links.
func (a *App) CreateForm(ctx context.Context, in CreateFormInput) (domain.Form, error) {
	def, err := prepareDefinition(in.Definition, in.Title, in.Description)
	if err != nil {
		return domain.Form{}, err
	}
	now := a.now()
	form := domain.Form{
		ID:          uuid.NewString(),
		UserID:      strings.TrimSpace(in.UserID),
		Title:       def.Title,
		Description: def.Description,
		Definition:  def,
		Tool:        domain.ToolInternal,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	form.ShareableLink = a.publicBaseURL + "/forms/" + form.ID
	form.ShortLink = a.shorten(ctx, form.ShareableLink)
	if err := a.store.SaveForm(ctx, form); err != nil {
		return domain.Form{}, fmt.Errorf("save form: %w", err)
	}
	return form, nil
}

// prepareDefinition applies title/description overrides, then normalizes and validates.
func prepareDefinition(def domain.FormDefinition, title, description string) (domain.FormDefinition, error) {
	if len(def.Fields) == 0 {
		return def, invalid("form definition must contain at least one field")
	}
	if t := strings.TrimSpace(title); t != "" {
		def.Title = t
	}
	if d := strings.TrimSpace(description); d != "" {
		def.Description = d
	}
	def = formdef.Normalize(def)
	if err := formdef.Validate(def); err != nil {
		return def, invalid(err.Error())
	}
	return def, nil
}

func (a *App) shorten(ctx context.Context, longURL string) string {
	if a.shortener == nil {
		return longURL
	}
	short, err := a.shortener.Shorten(ctx, longURL)
	if err != nil || short == "" {
		util.LoggerFromContext(ctx).Warn("shorten link failed, using shareable link", "err", err)
		return longURL
	}
	return short
}

// GetPublicForm returns an active form for respondents. Forms published to
// an external platform collect responses there and are not served here.
func (a *App) GetPublicForm(ctx context.Context, formID string) (domain.Form, error) {
	form, ok, err := a.store.GetForm(ctx, strings.TrimSpace(formID))
	if err != nil {
		return domain.Form{}, fmt.Errorf("get form: %w", err)
	}
	if !ok || !form.IsActive || form.Tool != domain.ToolInternal {
		return domain.Form{}, ErrFormNotFound
	}
	return form, nil
}

// ListForms returns the user's forms, newest first.
func (a *App) ListForms(ctx context.Context, userID string) ([]domain.Form, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return nil, err
	}
	forms, err := a.store.ListFormsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	return forms, nil
}

// DeactivateForm stops a form from accepting submissions. Only the owner may do it.
func (a *App) DeactivateForm(ctx context.Context, userID, formID string) error {
	form, err := a.ownedForm(ctx, userID, formID)
	if err != nil {
		return err
	}
	if err := a.store.SetFormActive(ctx, form.ID, false); err != nil {
		return fmt.Errorf("deactivate form: %w", err)
	}
	return nil
}

// ownedForm loads a form and hides it from everyone but its owner.
func (a *App) ownedForm(ctx context.Context, userID, formID string) (domain.Form, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return domain.Form{}, err
	}
	form, ok, err := a.store.GetForm(ctx, strings.TrimSpace(formID))
	if err != nil {
		return domain.Form{}, fmt.Errorf("get form: %w", err)
	}
	if !ok || form.UserID != userID {
		return domain.Form{}, ErrFormNotFound
	}
	return form, nil
}
