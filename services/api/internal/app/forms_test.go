package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"formpilot/pkg/domain"
)

func TestCreateFormRejectsEmptyFields(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.app.CreateForm(context.Background(), CreateFormInput{Definition: domain.FormDefinition{Title: "Nothing"}})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCreateFormLinksAndOverrides(t *testing.T) {
	env := newTestEnv(t)
	form, err := env.app.CreateForm(context.Background(), CreateFormInput{
		UserID:      "user-1",
		Definition:  sampleDefinition(),
		Title:       "Summer party",
		Description: "Tell us if you can make it",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if form.ShareableLink != "https://forms.example.com/forms/"+form.ID {
		t.Fatalf("shareable link = %q", form.ShareableLink)
	}
	if form.ShortLink != form.ShareableLink {
		t.Fatalf("without a shortener the short link should equal the shareable link, got %q", form.ShortLink)
	}
	if form.Title != "Summer party" || form.Definition.Description != "Tell us if you can make it" {
		t.Fatalf("overrides not applied: %+v", form)
	}
	if got := len(form.Definition.Fields[2].Options); got < 2 {
		t.Fatalf("checkbox options not padded: %d", got)
	}
	stored, err := env.app.GetPublicForm(context.Background(), form.ID)
	if err != nil || stored.Tool != domain.ToolInternal {
		t.Fatalf("get stored form: %+v %v", stored, err)
	}
}

func TestCreateFormShortener(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Shortener = fakeShortener{} })
	form, err := env.app.CreateForm(context.Background(), CreateFormInput{Definition: sampleDefinition()})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if form.ShortLink != "https://bit.ly/"+form.ID {
		t.Fatalf("short link = %q", form.ShortLink)
	}

	failing := newTestEnv(t, func(c *Config) { c.Shortener = fakeShortener{err: errors.New("bitly down")} })
	form, err = failing.app.CreateForm(context.Background(), CreateFormInput{Definition: sampleDefinition()})
	if err != nil {
		t.Fatalf("shortener failure must not fail creation: %v", err)
	}
	if form.ShortLink != form.ShareableLink {
		t.Fatalf("expected fallback to shareable link, got %q", form.ShortLink)
	}
}

func TestSubmitUnknownAndDeactivatedForm(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	data := map[string]any{"name": "Ada"}
	if _, err := env.app.SubmitForm(ctx, SubmitInput{FormID: "missing", Data: data}); !errors.Is(err, ErrFormNotFound) {
		t.Fatalf("expected ErrFormNotFound for unknown form, got %v", err)
	}

	form, _ := env.app.CreateForm(ctx, CreateFormInput{UserID: "owner", Definition: sampleDefinition()})
	if err := env.app.DeactivateForm(ctx, "intruder", form.ID); !errors.Is(err, ErrFormNotFound) {
		t.Fatalf("non-owner deactivate should look like not found, got %v", err)
	}
	if err := env.app.DeactivateForm(ctx, "owner", form.ID); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := env.app.SubmitForm(ctx, SubmitInput{FormID: form.ID, Data: data}); !errors.Is(err, ErrFormNotFound) {
		t.Fatalf("expected ErrFormNotFound for deactivated form, got %v", err)
	}
	if _, err := env.app.GetPublicForm(ctx, form.ID); !errors.Is(err, ErrFormNotFound) {
		t.Fatalf("deactivated form should not be public, got %v", err)
	}
}

func TestExternalFormsAreNotHostedHere(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if err := env.app.ConnectTally(ctx, "owner", "tly_good"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	res, err := env.app.PublishTally(ctx, PublishInput{UserID: "owner", Definition: sampleDefinition()})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if _, err := env.app.GetPublicForm(ctx, res.Form.ID); !errors.Is(err, ErrFormNotFound) {
		t.Fatalf("tally form should not be served, got %v", err)
	}
	data := map[string]any{"name": "Ada"}
	if _, err := env.app.SubmitForm(ctx, SubmitInput{FormID: res.Form.ID, Data: data}); !errors.Is(err, ErrFormNotFound) {
		t.Fatalf("tally form should not accept submissions, got %v", err)
	}
	stored, ok, _ := env.store.GetForm(ctx, res.Form.ID)
	if !ok || stored.SubmissionCount != 0 {
		t.Fatalf("submission counter moved for external form: %+v", stored)
	}
}

func TestSubmitRequiredFieldsAndCounter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	form, _ := env.app.CreateForm(ctx, CreateFormInput{UserID: "owner", Definition: sampleDefinition()})

	_, err := env.app.SubmitForm(ctx, SubmitInput{FormID: form.ID, Data: map[string]any{"name": "  "}})
	if !errors.Is(err, ErrInvalidInput) || !strings.Contains(err.Error(), "Name") {
		t.Fatalf("expected missing required field error, got %v", err)
	}
	if _, err := env.app.SubmitForm(ctx, SubmitInput{FormID: form.ID}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected nil data rejected, got %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := env.app.SubmitForm(ctx, SubmitInput{FormID: form.ID, Data: map[string]any{"name": "Ada", "diet": []any{"Vegan"}}}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	stored, _ := env.app.GetPublicForm(ctx, form.ID)
	if stored.SubmissionCount != 2 {
		t.Fatalf("submission count = %d", stored.SubmissionCount)
	}
	subs, err := env.app.ListSubmissions(ctx, "owner", form.ID)
	if err != nil || len(subs) != 2 {
		t.Fatalf("list submissions: %d %v", len(subs), err)
	}
	if _, err := env.app.ListSubmissions(ctx, "someone-else", form.ID); !errors.Is(err, ErrFormNotFound) {
		t.Fatalf("expected owner-only listing, got %v", err)
	}
}

func TestListFormsRequiresUser(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.app.ListForms(context.Background(), " "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
