// Package typeform publishes form definitions through the Typeform Create API.
package typeform

import (
	"formpilot/pkg/domain"
	"formpilot/pkg/formdef"
)

type Choice struct {
	Ref   string `json:"ref,omitempty"`
	Label string `json:"label"`
}

type Properties struct {
	Description            string   `json:"description,omitempty"`
	Choices                []Choice `json:"choices,omitempty"`
	AllowMultipleSelection *bool    `json:"allow_multiple_selection,omitempty"`
	Steps                  int      `json:"steps,omitempty"`
	Shape                  string   `json:"shape,omitempty"`
}

type Validations struct {
	Required bool `json:"required"`
}

type Field struct {
	Ref         string       `json:"ref"`
	Title       string       `json:"title"`
	Type        string       `json:"type"`
	Properties  *Properties  `json:"properties,omitempty"`
	Validations *Validations `json:"validations,omitempty"`
}

type Settings struct {
	IsPublic bool   `json:"is_public"`
	Language string `json:"language,omitempty"`
}

type WelcomeScreen struct {
	Ref        string      `json:"ref"`
	Title      string      `json:"title"`
	Properties *Properties `json:"properties,omitempty"`
}

// CreateFormRequest is the body of POST /forms.
type CreateFormRequest struct {
	Title          string          `json:"title"`
	Settings       Settings        `json:"settings"`
	WelcomeScreens []WelcomeScreen `json:"welcome_screens,omitempty"`
	Fields         []Field         `json:"fields"`
}

var fieldTypes = map[domain.FieldType]string{
	domain.FieldText:     "short_text",
	domain.FieldTextarea: "long_text",
	domain.FieldEmail:    "email",
	domain.FieldNumber:   "number",
	domain.FieldPhone:    "phone_number",
	domain.FieldURL:      "website",
	domain.FieldDate:     "date",
	domain.FieldRadio:    "multiple_choice",
	domain.FieldCheckbox: "multiple_choice",
	domain.FieldSelect:   "dropdown",
	domain.FieldRating:   "rating",
}

// BuildRequest translates a definition into a Typeform create request.
func BuildRequest(def domain.FormDefinition) CreateFormRequest {
	def = formdef.Normalize(def)
	req := CreateFormRequest{
		Title:    def.Title,
		Settings: Settings{IsPublic: true, Language: "en"},
		Fields:   make([]Field, 0, len(def.Fields)),
	}
	if def.Description != "" {
		req.WelcomeScreens = []WelcomeScreen{{
			Ref:        "welcome",
			Title:      def.Title,
			Properties: &Properties{Description: def.Description},
		}}
	}
	for _, f := range def.Fields {
		req.Fields = append(req.Fields, buildField(f))
	}
	return req
}

func buildField(f domain.Field) Field {
	kind, ok := fieldTypes[f.Type]
	if !ok {
		kind = "short_text"
	}
	out := Field{
		Ref:         f.ID,
		Title:       f.Label,
		Type:        kind,
		Validations: &Validations{Required: f.Required},
	}
	props := &Properties{Description: f.Description}
	switch f.Type {
	case domain.FieldRadio, domain.FieldCheckbox, domain.FieldSelect:
		props.Choices = make([]Choice, 0, len(f.Options))
		for _, opt := range f.Options {
			props.Choices = append(props.Choices, Choice{Label: opt})
		}
		if f.Type != domain.FieldSelect {
			multiple := f.Type == domain.FieldCheckbox
			props.AllowMultipleSelection = &multiple
		}
	case domain.FieldRating:
		props.Steps = 5
		props.Shape = "star"
	}
	if props.Description != "" || props.Choices != nil || props.Steps > 0 {
		out.Properties = props
	}
	return out
}
