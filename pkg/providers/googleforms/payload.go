// Package googleforms publishes form definitions through the Google Forms API:
// create with the title only, then add everything else in one batchUpdate.
package googleforms

import (
	forms "google.golang.org/api/forms/v1"

	"formpilot/pkg/domain"
)

// BuildCreate returns the initial form; the API accepts only the title on create.
func BuildCreate(def domain.FormDefinition) *forms.Form {
	return &forms.Form{
		Info: &forms.Info{
			Title:         def.Title,
			DocumentTitle: def.Title,
		},
	}
}

// BuildRequests returns the batchUpdate requests that add the description
// and one item per field at an explicit index.
func BuildRequests(def domain.FormDefinition) []*forms.Request {
	reqs := make([]*forms.Request, 0, len(def.Fields)+1)
	if def.Description != "" {
		reqs = append(reqs, &forms.Request{
			UpdateFormInfo: &forms.UpdateFormInfoRequest{
				Info:       &forms.Info{Description: def.Description},
				UpdateMask: "description",
			},
		})
	}
	for i, f := range def.Fields {
		reqs = append(reqs, &forms.Request{
			CreateItem: &forms.CreateItemRequest{
				Item: &forms.Item{
					Title:        f.Label,
					Description:  f.Description,
					QuestionItem: &forms.QuestionItem{Question: buildQuestion(f)},
				},
				// index 0 is a zero value and would be dropped without ForceSendFields
				Location: &forms.Location{Index: int64(i), ForceSendFields: []string{"Index"}},
			},
		})
	}
	return reqs
}

func buildQuestion(f domain.Field) *forms.Question {
	q := &forms.Question{Required: f.Required}
	switch f.Type {
	case domain.FieldRadio, domain.FieldCheckbox, domain.FieldSelect:
		kind := "RADIO"
		if f.Type == domain.FieldCheckbox {
			kind = "CHECKBOX"
		} else if f.Type == domain.FieldSelect {
			kind = "DROP_DOWN"
		}
		opts := make([]*forms.Option, 0, len(f.Options))
		for _, o := range f.Options {
			opts = append(opts, &forms.Option{Value: o})
		}
		q.ChoiceQuestion = &forms.ChoiceQuestion{Type: kind, Options: opts}
	case domain.FieldDate:
		q.DateQuestion = &forms.DateQuestion{IncludeYear: true}
	case domain.FieldRating:
		q.ScaleQuestion = &forms.ScaleQuestion{Low: 1, High: 5, LowLabel: "1", HighLabel: "5"}
	case domain.FieldTextarea:
		q.TextQuestion = &forms.TextQuestion{Paragraph: true}
	default:
		q.TextQuestion = &forms.TextQuestion{}
	}
	return q
}
