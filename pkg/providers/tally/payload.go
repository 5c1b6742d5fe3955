// Package tally publishes form definitions to Tally as block graphs.
package tally

import (
	"html"

	"github.com/google/uuid"

	"formpilot/pkg/domain"
	"formpilot/pkg/formdef"
)

const (
	BlockFormTitle = "FORM_TITLE"
	BlockTitle     = "TITLE"
	BlockText      = "TEXT"
	BlockRating    = "RATING"
	BlockTextarea  = "TEXTAREA"

	GroupQuestion = "QUESTION"
)

// Block is one node of a Tally form.
type Block struct {
	UUID      string         `json:"uuid"`
	Type      string         `json:"type"`
	GroupUUID string         `json:"groupUuid"`
	GroupType string         `json:"groupType"`
	Payload   map[string]any `json:"payload"`
}

// CreateFormRequest is the body of POST /forms.
type CreateFormRequest struct {
	Status string  `json:"status"`
	Blocks []Block `json:"blocks"`
}

var inputBlocks = map[domain.FieldType]string{
	domain.FieldText:     "INPUT_TEXT",
	domain.FieldTextarea: BlockTextarea,
	domain.FieldEmail:    "INPUT_EMAIL",
	domain.FieldNumber:   "INPUT_NUMBER",
	domain.FieldPhone:    "INPUT_PHONE_NUMBER",
	domain.FieldURL:      "INPUT_LINK",
	domain.FieldDate:     "INPUT_DATE",
}

// choiceBlocks maps a choice field to its option block type and group type.
var choiceBlocks = map[domain.FieldType][2]string{
	domain.FieldRadio:    {"MULTIPLE_CHOICE_OPTION", "MULTIPLE_CHOICE"},
	domain.FieldCheckbox: {"CHECKBOX", "CHECKBOXES"},
	domain.FieldSelect:   {"DROPDOWN_OPTION", "DROPDOWN"},
}

// BuildRequest translates a definition into a published Tally form.
// The definition is normalized first so choice fields carry at least two options.
func BuildRequest(def domain.FormDefinition) CreateFormRequest {
	def = formdef.Normalize(def)
	blocks := make([]Block, 0, 2+len(def.Fields)*3)
	blocks = append(blocks, newBlock(BlockFormTitle, "", BlockFormTitle, map[string]any{
		"html":  html.EscapeString(def.Title),
		"title": def.Title,
	}))
	if def.Description != "" {
		blocks = append(blocks, newBlock(BlockText, "", BlockText, map[string]any{
			"html": html.EscapeString(def.Description),
		}))
	}
	for _, f := range def.Fields {
		blocks = append(blocks, newBlock(BlockTitle, "", GroupQuestion, map[string]any{
			"html": html.EscapeString(f.Label),
		}))
		blocks = append(blocks, fieldBlocks(f)...)
	}
	return CreateFormRequest{Status: "PUBLISHED", Blocks: blocks}
}

func fieldBlocks(f domain.Field) []Block {
	group := uuid.NewString()
	if kinds, ok := choiceBlocks[f.Type]; ok {
		out := make([]Block, 0, len(f.Options))
		for i, opt := range f.Options {
			out = append(out, newBlock(kinds[0], group, kinds[1], map[string]any{
				"index":      i,
				"isFirst":    i == 0,
				"isLast":     i == len(f.Options)-1,
				"text":       opt,
				"isRequired": f.Required,
			}))
		}
		return out
	}
	if f.Type == domain.FieldRating {
		return []Block{newBlock(BlockRating, group, BlockRating, map[string]any{
			"isRequired": f.Required,
			"stars":      5,
		})}
	}
	kind, ok := inputBlocks[f.Type]
	if !ok {
		kind = inputBlocks[domain.FieldText]
	}
	payload := map[string]any{"isRequired": f.Required}
	if f.Placeholder != "" {
		payload["placeholder"] = f.Placeholder
	}
	return []Block{newBlock(kind, group, kind, payload)}
}

func newBlock(kind, group, groupType string, payload map[string]any) Block {
	if group == "" {
		group = uuid.NewString()
	}
	return Block{
		UUID:      uuid.NewString(),
		Type:      kind,
		GroupUUID: group,
		GroupType: groupType,
		Payload:   payload,
	}
}
