// Package formdef validates and normalizes form definitions produced by the
// model or sent by clients before any adapter or store sees them.
package formdef

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"formpilot/pkg/domain"
)

// MinChoiceOptions is the number of options every choice field carries after Normalize.
const MinChoiceOptions = 2

var (
	ErrNoFields    = errors.New("form definition has no fields")
	ErrNoJSON      = errors.New("no JSON object found in model output")
	ErrEmptyLabel  = errors.New("field label required")
	ErrUnknownType = errors.New("unknown field type")
)

// markupTag matches an opening, closing or self-closing HTML tag. A bare "<"
// in text such as "x<y" does not.
var markupTag = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9]*(\s[^<>]*)?/?>`)

var typeAliases = map[string]domain.FieldType{
	"text":            domain.FieldText,
	"short_text":      domain.FieldText,
	"string":          domain.FieldText,
	"textarea":        domain.FieldTextarea,
	"long_text":       domain.FieldTextarea,
	"paragraph":       domain.FieldTextarea,
	"email":           domain.FieldEmail,
	"number":          domain.FieldNumber,
	"phone":           domain.FieldPhone,
	"phone_number":    domain.FieldPhone,
	"tel":             domain.FieldPhone,
	"url":             domain.FieldURL,
	"website":         domain.FieldURL,
	"date":            domain.FieldDate,
	"select":          domain.FieldSelect,
	"dropdown":        domain.FieldSelect,
	"radio":           domain.FieldRadio,
	"multiple_choice": domain.FieldRadio,
	"checkbox":        domain.FieldCheckbox,
	"checkboxes":      domain.FieldCheckbox,
	"rating":          domain.FieldRating,
	"opinion_scale":   domain.FieldRating,
}

// ParseType maps a raw type (including common aliases) to a field type.
func ParseType(raw string) (domain.FieldType, bool) {
	t, ok := typeAliases[strings.ToLower(strings.TrimSpace(raw))]
	return t, ok
}

// Validate checks the structural rules every stored or published definition must meet.
func Validate(def domain.FormDefinition) error {
	if len(def.Fields) == 0 {
		return ErrNoFields
	}
	for i, f := range def.Fields {
		if strings.TrimSpace(f.Label) == "" {
			return fmt.Errorf("field %d: %w", i+1, ErrEmptyLabel)
		}
		if _, ok := ParseType(string(f.Type)); !ok {
			return fmt.Errorf("field %d (%s): %w", i+1, f.Type, ErrUnknownType)
		}
	}
	return nil
}

// Normalize returns a cleaned copy of def: trimmed text, markup stripped from
// labels, canonical types, unique ids, and padded choice options. Unknown types
// become text. Fields with no label after cleaning are dropped.
func Normalize(def domain.FormDefinition) domain.FormDefinition {
	out := domain.FormDefinition{
		Title:       StripMarkup(def.Title),
		Description: StripMarkup(def.Description),
		Fields:      make([]domain.Field, 0, len(def.Fields)),
	}
	if out.Title == "" {
		out.Title = "Untitled form"
	}
	seen := make(map[string]struct{}, len(def.Fields))
	for _, f := range def.Fields {
		label := StripMarkup(f.Label)
		if label == "" {
			continue
		}
		t, ok := ParseType(string(f.Type))
		if !ok {
			t = domain.FieldText
		}
		nf := domain.Field{
			ID:          strings.TrimSpace(f.ID),
			Type:        t,
			Label:       label,
			Placeholder: strings.TrimSpace(f.Placeholder),
			Description: StripMarkup(f.Description),
			Required:    f.Required,
		}
		if t.IsChoice() {
			nf.Options = normalizeOptions(f.Options)
		}
		if nf.ID == "" {
			nf.ID = fmt.Sprintf("field_%d", len(out.Fields)+1)
		}
		base := nf.ID
		for n := 2; ; n++ {
			if _, dup := seen[nf.ID]; !dup {
				break
			}
			nf.ID = fmt.Sprintf("%s_%d", base, n)
		}
		seen[nf.ID] = struct{}{}
		out.Fields = append(out.Fields, nf)
	}
	return out
}

func normalizeOptions(in []string) []string {
	opts := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, o := range in {
		o = StripMarkup(o)
		if o == "" {
			continue
		}
		if _, dup := seen[o]; dup {
			continue
		}
		seen[o] = struct{}{}
		opts = append(opts, o)
	}
	for n := len(opts) + 1; len(opts) < MinChoiceOptions; n++ {
		o := fmt.Sprintf("Option %d", n)
		if _, dup := seen[o]; dup {
			continue
		}
		seen[o] = struct{}{}
		opts = append(opts, o)
	}
	return opts
}

// StripMarkup drops any HTML tags the model may emit and collapses whitespace.
// Text without tags is only unescaped, so comparisons like "x<y" survive.
func StripMarkup(s string) string {
	s = strings.TrimSpace(s)
	if !markupTag.MatchString(s) {
		if strings.Contains(s, "&") {
			s = html.UnescapeString(s)
		}
		return strings.Join(strings.Fields(s), " ")
	}
	body := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(s), body)
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "br" || node.Data == "p" || node.Data == "div" || node.Data == "li") {
			buf.WriteString(" ")
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return strings.Join(strings.Fields(buf.String()), " ")
}

// Extract pulls the first JSON object out of model output, tolerating code
// fences and surrounding prose, and decodes it as a definition.
func Extract(text string) (domain.FormDefinition, error) {
	raw, err := ExtractJSON(text)
	if err != nil {
		return domain.FormDefinition{}, err
	}
	var def domain.FormDefinition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return domain.FormDefinition{}, fmt.Errorf("decode form definition: %w", err)
	}
	return def, nil
}

// ExtractJSON returns the first balanced JSON object in text.
func ExtractJSON(text string) (string, error) {
	if i := strings.Index(text, "```"); i >= 0 {
		rest := text[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			if obj, ok := firstObject(rest[:end]); ok {
				return obj, nil
			}
		}
	}
	if obj, ok := firstObject(text); ok {
		return obj, nil
	}
	return "", ErrNoJSON
}

func firstObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(s); i++ {
			c := s[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					candidate := s[start : i+1]
					if json.Valid([]byte(candidate)) {
						return candidate, true
					}
					i = len(s)
				}
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}
