package domain

import "time"

type FieldType string

const (
	FieldText     FieldType = "text"
	FieldTextarea FieldType = "textarea"
	FieldEmail    FieldType = "email"
	FieldNumber   FieldType = "number"
	FieldPhone    FieldType = "phone"
	FieldURL      FieldType = "url"
	FieldDate     FieldType = "date"
	FieldSelect   FieldType = "select"
	FieldRadio    FieldType = "radio"
	FieldCheckbox FieldType = "checkbox"
	FieldRating   FieldType = "rating"
)

// IsChoice reports whether the field type renders a fixed list of options.
func (t FieldType) IsChoice() bool {
	switch t {
	case FieldSelect, FieldRadio, FieldCheckbox:
		return true
	}
	return false
}

// Tool identifies where a form lives.
type Tool string

const (
	ToolInternal    Tool = "internal"
	ToolTally       Tool = "tally"
	ToolTypeform    Tool = "typeform"
	ToolGoogleForms Tool = "google_forms"
)

// Provider is an external form platform a user connects to.
type Provider string

const (
	ProviderGoogle   Provider = "google"
	ProviderTypeform Provider = "typeform"
	ProviderTally    Provider = "tally"
)

// Providers lists every supported provider.
var Providers = []Provider{ProviderGoogle, ProviderTypeform, ProviderTally}

// ParseProvider maps a path segment to a provider.
func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderGoogle, ProviderTypeform, ProviderTally:
		return Provider(s), true
	}
	return "", false
}

type Field struct {
	ID          string    `json:"id"`
	Type        FieldType `json:"type"`
	Label       string    `json:"label"`
	Placeholder string    `json:"placeholder,omitempty"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
	Options     []string  `json:"options,omitempty"`
}

// FormDefinition is the platform-neutral shape every adapter translates from.
type FormDefinition struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Fields      []Field `json:"fields"`
}

type Form struct {
	ID              string         `json:"id"`
	UserID          string         `json:"userId,omitempty"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	Definition      FormDefinition `json:"formDefinition"`
	ShareableLink   string         `json:"shareableLink,omitempty"`
	ShortLink       string         `json:"shortLink,omitempty"`
	Tool            Tool           `json:"tool"`
	ExternalID      string         `json:"externalId,omitempty"`
	EditLink        string         `json:"editLink,omitempty"`
	IsActive        bool           `json:"isActive"`
	SubmissionCount int64          `json:"submissionCount"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

type Submission struct {
	ID          string         `json:"id"`
	FormID      string         `json:"formId"`
	Data        map[string]any `json:"data"`
	IP          string         `json:"-"`
	UserAgent   string         `json:"-"`
	SubmittedAt time.Time      `json:"submittedAt"`
}

// SealedValue is an AES-GCM ciphertext with its own IV and tag, hex encoded.
type SealedValue struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"iv"`
	Tag        string `json:"tag"`
}

func (v SealedValue) IsZero() bool {
	return v.Ciphertext == "" && v.IV == "" && v.Tag == ""
}

// ProviderCredential is the stored OAuth token (or API key) of one user for one provider.
type ProviderCredential struct {
	UserID       string      `json:"userId"`
	Provider     Provider    `json:"provider"`
	AccessToken  SealedValue `json:"-"`
	RefreshToken SealedValue `json:"-"`
	TokenType    string      `json:"tokenType,omitempty"`
	ExpiresAt    time.Time   `json:"expiresAt,omitempty"`
	Scope        string      `json:"scope,omitempty"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Expired reports whether the credential carries an expiry that has passed.
// API keys have no expiry and never expire.
func (c ProviderCredential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	ID             string          `json:"id,omitempty"`
	Role           string          `json:"role"`
	Content        string          `json:"content"`
	FormDefinition *FormDefinition `json:"formDefinition,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}

type Conversation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type ExportStatus string

const (
	ExportQueued     ExportStatus = "queued"
	ExportProcessing ExportStatus = "processing"
	ExportDone       ExportStatus = "done"
	ExportFailed     ExportStatus = "failed"
)

type ExportJob struct {
	ID           string       `json:"id"`
	FormID       string       `json:"formId"`
	UserID       string       `json:"-"`
	Status       ExportStatus `json:"status"`
	ErrorMessage string       `json:"errorMessage,omitempty"`
	Attempts     int          `json:"attempts"`
	ObjectKey    string       `json:"-"`
	DownloadURL  string       `json:"downloadUrl,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}
