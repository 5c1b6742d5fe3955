package googleforms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	forms "google.golang.org/api/forms/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"formpilot/pkg/domain"
	"formpilot/pkg/formdef"
	"formpilot/pkg/providers"
)

// Scopes requested during authorization.
var Scopes = []string{forms.FormsBodyScope, forms.DriveFileScope}

// OAuthConfig builds the code-flow configuration for Google.
func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint:     google.Endpoint,
	}
}

// Client creates Google Forms on behalf of a user.
type Client struct {
	endpoint string
}

// NewClient builds a client; an empty endpoint selects the public API.
func NewClient(endpoint string) *Client {
	return &Client{endpoint: strings.TrimSpace(endpoint)}
}

// CreateForm creates the form, then adds its description and items.
func (c *Client) CreateForm(ctx context.Context, ts oauth2.TokenSource, def domain.FormDefinition) (providers.Published, error) {
	def = formdef.Normalize(def)
	opts := []option.ClientOption{option.WithTokenSource(ts)}
	if c.endpoint != "" {
		opts = append(opts, option.WithEndpoint(c.endpoint))
	}
	svc, err := forms.NewService(ctx, opts...)
	if err != nil {
		return providers.Published{}, fmt.Errorf("init google forms service: %w", err)
	}
	created, err := svc.Forms.Create(BuildCreate(def)).Context(ctx).Do()
	if err != nil {
		return providers.Published{}, fmt.Errorf("create google form: %w", wrapAPIError(err))
	}
	if reqs := BuildRequests(def); len(reqs) > 0 {
		_, err := svc.Forms.BatchUpdate(created.FormId, &forms.BatchUpdateFormRequest{Requests: reqs}).Context(ctx).Do()
		if err != nil {
			return providers.Published{}, fmt.Errorf("populate google form: %w", wrapAPIError(err))
		}
	}
	responder := created.ResponderUri
	if responder == "" {
		responder = fmt.Sprintf("https://docs.google.com/forms/d/%s/viewform", created.FormId)
	}
	return providers.Published{
		ExternalID: created.FormId,
		URL:        responder,
		EditURL:    fmt.Sprintf("https://docs.google.com/forms/d/%s/edit", created.FormId),
	}, nil
}

func wrapAPIError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &providers.APIError{Provider: "google", Status: gerr.Code, Message: gerr.Message}
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		status := 0
		if rerr.Response != nil {
			status = rerr.Response.StatusCode
		}
		return &providers.APIError{Provider: "google", Status: status, Message: rerr.ErrorDescription}
	}
	return err
}
