package typeform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"formpilot/pkg/domain"
	"formpilot/pkg/providers"
)

const (
	defaultAPIBaseURL   = "https://api.typeform.com"
	defaultAdminBaseURL = "https://admin.typeform.com"
)

// Scopes requested during authorization. "offline" yields a refresh token.
var Scopes = []string{"forms:write", "forms:read", "accounts:read", "offline"}

// Endpoint returns the OAuth endpoints under apiBaseURL.
func Endpoint(apiBaseURL string) oauth2.Endpoint {
	apiBaseURL = strings.TrimRight(strings.TrimSpace(apiBaseURL), "/")
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}
	return oauth2.Endpoint{
		AuthURL:   apiBaseURL + "/oauth/authorize",
		TokenURL:  apiBaseURL + "/oauth/token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
}

// OAuthConfig builds the code-flow configuration for Typeform.
func OAuthConfig(clientID, clientSecret, redirectURL, apiBaseURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint:     Endpoint(apiBaseURL),
	}
}

// Client calls the Typeform Create API with a user's access token.
type Client struct {
	apiBaseURL   string
	adminBaseURL string
	httpClient   *http.Client
}

func NewClient(apiBaseURL string) *Client {
	apiBaseURL = strings.TrimRight(strings.TrimSpace(apiBaseURL), "/")
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}
	return &Client{
		apiBaseURL:   apiBaseURL,
		adminBaseURL: defaultAdminBaseURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateForm creates def and returns its display and admin links.
func (c *Client) CreateForm(ctx context.Context, accessToken string, def domain.FormDefinition) (providers.Published, error) {
	body, err := json.Marshal(BuildRequest(def))
	if err != nil {
		return providers.Published{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBaseURL+"/forms", bytes.NewReader(body))
	if err != nil {
		return providers.Published{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return providers.Published{}, fmt.Errorf("typeform request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return providers.Published{}, &providers.APIError{Provider: "typeform", Status: resp.StatusCode, Message: errResp.Description}
	}
	var out struct {
		ID    string `json:"id"`
		Links struct {
			Display string `json:"display"`
		} `json:"_links"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return providers.Published{}, fmt.Errorf("typeform decode: %w", err)
	}
	if out.ID == "" {
		return providers.Published{}, fmt.Errorf("typeform response missing form id")
	}
	display := out.Links.Display
	if display == "" {
		display = "https://form.typeform.com/to/" + out.ID
	}
	return providers.Published{
		ExternalID: out.ID,
		URL:        display,
		EditURL:    fmt.Sprintf("%s/form/%s/create", c.adminBaseURL, out.ID),
	}, nil
}
