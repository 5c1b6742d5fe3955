// Package providers holds what the Tally, Typeform and Google Forms
// integrations share.
package providers

import (
	"errors"
	"fmt"
	"net/http"
)

// Published is the result of creating a form on an external platform.
type Published struct {
	ExternalID string
	URL        string
	EditURL    string
}

// APIError is a non-2xx response from a provider API.
type APIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s api error (%d): %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s api error (%d)", e.Provider, e.Status)
}

// IsUnauthorized reports whether err is a provider rejecting the credential.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
}
