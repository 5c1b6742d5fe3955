package app

import "errors"

var (
	// ErrInvalidInput marks a request the caller must fix; the message says what.
	ErrInvalidInput          = errors.New("invalid input")
	ErrFormNotFound          = errors.New("form not found")
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrExportNotFound        = errors.New("export not found")
	ErrExportsDisabled       = errors.New("exports are not configured")
	ErrNotConnected          = errors.New("not connected")
	ErrProviderUnsupported   = errors.New("provider does not support oauth")
	ErrProviderNotConfigured = errors.New("provider is not configured")
	ErrInvalidState          = errors.New("invalid oauth state")
	ErrAuthorizationDenied   = errors.New("authorization denied")
	ErrInvalidAPIKey         = errors.New("invalid api key")
	ErrGenerationFailed      = errors.New("form generation failed")
)

// invalid wraps ErrInvalidInput with a caller-facing message.
func invalid(msg string) error {
	return &inputError{msg: msg}
}

type inputError struct{ msg string }

func (e *inputError) Error() string { return e.msg }
func (e *inputError) Unwrap() error { return ErrInvalidInput }

// notConnected names the provider in the error text.
func notConnected(provider string) error {
	return &providerError{provider: provider}
}

type providerError struct{ provider string }

func (e *providerError) Error() string { return e.provider + " not connected" }
func (e *providerError) Unwrap() error { return ErrNotConnected }
