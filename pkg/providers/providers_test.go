package providers

import (
	"fmt"
	"testing"
)

func TestIsUnauthorized(t *testing.T) {
	wrapped := fmt.Errorf("publish: %w", &APIError{Provider: "tally", Status: 401, Message: "bad key"})
	if !IsUnauthorized(wrapped) {
		t.Fatalf("expected wrapped 401 to be unauthorized")
	}
	if IsUnauthorized(&APIError{Provider: "tally", Status: 500}) {
		t.Fatalf("500 is not unauthorized")
	}
	if IsUnauthorized(fmt.Errorf("plain")) {
		t.Fatalf("plain errors are not unauthorized")
	}
	if got := (&APIError{Provider: "typeform", Status: 400, Message: "bad field"}).Error(); got != "typeform api error (400): bad field" {
		t.Fatalf("Error() = %q", got)
	}
}
