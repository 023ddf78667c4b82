package app

import (
	"fmt"
	"net/http"
)

// DomainError is the error shape the webhook surface reports to callers.
// Status drives the HTTP response code; for webhook endpoints any non-2xx
// tells the source system to redeliver.
type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// badPayload rejects a webhook body that does not decode or is missing
// required fields. The source system treats 4xx as permanent and will not
// redeliver, which is what a malformed payload deserves.
func badPayload(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "bad_payload", message, details)
}

func methodNotAllowed(method string) *DomainError {
	return domainError(http.StatusMethodNotAllowed, "method_not_allowed", method+" required", nil)
}
