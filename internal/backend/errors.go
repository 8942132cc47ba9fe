package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind is the client-side category of a backend failure.
type ErrorKind string

const (
	KindInvalidCredentials    ErrorKind = "invalid_credentials"
	KindDuplicateRegistration ErrorKind = "duplicate_registration"
	KindWeakPassword          ErrorKind = "weak_password"
	KindMissingRelation       ErrorKind = "missing_relation"
	KindPermissionDenied      ErrorKind = "permission_denied"
	KindConflict              ErrorKind = "conflict"
	KindNetwork               ErrorKind = "network"
	KindUnknown               ErrorKind = "unknown"
)

// Error is a classified backend failure. Message is the backend's own text.
type Error struct {
	Kind    ErrorKind
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Code != "":
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, KindUnknown when err is not a backend error.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// MessageOf returns the backend message carried by err, or err.Error().
func MessageOf(err error) string {
	var be *Error
	if errors.As(err, &be) && be.Message != "" {
		return be.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

// NetworkError wraps a transport failure.
func NetworkError(err error) *Error {
	return &Error{Kind: KindNetwork, Message: err.Error(), Err: err}
}

// Classify maps a backend response to an ErrorKind by status, error code and message.
// Backends are inconsistent about codes, so the message text is authoritative when it
// names a known condition.
func Classify(status int, code, message string) ErrorKind {
	msg := strings.ToLower(message)
	code = strings.ToLower(code)
	switch {
	case strings.Contains(msg, "invalid login credentials") || code == "invalid_credentials" || code == "invalid_grant":
		return KindInvalidCredentials
	case strings.Contains(msg, "already registered") || code == "user_already_exists" || code == "email_exists":
		return KindDuplicateRegistration
	case code == "weak_password" || (strings.Contains(msg, "password") && (status == http.StatusUnprocessableEntity || strings.Contains(msg, "at least"))):
		return KindWeakPassword
	case code == "42p01" || code == "pgrst205" || strings.Contains(msg, "does not exist"):
		return KindMissingRelation
	case code == "42501" || strings.Contains(msg, "row-level security") || strings.Contains(msg, "permission denied"):
		return KindPermissionDenied
	case code == "23505" || strings.Contains(msg, "duplicate key"):
		return KindConflict
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindPermissionDenied
	case status == http.StatusConflict:
		return KindConflict
	default:
		return KindUnknown
	}
}

// NewError builds a classified Error from a decoded backend response.
func NewError(status int, code, message string) *Error {
	if message == "" {
		message = http.StatusText(status)
	}
	return &Error{Kind: Classify(status, code, message), Status: status, Code: code, Message: message}
}
