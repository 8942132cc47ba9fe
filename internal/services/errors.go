package services

import (
	"errors"

	"github.com/soaringjerry/Sondeo/internal/backend"
)

type ErrorCode string

const (
	ErrorAuth           ErrorCode = "auth"
	ErrorReconciliation ErrorCode = "reconciliation"
	ErrorRepository     ErrorCode = "repository"
	ErrorValidation     ErrorCode = "validation"
	ErrorNoOp           ErrorCode = "noop"
	ErrorUnknown        ErrorCode = "unknown"
)

// Reason narrows a code down to the condition the user is told about.
type Reason string

const (
	ReasonNone                    Reason = ""
	ReasonInvalidCredentials      Reason = "invalid_credentials"
	ReasonDuplicateRegistration   Reason = "duplicate_registration"
	ReasonWeakPassword            Reason = "weak_password"
	ReasonRegisteredWrongPassword Reason = "registered_wrong_password"
	ReasonPasswordMismatch        Reason = "password_mismatch"
	ReasonMissingRelation         Reason = "missing_relation"
	ReasonPermissionDenied        Reason = "permission_denied"
	ReasonProfileLookup           Reason = "profile_lookup"
	ReasonProfileCreate           Reason = "profile_create"
	ReasonProfileUpdate           Reason = "profile_update"
	ReasonProfileMissing          Reason = "profile_missing"
)

type ServiceError struct {
	Code    ErrorCode
	Reason  Reason
	Message string
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

func NewValidationError(msg string) error { return &ServiceError{Code: ErrorValidation, Message: msg} }
func NewNoOpError(msg string) error       { return &ServiceError{Code: ErrorNoOp, Message: msg} }

func NewPasswordMismatchError() error {
	return &ServiceError{Code: ErrorValidation, Reason: ReasonPasswordMismatch, Message: "passwords do not match"}
}

func NewAuthError(reason Reason, msg string, err error) error {
	return &ServiceError{Code: ErrorAuth, Reason: reason, Message: msg, Err: err}
}

func NewReconciliationError(reason Reason, msg string, err error) error {
	return &ServiceError{Code: ErrorReconciliation, Reason: reason, Message: msg, Err: err}
}

// NewRepositoryError wraps a failed table operation. Missing relations and
// authorization denials keep their reason so callers can word them.
func NewRepositoryError(msg string, err error) error {
	reason := ReasonNone
	switch backend.KindOf(err) {
	case backend.KindMissingRelation:
		reason = ReasonMissingRelation
	case backend.KindPermissionDenied:
		reason = ReasonPermissionDenied
	}
	return &ServiceError{Code: ErrorRepository, Reason: reason, Message: msg, Err: err}
}

func NewUnknownError(err error) error {
	return &ServiceError{Code: ErrorUnknown, Message: backend.MessageOf(err), Err: err}
}

// ClassifyAuthError wraps a failed auth call with the reason its backend kind implies.
func ClassifyAuthError(msg string, err error) error {
	switch backend.KindOf(err) {
	case backend.KindInvalidCredentials:
		return NewAuthError(ReasonInvalidCredentials, msg, err)
	case backend.KindDuplicateRegistration:
		return NewAuthError(ReasonDuplicateRegistration, msg, err)
	case backend.KindWeakPassword:
		return NewAuthError(ReasonWeakPassword, msg, err)
	default:
		return NewAuthError(ReasonNone, msg, err)
	}
}

func AsServiceError(err error) (*ServiceError, bool) {
	var se *ServiceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// CodeOf returns the code of err; errors outside the taxonomy are ErrorUnknown.
func CodeOf(err error) ErrorCode {
	if se, ok := AsServiceError(err); ok {
		return se.Code
	}
	return ErrorUnknown
}

// ReasonOf returns the reason of err, ReasonNone when it carries none.
func ReasonOf(err error) Reason {
	if se, ok := AsServiceError(err); ok {
		return se.Reason
	}
	return ReasonNone
}
