package errorutil

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable error kinds exposed to API and websocket callers.
const (
	KindValidation              = "VALIDATION_FAILED"
	KindNotFound                = "NOT_FOUND"
	KindUnauthorized            = "UNAUTHORIZED"
	KindForbidden               = "FORBIDDEN"
	KindInvalidTransition       = "INVALID_TRANSITION"
	KindInvalidAgent            = "INVALID_AGENT"
	KindNoAgentAvailable        = "NO_AGENT_AVAILABLE"
	KindAllAgentsAtCapacity     = "ALL_AGENTS_AT_CAPACITY"
	KindCollaboratorUnavailable = "COLLABORATOR_UNAVAILABLE"
	KindConflict                = "CONFLICT"
	KindRateLimited             = "RATE_LIMITED"
	KindInternal                = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Retryable  bool
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches DomainErrors by code so errors.Is(err, &DomainError{Code: KindConflict}) works.
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	if !errors.As(target, &other) {
		return false
	}
	return other.Code == e.Code
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(KindValidation, message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       KindNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError(KindUnauthorized, message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError(KindForbidden, message, http.StatusForbidden, nil)
}

func NewInvalidTransition(from, to string) error {
	return NewDomainError(KindInvalidTransition,
		fmt.Sprintf("cannot move ticket from %q to %q", from, to),
		http.StatusUnprocessableEntity,
		map[string]any{"from": from, "to": to})
}

func NewInvalidAgent(message string, details map[string]any) error {
	return NewDomainError(KindInvalidAgent, message, http.StatusUnprocessableEntity, details)
}

func NewNoAgentAvailable(details map[string]any) error {
	return NewDomainError(KindNoAgentAvailable, "no active agent available", http.StatusConflict, details)
}

func NewAllAgentsAtCapacity(capacity int, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	details["capacity"] = capacity
	return NewDomainError(KindAllAgentsAtCapacity, "all agents are at capacity", http.StatusConflict, details)
}

func NewCollaboratorUnavailable(collaborator string, err error) error {
	return &DomainError{
		Code:       KindCollaboratorUnavailable,
		Message:    fmt.Sprintf("%s unavailable", collaborator),
		HTTPStatus: http.StatusServiceUnavailable,
		Retryable:  true,
		Err:        err,
	}
}

// NewConflict marks a lost concurrent write. Callers should retry the whole operation.
func NewConflict(message string, details map[string]any) error {
	return &DomainError{
		Code:       KindConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
		Details:    details,
		Retryable:  true,
	}
}

func NewRateLimited(message string) error {
	return NewDomainError(KindRateLimited, message, http.StatusTooManyRequests, nil)
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       KindInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       KindInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// MapError converts generic errors to DomainError.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}

// KindOf returns the stable kind for err, or "" for nil.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	return ToDomainError(err).Code
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind string) bool {
	return err != nil && KindOf(err) == kind
}
