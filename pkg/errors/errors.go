// pkg/errors/errors.go
package errors

import (
	"context"
	stderrors "errors"
)

// Kind groups errors into the categories the flow reacts to.
type Kind string

const (
	KindNetwork          Kind = "network"
	KindTimeout          Kind = "timeout"
	KindAuthentication   Kind = "authentication"
	KindAuthorization    Kind = "authorization"
	KindValidation       Kind = "validation"
	KindDuplicateLink    Kind = "duplicate_link"
	KindLastAccountGuard Kind = "last_account_guard"
	KindInProgress       Kind = "in_progress"
	KindCheckingSettings Kind = "checking_settings"
	KindUserRejected     Kind = "user_rejected"
	KindConflict         Kind = "conflict"
	KindBadRequest       Kind = "bad_request"
	KindUnknown          Kind = "unknown"
)

type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

// AuthenticationError covers rejected credentials and expired sessions.
type AuthenticationError struct {
	Message string
	Expired bool
}

func (e *AuthenticationError) Error() string {
	return e.Message
}

func NewAuthenticationError(message string) *AuthenticationError {
	return &AuthenticationError{Message: message}
}

func NewSessionExpiredError() *AuthenticationError {
	return &AuthenticationError{Message: "session expired", Expired: true}
}

type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	return e.Message
}

func NewAuthorizationError(message string) *AuthorizationError {
	return &AuthorizationError{Message: message}
}

type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

func NewConflictError(message string) *ConflictError {
	return &ConflictError{Message: message}
}

// DuplicateLinkError reports a link that already exists. It is a warning,
// not a failure.
type DuplicateLinkError struct {
	KeyID string
}

func (e *DuplicateLinkError) Error() string {
	return "key identity " + e.KeyID + " is already linked"
}

func NewDuplicateLinkError(keyID string) *DuplicateLinkError {
	return &DuplicateLinkError{KeyID: keyID}
}

type LastAccountGuardError struct {
	Reason string
}

func (e *LastAccountGuardError) Error() string {
	return e.Reason
}

func NewLastAccountGuardError(reason string) *LastAccountGuardError {
	return &LastAccountGuardError{Reason: reason}
}

type InProgressError struct {
	Operation string
}

func (e *InProgressError) Error() string {
	return e.Operation + " already in progress"
}

func NewInProgressError(operation string) *InProgressError {
	return &InProgressError{Operation: operation}
}

// CheckingSettingsError is transient: the caller should try again once the
// pending lookup settles.
type CheckingSettingsError struct{}

func (e *CheckingSettingsError) Error() string {
	return "account settings lookup still pending"
}

func NewCheckingSettingsError() *CheckingSettingsError {
	return &CheckingSettingsError{}
}

type UserRejectedError struct {
	Message string
}

func (e *UserRejectedError) Error() string {
	if e.Message == "" {
		return "request rejected by user"
	}
	return e.Message
}

func NewUserRejectedError(message string) *UserRejectedError {
	return &UserRejectedError{Message: message}
}

type NetworkError struct {
	Op    string
	Cause error
}

func (e *NetworkError) Error() string {
	if e.Cause == nil {
		return e.Op + ": network error"
	}
	return e.Op + ": " + e.Cause.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}

func NewNetworkError(op string, cause error) *NetworkError {
	return &NetworkError{Op: op, Cause: cause}
}

type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return e.Op + ": timed out"
}

func NewTimeoutError(op string) *TimeoutError {
	return &TimeoutError{Op: op}
}

type InternalError struct {
	Message string
}

func (e *InternalError) Error() string {
	if e.Message == "" {
		return "internal server error"
	}
	return e.Message
}

func NewInternalError() *InternalError {
	return &InternalError{}
}

type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string {
	return e.Message
}

func NewBadRequestError(message string) *BadRequestError {
	return &BadRequestError{Message: message}
}

// Is and As forward to the standard library so callers need one import.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// FromContext converts a context error into the taxonomy: deadlines become
// TimeoutError, cancellation is passed through.
func FromContext(op string, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(op)
	}
	return err
}

// KindOf classifies err. Context deadline errors count as timeouts.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var (
		validation *ValidationError
		authn      *AuthenticationError
		authz      *AuthorizationError
		dup        *DuplicateLinkError
		conflict   *ConflictError
		guard      *LastAccountGuardError
		busy       *InProgressError
		checking   *CheckingSettingsError
		rejected   *UserRejectedError
		timeout    *TimeoutError
		network    *NetworkError
		badReq     *BadRequestError
	)
	switch {
	case stderrors.As(err, &validation):
		return KindValidation
	case stderrors.As(err, &authn):
		return KindAuthentication
	case stderrors.As(err, &authz):
		return KindAuthorization
	case stderrors.As(err, &dup):
		return KindDuplicateLink
	case stderrors.As(err, &conflict):
		return KindConflict
	case stderrors.As(err, &guard):
		return KindLastAccountGuard
	case stderrors.As(err, &busy):
		return KindInProgress
	case stderrors.As(err, &checking):
		return KindCheckingSettings
	case stderrors.As(err, &rejected):
		return KindUserRejected
	case stderrors.As(err, &timeout), stderrors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case stderrors.As(err, &network):
		return KindNetwork
	case stderrors.As(err, &badReq):
		return KindBadRequest
	}
	return KindUnknown
}

// Retryable reports whether the calling layer may retry err with backoff.
// Conditions that need new user input are never retried.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTimeout, KindUnknown:
		return !stderrors.Is(err, context.Canceled)
	}
	return false
}

// IsWarning reports conditions rendered as warnings rather than errors.
func IsWarning(err error) bool {
	return KindOf(err) == KindDuplicateLink
}

// UserMessage maps err to a short message that is safe to render.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	switch KindOf(err) {
	case KindNetwork:
		return "We couldn't reach the server. Check your connection and try again."
	case KindTimeout:
		return "The request took too long. Please try again."
	case KindAuthentication:
		var authn *AuthenticationError
		if stderrors.As(err, &authn) && authn.Expired {
			return "Your session has expired. Please sign in again."
		}
		return "Those credentials didn't work. Please check them and try again."
	case KindAuthorization:
		return "You don't have permission to do that."
	case KindValidation:
		var v *ValidationError
		if stderrors.As(err, &v) && v.Message != "" {
			return v.Message
		}
		return "Some of the information provided is invalid."
	case KindDuplicateLink:
		return "This account is already linked."
	case KindLastAccountGuard:
		var g *LastAccountGuardError
		if stderrors.As(err, &g) && g.Reason != "" {
			return g.Reason
		}
		return "Link another account before removing this one."
	case KindInProgress:
		return "Please wait for the current operation to finish."
	case KindCheckingSettings:
		return "Checking account settings..."
	case KindUserRejected:
		return "The request was cancelled in your signer."
	case KindConflict:
		return "An account with those details already exists."
	case KindBadRequest:
		return "The request could not be understood."
	}
	return "Something went wrong. Please try again."
}
