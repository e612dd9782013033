// Package apperrors defines the error taxonomy shared by the gateway's
// inbound and outbound paths. Every error that reaches an HTTP response is
// first normalized into an *Error so the status code, machine-readable code
// and client-safe message are decided in one place.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an error for propagation and status mapping.
type Kind string

const (
	KindAuthentication     Kind = "authentication"
	KindAuthorization      Kind = "authorization"
	KindRateLimit          Kind = "rate_limit"
	KindValidation         Kind = "validation"
	KindServiceUnavailable Kind = "service_unavailable"
	KindUpstream           Kind = "upstream"
	KindNotFound           Kind = "not_found"
	KindInternal           Kind = "internal"
)

// Machine-readable error codes returned to clients.
const (
	CodeCredentialRequired     = "credential_required"
	CodeInvalidCredential      = "invalid_credential"
	CodeCredentialExpired      = "credential_expired"
	CodeInsufficientPermission = "insufficient_permission"
	CodeRateLimited            = "rate_limited"
	CodeValidationFailed       = "validation_failed"
	CodeServiceUnavailable     = "service_unavailable"
	CodeUpstreamError          = "upstream_error"
	CodeUpstreamTimeout        = "upstream_timeout"
	CodeNotFound               = "not_found"
	CodeInternal               = "internal_error"
)

// Error is the normalized gateway error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Status  int

	// Fields carries per-field validation detail (field -> reason).
	Fields map[string]string
	// RetryAfter is set for rate-limit errors.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by Kind and Code so sentinel comparisons work
// with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrCredentialRequired = &Error{Kind: KindAuthentication, Code: CodeCredentialRequired}
	ErrInvalidCredential  = &Error{Kind: KindAuthentication, Code: CodeInvalidCredential}
	ErrCredentialExpired  = &Error{Kind: KindAuthentication, Code: CodeCredentialExpired}
	ErrForbidden          = &Error{Kind: KindAuthorization, Code: CodeInsufficientPermission}
	ErrRateLimited        = &Error{Kind: KindRateLimit, Code: CodeRateLimited}
	ErrUnavailable        = &Error{Kind: KindServiceUnavailable, Code: CodeServiceUnavailable}
	ErrNotFound           = &Error{Kind: KindNotFound, Code: CodeNotFound}
)

// CredentialRequired is returned when no credential header was supplied.
func CredentialRequired() *Error {
	return &Error{Kind: KindAuthentication, Code: CodeCredentialRequired, Message: "credential required", Status: http.StatusUnauthorized}
}

// InvalidCredential is returned for malformed, unknown or inactive credentials.
func InvalidCredential(err error) *Error {
	return &Error{Kind: KindAuthentication, Code: CodeInvalidCredential, Message: "invalid credential", Status: http.StatusUnauthorized, Err: err}
}

// CredentialExpired is returned for credentials past their expiry.
func CredentialExpired() *Error {
	return &Error{Kind: KindAuthentication, Code: CodeCredentialExpired, Message: "credential expired", Status: http.StatusUnauthorized}
}

// Forbidden is returned when a valid caller lacks the named permission.
func Forbidden(permission string) *Error {
	return &Error{
		Kind:    KindAuthorization,
		Code:    CodeInsufficientPermission,
		Message: fmt.Sprintf("permission %q required", permission),
		Status:  http.StatusForbidden,
	}
}

// RateLimited carries the retry-after hint for a denied request.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimit,
		Code:       CodeRateLimited,
		Message:    "rate limit exceeded",
		Status:     http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

// Validation builds a 400 with field-level detail.
func Validation(msg string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidationFailed, Message: msg, Status: http.StatusBadRequest, Fields: fields}
}

// ServiceUnavailable is returned when a provider is disabled or unknown to
// the registry. No network attempt is made.
func ServiceUnavailable(providerID string) *Error {
	return &Error{
		Kind:    KindServiceUnavailable,
		Code:    CodeServiceUnavailable,
		Message: fmt.Sprintf("provider %s is not available", providerID),
		Status:  http.StatusServiceUnavailable,
	}
}

// Upstream wraps a provider failure. status is the upstream status code, or
// 0 when no response was received.
func Upstream(providerID string, status int, err error) *Error {
	e := &Error{
		Kind:    KindUpstream,
		Code:    CodeUpstreamError,
		Message: fmt.Sprintf("provider %s request failed", providerID),
		Status:  http.StatusBadGateway,
		Err:     err,
	}
	if status >= 400 && status <= 599 {
		e.Status = status
	}
	return e
}

// UpstreamTimeout is an Upstream error whose last attempt timed out.
func UpstreamTimeout(providerID string, err error) *Error {
	return &Error{
		Kind:    KindUpstream,
		Code:    CodeUpstreamTimeout,
		Message: fmt.Sprintf("provider %s timed out", providerID),
		Status:  http.StatusGatewayTimeout,
		Err:     err,
	}
}

// NotFound is returned for unknown resources.
func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: what + " not found", Status: http.StatusNotFound}
}

// Internal wraps an unexpected failure. The message is generic; err is only
// ever logged.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal server error", Status: http.StatusInternalServerError, Err: err}
}

// As normalizes any error into an *Error. Unknown errors become Internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Status == 0 {
			e.Status = defaultStatus(e.Kind)
		}
		return e
	}
	return Internal(err)
}

func defaultStatus(k Kind) int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindValidation:
		return http.StatusBadRequest
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindUpstream:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
