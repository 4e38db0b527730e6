package timedoctor

import (
	"fmt"
	"strings"
)

type AuthErrorKind string

const (
	AuthInvalidCredentials AuthErrorKind = "invalid_credentials"
	AuthForbidden          AuthErrorKind = "forbidden"
	AuthCompanyNotFound    AuthErrorKind = "company_not_found"
	AuthTwoFactorRequired  AuthErrorKind = "two_factor_required"
	AuthMalformed          AuthErrorKind = "malformed_response"
)

// AuthError is a fatal login failure. For AuthCompanyNotFound the error
// carries every company name the account can actually see, so a
// misconfigured TD_COMPANY can be corrected from the error text alone.
type AuthError struct {
	Kind      AuthErrorKind
	Message   string
	Companies []string
	Err       error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("auth failed (%s)", e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if len(e.Companies) > 0 {
		msg += "; available companies: " + strings.Join(e.Companies, ", ")
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

type RequestErrorKind string

const (
	RequestUnauthorized     RequestErrorKind = "unauthorized"
	RequestPermissionDenied RequestErrorKind = "permission_denied"
	RequestNotFound         RequestErrorKind = "not_found"
	RequestUnreachable      RequestErrorKind = "unreachable"
	RequestFailed           RequestErrorKind = "request_failed"
)

// RequestError is a non-2xx or transport-level failure from a single API
// call. Body keeps the upstream response text for diagnostics.
type RequestError struct {
	Kind     RequestErrorKind
	Status   int
	Endpoint string
	Body     string
	Err      error
}

func (e *RequestError) Error() string {
	msg := fmt.Sprintf("request failed (%s): %s", e.Kind, e.Endpoint)
	if e.Status > 0 {
		msg += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Body != "" {
		msg += " body=" + truncate(e.Body, 300)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RequestError) Unwrap() error { return e.Err }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
