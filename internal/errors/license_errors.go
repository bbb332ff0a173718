package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// License error kinds. Every failure that leaves the trust engine is one of these.
var (
	ErrConfiguration      = errors.New("configuration error")
	ErrInvalidSignature   = errors.New("invalid token signature")
	ErrInvalidPayload     = errors.New("invalid token payload")
	ErrNetwork            = errors.New("network error")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrTimeTamperDetected = errors.New("time tamper detected")
	ErrRevoked            = errors.New("license revoked")
	ErrExpired            = errors.New("license expired")
	ErrGraceExpired       = errors.New("offline grace period expired")
	ErrNotActivated       = errors.New("license not activated")
	ErrHardwareMismatch   = errors.New("hardware mismatch")
	ErrTransferDenied     = errors.New("transfer denied")
	ErrLicenseRejected    = errors.New("license rejected by ledger")
	ErrStore              = errors.New("license store error")
)

// Error codes exposed to API consumers.
const (
	CodeConfiguration    = "CONFIGURATION_ERROR"
	CodeInvalidSignature = "INVALID_SIGNATURE"
	CodeInvalidPayload   = "INVALID_PAYLOAD"
	CodeNetwork          = "NETWORK_ERROR"
	CodeRateLimited      = "RATE_LIMITED"
	CodeTimeTamper       = "TIME_TAMPER_DETECTED"
	CodeRevoked          = "LICENSE_REVOKED"
	CodeExpired          = "LICENSE_EXPIRED"
	CodeGraceExpired     = "GRACE_EXPIRED"
	CodeNotActivated     = "NOT_ACTIVATED"
	CodeHardwareMismatch = "HARDWARE_MISMATCH"
	CodeTransferDenied   = "TRANSFER_DENIED"
	CodeRejected         = "LICENSE_REJECTED"
	CodeStore            = "STORE_ERROR"
	CodeInternal         = "INTERNAL_ERROR"
)

var kindCodes = []struct {
	kind   error
	code   string
	status int
}{
	{ErrConfiguration, CodeConfiguration, http.StatusInternalServerError},
	{ErrInvalidSignature, CodeInvalidSignature, http.StatusForbidden},
	{ErrInvalidPayload, CodeInvalidPayload, http.StatusForbidden},
	{ErrNetwork, CodeNetwork, http.StatusServiceUnavailable},
	{ErrRateLimitExceeded, CodeRateLimited, http.StatusTooManyRequests},
	{ErrTimeTamperDetected, CodeTimeTamper, http.StatusForbidden},
	{ErrRevoked, CodeRevoked, http.StatusForbidden},
	{ErrExpired, CodeExpired, http.StatusForbidden},
	{ErrGraceExpired, CodeGraceExpired, http.StatusForbidden},
	{ErrNotActivated, CodeNotActivated, http.StatusPreconditionRequired},
	{ErrHardwareMismatch, CodeHardwareMismatch, http.StatusConflict},
	{ErrTransferDenied, CodeTransferDenied, http.StatusForbidden},
	{ErrLicenseRejected, CodeRejected, http.StatusForbidden},
	{ErrStore, CodeStore, http.StatusInternalServerError},
}

// LicenseError is a classified license failure. Kind is one of the sentinel
// errors above; Cause is the underlying collaborator error, if any.
type LicenseError struct {
	Kind       error
	Message    string
	RetryAfter time.Duration
	Cause      error
}

// NewLicenseError creates a LicenseError of the given kind.
func NewLicenseError(kind error, message string, cause error) *LicenseError {
	return &LicenseError{Kind: kind, Message: message, Cause: cause}
}

func (e *LicenseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports whether target is the kind of this error.
func (e *LicenseError) Is(target error) bool {
	return e.Kind == target
}

func (e *LicenseError) Unwrap() error {
	return e.Cause
}

// Code returns the API error code for the error kind.
func (e *LicenseError) Code() string {
	return CodeFor(e)
}

// CodeFor maps any error to its API error code.
func CodeFor(err error) string {
	for _, kc := range kindCodes {
		if errors.Is(err, kc.kind) {
			return kc.code
		}
	}
	return CodeInternal
}

// StatusFor maps any error to an HTTP status code.
func StatusFor(err error) int {
	for _, kc := range kindCodes {
		if errors.Is(err, kc.kind) {
			return kc.status
		}
	}
	return http.StatusInternalServerError
}

// KindOf returns the sentinel kind of err, or nil when err is not classified.
func KindOf(err error) error {
	for _, kc := range kindCodes {
		if errors.Is(err, kc.kind) {
			return kc.kind
		}
	}
	return nil
}

// Configuration wraps a configuration failure.
func Configuration(format string, args ...interface{}) *LicenseError {
	return NewLicenseError(ErrConfiguration, fmt.Sprintf(format, args...), nil)
}

// Network wraps a transport failure talking to the ledger.
func Network(cause error) *LicenseError {
	return NewLicenseError(ErrNetwork, "license ledger unreachable", cause)
}

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens extensions into the top-level object.
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, 5+len(pd.Extensions))
	for k, v := range pd.Extensions {
		data[k] = v
	}
	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// ProblemFor converts a license error into problem details for the given request path.
func ProblemFor(err error, instance, traceID string) *ProblemDetails {
	code := CodeFor(err)
	status := StatusFor(err)

	detail := err.Error()
	var le *LicenseError
	if errors.As(err, &le) && le.Message != "" {
		detail = le.Message
	}

	pd := NewProblemDetails(status, "/errors/"+code, http.StatusText(status), detail, instance).
		WithExtension("code", code)
	if traceID != "" {
		pd.WithExtension("trace_id", traceID)
	}
	if le != nil && le.RetryAfter > 0 {
		pd.WithExtension("retry_after_seconds", int(le.RetryAfter.Seconds()))
	}
	return pd
}
