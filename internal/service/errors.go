package service

import (
	"errors"
	"fmt"
)

// Kind sentinels for flow errors; match with errors.Is.
var (
	// ErrUnsupportedRealm indicates an unknown realm name.
	ErrUnsupportedRealm = errors.New("unsupported realm")
	// ErrNotEnabled indicates the realm is switched off in configuration.
	ErrNotEnabled = errors.New("authentication not enabled for realm")
	// ErrConfiguration indicates an incomplete or invalid provider configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidRequest indicates a malformed or disallowed request.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrTransport indicates the request arrived over an insecure channel.
	ErrTransport = errors.New("insecure transport")
	// ErrMissingReferrer indicates a callback with no stored return target.
	ErrMissingReferrer = errors.New("missing referrer")
	// ErrInvalidState indicates a callback whose state nonce did not match.
	ErrInvalidState = errors.New("invalid state")
	// ErrIdentityProvider indicates the IdP reported or caused a failure.
	ErrIdentityProvider = errors.New("identity provider error")
	// ErrTokenParse indicates an id_token that could not be decoded.
	ErrTokenParse = errors.New("token parse error")
)

// Stable numeric error codes. These are part of the external contract
// (logged, rendered, persisted) and must never be renumbered.
const (
	CodeUnsupportedRealm       int64 = 1613676690
	CodeInsecureTransport      int64 = 1613676691
	CodeMissingClientID        int64 = 1613676692
	CodeMissingClientSecret    int64 = 1613676693
	CodeMissingScopes          int64 = 1613676694
	CodeMissingAuthorizeURL    int64 = 1613676695
	CodeMissingTokenURL        int64 = 1613676696
	CodeMissingUserInfoURL     int64 = 1613676697
	CodeMissingIdentifierClaim int64 = 1613676698
	CodeInvalidState           int64 = 1613752400
	CodeMissingReferrer        int64 = 1616191700
	CodeAccountNotConfigured   int64 = 1616191800
	CodeDomainLockMismatch     int64 = 1616191801
	CodeCrossOriginReferrer    int64 = 1657049097
)

// FlowError is a structured login-flow error carrying a kind sentinel, the
// stable numeric code, and an optional cause. It supports errors.Is against
// its kind and errors.As for code extraction.
type FlowError struct {
	// Kind is one of the sentinel errors above.
	Kind error
	// Code is the stable numeric code for this failure.
	Code int64
	// Message is a human-readable error message.
	Message string
	// Cause is the underlying error (optional).
	Cause error
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%d): %v", e.Message, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

// Unwrap returns the cause chain, keeping the kind matchable.
func (e *FlowError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

func flowErr(kind error, code int64, message string) *FlowError {
	return &FlowError{Kind: kind, Code: code, Message: message}
}

func flowErrCause(kind error, code int64, message string, cause error) *FlowError {
	return &FlowError{Kind: kind, Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the stable numeric code from err, or 0 when err carries
// no FlowError.
func CodeOf(err error) int64 {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Code
	}
	return 0
}
