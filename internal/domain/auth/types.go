package auth

// Package auth contains domain-level types for the OIDC login flow.
// It is pure and free of framework/adapter concerns.

import (
	"fmt"
	"strings"
)

// Realm identifies one of the two user populations served by the host CMS.
// Each realm has its own user table and provisioning policy.
type Realm string

const (
	// RealmBackend is the administrative user population.
	RealmBackend Realm = "backend"
	// RealmFrontend is the public (website) user population.
	RealmFrontend Realm = "frontend"
)

// Valid reports whether the realm is one of the two supported populations.
func (r Realm) Valid() bool {
	switch r {
	case RealmBackend, RealmFrontend:
		return true
	default:
		return false
	}
}

// ParseRealm normalizes a realm string and reports whether it is supported.
func ParseRealm(value string) (Realm, bool) {
	r := Realm(strings.ToLower(strings.TrimSpace(value)))
	if r.Valid() {
		return r, true
	}
	return "", false
}

// RealmPolicy holds the provisioning policy applied when reconciling a
// remote identity against the realm's local user table. Policies are
// selected explicitly by realm, never by reflective member access.
type RealmPolicy struct {
	Enabled          bool
	MustExistLocally bool
	ReEnableUsers    bool
	UndeleteUsers    bool
	DefaultGroups    []int64
}

// Decision is the outcome of the authorization check on a local user record.
// The numeric values mirror the host's multi-service authentication chain
// contract and are part of the public behavior, not an implementation detail.
type Decision int

const (
	// DecisionDenied means this service authenticated the user but local
	// policy rejects the login. No further mechanism is consulted.
	DecisionDenied Decision = 0
	// DecisionNotResponsible means this service did not authenticate the
	// current session; other mechanisms should be tried.
	DecisionNotResponsible Decision = 100
	// DecisionGranted means the login is accepted. No further mechanism is
	// consulted.
	DecisionGranted Decision = 200
)

// String returns a short label for logging.
func (d Decision) String() string {
	switch d {
	case DecisionDenied:
		return "denied"
	case DecisionNotResponsible:
		return "not-responsible"
	case DecisionGranted:
		return "granted"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// DeniedReason records why an authenticated identity was rejected by local
// policy. It is persisted in the browser session and consumed once by the
// rendering layer.
type DeniedReason struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

// RequestContext carries the request facts the flow needs, threaded
// explicitly instead of read from ambient globals.
type RequestContext struct {
	// Host is the host (and optional port) the request arrived on.
	Host string
	// Secure reports whether the request arrived over HTTPS, directly or
	// via a trusted forwarding proxy.
	Secure bool
}

// ClaimNames configures which claims the flow reads from the merged
// identity payload. Each name is a JMESPath expression.
type ClaimNames struct {
	Identifier    string
	PrincipalName string
	Roles         string
}
