package ports

// Package ports defines interfaces (hexagonal ports) for the login flow.
// Implementations live in internal/adapters and internal/data;
// orchestration in internal/service.

import (
	"context"
	"errors"
	"time"

	"github.com/sitekit/oidc-login/internal/domain/auth"
	"github.com/sitekit/oidc-login/internal/domain/model"
)

// ErrNotFound is returned by SessionStore when a key is absent and by
// UserStore when no record matches.
var ErrNotFound = errors.New("not found")

// ErrMalformedIDToken is returned by OAuthClient when an id_token is present
// but its payload segment cannot be decoded. Callers escalate this; it may
// indicate a tampered token rather than a recoverable user error.
var ErrMalformedIDToken = errors.New("malformed id_token")

// SessionStore is a key/value store scoped to one browser session. It holds
// transient CSRF state, the pending referrer, and the cached identity across
// the redirect round trip. Values are opaque strings (canonical JSON where
// structured).
type SessionStore interface {
	Has(ctx context.Context, sessionID, key string) (bool, error)
	Get(ctx context.Context, sessionID, key string) (string, error)
	Set(ctx context.Context, sessionID, key, value string) error
	// Replace overwrites an existing value; on a flat key/value backend it
	// is equivalent to Set and exists for parity with envelope-style
	// session backends.
	Replace(ctx context.Context, sessionID, key, value string) error
	Remove(ctx context.Context, sessionID, key string) error
	// Take atomically reads and removes a key, returning ErrNotFound when
	// absent. This is the at-most-once consumption primitive the CSRF state
	// check relies on under duplicate callback delivery.
	Take(ctx context.Context, sessionID, key string) (string, error)
}

// Token is the relevant subset of the IdP token response.
type Token struct {
	AccessToken string
	// IDToken is the raw JWT-structured id_token when the response carried
	// one, otherwise empty.
	IDToken string
	Expiry  time.Time
}

// OAuthClient wraps the external authorization-code exchange. The
// implementation owns outbound timeouts; callers supply cancellation
// through ctx.
type OAuthClient interface {
	// AuthorizeURL builds the IdP authorize URL and returns it together
	// with the opaque random state nonce embedded in it.
	AuthorizeURL(ctx context.Context) (url string, state string, err error)

	// ExchangeCode swaps an authorization code for a token.
	ExchangeCode(ctx context.Context, code string) (Token, error)

	// ResourceOwner fetches the userinfo claims for the token.
	ResourceOwner(ctx context.Context, tok Token) (map[string]any, error)

	// IDTokenClaims decodes the id_token payload segment, without signature
	// verification, returning nil when the token carried no id_token and
	// ErrMalformedIDToken when the payload cannot be decoded.
	IDTokenClaims(tok Token) (map[string]any, error)

	// LogoutURL returns the IdP end-session endpoint, or "" when none is
	// configured.
	LogoutURL() string
}

// UserStore is the local user store consumed by the reconciliation engine.
type UserStore interface {
	// FindByOIDCIdentifier looks up a realm user by external identity key,
	// including disabled and soft-deleted records. Returns ErrNotFound when
	// no record matches.
	FindByOIDCIdentifier(ctx context.Context, realm auth.Realm, identifier string) (*model.LocalUser, error)

	// Insert creates a new realm user and returns the stored record.
	Insert(ctx context.Context, realm auth.Realm, user model.LocalUser) (*model.LocalUser, error)

	// Update overwrites the mutable fields of an existing realm user,
	// reporting whether a row was written.
	Update(ctx context.Context, realm auth.Realm, user *model.LocalUser) (bool, error)

	// GroupsByIDs returns the subset of ids that exist in the realm's group
	// table and whose domain lock is empty or matches host.
	GroupsByIDs(ctx context.Context, realm auth.Realm, q GroupQuery) ([]int64, error)

	// GroupsByExternalRole returns group ids whose external role identifier
	// is in the given role list, same domain-lock filter.
	GroupsByExternalRole(ctx context.Context, realm auth.Realm, q GroupQuery) ([]int64, error)
}

// GroupQuery carries the group lookup inputs. Host participates in the
// domain-lock filter and is compared case-insensitively.
type GroupQuery struct {
	IDs   []int64
	Roles []string
	Host  string
}
