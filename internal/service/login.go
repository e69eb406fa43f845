package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/sitekit/oidc-login/internal/domain/auth"
	"github.com/sitekit/oidc-login/internal/ports"
)

// Session keys used by the login flow. The state and referrer entries are
// transient across the redirect round trip; the identity entry outlives the
// callback so the user-lookup phase can consume it.
const (
	SessionKeyState        = "oauth_state"
	SessionKeyReferrer     = "oauth_referrer"
	SessionKeyIdentity     = "oauth_user"
	SessionKeyAccessDenied = "access_denied"
)

// CallbackParams carries the query parameters the IdP sent to the redirect
// endpoint.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CallbackResult is the outcome of a callback. RedirectURL is always set,
// including on failure, because the browser is mid-flow and must land
// somewhere.
type CallbackResult struct {
	RedirectURL string
	Realm       auth.Realm
	Identity    *auth.Identity
	// Failed reports that the flow degraded to "no identity cached" and the
	// redirect carries handlingError=1.
	Failed bool
}

// LoginService drives the authentication state machine: login initiation,
// the IdP callback, and logout.
type LoginService struct {
	sessions ports.SessionStore
	oauth    ports.OAuthClient
	status   *StatusChecker
	logger   *slog.Logger

	claims auth.ClaimNames
	// adminPathPrefix distinguishes backend referrers from frontend ones.
	adminPathPrefix string
}

// NewLoginService creates a LoginService.
func NewLoginService(
	sessions ports.SessionStore,
	oauth ports.OAuthClient,
	status *StatusChecker,
	adminPathPrefix string,
	logger *slog.Logger,
) *LoginService {
	if logger == nil {
		logger = slog.Default()
	}
	if adminPathPrefix == "" {
		adminPathPrefix = "/admin"
	}
	return &LoginService{
		sessions:        sessions,
		oauth:           oauth,
		status:          status,
		logger:          logger.With("component", "login"),
		claims:          status.Settings().Claims,
		adminPathPrefix: adminPathPrefix,
	}
}

// InitiateLogin starts the authorization-code flow for the realm. It
// persists the CSRF state and the return referrer, then returns the IdP
// authorize URL the caller must redirect to.
func (s *LoginService) InitiateLogin(
	ctx context.Context,
	realm auth.Realm,
	reqCtx auth.RequestContext,
	sessionID, referrer string,
) (string, error) {
	enabled, err := s.status.CheckEnabled(realm, reqCtx)
	if err != nil {
		return "", err
	}
	if !enabled {
		return "", fmt.Errorf("%w: %s", ErrNotEnabled, realm)
	}

	if err := validateReferrer(referrer, reqCtx.Host); err != nil {
		return "", err
	}

	authURL, state, err := s.oauth.AuthorizeURL(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: build authorize url: %v", ErrIdentityProvider, err)
	}

	if referrer == "" {
		// The callback needs a continuation target, so a referrer is always
		// persisted even when the caller supplied none.
		referrer = s.fallbackTarget(realm)
	}

	if err := s.sessions.Set(ctx, sessionID, SessionKeyState, state); err != nil {
		return "", fmt.Errorf("persist state: %w", err)
	}
	if err := s.sessions.Set(ctx, sessionID, SessionKeyReferrer, referrer); err != nil {
		return "", fmt.Errorf("persist referrer: %w", err)
	}

	s.logger.InfoContext(ctx, "login initiated", "realm", realm, "session", sessionID)
	return authURL, nil
}

// HandleCallback processes the IdP redirect. Soft failures (IdP error
// params, state mismatch, failed exchange) degrade to a redirect with
// handlingError=1 and a nil error. A missing session and a malformed
// id_token are escalated: the returned error is non-nil, but the result
// still carries a valid redirect.
func (s *LoginService) HandleCallback(
	ctx context.Context,
	reqCtx auth.RequestContext,
	sessionID string,
	params CallbackParams,
) (CallbackResult, error) {
	referrer, err := s.sessions.Take(ctx, sessionID, SessionKeyReferrer)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		referrer = ""
		s.logger.ErrorContext(ctx, "read pending referrer", "err", err)
	}

	realm := s.realmForReferrer(referrer)
	target := referrer
	if target == "" {
		target = s.fallbackTarget(realm)
	}
	res := CallbackResult{Realm: realm, RedirectURL: target}

	if params.Error != "" {
		// The IdP declined; forward its reason verbatim and do not attempt
		// the code exchange.
		s.logger.ErrorContext(ctx, "identity provider returned error",
			"error", params.Error, "description", params.ErrorDescription)
		_ = s.sessions.Remove(ctx, sessionID, SessionKeyState)
		return s.failResult(res, params.Error, params.ErrorDescription), nil
	}

	pendingState, err := s.sessions.Take(ctx, sessionID, SessionKeyState)
	if err != nil {
		res = s.failResult(res, "", "")
		if errors.Is(err, ports.ErrNotFound) {
			return res, flowErr(ErrMissingReferrer, CodeMissingReferrer,
				"no pending login in session; session expired or flow not initiated")
		}
		return res, fmt.Errorf("consume pending state: %w", err)
	}
	if referrer == "" {
		// The state survived but the referrer did not, so there is nowhere
		// to continue the login. Abort before touching the IdP.
		res = s.failResult(res, "", "")
		return res, flowErr(ErrMissingReferrer, CodeMissingReferrer,
			"missing referrer; cannot determine login continuation")
	}
	if params.State == "" || pendingState != params.State {
		stateErr := flowErr(ErrInvalidState, CodeInvalidState, "state nonce mismatch")
		s.logger.ErrorContext(ctx, "state mismatch on callback",
			"session", sessionID, "code", stateErr.Code, "err", stateErr)
		return s.failResult(res, "", ""), nil
	}
	if params.Code == "" {
		s.logger.ErrorContext(ctx, "callback without authorization code", "session", sessionID)
		return s.failResult(res, "", ""), nil
	}

	tok, err := s.oauth.ExchangeCode(ctx, params.Code)
	if err != nil {
		s.logger.ErrorContext(ctx, "code exchange failed", "err", err)
		return s.failResult(res, "", ""), nil
	}

	claims, err := s.oauth.ResourceOwner(ctx, tok)
	if err != nil {
		s.logger.ErrorContext(ctx, "user info fetch failed", "err", err)
		return s.failResult(res, "", ""), nil
	}

	idClaims, err := s.oauth.IDTokenClaims(tok)
	if err != nil {
		// A present but undecodable id_token may indicate tampering, so
		// this is escalated rather than degraded.
		res = s.failResult(res, "", "")
		return res, fmt.Errorf("%w: %v", ErrTokenParse, err)
	}

	identity := auth.NewIdentity(auth.MergeClaims(claims, idClaims), s.claims)
	if identity.Identifier() == "" {
		// No durable identity key; keep any previously cached identity.
		s.logger.WarnContext(ctx, "identifier claim missing from merged claims",
			"claim", s.claims.Identifier)
	} else {
		encoded, encErr := identity.Encode()
		if encErr != nil {
			res = s.failResult(res, "", "")
			return res, fmt.Errorf("encode identity: %w", encErr)
		}
		if setErr := s.sessions.Set(ctx, sessionID, SessionKeyIdentity, string(encoded)); setErr != nil {
			res = s.failResult(res, "", "")
			return res, fmt.Errorf("cache identity: %w", setErr)
		}
		_ = s.sessions.Remove(ctx, sessionID, SessionKeyAccessDenied)
		res.Identity = &identity
		s.logger.InfoContext(ctx, "identity cached",
			"realm", realm, "principal", identity.PrincipalName())
	}

	if realm == auth.RealmFrontend && res.Identity != nil {
		res.RedirectURL = appendQuery(res.RedirectURL, url.Values{"logintype": {"login"}})
	}
	return res, nil
}

// Logout clears the cached identity and all pending flow state, returning
// the post-logout redirect target.
func (s *LoginService) Logout(
	ctx context.Context,
	realm auth.Realm,
	reqCtx auth.RequestContext,
	sessionID, referrer string,
) (string, error) {
	if err := validateReferrer(referrer, reqCtx.Host); err != nil {
		return "", err
	}

	for _, key := range []string{SessionKeyIdentity, SessionKeyState, SessionKeyReferrer, SessionKeyAccessDenied} {
		if err := s.sessions.Remove(ctx, sessionID, key); err != nil {
			return "", fmt.Errorf("clear session %s: %w", key, err)
		}
	}

	target := referrer
	if target == "" {
		target = s.fallbackTarget(realm)
	}

	if realm == auth.RealmBackend {
		if logoutURL := s.oauth.LogoutURL(); logoutURL != "" {
			target = logoutURL
		}
	}

	s.logger.InfoContext(ctx, "logged out", "realm", realm, "session", sessionID)
	return target, nil
}

// CachedIdentity returns the identity cached for the session, or (nil, nil)
// when none is present.
func (s *LoginService) CachedIdentity(ctx context.Context, sessionID string) (*auth.Identity, error) {
	encoded, err := s.sessions.Get(ctx, sessionID, SessionKeyIdentity)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cached identity: %w", err)
	}
	identity, err := auth.DecodeIdentity([]byte(encoded), s.claims)
	if err != nil {
		return nil, fmt.Errorf("decode cached identity: %w", err)
	}
	return &identity, nil
}

// ConsumeAccessDenied returns and clears the stored denial reason, or
// (nil, nil) when none is stored.
func (s *LoginService) ConsumeAccessDenied(ctx context.Context, sessionID string) (*auth.DeniedReason, error) {
	raw, err := s.sessions.Take(ctx, sessionID, SessionKeyAccessDenied)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("consume denial reason: %w", err)
	}
	var reason auth.DeniedReason
	if err := json.Unmarshal([]byte(raw), &reason); err != nil {
		return nil, fmt.Errorf("decode denial reason: %w", err)
	}
	return &reason, nil
}

func (s *LoginService) failResult(res CallbackResult, idpError, idpDescription string) CallbackResult {
	vals := url.Values{"handlingError": {"1"}}
	if idpError != "" {
		vals.Set("error", idpError)
	}
	if idpDescription != "" {
		vals.Set("error_description", idpDescription)
	}
	res.RedirectURL = appendQuery(res.RedirectURL, vals)
	res.Failed = true
	return res
}

// realmForReferrer classifies a referrer as backend or frontend by whether
// its path falls under the admin area mount.
func (s *LoginService) realmForReferrer(referrer string) auth.Realm {
	if referrer == "" {
		return auth.RealmBackend
	}
	u, err := url.Parse(referrer)
	if err != nil {
		return auth.RealmFrontend
	}
	path := u.Path
	if path == s.adminPathPrefix || strings.HasPrefix(path, s.adminPathPrefix+"/") {
		return auth.RealmBackend
	}
	return auth.RealmFrontend
}

func (s *LoginService) fallbackTarget(realm auth.Realm) string {
	if realm == auth.RealmBackend {
		return s.adminPathPrefix
	}
	return "/"
}

// validateReferrer rejects absolute referrers pointing at a different host.
// Relative and empty referrers are accepted.
func validateReferrer(referrer, host string) error {
	if referrer == "" {
		return nil
	}
	u, err := url.Parse(referrer)
	if err != nil {
		return flowErrCause(ErrInvalidRequest, CodeCrossOriginReferrer, "invalid referrer", err)
	}
	if u.Host != "" && !strings.EqualFold(u.Host, host) {
		return flowErr(ErrInvalidRequest, CodeCrossOriginReferrer,
			"referrer host does not match request host")
	}
	return nil
}

// appendQuery merges extra query parameters into target, preserving any
// existing query string and fragment.
func appendQuery(target string, extra url.Values) string {
	u, err := url.Parse(target)
	if err != nil {
		// Fall back to naive glue on unparseable targets.
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		return target + sep + extra.Encode()
	}
	q := u.Query()
	for k, vs := range extra {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
