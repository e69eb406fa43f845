package httpx

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/sitekit/oidc-login/internal/domain/auth"
	"github.com/sitekit/oidc-login/internal/service"
)

const sessionCookieName = "oidc_session"

// AuthHandlers provides HTTP handlers for the OIDC login flow.
type AuthHandlers struct {
	Login        *service.LoginService
	Status       *service.StatusChecker
	Reconciler   *service.Reconciler
	CookieDomain string
	// AdminPathPrefix classifies referrers when no explicit realm is given.
	AdminPathPrefix string
	Logger          *slog.Logger
}

func (h *AuthHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Authentication handles login initiation and logout.
// GET/POST /oidc/authentication?action={login|logout}&realm=<realm>&referrer=<url>.
func (h *AuthHandlers) Authentication(w http.ResponseWriter, r *http.Request) {
	referrer := r.URL.Query().Get("referrer")
	if referrer == "" {
		referrer = r.Header.Get("Referer")
	}

	realm := h.resolveRealm(r.URL.Query().Get("realm"), referrer)
	reqCtx := requestContext(r)
	sessionID := h.ensureSession(w, r)

	action := r.URL.Query().Get("action")
	switch action {
	case "logout":
		target, err := h.Login.Logout(r.Context(), realm, reqCtx, sessionID, referrer)
		if err != nil {
			h.renderFlowError(w, r, err)
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	case "", "login":
		authURL, err := h.Login.InitiateLogin(r.Context(), realm, reqCtx, sessionID, referrer)
		if err != nil {
			h.renderFlowError(w, r, err)
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	default:
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "unknown_action",
			Err:     errors.New("action must be login or logout"),
		})
	}
}

// Callback handles the IdP redirect.
// GET /oidc/callback?code=&state=&error=&error_description=.
// The browser always receives a redirect, even on failure.
func (h *AuthHandlers) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := service.CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	sessionID := h.ensureSession(w, r)
	res, err := h.Login.HandleCallback(r.Context(), requestContext(r), sessionID, params)
	if err != nil {
		h.logger().ErrorContext(r.Context(), "callback failed",
			"err", err, "code", service.CodeOf(err), "realm", res.Realm)
	}
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

// AuthCheck runs the user reconciliation and authorization decision for the
// session. It stands in for the host CMS's authentication-chain invocation.
// POST /oidc/login?realm=<realm>.
func (h *AuthHandlers) AuthCheck(w http.ResponseWriter, r *http.Request) {
	realm, ok := auth.ParseRealm(r.URL.Query().Get("realm"))
	if !ok {
		WriteError(w, ErrorParams{
			Code:       http.StatusBadRequest,
			ErrCode:    "unsupported_realm",
			Err:        errors.New("realm must be backend or frontend"),
			ReasonCode: service.CodeUnsupportedRealm,
		})
		return
	}

	reqCtx := requestContext(r)
	sessionID := h.ensureSession(w, r)

	user, err := h.Reconciler.GetUser(r.Context(), service.ReconcileRequest{
		Realm: realm, SessionID: sessionID, Host: reqCtx.Host,
	})
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "reconcile_failed", Err: err})
		return
	}

	decision, err := h.Reconciler.AuthUser(r.Context(), service.AuthUserRequest{
		Realm: realm, SessionID: sessionID, Host: reqCtx.Host, User: user,
	})
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusInternalServerError, ErrCode: "auth_failed", Err: err})
		return
	}

	body := map[string]any{
		"decision": int(decision),
		"outcome":  decision.String(),
	}
	if decision == auth.DecisionGranted && user != nil {
		body["user"] = user
	}
	if decision == auth.DecisionDenied {
		if reason, rerr := h.Login.ConsumeAccessDenied(r.Context(), sessionID); rerr == nil && reason != nil {
			body["reason"] = reason
		}
	}
	WriteJSON(w, http.StatusOK, body)
}

// StatusHandler reports per-realm login readiness.
// GET /oidc/status.
func (h *AuthHandlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	reqCtx := requestContext(r)

	realmStatus := func(realm auth.Realm) map[string]any {
		enabled, err := h.Status.CheckEnabled(realm, reqCtx)
		out := map[string]any{"enabled": enabled}
		if err != nil {
			out["error"] = map[string]any{
				"code":    service.CodeOf(err),
				"message": err.Error(),
			}
		}
		return out
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"backend":  realmStatus(auth.RealmBackend),
		"frontend": realmStatus(auth.RealmFrontend),
	})
}

// ensureSession returns the browser session id, minting one when the
// request carries no session cookie.
func (h *AuthHandlers) ensureSession(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    id,
		Path:     "/",
		Domain:   h.CookieDomain,
		HttpOnly: true,
		Secure:   requestContext(r).Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func (h *AuthHandlers) resolveRealm(explicit, referrer string) auth.Realm {
	if realm, ok := auth.ParseRealm(explicit); ok {
		return realm
	}
	prefix := h.AdminPathPrefix
	if prefix == "" {
		prefix = "/admin"
	}
	if referrer != "" && pathMatchesPrefix(referrer, prefix) {
		return auth.RealmBackend
	}
	if referrer == "" {
		return auth.RealmBackend
	}
	return auth.RealmFrontend
}

func (h *AuthHandlers) renderFlowError(w http.ResponseWriter, r *http.Request, err error) {
	p := ErrorParams{Code: http.StatusInternalServerError, ErrCode: "login_failed", Err: err, ReasonCode: service.CodeOf(err)}
	switch {
	case errors.Is(err, service.ErrUnsupportedRealm):
		p.Code, p.ErrCode = http.StatusBadRequest, "unsupported_realm"
	case errors.Is(err, service.ErrInvalidRequest):
		p.Code, p.ErrCode = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, service.ErrTransport):
		p.Code, p.ErrCode = http.StatusBadRequest, "insecure_transport"
	case errors.Is(err, service.ErrNotEnabled):
		p.Code, p.ErrCode = http.StatusNotFound, "not_enabled"
	case errors.Is(err, service.ErrConfiguration):
		p.ErrCode = "configuration_error"
	}
	h.logger().ErrorContext(r.Context(), "login flow error", "err", err, "code", p.ReasonCode)
	WriteError(w, p)
}

func requestContext(r *http.Request) auth.RequestContext {
	secure := r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	return auth.RequestContext{Host: r.Host, Secure: secure}
}

// pathMatchesPrefix reports whether the referrer's path falls under prefix.
func pathMatchesPrefix(referrer, prefix string) bool {
	path := referrer
	if i := strings.Index(path, "://"); i >= 0 {
		path = path[i+3:]
		if j := strings.Index(path, "/"); j >= 0 {
			path = path[j:]
		} else {
			path = "/"
		}
	}
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
