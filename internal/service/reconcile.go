package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sitekit/oidc-login/internal/domain/auth"
	"github.com/sitekit/oidc-login/internal/domain/model"
	"github.com/sitekit/oidc-login/internal/ports"
	"golang.org/x/crypto/bcrypt"
)

// accountLifetimeMonths is the rolling expiry granted on every successful
// reconciliation.
const accountLifetimeMonths = 3

// ReconcileRequest identifies the session and realm to reconcile.
type ReconcileRequest struct {
	Realm     auth.Realm
	SessionID string
	// Host is the request host, used for the group domain-lock filter and
	// the user domain-lock check.
	Host string
}

// AuthUserRequest carries the inputs of the authorization decision.
type AuthUserRequest struct {
	Realm     auth.Realm
	SessionID string
	Host      string
	// User is the record previously returned by GetUser; may be nil.
	User *model.LocalUser
}

// permissions is the locally derived view of what the remote identity is
// allowed to have in a realm.
type permissions struct {
	isAdmin bool
	groups  []int64
}

func (p permissions) any(realm auth.Realm) bool {
	if realm == auth.RealmBackend && p.isAdmin {
		return true
	}
	return len(p.groups) > 0
}

// Reconciler maps a cached remote identity onto the realm's local user
// table and renders the authorization decision the host's authentication
// chain expects.
type Reconciler struct {
	users    ports.UserStore
	sessions ports.SessionStore
	status   *StatusChecker
	logger   *slog.Logger

	claims    auth.ClaimNames
	adminRole string
	now       func() time.Time
}

// NewReconciler creates a Reconciler.
func NewReconciler(users ports.UserStore, sessions ports.SessionStore, status *StatusChecker, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		users:     users,
		sessions:  sessions,
		status:    status,
		logger:    logger.With("component", "reconcile"),
		claims:    status.Settings().Claims,
		adminRole: status.Settings().AdminRole,
		now:       time.Now,
	}
}

// WithNow overrides the clock, for tests.
func (r *Reconciler) WithNow(now func() time.Time) *Reconciler {
	r.now = now
	return r
}

// GetUser reconciles the session's cached identity against the realm's
// local user table. (nil, nil) is the legitimate "no access" outcome: no
// cached identity, policy forbids provisioning, or the record is not
// eligible for reactivation.
func (r *Reconciler) GetUser(ctx context.Context, req ReconcileRequest) (*model.LocalUser, error) {
	identity, err := r.cachedIdentity(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, nil
	}
	identifier := identity.Identifier()
	if identifier == "" {
		return nil, nil
	}

	policy := r.status.Policy(req.Realm)
	perms, err := r.derivePermissions(ctx, req, identity)
	if err != nil {
		return nil, err
	}

	existing, err := r.users.FindByOIDCIdentifier(ctx, req.Realm, identifier)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		return r.insertUser(ctx, req, identity, policy, perms)
	case err != nil:
		return nil, fmt.Errorf("lookup user: %w", err)
	default:
		return r.updateUser(ctx, req, identity, policy, perms, existing)
	}
}

// AuthUser renders the three-valued authorization decision for a record
// previously fetched by GetUser. Denials persist their reason to the
// session for later rendering.
func (r *Reconciler) AuthUser(ctx context.Context, req AuthUserRequest) (auth.Decision, error) {
	identity, err := r.cachedIdentity(ctx, req.SessionID)
	if err != nil {
		return auth.DecisionNotResponsible, err
	}
	if identity == nil || identity.Identifier() == "" {
		return auth.DecisionNotResponsible, nil
	}
	if req.User == nil || req.User.OIDCIdentifier != identity.Identifier() {
		return auth.DecisionNotResponsible, nil
	}

	user := req.User
	if req.Realm == auth.RealmBackend && !user.Admin && !user.HasGroups() {
		return r.deny(ctx, req, auth.DeniedReason{
			Code: CodeAccountNotConfigured, Message: "Account not configured",
		})
	}
	if req.Realm == auth.RealmFrontend && !user.HasGroups() {
		return r.deny(ctx, req, auth.DeniedReason{
			Code: CodeAccountNotConfigured, Message: "Account not configured",
		})
	}
	if user.LockToDomain != "" && !strings.EqualFold(user.LockToDomain, req.Host) {
		return r.deny(ctx, req, auth.DeniedReason{
			Code: CodeDomainLockMismatch, Message: "Domain lock not met",
		})
	}

	r.logger.InfoContext(ctx, "login granted",
		"realm", req.Realm, "user", user.Username)
	return auth.DecisionGranted, nil
}

func (r *Reconciler) deny(ctx context.Context, req AuthUserRequest, reason auth.DeniedReason) (auth.Decision, error) {
	encoded, err := json.Marshal(reason)
	if err != nil {
		return auth.DecisionDenied, fmt.Errorf("encode denial reason: %w", err)
	}
	if err := r.sessions.Set(ctx, req.SessionID, SessionKeyAccessDenied, string(encoded)); err != nil {
		return auth.DecisionDenied, fmt.Errorf("persist denial reason: %w", err)
	}
	r.logger.WarnContext(ctx, "login denied",
		"realm", req.Realm, "code", reason.Code, "reason", reason.Message)
	return auth.DecisionDenied, nil
}

func (r *Reconciler) cachedIdentity(ctx context.Context, sessionID string) (*auth.Identity, error) {
	encoded, err := r.sessions.Get(ctx, sessionID, SessionKeyIdentity)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read cached identity: %w", err)
	}
	identity, err := auth.DecodeIdentity([]byte(encoded), r.claims)
	if err != nil {
		return nil, fmt.Errorf("decode cached identity: %w", err)
	}
	return &identity, nil
}

// derivePermissions computes the admin flag and the admitted local group
// set: the policy's default groups by id plus the groups matching the IdP
// roles by external identifier, both domain-lock filtered.
func (r *Reconciler) derivePermissions(ctx context.Context, req ReconcileRequest, identity *auth.Identity) (permissions, error) {
	policy := r.status.Policy(req.Realm)

	var perms permissions
	if req.Realm == auth.RealmBackend && r.adminRole != "" {
		perms.isAdmin = identity.HasRole(r.adminRole)
	}

	byID, err := r.users.GroupsByIDs(ctx, req.Realm, ports.GroupQuery{
		IDs: policy.DefaultGroups, Host: req.Host,
	})
	if err != nil {
		return perms, fmt.Errorf("default groups: %w", err)
	}
	byRole, err := r.users.GroupsByExternalRole(ctx, req.Realm, ports.GroupQuery{
		Roles: identity.Roles(), Host: req.Host,
	})
	if err != nil {
		return perms, fmt.Errorf("role groups: %w", err)
	}

	// The two queries may overlap; JoinGroupList deduplicates later, but
	// the in-memory set is kept exact for the eligibility check.
	perms.groups = model.ParseGroupList(model.JoinGroupList(append(byID, byRole...)))
	return perms, nil
}

func (r *Reconciler) insertUser(
	ctx context.Context,
	req ReconcileRequest,
	identity *auth.Identity,
	policy auth.RealmPolicy,
	perms permissions,
) (*model.LocalUser, error) {
	if policy.MustExistLocally || !perms.any(req.Realm) {
		return nil, nil
	}

	password, err := randomPasswordHash()
	if err != nil {
		return nil, err
	}
	endTime := r.now().UTC().AddDate(0, accountLifetimeMonths, 0)

	user := model.LocalUser{
		Username:       strings.ToLower(identity.PrincipalName()),
		Password:       password,
		Email:          identity.Email(),
		Name:           identity.DisplayName(),
		Usergroup:      model.JoinGroupList(perms.groups),
		Admin:          perms.isAdmin,
		OIDCIdentifier: identity.Identifier(),
		EndTime:        &endTime,
	}

	inserted, err := r.users.Insert(ctx, req.Realm, user)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	r.logger.InfoContext(ctx, "user provisioned",
		"realm", req.Realm, "user", inserted.Username, "admin", inserted.Admin)
	return inserted, nil
}

func (r *Reconciler) updateUser(
	ctx context.Context,
	req ReconcileRequest,
	identity *auth.Identity,
	policy auth.RealmPolicy,
	perms permissions,
	existing *model.LocalUser,
) (*model.LocalUser, error) {
	if existing.Deleted && !policy.UndeleteUsers {
		return nil, nil
	}
	if existing.Disabled && !policy.ReEnableUsers {
		return nil, nil
	}

	// Local group assignment stays authoritative when the account must
	// exist locally and the IdP sent no usable roles.
	if !(policy.MustExistLocally && len(perms.groups) == 0) {
		existing.Usergroup = model.JoinGroupList(perms.groups)
	}

	endTime := r.now().UTC().AddDate(0, accountLifetimeMonths, 0)
	existing.Username = strings.ToLower(identity.PrincipalName())
	existing.Email = identity.Email()
	existing.Name = identity.DisplayName()
	existing.Admin = perms.isAdmin
	existing.Deleted = false
	existing.Disabled = false
	existing.StartTime = nil
	existing.EndTime = &endTime

	written, err := r.users.Update(ctx, req.Realm, existing)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if !written {
		return nil, nil
	}
	r.logger.InfoContext(ctx, "user refreshed",
		"realm", req.Realm, "user", existing.Username)
	return existing, nil
}

// randomPasswordHash produces a bcrypt hash over a random secret. The local
// password is never used for login; authentication is always IdP-driven.
func randomPasswordHash() (string, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword(
		[]byte(base64.RawStdEncoding.EncodeToString(secret)), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
