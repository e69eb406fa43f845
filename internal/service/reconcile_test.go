package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sitekit/oidc-login/internal/domain/auth"
	"github.com/sitekit/oidc-login/internal/domain/model"
	mocks "github.com/sitekit/oidc-login/internal/mocks/auth"
	"github.com/sitekit/oidc-login/internal/testutil"
	"golang.org/x/crypto/bcrypt"
)

type reconcileFixture struct {
	users    *mocks.MemoryUserStore
	sessions *mocks.MemorySessionStore
	rec      *Reconciler
}

func newReconcileFixture(t *testing.T, policies map[auth.Realm]auth.RealmPolicy) *reconcileFixture {
	t.Helper()
	users := mocks.NewMemoryUserStore()
	sessions := mocks.NewMemorySessionStore()
	status := NewStatusChecker(validSettings(), policies, false)
	rec := NewReconciler(users, sessions, status, nil).
		WithNow(testutil.FixedTimeFunc(testutil.TestTime()))
	return &reconcileFixture{users: users, sessions: sessions, rec: rec}
}

// cacheIdentity stores an encoded identity under the session, the way a
// completed callback would.
func (f *reconcileFixture) cacheIdentity(t *testing.T, claims map[string]any) {
	t.Helper()
	identity := auth.NewIdentity(claims, validSettings().Claims)
	encoded, err := identity.Encode()
	require.NoError(t, err)
	require.NoError(t, f.sessions.Set(context.Background(), testSession, SessionKeyIdentity, string(encoded)))
}

func editorClaims() map[string]any {
	return map[string]any{
		"sub":                "idp-user-7",
		"preferred_username": "Jane.Editor",
		"email":              "jane.editor@example.com",
		"name":               "Jane Editor",
		"roles":              []any{"editors"},
	}
}

func backendReq() ReconcileRequest {
	return ReconcileRequest{Realm: auth.RealmBackend, SessionID: testSession, Host: "cms.example.com"}
}

func TestGetUser_NoCachedIdentity(t *testing.T) {
	f := newReconcileFixture(t, bothRealmsEnabled())

	user, err := f.rec.GetUser(context.Background(), backendReq())

	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestGetUser_ProvisionsNewUser(t *testing.T) {
	f := newReconcileFixture(t, bothRealmsEnabled())
	f.users.AddGroup(auth.RealmBackend, model.UserGroup{ID: 3, Title: "Editors", ExternalIdentifier: "editors"})
	f.cacheIdentity(t, editorClaims())

	user, err := f.rec.GetUser(context.Background(), backendReq())

	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "jane.editor", user.Username)
	assert.Equal(t, "jane.editor@example.com", user.Email)
	assert.Equal(t, "Jane Editor", user.Name)
	assert.Equal(t, "3", user.Usergroup)
	assert.Equal(t, "idp-user-7", user.OIDCIdentifier)
	assert.False(t, user.Admin)
	require.NotNil(t, user.EndTime)
	assert.Equal(t, testutil.TestTime().AddDate(0, 3, 0), *user.EndTime)
	// The local password is a random secret; it must never be empty and
	// never the principal name.
	assert.NotEmpty(t, user.Password)
	assert.Error(t, bcrypt.CompareHashAndPassword([]byte(user.Password), []byte("jane.editor")))
}

func TestGetUser_AdminRoleGrantsBackendAdmin(t *testing.T) {
	f := newReconcileFixture(t, bothRealmsEnabled())
	claims := editorClaims()
	claims["roles"] = []any{"cms-admin"}
	f.cacheIdentity(t, claims)

	user, err := f.rec.GetUser(context.Background(), backendReq())

	require.NoError(t, err)
	require.NotNil(t, user)
	assert.True(t, user.Admin)
	assert.Empty(t, user.Usergroup)
}

func TestGetUser_GroupsAreDedupedAndSorted(t *testing.T) {
	policies := bothRealmsEnabled()
	policies[auth.RealmBackend] = auth.RealmPolicy{Enabled: true, DefaultGroups: []int64{9, 3}}
	f := newReconcileFixture(t, policies)
	f.users.AddGroup(auth.RealmBackend, model.UserGroup{ID: 3, Title: "Editors", ExternalIdentifier: "editors"})
	f.users.AddGroup(auth.RealmBackend, model.UserGroup{ID: 9, Title: "Staff"})
	f.cacheIdentity(t, editorClaims())

	user, err := f.rec.GetUser(context.Background(), backendReq())

	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "3,9", user.Usergroup)
}

func TestGetUser_NoPermissionsMeansNoProvisioning(t *testing.T) {
	f := newReconcileFixture(t, bothRealmsEnabled())
	// No matching groups seeded, no admin role held.
	f.cacheIdentity(t, editorClaims())

	user, err := f.rec.GetUser(context.Background(), backendReq())

	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestGetUser_MustExistLocallyBlocksInsert(t *testing.T) {
	policies := bothRealmsEnabled()
	policies[auth.RealmBackend] = auth.RealmPolicy{Enabled: true, MustExistLocally: true}
	f := newReconcileFixture(t, policies)
	f.users.AddGroup(auth.RealmBackend, model.UserGroup{ID: 3, ExternalIdentifier: "editors"})
	f.cacheIdentity(t, editorClaims())

	user, err := f.rec.GetUser(context.Background(), backendReq())

	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestGetUser_DomainLockedGroupIsFiltered(t *testing.T) {
	f := newReconcileFixture(t, bothRealmsEnabled())
	f.users.AddGroup(auth.RealmBackend, model.UserGroup{
		ID: 3, ExternalIdentifier: "editors", LockToDomain: "other.example.com",
	})
	f.cacheIdentity(t, editorClaims())

	user, err := f.rec.GetUser(context.Background(), backendReq())

	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestGetUser_RefreshesExistingUser(t *testing.T) {
	f := newReconcileFixture(t, bothRealmsEnabled())
	f.users.AddGroup(auth.RealmBackend, model.UserGroup{ID: 3, ExternalIdentifier: "editors"})
	past := testutil.TestTime().AddDate(0, -1, 0)
	f.users.AddUser(auth.RealmBackend, model.LocalUser{
		Username:       "old.name",
		Email:          "old@example.com",
		Usergroup:      "1,2",
		OIDCIdentifier: "idp-user-7",
		StartTime:      &past,
		EndTime:        &past,
	})
	f.cacheIdentity(t, editorClaims())

	user, err := f.rec.GetUser(context.Background(), backendReq())

	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "jane.editor", user.Username)
	assert.Equal(t, "jane.editor@example.com", user.Email)
	assert.Equal(t, "3", user.Usergroup)
	assert.Nil(t, user.StartTime)
	require.NotNil(t, user.EndTime)
	assert.Equal(t, testutil.TestTime().AddDate(0, 3, 0), *user.EndTime)
}

func TestGetUser_SecondReconcileIsStable(t *testing.T) {
	f := newReconcileFixture(t, bothRealmsEnabled())
	f.users.AddGroup(auth.RealmBackend, model.UserGroup{ID: 3, ExternalIdentifier: "editors"})
	f.cacheIdentity(t, editorClaims())
	ctx := context.Background()

	first, err := f.rec.GetUser(ctx, backendReq())
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.rec.GetUser(ctx, backendReq())
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Username, second.Username)
	assert.Equal(t, first.Usergroup, second.Usergroup)
}

func TestGetUser_DeletedUserNeedsUndeletePolicy(t *testing.T) {
	f := newReconcileFixture(t, bothRealmsEnabled())
	f.users.AddGroup(auth.RealmBackend, model.UserGroup{ID: 3, ExternalIdentifier: "editors"})
	f.users.AddUser(auth.RealmBackend, model.LocalUser{
		Username: "jane.editor", OIDCIdentifier: "idp-user-7", Deleted: true,
	})
	f.cacheIdentity(t, editorClaims())

	user, err := f.rec.GetUser(context.Background(), backendReq())
	require.NoError(t, err)
	assert.Nil(t, user)

	policies := bothRealmsEnabled()
	policies[auth.RealmBackend] = auth.RealmPolicy{Enabled: true, UndeleteUsers: true}
	f2 := newReconcileFixture(t, policies)
	f2.users.AddGroup(auth.RealmBackend, model.UserGroup{ID: 3, ExternalIdentifier: "editors"})
	f2.users.AddUser(auth.RealmBackend, model.LocalUser{
		Username: "jane.editor", OIDCIdentifier: "idp-user-7", Deleted: true,
	})
	f2.cacheIdentity(t, editorClaims())

	user, err = f2.rec.GetUser(context.Background(), backendReq())
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.False(t, user.Deleted)
}

func TestGetUser_DisabledUserNeedsReEnablePolicy(t *testing.T) {
	policies := bothRealmsEnabled()
	policies[auth.RealmBackend] = auth.RealmPolicy{Enabled: true, ReEnableUsers: true}
	f := newReconcileFixture(t, policies)
	f.users.AddGroup(auth.RealmBackend, model.UserGroup{ID: 3, ExternalIdentifier: "editors"})
	f.users.AddUser(auth.RealmBackend, model.LocalUser{
		Username: "jane.editor", OIDCIdentifier: "idp-user-7", Disabled: true,
	})
	f.cacheIdentity(t, editorClaims())

	user, err := f.rec.GetUser(context.Background(), backendReq())

	require.NoError(t, err)
	require.NotNil(t, user)
	assert.False(t, user.Disabled)
}

func TestGetUser_MustExistLocallyKeepsLocalGroups(t *testing.T) {
	policies := bothRealmsEnabled()
	policies[auth.RealmBackend] = auth.RealmPolicy{Enabled: true, MustExistLocally: true}
	f := newReconcileFixture(t, policies)
	f.users.AddUser(auth.RealmBackend, model.LocalUser{
		Username: "jane.editor", Usergroup: "5,6", OIDCIdentifier: "idp-user-7",
	})
	// No groups match the identity roles, so the local assignment stays.
	f.cacheIdentity(t, editorClaims())

	user, err := f.rec.GetUser(context.Background(), backendReq())

	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "5,6", user.Usergroup)
}

func TestAuthUser_NotResponsibleWithoutIdentity(t *testing.T) {
	f := newReconcileFixture(t, bothRealmsEnabled())

	decision, err := f.rec.AuthUser(context.Background(), AuthUserRequest{
		Realm: auth.RealmBackend, SessionID: testSession, Host: "cms.example.com",
	})

	require.NoError(t, err)
	assert.Equal(t, auth.DecisionNotResponsible, decision)
}

func TestAuthUser_NotResponsibleForForeignUser(t *testing.T) {
	f := newReconcileFixture(t, bothRealmsEnabled())
	f.cacheIdentity(t, editorClaims())

	decision, err := f.rec.AuthUser(context.Background(), AuthUserRequest{
		Realm: auth.RealmBackend, SessionID: testSession, Host: "cms.example.com",
		User: &model.LocalUser{Username: "someone.else", OIDCIdentifier: "other-identifier"},
	})

	require.NoError(t, err)
	assert.Equal(t, auth.DecisionNotResponsible, decision)
}

func TestAuthUser_DeniesUnconfiguredAccount(t *testing.T) {
	f := newReconcileFixture(t, bothRealmsEnabled())
	f.cacheIdentity(t, editorClaims())
	ctx := context.Background()

	decision, err := f.rec.AuthUser(ctx, AuthUserRequest{
		Realm: auth.RealmBackend, SessionID: testSession, Host: "cms.example.com",
		User: &model.LocalUser{Username: "jane.editor", OIDCIdentifier: "idp-user-7"},
	})

	require.NoError(t, err)
	assert.Equal(t, auth.DecisionDenied, decision)

	stored, err := f.sessions.Take(ctx, testSession, SessionKeyAccessDenied)
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":1616191800,"message":"Account not configured"}`, stored)
}

func TestAuthUser_DeniesDomainLockMismatch(t *testing.T) {
	f := newReconcileFixture(t, bothRealmsEnabled())
	f.cacheIdentity(t, editorClaims())
	ctx := context.Background()

	decision, err := f.rec.AuthUser(ctx, AuthUserRequest{
		Realm: auth.RealmBackend, SessionID: testSession, Host: "cms.example.com",
		User: &model.LocalUser{
			Username: "jane.editor", OIDCIdentifier: "idp-user-7",
			Usergroup: "3", LockToDomain: "other.example.com",
		},
	})

	require.NoError(t, err)
	assert.Equal(t, auth.DecisionDenied, decision)

	stored, err := f.sessions.Take(ctx, testSession, SessionKeyAccessDenied)
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":1616191801,"message":"Domain lock not met"}`, stored)
}

func TestAuthUser_DomainLockIsCaseInsensitive(t *testing.T) {
	f := newReconcileFixture(t, bothRealmsEnabled())
	f.cacheIdentity(t, editorClaims())

	decision, err := f.rec.AuthUser(context.Background(), AuthUserRequest{
		Realm: auth.RealmBackend, SessionID: testSession, Host: "cms.example.com",
		User: &model.LocalUser{
			Username: "jane.editor", OIDCIdentifier: "idp-user-7",
			Usergroup: "3", LockToDomain: "CMS.Example.Com",
		},
	})

	require.NoError(t, err)
	assert.Equal(t, auth.DecisionGranted, decision)
}

func TestAuthUser_GrantsAdminWithoutGroups(t *testing.T) {
	f := newReconcileFixture(t, bothRealmsEnabled())
	f.cacheIdentity(t, editorClaims())

	decision, err := f.rec.AuthUser(context.Background(), AuthUserRequest{
		Realm: auth.RealmBackend, SessionID: testSession, Host: "cms.example.com",
		User: &model.LocalUser{Username: "jane.editor", OIDCIdentifier: "idp-user-7", Admin: true},
	})

	require.NoError(t, err)
	assert.Equal(t, auth.DecisionGranted, decision)
}

func TestAuthUser_FrontendAdminFlagDoesNotGrant(t *testing.T) {
	f := newReconcileFixture(t, bothRealmsEnabled())
	f.cacheIdentity(t, editorClaims())
	ctx := context.Background()

	decision, err := f.rec.AuthUser(ctx, AuthUserRequest{
		Realm: auth.RealmFrontend, SessionID: testSession, Host: "cms.example.com",
		User: &model.LocalUser{Username: "jane.editor", OIDCIdentifier: "idp-user-7", Admin: true},
	})

	require.NoError(t, err)
	assert.Equal(t, auth.DecisionDenied, decision)
}

func TestAuthUser_GrantsConfiguredFrontendUser(t *testing.T) {
	f := newReconcileFixture(t, bothRealmsEnabled())
	f.cacheIdentity(t, editorClaims())

	decision, err := f.rec.AuthUser(context.Background(), AuthUserRequest{
		Realm: auth.RealmFrontend, SessionID: testSession, Host: "cms.example.com",
		User: &model.LocalUser{Username: "jane.editor", OIDCIdentifier: "idp-user-7", Usergroup: "4"},
	})

	require.NoError(t, err)
	assert.Equal(t, auth.DecisionGranted, decision)
}
