package auth

// Package auth contains simple hand-written test doubles for the login
// flow ports. These are lightweight and suitable for unit tests without
// codegen.

import (
	"context"
	"fmt"
	"strings"
	"sync"

	domainauth "github.com/sitekit/oidc-login/internal/domain/auth"
	"github.com/sitekit/oidc-login/internal/domain/model"
	"github.com/sitekit/oidc-login/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.SessionStore = (*MemorySessionStore)(nil)
	_ ports.OAuthClient  = (*MockOAuthClient)(nil)
	_ ports.UserStore    = (*MemoryUserStore)(nil)
)

// MemorySessionStore is an in-memory SessionStore. Take is atomic under the
// store mutex, matching the at-most-once semantics of the Redis adapter.
type MemorySessionStore struct {
	mu   sync.Mutex
	data map[string]map[string]string
}

// NewMemorySessionStore creates an empty store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{data: make(map[string]map[string]string)}
}

func (s *MemorySessionStore) Has(_ context.Context, sessionID, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[sessionID][key]
	return ok, nil
}

func (s *MemorySessionStore) Get(_ context.Context, sessionID, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[sessionID][key]
	if !ok {
		return "", ports.ErrNotFound
	}
	return v, nil
}

func (s *MemorySessionStore) Set(_ context.Context, sessionID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[sessionID] == nil {
		s.data[sessionID] = make(map[string]string)
	}
	s.data[sessionID][key] = value
	return nil
}

func (s *MemorySessionStore) Replace(ctx context.Context, sessionID, key, value string) error {
	return s.Set(ctx, sessionID, key, value)
}

func (s *MemorySessionStore) Remove(_ context.Context, sessionID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[sessionID], key)
	return nil
}

func (s *MemorySessionStore) Take(_ context.Context, sessionID, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[sessionID][key]
	if !ok {
		return "", ports.ErrNotFound
	}
	delete(s.data[sessionID], key)
	return v, nil
}

// MockOAuthClient simulates the IdP exchange with deterministic values.
// Any of the Func fields overrides the default behavior.
type MockOAuthClient struct {
	AuthorizeURLFunc  func(ctx context.Context) (string, string, error)
	ExchangeCodeFunc  func(ctx context.Context, code string) (ports.Token, error)
	ResourceOwnerFunc func(ctx context.Context, tok ports.Token) (map[string]any, error)
	IDTokenClaimsFunc func(tok ports.Token) (map[string]any, error)

	AuthURL string
	// Claims returned by ResourceOwner by default.
	Claims map[string]any
	// Logout is returned by LogoutURL.
	Logout string

	callCount int
}

// NewMockOAuthClient creates a MockOAuthClient with sensible defaults.
func NewMockOAuthClient() *MockOAuthClient {
	return &MockOAuthClient{
		AuthURL: "https://mock-idp/auth",
		Claims: map[string]any{
			"sub":                "mock-user-1",
			"preferred_username": "Mock.User",
			"email":              "mock.user@example.com",
			"name":               "Mock User",
			"roles":              []any{"users"},
		},
	}
}

func (m *MockOAuthClient) AuthorizeURL(ctx context.Context) (string, string, error) {
	if m.AuthorizeURLFunc != nil {
		return m.AuthorizeURLFunc(ctx)
	}
	m.callCount++
	state := fmt.Sprintf("state-%d", m.callCount)
	return m.AuthURL + "?state=" + state, state, nil
}

func (m *MockOAuthClient) ExchangeCode(ctx context.Context, code string) (ports.Token, error) {
	if m.ExchangeCodeFunc != nil {
		return m.ExchangeCodeFunc(ctx, code)
	}
	return ports.Token{AccessToken: "access-" + code}, nil
}

func (m *MockOAuthClient) ResourceOwner(ctx context.Context, tok ports.Token) (map[string]any, error) {
	if m.ResourceOwnerFunc != nil {
		return m.ResourceOwnerFunc(ctx, tok)
	}
	return m.Claims, nil
}

func (m *MockOAuthClient) IDTokenClaims(tok ports.Token) (map[string]any, error) {
	if m.IDTokenClaimsFunc != nil {
		return m.IDTokenClaimsFunc(tok)
	}
	return nil, nil
}

func (m *MockOAuthClient) LogoutURL() string { return m.Logout }

// MemoryUserStore is an in-memory UserStore keyed by realm. Group lookups
// apply the same domain-lock filter as the SQL repository.
type MemoryUserStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[domainauth.Realm][]*model.LocalUser
	groups map[domainauth.Realm][]model.UserGroup
}

// NewMemoryUserStore creates an empty store.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		nextID: 1,
		users:  make(map[domainauth.Realm][]*model.LocalUser),
		groups: make(map[domainauth.Realm][]model.UserGroup),
	}
}

// AddGroup seeds a group record.
func (s *MemoryUserStore) AddGroup(realm domainauth.Realm, g model.UserGroup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[realm] = append(s.groups[realm], g)
}

// AddUser seeds a user record, assigning an id when absent.
func (s *MemoryUserStore) AddUser(realm domainauth.Realm, u model.LocalUser) *model.LocalUser {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.nextID
		s.nextID++
	} else if u.ID >= s.nextID {
		s.nextID = u.ID + 1
	}
	stored := u
	s.users[realm] = append(s.users[realm], &stored)
	return &stored
}

func (s *MemoryUserStore) FindByOIDCIdentifier(_ context.Context, realm domainauth.Realm, identifier string) (*model.LocalUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users[realm] {
		if u.OIDCIdentifier == identifier {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ports.ErrNotFound
}

func (s *MemoryUserStore) Insert(_ context.Context, realm domainauth.Realm, user model.LocalUser) (*model.LocalUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user.ID = s.nextID
	s.nextID++
	stored := user
	s.users[realm] = append(s.users[realm], &stored)
	cp := stored
	return &cp, nil
}

func (s *MemoryUserStore) Update(_ context.Context, realm domainauth.Realm, user *model.LocalUser) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, u := range s.users[realm] {
		if u.ID == user.ID {
			cp := *user
			s.users[realm][i] = &cp
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryUserStore) GroupsByIDs(_ context.Context, realm domainauth.Realm, q ports.GroupQuery) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for _, g := range s.groups[realm] {
		if !containsID(q.IDs, g.ID) {
			continue
		}
		if domainLockAdmits(g.LockToDomain, q.Host) {
			out = append(out, g.ID)
		}
	}
	return out, nil
}

func (s *MemoryUserStore) GroupsByExternalRole(_ context.Context, realm domainauth.Realm, q ports.GroupQuery) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int64
	for _, g := range s.groups[realm] {
		if g.ExternalIdentifier == "" || !containsString(q.Roles, g.ExternalIdentifier) {
			continue
		}
		if domainLockAdmits(g.LockToDomain, q.Host) {
			out = append(out, g.ID)
		}
	}
	return out, nil
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func containsString(vals []string, s string) bool {
	for _, v := range vals {
		if v == s {
			return true
		}
	}
	return false
}

func domainLockAdmits(lock, host string) bool {
	return lock == "" || strings.EqualFold(lock, host)
}
