package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sitekit/oidc-login/internal/ports"
)

const sessionKeyPrefix = "oidcsession:"

// SessionStore keeps per-session key/value state in Redis. Each field is a
// separate Redis string so every field carries its own TTL.
type SessionStore struct {
	client    goredis.UniversalClient
	ttl       time.Duration
	fieldTTLs map[string]time.Duration
}

// NewSessionStore creates a session store with the given default TTL.
func NewSessionStore(client goredis.UniversalClient, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl, fieldTTLs: map[string]time.Duration{}}
}

// WithFieldTTL overrides the TTL for one field. Longer-lived entries (the
// cached identity) outlive the transient flow state this way.
func (s *SessionStore) WithFieldTTL(field string, ttl time.Duration) *SessionStore {
	s.fieldTTLs[field] = ttl
	return s
}

func (s *SessionStore) ttlFor(field string) time.Duration {
	if ttl, ok := s.fieldTTLs[field]; ok {
		return ttl
	}
	return s.ttl
}

func sessionKey(sessionID, field string) string {
	return sessionKeyPrefix + sessionID + ":" + field
}

// Has reports whether the field exists for the session.
func (s *SessionStore) Has(ctx context.Context, sessionID, field string) (bool, error) {
	n, err := s.client.Exists(ctx, sessionKey(sessionID, field)).Result()
	if err != nil {
		return false, fmt.Errorf("session exists: %w", err)
	}
	return n > 0, nil
}

// Get returns the field value, or ports.ErrNotFound.
func (s *SessionStore) Get(ctx context.Context, sessionID, field string) (string, error) {
	v, err := s.client.Get(ctx, sessionKey(sessionID, field)).Result()
	if err != nil {
		return "", notFoundError(err, "session get")
	}
	return v, nil
}

// Set stores the field value with the field's TTL.
func (s *SessionStore) Set(ctx context.Context, sessionID, field, value string) error {
	if err := s.client.Set(ctx, sessionKey(sessionID, field), value, s.ttlFor(field)).Err(); err != nil {
		return fmt.Errorf("session set: %w", err)
	}
	return nil
}

// Replace overwrites the field value, keeping the store's TTL semantics.
func (s *SessionStore) Replace(ctx context.Context, sessionID, field, value string) error {
	return s.Set(ctx, sessionID, field, value)
}

// Remove deletes the field. Removing an absent field is not an error.
func (s *SessionStore) Remove(ctx context.Context, sessionID, field string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID, field)).Err(); err != nil {
		return fmt.Errorf("session remove: %w", err)
	}
	return nil
}

// Take atomically reads and deletes the field, so a value can be consumed
// at most once even under concurrent callbacks.
func (s *SessionStore) Take(ctx context.Context, sessionID, field string) (string, error) {
	v, err := s.client.GetDel(ctx, sessionKey(sessionID, field)).Result()
	if err != nil {
		return "", notFoundError(err, "session take")
	}
	return v, nil
}

func notFoundError(err error, op string) error {
	if errors.Is(err, goredis.Nil) {
		return ports.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ ports.SessionStore = (*SessionStore)(nil)
