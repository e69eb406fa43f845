package oauth

// Package oauth adapts golang.org/x/oauth2 (and optionally coreos/go-oidc
// discovery) to the ports.OAuthClient interface.

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/sitekit/oidc-login/internal/ports"
	"golang.org/x/oauth2"
)

// Client implements ports.OAuthClient against a generic OIDC provider.
type Client struct {
	config           *oauth2.Config
	userInfoEndpoint string
	logoutURL        string
	httpClient       *http.Client

	// provider is set only when endpoints were discovered; its UserInfo
	// helper is preferred over the raw endpoint fetch.
	provider *gooidc.Provider
}

// ClientConfig holds configuration for the OAuth client.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// Explicit endpoints. Ignored for authorize/token when DiscoveryURL is
	// set; the userinfo endpoint is likewise discovered when available.
	AuthorizeEndpoint string
	TokenEndpoint     string
	UserInfoEndpoint  string
	LogoutEndpoint    string
	DiscoveryURL      string

	HTTPClient *http.Client // Optional, defaults to a 30s-timeout client
}

// NewClient creates a new OAuth client. When cfg.DiscoveryURL is set the
// authorize/token/userinfo endpoints are resolved from the provider's
// discovery document; otherwise the explicit endpoints are used as-is.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if cfg.ClientSecret == "" {
		return nil, errors.New("client secret is required")
	}
	if cfg.RedirectURL == "" {
		return nil, errors.New("redirect URL is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	c := &Client{
		userInfoEndpoint: cfg.UserInfoEndpoint,
		logoutURL:        cfg.LogoutEndpoint,
		httpClient:       httpClient,
	}

	endpoint := oauth2.Endpoint{
		AuthURL:  cfg.AuthorizeEndpoint,
		TokenURL: cfg.TokenEndpoint,
	}

	if cfg.DiscoveryURL != "" {
		issuer := trimDiscoverySuffix(cfg.DiscoveryURL)
		ctx = gooidc.ClientContext(ctx, httpClient)
		op, err := gooidc.NewProvider(ctx, issuer)
		if err != nil {
			return nil, fmt.Errorf("oidc discovery: %w", err)
		}
		c.provider = op
		endpoint = op.Endpoint()
	} else if cfg.AuthorizeEndpoint == "" || cfg.TokenEndpoint == "" {
		return nil, errors.New("authorize and token endpoints are required without discovery")
	}

	c.config = &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       cfg.Scopes,
		Endpoint:     endpoint,
	}

	return c, nil
}

// AuthorizeURL builds the IdP authorize URL with a fresh random state nonce.
func (c *Client) AuthorizeURL(_ context.Context) (string, string, error) {
	state, err := generateRandomString(32)
	if err != nil {
		return "", "", fmt.Errorf("generate state: %w", err)
	}

	authURL := c.config.AuthCodeURL(state,
		oauth2.SetAuthURLParam("response_type", "code"),
	)
	return authURL, state, nil
}

// ExchangeCode swaps an authorization code for a token.
func (c *Client) ExchangeCode(ctx context.Context, code string) (ports.Token, error) {
	if code == "" {
		return ports.Token{}, errors.New("authorization code is required")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.config.Exchange(ctx, code)
	if err != nil {
		return ports.Token{}, fmt.Errorf("exchange code for token: %w", err)
	}

	out := ports.Token{
		AccessToken: tok.AccessToken,
		Expiry:      tok.Expiry,
	}
	if raw, ok := tok.Extra("id_token").(string); ok {
		out.IDToken = raw
	}
	return out, nil
}

// ResourceOwner fetches the userinfo claims for the token.
func (c *Client) ResourceOwner(ctx context.Context, tok ports.Token) (map[string]any, error) {
	if tok.AccessToken == "" {
		return nil, errors.New("access token is required")
	}

	if c.provider != nil {
		ctx = gooidc.ClientContext(ctx, c.httpClient)
		src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok.AccessToken})
		ui, err := c.provider.UserInfo(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("fetch user info: %w", err)
		}
		var claims map[string]any
		if claimsErr := ui.Claims(&claims); claimsErr != nil {
			return nil, fmt.Errorf("decode user info: %w", claimsErr)
		}
		return claims, nil
	}

	return c.fetchUserInfo(ctx, tok.AccessToken)
}

// IDTokenClaims decodes the payload segment of the id_token without
// verifying the signature. Returns nil when the token carried no id_token.
func (c *Client) IDTokenClaims(tok ports.Token) (map[string]any, error) {
	if tok.IDToken == "" {
		return nil, nil
	}

	segments := strings.Split(tok.IDToken, ".")
	if len(segments) < 2 || segments[1] == "" {
		return nil, fmt.Errorf("%w: expected JWT structure", ports.ErrMalformedIDToken)
	}

	payload, err := decodeSegment(segments[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrMalformedIDToken, err)
	}

	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrMalformedIDToken, err)
	}
	return claims, nil
}

// LogoutURL returns the configured end-session endpoint, or "".
func (c *Client) LogoutURL() string { return c.logoutURL }

func (c *Client) fetchUserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	if c.userInfoEndpoint == "" {
		return nil, errors.New("userinfo endpoint is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build user info request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch user info: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch user info: unexpected status %d", resp.StatusCode)
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("decode user info: %w", err)
	}
	return claims, nil
}

// trimDiscoverySuffix normalizes a discovery URL to the bare issuer.
func trimDiscoverySuffix(discoveryURL string) string {
	issuer := strings.TrimSuffix(discoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	issuer = strings.TrimSuffix(issuer, ".well-known/openid-configuration")
	return strings.TrimSuffix(issuer, "/")
}

// decodeSegment decodes a JWT segment, tolerating both padded and raw
// base64url encodings.
func decodeSegment(seg string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(seg); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(seg)
}

// generateRandomString generates a cryptographically secure URL-safe random string of exact length.
func generateRandomString(length int) (string, error) {
	if length <= 0 {
		return "", nil
	}
	nBytes := (length*3 + 3) / 4
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	s := base64.RawURLEncoding.EncodeToString(b)
	if len(s) < length {
		extra := make([]byte, 1)
		if _, err := rand.Read(extra); err != nil {
			return "", err
		}
		s += base64.RawURLEncoding.EncodeToString(extra)
	}
	return s[:length], nil
}

var _ ports.OAuthClient = (*Client)(nil)
