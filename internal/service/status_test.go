package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sitekit/oidc-login/internal/domain/auth"
)

func validSettings() ProviderSettings {
	return ProviderSettings{
		ClientID:          "client-1",
		ClientSecret:      "secret-1",
		Scopes:            []string{"openid", "profile"},
		AuthorizeEndpoint: "https://idp.example.com/authorize",
		TokenEndpoint:     "https://idp.example.com/token",
		UserInfoEndpoint:  "https://idp.example.com/userinfo",
		Claims: auth.ClaimNames{
			Identifier:    "sub",
			PrincipalName: "preferred_username",
			Roles:         "roles",
		},
		AdminRole: "cms-admin",
	}
}

func bothRealmsEnabled() map[auth.Realm]auth.RealmPolicy {
	return map[auth.Realm]auth.RealmPolicy{
		auth.RealmBackend:  {Enabled: true},
		auth.RealmFrontend: {Enabled: true},
	}
}

func secureCtx() auth.RequestContext {
	return auth.RequestContext{Host: "cms.example.com", Secure: true}
}

func TestCheckEnabled_UnsupportedRealm(t *testing.T) {
	c := NewStatusChecker(validSettings(), bothRealmsEnabled(), false)

	_, err := c.CheckEnabled("middleware", secureCtx())

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedRealm))
	assert.Equal(t, CodeUnsupportedRealm, CodeOf(err))
}

func TestCheckEnabled_RequiresSecureTransport(t *testing.T) {
	c := NewStatusChecker(validSettings(), bothRealmsEnabled(), false)

	_, err := c.CheckEnabled(auth.RealmBackend, auth.RequestContext{Host: "cms.example.com", Secure: false})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTransport))
	assert.Equal(t, CodeInsecureTransport, CodeOf(err))
}

func TestCheckEnabled_AllowInsecureInDev(t *testing.T) {
	c := NewStatusChecker(validSettings(), bothRealmsEnabled(), true)

	enabled, err := c.CheckEnabled(auth.RealmBackend, auth.RequestContext{Host: "localhost:8080", Secure: false})

	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestCheckEnabled_ConfigurationChecksRunInFixedOrder(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*ProviderSettings)
		wantCode int64
	}{
		{"missing client id", func(s *ProviderSettings) { s.ClientID = "" }, CodeMissingClientID},
		{"missing client secret", func(s *ProviderSettings) { s.ClientSecret = "" }, CodeMissingClientSecret},
		{"missing scopes", func(s *ProviderSettings) { s.Scopes = nil }, CodeMissingScopes},
		{"missing authorize endpoint", func(s *ProviderSettings) { s.AuthorizeEndpoint = "" }, CodeMissingAuthorizeURL},
		{"missing token endpoint", func(s *ProviderSettings) { s.TokenEndpoint = "" }, CodeMissingTokenURL},
		{"missing userinfo endpoint", func(s *ProviderSettings) { s.UserInfoEndpoint = "" }, CodeMissingUserInfoURL},
		{"missing identifier claim", func(s *ProviderSettings) { s.Claims.Identifier = "" }, CodeMissingIdentifierClaim},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := validSettings()
			tt.mutate(&settings)
			c := NewStatusChecker(settings, bothRealmsEnabled(), false)

			_, err := c.CheckEnabled(auth.RealmBackend, secureCtx())

			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfiguration))
			assert.Equal(t, tt.wantCode, CodeOf(err))
		})
	}
}

func TestCheckEnabled_FirstMissingSettingWins(t *testing.T) {
	settings := validSettings()
	settings.ClientSecret = ""
	settings.UserInfoEndpoint = ""
	c := NewStatusChecker(settings, bothRealmsEnabled(), false)

	_, err := c.CheckEnabled(auth.RealmBackend, secureCtx())

	assert.Equal(t, CodeMissingClientSecret, CodeOf(err))
}

func TestCheckEnabled_DiscoverySuppliesEndpoints(t *testing.T) {
	settings := validSettings()
	settings.AuthorizeEndpoint = ""
	settings.TokenEndpoint = ""
	settings.UserInfoEndpoint = ""
	settings.DiscoveryURL = "https://idp.example.com/.well-known/openid-configuration"
	c := NewStatusChecker(settings, bothRealmsEnabled(), false)

	enabled, err := c.CheckEnabled(auth.RealmBackend, secureCtx())

	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestCheckEnabled_DisabledRealmIsNotAnError(t *testing.T) {
	policies := bothRealmsEnabled()
	policies[auth.RealmFrontend] = auth.RealmPolicy{Enabled: false}
	c := NewStatusChecker(validSettings(), policies, false)

	enabled, err := c.CheckEnabled(auth.RealmFrontend, secureCtx())

	require.NoError(t, err)
	assert.False(t, enabled)
}
