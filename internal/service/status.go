package service

import (
	"github.com/sitekit/oidc-login/internal/domain/auth"
)

// ProviderSettings is the flow-facing view of the OAuth client and claim
// configuration, decoupled from the env-tag config structs.
type ProviderSettings struct {
	ClientID     string
	ClientSecret string
	Scopes       []string

	AuthorizeEndpoint string
	TokenEndpoint     string
	UserInfoEndpoint  string
	LogoutEndpoint    string
	DiscoveryURL      string

	Claims auth.ClaimNames
	// AdminRole is the IdP role value granting the backend admin flag.
	AdminRole string
}

// StatusChecker decides whether OIDC login is available for a realm. Checks
// run in a fixed order so operators always see the first unmet requirement,
// under a stable code.
type StatusChecker struct {
	settings ProviderSettings
	policies map[auth.Realm]auth.RealmPolicy

	// allowInsecure disables the HTTPS requirement for local development.
	allowInsecure bool
}

// NewStatusChecker creates a StatusChecker for the given settings and
// per-realm policies.
func NewStatusChecker(settings ProviderSettings, policies map[auth.Realm]auth.RealmPolicy, allowInsecure bool) *StatusChecker {
	return &StatusChecker{settings: settings, policies: policies, allowInsecure: allowInsecure}
}

// CheckEnabled reports whether login is available for the realm. It returns
// (false, nil) when the realm is configured but switched off, and a
// FlowError when a requirement is unmet.
func (c *StatusChecker) CheckEnabled(realm auth.Realm, reqCtx auth.RequestContext) (bool, error) {
	policy, ok := c.policies[realm]
	if !ok || !realm.Valid() {
		return false, flowErr(ErrUnsupportedRealm, CodeUnsupportedRealm, "unsupported realm \""+string(realm)+"\"")
	}

	if !reqCtx.Secure && !c.allowInsecure {
		return false, flowErr(ErrTransport, CodeInsecureTransport, "authentication requires a secure connection")
	}

	if err := c.checkSettings(); err != nil {
		return false, err
	}

	return policy.Enabled, nil
}

// Policy returns the provisioning policy for realm. The zero policy is
// returned for unknown realms; callers are expected to have passed
// CheckEnabled first.
func (c *StatusChecker) Policy(realm auth.Realm) auth.RealmPolicy {
	return c.policies[realm]
}

// Settings exposes the provider settings for handlers that render a
// configuration summary.
func (c *StatusChecker) Settings() ProviderSettings {
	return c.settings
}

func (c *StatusChecker) checkSettings() error {
	s := c.settings
	discovered := s.DiscoveryURL != ""

	if s.ClientID == "" {
		return flowErr(ErrConfiguration, CodeMissingClientID, "no OAuth client id configured")
	}
	if s.ClientSecret == "" {
		return flowErr(ErrConfiguration, CodeMissingClientSecret, "no OAuth client secret configured")
	}
	if len(s.Scopes) == 0 {
		return flowErr(ErrConfiguration, CodeMissingScopes, "no OAuth scopes configured")
	}
	if s.AuthorizeEndpoint == "" && !discovered {
		return flowErr(ErrConfiguration, CodeMissingAuthorizeURL, "no authorization endpoint configured")
	}
	if s.TokenEndpoint == "" && !discovered {
		return flowErr(ErrConfiguration, CodeMissingTokenURL, "no token endpoint configured")
	}
	if s.UserInfoEndpoint == "" && !discovered {
		return flowErr(ErrConfiguration, CodeMissingUserInfoURL, "no user info endpoint configured")
	}
	if s.Claims.Identifier == "" {
		return flowErr(ErrConfiguration, CodeMissingIdentifierClaim, "no identifier claim configured")
	}
	return nil
}
