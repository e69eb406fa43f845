package config

// OAuthConfig contains the OAuth2/OIDC client configuration shared by both
// realms. All endpoints are explicit; when DiscoveryURL is set the authorize
// and token endpoints are resolved from the discovery document instead.
type OAuthConfig struct {
	ClientID     string   `env:"CLIENT_ID"`
	ClientSecret string   `env:"CLIENT_SECRET"`
	Scopes       []string `env:"SCOPES"             envSeparator:"," envDefault:"openid,profile,email"`
	RedirectURL  string   `env:"REDIRECT_URL"`

	AuthorizeEndpoint string `env:"AUTHORIZE_ENDPOINT"`
	TokenEndpoint     string `env:"TOKEN_ENDPOINT"`
	UserInfoEndpoint  string `env:"USERINFO_ENDPOINT"`
	LogoutEndpoint    string `env:"LOGOUT_ENDPOINT"`
	DiscoveryURL      string `env:"DISCOVERY_URL"`
}

// ClaimConfig names the identity-provider claims this service reads.
// Claim names are JMESPath expressions evaluated over the merged claim set.
type ClaimConfig struct {
	// Identifier is the durable external key joining the remote identity
	// to a local user record.
	Identifier string `env:"IDENTIFIER" envDefault:"sub"`

	// PrincipalName is used to synthesize usernames; falls back to the
	// identifier claim when absent from the payload.
	PrincipalName string `env:"PRINCIPAL_NAME" envDefault:"preferred_username"`

	// Roles holds the IdP role list. Some providers emit "Roles" instead;
	// the case-swapped variant is tried automatically.
	Roles string `env:"ROLES" envDefault:"roles"`

	// AdminRole is the role value granting the backend admin flag.
	AdminRole string `env:"ADMIN_ROLE"`
}

// RealmPolicyConfig holds the per-realm provisioning policy flags.
type RealmPolicyConfig struct {
	Enabled          bool    `env:"ENABLED"            envDefault:"false"`
	MustExistLocally bool    `env:"MUST_EXIST_LOCALLY" envDefault:"false"`
	ReEnableUsers    bool    `env:"REENABLE_USERS"     envDefault:"false"`
	UndeleteUsers    bool    `env:"UNDELETE_USERS"     envDefault:"false"`
	DefaultGroups    []int64 `env:"DEFAULT_GROUPS"     envSeparator:","`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	OAuth  OAuthConfig `envPrefix:"OAUTH_"`
	Claims ClaimConfig `envPrefix:"CLAIM_"`

	// Per-realm provisioning policies.
	Backend  RealmPolicyConfig `envPrefix:"BACKEND_"`
	Frontend RealmPolicyConfig `envPrefix:"FRONTEND_"`

	// AdminPathPrefix is the host path under which the administrative UI is
	// mounted; referrers matching it are treated as backend logins.
	AdminPathPrefix string `env:"ADMIN_PATH_PREFIX" envDefault:"/admin"`
}
