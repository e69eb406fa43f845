package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sitekit/oidc-login/config"
	"github.com/sitekit/oidc-login/internal/adapters/oauth"
	redisadapter "github.com/sitekit/oidc-login/internal/adapters/redis"
	"github.com/sitekit/oidc-login/internal/data"
	"github.com/sitekit/oidc-login/internal/domain/auth"
	"github.com/sitekit/oidc-login/internal/service"
)

// ServiceContainer holds the constructed application services.
type ServiceContainer struct {
	Login      *service.LoginService
	Status     *service.StatusChecker
	Reconciler *service.Reconciler
}

// ServiceDeps groups the external dependencies the services are built on.
type ServiceDeps struct {
	Cfg    config.AppConfig
	DB     *sql.DB
	Redis  goredis.UniversalClient
	Logger *slog.Logger
}

// BuildServices wires adapters and services from configuration.
func BuildServices(ctx context.Context, deps ServiceDeps) (ServiceContainer, error) {
	cfg := deps.Cfg

	sessions := redisadapter.NewSessionStore(deps.Redis, cfg.Redis.SessionTTL).
		WithFieldTTL(service.SessionKeyIdentity, cfg.Redis.IdentityTTL).
		WithFieldTTL(service.SessionKeyAccessDenied, cfg.Redis.IdentityTTL)

	redirectURL := cfg.Auth.OAuth.RedirectURL
	if redirectURL == "" {
		redirectURL = strings.TrimSuffix(cfg.HTTP.BaseURL, "/") + "/oidc/callback"
	}

	oauthClient, err := oauth.NewClient(ctx, oauth.ClientConfig{
		ClientID:          cfg.Auth.OAuth.ClientID,
		ClientSecret:      cfg.Auth.OAuth.ClientSecret,
		RedirectURL:       redirectURL,
		Scopes:            cfg.Auth.OAuth.Scopes,
		AuthorizeEndpoint: cfg.Auth.OAuth.AuthorizeEndpoint,
		TokenEndpoint:     cfg.Auth.OAuth.TokenEndpoint,
		UserInfoEndpoint:  cfg.Auth.OAuth.UserInfoEndpoint,
		LogoutEndpoint:    cfg.Auth.OAuth.LogoutEndpoint,
		DiscoveryURL:      cfg.Auth.OAuth.DiscoveryURL,
	})
	if err != nil {
		return ServiceContainer{}, fmt.Errorf("build oauth client: %w", err)
	}

	status := service.NewStatusChecker(
		providerSettings(cfg.Auth),
		realmPolicies(cfg.Auth),
		cfg.IsDev,
	)

	login := service.NewLoginService(sessions, oauthClient, status, cfg.Auth.AdminPathPrefix, deps.Logger)
	reconciler := service.NewReconciler(data.NewUserRepo(deps.DB), sessions, status, deps.Logger)

	return ServiceContainer{Login: login, Status: status, Reconciler: reconciler}, nil
}

func providerSettings(a config.AuthConfig) service.ProviderSettings {
	return service.ProviderSettings{
		ClientID:          a.OAuth.ClientID,
		ClientSecret:      a.OAuth.ClientSecret,
		Scopes:            a.OAuth.Scopes,
		AuthorizeEndpoint: a.OAuth.AuthorizeEndpoint,
		TokenEndpoint:     a.OAuth.TokenEndpoint,
		UserInfoEndpoint:  a.OAuth.UserInfoEndpoint,
		LogoutEndpoint:    a.OAuth.LogoutEndpoint,
		DiscoveryURL:      a.OAuth.DiscoveryURL,
		Claims: auth.ClaimNames{
			Identifier:    a.Claims.Identifier,
			PrincipalName: a.Claims.PrincipalName,
			Roles:         a.Claims.Roles,
		},
		AdminRole: a.Claims.AdminRole,
	}
}

func realmPolicies(a config.AuthConfig) map[auth.Realm]auth.RealmPolicy {
	return map[auth.Realm]auth.RealmPolicy{
		auth.RealmBackend:  realmPolicy(a.Backend),
		auth.RealmFrontend: realmPolicy(a.Frontend),
	}
}

func realmPolicy(p config.RealmPolicyConfig) auth.RealmPolicy {
	return auth.RealmPolicy{
		Enabled:          p.Enabled,
		MustExistLocally: p.MustExistLocally,
		ReEnableUsers:    p.ReEnableUsers,
		UndeleteUsers:    p.UndeleteUsers,
		DefaultGroups:    p.DefaultGroups,
	}
}
