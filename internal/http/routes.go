package httpx

import (
	"log/slog"
	"net/http"

	"github.com/sitekit/oidc-login/internal/service"
)

// RouterServices holds all the services needed by the HTTP router.
type RouterServices struct {
	Login           *service.LoginService
	Status          *service.StatusChecker
	Reconciler      *service.Reconciler
	CookieDomain    string
	AdminPathPrefix string
	Logger          *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(services RouterServices) http.Handler {
	logger := services.Logger
	if logger == nil {
		logger = slog.Default()
	}

	authHandlers := &AuthHandlers{
		Login:           services.Login,
		Status:          services.Status,
		Reconciler:      services.Reconciler,
		CookieDomain:    services.CookieDomain,
		AdminPathPrefix: services.AdminPathPrefix,
		Logger:          logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.HandleFunc("HEAD /healthz", healthHandler)
	mux.HandleFunc("GET /oidc/authentication", authHandlers.Authentication)
	mux.HandleFunc("POST /oidc/authentication", authHandlers.Authentication)
	mux.HandleFunc("GET /oidc/callback", authHandlers.Callback)
	mux.HandleFunc("POST /oidc/login", authHandlers.AuthCheck)
	mux.HandleFunc("GET /oidc/status", authHandlers.StatusHandler)

	var handler http.Handler = mux
	handler = Logging(logger)(handler)
	handler = Recover(logger)(handler)
	return handler
}
