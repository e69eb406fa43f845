package config

import "time"

// DBConfig contains PostgreSQL database configuration for the local user store.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"oidclogin"`
	Password string `env:"PASSWORD" envDefault:"oidclogin"`
	Name     string `env:"NAME"     envDefault:"oidclogin"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
}

// RedisConfig contains Redis configuration for the browser-session store.
type RedisConfig struct {
	Addr               string   `env:"ADDR"                 envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:""`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`

	// SessionTTL bounds how long transient login state (CSRF nonce, pending
	// referrer) survives between the redirect to the IdP and the callback.
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"10m"`

	// IdentityTTL bounds how long a cached identity survives before the host
	// consumes it through the user-lookup phase.
	IdentityTTL time.Duration `env:"IDENTITY_TTL" envDefault:"1h"`
}
