// Package config loads the server configuration from environment variables.
//
// One struct, parsed once in main. Every knob has a WIKI_-prefixed env name
// and (where sensible) a default, so a bare `go run ./cmd/server` with a
// sqlite backend works out of the box.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Backend names accepted in WIKI_STORAGE_BACKEND.
const (
	BackendGitHub     = "github"
	BackendCloudflare = "cloudflare"
	BackendSQLite     = "sqlite"
	BackendMigrate    = "migrate"
)

// Config is the full server configuration.
type Config struct {
	Port     int    `env:"WIKI_PORT" envDefault:"8080"`
	LogLevel string `env:"WIKI_LOG_LEVEL" envDefault:"info"`

	// Which storage adapter backs the wiki. "migrate" composes
	// MigrationSource → MigrationTarget.
	StorageBackend string `env:"WIKI_STORAGE_BACKEND" envDefault:"sqlite"`

	// Content types the API accepts. Empty list = any well-formed slug.
	ContentTypes []string `env:"WIKI_CONTENT_TYPES" envSeparator:","`

	// github backend
	GitHubToken string `env:"WIKI_GITHUB_TOKEN"`
	GitHubOwner string `env:"WIKI_GITHUB_OWNER"`
	GitHubRepo  string `env:"WIKI_GITHUB_REPO"`

	// cloudflare backend
	CloudflareAccountID   string `env:"WIKI_CF_ACCOUNT_ID"`
	CloudflareNamespaceID string `env:"WIKI_CF_NAMESPACE_ID"`
	CloudflareToken       string `env:"WIKI_CF_TOKEN"`

	// sqlite backend (content) — separate file from the user DB
	SQLitePath string `env:"WIKI_SQLITE_PATH" envDefault:"data/content.db"`

	// migrate backend
	MigrationSource string `env:"WIKI_MIGRATION_SOURCE" envDefault:"github"`
	MigrationTarget string `env:"WIKI_MIGRATION_TARGET" envDefault:"cloudflare"`
	MigrationMode   string `env:"WIKI_MIGRATION_MODE" envDefault:"read-through"`

	// user accounts
	UserDBPath string `env:"WIKI_USER_DB_PATH" envDefault:"data/users.db"`

	// auth
	JWTSecret          string `env:"WIKI_JWT_SECRET"`
	GitHubClientID     string `env:"WIKI_GITHUB_CLIENT_ID"`
	GitHubClientSecret string `env:"WIKI_GITHUB_CLIENT_SECRET"`
	GitHubCallbackURL  string `env:"WIKI_GITHUB_CALLBACK_URL"`

	// email verification
	VerificationTTLMinutes int `env:"WIKI_VERIFICATION_TTL_MINUTES" envDefault:"15"`
}

// Load parses the environment and validates backend-specific requirements.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	backends := map[string]bool{
		BackendGitHub: true, BackendCloudflare: true,
		BackendSQLite: true, BackendMigrate: true,
	}
	if !backends[c.StorageBackend] {
		return fmt.Errorf("config: unknown storage backend %q", c.StorageBackend)
	}

	needs := []string{c.StorageBackend}
	if c.StorageBackend == BackendMigrate {
		if c.MigrationSource == BackendMigrate || c.MigrationTarget == BackendMigrate {
			return fmt.Errorf("config: migration source/target cannot be %q", BackendMigrate)
		}
		needs = []string{c.MigrationSource, c.MigrationTarget}
	}

	for _, backend := range needs {
		switch backend {
		case BackendGitHub:
			if c.GitHubToken == "" || c.GitHubOwner == "" || c.GitHubRepo == "" {
				return fmt.Errorf("config: github backend requires WIKI_GITHUB_TOKEN, WIKI_GITHUB_OWNER and WIKI_GITHUB_REPO")
			}
		case BackendCloudflare:
			if c.CloudflareAccountID == "" || c.CloudflareNamespaceID == "" || c.CloudflareToken == "" {
				return fmt.Errorf("config: cloudflare backend requires WIKI_CF_ACCOUNT_ID, WIKI_CF_NAMESPACE_ID and WIKI_CF_TOKEN")
			}
		case BackendSQLite:
			// SQLitePath always has a default
		default:
			return fmt.Errorf("config: unknown storage backend %q", backend)
		}
	}

	return nil
}
