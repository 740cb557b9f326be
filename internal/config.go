package internal

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/relink/internal/render"
	"github.com/starford/relink/internal/swr"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendSQLite = "sqlite"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Archive ArchiveConfig     `yaml:"archive"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Relays  RelaysConfig      `yaml:"relays"`
	Cache   CacheConfig       `yaml:"cache"`
	Render  RenderConfig      `yaml:"render"`
	Site    SiteConfig        `yaml:"site"`
	Auth    AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	for _, v := range []validation.Validatable{
		&c.App, &c.Archive, &c.SQLite, &c.Relays, &c.Cache, &c.Render, &c.Auth,
	} {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// ArchiveConfig holds the path to the directory of archived event files.
type ArchiveConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// Validate validates the archive configuration.
func (c *ArchiveConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// RelaysConfig lists the relays queried for events missing locally. An
// empty list runs the service on the local archive alone.
type RelaysConfig struct {
	URLs         []string      `yaml:"urls"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	MaxEvents    int           `yaml:"max_events"`
}

// Validate validates the relay configuration.
func (c *RelaysConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.URLs, validation.Each(validation.By(relayURL))),
		validation.Field(&c.QueryTimeout, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxEvents, validation.Min(0)),
	)
}

func relayURL(value any) error {
	s, _ := value.(string)
	if !strings.HasPrefix(s, "ws://") && !strings.HasPrefix(s, "wss://") {
		return fmt.Errorf("must be a ws:// or wss:// URL")
	}
	return nil
}

// TierConfig holds the freshness tiers of one family of cache keys.
type TierConfig struct {
	Fresh time.Duration `yaml:"fresh"`
	Stale time.Duration `yaml:"stale"`
}

// Policy converts the tiers to a cache policy.
func (c TierConfig) Policy() swr.Policy {
	return swr.Policy{Fresh: c.Fresh, Stale: c.Stale}
}

// Validate validates the tiers.
func (c TierConfig) Validate() error {
	if c.Fresh <= 0 || c.Stale < c.Fresh {
		return fmt.Errorf("fresh must be positive and not exceed stale (fresh=%s, stale=%s)", c.Fresh, c.Stale)
	}
	return nil
}

// CacheConfig configures the stale-while-revalidate cache.
type CacheConfig struct {
	Backend        string        `yaml:"backend"`
	Workers        int           `yaml:"workers"`
	PlaceholderTTL time.Duration `yaml:"placeholder_ttl"`
	Retention      time.Duration `yaml:"retention"`
	PruneInterval  time.Duration `yaml:"prune_interval"`
	Documents      TierConfig    `yaml:"documents"`
	Sites          TierConfig    `yaml:"sites"`
}

// Validate validates the cache configuration.
func (c *CacheConfig) Validate() error {
	if c.Backend == "" {
		c.Backend = CacheBackendMemory
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Backend, validation.In(CacheBackendMemory, CacheBackendSQLite)),
		validation.Field(&c.Workers, validation.Min(0)),
		validation.Field(&c.Documents),
		validation.Field(&c.Sites),
	)
}

// RenderConfig holds the link prefixes rendered references point at.
type RenderConfig struct {
	ProfilePath  string `yaml:"profile_path"`
	MessagePath  string `yaml:"message_path"`
	ArticlePath  string `yaml:"article_path"`
	DocumentPath string `yaml:"document_path"`
}

// Validate validates the render configuration.
func (c *RenderConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ProfilePath, validation.By(linkPrefix)),
		validation.Field(&c.MessagePath, validation.By(linkPrefix)),
		validation.Field(&c.ArticlePath, validation.By(linkPrefix)),
		validation.Field(&c.DocumentPath, validation.By(linkPrefix)),
	)
}

func linkPrefix(value any) error {
	s, _ := value.(string)
	if s != "" && (!strings.HasPrefix(s, "/") || !strings.HasSuffix(s, "/")) {
		return fmt.Errorf("must start and end with /")
	}
	return nil
}

// Paths returns the render link prefixes; empty fields keep their defaults.
func (c *RenderConfig) Paths() render.Paths {
	return render.Paths{
		Profile:  c.ProfilePath,
		Message:  c.MessagePath,
		Article:  c.ArticlePath,
		Document: c.DocumentPath,
	}
}

// SiteConfig names the publication index served by default. Coordinate
// accepts kind:author:slug or a legacy naddr address.
type SiteConfig struct {
	Coordinate string `yaml:"coordinate"`
	Theme      string `yaml:"theme"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Archive: ArchiveConfig{
			Path:  "./archive",
			Watch: true,
		},
		SQLite: SQLiteConfig{
			Path: "./relink.db",
		},
		Relays: RelaysConfig{
			QueryTimeout: 5 * time.Second,
			MaxEvents:    500,
		},
		Cache: CacheConfig{
			Backend:        CacheBackendSQLite,
			Workers:        4,
			PlaceholderTTL: swr.DefaultPlaceholderTTL,
			Retention:      swr.DefaultRetention,
			PruneInterval:  time.Hour,
			Documents:      TierConfig{Fresh: 2 * time.Minute, Stale: time.Hour},
			Sites:          TierConfig{Fresh: 5 * time.Minute, Stale: 24 * time.Hour},
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
