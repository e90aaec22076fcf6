package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/inkbuild/internal/build"
	"github.com/starford/inkbuild/internal/resolver"
	"github.com/starford/inkbuild/internal/scan"
	"github.com/starford/inkbuild/internal/watcher"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Workspace WorkspaceConfig   `yaml:"workspace"`
	Build     BuildConfig       `yaml:"build"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Workspace.Validate(); err != nil {
		return err
	}
	if err := c.Build.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
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

// WorkspaceConfig describes the directory of ink scripts and how its files
// are classified.
type WorkspaceConfig struct {
	Root     string   `yaml:"root"`
	Scripts  []string `yaml:"scripts"`
	Bindings []string `yaml:"bindings"`
	// Ignore lists directory globs that are neither scanned nor watched.
	// Leaving it unset keeps the scanner defaults.
	Ignore []string `yaml:"ignore"`
	// Resolution is the include resolution mode: "relative" or "root".
	Resolution string `yaml:"resolution"`
}

var globRule = validation.By(func(v any) error {
	p, _ := v.(string)
	if !doublestar.ValidatePattern(p) {
		return errors.New("invalid glob pattern")
	}
	return nil
})

// Validate validates the workspace configuration.
func (c *WorkspaceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.Scripts, validation.Each(validation.Required, globRule)),
		validation.Field(&c.Bindings, validation.Each(validation.Required, globRule)),
		validation.Field(&c.Ignore, validation.Each(validation.Required, globRule)),
		validation.Field(&c.Resolution, validation.In(string(resolver.ModeRelative), string(resolver.ModeRootRelative))),
	)
}

// Mode returns the include resolution mode.
func (c *WorkspaceConfig) Mode() resolver.Mode {
	m, err := resolver.ParseMode(c.Resolution)
	if err != nil {
		return resolver.ModeRelative
	}
	return m
}

// BuildConfig holds compile, cache and emission settings.
type BuildConfig struct {
	// Compiler is the inklecate binary; empty means "inklecate" on PATH.
	Compiler      string        `yaml:"compiler"`
	CacheCapacity int           `yaml:"cache_capacity"`
	Debounce      time.Duration `yaml:"debounce"`
	Emit          bool          `yaml:"emit"`
	OutDir        string        `yaml:"out_dir"`
	// EventThrottle is the minimum interval between graph.updated events.
	EventThrottle time.Duration `yaml:"event_throttle"`
}

// Validate validates the build configuration.
func (c *BuildConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.CacheCapacity, validation.Required, validation.Min(1)),
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
		validation.Field(&c.EventThrottle, validation.Min(time.Duration(0))),
		validation.Field(&c.OutDir, validation.When(c.Emit, validation.Required)),
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
	// Normalise empty mode to "disabled".
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
		Workspace: WorkspaceConfig{
			Root:       ".",
			Scripts:    scan.DefaultScripts,
			Bindings:   scan.DefaultBindings,
			Ignore:     scan.DefaultIgnore,
			Resolution: string(resolver.ModeRelative),
		},
		Build: BuildConfig{
			Compiler:      "inklecate",
			CacheCapacity: build.DefaultCacheCapacity,
			Debounce:      watcher.DefaultDebounce,
			OutDir:        "out",
			EventThrottle: 2 * time.Second,
		},
		SQLite: SQLiteConfig{
			Path: "./inkbuild.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
