package internal

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/blockbase/internal/factory"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App   ApplicationConfig `yaml:"app"`
	Vault VaultConfig       `yaml:"vault"`
	Auth  AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
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

// VaultConfig describes the Markdown vault directory and which of its
// entries become blocks.
type VaultConfig struct {
	Path string `yaml:"path"`
	// Extensions lists the file extensions loaded as notes, with the dot.
	Extensions []string `yaml:"extensions"`
	// SkipHidden drops entries whose name starts with a dot.
	SkipHidden bool `yaml:"skip_hidden"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Extensions, validation.Required, validation.Each(validation.By(extension))),
	)
}

func extension(value any) error {
	s, _ := value.(string)
	if !strings.HasPrefix(s, ".") || len(s) < 2 || strings.ContainsAny(s, `/\`) {
		return validation.NewError("validation_extension", "must look like .md")
	}
	return nil
}

// Filter returns the factory filter matching this configuration.
func (c *VaultConfig) Filter() factory.Filter {
	exts := make([]string, len(c.Extensions))
	for i, e := range c.Extensions {
		exts[i] = strings.ToLower(e)
	}
	skipHidden := c.SkipHidden
	return func(name string, isDir bool) bool {
		if skipHidden && strings.HasPrefix(name, ".") {
			return false
		}
		return isDir || slices.Contains(exts, strings.ToLower(filepath.Ext(name)))
	}
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
	// Normalise empty mode to "disabled" for backward compatibility.
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
		Vault: VaultConfig{
			Path:       "./vault",
			Extensions: []string{".md", ".markdown"},
			SkipHidden: true,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
