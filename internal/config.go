package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/zettelink/internal/apperr"
	"github.com/starford/zettelink/internal/embedder"
	"github.com/starford/zettelink/internal/noteservice"
	pkgconfig "github.com/starford/zettelink/pkg/config"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// DefaultConfigPath is used when neither --config nor ZETTELINK_CONFIG is set.
const DefaultConfigPath = "config/config.json"

// ProviderPreset holds the defaults applied when switching provider.
type ProviderPreset struct {
	URL          string
	APIKeyEnv    string
	DefaultModel string
}

// Presets maps provider names to their defaults.
var Presets = map[string]ProviderPreset{
	embedder.Ollama: {URL: "http://localhost:11434", DefaultModel: "mxbai-embed-large"},
	embedder.OpenAI: {URL: "https://api.openai.com/v1", APIKeyEnv: "OPENAI_API_KEY", DefaultModel: "text-embedding-3-small"},
	embedder.Gemini: {URL: "https://generativelanguage.googleapis.com/v1beta", APIKeyEnv: "GEMINI_API_KEY", DefaultModel: "text-embedding-004"},
}

// Config represents the application configuration.
type Config struct {
	Provider         ProviderConfig    `json:"provider" yaml:"provider"`
	Model            string            `json:"model" yaml:"model"`
	MaxInputLength   int               `json:"max_input_length" yaml:"max_input_length"`
	CacheDir         string            `json:"cache_dir" yaml:"cache_dir"`
	CacheBackend     string            `json:"cache_backend" yaml:"cache_backend"`
	DefaultThreshold float64           `json:"default_threshold" yaml:"default_threshold"`
	MaxThreshold     float64           `json:"max_threshold" yaml:"max_threshold"`
	TopK             int               `json:"top_k" yaml:"top_k"`
	SkipDirs         []string          `json:"skip_dirs" yaml:"skip_dirs"`
	SkipFiles        []string          `json:"skip_files" yaml:"skip_files"`
	Concurrency      int               `json:"concurrency" yaml:"concurrency"`
	RequestTimeout   int               `json:"request_timeout" yaml:"request_timeout"` // seconds
	App              ApplicationConfig `json:"app" yaml:"app"`
	Auth             AuthConfig        `json:"auth" yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Provider.Validate(); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.MaxInputLength, validation.Required, validation.Min(1)),
		validation.Field(&c.CacheDir, validation.Required),
		validation.Field(&c.CacheBackend, validation.In(noteservice.BackendJSON, noteservice.BackendSQLite)),
		validation.Field(&c.DefaultThreshold, validation.Min(-1.0), validation.Max(1.0)),
		validation.Field(&c.MaxThreshold, validation.By(func(any) error {
			if c.MaxThreshold <= c.DefaultThreshold || c.MaxThreshold > 1 {
				return errors.New("must be greater than default_threshold and at most 1")
			}
			return nil
		})),
		validation.Field(&c.TopK, validation.Required, validation.Min(1)),
		validation.Field(&c.Concurrency, validation.Required, validation.Min(1)),
		validation.Field(&c.RequestTimeout, validation.Required, validation.Min(1)),
	); err != nil {
		return err
	}
	if err := c.App.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ProviderConfig names the embedding backend.
type ProviderConfig struct {
	Name      string `json:"name" yaml:"name"`
	URL       string `json:"url" yaml:"url"`
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
}

// Validate validates the provider configuration.
func (c *ProviderConfig) Validate() error {
	names := make([]any, 0, len(Presets))
	for _, n := range embedder.Names() {
		names = append(names, n)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Name, validation.Required, validation.In(names...)),
		validation.Field(&c.URL, validation.Required, validation.By(absoluteURL)),
	)
}

func absoluteURL(v any) error {
	s, _ := v.(string)
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("must be an absolute URL")
	}
	return nil
}

// KeyEnv returns the API key environment variable for the provider, falling
// back to the preset. It is empty for providers that need no key.
func (c *ProviderConfig) KeyEnv() string {
	if c.APIKeyEnv != "" {
		return c.APIKeyEnv
	}
	return Presets[c.Name].APIKeyEnv
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `json:"log_level" yaml:"log_level"`
	HTTP     HTTPConfig `json:"http" yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `json:"port" yaml:"port"`
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

// AuthConfig holds authentication configuration for the HTTP API.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local use.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `json:"mode" yaml:"mode"`
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
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
	p := Presets[embedder.Ollama]
	return &Config{
		Provider:         ProviderConfig{Name: embedder.Ollama, URL: p.URL},
		Model:            p.DefaultModel,
		MaxInputLength:   8192,
		CacheDir:         ".embeddings",
		CacheBackend:     noteservice.BackendJSON,
		DefaultThreshold: 0.65,
		MaxThreshold:     0.98,
		TopK:             5,
		SkipDirs: []string{
			".obsidian", ".trash", ".smart-env", ".makemd", ".space",
			".claude", ".embeddings", "Spaces", "templates",
		},
		SkipFiles:      []string{"CLAUDE.md", "Vault.md", "Dashboard.md", "templates.md"},
		Concurrency:    1,
		RequestTimeout: int(embedder.DefaultTimeout / time.Second),
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP:     HTTPConfig{Port: 8080},
		},
		Auth: AuthConfig{Mode: AuthModeDisabled},
	}
}

// LoadConfig reads and validates the config file at path on top of the
// defaults. Every failure wraps apperr.ErrConfiguration.
func LoadConfig(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: config not found: %s", apperr.ErrConfiguration, path)
		}
		return nil, fmt.Errorf("%w: %v", apperr.ErrConfiguration, err)
	}
	return cfg, nil
}

// ApplyPreset switches to the named provider, resetting its URL and key
// variable. The model is reset to the preset default unless keepModel is set.
func (c *Config) ApplyPreset(name string, keepModel bool) error {
	p, ok := Presets[name]
	if !ok {
		return fmt.Errorf("%w: unknown provider %q", apperr.ErrConfiguration, name)
	}
	c.Provider = ProviderConfig{Name: name, URL: p.URL, APIKeyEnv: p.APIKeyEnv}
	if !keepModel {
		c.Model = p.DefaultModel
	}
	return nil
}

// EmbedderConfig returns the provider settings for embedder.New.
func (c *Config) EmbedderConfig() embedder.Config {
	return embedder.Config{
		Name:      c.Provider.Name,
		URL:       c.Provider.URL,
		APIKeyEnv: c.Provider.KeyEnv(),
		Model:     c.Model,
		Timeout:   time.Duration(c.RequestTimeout) * time.Second,
	}
}

// CachePath returns the absolute cache directory for the corpus at root.
func (c *Config) CachePath(root string) string {
	if filepath.IsAbs(c.CacheDir) {
		return c.CacheDir
	}
	return filepath.Join(root, c.CacheDir)
}

// Settings returns the service settings for the corpus at root. The cache
// directory is always excluded from scans.
func (c *Config) Settings(root string) noteservice.Settings {
	skipDirs := append([]string(nil), c.SkipDirs...)
	if base := filepath.Base(c.CachePath(root)); !slices.Contains(skipDirs, base) {
		skipDirs = append(skipDirs, base)
	}
	return noteservice.Settings{
		Model:          c.Model,
		Provider:       c.Provider.Name,
		CacheDir:       c.CachePath(root),
		SkipDirs:       skipDirs,
		SkipFiles:      c.SkipFiles,
		MaxInputLength: c.MaxInputLength,
		Concurrency:    c.Concurrency,
		Threshold:      c.DefaultThreshold,
		MaxThreshold:   c.MaxThreshold,
		TopK:           c.TopK,
	}
}
