// Package embedder is the gateway to the embedding backends. Each backend
// turns one piece of text into a vector with a single HTTP call; callers only
// see the Provider interface.
package embedder

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/starford/zettelink/internal/apperr"
)

// Provider names.
const (
	Ollama = "ollama"
	OpenAI = "openai"
	Gemini = "gemini"
)

// DefaultTimeout bounds a single embedding call.
const DefaultTimeout = 60 * time.Second

// Provider generates vector embeddings from text.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config selects and parameterises a backend.
type Config struct {
	Name      string
	URL       string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
}

// Option customises provider construction.
type Option func(*options)

type options struct {
	client *http.Client
}

// WithHTTPClient replaces the HTTP client (the timeout from Config is not applied to it).
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
	}
}

type factory func(cfg Config, client *http.Client) (Provider, error)

var factories = map[string]factory{
	Ollama: newOllama,
	OpenAI: newOpenAI,
	Gemini: newGemini,
}

// Names returns the supported provider names in sorted order.
func Names() []string {
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// New returns the backend named by cfg.Name. Unknown names fail with
// apperr.ErrConfiguration; remote backends without an API key fail with
// apperr.ErrMissingAPIKey. No network call is made.
func New(cfg Config, opts ...Option) (Provider, error) {
	f, ok := factories[cfg.Name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q (supported: %s)",
			apperr.ErrConfiguration, cfg.Name, strings.Join(Names(), ", "))
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		o.client = &http.Client{Timeout: timeout}
	}

	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return f(cfg, o.client)
}

// apiKey resolves the key from the configured environment variable.
func apiKey(cfg Config, fallbackEnv string) (string, error) {
	env := cfg.APIKeyEnv
	if env == "" {
		env = fallbackEnv
	}
	key := os.Getenv(env)
	if key == "" {
		return "", fmt.Errorf("%s: %w: %s", cfg.Name, apperr.ErrMissingAPIKey, env)
	}
	return key, nil
}
