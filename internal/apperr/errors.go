// Package apperr defines the error taxonomy shared by all zettelink packages.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration     = errors.New("configuration error")
	ErrProvider          = errors.New("embedding provider error")
	ErrMissingAPIKey     = fmt.Errorf("%w: api key not set", ErrProvider)
	ErrCorruptCache      = errors.New("corrupt cache")
	ErrFileRead          = errors.New("file read error")
	ErrEmptyCache        = errors.New("no embeddings cached")
	ErrModelMismatch     = errors.New("cache was built with a different model")
	ErrDimensionMismatch = errors.New("embedding dimensionality mismatch")
	ErrNotFound          = errors.New("not found")
)

// Hint returns a remediation message for fatal errors, or "" when none applies.
func Hint(err error) string {
	switch {
	case errors.Is(err, ErrMissingAPIKey):
		return "export the API key environment variable named in the config (or put it in .env)"
	case errors.Is(err, ErrConfiguration):
		return "run `zettelink config` to create or fix the config file"
	case errors.Is(err, ErrEmptyCache):
		return "run `zettelink embed --input <dir>` first"
	case errors.Is(err, ErrCorruptCache):
		return "rebuild the cache with `zettelink embed --input <dir> --force`"
	case errors.Is(err, ErrModelMismatch), errors.Is(err, ErrDimensionMismatch):
		return "re-embed with the configured model: `zettelink embed --input <dir> --force`"
	case errors.Is(err, ErrProvider):
		return "check that the embedding provider is reachable and the model name is correct"
	}
	return ""
}
