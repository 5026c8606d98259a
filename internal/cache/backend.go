// Package cache keeps the durable mapping from note path to embedding record.
// Persistence is delegated to a Backend so the freshness and pruning logic does
// not depend on the on-disk format.
package cache

import (
	"fmt"
	"sort"
	"time"

	"github.com/starford/zettelink/internal/apperr"
	"github.com/starford/zettelink/internal/models"
)

// Backend persists a complete cache envelope. Save always replaces the
// previous contents as a whole.
type Backend interface {
	// Load returns the stored records and metadata. A missing store yields an
	// empty, non-nil map; an unreadable one fails with apperr.ErrCorruptCache.
	Load() (map[string]models.Record, models.Metadata, error)
	// Save overwrites the store with data and meta.
	Save(data map[string]models.Record, meta models.Metadata) error
	// Location describes where the cache lives, for diagnostics.
	Location() string
}

// NewMetadata computes the metadata block for data. Every non-empty vector
// must share one dimensionality.
func NewMetadata(data map[string]models.Record, model, provider string) (models.Metadata, error) {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	size := 0
	for _, k := range keys {
		n := len(data[k].Embedding)
		if n == 0 {
			continue
		}
		if size == 0 {
			size = n
			continue
		}
		if n != size {
			return models.Metadata{}, fmt.Errorf("cache: %w: %s has %d dimensions, expected %d",
				apperr.ErrDimensionMismatch, k, n, size)
		}
	}

	return models.Metadata{
		GeneratedAt:   time.Now().Format(time.RFC3339),
		Model:         model,
		Provider:      provider,
		EmbeddingSize: size,
		TotalNotes:    len(data),
	}, nil
}
