package noteservice

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/starford/zettelink/internal/apperr"
	"github.com/starford/zettelink/internal/cache"
	"github.com/starford/zettelink/internal/index"
)

// Cache backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// OpenBackend opens the cache backend of the given kind inside dir. With
// rebuild set, an unreadable SQLite file is removed and recreated.
func OpenBackend(kind, dir string, rebuild bool) (cache.Backend, error) {
	switch kind {
	case BackendJSON, "":
		return cache.NewJSONFile(filepath.Join(dir, cache.FileName)), nil
	case BackendSQLite:
		path := filepath.Join(dir, index.FileName)
		db, err := index.Open(path)
		if err == nil {
			return db, nil
		}
		if !rebuild || !errors.Is(err, apperr.ErrCorruptCache) {
			return nil, err
		}
		for _, p := range []string{path, path + "-wal", path + "-shm"} {
			if rmErr := os.Remove(p); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				return nil, fmt.Errorf("noteservice: remove corrupt cache: %w", rmErr)
			}
		}
		return index.Open(path)
	default:
		return nil, fmt.Errorf("%w: unknown cache backend %q", apperr.ErrConfiguration, kind)
	}
}
