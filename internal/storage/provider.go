// Package storage defines the corpus file-system abstraction.
package storage

import "github.com/starford/zettelink/internal/models"

// Provider is the interface for read access to a note corpus.
type Provider interface {
	// Root returns the absolute corpus root.
	Root() string
	// Scan returns every eligible note under the root, sorted by relative path.
	Scan(skipDirs, skipFiles []string) ([]models.Note, error)
	// Read returns the raw bytes of the note at rel (relative to the root).
	Read(rel string) ([]byte, error)
}
