package storage

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/zettelink/internal/apperr"
	"github.com/starford/zettelink/internal/models"
)

// NoteExt is the extension of note files.
const NoteExt = ".md"

// FS implements Provider backed by the local file system.
type FS struct {
	root   string // absolute path to the corpus directory
	logger *slog.Logger
}

// Option configures an FS.
type Option func(*FS)

// WithLogger sets the logger for entries skipped during a scan.
func WithLogger(l *slog.Logger) Option {
	return func(f *FS) {
		f.logger = l
	}
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string, opts ...Option) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	f := &FS{root: abs, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Root returns the absolute corpus root.
func (f *FS) Root() string {
	return f.root
}

// safePath resolves a relative path against the root and rejects
// any result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	joined := filepath.Join(f.root, cleaned)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	// Ensure the resolved path is still under root.
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes corpus root: %s", rel)
	}
	return abs, nil
}

// Scan walks the root and returns every .md file whose name does not match
// skipFiles, without descending into directories matching skipDirs.
// Unreadable entries are logged and left out.
func (f *FS) Scan(skipDirs, skipFiles []string) ([]models.Note, error) {
	var out []models.Note
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == f.root {
				return walkErr
			}
			f.logger.Warn("scan: skipping unreadable entry", slog.String("path", p), slog.String("error", walkErr.Error()))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if p != f.root && MatchesAny(d.Name(), skipDirs) {
				return fs.SkipDir
			}
			return nil
		}
		if !strings.HasSuffix(d.Name(), NoteExt) || MatchesAny(d.Name(), skipFiles) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			f.logger.Warn("scan: stat failed", slog.String("path", p), slog.String("error", err.Error()))
			return nil
		}
		rel, _ := filepath.Rel(f.root, p)
		out = append(out, models.Note{
			Path:    p,
			Rel:     filepath.ToSlash(rel),
			Stem:    strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())),
			ModTime: EpochSeconds(info),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: scan: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rel < out[j].Rel })
	return out, nil
}

// Read returns the raw bytes of a corpus file.
func (f *FS) Read(rel string) ([]byte, error) {
	abs, err := f.safePath(filepath.FromSlash(rel))
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w: %w", rel, apperr.ErrFileRead, err)
	}
	return data, nil
}

// MatchesAny reports whether name matches any of the glob patterns.
func MatchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// EpochSeconds returns the modification time as fractional seconds since the epoch.
func EpochSeconds(info fs.FileInfo) float64 {
	return float64(info.ModTime().UnixNano()) / 1e9
}
