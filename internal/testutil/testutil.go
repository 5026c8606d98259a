// Package testutil provides shared test helpers for building corpora and
// faking embedding providers.
package testutil

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/zettelink/internal/apperr"
	"github.com/starford/zettelink/internal/storage"
)

// FakeDim is the dimensionality of FakeProvider vectors.
const FakeDim = 16

// TestCorpus creates a temporary note directory with a storage.FS over it.
func TestCorpus(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	fs, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, fs
}

// WriteNote writes content to rel under root, creating parent directories.
func WriteNote(t *testing.T, root, rel, content string) string {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// Touch sets the modification time of rel under root.
func Touch(t *testing.T, root, rel string, mtime time.Time) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.Chtimes(p, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

// FakeProvider is a deterministic embedding provider: each lower-cased word
// is hashed into one of FakeDim buckets, so texts sharing words get similar
// vectors. Vectors overrides the result for exact input texts.
type FakeProvider struct {
	Vectors map[string][]float32
	// FailOn makes Embed fail for any text containing one of these substrings.
	FailOn []string

	mu    sync.Mutex
	calls []string
}

// Embed implements embedder.Provider.
func (f *FakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrProvider, err)
	}
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()

	for _, s := range f.FailOn {
		if strings.Contains(text, s) {
			return nil, fmt.Errorf("%w: fake failure for %q", apperr.ErrProvider, s)
		}
	}
	if v, ok := f.Vectors[text]; ok {
		return v, nil
	}
	return BagOfWords(text), nil
}

// Calls returns the texts passed to Embed so far.
func (f *FakeProvider) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// CallCount returns the number of Embed calls so far.
func (f *FakeProvider) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// BagOfWords returns the FakeProvider vector for text.
func BagOfWords(text string) []float32 {
	v := make([]float32, FakeDim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%FakeDim]++
	}
	return v
}
