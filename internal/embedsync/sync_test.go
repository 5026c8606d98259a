package embedsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/zettelink/internal/cache"
	"github.com/starford/zettelink/internal/models"
	"github.com/starford/zettelink/internal/testutil"
)

var quiet = slog.New(slog.NewJSONHandler(io.Discard, nil))

// countingBackend wraps a Backend and counts saves.
type countingBackend struct {
	cache.Backend
	mu    sync.Mutex
	saves int
}

func (c *countingBackend) Save(data map[string]models.Record, meta models.Metadata) error {
	c.mu.Lock()
	c.saves++
	c.mu.Unlock()
	return c.Backend.Save(data, meta)
}

func openStore(t *testing.T, root string, opts ...cache.StoreOption) *cache.Store {
	t.Helper()
	b := cache.NewJSONFile(filepath.Join(root, ".embeddings", cache.FileName))
	s, err := cache.Open(b, "fake-model", "fake", append([]cache.StoreOption{cache.WithLogger(quiet)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

var defaultOpts = Options{SkipDirs: []string{".embeddings"}, MaxInputLength: 8192}

func TestSync_Idempotent(t *testing.T) {
	root, src := testutil.TestCorpus(t)
	testutil.WriteNote(t, root, "a.md", "alpha notes about go")
	testutil.WriteNote(t, root, "b.md", "beta notes about rust")
	testutil.WriteNote(t, root, "sub/c.md", "gamma notes about go")
	p := &testutil.FakeProvider{}
	store := openStore(t, root)

	sum, err := Sync(context.Background(), src, store, p, defaultOpts, quiet, nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if sum.New != 3 || sum.Cached != 0 || sum.Total != 3 {
		t.Fatalf("first run summary = %+v", sum)
	}

	// Fresh store from disk, unchanged corpus: no provider calls.
	store = openStore(t, root)
	sum, err = Sync(context.Background(), src, store, p, defaultOpts, quiet, nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if sum.New != 0 || sum.Cached != 3 {
		t.Errorf("second run summary = %+v, want 3 cached", sum)
	}
	if p.CallCount() != 3 {
		t.Errorf("provider calls = %d, want 3", p.CallCount())
	}
}

func TestSync_RecordFields(t *testing.T) {
	root, src := testutil.TestCorpus(t)
	body := "---\ntitle: x\n---\n" + strings.Repeat("word ", 100)
	testutil.WriteNote(t, root, "sub/long.md", body)
	store := openStore(t, root)

	if _, err := Sync(context.Background(), src, store, &testutil.FakeProvider{}, defaultOpts, quiet, nil); err != nil {
		t.Fatal(err)
	}
	rec, ok := store.Get("sub/long.md")
	if !ok {
		t.Fatal("record missing")
	}
	if rec.Stem != "long" || rec.Rel != "sub/long.md" {
		t.Errorf("stem/rel = %q/%q", rec.Stem, rec.Rel)
	}
	if !filepath.IsAbs(rec.Path) {
		t.Errorf("path not absolute: %q", rec.Path)
	}
	if len([]rune(rec.TextPreview)) != 200 {
		t.Errorf("preview length = %d, want 200", len([]rune(rec.TextPreview)))
	}
	if strings.Contains(rec.TextPreview, "title:") {
		t.Error("preview should not contain front matter")
	}
	if len(rec.Embedding) != testutil.FakeDim {
		t.Errorf("embedding dim = %d", len(rec.Embedding))
	}
}

func TestSync_Staleness(t *testing.T) {
	root, src := testutil.TestCorpus(t)
	testutil.WriteNote(t, root, "a.md", "alpha")
	testutil.WriteNote(t, root, "b.md", "beta")
	base := time.Now().Add(-time.Hour)
	testutil.Touch(t, root, "a.md", base)
	testutil.Touch(t, root, "b.md", base)
	p := &testutil.FakeProvider{}
	store := openStore(t, root)
	if _, err := Sync(context.Background(), src, store, p, defaultOpts, quiet, nil); err != nil {
		t.Fatal(err)
	}

	// Newer mtime re-embeds; older mtime is still fresh.
	testutil.Touch(t, root, "a.md", base.Add(time.Minute))
	testutil.Touch(t, root, "b.md", base.Add(-time.Minute))
	sum, err := Sync(context.Background(), src, store, p, defaultOpts, quiet, nil)
	if err != nil {
		t.Fatal(err)
	}
	if sum.New != 1 || sum.Cached != 1 {
		t.Errorf("summary = %+v, want 1 new 1 cached", sum)
	}
	calls := p.Calls()
	if last := calls[len(calls)-1]; last != "alpha" {
		t.Errorf("last embedded text = %q, want alpha", last)
	}
}

func TestSync_Force(t *testing.T) {
	root, src := testutil.TestCorpus(t)
	testutil.WriteNote(t, root, "a.md", "alpha")
	testutil.WriteNote(t, root, "b.md", "beta")
	p := &testutil.FakeProvider{}
	store := openStore(t, root)
	if _, err := Sync(context.Background(), src, store, p, defaultOpts, quiet, nil); err != nil {
		t.Fatal(err)
	}
	opts := defaultOpts
	opts.Force = true
	sum, err := Sync(context.Background(), src, store, p, opts, quiet, nil)
	if err != nil {
		t.Fatal(err)
	}
	if sum.New != 2 || p.CallCount() != 4 {
		t.Errorf("summary = %+v calls = %d", sum, p.CallCount())
	}
}

func TestSync_PrunesDeletedNotes(t *testing.T) {
	root, src := testutil.TestCorpus(t)
	testutil.WriteNote(t, root, "a.md", "alpha")
	testutil.WriteNote(t, root, "b.md", "beta")
	testutil.WriteNote(t, root, "c.md", "gamma")
	store := openStore(t, root)
	p := &testutil.FakeProvider{}
	if _, err := Sync(context.Background(), src, store, p, defaultOpts, quiet, nil); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(root, "b.md")); err != nil {
		t.Fatal(err)
	}
	var events []string
	var mu sync.Mutex
	sum, err := Sync(context.Background(), src, store, p, defaultOpts, quiet, func(kind, rel string) {
		mu.Lock()
		events = append(events, kind+":"+rel)
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	if sum.Removed != 1 || store.Len() != 2 {
		t.Errorf("removed = %d len = %d", sum.Removed, store.Len())
	}
	if len(events) != 1 || events[0] != EventRemoved+":b.md" {
		t.Errorf("events = %v", events)
	}

	data, err := cache.Load(store.Location())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := data["b.md"]; ok || len(data) != 2 {
		t.Errorf("persisted keys = %d, b.md present = %v", len(data), ok)
	}
}

func TestSync_ErrorIsolation(t *testing.T) {
	root, src := testutil.TestCorpus(t)
	testutil.WriteNote(t, root, "a.md", "alpha")
	testutil.WriteNote(t, root, "bad.md", "this one is broken")
	testutil.WriteNote(t, root, "c.md", "gamma")
	p := &testutil.FakeProvider{FailOn: []string{"broken"}}
	store := openStore(t, root)

	sum, err := Sync(context.Background(), src, store, p, defaultOpts, quiet, nil)
	if err != nil {
		t.Fatalf("per-note failures must not fail the run: %v", err)
	}
	if sum.New != 2 || sum.Errors != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if _, ok := store.Get("bad.md"); ok {
		t.Error("failed note should have no record")
	}
}

func TestSync_FailureKeepsPriorRecord(t *testing.T) {
	root, src := testutil.TestCorpus(t)
	testutil.WriteNote(t, root, "a.md", "alpha")
	testutil.Touch(t, root, "a.md", time.Now().Add(-time.Hour))
	p := &testutil.FakeProvider{FailOn: []string{"broken"}}
	store := openStore(t, root)
	if _, err := Sync(context.Background(), src, store, p, defaultOpts, quiet, nil); err != nil {
		t.Fatal(err)
	}
	before, _ := store.Get("a.md")

	testutil.WriteNote(t, root, "a.md", "alpha is now broken")
	sum, err := Sync(context.Background(), src, store, p, defaultOpts, quiet, nil)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Errors != 1 || sum.Removed != 0 {
		t.Errorf("summary = %+v", sum)
	}
	after, ok := store.Get("a.md")
	if !ok || after.ModTime != before.ModTime || after.TextPreview != "alpha" {
		t.Errorf("prior record changed: %+v", after)
	}
}

func TestSync_EmptyNoteSkipped(t *testing.T) {
	root, src := testutil.TestCorpus(t)
	testutil.WriteNote(t, root, "empty.md", "---\ntitle: only front matter\n---\n")
	testutil.WriteNote(t, root, "code.md", "```\nfmt.Println()\n```\n")
	testutil.WriteNote(t, root, "a.md", "alpha")
	p := &testutil.FakeProvider{}
	store := openStore(t, root)

	sum, err := Sync(context.Background(), src, store, p, defaultOpts, quiet, nil)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Empty != 2 || sum.New != 1 || p.CallCount() != 1 {
		t.Errorf("summary = %+v calls = %d", sum, p.CallCount())
	}
	if _, ok := store.Get("empty.md"); ok {
		t.Error("empty note should not be cached")
	}
}

func TestSync_TruncatesInput(t *testing.T) {
	root, src := testutil.TestCorpus(t)
	testutil.WriteNote(t, root, "a.md", "abcdefghij")
	p := &testutil.FakeProvider{}
	opts := defaultOpts
	opts.MaxInputLength = 4
	if _, err := Sync(context.Background(), src, openStore(t, root), p, opts, quiet, nil); err != nil {
		t.Fatal(err)
	}
	if calls := p.Calls(); len(calls) != 1 || calls[0] != "abcd" {
		t.Errorf("calls = %q", calls)
	}
}

func TestSync_PeriodicSave(t *testing.T) {
	root, src := testutil.TestCorpus(t)
	for i := range 5 {
		testutil.WriteNote(t, root, fmt.Sprintf("n%d.md", i), fmt.Sprintf("note number %d", i))
	}
	b := &countingBackend{Backend: cache.NewJSONFile(filepath.Join(root, ".embeddings", cache.FileName))}
	store := cache.NewEmpty(b, "fake-model", "fake", cache.WithSaveEvery(2), cache.WithLogger(quiet))

	if _, err := Sync(context.Background(), src, store, &testutil.FakeProvider{}, defaultOpts, quiet, nil); err != nil {
		t.Fatal(err)
	}
	// Checkpoints after 2 and 4 records, then the final save.
	if b.saves != 3 {
		t.Errorf("saves = %d, want 3", b.saves)
	}
}

func TestSync_Concurrent(t *testing.T) {
	root, src := testutil.TestCorpus(t)
	for i := range 40 {
		testutil.WriteNote(t, root, fmt.Sprintf("n%02d.md", i), fmt.Sprintf("note %d", i))
	}
	store := openStore(t, root, cache.WithSaveEvery(7))
	opts := defaultOpts
	opts.Concurrency = 8
	sum, err := Sync(context.Background(), src, store, &testutil.FakeProvider{}, opts, quiet, nil)
	if err != nil {
		t.Fatal(err)
	}
	if sum.New != 40 || store.Len() != 40 {
		t.Errorf("summary = %+v len = %d", sum, store.Len())
	}
	data, err := cache.Load(store.Location())
	if err != nil || len(data) != 40 {
		t.Errorf("persisted = %d err = %v", len(data), err)
	}
}

func TestSync_CancelledDoesNotPrune(t *testing.T) {
	root, src := testutil.TestCorpus(t)
	testutil.WriteNote(t, root, "a.md", "alpha")
	testutil.WriteNote(t, root, "b.md", "beta")
	store := openStore(t, root)
	if _, err := Sync(context.Background(), src, store, &testutil.FakeProvider{}, defaultOpts, quiet, nil); err != nil {
		t.Fatal(err)
	}
	os.Remove(filepath.Join(root, "b.md"))
	testutil.WriteNote(t, root, "c.md", "gamma")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := Sync(ctx, src, store, &testutil.FakeProvider{}, defaultOpts, quiet, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if sum.Removed != 0 || store.Len() != 2 {
		t.Errorf("summary = %+v len = %d", sum, store.Len())
	}
}
