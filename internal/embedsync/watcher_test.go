package embedsync

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/zettelink/internal/testutil"
)

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func startWatch(t *testing.T, root string, run Runner) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, root, defaultOpts, 50*time.Millisecond, quiet, run)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	time.Sleep(100 * time.Millisecond)
}

func TestWatcher_NewNoteEmbedded(t *testing.T) {
	root, src := testutil.TestCorpus(t)
	store := openStore(t, root)
	p := &testutil.FakeProvider{}
	startWatch(t, root, func(ctx context.Context) (Summary, error) {
		return Sync(ctx, src, store, p, defaultOpts, quiet, nil)
	})

	testutil.WriteNote(t, root, "new.md", "# New")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, ok := store.Get("new.md")
		return ok
	}, "new note not embedded by watcher")
}

func TestWatcher_NewDirWatched(t *testing.T) {
	root, src := testutil.TestCorpus(t)
	store := openStore(t, root)
	startWatch(t, root, func(ctx context.Context) (Summary, error) {
		return Sync(ctx, src, store, &testutil.FakeProvider{}, defaultOpts, quiet, nil)
	})

	if err := os.MkdirAll(filepath.Join(root, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	testutil.WriteNote(t, root, "subdir/deep.md", "# Deep")

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		_, ok := store.Get("subdir/deep.md")
		return ok
	}, "note in new subdir not embedded by watcher")
}

func TestWatcher_DeleteRemovesRecord(t *testing.T) {
	root, src := testutil.TestCorpus(t)
	testutil.WriteNote(t, root, "del.md", "# Delete Me")
	store := openStore(t, root)
	p := &testutil.FakeProvider{}
	if _, err := Sync(context.Background(), src, store, p, defaultOpts, quiet, nil); err != nil {
		t.Fatal(err)
	}
	startWatch(t, root, func(ctx context.Context) (Summary, error) {
		return Sync(ctx, src, store, p, defaultOpts, quiet, nil)
	})

	_ = os.Remove(filepath.Join(root, "del.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return store.Len() == 0
	}, "deleted note still cached")
}

func TestWatcher_IgnoresSkippedDirs(t *testing.T) {
	root, _ := testutil.TestCorpus(t)
	if err := os.MkdirAll(filepath.Join(root, ".embeddings"), 0o755); err != nil {
		t.Fatal(err)
	}
	var runs atomic.Int32
	startWatch(t, root, func(context.Context) (Summary, error) {
		runs.Add(1)
		return Summary{}, nil
	})

	testutil.WriteNote(t, root, ".embeddings/cached.md", "x")
	testutil.WriteNote(t, root, "notes.txt", "not a note")
	time.Sleep(400 * time.Millisecond)
	if n := runs.Load(); n != 0 {
		t.Errorf("runs = %d, want 0", n)
	}
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	root, _ := testutil.TestCorpus(t)
	var runs atomic.Int32
	startWatch(t, root, func(context.Context) (Summary, error) {
		runs.Add(1)
		return Summary{}, nil
	})

	for range 5 {
		testutil.WriteNote(t, root, "burst.md", "x")
	}
	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return runs.Load() >= 1
	}, "watcher never ran")
	time.Sleep(300 * time.Millisecond)
	if n := runs.Load(); n != 1 {
		t.Errorf("runs = %d, want 1", n)
	}
}
