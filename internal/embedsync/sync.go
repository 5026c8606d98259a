// Package embedsync brings an embedding cache up to date with a note corpus.
package embedsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starford/zettelink/internal/apperr"
	"github.com/starford/zettelink/internal/cache"
	"github.com/starford/zettelink/internal/embedder"
	"github.com/starford/zettelink/internal/metrics"
	"github.com/starford/zettelink/internal/models"
	"github.com/starford/zettelink/internal/normalize"
	"github.com/starford/zettelink/internal/storage"
)

// Event kinds passed to EventCallback.
const (
	EventEmbedded = "note.embedded"
	EventRemoved  = "note.removed"
	EventFailed   = "note.failed"
)

// EventCallback is called after each record change. It may be called from
// several goroutines at once.
type EventCallback func(kind, rel string)

// Options tunes a Sync run.
type Options struct {
	SkipDirs       []string
	SkipFiles      []string
	MaxInputLength int  // characters sent to the provider; <= 0 means unlimited
	Concurrency    int  // embedding workers; < 1 means 1
	Force          bool // re-embed notes even when their record is fresh
}

// Summary counts the outcome of a Sync run.
type Summary struct {
	Total   int `json:"total"`
	New     int `json:"new"`
	Cached  int `json:"cached"`
	Empty   int `json:"empty"`
	Errors  int `json:"errors"`
	Removed int `json:"removed"`
}

// Sync scans src and brings store up to date:
//   - notes whose record is missing or stale are normalized and embedded
//   - notes with empty normalized text are skipped
//   - records whose note is gone from the scan are pruned
//
// Per-note failures are logged and counted, never returned. The store is
// saved once at the end, including when ctx is cancelled midway.
func Sync(ctx context.Context, src storage.Provider, store *cache.Store, p embedder.Provider, opts Options, logger *slog.Logger, cb EventCallback) (Summary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	notes, err := src.Scan(opts.SkipDirs, opts.SkipFiles)
	if err != nil {
		return Summary{}, err
	}

	var (
		mu  sync.Mutex
		sum = Summary{Total: len(notes)}
	)
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}
	emit := func(kind, rel string) {
		if cb != nil {
			cb(kind, rel)
		}
	}

	workers := max(opts.Concurrency, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	active := make(map[string]struct{}, len(notes))
	for _, n := range notes {
		active[n.Rel] = struct{}{}

		if !opts.Force {
			if rec, ok := store.Get(n.Rel); ok && rec.Fresh(n.ModTime) {
				metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
				metrics.NotesProcessedTotal.WithLabelValues("cached").Inc()
				count(&sum.Cached)
				continue
			}
			metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		}

		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			switch err := embedNote(gctx, src, store, p, n, opts.MaxInputLength); {
			case err == nil:
				metrics.NotesProcessedTotal.WithLabelValues("updated").Inc()
				count(&sum.New)
				logger.Debug("sync: embedded", slog.String("rel", n.Rel))
				emit(EventEmbedded, n.Rel)
			case errors.Is(err, errEmptyText):
				metrics.NotesProcessedTotal.WithLabelValues("empty").Inc()
				count(&sum.Empty)
				logger.Debug("sync: skipped empty note", slog.String("rel", n.Rel))
			default:
				metrics.NotesProcessedTotal.WithLabelValues("error").Inc()
				count(&sum.Errors)
				logger.Warn("sync: embed failed", slog.String("rel", n.Rel), slog.String("error", err.Error()))
				emit(EventFailed, n.Rel)
			}
			return nil
		})
	}
	_ = g.Wait()

	// A cancelled run must not prune notes it never reached.
	if ctx.Err() == nil {
		for _, rel := range store.Prune(active) {
			metrics.NotesProcessedTotal.WithLabelValues("removed").Inc()
			sum.Removed++
			logger.Debug("sync: pruned", slog.String("rel", rel))
			emit(EventRemoved, rel)
		}
	}

	if err := store.Save(); err != nil {
		return sum, fmt.Errorf("embedsync: save cache: %w", err)
	}

	logger.Info("sync: done",
		slog.Int("total", sum.Total),
		slog.Int("new", sum.New),
		slog.Int("cached", sum.Cached),
		slog.Int("empty", sum.Empty),
		slog.Int("errors", sum.Errors),
		slog.Int("removed", sum.Removed),
		slog.String("cache", store.Location()),
	)
	return sum, ctx.Err()
}

var errEmptyText = errors.New("normalized text is empty")

// embedNote reads, normalizes and embeds one note and stores its record.
// A failure leaves any previous record untouched.
func embedNote(ctx context.Context, src storage.Provider, store *cache.Store, p embedder.Provider, n models.Note, maxInput int) error {
	raw, err := src.Read(n.Rel)
	if err != nil {
		return err
	}
	text := normalize.Normalize(string(raw))
	if text == "" {
		return errEmptyText
	}
	vec, err := p.Embed(ctx, normalize.Truncate(text, maxInput))
	if err != nil {
		return err
	}
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty embedding for %s", apperr.ErrProvider, n.Rel)
	}
	return store.Upsert(models.Record{
		Path:        n.Path,
		Stem:        n.Stem,
		Rel:         n.Rel,
		ModTime:     n.ModTime,
		Embedding:   vec,
		TextPreview: normalize.Truncate(text, normalize.PreviewLength),
	})
}
