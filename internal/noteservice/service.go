// Package noteservice ties the corpus, the embedding cache and the provider
// together behind the operations exposed by the CLI, HTTP API and MCP server.
package noteservice

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/starford/zettelink/internal/apperr"
	"github.com/starford/zettelink/internal/cache"
	"github.com/starford/zettelink/internal/embedder"
	"github.com/starford/zettelink/internal/embedsync"
	"github.com/starford/zettelink/internal/models"
	"github.com/starford/zettelink/internal/query"
	"github.com/starford/zettelink/internal/similarity"
	"github.com/starford/zettelink/internal/storage"
)

// Settings are the per-run tunables taken from the configuration.
type Settings struct {
	Model          string
	Provider       string
	CacheDir       string // absolute directory holding the cache and reports
	SkipDirs       []string
	SkipFiles      []string
	MaxInputLength int
	Concurrency    int
	SaveEvery      int
	Threshold      float64
	MaxThreshold   float64
	TopK           int
}

// CacheInfo summarises the cache for status endpoints.
type CacheInfo struct {
	Location  string          `json:"location"`
	Notes     int             `json:"notes"`
	Dimension int             `json:"dimension"`
	Metadata  models.Metadata `json:"metadata"`
}

// LinksResult is the outcome of a link pass.
type LinksResult struct {
	Report similarity.Report
	Path   string // where links.json was written
}

// SearchResult is the outcome of a search.
type SearchResult struct {
	Report query.Report
	Path   string // where search_results.json was written
}

// Service coordinates storage, cache and embedding operations.
type Service struct {
	src      storage.Provider
	provider embedder.Provider
	backend  cache.Backend
	settings Settings
	logger   *slog.Logger

	runMu sync.Mutex // one embed run at a time
	mu    sync.Mutex
	store *cache.Store
}

// NewService creates a new service. The cache is loaded on first use.
func NewService(src storage.Provider, p embedder.Provider, backend cache.Backend, settings Settings, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.MaxThreshold == 0 {
		settings.MaxThreshold = similarity.DefaultMaxThreshold
	}
	if settings.TopK <= 0 {
		settings.TopK = query.DefaultTopK
	}
	return &Service{src: src, provider: p, backend: backend, settings: settings, logger: logger}
}

// Settings returns the service settings.
func (s *Service) Settings() Settings {
	return s.settings
}

// Close releases the cache backend.
func (s *Service) Close() error {
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *Service) storeOptions() []cache.StoreOption {
	opts := []cache.StoreOption{cache.WithLogger(s.logger)}
	if s.settings.SaveEvery != 0 {
		opts = append(opts, cache.WithSaveEvery(s.settings.SaveEvery))
	}
	return opts
}

// loadStore returns the in-memory cache, loading it on first use.
func (s *Service) loadStore() (*cache.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		return s.store, nil
	}
	st, err := cache.Open(s.backend, s.settings.Model, s.settings.Provider, s.storeOptions()...)
	if err != nil {
		return nil, err
	}
	s.store = st
	return st, nil
}

// storeForEmbed returns the store an embed run writes to. A forced run
// starts from an empty store, so whatever the backend holds (another model,
// other vector lengths, unreadable data) is replaced by the next save.
func (s *Service) storeForEmbed(force bool) (*cache.Store, error) {
	if force {
		s.logger.Info("embed: rebuilding cache", slog.String("cache", s.backend.Location()))
		st := cache.NewEmpty(s.backend, s.settings.Model, s.settings.Provider, s.storeOptions()...)
		s.mu.Lock()
		s.store = st
		s.mu.Unlock()
		return st, nil
	}
	st, err := s.loadStore()
	if err != nil {
		return nil, err
	}
	if err := st.CheckModel(s.settings.Model, s.settings.Provider); err != nil {
		return nil, err
	}
	return st, nil
}

// Embed brings the cache up to date with the corpus. cb, if non-nil,
// receives per-note events.
func (s *Service) Embed(ctx context.Context, force bool, cb embedsync.EventCallback) (embedsync.Summary, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	st, err := s.storeForEmbed(force)
	if err != nil {
		return embedsync.Summary{}, err
	}
	return embedsync.Sync(ctx, s.src, st, s.provider, embedsync.Options{
		SkipDirs:       s.settings.SkipDirs,
		SkipFiles:      s.settings.SkipFiles,
		MaxInputLength: s.settings.MaxInputLength,
		Concurrency:    s.settings.Concurrency,
		Force:          force,
	}, s.logger, cb)
}

// Watch re-embeds on corpus changes until ctx is cancelled. done, if
// non-nil, receives the summary of every completed run.
func (s *Service) Watch(ctx context.Context, debounce time.Duration, cb embedsync.EventCallback, done func(embedsync.Summary)) error {
	return embedsync.Watch(ctx, s.src.Root(), embedsync.Options{
		SkipDirs:  s.settings.SkipDirs,
		SkipFiles: s.settings.SkipFiles,
	}, debounce, s.logger, func(ctx context.Context) (embedsync.Summary, error) {
		sum, err := s.Embed(ctx, false, cb)
		if err == nil && done != nil {
			done(sum)
		}
		return sum, err
	})
}

// records returns a snapshot of a non-empty cache.
func (s *Service) records() (*cache.Store, map[string]models.Record, error) {
	st, err := s.loadStore()
	if err != nil {
		return nil, nil, err
	}
	if st.Len() == 0 {
		return nil, nil, fmt.Errorf("noteservice: %w at %s", apperr.ErrEmptyCache, st.Location())
	}
	return st, st.Snapshot(), nil
}

// orDefault returns *v, or def when v is nil.
func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

// Links computes the link graph and writes links.json. A nil threshold or
// maxThreshold falls back to the settings.
func (s *Service) Links(ctx context.Context, thresholdOpt, maxThresholdOpt *float64) (LinksResult, error) {
	threshold := orDefault(thresholdOpt, s.settings.Threshold)
	maxThreshold := orDefault(maxThresholdOpt, s.settings.MaxThreshold)
	_, recs, err := s.records()
	if err != nil {
		return LinksResult{}, err
	}
	links, err := similarity.FindLinks(ctx, recs, threshold, maxThreshold, s.settings.Concurrency)
	if err != nil {
		return LinksResult{}, err
	}
	rep := similarity.NewReport(links, threshold, len(recs))
	p, err := similarity.WriteReport(s.settings.CacheDir, rep)
	if err != nil {
		return LinksResult{}, err
	}
	s.logger.Info("links: done",
		slog.Int("notes", rep.TotalNotes),
		slog.Int("links", rep.TotalLinks),
		slog.Int("notes_with_links", len(rep.PerNote)),
		slog.String("output", p))
	return LinksResult{Report: rep, Path: p}, nil
}

// StoredLinks returns the report written by the last Links call.
func (s *Service) StoredLinks(_ context.Context) (LinksResult, error) {
	rep, path, err := similarity.ReadReport(s.settings.CacheDir)
	if err != nil {
		return LinksResult{}, err
	}
	return LinksResult{Report: rep, Path: path}, nil
}

// Search ranks cached notes against q and writes search_results.json.
// topK falls back to the settings when <= 0.
func (s *Service) Search(ctx context.Context, q string, topK int) (SearchResult, error) {
	if strings.TrimSpace(q) == "" {
		return SearchResult{}, fmt.Errorf("noteservice: %w: empty query", apperr.ErrConfiguration)
	}
	if topK <= 0 {
		topK = s.settings.TopK
	}
	st, recs, err := s.records()
	if err != nil {
		return SearchResult{}, err
	}
	if err := st.CheckModel(s.settings.Model, s.settings.Provider); err != nil {
		return SearchResult{}, err
	}
	rep, vec, err := query.Search(ctx, s.provider, recs, q, topK, s.settings.MaxInputLength)
	if err != nil {
		return SearchResult{}, err
	}
	if dim := st.Dimension(); dim > 0 && len(vec) != dim {
		return SearchResult{}, fmt.Errorf("noteservice: %w: query has %d dimensions, cache has %d",
			apperr.ErrDimensionMismatch, len(vec), dim)
	}
	rep = rep.Rounded()
	p, err := query.WriteReport(s.settings.CacheDir, rep)
	if err != nil {
		return SearchResult{}, err
	}
	return SearchResult{Report: rep, Path: p}, nil
}

// Related returns the notes linked to note, which may be a relative path, a
// path without extension or a stem. A nil threshold or maxThreshold falls
// back to the settings.
func (s *Service) Related(_ context.Context, note string, thresholdOpt, maxThresholdOpt *float64) (models.Record, []models.Neighbor, error) {
	threshold := orDefault(thresholdOpt, s.settings.Threshold)
	maxThreshold := orDefault(maxThresholdOpt, s.settings.MaxThreshold)
	_, recs, err := s.records()
	if err != nil {
		return models.Record{}, nil, err
	}
	rel, ok := resolve(recs, note)
	if !ok {
		return models.Record{}, nil, fmt.Errorf("noteservice: note %q: %w", note, apperr.ErrNotFound)
	}
	neighbors := similarity.Related(recs, rel, threshold, maxThreshold)
	for i := range neighbors {
		neighbors[i].Score = similarity.Round4(neighbors[i].Score)
	}
	if neighbors == nil {
		neighbors = []models.Neighbor{}
	}
	return recs[rel], neighbors, nil
}

// resolve maps a user-supplied note reference to a cache key. When several
// notes share a stem the lexically first one wins.
func resolve(recs map[string]models.Record, note string) (string, bool) {
	note = strings.TrimPrefix(path.Clean(strings.ReplaceAll(note, "\\", "/")), "/")
	if _, ok := recs[note]; ok {
		return note, true
	}
	if _, ok := recs[note+storage.NoteExt]; ok {
		return note + storage.NoteExt, true
	}
	best := ""
	for rel, r := range recs {
		if r.Stem == note && (best == "" || rel < best) {
			best = rel
		}
	}
	return best, best != ""
}

// CacheInfo describes the cache as currently loaded.
func (s *Service) CacheInfo(_ context.Context) (CacheInfo, error) {
	st, err := s.loadStore()
	if err != nil {
		return CacheInfo{}, err
	}
	return CacheInfo{
		Location:  st.Location(),
		Notes:     st.Len(),
		Dimension: st.Dimension(),
		Metadata:  st.Metadata(),
	}, nil
}
