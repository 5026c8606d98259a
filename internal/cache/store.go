package cache

import (
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/starford/zettelink/internal/apperr"
	"github.com/starford/zettelink/internal/metrics"
	"github.com/starford/zettelink/internal/models"
)

// DefaultSaveEvery is the number of upserts between checkpoint saves.
const DefaultSaveEvery = 20

// Store is the in-memory view of a cache with a single writer to its Backend.
// All methods are safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	backend   Backend
	logger    *slog.Logger
	model     string
	provider  string
	saveEvery int

	records map[string]models.Record
	meta    models.Metadata // as last loaded or saved
	pending int             // upserts since the last save
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSaveEvery overrides the checkpoint cadence; n <= 0 disables checkpoints.
func WithSaveEvery(n int) StoreOption {
	return func(s *Store) {
		s.saveEvery = n
	}
}

// WithLogger sets the logger used for checkpoint failures.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = l
	}
}

// Open loads the cache from backend. Saves stamp model and provider into the metadata.
func Open(backend Backend, model, provider string, opts ...StoreOption) (*Store, error) {
	data, meta, err := backend.Load()
	if err != nil {
		return nil, err
	}
	if err := checkEnvelope(data, meta); err != nil {
		return nil, fmt.Errorf("cache: %w: %s: %v", apperr.ErrCorruptCache, backend.Location(), err)
	}
	s := newStore(backend, model, provider, opts)
	s.records = data
	s.meta = meta
	return s, nil
}

// checkEnvelope reports records whose vectors disagree on length with each
// other or with the recorded embedding_size.
func checkEnvelope(data map[string]models.Record, meta models.Metadata) error {
	computed, err := NewMetadata(data, meta.Model, meta.Provider)
	if err != nil {
		return err
	}
	if meta.EmbeddingSize != 0 && computed.EmbeddingSize != 0 && meta.EmbeddingSize != computed.EmbeddingSize {
		return fmt.Errorf("vectors have %d dimensions, metadata says %d", computed.EmbeddingSize, meta.EmbeddingSize)
	}
	return nil
}

// NewEmpty returns a store that ignores whatever the backend holds; the next
// save overwrites it.
func NewEmpty(backend Backend, model, provider string, opts ...StoreOption) *Store {
	return newStore(backend, model, provider, opts)
}

func newStore(backend Backend, model, provider string, opts []StoreOption) *Store {
	s := &Store{
		backend:   backend,
		logger:    slog.Default(),
		model:     model,
		provider:  provider,
		saveEvery: DefaultSaveEvery,
		records:   map[string]models.Record{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the backend location.
func (s *Store) Location() string {
	return s.backend.Location()
}

// Metadata returns the metadata as of the last load or save.
func (s *Store) Metadata() models.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

// CheckModel fails with apperr.ErrModelMismatch when the cache was produced by a
// different model or provider. A cache with no recorded model passes.
func (s *Store) CheckModel(model, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta.Model == "" && s.meta.Provider == "" {
		return nil
	}
	if s.meta.Model != model || s.meta.Provider != provider {
		return fmt.Errorf("cache: %w: cache has %s/%s, config has %s/%s",
			apperr.ErrModelMismatch, s.meta.Provider, s.meta.Model, provider, model)
	}
	return nil
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Dimension returns the vector length shared by the records, or 0 when empty.
func (s *Store) Dimension() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dimensionLocked()
}

func (s *Store) dimensionLocked() int {
	for _, r := range s.records {
		if n := len(r.Embedding); n > 0 {
			return n
		}
	}
	return 0
}

// Get returns the record stored under rel.
func (s *Store) Get(rel string) (models.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[rel]
	return r, ok
}

// Upsert stores rec under rec.Rel. Every saveEvery-th upsert triggers a
// checkpoint save; checkpoint failures are logged and retried at the next one.
func (s *Store) Upsert(rec models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dim := s.dimensionLocked(); dim > 0 && len(rec.Embedding) != dim {
		return fmt.Errorf("cache: %w: %s has %d dimensions, cache has %d",
			apperr.ErrDimensionMismatch, rec.Rel, len(rec.Embedding), dim)
	}

	s.records[rec.Rel] = rec
	s.pending++

	if s.saveEvery > 0 && s.pending%s.saveEvery == 0 {
		if err := s.saveLocked(); err != nil {
			s.logger.Warn("cache: checkpoint save failed",
				slog.String("location", s.backend.Location()),
				slog.String("error", err.Error()))
		} else {
			s.logger.Debug("cache: checkpoint saved", slog.Int("records", len(s.records)))
		}
	}
	return nil
}

// Prune removes every record whose key is not in active and returns the removed keys.
func (s *Store) Prune(active map[string]struct{}) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for k := range s.records {
		if _, ok := active[k]; !ok {
			delete(s.records, k)
			removed = append(removed, k)
		}
	}
	return removed
}

// Snapshot returns a copy of the record map. Embedding slices are shared and
// must be treated as read-only.
func (s *Store) Snapshot() map[string]models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.records)
}

// Save writes the full envelope through the backend.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	meta, err := NewMetadata(s.records, s.model, s.provider)
	if err != nil {
		return err
	}
	if err := s.backend.Save(s.records, meta); err != nil {
		return err
	}
	s.meta = meta
	s.pending = 0
	metrics.CachedNotes.Set(float64(len(s.records)))
	return nil
}
