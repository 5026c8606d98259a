package cache

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/starford/zettelink/internal/apperr"
	"github.com/starford/zettelink/internal/models"
)

func rec(rel string, vec ...float32) models.Record {
	return models.Record{Rel: rel, Stem: rel, Path: "/abs/" + rel, ModTime: 1, Embedding: vec}
}

// memBackend counts saves and keeps the last envelope in memory.
type memBackend struct {
	mu    sync.Mutex
	data  map[string]models.Record
	meta  models.Metadata
	saves int
	fail  error
}

func (m *memBackend) Load() (map[string]models.Record, models.Metadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]models.Record{}
	for k, v := range m.data {
		out[k] = v
	}
	return out, m.meta, nil
}

func (m *memBackend) Save(data map[string]models.Record, meta models.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.saves++
	m.data = map[string]models.Record{}
	for k, v := range data {
		m.data[k] = v
	}
	m.meta = meta
	return nil
}

func (m *memBackend) Location() string { return "memory" }

func TestJSONLoad_MissingFileIsEmpty(t *testing.T) {
	data, err := Load(filepath.Join(t.TempDir(), "nope", FileName))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if data == nil || len(data) != 0 {
		t.Errorf("data = %v, want empty map", data)
	}
}

func TestJSONLoad_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, apperr.ErrCorruptCache) {
		t.Fatalf("err = %v, want corrupt cache", err)
	}
}

func TestJSONSave_EnvelopeFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", FileName)
	data := map[string]models.Record{
		"x.md": rec("x.md", 1, 0, 0),
		"y.md": rec("y.md", 0, 1, 0),
	}
	if err := Save(data, path, "mxbai-embed-large", "ollama"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env struct {
		Metadata map[string]any            `json:"metadata"`
		Data     map[string]map[string]any `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Metadata["model"] != "mxbai-embed-large" || env.Metadata["provider"] != "ollama" {
		t.Errorf("metadata = %v", env.Metadata)
	}
	if env.Metadata["embedding_size"].(float64) != 3 || env.Metadata["total_notes"].(float64) != 2 {
		t.Errorf("metadata = %v", env.Metadata)
	}
	if _, ok := env.Metadata["generated_at"].(string); !ok {
		t.Error("generated_at missing")
	}
	for _, field := range []string{"path", "stem", "rel", "mtime", "embedding", "text_preview"} {
		if _, ok := env.Data["x.md"][field]; !ok {
			t.Errorf("record field %q missing", field)
		}
	}

	back, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(back) != 2 || back["y.md"].Embedding[1] != 1 {
		t.Errorf("reloaded = %v", back)
	}
}

func TestNewMetadata_DimensionMismatch(t *testing.T) {
	data := map[string]models.Record{
		"a.md": rec("a.md", 1, 2),
		"b.md": rec("b.md", 1, 2, 3),
	}
	if _, err := NewMetadata(data, "m", "p"); !errors.Is(err, apperr.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want dimension mismatch", err)
	}
}

func TestNewMetadata_Empty(t *testing.T) {
	meta, err := NewMetadata(nil, "m", "p")
	if err != nil {
		t.Fatal(err)
	}
	if meta.EmbeddingSize != 0 || meta.TotalNotes != 0 {
		t.Errorf("meta = %+v", meta)
	}
}

func TestStore_PeriodicCheckpoint(t *testing.T) {
	b := &memBackend{}
	s := NewEmpty(b, "m", "p", WithSaveEvery(3))

	for i, k := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		if err := s.Upsert(rec(k, 1, float32(i))); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	if b.saves != 2 {
		t.Errorf("checkpoint saves = %d, want 2", b.saves)
	}
	if len(b.data) != 6 {
		t.Errorf("last checkpoint holds %d records, want 6", len(b.data))
	}

	if err := s.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(b.data) != 7 || b.meta.TotalNotes != 7 {
		t.Errorf("final save holds %d records", len(b.data))
	}
}

func TestStore_CheckpointFailureDoesNotFailUpsert(t *testing.T) {
	b := &memBackend{fail: errors.New("disk full")}
	s := NewEmpty(b, "m", "p", WithSaveEvery(1))
	if err := s.Upsert(rec("a", 1)); err != nil {
		t.Fatalf("Upsert should not surface checkpoint errors: %v", err)
	}
	if err := s.Save(); err == nil {
		t.Fatal("explicit Save should surface backend errors")
	}
}

func TestStore_UpsertRejectsOtherDimension(t *testing.T) {
	s := NewEmpty(&memBackend{}, "m", "p")
	_ = s.Upsert(rec("a", 1, 2))
	if err := s.Upsert(rec("b", 1, 2, 3)); !errors.Is(err, apperr.ErrDimensionMismatch) {
		t.Fatalf("err = %v, want dimension mismatch", err)
	}
	if _, ok := s.Get("b"); ok {
		t.Error("rejected record should not be stored")
	}
}

func TestStore_Prune(t *testing.T) {
	b := &memBackend{data: map[string]models.Record{
		"keep.md": rec("keep.md", 1),
		"gone.md": rec("gone.md", 1),
	}}
	s, err := Open(b, "m", "p")
	if err != nil {
		t.Fatal(err)
	}
	removed := s.Prune(map[string]struct{}{"keep.md": {}})
	if len(removed) != 1 || removed[0] != "gone.md" {
		t.Errorf("removed = %v", removed)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d", s.Len())
	}
}

func TestOpen_RejectsInconsistentVectors(t *testing.T) {
	mixed := &memBackend{data: map[string]models.Record{
		"a.md": rec("a.md", 1, 0),
		"b.md": rec("b.md", 1, 0, 0),
	}}
	if _, err := Open(mixed, "m", "p"); !errors.Is(err, apperr.ErrCorruptCache) {
		t.Errorf("mixed lengths: err = %v, want corrupt cache", err)
	}

	wrongSize := &memBackend{
		data: map[string]models.Record{"a.md": rec("a.md", 1, 0)},
		meta: models.Metadata{Model: "m", Provider: "p", EmbeddingSize: 3, TotalNotes: 1},
	}
	if _, err := Open(wrongSize, "m", "p"); !errors.Is(err, apperr.ErrCorruptCache) {
		t.Errorf("embedding_size disagrees: err = %v, want corrupt cache", err)
	}

	consistent := &memBackend{
		data: map[string]models.Record{"a.md": rec("a.md", 1, 0), "b.md": rec("b.md", 0, 1)},
		meta: models.Metadata{EmbeddingSize: 2},
	}
	if _, err := Open(consistent, "m", "p"); err != nil {
		t.Errorf("consistent cache: %v", err)
	}
}

func TestJSONFile_MixedLengthsAreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	content := `{
  "metadata": {"model": "m", "provider": "p", "embedding_size": 2, "total_notes": 2},
  "data": {
    "go.md": {"path": "/v/go.md", "stem": "go", "rel": "go.md", "mtime": 1, "embedding": [1, 0], "text_preview": ""},
    "goroutines.md": {"path": "/v/goroutines.md", "stem": "goroutines", "rel": "goroutines.md", "mtime": 1, "embedding": [1, 0, 0], "text_preview": ""}
  }
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(NewJSONFile(path), "m", "p")
	if !errors.Is(err, apperr.ErrCorruptCache) {
		t.Fatalf("err = %v, want corrupt cache", err)
	}
	if errors.Is(err, apperr.ErrDimensionMismatch) {
		t.Error("corrupt cache should not read as a dimension mismatch")
	}
}

func TestStore_CheckModel(t *testing.T) {
	b := &memBackend{meta: models.Metadata{Model: "a", Provider: "ollama"}}
	s, _ := Open(b, "a", "ollama")
	if err := s.CheckModel("a", "ollama"); err != nil {
		t.Errorf("same model: %v", err)
	}
	if err := s.CheckModel("b", "ollama"); !errors.Is(err, apperr.ErrModelMismatch) {
		t.Errorf("err = %v, want model mismatch", err)
	}
	if err := s.CheckModel("a", "openai"); !errors.Is(err, apperr.ErrModelMismatch) {
		t.Errorf("err = %v, want model mismatch", err)
	}

	fresh := NewEmpty(&memBackend{}, "x", "y")
	if err := fresh.CheckModel("anything", "else"); err != nil {
		t.Errorf("empty cache should accept any model: %v", err)
	}
}

func TestStore_SnapshotIsCopy(t *testing.T) {
	s := NewEmpty(&memBackend{}, "m", "p")
	_ = s.Upsert(rec("a", 1))
	snap := s.Snapshot()
	delete(snap, "a")
	if s.Len() != 1 {
		t.Error("mutating a snapshot changed the store")
	}
}

func TestStore_ConcurrentUpserts(t *testing.T) {
	b := &memBackend{}
	s := NewEmpty(b, "m", "p", WithSaveEvery(5))
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Upsert(rec(string(rune('A'+i)), 1, 2))
		}(i)
	}
	wg.Wait()
	if s.Len() != 50 {
		t.Errorf("Len = %d", s.Len())
	}
	if b.saves != 10 {
		t.Errorf("saves = %d, want 10", b.saves)
	}
}
