package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/starford/zettelink/internal/apperr"
	"github.com/starford/zettelink/internal/models"
	"github.com/starford/zettelink/internal/storage"
)

// FileName is the default name of the JSON cache inside the cache directory.
const FileName = "embeddings.json"

type envelope struct {
	Metadata models.Metadata          `json:"metadata"`
	Data     map[string]models.Record `json:"data"`
}

// JSONFile stores the cache as a single JSON envelope.
type JSONFile struct {
	path string
}

// NewJSONFile returns a backend for the JSON file at path.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

// Location implements Backend.
func (j *JSONFile) Location() string {
	return j.path
}

// Load implements Backend.
func (j *JSONFile) Load() (map[string]models.Record, models.Metadata, error) {
	raw, err := os.ReadFile(j.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]models.Record{}, models.Metadata{}, nil
		}
		return nil, models.Metadata{}, fmt.Errorf("cache: read %s: %w", j.path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, models.Metadata{}, fmt.Errorf("cache: %w: %s: %v", apperr.ErrCorruptCache, j.path, err)
	}
	if env.Data == nil {
		env.Data = map[string]models.Record{}
	}
	return env.Data, env.Metadata, nil
}

// Save implements Backend. The file is replaced atomically.
func (j *JSONFile) Save(data map[string]models.Record, meta models.Metadata) error {
	if data == nil {
		data = map[string]models.Record{}
	}
	out, err := json.MarshalIndent(envelope{Metadata: meta, Data: data}, "", "  ")
	if err != nil {
		return fmt.Errorf("cache: encode: %w", err)
	}
	if err := storage.WriteFileAtomic(j.path, out); err != nil {
		return fmt.Errorf("cache: save %s: %w", j.path, err)
	}
	return nil
}

// Load reads the JSON cache at path and returns its records.
func Load(path string) (map[string]models.Record, error) {
	data, _, err := NewJSONFile(path).Load()
	return data, err
}

// Save writes data to the JSON cache at path with freshly computed metadata.
func Save(data map[string]models.Record, path, model, provider string) error {
	meta, err := NewMetadata(data, model, provider)
	if err != nil {
		return err
	}
	return NewJSONFile(path).Save(data, meta)
}
