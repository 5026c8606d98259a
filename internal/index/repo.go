package index

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/starford/zettelink/internal/apperr"
	"github.com/starford/zettelink/internal/cache"
	"github.com/starford/zettelink/internal/models"
)

// Load implements cache.Backend.
func (db *DB) Load() (map[string]models.Record, models.Metadata, error) {
	meta, err := db.loadMetadata()
	if err != nil {
		return nil, models.Metadata{}, err
	}

	rows, err := db.conn.Query(`SELECT rel, path, stem, mtime, embedding, text_preview FROM records`)
	if err != nil {
		return nil, models.Metadata{}, fmt.Errorf("index: %w: query records: %v", apperr.ErrCorruptCache, err)
	}
	defer rows.Close()

	out := make(map[string]models.Record)
	for rows.Next() {
		var r models.Record
		var blob []byte
		if err := rows.Scan(&r.Rel, &r.Path, &r.Stem, &r.ModTime, &blob, &r.TextPreview); err != nil {
			return nil, models.Metadata{}, fmt.Errorf("index: %w: scan record: %v", apperr.ErrCorruptCache, err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, models.Metadata{}, fmt.Errorf("index: %w: %s: %v", apperr.ErrCorruptCache, r.Rel, err)
		}
		r.Embedding = vec
		out[r.Rel] = r
	}
	if err := rows.Err(); err != nil {
		return nil, models.Metadata{}, fmt.Errorf("index: %w: %v", apperr.ErrCorruptCache, err)
	}
	return out, meta, nil
}

// Save implements cache.Backend. The previous contents are replaced within a
// single transaction, so readers see either the old or the new envelope.
func (db *DB) Save(data map[string]models.Record, meta models.Metadata) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM records`); err != nil {
		return fmt.Errorf("index: clear records: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO records (rel, path, stem, mtime, embedding, text_preview) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare record insert: %w", err)
	}
	defer stmt.Close()
	for rel, r := range data {
		if _, err := stmt.Exec(rel, r.Path, r.Stem, r.ModTime, encodeVector(r.Embedding), r.TextPreview); err != nil {
			return fmt.Errorf("index: insert %s: %w", rel, err)
		}
	}

	fields := map[string]string{
		"generated_at":   meta.GeneratedAt,
		"model":          meta.Model,
		"provider":       meta.Provider,
		"embedding_size": strconv.Itoa(meta.EmbeddingSize),
		"total_notes":    strconv.Itoa(meta.TotalNotes),
	}
	for k, v := range fields {
		if _, err := tx.Exec(`
			INSERT INTO metadata (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, k, v); err != nil {
			return fmt.Errorf("index: upsert metadata %s: %w", k, err)
		}
	}

	return tx.Commit()
}

func (db *DB) loadMetadata() (models.Metadata, error) {
	rows, err := db.conn.Query(`SELECT key, value FROM metadata`)
	if err != nil {
		return models.Metadata{}, fmt.Errorf("index: %w: query metadata: %v", apperr.ErrCorruptCache, err)
	}
	defer rows.Close()

	var meta models.Metadata
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return models.Metadata{}, fmt.Errorf("index: %w: scan metadata: %v", apperr.ErrCorruptCache, err)
		}
		switch k {
		case "generated_at":
			meta.GeneratedAt = v
		case "model":
			meta.Model = v
		case "provider":
			meta.Provider = v
		case "embedding_size":
			meta.EmbeddingSize, _ = strconv.Atoi(v)
		case "total_notes":
			meta.TotalNotes, _ = strconv.Atoi(v)
		}
	}
	return meta, rows.Err()
}

// encodeVector packs v as little-endian float32 values.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}

var _ cache.Backend = (*DB)(nil)
