// Package models defines the domain types for zettelink.
package models

// Note represents a Markdown file discovered in the corpus.
type Note struct {
	Path    string  // absolute path
	Rel     string  // path relative to the corpus root, the cache key
	Stem    string  // file name without extension
	ModTime float64 // seconds since the epoch
}

// Record is one cached embedding, keyed by the note's relative path.
type Record struct {
	Path        string    `json:"path"`
	Stem        string    `json:"stem"`
	Rel         string    `json:"rel"`
	ModTime     float64   `json:"mtime"`
	Embedding   []float32 `json:"embedding"`
	TextPreview string    `json:"text_preview"`
}

// Fresh reports whether the record is still valid for a note modified at mtime.
func (r Record) Fresh(mtime float64) bool {
	return r.ModTime >= mtime
}

// Metadata describes a persisted cache.
type Metadata struct {
	GeneratedAt   string `json:"generated_at"`
	Model         string `json:"model"`
	Provider      string `json:"provider"`
	EmbeddingSize int    `json:"embedding_size"`
	TotalNotes    int    `json:"total_notes"`
}

// NoteRef identifies a note inside a link.
type NoteRef struct {
	Stem string `json:"stem"`
	Rel  string `json:"rel"`
	Path string `json:"path"`
}

// Link is an unordered pair of notes with their cosine similarity.
type Link struct {
	Score float64 `json:"score"`
	NoteA NoteRef `json:"note_a"`
	NoteB NoteRef `json:"note_b"`
}

// Neighbor is one entry in a note's grouped link list.
type Neighbor struct {
	Stem  string  `json:"stem"`
	Rel   string  `json:"rel"`
	Score float64 `json:"score"`
}
