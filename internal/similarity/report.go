package similarity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/starford/zettelink/internal/apperr"
	"github.com/starford/zettelink/internal/models"
	"github.com/starford/zettelink/internal/storage"
)

// LinksFileName is the link report written next to the cache.
const LinksFileName = "links.json"

// Report is the persisted link graph.
type Report struct {
	Generated  string                       `json:"generated"`
	Threshold  float64                      `json:"threshold"`
	TotalNotes int                          `json:"total_notes"`
	TotalLinks int                          `json:"total_links"`
	Links      []models.Link                `json:"links"`
	PerNote    map[string][]models.Neighbor `json:"per_note"`
}

// NewReport builds a report from links, rounding every score to four decimals.
// The input slice is not modified.
func NewReport(links []models.Link, threshold float64, totalNotes int) Report {
	rounded := make([]models.Link, len(links))
	for i, l := range links {
		l.Score = Round4(l.Score)
		rounded[i] = l
	}
	return Report{
		Generated:  time.Now().Format(time.RFC3339),
		Threshold:  threshold,
		TotalNotes: totalNotes,
		TotalLinks: len(rounded),
		Links:      rounded,
		PerNote:    GroupByNote(rounded),
	}
}

// WriteReport writes r as indented JSON to dir/links.json and returns the path.
func WriteReport(dir string, r Report) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("similarity: marshal report: %w", err)
	}
	path := filepath.Join(dir, LinksFileName)
	if err := storage.WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// ReadReport loads dir/links.json. A missing file fails with apperr.ErrNotFound.
func ReadReport(dir string) (Report, string, error) {
	path := filepath.Join(dir, LinksFileName)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Report{}, path, fmt.Errorf("similarity: %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return Report{}, path, fmt.Errorf("similarity: read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, path, fmt.Errorf("similarity: parse %s: %w", path, err)
	}
	return r, path, nil
}
