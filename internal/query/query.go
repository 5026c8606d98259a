// Package query ranks cached notes against a free-text query.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/starford/zettelink/internal/embedder"
	"github.com/starford/zettelink/internal/models"
	"github.com/starford/zettelink/internal/normalize"
	"github.com/starford/zettelink/internal/similarity"
	"github.com/starford/zettelink/internal/storage"
)

// DefaultTopK is the number of results returned when none is configured.
const DefaultTopK = 5

// ResultsFileName is the search report written next to the cache.
const ResultsFileName = "search_results.json"

// Result is one ranked note.
type Result struct {
	Score       float64 `json:"score"`
	Stem        string  `json:"stem"`
	Rel         string  `json:"rel"`
	Path        string  `json:"path"`
	TextPreview string  `json:"text_preview"`
}

// Report is the persisted outcome of a search.
type Report struct {
	Query   string   `json:"query"`
	TopK    int      `json:"top_k"`
	Results []Result `json:"results"`
}

// Search embeds q (truncated to maxInput characters) and returns the topK
// records with the highest cosine similarity, best first. No threshold is
// applied. Callers must make sure p uses the model the records were built with.
func Search(ctx context.Context, p embedder.Provider, records map[string]models.Record, q string, topK, maxInput int) (Report, []float32, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	vec, err := p.Embed(ctx, normalize.Truncate(q, maxInput))
	if err != nil {
		return Report{}, nil, err
	}
	return Rank(records, q, vec, topK), vec, nil
}

// Rank scores every record against vec and keeps the topK best.
func Rank(records map[string]models.Record, q string, vec []float32, topK int) Report {
	results := make([]Result, 0, len(records))
	for rel, r := range records {
		stem := r.Stem
		if stem == "" {
			stem = stemOf(rel)
		}
		results = append(results, Result{
			Score:       similarity.Cosine(vec, r.Embedding),
			Stem:        stem,
			Rel:         rel,
			Path:        r.Path,
			TextPreview: normalize.Truncate(r.TextPreview, normalize.PreviewLength),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Rel < results[j].Rel
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return Report{Query: q, TopK: topK, Results: results}
}

// Rounded returns a copy of r with scores rounded to four decimals.
func (r Report) Rounded() Report {
	out := r
	out.Results = make([]Result, len(r.Results))
	for i, res := range r.Results {
		res.Score = similarity.Round4(res.Score)
		out.Results[i] = res
	}
	return out
}

// WriteReport writes the rounded report as indented JSON to
// dir/search_results.json and returns the path.
func WriteReport(dir string, r Report) (string, error) {
	data, err := json.MarshalIndent(r.Rounded(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("query: marshal report: %w", err)
	}
	path := filepath.Join(dir, ResultsFileName)
	if err := storage.WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}

func stemOf(rel string) string {
	base := filepath.Base(filepath.FromSlash(rel))
	return base[:len(base)-len(filepath.Ext(base))]
}
