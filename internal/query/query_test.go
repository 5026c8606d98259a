package query

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/zettelink/internal/apperr"
	"github.com/starford/zettelink/internal/models"
	"github.com/starford/zettelink/internal/testutil"
)

func corpus() map[string]models.Record {
	return map[string]models.Record{
		"a.md":     {Rel: "a.md", Stem: "a", Path: "/c/a.md", Embedding: []float32{1, 0, 0}, TextPreview: "alpha"},
		"b.md":     {Rel: "b.md", Stem: "b", Path: "/c/b.md", Embedding: []float32{0.8, 0.6, 0}, TextPreview: "beta"},
		"sub/c.md": {Rel: "sub/c.md", Stem: "c", Path: "/c/sub/c.md", Embedding: []float32{0, 1, 0}, TextPreview: "gamma"},
		"d.md":     {Rel: "d.md", Stem: "d", Path: "/c/d.md", Embedding: []float32{0, 0, 1}, TextPreview: "delta"},
	}
}

func TestSearch_TopK(t *testing.T) {
	p := &testutil.FakeProvider{Vectors: map[string][]float32{"q": {1, 0.1, 0}}}
	rep, vec, err := Search(context.Background(), p, corpus(), "q", 2, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(vec) != 3 {
		t.Errorf("query vector dim = %d", len(vec))
	}
	if rep.TopK != 2 || len(rep.Results) != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if rep.Results[0].Rel != "a.md" || rep.Results[1].Rel != "b.md" {
		t.Errorf("order = %s, %s", rep.Results[0].Rel, rep.Results[1].Rel)
	}
}

func TestSearch_NoThresholdAndFewerThanK(t *testing.T) {
	// Query orthogonal to nothing useful: low scores are still returned.
	p := &testutil.FakeProvider{Vectors: map[string][]float32{"q": {-1, -1, -1}}}
	rep, _, err := Search(context.Background(), p, corpus(), "q", 10, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Results) != 4 {
		t.Fatalf("results = %d, want all 4", len(rep.Results))
	}
	for i := 1; i < len(rep.Results); i++ {
		if rep.Results[i].Score > rep.Results[i-1].Score {
			t.Errorf("not sorted at %d", i)
		}
	}
	if rep.Results[0].Score >= 0 {
		t.Errorf("expected negative scores, got %v", rep.Results[0].Score)
	}
}

func TestSearch_DefaultTopKAndTruncation(t *testing.T) {
	p := &testutil.FakeProvider{}
	rep, _, err := Search(context.Background(), p, map[string]models.Record{}, strings.Repeat("x", 50), 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if rep.TopK != DefaultTopK || len(rep.Results) != 0 {
		t.Errorf("report = %+v", rep)
	}
	if calls := p.Calls(); len(calls[0]) != 10 {
		t.Errorf("query sent with %d chars, want 10", len(calls[0]))
	}
	if rep.Query != strings.Repeat("x", 50) {
		t.Error("report should keep the full query")
	}
}

func TestSearch_ProviderError(t *testing.T) {
	p := &testutil.FakeProvider{FailOn: []string{"boom"}}
	_, _, err := Search(context.Background(), p, corpus(), "boom", 3, 100)
	if !errors.Is(err, apperr.ErrProvider) {
		t.Errorf("err = %v", err)
	}
}

func TestWriteReport(t *testing.T) {
	rep := Rank(corpus(), "q", []float32{1, 0.123456, 0}, 3)
	dir := t.TempDir()
	path, err := WriteReport(dir, rep)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != ResultsFileName {
		t.Errorf("path = %s", path)
	}
	var got Report
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got.Query != "q" || got.TopK != 3 || len(got.Results) != 3 {
		t.Fatalf("report = %+v", got)
	}
	s := got.Results[0].Score
	if s != float64(int(s*1e4+0.5))/1e4 {
		t.Errorf("score %v not rounded to 4 decimals", s)
	}
	if got.Results[0].TextPreview != "alpha" || got.Results[0].Path != "/c/a.md" {
		t.Errorf("result = %+v", got.Results[0])
	}
}
