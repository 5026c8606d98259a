package similarity

import (
	"context"
	"runtime"
	"slices"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/starford/zettelink/internal/models"
)

// DefaultMaxThreshold excludes near-duplicate pairs from link results.
const DefaultMaxThreshold = 0.98

// FindLinks compares every unordered pair of records and returns those whose
// cosine similarity s satisfies threshold <= s < maxThreshold, sorted by
// descending score. Rows are spread over workers goroutines (<= 0 means
// GOMAXPROCS); the result does not depend on the worker count.
func FindLinks(ctx context.Context, records map[string]models.Record, threshold, maxThreshold float64, workers int) ([]models.Link, error) {
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	rows := make([][]models.Link, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range keys {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a := records[keys[i]]
			var row []models.Link
			for j := i + 1; j < len(keys); j++ {
				b := records[keys[j]]
				s := Cosine(a.Embedding, b.Embedding)
				if s >= threshold && s < maxThreshold {
					row = append(row, models.Link{
						Score: s,
						NoteA: ref(keys[i], a),
						NoteB: ref(keys[j], b),
					})
				}
			}
			rows[i] = row
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	links := slices.Concat(rows...)
	sortLinks(links)
	return links, nil
}

func ref(rel string, r models.Record) models.NoteRef {
	stem := r.Stem
	if stem == "" {
		stem = stemOf(rel)
	}
	return models.NoteRef{Stem: stem, Rel: rel, Path: r.Path}
}

func stemOf(rel string) string {
	base := rel[strings.LastIndex(rel, "/")+1:]
	if i := strings.LastIndex(base, "."); i > 0 {
		return base[:i]
	}
	return base
}

func sortLinks(links []models.Link) {
	sort.SliceStable(links, func(i, j int) bool {
		if links[i].Score != links[j].Score {
			return links[i].Score > links[j].Score
		}
		if links[i].NoteA.Rel != links[j].NoteA.Rel {
			return links[i].NoteA.Rel < links[j].NoteA.Rel
		}
		return links[i].NoteB.Rel < links[j].NoteB.Rel
	})
}

// GroupByNote indexes links by the stem of each endpoint. Each note's
// neighbour list is sorted by descending score. Notes that share a stem
// share a list.
func GroupByNote(links []models.Link) map[string][]models.Neighbor {
	out := make(map[string][]models.Neighbor)
	for _, l := range links {
		out[l.NoteA.Stem] = append(out[l.NoteA.Stem], models.Neighbor{Stem: l.NoteB.Stem, Rel: l.NoteB.Rel, Score: l.Score})
		out[l.NoteB.Stem] = append(out[l.NoteB.Stem], models.Neighbor{Stem: l.NoteA.Stem, Rel: l.NoteA.Rel, Score: l.Score})
	}
	for stem := range out {
		sort.SliceStable(out[stem], func(i, j int) bool {
			return out[stem][i].Score > out[stem][j].Score
		})
	}
	return out
}

// Related returns the neighbours of the note at rel whose similarity lies in
// [threshold, maxThreshold), sorted by descending score. It compares one row
// instead of the whole matrix.
func Related(records map[string]models.Record, rel string, threshold, maxThreshold float64) []models.Neighbor {
	target, ok := records[rel]
	if !ok {
		return nil
	}
	var out []models.Neighbor
	for k, r := range records {
		if k == rel {
			continue
		}
		s := Cosine(target.Embedding, r.Embedding)
		if s >= threshold && s < maxThreshold {
			out = append(out, models.Neighbor{Stem: ref(k, r).Stem, Rel: k, Score: s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Rel < out[j].Rel
	})
	return out
}
