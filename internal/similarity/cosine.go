// Package similarity computes cosine similarity between cached embeddings and
// derives the note link graph from it.
package similarity

import "math"

// Cosine returns dot(a,b) / (|a| |b|). It returns 0 when either norm is
// zero, either vector is empty, or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Round4 rounds a score to four decimal places for output.
func Round4(x float64) float64 {
	return math.Round(x*1e4) / 1e4
}
