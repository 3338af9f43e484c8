package vectorstore

import (
	"cmp"
	"slices"

	"github.com/midras-ai/midras/internal/domain"
)

// MaxSim is the late-interaction score of doc for query: for every query
// row, the best dot product against any doc row, summed. Rows of a different
// width than the query never match.
func MaxSim(query, doc domain.ColBERT) float64 {
	var total float64
	for _, q := range query {
		best, found := 0.0, false
		for _, d := range doc {
			if len(d) != len(q) {
				continue
			}
			var dot float64
			for i := range q {
				dot += float64(q[i]) * float64(d[i])
			}
			if !found || dot > best {
				best, found = dot, true
			}
		}
		total += best
	}
	return total
}

// Rank orders matches by descending score, ties broken by id, and keeps topK.
func Rank(matches []Match, topK int) []Match {
	slices.SortFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.Key(), b.ID.Key())
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// ScorePoints scores every point against query and ranks them.
func ScorePoints(points []Point, query domain.ColBERT, topK int) []Match {
	matches := make([]Match, 0, len(points))
	for i := range points {
		matches = append(matches, Match{
			ID:       points[i].ID,
			Score:    MaxSim(query, points[i].Embedding),
			Metadata: points[i].Metadata,
		})
	}
	return Rank(matches, topK)
}
