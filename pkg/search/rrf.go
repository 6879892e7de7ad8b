package search

import "sort"

// DefaultRankConstant is the RRF rank offset. 60 is the value from the
// original reciprocal-rank fusion paper and keeps any single list from
// dominating the fused ranking.
const DefaultRankConstant = 60

// RRF fuses multiple ranked id lists with reciprocal-rank fusion. Each list
// contributes 1/(rankConstant + rank) for every id it ranks; ids absent from
// a list contribute nothing for it. Returns ids and fused scores sorted by
// score descending.
func RRF(results [][]string, rankConstant int) ([]string, []float64) {
	if rankConstant <= 0 {
		rankConstant = DefaultRankConstant
	}

	scores := make(map[string]float64)
	for _, result := range results {
		for i, id := range result {
			scores[id] += 1.0 / float64(i+1+rankConstant)
		}
	}

	type idScore struct {
		id    string
		score float64
	}
	scored := make([]idScore, 0, len(scores))
	for id, score := range scores {
		scored = append(scored, idScore{id: id, score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].id < scored[j].id
	})

	ids := make([]string, len(scored))
	scoreList := make([]float64, len(scored))
	for i, item := range scored {
		ids[i] = item.id
		scoreList[i] = item.score
	}
	return ids, scoreList
}
