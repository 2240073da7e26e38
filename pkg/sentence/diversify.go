package sentence

import (
	"sort"

	"github.com/mirojs/graphrag-orchestration-sub001/pkg/common"
)

// Rank sorts passages by score, best first, with sentence id as tie break.
func Rank(passages []common.PassageEvidence) {
	sort.SliceStable(passages, func(i, j int) bool {
		if passages[i].Score != passages[j].Score {
			return passages[i].Score > passages[j].Score
		}
		return passages[i].SentenceID < passages[j].SentenceID
	})
}

// Diversify picks topK passages from ranked, which must be sorted best first.
//
// Every document whose best passage scores at least scoreGate times the
// global best is first given up to minPerDoc of its own best passages; the
// remaining slots go to the best passages overall. When the reservations
// exceed topK, documents are served round robin in order of their best score.
// The result is sorted best first.
func Diversify(ranked []common.PassageEvidence, topK, minPerDoc int, scoreGate float64) []common.PassageEvidence {
	if topK <= 0 || len(ranked) == 0 {
		return nil
	}
	if len(ranked) <= topK {
		return append([]common.PassageEvidence(nil), ranked...)
	}
	if minPerDoc <= 0 {
		return append([]common.PassageEvidence(nil), ranked[:topK]...)
	}

	gate := ranked[0].Score * scoreGate
	var docs []string
	qualifies := make(map[string]bool)
	byDoc := make(map[string][]int)
	for i, p := range ranked {
		q, seen := qualifies[p.DocumentID]
		if !seen {
			q = p.Score >= gate
			qualifies[p.DocumentID] = q
			if q {
				docs = append(docs, p.DocumentID)
			}
		}
		if q {
			byDoc[p.DocumentID] = append(byDoc[p.DocumentID], i)
		}
	}

	picked := make([]bool, len(ranked))
	count := 0
	for round := 0; round < minPerDoc && count < topK; round++ {
		for _, doc := range docs {
			if count == topK {
				break
			}
			idx := byDoc[doc]
			if round < len(idx) {
				picked[idx[round]] = true
				count++
			}
		}
	}
	for i := range ranked {
		if count == topK {
			break
		}
		if !picked[i] {
			picked[i] = true
			count++
		}
	}

	out := make([]common.PassageEvidence, 0, topK)
	for i, p := range ranked {
		if picked[i] {
			out = append(out, p)
		}
	}
	return out
}
