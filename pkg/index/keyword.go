package index

import (
	"math"
	"strings"
	"sync"
	"unicode"
)

// BM25 parameters. Standard values work well for the short facts and entity
// summaries this index holds.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Tokenize lowercases the text and splits it on any non-alphanumeric rune.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

type keywordDoc struct {
	freq   map[string]int
	length int
}

// KeywordIndex is a BM25-scored inverted index over item text.
type KeywordIndex struct {
	mu          sync.RWMutex
	docs        map[string]keywordDoc
	postings    map[string]map[string]struct{}
	totalLength int
}

// NewKeywordIndex creates an empty keyword index.
func NewKeywordIndex() *KeywordIndex {
	return &KeywordIndex{
		docs:     make(map[string]keywordDoc),
		postings: make(map[string]map[string]struct{}),
	}
}

// Upsert indexes the text for an item, replacing any previous text.
func (ki *KeywordIndex) Upsert(id, text string) {
	if id == "" {
		return
	}
	tokens := Tokenize(text)
	freq := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		freq[tok]++
	}

	ki.mu.Lock()
	defer ki.mu.Unlock()
	ki.removeLocked(id)
	ki.docs[id] = keywordDoc{freq: freq, length: len(tokens)}
	ki.totalLength += len(tokens)
	for tok := range freq {
		posting, ok := ki.postings[tok]
		if !ok {
			posting = make(map[string]struct{})
			ki.postings[tok] = posting
		}
		posting[id] = struct{}{}
	}
}

// Remove drops an item from the index.
func (ki *KeywordIndex) Remove(id string) {
	ki.mu.Lock()
	ki.removeLocked(id)
	ki.mu.Unlock()
}

func (ki *KeywordIndex) removeLocked(id string) {
	doc, ok := ki.docs[id]
	if !ok {
		return
	}
	for tok := range doc.freq {
		if posting, ok := ki.postings[tok]; ok {
			delete(posting, id)
			if len(posting) == 0 {
				delete(ki.postings, tok)
			}
		}
	}
	ki.totalLength -= doc.length
	delete(ki.docs, id)
}

// Search scores every document containing at least one query token with BM25
// and returns the top k, highest first.
func (ki *KeywordIndex) Search(query string, k int) []ScoredID {
	tokens := Tokenize(query)
	if len(tokens) == 0 || k <= 0 {
		return nil
	}

	ki.mu.RLock()
	defer ki.mu.RUnlock()

	n := len(ki.docs)
	if n == 0 {
		return nil
	}
	avgLength := float64(ki.totalLength) / float64(n)
	if avgLength == 0 {
		avgLength = 1
	}

	scores := make(map[string]float64)
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}

		posting := ki.postings[tok]
		if len(posting) == 0 {
			continue
		}
		idf := idf(n, len(posting))
		for id := range posting {
			doc := ki.docs[id]
			tf := float64(doc.freq[tok])
			norm := bm25K1 * (1 - bm25B + bm25B*float64(doc.length)/avgLength)
			scores[id] += idf * tf * (bm25K1 + 1) / (tf + norm)
		}
	}

	scored := make([]ScoredID, 0, len(scores))
	for id, score := range scores {
		scored = append(scored, ScoredID{ID: id, Score: score})
	}
	return topK(scored, k)
}

func idf(docCount, docFreq int) float64 {
	// Robertson-Sparck Jones idf with the +1 smoothing that keeps scores
	// non-negative for terms appearing in most documents.
	return math.Log((float64(docCount)-float64(docFreq)+0.5)/(float64(docFreq)+0.5) + 1)
}

// Len returns the number of indexed items.
func (ki *KeywordIndex) Len() int {
	ki.mu.RLock()
	defer ki.mu.RUnlock()
	return len(ki.docs)
}
