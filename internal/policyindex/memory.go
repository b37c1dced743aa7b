package policyindex

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"whistle-agent/internal/domain"
)

// Memory is an in-process lexical index. Passages are scored by the overlap
// of character bigrams with the query, which works for Korean text without a
// morphological analyzer.
type Memory struct {
	mu       sync.RWMutex
	passages []domain.PolicyPassage
	grams    []map[string]struct{}
}

// NewMemory builds an index over passages.
func NewMemory(passages []domain.PolicyPassage) *Memory {
	m := &Memory{}
	m.Build(passages)
	return m
}

// Build replaces the indexed passages.
func (m *Memory) Build(passages []domain.PolicyPassage) {
	ps := make([]domain.PolicyPassage, len(passages))
	copy(ps, passages)
	grams := make([]map[string]struct{}, len(ps))
	for i, p := range ps {
		grams[i] = bigrams(p.Text)
	}
	m.mu.Lock()
	m.passages = ps
	m.grams = grams
	m.mu.Unlock()
}

// Len returns the number of indexed passages.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.passages)
}

// Search returns up to k passages with a positive score, best first. A
// non-empty docID restricts results to that exact document.
func (m *Memory) Search(ctx context.Context, query string, k int, docID string) ([]domain.PolicyPassage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q := bigrams(query)
	if len(q) == 0 || k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	type hit struct {
		idx   int
		score float64
	}
	var hits []hit
	for i, p := range m.passages {
		if docID != "" && p.DocID != docID {
			continue
		}
		g := m.grams[i]
		if len(g) == 0 {
			continue
		}
		shared := 0
		for t := range q {
			if _, ok := g[t]; ok {
				shared++
			}
		}
		if shared == 0 {
			continue
		}
		hits = append(hits, hit{idx: i, score: float64(shared) / math.Sqrt(float64(len(q)*len(g)))})
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]domain.PolicyPassage, len(hits))
	for i, h := range hits {
		out[i] = m.passages[h.idx]
		out[i].Score = h.score
	}
	return out, nil
}

// bigrams returns the set of lowercase rune bigrams of each word in s.
// Single-rune words contribute themselves.
func bigrams(s string) map[string]struct{} {
	out := make(map[string]struct{})
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		rs := []rune(w)
		if len(rs) == 1 {
			out[w] = struct{}{}
			continue
		}
		for i := 0; i+1 < len(rs); i++ {
			out[string(rs[i:i+2])] = struct{}{}
		}
	}
	return out
}
