package policyindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gonum.org/v1/gonum/floats"

	"whistle-agent/internal/domain"
)

// embedBatchSize is the largest batch sent to an Embedder in one call.
const embedBatchSize = 100

// Embedder turns text into dense vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Vector ranks passages by cosine similarity between query and passage
// embeddings.
type Vector struct {
	embedder Embedder

	mu       sync.RWMutex
	passages []domain.PolicyPassage
	vectors  [][]float64
	norms    []float64
}

// NewVector returns an empty index that embeds through e.
func NewVector(e Embedder) (*Vector, error) {
	if e == nil {
		return nil, errors.New("policyindex: embedder must not be nil")
	}
	return &Vector{embedder: e}, nil
}

// Build embeds passages and replaces the index content.
func (v *Vector) Build(ctx context.Context, passages []domain.PolicyPassage) error {
	ps := make([]domain.PolicyPassage, len(passages))
	copy(ps, passages)
	vecs := make([][]float64, 0, len(ps))
	norms := make([]float64, 0, len(ps))

	for start := 0; start < len(ps); start += embedBatchSize {
		end := min(start+embedBatchSize, len(ps))
		texts := make([]string, 0, end-start)
		for _, p := range ps[start:end] {
			texts = append(texts, p.Text)
		}
		embs, err := v.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return fmt.Errorf("policyindex: embed passages %d-%d: %w", start, end, err)
		}
		if len(embs) != len(texts) {
			return fmt.Errorf("policyindex: embedder returned %d vectors for %d passages", len(embs), len(texts))
		}
		for _, e := range embs {
			f := toFloat64(e)
			vecs = append(vecs, f)
			norms = append(norms, floats.Norm(f, 2))
		}
	}

	v.mu.Lock()
	v.passages = ps
	v.vectors = vecs
	v.norms = norms
	v.mu.Unlock()
	return nil
}

// Search embeds query and returns the k nearest passages.
func (v *Vector) Search(ctx context.Context, query string, k int, docID string) ([]domain.PolicyPassage, error) {
	if strings.TrimSpace(query) == "" || k <= 0 {
		return nil, nil
	}
	emb, err := v.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("policyindex: embed query: %w", err)
	}
	q := toFloat64(emb)
	qn := floats.Norm(q, 2)
	if qn == 0 {
		return nil, nil
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	type hit struct {
		idx   int
		score float64
	}
	hits := make([]hit, 0, len(v.passages))
	for i, p := range v.passages {
		if docID != "" && p.DocID != docID {
			continue
		}
		vec := v.vectors[i]
		if len(vec) != len(q) || v.norms[i] == 0 {
			continue
		}
		hits = append(hits, hit{idx: i, score: floats.Dot(q, vec) / (qn * v.norms[i])})
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]domain.PolicyPassage, len(hits))
	for i, h := range hits {
		out[i] = v.passages[h.idx]
		out[i].Score = h.score
	}
	return out, nil
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, x := range in {
		out[i] = float64(x)
	}
	return out
}
