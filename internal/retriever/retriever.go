package retriever

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"whistle-agent/internal/domain"
)

// Index is the similarity search the retriever draws passages from. An
// empty docID means no document filter.
type Index interface {
	Search(ctx context.Context, query string, k int, docID string) ([]domain.PolicyPassage, error)
}

// Config bounds the search and the assembled context.
type Config struct {
	SearchK   int
	ContextK  int
	MaxTokens int
}

// DefaultConfig returns top-5 search, 3 context passages and a 2000 token
// budget.
func DefaultConfig() Config {
	return Config{SearchK: 5, ContextK: 3, MaxTokens: 2000}
}

// Context is the formatted policy context for one query. DocID is the source
// of the most relevant included passage.
type Context struct {
	Text     string
	DocID    string
	Passages []domain.PolicyPassage
}

type Retriever struct {
	index Index
	cfg   Config
	log   zerolog.Logger
}

func New(index Index, cfg Config, log zerolog.Logger) (*Retriever, error) {
	if index == nil {
		return nil, errors.New("retriever: index must not be nil")
	}
	def := DefaultConfig()
	if cfg.SearchK <= 0 {
		cfg.SearchK = def.SearchK
	}
	if cfg.ContextK <= 0 {
		cfg.ContextK = def.ContextK
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	return &Retriever{index: index, cfg: cfg, log: log.With().Str("component", "retriever").Logger()}, nil
}

// GetContext searches for query, restricted to requestedDocID when given,
// and formats the best passages within the token budget. When the filtered
// search finds nothing the search is repeated without the filter. Index
// failures yield an empty Context.
func (r *Retriever) GetContext(ctx context.Context, query, requestedDocID string) Context {
	query = strings.TrimSpace(query)
	requestedDocID = strings.TrimSpace(requestedDocID)
	if query == "" {
		return Context{}
	}

	passages, err := r.index.Search(ctx, query, r.cfg.SearchK, requestedDocID)
	if err == nil && len(passages) == 0 && requestedDocID != "" {
		r.log.Info().Str("requested_doc", requestedDocID).Msg("no passages in requested document, searching all documents")
		passages, err = r.index.Search(ctx, query, r.cfg.SearchK, "")
	}
	if err != nil {
		r.log.Warn().Err(err).Str("requested_doc", requestedDocID).Msg("policy index unavailable, continuing without context")
		return Context{}
	}

	sort.SliceStable(passages, func(i, j int) bool { return passages[i].Score > passages[j].Score })
	if len(passages) > r.cfg.ContextK {
		passages = passages[:r.cfg.ContextK]
	}

	var (
		blocks   []string
		included []domain.PolicyPassage
		tokens   int
	)
	for _, p := range passages {
		block := formatBlock(p)
		n := CountTokens(block)
		if tokens+n > r.cfg.MaxTokens {
			break
		}
		tokens += n
		blocks = append(blocks, block)
		included = append(included, p)
	}

	text := strings.Join(blocks, "\n\n")
	return Context{Text: text, DocID: SourceOf(text), Passages: included}
}

func formatBlock(p domain.PolicyPassage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "출처: %s\n", p.DocID)
	if p.Section != "" {
		fmt.Fprintf(&b, "조항: %s\n", p.Section)
	}
	fmt.Fprintf(&b, "관련도: %.2f\n", p.Score)
	fmt.Fprintf(&b, "내용: %s", p.Text)
	return b.String()
}

// CountTokens counts whitespace-delimited tokens.
func CountTokens(s string) int {
	return len(strings.Fields(s))
}

var sourceRe = regexp.MustCompile(`(?m)^출처: (.+)$`)

// SourceOf returns the first source field of a formatted context.
func SourceOf(text string) string {
	m := sourceRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}
