package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/genai"

	"whistle-agent/internal/domain"
)

const (
	defaultModel      = "gemini-2.0-flash"
	defaultEmbedModel = "gemini-embedding-001"

	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// TokenSource resolves a named API credential.
type TokenSource interface {
	Token(ctx context.Context, name string) (string, error)
}

// models is the subset of *genai.Models the client calls.
type models interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

type modelsFactory func(ctx context.Context, apiKey string) (models, error)

func newGenAIModels(ctx context.Context, apiKey string) (models, error) {
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return c.Models, nil
}

// StatusError carries the HTTP status of a failed Gemini API call.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini: status %d: %v", e.StatusCode, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

func (e *StatusError) HTTPStatusCode() int { return e.StatusCode }

// Client is an oracle and embedder over the Gemini API. The API key is read
// from {paramPrefix}/gemini-token on first use.
type Client struct {
	tokens      TokenSource
	paramPrefix string
	model       string
	embedModel  string
	temperature *float32
	factory     modelsFactory

	mu     sync.Mutex
	models models
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.model = m
		}
	}
}

func WithEmbedModel(model string) Option {
	return func(c *Client) {
		if m := strings.TrimSpace(model); m != "" {
			c.embedModel = m
		}
	}
}

func WithTemperature(t float32) Option {
	return func(c *Client) {
		c.temperature = &t
	}
}

func NewClient(tokens TokenSource, paramPrefix string, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, errors.New("gemini: token source must not be nil")
	}
	paramPrefix = strings.TrimRight(strings.TrimSpace(paramPrefix), "/")
	if paramPrefix == "" {
		return nil, errors.New("gemini: parameter prefix must not be empty")
	}
	c := &Client{
		tokens:      tokens,
		paramPrefix: paramPrefix,
		model:       defaultModel,
		embedModel:  defaultEmbedModel,
		factory:     newGenAIModels,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) tokenParameterName() string {
	return c.paramPrefix + "/gemini-token"
}

func (c *Client) api(ctx context.Context) (models, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.models != nil {
		return c.models, nil
	}
	apiKey, err := c.tokens.Token(ctx, c.tokenParameterName())
	if err != nil {
		return nil, fmt.Errorf("gemini: resolve api key: %w", err)
	}
	m, err := c.factory(ctx, apiKey)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	c.models = m
	return m, nil
}

// Complete sends messages as a single generation request. System messages
// form the system instruction and assistant messages become model turns.
func (c *Client) Complete(ctx context.Context, messages []domain.ChatMessage, format domain.ResponseFormat) (string, error) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case domain.RoleSystem:
			system = append(system, m.Content)
		case domain.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		return "", errors.New("gemini: at least one user or assistant message is required")
	}

	cfg := &genai.GenerateContentConfig{Temperature: c.temperature}
	if len(system) > 0 {
		cfg.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), genai.RoleUser)
	}
	if format.Kind == domain.FormatJSON {
		cfg.ResponseMIMEType = "application/json"
		if len(format.Schema) > 0 {
			var schema any
			if err := json.Unmarshal(format.Schema, &schema); err != nil {
				return "", fmt.Errorf("gemini: decode response schema: %w", err)
			}
			cfg.ResponseJsonSchema = schema
		}
	}

	api, err := c.api(ctx)
	if err != nil {
		return "", err
	}
	resp, err := api.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini: generate content: %w", statusError(err))
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("gemini: empty response")
	}
	return text, nil
}

// EmbedDocuments embeds passage texts for retrieval.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.embed(ctx, texts, taskRetrievalDocument)
}

// EmbedQuery embeds a search query.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, []string{text}, taskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *Client) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	api, err := c.api(ctx)
	if err != nil {
		return nil, err
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	resp, err := api.EmbedContent(ctx, c.embedModel, contents, &genai.EmbedContentConfig{TaskType: task})
	if err != nil {
		return nil, fmt.Errorf("gemini: embed content: %w", statusError(err))
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, fmt.Errorf("gemini: expected %d embeddings, got %d", len(texts), got)
	}
	out := make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("gemini: embedding %d is empty", i)
		}
		out[i] = e.Values
	}
	return out, nil
}

func statusError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code > 0 {
		return &StatusError{StatusCode: apiErr.Code, Err: err}
	}
	return err
}
