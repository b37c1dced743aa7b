package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"whistle-agent/internal/domain"
)

type fakeTokens struct {
	val   string
	err   error
	names []string
}

func (f *fakeTokens) Token(_ context.Context, name string) (string, error) {
	f.names = append(f.names, name)
	return f.val, f.err
}

type fakeModels struct {
	genResp *genai.GenerateContentResponse
	genErr  error
	embResp *genai.EmbedContentResponse
	embErr  error

	lastModel    string
	lastContents []*genai.Content
	lastGenCfg   *genai.GenerateContentConfig
	lastEmbedCfg *genai.EmbedContentConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.lastModel = model
	f.lastContents = contents
	f.lastGenCfg = cfg
	return f.genResp, f.genErr
}

func (f *fakeModels) EmbedContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.lastModel = model
	f.lastContents = contents
	f.lastEmbedCfg = cfg
	return f.embResp, f.embErr
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(text, genai.RoleModel)}},
	}
}

func newTestClient(t *testing.T, m *fakeModels, opts ...Option) (*Client, *fakeTokens, *[]string) {
	t.Helper()
	tokens := &fakeTokens{val: "g-test"}
	c, err := NewClient(tokens, "/whistle-agent", opts...)
	require.NoError(t, err)
	var keys []string
	c.factory = func(_ context.Context, apiKey string) (models, error) {
		keys = append(keys, apiKey)
		return m, nil
	}
	return c, tokens, &keys
}

func TestNewClient_Validates(t *testing.T) {
	_, err := NewClient(nil, "/p")
	require.Error(t, err)

	_, err = NewClient(&fakeTokens{}, "")
	require.Error(t, err)

	c, err := NewClient(&fakeTokens{}, "/whistle-agent/")
	require.NoError(t, err)
	require.Equal(t, "/whistle-agent/gemini-token", c.tokenParameterName())
	require.Equal(t, defaultModel, c.model)
	require.Equal(t, defaultEmbedModel, c.embedModel)
}

func TestComplete_MapsRolesAndSystemInstruction(t *testing.T) {
	m := &fakeModels{genResp: textResponse("답변입니다")}
	c, tokens, keys := newTestClient(t, m, WithModel("gemini-test"), WithTemperature(0.1))

	out, err := c.Complete(context.Background(), []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "규칙 A"},
		{Role: domain.RoleSystem, Content: "규칙 B"},
		{Role: domain.RoleAssistant, Content: "안녕하세요"},
		{Role: domain.RoleUser, Content: "제보합니다"},
	}, domain.TextFormat())
	require.NoError(t, err)
	require.Equal(t, "답변입니다", out)

	require.Equal(t, "gemini-test", m.lastModel)
	require.Len(t, m.lastContents, 2)
	require.Equal(t, string(genai.RoleModel), m.lastContents[0].Role)
	require.Equal(t, "안녕하세요", m.lastContents[0].Parts[0].Text)
	require.Equal(t, string(genai.RoleUser), m.lastContents[1].Role)

	require.NotNil(t, m.lastGenCfg.SystemInstruction)
	require.Equal(t, "규칙 A\n\n규칙 B", m.lastGenCfg.SystemInstruction.Parts[0].Text)
	require.Empty(t, m.lastGenCfg.ResponseMIMEType)
	require.InDelta(t, 0.1, *m.lastGenCfg.Temperature, 1e-6)

	require.Equal(t, []string{"/whistle-agent/gemini-token"}, tokens.names)
	require.Equal(t, []string{"g-test"}, *keys)
}

func TestComplete_JSONFormatSetsMIMEType(t *testing.T) {
	m := &fakeModels{genResp: textResponse(`{"severity":1}`)}
	c, _, _ := newTestClient(t, m)

	_, err := c.Complete(context.Background(),
		[]domain.ChatMessage{{Role: domain.RoleUser, Content: "판정"}},
		domain.JSONFormat("judge_decision", []byte(`{"type":"object"}`)))
	require.NoError(t, err)
	require.Equal(t, "application/json", m.lastGenCfg.ResponseMIMEType)
	require.Equal(t, map[string]any{"type": "object"}, m.lastGenCfg.ResponseJsonSchema)
	require.Nil(t, m.lastGenCfg.SystemInstruction)
}

func TestComplete_TextFormatHasNoSchema(t *testing.T) {
	m := &fakeModels{genResp: textResponse("ok")}
	c, _, _ := newTestClient(t, m)

	_, err := c.Complete(context.Background(), []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}, domain.TextFormat())
	require.NoError(t, err)
	require.Nil(t, m.lastGenCfg.ResponseJsonSchema)
}

func TestComplete_InvalidSchema(t *testing.T) {
	m := &fakeModels{genResp: textResponse("ok")}
	c, _, _ := newTestClient(t, m)

	_, err := c.Complete(context.Background(),
		[]domain.ChatMessage{{Role: domain.RoleUser, Content: "판정"}},
		domain.JSONFormat("judge_decision", []byte(`{not json`)))
	require.ErrorContains(t, err, "decode response schema")
	require.Nil(t, m.lastGenCfg)
}

func TestComplete_ReusesModelsAcrossCalls(t *testing.T) {
	m := &fakeModels{genResp: textResponse("ok")}
	c, tokens, keys := newTestClient(t, m)
	msgs := []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}

	for i := 0; i < 3; i++ {
		_, err := c.Complete(context.Background(), msgs, domain.TextFormat())
		require.NoError(t, err)
	}
	require.Len(t, tokens.names, 1)
	require.Len(t, *keys, 1)
}

func TestComplete_Errors(t *testing.T) {
	msgs := []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}}

	t.Run("system only", func(t *testing.T) {
		c, _, _ := newTestClient(t, &fakeModels{})
		_, err := c.Complete(context.Background(), []domain.ChatMessage{{Role: domain.RoleSystem, Content: "s"}}, domain.TextFormat())
		require.Error(t, err)
	})

	t.Run("token error is not cached", func(t *testing.T) {
		m := &fakeModels{genResp: textResponse("ok")}
		c, tokens, _ := newTestClient(t, m)
		tokens.err = errors.New("ssm down")
		_, err := c.Complete(context.Background(), msgs, domain.TextFormat())
		require.ErrorContains(t, err, "ssm down")

		tokens.err = nil
		_, err = c.Complete(context.Background(), msgs, domain.TextFormat())
		require.NoError(t, err)
	})

	t.Run("rate limited", func(t *testing.T) {
		c, _, _ := newTestClient(t, &fakeModels{genErr: genai.APIError{Code: 429, Message: "quota"}})
		_, err := c.Complete(context.Background(), msgs, domain.TextFormat())
		var se *StatusError
		require.ErrorAs(t, err, &se)
		require.Equal(t, 429, se.HTTPStatusCode())
	})

	t.Run("plain error", func(t *testing.T) {
		c, _, _ := newTestClient(t, &fakeModels{genErr: errors.New("dial tcp")})
		_, err := c.Complete(context.Background(), msgs, domain.TextFormat())
		require.ErrorContains(t, err, "dial tcp")
		var se *StatusError
		require.False(t, errors.As(err, &se))
	})

	t.Run("empty text", func(t *testing.T) {
		c, _, _ := newTestClient(t, &fakeModels{genResp: textResponse("  ")})
		_, err := c.Complete(context.Background(), msgs, domain.TextFormat())
		require.ErrorContains(t, err, "empty response")
	})
}

func TestEmbedDocumentsAndQuery(t *testing.T) {
	m := &fakeModels{embResp: &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{
		{Values: []float32{1, 0}},
		{Values: []float32{0, 1}},
	}}}
	c, _, _ := newTestClient(t, m, WithEmbedModel("embed-test"))

	vecs, err := c.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1, 0}, {0, 1}}, vecs)
	require.Equal(t, "embed-test", m.lastModel)
	require.Equal(t, taskRetrievalDocument, m.lastEmbedCfg.TaskType)
	require.Len(t, m.lastContents, 2)

	m.embResp = &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{{Values: []float32{0.5, 0.5}}}}
	q, err := c.EmbedQuery(context.Background(), "질문")
	require.NoError(t, err)
	require.Equal(t, []float32{0.5, 0.5}, q)
	require.Equal(t, taskRetrievalQuery, m.lastEmbedCfg.TaskType)
}

func TestEmbed_Errors(t *testing.T) {
	c, _, _ := newTestClient(t, &fakeModels{})
	vecs, err := c.EmbedDocuments(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, vecs)

	c, _, _ = newTestClient(t, &fakeModels{embResp: &genai.EmbedContentResponse{}})
	_, err = c.EmbedQuery(context.Background(), "q")
	require.ErrorContains(t, err, "expected 1 embeddings")

	c, _, _ = newTestClient(t, &fakeModels{embResp: &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{{}}}})
	_, err = c.EmbedQuery(context.Background(), "q")
	require.ErrorContains(t, err, "empty")

	c, _, _ = newTestClient(t, &fakeModels{embErr: genai.APIError{Code: 503}})
	_, err = c.EmbedDocuments(context.Background(), []string{"a"})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, 503, se.StatusCode)
}
