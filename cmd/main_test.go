package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"whistle-agent/internal/config"
	"whistle-agent/internal/conversation"
	"whistle-agent/internal/domain"
	"whistle-agent/internal/retriever"
	"whistle-agent/internal/usecase"
)

type echoOracle struct {
	last []domain.ChatMessage
}

func (o *echoOracle) Complete(_ context.Context, messages []domain.ChatMessage, _ domain.ResponseFormat) (string, error) {
	o.last = messages
	return "상담 내용을 확인했습니다.", nil
}

func TestNewIndex_MissingCorpusDegradesToEmptyContext(t *testing.T) {
	ctx := context.Background()
	cfg := config.IndexConfig{Backend: "memory", CorpusPath: filepath.Join(t.TempDir(), "missing.jsonl")}

	idx, err := newIndex(ctx, cfg, nil, zerolog.Nop())
	require.NoError(t, err)

	r, err := retriever.New(idx, retriever.DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, retriever.Context{}, r.GetContext(ctx, "회삿돈을 유용한 사례가 있습니다", ""))

	store, err := conversation.NewMemoryStore(usecase.SystemPrompt, 0)
	require.NoError(t, err)
	defer store.Close()

	oracle := &echoOracle{}
	svc, err := usecase.NewChatService(store, store, r, oracle, 0, zerolog.Nop())
	require.NoError(t, err)

	start, err := svc.Start(ctx)
	require.NoError(t, err)
	out, err := svc.ProcessMessage(ctx, usecase.MessageInput{ConversationID: start.ConversationID, Message: "회삿돈을 유용한 사례가 있습니다"})
	require.NoError(t, err)
	require.Equal(t, "상담 내용을 확인했습니다.", out.Reply)
	require.NotEmpty(t, oracle.last)
}

func TestNewIndex_LoadsCorpus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corpus.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"doc_id":"윤리강령.pdf","section":"제3조","text":"회사 자금의 사적 유용을 금지한다."}`+"\n"), 0o600))

	idx, err := newIndex(context.Background(), config.IndexConfig{Backend: "memory", CorpusPath: path}, nil, zerolog.Nop())
	require.NoError(t, err)

	got, err := idx.Search(context.Background(), "회사 자금 유용", 5, "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "윤리강령.pdf", got[0].DocID)
}

func TestNewIndex_UnreadableCorpusFails(t *testing.T) {
	dir := t.TempDir()
	_, err := newIndex(context.Background(), config.IndexConfig{Backend: "memory", CorpusPath: dir}, nil, zerolog.Nop())
	require.Error(t, err)
}

func TestNewStores_Memory(t *testing.T) {
	s, err := newStores(config.ConversationConfig{Backend: "memory", TTL: time.Hour}, aws.Config{})
	require.NoError(t, err)
	require.NotNil(t, s)
	if c, ok := s.(interface{ Close() error }); ok {
		require.NoError(t, c.Close())
	}
}
