package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"

	"whistle-agent/handler"
	"whistle-agent/internal/config"
	"whistle-agent/internal/conversation"
	"whistle-agent/internal/domain"
	"whistle-agent/internal/integrations/gemini"
	"whistle-agent/internal/integrations/openai"
	"whistle-agent/internal/integrations/paramstore"
	"whistle-agent/internal/logging"
	"whistle-agent/internal/policyindex"
	"whistle-agent/internal/repository"
	"whistle-agent/internal/retriever"
	"whistle-agent/internal/usecase"
)

// stores is what the chat service needs from a conversation backend.
type stores interface {
	usecase.ConversationStore
	usecase.ReportStore
}

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, closer, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer closer.Close()

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load AWS config")
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create SSM client")
	}

	oracle, embedder, err := newOracle(cfg.Oracle, cfg.Index.EmbedModel, ssmClient)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create oracle client")
	}

	store, err := newStores(cfg.Conversation, awsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create conversation store")
	}

	index, err := newIndex(ctx, cfg.Index, embedder, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open policy index")
	}

	r, err := retriever.New(index, retriever.Config{
		SearchK:   cfg.Retriever.SearchK,
		ContextK:  cfg.Retriever.ContextK,
		MaxTokens: cfg.Retriever.MaxTokens,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create retriever")
	}

	// ---- Handler ----
	chatService, err := usecase.NewChatService(store, store, r, oracle, cfg.Conversation.MaxMessageLength, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create chat service")
	}

	h, err := handler.NewHandler(chatService, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create handler")
	}

	log.Info().
		Str("oracle", cfg.Oracle.Provider).
		Str("index", cfg.Index.Backend).
		Str("conversation_store", cfg.Conversation.Backend).
		Msg("whistle-agent ready")
	lambda.Start(h.Handle)
}

func newOracle(cfg config.OracleConfig, embedModel string, tokens *paramstore.Client) (usecase.Oracle, policyindex.Embedder, error) {
	switch cfg.Provider {
	case "gemini":
		c, err := gemini.NewClient(tokens, cfg.ParamPrefix,
			gemini.WithModel(cfg.Model),
			gemini.WithEmbedModel(embedModel),
			gemini.WithTemperature(float32(cfg.Temperature)),
		)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil
	default:
		opts := []openai.Option{
			openai.WithModel(cfg.Model),
			openai.WithTimeout(cfg.Timeout),
			openai.WithTemperature(cfg.Temperature),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		c, err := openai.NewClient(tokens, cfg.ParamPrefix, opts...)
		if err != nil {
			return nil, nil, err
		}
		return c, nil, nil
	}
}

func newStores(cfg config.ConversationConfig, awsCfg aws.Config) (stores, error) {
	if cfg.Backend == "dynamodb" {
		return repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.Table, usecase.SystemPrompt)
	}
	return conversation.NewMemoryStore(usecase.SystemPrompt, cfg.TTL)
}

func newIndex(ctx context.Context, cfg config.IndexConfig, embedder policyindex.Embedder, log zerolog.Logger) (retriever.Index, error) {
	switch cfg.Backend {
	case "sqlite":
		idx, err := policyindex.OpenSQLite(ctx, cfg.DBPath)
		if err != nil {
			return nil, err
		}
		n, err := idx.Count(ctx)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			log.Warn().Str("db", cfg.DBPath).Msg("policy index is empty; build it with the policyindex command")
		}
		return idx, nil
	case "vector":
		passages, err := loadCorpus(cfg.CorpusPath, log)
		if err != nil {
			return nil, err
		}
		idx, err := policyindex.NewVector(embedder)
		if err != nil {
			return nil, err
		}
		if err := idx.Build(ctx, passages); err != nil {
			return nil, err
		}
		return idx, nil
	default:
		passages, err := loadCorpus(cfg.CorpusPath, log)
		if err != nil {
			return nil, err
		}
		return policyindex.NewMemory(passages), nil
	}
}

func loadCorpus(path string, log zerolog.Logger) ([]domain.PolicyPassage, error) {
	passages, stats, err := policyindex.LoadCorpusFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("corpus", path).Msg("policy corpus not found; answering without policy context")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	log.Info().Str("corpus", path).Int("loaded", stats.Loaded).Int("skipped", stats.Skipped).Msg("policy corpus loaded")
	return passages, nil
}
