package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "openai", cfg.Oracle.Provider)
	require.Equal(t, 60*time.Second, cfg.Oracle.Timeout)
	require.Equal(t, "/whistle-agent", cfg.Oracle.ParamPrefix)
	require.Equal(t, "memory", cfg.Index.Backend)
	require.Equal(t, RetrieverConfig{SearchK: 5, ContextK: 3, MaxTokens: 2000}, cfg.Retriever)
	require.Equal(t, "memory", cfg.Conversation.Backend)
	require.Equal(t, 24*time.Hour, cfg.Conversation.TTL)
	require.Equal(t, 4000, cfg.Conversation.MaxMessageLength)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(ConfigFileEnv, "")
	t.Setenv("WHISTLE_ORACLE_MODEL", "gpt-4o-mini")
	t.Setenv("WHISTLE_RETRIEVER_CONTEXT_K", "4")
	t.Setenv("WHISTLE_CONVERSATION_BACKEND", "dynamodb")
	t.Setenv("WHISTLE_CONVERSATION_TABLE", "whistle-state")
	t.Setenv("WHISTLE_CONVERSATION_TTL", "30m")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-mini", cfg.Oracle.Model)
	require.Equal(t, 4, cfg.Retriever.ContextK)
	require.Equal(t, "dynamodb", cfg.Conversation.Backend)
	require.Equal(t, "whistle-state", cfg.Conversation.Table)
	require.Equal(t, 30*time.Minute, cfg.Conversation.TTL)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whistle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
oracle:
  provider: gemini
  param_prefix: /bank/whistle
index:
  backend: sqlite
  db_path: /tmp/policy.db
log:
  level: debug
  file: /tmp/whistle.log
`), 0o600))
	t.Setenv(ConfigFileEnv, path)
	t.Setenv("WHISTLE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "gemini", cfg.Oracle.Provider)
	require.Equal(t, "/bank/whistle", cfg.Oracle.ParamPrefix)
	require.Equal(t, "sqlite", cfg.Index.Backend)
	require.Equal(t, "/tmp/policy.db", cfg.Index.DBPath)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, "/tmp/whistle.log", cfg.Log.File)
}

func TestLoad_MissingFile(t *testing.T) {
	t.Setenv(ConfigFileEnv, filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "config: read")
}

func validConfig() Config {
	return Config{
		Oracle:       OracleConfig{Provider: "openai", ParamPrefix: "/whistle-agent"},
		Index:        IndexConfig{Backend: "memory", CorpusPath: "corpus.jsonl"},
		Retriever:    RetrieverConfig{SearchK: 5, ContextK: 3, MaxTokens: 2000},
		Conversation: ConversationConfig{Backend: "memory", TTL: time.Hour, MaxMessageLength: 4000},
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown provider", func(c *Config) { c.Oracle.Provider = "ollama" }, "oracle.provider"},
		{"empty prefix", func(c *Config) { c.Oracle.ParamPrefix = " / " }, "param_prefix"},
		{"unknown index", func(c *Config) { c.Index.Backend = "faiss" }, "index.backend"},
		{"memory without corpus", func(c *Config) { c.Index.CorpusPath = "" }, "corpus_path"},
		{"sqlite without db", func(c *Config) { c.Index.Backend = "sqlite"; c.Index.DBPath = "" }, "db_path"},
		{"vector needs gemini", func(c *Config) { c.Index.Backend = "vector" }, "requires oracle.provider gemini"},
		{"zero context k", func(c *Config) { c.Retriever.ContextK = 0 }, "must be positive"},
		{"dynamodb without table", func(c *Config) { c.Conversation.Backend = "dynamodb" }, "conversation.table"},
		{"unknown store", func(c *Config) { c.Conversation.Backend = "redis" }, "conversation.backend"},
		{"negative ttl", func(c *Config) { c.Conversation.TTL = -time.Second }, "ttl"},
		{"zero max length", func(c *Config) { c.Conversation.MaxMessageLength = 0 }, "max_message_length"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}

	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}
