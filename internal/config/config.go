package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. WHISTLE_ORACLE_MODEL.
const EnvPrefix = "WHISTLE"

// ConfigFileEnv names an optional yaml or json config file.
const ConfigFileEnv = "WHISTLE_CONFIG"

// Config is the full service configuration.
type Config struct {
	Log          LogConfig          `mapstructure:"log"`
	Oracle       OracleConfig       `mapstructure:"oracle"`
	Index        IndexConfig        `mapstructure:"index"`
	Retriever    RetrieverConfig    `mapstructure:"retriever"`
	Conversation ConversationConfig `mapstructure:"conversation"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"` // empty logs to stdout
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type OracleConfig struct {
	Provider    string        `mapstructure:"provider"` // "openai" or "gemini"
	Model       string        `mapstructure:"model"`
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float64       `mapstructure:"temperature"`
	ParamPrefix string        `mapstructure:"param_prefix"`
}

type IndexConfig struct {
	Backend    string `mapstructure:"backend"` // "memory", "sqlite" or "vector"
	CorpusPath string `mapstructure:"corpus_path"`
	DBPath     string `mapstructure:"db_path"`
	EmbedModel string `mapstructure:"embed_model"`
}

type RetrieverConfig struct {
	SearchK   int `mapstructure:"search_k"`
	ContextK  int `mapstructure:"context_k"`
	MaxTokens int `mapstructure:"max_tokens"`
}

type ConversationConfig struct {
	Backend          string        `mapstructure:"backend"` // "memory" or "dynamodb"
	Table            string        `mapstructure:"table"`
	TTL              time.Duration `mapstructure:"ttl"`
	MaxMessageLength int           `mapstructure:"max_message_length"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)

	v.SetDefault("oracle.provider", "openai")
	v.SetDefault("oracle.model", "")
	v.SetDefault("oracle.base_url", "")
	v.SetDefault("oracle.timeout", 60*time.Second)
	v.SetDefault("oracle.temperature", 0.2)
	v.SetDefault("oracle.param_prefix", "/whistle-agent")

	v.SetDefault("index.backend", "memory")
	v.SetDefault("index.corpus_path", "data/policy_corpus.jsonl")
	v.SetDefault("index.db_path", "data/policy_index.db")
	v.SetDefault("index.embed_model", "")

	v.SetDefault("retriever.search_k", 5)
	v.SetDefault("retriever.context_k", 3)
	v.SetDefault("retriever.max_tokens", 2000)

	v.SetDefault("conversation.backend", "memory")
	v.SetDefault("conversation.table", "")
	v.SetDefault("conversation.ttl", 24*time.Hour)
	v.SetDefault("conversation.max_message_length", 4000)
}

// Load reads defaults, the optional file named by WHISTLE_CONFIG and
// WHISTLE_* environment overrides, then validates the result.
func Load() (*Config, error) {
	return load(os.Getenv(ConfigFileEnv))
}

func load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid setting in one error.
func (c *Config) Validate() error {
	var errs []error
	switch c.Oracle.Provider {
	case "openai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("oracle.provider %q is not one of openai, gemini", c.Oracle.Provider))
	}
	if strings.Trim(strings.TrimSpace(c.Oracle.ParamPrefix), "/") == "" {
		errs = append(errs, errors.New("oracle.param_prefix must not be empty"))
	}

	switch c.Index.Backend {
	case "memory", "vector":
		if c.Index.CorpusPath == "" {
			errs = append(errs, fmt.Errorf("index.corpus_path is required for the %s backend", c.Index.Backend))
		}
	case "sqlite":
		if c.Index.DBPath == "" {
			errs = append(errs, errors.New("index.db_path is required for the sqlite backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("index.backend %q is not one of memory, sqlite, vector", c.Index.Backend))
	}
	if c.Index.Backend == "vector" && c.Oracle.Provider != "gemini" {
		errs = append(errs, errors.New("index.backend vector requires oracle.provider gemini"))
	}

	if c.Retriever.SearchK <= 0 || c.Retriever.ContextK <= 0 || c.Retriever.MaxTokens <= 0 {
		errs = append(errs, errors.New("retriever.search_k, context_k and max_tokens must be positive"))
	}

	switch c.Conversation.Backend {
	case "memory":
	case "dynamodb":
		if c.Conversation.Table == "" {
			errs = append(errs, errors.New("conversation.table is required for the dynamodb backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("conversation.backend %q is not one of memory, dynamodb", c.Conversation.Backend))
	}
	if c.Conversation.TTL < 0 {
		errs = append(errs, errors.New("conversation.ttl must not be negative"))
	}
	if c.Conversation.MaxMessageLength <= 0 {
		errs = append(errs, errors.New("conversation.max_message_length must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
