package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port          int              `json:"port"`
	Environment   string           `json:"environment"`
	JWTSecret     string           `json:"jwt_secret"`
	CORSAllowlist []string         `json:"cors_allowlist"`
	ChatRateLimit int              `json:"chat_rate_limit_seconds"`
	LogConfig     logger.LogConfig `json:"log_config"`
	Database      DatabaseConfig   `json:"database"`
	AI            AIConfig         `json:"ai"`
	Chunking      ChunkingConfig   `json:"chunking"`
	Retrieval     RetrievalConfig  `json:"retrieval"`
	Context       ContextConfig    `json:"context"`
	Agent         AgentConfig      `json:"agent"`
	Escalation    EscalationConfig `json:"escalation"`
	Sentiment     EndpointConfig   `json:"sentiment"`
	Ticketing     EndpointConfig   `json:"ticketing"`
	Lookup        EndpointConfig   `json:"lookup"`
	FileStore     FileStoreConfig  `json:"file_store"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

type AIConfig struct {
	Provider       string      `json:"provider"`
	Model          string      `json:"model"`
	EmbedModel     string      `json:"embed_model"`
	TimeoutSeconds int         `json:"timeout_seconds"`
	Data           interface{} `json:"data"`
}

type ChunkingConfig struct {
	MaxChars int `json:"max_chars"`
	Overlap  int `json:"overlap"`
}

type RetrievalConfig struct {
	TopK             int     `json:"top_k"`
	CandidateK       int     `json:"candidate_k"`
	LexicalWeight    float64 `json:"lexical_weight"`
	TimeoutSeconds   int     `json:"timeout_seconds"`
	CacheSize        int     `json:"cache_size"`
	CacheTTLMinutes  int     `json:"cache_ttl_minutes"`
	EmbedConcurrency int     `json:"embed_concurrency"`
}

type ContextConfig struct {
	HistoryTurns int `json:"history_turns"`
	TokenBudget  int `json:"token_budget"`
}

type AgentConfig struct {
	MaxSteps           int `json:"max_steps"`
	ToolTimeoutSeconds int `json:"tool_timeout_seconds"`
}

type EscalationConfig struct {
	SentimentThreshold float64 `json:"sentiment_threshold"`
	FailureThreshold   int     `json:"failure_threshold"`
	DeliveryAttempts   int     `json:"delivery_attempts"`
	RedeliverSpec      string  `json:"redeliver_spec"`
	SweepSpec          string  `json:"sweep_spec"`
}

type EndpointConfig struct {
	Endpoint       string `json:"endpoint"`
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	MaxAttempts    int    `json:"max_attempts"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.DBName == "") {
		return fmt.Errorf("database.dsn or database.host/db_name is required")
	}
	if c.AI.Provider == "" {
		return fmt.Errorf("ai.provider is required")
	}
	if c.AI.Model == "" || c.AI.EmbedModel == "" {
		return fmt.Errorf("ai.model and ai.embed_model are required")
	}
	if c.Chunking.Overlap != 0 && c.Chunking.MaxChars != 0 && c.Chunking.Overlap >= c.Chunking.MaxChars {
		return fmt.Errorf("chunking.overlap must be smaller than chunking.max_chars")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.AI.TimeoutSeconds == 0 {
		c.AI.TimeoutSeconds = 60
	}
	if c.Chunking.MaxChars == 0 {
		c.Chunking.MaxChars = 1000
	}
	if c.Chunking.Overlap == 0 {
		c.Chunking.Overlap = 200
	}
	if c.Retrieval.TopK == 0 {
		c.Retrieval.TopK = 5
	}
	if c.Retrieval.CandidateK == 0 {
		c.Retrieval.CandidateK = 4 * c.Retrieval.TopK
	}
	if c.Retrieval.LexicalWeight == 0 {
		c.Retrieval.LexicalWeight = 0.3
	}
	if c.Retrieval.TimeoutSeconds == 0 {
		c.Retrieval.TimeoutSeconds = 5
	}
	if c.Retrieval.CacheSize == 0 {
		c.Retrieval.CacheSize = 10000
	}
	if c.Retrieval.CacheTTLMinutes == 0 {
		c.Retrieval.CacheTTLMinutes = 120
	}
	if c.Retrieval.EmbedConcurrency == 0 {
		c.Retrieval.EmbedConcurrency = 4
	}
	if c.Context.HistoryTurns == 0 {
		c.Context.HistoryTurns = 10
	}
	if c.Context.TokenBudget == 0 {
		c.Context.TokenBudget = 3000
	}
	if c.Agent.MaxSteps == 0 {
		c.Agent.MaxSteps = 5
	}
	if c.Agent.ToolTimeoutSeconds == 0 {
		c.Agent.ToolTimeoutSeconds = 10
	}
	if c.Escalation.SentimentThreshold == 0 {
		c.Escalation.SentimentThreshold = -0.4
	}
	if c.Escalation.FailureThreshold == 0 {
		c.Escalation.FailureThreshold = 2
	}
	if c.Escalation.DeliveryAttempts == 0 {
		c.Escalation.DeliveryAttempts = 3
	}
	if c.Escalation.RedeliverSpec == "" {
		c.Escalation.RedeliverSpec = "*/5 * * * *"
	}
	if c.Escalation.SweepSpec == "" {
		c.Escalation.SweepSpec = "*/10 * * * *"
	}
	if c.Sentiment.TimeoutSeconds == 0 {
		c.Sentiment.TimeoutSeconds = 5
	}
	if c.Sentiment.MaxAttempts == 0 {
		c.Sentiment.MaxAttempts = 3
	}
	if c.Ticketing.TimeoutSeconds == 0 {
		c.Ticketing.TimeoutSeconds = 10
	}
	if c.Ticketing.MaxAttempts == 0 {
		c.Ticketing.MaxAttempts = 3
	}
	if c.Lookup.TimeoutSeconds == 0 {
		c.Lookup.TimeoutSeconds = 5
	}
}
