package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port          int              `json:"port"`
	JWTSecret     string           `json:"jwt_secret"`
	JWTAudience   string           `json:"jwt_audience"`
	CORSAllowlist []string         `json:"cors_allowlist"`
	LogConfig     logger.LogConfig `json:"log_config"`
	DocStore      DocStoreConfig   `json:"doc_store"`
	AI            AIConfig         `json:"ai"`
	Pipeline      PipelineConfig   `json:"pipeline"`
}

type DocStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type AIConfig struct {
	Embed ProviderConfig `json:"embed"`
	Chat  ProviderConfig `json:"chat"`
}

type ProviderConfig struct {
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type PipelineConfig struct {
	ChunkSize            int    `json:"chunk_size"`
	ChunkOverlap         int    `json:"chunk_overlap"`
	TopK                 int    `json:"top_k"`
	EmbedBatchSize       int    `json:"embed_batch_size"`
	IndexCacheSize       int    `json:"index_cache_size"`
	IndexCacheTTLMinutes int    `json:"index_cache_ttl_minutes"`
	IndexRateLimitSecs   int    `json:"index_rate_limit_seconds"`
	SweepSpec            string `json:"sweep_spec"`
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
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret is required")
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.JWTAudience == "" {
		cfg.JWTAudience = "authenticated"
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.DocStore.Type == "" {
		return nil, fmt.Errorf("doc_store.type is required")
	}
	if cfg.AI.Embed.Provider == "" || cfg.AI.Embed.Model == "" {
		return nil, fmt.Errorf("ai.embed provider/model are required")
	}
	if cfg.AI.Chat.Provider == "" || cfg.AI.Chat.Model == "" {
		return nil, fmt.Errorf("ai.chat provider/model are required")
	}
	applyPipelineDefaults(&cfg.Pipeline)
	if cfg.Pipeline.ChunkOverlap >= cfg.Pipeline.ChunkSize {
		return nil, fmt.Errorf("pipeline.chunk_overlap must be smaller than chunk_size")
	}
	return &cfg, nil
}

func applyPipelineDefaults(p *PipelineConfig) {
	if p.ChunkSize == 0 {
		p.ChunkSize = 1500
	}
	if p.ChunkOverlap == 0 {
		p.ChunkOverlap = 300
	}
	if p.TopK == 0 {
		p.TopK = 6
	}
	if p.EmbedBatchSize == 0 {
		p.EmbedBatchSize = 32
	}
	if p.IndexCacheSize == 0 {
		p.IndexCacheSize = 64
	}
	if p.IndexCacheTTLMinutes == 0 {
		p.IndexCacheTTLMinutes = 120
	}
	if p.IndexRateLimitSecs == 0 {
		p.IndexRateLimitSecs = 10
	}
	if p.SweepSpec == "" {
		p.SweepSpec = "*/30 * * * *"
	}
}
