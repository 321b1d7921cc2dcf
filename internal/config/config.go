// Package config loads the saga engine's configuration via viper, following
// the section-struct + per-section Validate() convention used throughout
// the upstream service this module was adapted from.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for every binary in this module.
// Each binary loads the whole thing and uses the sections it needs.
type Config struct {
	Registry      RegistryConfig      `mapstructure:"registry"`
	SagaStore     RedisConfig         `mapstructure:"saga_store"`
	Bus           RedisConfig         `mapstructure:"bus"`
	LLM           LLMConfig           `mapstructure:"llm"`
	API           APIConfig           `mapstructure:"api"`
	KnowledgeBase KnowledgeBaseConfig `mapstructure:"knowledge_base"`
	Saga          SagaConfig          `mapstructure:"saga"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
}

// RedisConfig describes a Redis connection, shared shape for the saga
// state store and the stream bus (they may point at the same instance or
// two distinct ones).
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("redis.port required")
	}
	return nil
}

// RegistryConfig controls the tool registry client and server.
type RegistryConfig struct {
	URL                 string        `mapstructure:"url"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
	HealthProbeInterval time.Duration `mapstructure:"health_probe_interval"`
	StaleAfter          time.Duration `mapstructure:"stale_after"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
}

func (r RegistryConfig) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("registry.url required")
	}
	return nil
}

// Normalize fills in the 30s/30s/1h/30s defaults spec.md §4.1 names.
func (r RegistryConfig) Normalize() RegistryConfig {
	if r.HeartbeatInterval <= 0 {
		r.HeartbeatInterval = 30 * time.Second
	}
	if r.HealthProbeInterval <= 0 {
		r.HealthProbeInterval = 30 * time.Second
	}
	if r.StaleAfter <= 0 {
		r.StaleAfter = time.Hour
	}
	if r.SweepInterval <= 0 {
		r.SweepInterval = 30 * time.Second
	}
	return r
}

// LLMConfig controls the LLM client used by the tool loop, stage 3
// formatter, and the retrieval-only Q&A path.
type LLMConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CompletionModel string        `mapstructure:"completion_model"`
	EmbeddingModel  string        `mapstructure:"embedding_model"`
	Mock            bool          `mapstructure:"mock"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
}

func (c LLMConfig) Validate() error {
	if c.Mock {
		return nil
	}
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("llm.api_key required unless llm.mock is set")
	}
	return nil
}

func (c LLMConfig) Normalize() LLMConfig {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 60 * time.Second
	}
	if c.CompletionModel == "" {
		c.CompletionModel = "gpt-4o-mini"
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = "text-embedding-3-small"
	}
	return c
}

// APIConfig controls the HTTP submit/poll surface.
type APIConfig struct {
	Addr        string        `mapstructure:"addr"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
	JWTSecret   string        `mapstructure:"jwt_secret"`
}

func (c APIConfig) Normalize() APIConfig {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 60 * time.Second
	}
	return c
}

// KnowledgeBaseConfig controls the Postgres/pgvector-backed KB store.
type KnowledgeBaseConfig struct {
	Postgres            PostgresConfig `mapstructure:"postgres"`
	EmbeddingDimensions int            `mapstructure:"embedding_dimensions"`
	MaxChunkSize        int            `mapstructure:"max_chunk_size"`
	SimilarityThreshold float64        `mapstructure:"similarity_threshold"`
	TopK                int            `mapstructure:"top_k"`
	WriterBatchSize     int            `mapstructure:"writer_batch_size"`
}

func (c KnowledgeBaseConfig) Normalize() KnowledgeBaseConfig {
	if c.EmbeddingDimensions <= 0 {
		c.EmbeddingDimensions = 768
	}
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = 1000
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.5
	}
	if c.TopK <= 0 {
		c.TopK = 4
	}
	if c.WriterBatchSize <= 0 {
		c.WriterBatchSize = 32
	}
	return c
}

// PostgresConfig contains Postgres connection settings for the vector store.
type PostgresConfig struct {
	URL     string        `mapstructure:"url"`
	SSLMode string        `mapstructure:"sslmode"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) == "" {
		return fmt.Errorf("knowledge_base.postgres.url required")
	}
	return nil
}

// SagaConfig carries the timeouts from spec.md §5.
type SagaConfig struct {
	LLMCallTimeout          time.Duration `mapstructure:"llm_call_timeout"`
	ToolCallTimeout         time.Duration `mapstructure:"tool_call_timeout"`
	StageWallClockTimeout   time.Duration `mapstructure:"stage_wall_clock_timeout"`
	SagaWallClockTimeout    time.Duration `mapstructure:"saga_wall_clock_timeout"`
	MaxToolLoopIterations   int           `mapstructure:"max_tool_loop_iterations"`
	SelfCorrectionBudget    int           `mapstructure:"self_correction_budget"`
	StateTTL                time.Duration `mapstructure:"state_ttl"`
}

func (s SagaConfig) Normalize() SagaConfig {
	if s.LLMCallTimeout <= 0 {
		s.LLMCallTimeout = 60 * time.Second
	}
	if s.ToolCallTimeout <= 0 {
		s.ToolCallTimeout = 30 * time.Second
	}
	if s.StageWallClockTimeout <= 0 {
		s.StageWallClockTimeout = 180 * time.Second
	}
	if s.SagaWallClockTimeout <= 0 {
		s.SagaWallClockTimeout = 5 * time.Minute
	}
	if s.MaxToolLoopIterations <= 0 {
		s.MaxToolLoopIterations = 8
	}
	if s.StateTTL <= 0 {
		s.StateTTL = time.Hour
	}
	// Self-correction budget is fixed at 1 per SPEC_FULL.md Open Question 1;
	// any configured value, including an unset (zero) one, is replaced by 1.
	s.SelfCorrectionBudget = 1
	return s
}

// TelemetryConfig controls logging/metrics/tracing bootstrap.
type TelemetryConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
	LogLevel    string `mapstructure:"log_level"`
}

func (t TelemetryConfig) Normalize() TelemetryConfig {
	if t.MetricsAddr == "" {
		t.MetricsAddr = ":9090"
	}
	if t.LogLevel == "" {
		t.LogLevel = "info"
	}
	return t
}

// Load reads config from path (or the default search locations) plus
// SAGA_-prefixed environment variables, the way config/config.go in the
// upstream service does for its own NEWSER_ prefix.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if path == "" {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		exe, err := os.Executable()
		if err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, ".."))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("SAGA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Map the literal spec.md §6 env var names onto config keys so the
	// abstract contract (LLM_API_KEY, STATE_STORE_URL, BUS_URL,
	// REGISTRY_URL, MOCK_LLM) works without a SAGA_ prefix too.
	bindLiteralEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Registry = cfg.Registry.Normalize()
	cfg.LLM = cfg.LLM.Normalize()
	cfg.API = cfg.API.Normalize()
	cfg.KnowledgeBase = cfg.KnowledgeBase.Normalize()
	cfg.Saga = cfg.Saga.Normalize()
	cfg.Telemetry = cfg.Telemetry.Normalize()

	if err := cfg.Registry.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.SagaStore.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Bus.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.LLM.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func bindLiteralEnv(v *viper.Viper) {
	_ = v.BindEnv("llm.api_key", "LLM_API_KEY")
	_ = v.BindEnv("saga_store.host", "STATE_STORE_URL")
	_ = v.BindEnv("bus.host", "BUS_URL")
	_ = v.BindEnv("registry.url", "REGISTRY_URL")
	_ = v.BindEnv("llm.mock", "MOCK_LLM")
	_ = v.BindEnv("api.jwt_secret", "API_JWT_SECRET")
}
