package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the chaos engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Models    ModelsConfig    `yaml:"models"`
	Weaviate  WeaviateConfig  `yaml:"weaviate"`
	Chaos     ChaosConfig     `yaml:"chaos"`
	Router    RouterConfig    `yaml:"router"`
	SLO       SLOConfig       `yaml:"slo"`
	Policies  PoliciesConfig  `yaml:"policies"`
	Incidents IncidentsConfig `yaml:"incidents"`
	Shadow    ShadowConfig    `yaml:"shadow"`
	Replay    ReplayConfig    `yaml:"replay"`
}

// ServerConfig controls HTTP, gRPC and metrics listeners.
type ServerConfig struct {
	HTTPAddress     string        `yaml:"httpAddress"`
	GRPCAddress     string        `yaml:"grpcAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// TracingConfig toggles the OpenTelemetry stdout exporter.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"serviceName"`
}

// ModelsConfig selects the generation backend and model identifiers.
type ModelsConfig struct {
	Provider  string        `yaml:"provider"`
	BaseURL   string        `yaml:"baseURL"`
	APIKey    string        `yaml:"apiKey"`
	Primary   string        `yaml:"primary"`
	Secondary string        `yaml:"secondary"`
	Judge     string        `yaml:"judge"`
	Embedding string        `yaml:"embedding"`
	Timeout   time.Duration `yaml:"timeout"`
}

// WeaviateConfig configures the retrieval store.
type WeaviateConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	APIKey    string        `yaml:"apiKey"`
	ClassName string        `yaml:"className"`
	TopK      int           `yaml:"topK"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ChaosConfig holds the master injection flag and the fault table location.
type ChaosConfig struct {
	Enabled    bool   `yaml:"enabled"`
	FaultsPath string `yaml:"faultsPath"`
	Watch      bool   `yaml:"watch"`
}

// RouterConfig tunes retries, caching and circuit breaking.
type RouterConfig struct {
	MaxRetries    int           `yaml:"maxRetries"`
	CacheTTL      time.Duration `yaml:"cacheTTL"`
	CacheCapacity int           `yaml:"cacheCapacity"`
	Breaker       BreakerConfig `yaml:"breaker"`
}

// BreakerConfig mirrors breaker.Config in YAML form.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	RecoveryTimeout  time.Duration `yaml:"recoveryTimeout"`
	HalfOpenTrials   int           `yaml:"halfOpenTrials"`
}

// SLOConfig points at the SLO target file.
type SLOConfig struct {
	Path string `yaml:"path"`
}

// PoliciesConfig points at the governance policy file.
type PoliciesConfig struct {
	Path string `yaml:"path"`
}

// IncidentsConfig throttles incident creation.
type IncidentsConfig struct {
	MinInterval time.Duration `yaml:"minInterval"`
}

// ShadowConfig controls live traffic sampling for replay.
type ShadowConfig struct {
	Path       string  `yaml:"path"`
	SampleRate float64 `yaml:"sampleRate"`
}

// ReplayConfig controls the replay comparator.
type ReplayConfig struct {
	SimilarityThreshold float64 `yaml:"similarityThreshold"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_CHAOS_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Models.Provider) {
	case "ollama", "openai":
	default:
		return fmt.Errorf("models.provider %q must be ollama or openai", c.Models.Provider)
	}
	if c.Models.Primary == "" || c.Models.Secondary == "" {
		return fmt.Errorf("models.primary and models.secondary are required")
	}
	if c.Router.MaxRetries < 0 {
		return fmt.Errorf("router.maxRetries must be >= 0")
	}
	if c.Shadow.SampleRate < 0 || c.Shadow.SampleRate > 1 {
		return fmt.Errorf("shadow.sampleRate must be within [0,1]")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddress:     ":8080",
			GRPCAddress:     ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Tracing: TracingConfig{ServiceName: "mirador-chaos"},
		Models: ModelsConfig{
			Provider:  "ollama",
			BaseURL:   "http://localhost:11434",
			Primary:   "llama3",
			Secondary: "mistral",
			Judge:     "llama3",
			Embedding: "nomic-embed-text",
			Timeout:   30 * time.Second,
		},
		Weaviate: WeaviateConfig{ClassName: "Document", TopK: 3, Timeout: 5 * time.Second},
		Chaos:    ChaosConfig{FaultsPath: "configs/chaos/faults.yaml", Watch: true},
		Router: RouterConfig{
			MaxRetries:    2,
			CacheTTL:      5 * time.Minute,
			CacheCapacity: 200,
			Breaker: BreakerConfig{
				FailureThreshold: 3,
				RecoveryTimeout:  30 * time.Second,
				HalfOpenTrials:   2,
			},
		},
		SLO:       SLOConfig{Path: "configs/policies/slo.yaml"},
		Policies:  PoliciesConfig{Path: "configs/policies/rules.yaml"},
		Incidents: IncidentsConfig{MinInterval: time.Minute},
		Shadow:    ShadowConfig{Path: "data/shadow_logs.jsonl", SampleRate: 0.1},
		Replay:    ReplayConfig{SimilarityThreshold: 0.7},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_CHAOS_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("MIRADOR_CHAOS_GRPC_ADDRESS"); v != "" {
		cfg.Server.GRPCAddress = v
	}
	if v := os.Getenv("MIRADOR_CHAOS_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_CHAOS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_CHAOS_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_CHAOS_TRACING"); v != "" {
		cfg.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_CHAOS_MODEL_PROVIDER"); v != "" {
		cfg.Models.Provider = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.Models.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_CHAOS_MODEL_BASE_URL"); v != "" {
		cfg.Models.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_CHAOS_MODEL_API_KEY"); v != "" {
		cfg.Models.APIKey = v
	}
	if v := os.Getenv("PRIMARY_MODEL"); v != "" {
		cfg.Models.Primary = v
	}
	if v := os.Getenv("SECONDARY_MODEL"); v != "" {
		cfg.Models.Secondary = v
	}
	if v := os.Getenv("MIRADOR_CHAOS_JUDGE_MODEL"); v != "" {
		cfg.Models.Judge = v
	}
	if v := os.Getenv("MIRADOR_CHAOS_EMBEDDING_MODEL"); v != "" {
		cfg.Models.Embedding = v
	}
	if v := os.Getenv("MIRADOR_CHAOS_MODEL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Models.Timeout = d
		}
	}
	if v := os.Getenv("MIRADOR_CHAOS_WEAVIATE_URL"); v != "" {
		cfg.Weaviate.Endpoint = v
	}
	if v := os.Getenv("MIRADOR_CHAOS_WEAVIATE_API_KEY"); v != "" {
		cfg.Weaviate.APIKey = v
	}
	if v := os.Getenv("ENABLE_CHAOS"); v != "" {
		cfg.Chaos.Enabled = parseBool(v)
	}
	if v := os.Getenv("MIRADOR_CHAOS_FAULTS_PATH"); v != "" {
		cfg.Chaos.FaultsPath = v
	}
	if v := os.Getenv("MIRADOR_CHAOS_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Router.MaxRetries = n
		}
	}
	if v := os.Getenv("MIRADOR_CHAOS_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Router.CacheTTL = d
		}
	}
	if v := os.Getenv("MIRADOR_CHAOS_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Router.CacheCapacity = n
		}
	}
	if v := os.Getenv("MIRADOR_CHAOS_SLO_PATH"); v != "" {
		cfg.SLO.Path = v
	}
	if v := os.Getenv("MIRADOR_CHAOS_POLICIES_PATH"); v != "" {
		cfg.Policies.Path = v
	}
	if v := os.Getenv("MIRADOR_CHAOS_SHADOW_PATH"); v != "" {
		cfg.Shadow.Path = v
	}
	if v := os.Getenv("MIRADOR_CHAOS_SHADOW_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Shadow.SampleRate = f
		}
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
