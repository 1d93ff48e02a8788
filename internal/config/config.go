package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the DocuLens analysis engine.
type Config struct {
	Port      int
	Version   string
	Store     StoreConfig
	Workflow  WorkflowConfig
	Reasoning ReasoningConfig
	Telemetry TelemetryConfig
}

type StoreConfig struct {
	// DataDir is the directory for the Badger database. Empty means the
	// store runs fully in memory (tests, local dev).
	DataDir string
}

type WorkflowConfig struct {
	// CacheTTL bounds how long a cached workflow result stays eligible.
	CacheTTL time.Duration

	// AgentTimeout bounds a single agent execution, including the
	// reasoning-service call. A timeout counts as an agent failure.
	AgentTimeout time.Duration

	// MaxConcurrentAgents bounds how many agents of one session may run
	// at the same time.
	MaxConcurrentAgents int

	// ResultPolicy is an expression over the aggregated outputs that
	// decides whether a run counts as completed. Identifiers: summary,
	// entities, graph, classification, each true when the corresponding
	// agent produced output.
	ResultPolicy string
}

type ReasoningConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("DOCULENS_PORT", 8080),
		Version: envStr("DOCULENS_VERSION", "0.2.0"),
		Store: StoreConfig{
			DataDir: envStr("DOCULENS_DATA_DIR", ""),
		},
		Workflow: WorkflowConfig{
			CacheTTL:            envDur("DOCULENS_CACHE_TTL", 24*time.Hour),
			AgentTimeout:        envDur("DOCULENS_AGENT_TIMEOUT", 90*time.Second),
			MaxConcurrentAgents: envInt("DOCULENS_MAX_CONCURRENT_AGENTS", 3),
			ResultPolicy:        envStr("DOCULENS_RESULT_POLICY", "summary && graph"),
		},
		Reasoning: ReasoningConfig{
			APIKey:  envStr("OPENAI_API_KEY", ""),
			Model:   envStr("OPENAI_MODEL", "gpt-4o-mini"),
			BaseURL: envStr("OPENAI_BASE_URL", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "doculens-engine"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
