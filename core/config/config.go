package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"taskengine.dev/engine/core/db"
)

// ServiceType selects which entrypoint is loading configuration, so shared
// env vars can be validated against what that entrypoint actually needs
// (e.g. the worker requires at least one LLM provider key; the HTTP API
// does not).
type ServiceType string

const (
	ServiceTypeServer ServiceType = "server"
	ServiceTypeWorker ServiceType = "worker"
	ServiceTypeTask   ServiceType = "task"
)

// Config holds all application configuration.
type Config struct {
	// Env is the environment name (development, staging, production)
	Env string

	// Port is the HTTP server port
	Port string

	// DB holds database configuration
	DB db.Config

	// Redis holds the shared connection string for both the event stream
	// (internal/store.EventStore) and the task queue (internal/queue).
	Redis RedisConfig

	// Queue configures the task-message stream internal/queue/internal/worker
	// consume from.
	Queue QueueConfig

	// OTel configures OpenTelemetry trace/log export.
	OTel OTelConfig

	// Providers holds per-provider LLM credentials, keyed by provider name
	// ("openai", "anthropic", "bedrock", "ollama") matching the names the
	// Router's ProviderProfile and common/llm.Config.Provider expect.
	Providers ProvidersConfig

	// RouterStrategy is the Router's default routing strategy
	// (local_first, cloud_first, cost_optimized, quality_first).
	RouterStrategy string

	// RouterPriority is the fixed hosted-fallback order the Router walks
	// when escalating past a local-first route or falling back from an
	// unavailable provider, e.g. "anthropic,openai,bedrock".
	RouterPriority []string
}

// RedisConfig is the shared Redis connection used by the queue and the
// event stream.
type RedisConfig struct {
	URL string
}

// QueueConfig configures the Redis Streams task queue.
type QueueConfig struct {
	GroupPrefix  string // consumer group name, used as-is on the shared task stream
	Consumer     string // this process's consumer name within the group
	DLQSuffix    string // appended to a stream name to get its dead-letter stream
	BatchSize       int64
	Block           time.Duration
	MaxAttempts     int
	RequeueDelay    time.Duration
	ReclaimMinIdle  time.Duration
	ReclaimInterval time.Duration
}

// OTelConfig configures OpenTelemetry trace/log export over OTLP/HTTP.
type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string // e.g. "https://otel-collector.internal:4318"; empty disables export
	Headers        string // comma-separated key=value pairs, e.g. "x-api-key=..."
}

// Enabled reports whether an OTLP endpoint was configured.
func (c OTelConfig) Enabled() bool {
	return c.Endpoint != ""
}

// ProvidersConfig groups the LLM provider configs the Router wires at
// startup. Each embeds common/llm.Config's shape so cmd/* can pass it
// straight to llm.NewAgentClient, plus the provider-specific extras
// (Bedrock's region, Ollama's local-only default).
type ProvidersConfig struct {
	OpenAI    ProviderConfig
	Anthropic ProviderConfig
	Bedrock   BedrockConfig
	Ollama    OllamaConfig
}

// ProviderConfig is the common shape for a hosted LLM API credential.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Enabled reports whether an API key was configured for this provider.
func (c ProviderConfig) Enabled() bool {
	return c.APIKey != ""
}

// BedrockConfig configures the AWS Bedrock Converse API fallback leg.
// Credentials are resolved through the standard AWS SDK credential chain
// (env vars, shared config, instance role) rather than stored here.
type BedrockConfig struct {
	Region string
	Model  string
}

// Enabled reports whether a region was configured for Bedrock.
func (c BedrockConfig) Enabled() bool {
	return c.Region != ""
}

// OllamaConfig configures the local-first AgentClient leg.
type OllamaConfig struct {
	BaseURL string
	Model   string
}

// Enabled reports whether a local Ollama endpoint was configured.
func (c OllamaConfig) Enabled() bool {
	return c.BaseURL != ""
}

// Load loads configuration from environment variables, validating the
// fields the given ServiceType actually exercises.
func Load(serviceType ServiceType) (Config, error) {
	cfg := Config{
		Env:  getEnv("TASKENGINE_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		DB: db.Config{
			DSN:      buildDSN(),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		Queue: QueueConfig{
			GroupPrefix:     getEnv("QUEUE_GROUP_PREFIX", "taskengine-workers"),
			Consumer:        getEnv("QUEUE_CONSUMER_NAME", hostnameOr("worker-1")),
			DLQSuffix:       getEnv("QUEUE_DLQ_SUFFIX", "-dlq"),
			BatchSize:       int64(getEnvInt("QUEUE_BATCH_SIZE", 10)),
			Block:           getEnvDuration("QUEUE_BLOCK", 5*time.Second),
			MaxAttempts:     getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
			RequeueDelay:    getEnvDuration("QUEUE_REQUEUE_DELAY", time.Second),
			ReclaimMinIdle:  getEnvDuration("QUEUE_RECLAIM_MIN_IDLE", 5*time.Minute),
			ReclaimInterval: getEnvDuration("QUEUE_RECLAIM_INTERVAL", time.Minute),
		},
		OTel: OTelConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "taskengine-"+string(serviceType)),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				APIKey:  getEnv("OPENAI_API_KEY", ""),
				BaseURL: getEnv("OPENAI_BASE_URL", ""),
				Model:   getEnv("OPENAI_MODEL", "gpt-4o"),
			},
			Anthropic: ProviderConfig{
				APIKey:  getEnv("ANTHROPIC_API_KEY", ""),
				BaseURL: getEnv("ANTHROPIC_BASE_URL", ""),
				Model:   getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
			},
			Bedrock: BedrockConfig{
				Region: getEnv("BEDROCK_REGION", ""),
				Model:  getEnv("BEDROCK_MODEL", "anthropic.claude-3-5-sonnet-20241022-v2:0"),
			},
			Ollama: OllamaConfig{
				BaseURL: getEnv("OLLAMA_BASE_URL", ""),
				Model:   getEnv("OLLAMA_MODEL", "llama3.1"),
			},
		},
		RouterStrategy: getEnv("ROUTER_STRATEGY", "cost_optimized"),
		RouterPriority: splitCSV(getEnv("ROUTER_PRIORITY", "anthropic,openai,bedrock")),
	}

	if serviceType == ServiceTypeWorker {
		if !cfg.Providers.OpenAI.Enabled() && !cfg.Providers.Anthropic.Enabled() &&
			!cfg.Providers.Bedrock.Enabled() && !cfg.Providers.Ollama.Enabled() {
			return cfg, fmt.Errorf("worker requires at least one LLM provider configured (OPENAI_API_KEY, ANTHROPIC_API_KEY, BEDROCK_REGION, or OLLAMA_BASE_URL)")
		}
	}

	return cfg, nil
}

// buildDSN constructs the database connection string from individual env vars.
func buildDSN() string {
	host := getEnv("DATABASE_HOST", "localhost")
	port := getEnv("DATABASE_PORT", "5432")
	user := getEnv("DATABASE_USER", "postgres")
	password := getEnv("DATABASE_PASSWORD", "postgres")
	name := getEnv("DATABASE_NAME", "taskengine")
	sslMode := getEnv("DATABASE_SSLMODE", "disable")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, name, sslMode,
	)
}

// IsProduction returns true if running in production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hostnameOr(fallback string) string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return fallback
	}
	return h
}
