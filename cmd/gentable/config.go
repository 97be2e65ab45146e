package main

import (
	"os"
	"time"

	"github.com/spf13/cast"
)

// Config is the process-wide set of tunables assembled once at startup
// from the environment, coerced with spf13/cast rather than hand-rolled
// strconv parsing (§2.1's ambient configuration convention).
type Config struct {
	Addr string

	OpenAIAPIKey    string
	AnthropicAPIKey string
	GeminiAPIKey    string

	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string
	QdrantUseTLS bool

	CellBudget int // default per-request cell budget, §4.B

	PythonInterpreter string
	PythonBudget      time.Duration

	OrgCacheSize int
	OrgCacheTTL  time.Duration

	UsageFlushThreshold int
	UsageFlushInterval  time.Duration

	ProgressTTL          time.Duration
	ProgressSweepCron    string
}

func loadConfig() Config {
	return Config{
		Addr: getEnv("GENTABLE_ADDR", ":8080"),

		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),

		QdrantHost:   getEnv("QDRANT_HOST", "localhost"),
		QdrantPort:   getEnvInt("QDRANT_PORT", 6334),
		QdrantAPIKey: os.Getenv("QDRANT_API_KEY"),
		QdrantUseTLS: getEnvBool("QDRANT_USE_TLS", false),

		CellBudget: getEnvInt("GENTABLE_CELL_BUDGET", 15),

		PythonInterpreter: getEnv("GENTABLE_PYTHON_INTERPRETER", "python3"),
		PythonBudget:      getEnvDuration("GENTABLE_PYTHON_BUDGET", 10*time.Second),

		OrgCacheSize: getEnvInt("GENTABLE_ORG_CACHE_SIZE", 4096),
		OrgCacheTTL:  getEnvDuration("GENTABLE_ORG_CACHE_TTL", 5*time.Minute),

		UsageFlushThreshold: getEnvInt("GENTABLE_USAGE_FLUSH_THRESHOLD", 50),
		UsageFlushInterval:  getEnvDuration("GENTABLE_USAGE_FLUSH_INTERVAL", 10*time.Second),

		ProgressTTL:       getEnvDuration("GENTABLE_PROGRESS_TTL", 30*time.Minute),
		ProgressSweepCron: getEnv("GENTABLE_PROGRESS_SWEEP_CRON", "*/1 * * * *"),
	}
}

func getEnv(key, def string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	return v
}

func getEnvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	return cast.ToInt(v)
}

func getEnvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	return cast.ToBool(v)
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d := cast.ToDuration(v)
	if d == 0 {
		return def
	}
	return d
}
