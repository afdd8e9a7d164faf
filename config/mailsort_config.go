package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// generateInstanceID creates a unique instance ID using hostname and PID
func generateInstanceID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "mailsort"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string

	// Database
	DatabaseURL string
	RedisURL    string

	// OpenAI
	OpenAIAPIKey   string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeoutSec  int
	LLMMaxRetries  int
	LLMThreshold   float64

	// Model servers (fastText / BERT style HTTP endpoints)
	FastTextURL       string
	FastTextThreshold float64
	FastTextLabelMap  map[int]string
	BERTURL           string
	BERTThreshold     float64
	BERTLabelMap      map[int]string
	ModelTimeoutSec   int

	// OAuth - Microsoft
	MicrosoftClientID     string
	MicrosoftClientSecret string
	MicrosoftTenantID     string

	// Monitor
	InstanceID            string
	MonitorIntervalSec    int
	MonitorMinIntervalMin int
	MonitorBootstrapHour  int
	MonitorFetchLimit     int
	MonitorLeaseTTLSec    int

	// Cache
	CacheMappingTTLMin int

	// Forwarding
	ForwardComment string

	// CORS
	AllowedOrigins []string

	// Scheduler
	SchedulerEnabled bool
}

func Load() (*Config, error) {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		// OpenAI
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		LLMModel:       getEnv("LLM_MODEL", "gpt-4o-mini"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 512),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.0),
		LLMTimeoutSec:  getEnvInt("LLM_TIMEOUT_SEC", 60),
		LLMMaxRetries:  getEnvInt("LLM_MAX_RETRIES", 3),
		LLMThreshold:   getEnvFloat("LLM_THRESHOLD", 0.95),

		// Model servers
		FastTextURL:       getEnv("FASTTEXT_URL", ""),
		FastTextThreshold: getEnvFloat("FASTTEXT_THRESHOLD", 0.95),
		FastTextLabelMap:  getEnvLabelMap("FASTTEXT_LABEL_MAP"),
		BERTURL:           getEnv("BERT_URL", ""),
		BERTThreshold:     getEnvFloat("BERT_THRESHOLD", 0.9),
		BERTLabelMap:      getEnvLabelMap("BERT_LABEL_MAP"),
		ModelTimeoutSec:   getEnvInt("MODEL_TIMEOUT_SEC", 10),

		// OAuth - Microsoft
		MicrosoftClientID:     getEnv("MICROSOFT_CLIENT_ID", ""),
		MicrosoftClientSecret: getEnv("MICROSOFT_CLIENT_SECRET", ""),
		MicrosoftTenantID:     getEnv("MICROSOFT_TENANT_ID", "common"),

		// Monitor
		InstanceID:            getEnv("INSTANCE_ID", generateInstanceID()),
		MonitorIntervalSec:    getEnvInt("MONITOR_INTERVAL_SEC", 60),
		MonitorMinIntervalMin: getEnvInt("MONITOR_MIN_INTERVAL_MIN", 1),
		MonitorBootstrapHour:  getEnvInt("MONITOR_BOOTSTRAP_HOUR", 2),
		MonitorFetchLimit:     getEnvInt("MONITOR_FETCH_LIMIT", 50),
		MonitorLeaseTTLSec:    getEnvInt("MONITOR_LEASE_TTL_SEC", 300),

		// Cache
		CacheMappingTTLMin: getEnvInt("CACHE_MAPPING_TTL_MIN", 30),

		// Forwarding
		ForwardComment: getEnv("FORWARD_COMMENT", "Auto-forwarded"),

		// CORS
		AllowedOrigins: getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),

		// Scheduler
		SchedulerEnabled: getEnvBool("SCHEDULER_ENABLED", true),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// parseLabelMap parses "1:purchase,2:techsupport" into a numeric label map.
// Malformed entries are skipped; empty input returns nil so callers fall
// back to their built-in map.
func parseLabelMap(value string) map[int]string {
	var m map[int]string
	for _, pair := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			continue
		}
		label, err := strconv.Atoi(strings.TrimSpace(k))
		category := strings.TrimSpace(v)
		if err != nil || category == "" {
			continue
		}
		if m == nil {
			m = make(map[int]string)
		}
		m[label] = category
	}
	return m
}

func getEnvLabelMap(key string) map[int]string {
	return parseLabelMap(os.Getenv(key))
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// MonitorInterval returns the scheduler tick interval.
func (c *Config) MonitorInterval() time.Duration {
	return time.Duration(c.MonitorIntervalSec) * time.Second
}

// MonitorMinInterval is the minimum gap between two checks of one mailbox.
func (c *Config) MonitorMinInterval() time.Duration {
	return time.Duration(c.MonitorMinIntervalMin) * time.Minute
}

// MonitorBootstrapLookback is the fetch window for a monitor's first check.
func (c *Config) MonitorBootstrapLookback() time.Duration {
	return time.Duration(c.MonitorBootstrapHour) * time.Hour
}

// MonitorLeaseTTL is the per-mailbox lease lifetime.
func (c *Config) MonitorLeaseTTL() time.Duration {
	return time.Duration(c.MonitorLeaseTTLSec) * time.Second
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
