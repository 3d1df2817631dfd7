// Package config loads the recognized environment-variable surface into
// a single typed Config struct, read once at startup.
//
// Grounded on kadirpekel/hector's pkg/config/env.go for the .env loading
// and ${VAR}/${VAR:-default} expansion style, though the orchestrator's
// surface is flat env vars rather than a YAML document, so only
// LoadEnvFiles and the parsing helpers are carried over.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is every recognized environment variable.
type Config struct {
	UseMockMode   bool
	UseMockLLM    bool
	HITLEnabled   bool

	GraphCacheMaxEntries int
	AgentTimeoutSeconds  int
	WorkflowTimeoutSeconds int
	MaxWorkflowSteps     int
	ContextGCHours       int
	WSBacklogPerPlan     int
	WSSlowSubscriberHWM  int

	// HTTPAddr and SQLitePath are ambient process-bootstrap settings
	// required to run the repo standalone.
	HTTPAddr   string
	SQLitePath string
	LogLevel   string
	LogFormat  string
}

// Default returns the documented default for every recognized variable.
func Default() Config {
	return Config{
		UseMockMode:            false,
		UseMockLLM:             false,
		HITLEnabled:            false,
		GraphCacheMaxEntries:   128,
		AgentTimeoutSeconds:    120,
		WorkflowTimeoutSeconds: 1800,
		MaxWorkflowSteps:       10,
		ContextGCHours:         24,
		WSBacklogPerPlan:       200,
		WSSlowSubscriberHWM:    1000,
		HTTPAddr:               ":8080",
		SQLitePath:             "./finflow.db",
		LogLevel:               "info",
		LogFormat:              "text",
	}
}

// LoadEnvFiles loads .env.local then .env into the process environment,
// following pkg/config/env.go's precedence (earlier file wins over
// later, neither overrides an already-set variable).
func LoadEnvFiles() error {
	for _, file := range []string{".env.local", ".env"} {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("config: load %s: %w", file, err)
		}
	}
	return nil
}

// Load reads the process environment into a Config, starting from
// Default() so unset variables keep their documented defaults.
func Load() Config {
	cfg := Default()

	cfg.UseMockMode = envBool("USE_MOCK_MODE", cfg.UseMockMode)
	cfg.UseMockLLM = envBool("USE_MOCK_LLM", cfg.UseMockLLM)
	cfg.HITLEnabled = envBool("HITL_ENABLED", cfg.HITLEnabled)

	cfg.GraphCacheMaxEntries = envInt("GRAPH_CACHE_MAX_ENTRIES", cfg.GraphCacheMaxEntries)
	cfg.AgentTimeoutSeconds = envInt("AGENT_TIMEOUT_SECONDS", cfg.AgentTimeoutSeconds)
	cfg.WorkflowTimeoutSeconds = envInt("WORKFLOW_TIMEOUT_SECONDS", cfg.WorkflowTimeoutSeconds)
	cfg.MaxWorkflowSteps = envInt("MAX_WORKFLOW_STEPS", cfg.MaxWorkflowSteps)
	cfg.ContextGCHours = envInt("CONTEXT_GC_HOURS", cfg.ContextGCHours)
	cfg.WSBacklogPerPlan = envInt("WS_BACKLOG_PER_PLAN", cfg.WSBacklogPerPlan)
	cfg.WSSlowSubscriberHWM = envInt("WS_SLOW_SUBSCRIBER_HIGH_WATER", cfg.WSSlowSubscriberHWM)

	cfg.HTTPAddr = envString("FINFLOW_HTTP_ADDR", cfg.HTTPAddr)
	cfg.SQLitePath = envString("FINFLOW_SQLITE_PATH", cfg.SQLitePath)
	cfg.LogLevel = envString("FINFLOW_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envString("FINFLOW_LOG_FORMAT", cfg.LogFormat)

	return cfg
}

func envString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

// approveKeywords / rejectKeywords drive the clarification interpretation
// rule.
var (
	approveKeywords = []string{"ok", "yes", "approve", "approved", "good", "correct", "fine", "proceed"}
	rejectKeywords  = []string{"no", "reject", "wrong", "incorrect", "restart", "start over", "new task"}
)

// InterpretClarification lower-cases and strips the answer; if it
// contains any approve keyword and no reject keyword, it is treated as
// approval, otherwise as a restart request.
func InterpretClarification(answer string) (approved bool) {
	normalized := strings.ToLower(strings.TrimSpace(answer))

	hasApprove := containsAny(normalized, approveKeywords)
	hasReject := containsAny(normalized, rejectKeywords)

	return hasApprove && !hasReject
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
