package conf

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/operatorhq/whatsapp-hitl-bridge/internal/biz/usecase"
)

// Config represents application configuration
type Config struct {
	// UltraMsg configuration
	UltraMsg UltraMsgConfig

	// OpenAI configuration (optional; conversation falls back when empty)
	OpenAI OpenAIConfig

	// Gateway configuration for mail and calendar execution
	Gateway GatewayConfig

	// Routing configuration
	Routing RoutingConfig

	// Patterns DB path
	PatternsDBPath string

	// Webhook server port
	WebhookPort int

	// Debug mode
	Debug bool
}

// UltraMsgConfig contains UltraMsg API configuration
type UltraMsgConfig struct {
	APIURL     string
	InstanceID string
	Token      string

	// OperatorNumber is the only number the assistant responds to
	OperatorNumber string
}

// OpenAIConfig contains OpenAI configuration
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// GatewayConfig contains the execution gateway endpoints
type GatewayConfig struct {
	MailURL     string
	CalendarURL string

	// MailCheckSeconds is the mail poll interval
	MailCheckSeconds int
}

// RoutingConfig contains router and loop-guard tuning
type RoutingConfig struct {
	CooldownSeconds   int
	ActionTTLMinutes  int
	CommandPrefix     string
	MaxProcessedIDs   int
	MaxRecentOutbound int
	SweepMinutes      int
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	patternsDBPath := os.Getenv("PATTERNS_DB_PATH")
	if patternsDBPath == "" {
		homeDir, _ := os.UserHomeDir()
		patternsDBPath = filepath.Join(homeDir, ".wa-bridge", "patterns.db")
	}

	apiURL := os.Getenv("ULTRAMSG_API_URL")
	if apiURL == "" {
		apiURL = "https://api.ultramsg.com"
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}

	prefix := os.Getenv("COMMAND_PREFIX")
	if prefix == "" {
		prefix = "/"
	}

	return &Config{
		UltraMsg: UltraMsgConfig{
			APIURL:         apiURL,
			InstanceID:     os.Getenv("ULTRAMSG_INSTANCE_ID"),
			Token:          os.Getenv("ULTRAMSG_TOKEN"),
			OperatorNumber: os.Getenv("OPERATOR_NUMBER"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			Model:   model,
		},
		Gateway: GatewayConfig{
			MailURL:          os.Getenv("MAIL_GATEWAY_URL"),
			CalendarURL:      os.Getenv("CALENDAR_GATEWAY_URL"),
			MailCheckSeconds: envInt("MAIL_CHECK_SECONDS", 60),
		},
		Routing: RoutingConfig{
			CooldownSeconds:   envInt("COOLDOWN_SECONDS", 5),
			ActionTTLMinutes:  envInt("ACTION_TTL_MINUTES", 30),
			CommandPrefix:     prefix,
			MaxProcessedIDs:   envInt("MAX_PROCESSED_IDS", 100),
			MaxRecentOutbound: envInt("MAX_RECENT_OUTBOUND", 5),
			SweepMinutes:      envInt("SWEEP_MINUTES", 5),
		},
		PatternsDBPath: patternsDBPath,
		WebhookPort:    envInt("WEBHOOK_PORT", 8080),
		Debug:          os.Getenv("DEBUG") == "true",
	}
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

// ToGuardConfig converts routing settings to loop-guard configuration
func (c *Config) ToGuardConfig() usecase.GuardConfig {
	return usecase.GuardConfig{
		CooldownWindow:  time.Duration(c.Routing.CooldownSeconds) * time.Second,
		MaxProcessedIDs: c.Routing.MaxProcessedIDs,
		MaxRecentBodies: c.Routing.MaxRecentOutbound,
	}
}

// ActionTTL returns the pending action lifetime
func (c *Config) ActionTTL() time.Duration {
	return time.Duration(c.Routing.ActionTTLMinutes) * time.Minute
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.UltraMsg.InstanceID == "" || c.UltraMsg.Token == "" {
		return &ConfigError{Field: "ULTRAMSG_INSTANCE_ID/ULTRAMSG_TOKEN", Message: "required"}
	}
	if c.UltraMsg.OperatorNumber == "" {
		return &ConfigError{Field: "OPERATOR_NUMBER", Message: "required"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}
