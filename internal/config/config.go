// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire control-plane configuration. It is populated from
// defaults, an optional YAML file, and BROWSERPILOT_* environment variables.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Decision DecisionConfig `mapstructure:"decision" yaml:"decision"`
	Stream   StreamConfig   `mapstructure:"stream" yaml:"stream"`
	Lessons  LessonsConfig  `mapstructure:"lessons" yaml:"lessons"`
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
}

// ServerConfig covers the HTTP control surface.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	// APIKey enables shared-secret auth when non-empty. Compared against the
	// x-api-key header or an Authorization bearer token.
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	// MaxBodyBytes bounds request bodies before JSON parsing.
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// BrowserConfig covers the chromedp-driven session.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	StartupURL        string        `mapstructure:"startup_url" yaml:"startup_url"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	// SettleDelay is the fixed pause after each mutating action; WaitDelay is
	// the longer pause used by the explicit wait action.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	WaitDelay   time.Duration `mapstructure:"wait_delay" yaml:"wait_delay"`
}

// AgentConfig covers the goal controller.
type AgentConfig struct {
	MaxIterations          int           `mapstructure:"max_iterations" yaml:"max_iterations"`
	StepDelay              time.Duration `mapstructure:"step_delay" yaml:"step_delay"`
	ActionHistoryCap       int           `mapstructure:"action_history_cap" yaml:"action_history_cap"`
	ActionHistoryRetain    int           `mapstructure:"action_history_retain" yaml:"action_history_retain"`
	ConversationCap        int           `mapstructure:"conversation_cap" yaml:"conversation_cap"`
	ConversationRetain     int           `mapstructure:"conversation_retain" yaml:"conversation_retain"`
	DecisionHistoryWindow  int           `mapstructure:"decision_history_window" yaml:"decision_history_window"`
	StatusEventBufferSize  int           `mapstructure:"status_event_buffer_size" yaml:"status_event_buffer_size"`
}

// DecisionConfig covers the external decision engine client.
type DecisionConfig struct {
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	Model      string        `mapstructure:"model" yaml:"model"`
	Endpoint   string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	// ThinkingBudget caps the model's internal reasoning tokens; zero leaves
	// the provider default in place.
	ThinkingBudget int     `mapstructure:"thinking_budget" yaml:"thinking_budget"`
	Temperature    float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// StreamConfig covers the frame distribution hub.
type StreamConfig struct {
	FrameHistoryCapacity int `mapstructure:"frame_history_capacity" yaml:"frame_history_capacity"`
	DefaultFPS           int `mapstructure:"default_fps" yaml:"default_fps"`
	MinFPS               int `mapstructure:"min_fps" yaml:"min_fps"`
	MaxFPS               int `mapstructure:"max_fps" yaml:"max_fps"`
	SubscriberBufferSize int `mapstructure:"subscriber_buffer_size" yaml:"subscriber_buffer_size"`
}

// LessonsConfig selects the lesson store backend.
type LessonsConfig struct {
	// Backend is "in-memory" or "postgres".
	Backend     string `mapstructure:"backend" yaml:"backend"`
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
	MaxPerHost  int    `mapstructure:"max_per_host" yaml:"max_per_host"`
}

// LoggerConfig configures the zap logger and optional rotated file output.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// SetDefaults registers every default value on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8753")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.max_body_bytes", int64(1<<20))
	v.SetDefault("server.request_timeout", 120*time.Second)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.startup_url", "https://www.google.com")
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.navigation_timeout", 30*time.Second)
	v.SetDefault("browser.action_timeout", 10*time.Second)
	v.SetDefault("browser.settle_delay", 600*time.Millisecond)
	v.SetDefault("browser.wait_delay", 2500*time.Millisecond)

	v.SetDefault("agent.max_iterations", 40)
	v.SetDefault("agent.step_delay", 800*time.Millisecond)
	v.SetDefault("agent.action_history_cap", 25)
	v.SetDefault("agent.action_history_retain", 20)
	v.SetDefault("agent.conversation_cap", 40)
	v.SetDefault("agent.conversation_retain", 30)
	v.SetDefault("agent.decision_history_window", 12)
	v.SetDefault("agent.status_event_buffer_size", 64)

	v.SetDefault("decision.api_key", "")
	v.SetDefault("decision.model", "gemini-2.5-flash")
	v.SetDefault("decision.endpoint", "")
	v.SetDefault("decision.api_timeout", 90*time.Second)
	v.SetDefault("decision.thinking_budget", 0)
	v.SetDefault("decision.temperature", 0.2)
	v.SetDefault("decision.max_tokens", 2048)

	v.SetDefault("stream.frame_history_capacity", 180)
	v.SetDefault("stream.default_fps", 4)
	v.SetDefault("stream.min_fps", 1)
	v.SetDefault("stream.max_fps", 30)
	v.SetDefault("stream.subscriber_buffer_size", 4)

	v.SetDefault("lessons.backend", "in-memory")
	v.SetDefault("lessons.database_url", "")
	v.SetDefault("lessons.max_per_host", 20)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "browserpilot")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
}

// NewFromViper unmarshals and validates a Config from a prepared viper
// instance. Callers are expected to have applied SetDefaults and any file or
// environment sources already.
func NewFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// NewDefault returns a Config built purely from defaults. Used by tests and
// as a fallback when no external configuration is present.
func NewDefault() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := NewFromViper(v)
	if err != nil {
		// Defaults are static; failing to unmarshal them is a programming error.
		panic(err)
	}
	return cfg
}

// Validate rejects configurations that cannot produce a working control plane.
func (c *Config) Validate() error {
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("config: browser viewport must be positive, got %dx%d",
			c.Browser.ViewportWidth, c.Browser.ViewportHeight)
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("config: agent.max_iterations must be positive")
	}
	if c.Agent.ActionHistoryRetain >= c.Agent.ActionHistoryCap {
		return fmt.Errorf("config: agent.action_history_retain (%d) must be below agent.action_history_cap (%d)",
			c.Agent.ActionHistoryRetain, c.Agent.ActionHistoryCap)
	}
	if c.Agent.ConversationRetain >= c.Agent.ConversationCap {
		return fmt.Errorf("config: agent.conversation_retain (%d) must be below agent.conversation_cap (%d)",
			c.Agent.ConversationRetain, c.Agent.ConversationCap)
	}
	if c.Stream.FrameHistoryCapacity <= 0 {
		return fmt.Errorf("config: stream.frame_history_capacity must be positive")
	}
	if c.Stream.MinFPS <= 0 || c.Stream.MaxFPS < c.Stream.MinFPS {
		return fmt.Errorf("config: stream fps bounds invalid (min=%d max=%d)", c.Stream.MinFPS, c.Stream.MaxFPS)
	}
	switch c.Lessons.Backend {
	case "in-memory":
	case "postgres":
		if c.Lessons.DatabaseURL == "" {
			return fmt.Errorf("config: lessons.database_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown lessons.backend %q", c.Lessons.Backend)
	}
	return nil
}
