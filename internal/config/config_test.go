package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsProduceValidConfig(t *testing.T) {
	cfg := NewDefault()

	assert.Equal(t, ":8753", cfg.Server.ListenAddr)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, 1280, cfg.Browser.ViewportWidth)
	assert.Equal(t, 800, cfg.Browser.ViewportHeight)
	assert.Equal(t, 600*time.Millisecond, cfg.Browser.SettleDelay)
	assert.Equal(t, 40, cfg.Agent.MaxIterations)
	assert.Equal(t, 25, cfg.Agent.ActionHistoryCap)
	assert.Equal(t, 20, cfg.Agent.ActionHistoryRetain)
	assert.Equal(t, 180, cfg.Stream.FrameHistoryCapacity)
	assert.Equal(t, "in-memory", cfg.Lessons.Backend)

	require.NoError(t, cfg.Validate())
}

func TestNewFromViperOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("server.listen_addr", "127.0.0.1:9000")
	v.Set("agent.max_iterations", 7)
	v.Set("stream.default_fps", 12)

	cfg, err := NewFromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.ListenAddr)
	assert.Equal(t, 7, cfg.Agent.MaxIterations)
	assert.Equal(t, 12, cfg.Stream.DefaultFPS)
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero viewport", func(c *Config) { c.Browser.ViewportWidth = 0 }, "viewport"},
		{"no iterations", func(c *Config) { c.Agent.MaxIterations = 0 }, "max_iterations"},
		{"retain above cap", func(c *Config) { c.Agent.ActionHistoryRetain = 30 }, "action_history_retain"},
		{"conversation retain above cap", func(c *Config) { c.Agent.ConversationRetain = 99 }, "conversation_retain"},
		{"zero frame capacity", func(c *Config) { c.Stream.FrameHistoryCapacity = 0 }, "frame_history_capacity"},
		{"inverted fps bounds", func(c *Config) { c.Stream.MinFPS = 10; c.Stream.MaxFPS = 5 }, "fps"},
		{"postgres without url", func(c *Config) { c.Lessons.Backend = "postgres" }, "database_url"},
		{"unknown backend", func(c *Config) { c.Lessons.Backend = "redis" }, "backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
