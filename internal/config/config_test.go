package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("LLM_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("PORT", "")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenRouter, cfg.LLM.Provider)
	assert.Equal(t, "https://openrouter.ai/api/v1", cfg.LLM.APIURL)
	assert.Equal(t, "tngtech/deepseek-r1t2-chimera:free", cfg.LLM.Model)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "https://dt-agent-api.onrender.com/", cfg.Backend.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 5, cfg.Agent.MaxRounds)
	assert.Equal(t, 4, cfg.Agent.ToolConcurrency)
	assert.True(t, cfg.Agent.LanguageHint)
	assert.Equal(t, ":5000", cfg.HTTP.Addr)
	assert.Equal(t, int64(64<<20), cfg.HTTP.MaxBodyBytes)
	assert.Equal(t, "@every 1m", cfg.Monitor.Cron)

	assert.ErrorIs(t, cfg.ValidateCredential(), ErrMissingCredential)
}

func TestNewFromEnv_Overrides(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	t.Setenv("PORT", "8081")
	t.Setenv("LLM_TIMEOUT", "30")
	t.Setenv("HOSPITAL_BACKEND_URL", "http://backend.local/")
	t.Setenv("HOSPITAL_BACKEND_TIMEOUT", "2s")
	t.Setenv("AGENT_MAX_ROUNDS", "3")
	t.Setenv("AGENT_LANGUAGE_HINT", "false")
	t.Setenv("CHAT_MAX_BODY_BYTES", "134217728")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "or-key", cfg.LLM.APIKey)
	assert.NoError(t, cfg.ValidateCredential())
	assert.Equal(t, ":8081", cfg.HTTP.Addr)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "http://backend.local/", cfg.Backend.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 3, cfg.Agent.MaxRounds)
	assert.False(t, cfg.Agent.LanguageHint)
	assert.Equal(t, int64(128<<20), cfg.HTTP.MaxBodyBytes)
}

func TestNewFromEnv_AnthropicDefaults(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "Anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("LLM_API_KEY", "")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ProviderAnthropic, cfg.LLM.Provider)
	assert.Equal(t, "https://api.anthropic.com", cfg.LLM.APIURL)
	assert.Equal(t, "sk-ant", cfg.LLM.APIKey)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hospital-agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: 127.0.0.1:9000
agent:
  max_rounds: 2
  tool_concurrency: 1
backend:
  timeout: 5s
`), 0o600))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	assert.Equal(t, 2, cfg.Agent.MaxRounds)
	assert.Equal(t, 1, cfg.Agent.ToolConcurrency)
	assert.Equal(t, 5*time.Second, cfg.Backend.Timeout)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  Option
		wantErr string
	}{
		{name: "unknown provider", mutate: func(c *Config) { c.LLM.Provider = "bard" }, wantErr: "unsupported LLM provider"},
		{name: "zero rounds", mutate: func(c *Config) { c.Agent.MaxRounds = 0 }, wantErr: "agent.max_rounds"},
		{name: "zero concurrency", mutate: func(c *Config) { c.Agent.ToolConcurrency = 0 }, wantErr: "agent.tool_concurrency"},
		{name: "temperature", mutate: func(c *Config) { c.LLM.Temperature = 3 }, wantErr: "llm.temperature"},
		{name: "backend url", mutate: func(c *Config) { c.Backend.BaseURL = " " }, wantErr: "backend.base_url"},
		{name: "chat body limit", mutate: func(c *Config) { c.HTTP.MaxBodyBytes = 1024 }, wantErr: "http.max_body_bytes"},
		{name: "monitor cron", mutate: func(c *Config) { c.Monitor.Cron = "every minute" }, wantErr: "monitor.cron"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFromEnv(tt.mutate)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMonitorConfig_Enabled(t *testing.T) {
	assert.True(t, MonitorConfig{Cron: "@every 30s"}.Enabled())
	assert.False(t, MonitorConfig{Cron: ""}.Enabled())
	assert.False(t, MonitorConfig{Cron: "OFF"}.Enabled())

	cfg, err := NewFromEnv(func(c *Config) { c.Monitor.Cron = "off" })
	require.NoError(t, err)
	assert.False(t, cfg.Monitor.Enabled())
}
