package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/MimeLyc/hospital-agent/pkg/icron"
)

// Config holds all application configuration.
//
// Values come from (lowest to highest precedence) built-in defaults, an
// optional YAML config file, environment variables and bound CLI flags.
//
// Environment Variables:
// LLM Configuration:
// - LLM_PROVIDER: openrouter or anthropic (default: openrouter)
// - OPENROUTER_API_KEY / LLM_API_KEY / ANTHROPIC_API_KEY: provider credential (required for chat)
// - LLM_API_URL: API endpoint URL (default depends on provider)
// - LLM_MODEL: model name (default depends on provider)
// - LLM_MAX_TOKENS: maximum tokens per completion (default: 4096)
// - LLM_TEMPERATURE: sampling temperature (default: 0.7)
// - LLM_TIMEOUT: per-completion timeout, e.g. 60s (default: 60s)
// - LLM_SITE_URL / LLM_APP_NAME: OpenRouter attribution headers
//
// Hospital Backend:
// - HOSPITAL_BACKEND_URL: base URL (default: https://dt-agent-api.onrender.com/)
// - HOSPITAL_BACKEND_TIMEOUT: per-call timeout (default: 15s)
//
// Agent:
// - AGENT_MAX_ROUNDS: completion rounds per request (default: 5)
// - AGENT_TOOL_CONCURRENCY: parallel tool calls per round (default: 4)
// - AGENT_LANGUAGE_HINT: ask the model to answer in the user's language (default: true)
//
// Process:
// - PORT: listen port (default: 5000)
// - CHAT_MAX_BODY_BYTES: largest accepted /chat body, history included (default: 64 MiB)
// - AUDIT_DB_PATH: SQLite file for tool-call telemetry (default: disabled)
// - MONITOR_CRON: backend probe schedule (default: @every 1m)
// - LOG_LEVEL / LOG_FORMAT / LOG_FILE
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm" json:"llm"`
	Backend BackendConfig `mapstructure:"backend" json:"backend"`
	Agent   AgentConfig   `mapstructure:"agent" json:"agent"`
	HTTP    HTTPConfig    `mapstructure:"http" json:"http"`
	Audit   AuditConfig   `mapstructure:"audit" json:"audit"`
	Monitor MonitorConfig `mapstructure:"monitor" json:"monitor"`
	Log     LogConfig     `mapstructure:"log" json:"log"`
}

// LLMConfig holds the configuration for the completion provider
type LLMConfig struct {
	Provider    string        `mapstructure:"provider" json:"provider"`
	APIKey      string        `mapstructure:"api_key" json:"-"`
	APIURL      string        `mapstructure:"api_url" json:"api_url"`
	Model       string        `mapstructure:"model" json:"model"`
	MaxTokens   int           `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature float64       `mapstructure:"temperature" json:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout"`
	SiteURL     string        `mapstructure:"site_url" json:"site_url"`
	AppName     string        `mapstructure:"app_name" json:"app_name"`
}

// BackendConfig points at the hospital data API
type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url" json:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" json:"timeout"`
}

// AgentConfig holds the configuration for the agent loop
type AgentConfig struct {
	MaxRounds       int  `mapstructure:"max_rounds" json:"max_rounds"`
	ToolConcurrency int  `mapstructure:"tool_concurrency" json:"tool_concurrency"`
	LanguageHint    bool `mapstructure:"language_hint" json:"language_hint"`
}

type HTTPConfig struct {
	Addr         string `mapstructure:"addr" json:"addr"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes" json:"max_body_bytes"`
}

type AuditConfig struct {
	DBPath string `mapstructure:"db_path" json:"db_path"`
}

type MonitorConfig struct {
	Cron string `mapstructure:"cron" json:"cron"`
}

// Enabled is false when the schedule is empty or "off".
func (m MonitorConfig) Enabled() bool {
	return !icron.Disabled(m.Cron)
}

type LogConfig struct {
	Level  string `mapstructure:"level" json:"level"`
	Format string `mapstructure:"format" json:"format"`
	File   string `mapstructure:"file" json:"file"`
}

const (
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"

	minChatBodyBytes = 1 << 20
)

// ErrMissingCredential is returned by ValidateCredential when no provider key is set.
var ErrMissingCredential = errors.New("LLM API key is required (set OPENROUTER_API_KEY, LLM_API_KEY or ANTHROPIC_API_KEY)")

// Option is a function type for configuring Config
type Option func(*Config)

// Load builds a Config from v. A nil v reads only defaults and the environment.
func Load(v *viper.Viper, opts ...Option) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)
	bindEnv(v)

	cfg := &Config{}
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)))
	if err != nil {
		return nil, errors.Wrap(err, "decode configuration")
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":5000"
		if port := strings.TrimSpace(v.GetString("port")); port != "" {
			cfg.HTTP.Addr = ":" + port
		}
	}
	cfg.applyProviderDefaults()

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewFromEnv reads defaults and environment variables only.
func NewFromEnv(opts ...Option) (*Config, error) {
	return Load(nil, opts...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", ProviderOpenRouter)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.api_url", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.site_url", "https://github.com/smart-hospital-system")
	v.SetDefault("llm.app_name", "Smart Hospital AI Agent")

	v.SetDefault("backend.base_url", "https://dt-agent-api.onrender.com/")
	v.SetDefault("backend.timeout", "15s")

	v.SetDefault("agent.max_rounds", 5)
	v.SetDefault("agent.tool_concurrency", 4)
	v.SetDefault("agent.language_hint", true)

	v.SetDefault("http.addr", "")
	v.SetDefault("http.max_body_bytes", 64<<20)
	v.SetDefault("audit.db_path", "")
	v.SetDefault("monitor.cron", "@every 1m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
}

// bindEnv maps the documented environment variable names onto config keys.
// BindEnv with several names takes the first one that is set.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("HOSPITAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindings := map[string][]string{
		"llm.provider":           {"LLM_PROVIDER"},
		"llm.api_key":            {"OPENROUTER_API_KEY", "LLM_API_KEY", "ANTHROPIC_API_KEY"},
		"llm.api_url":            {"LLM_API_URL"},
		"llm.model":              {"LLM_MODEL"},
		"llm.max_tokens":         {"LLM_MAX_TOKENS"},
		"llm.temperature":        {"LLM_TEMPERATURE"},
		"llm.timeout":            {"LLM_TIMEOUT"},
		"llm.site_url":           {"LLM_SITE_URL"},
		"llm.app_name":           {"LLM_APP_NAME"},
		"backend.base_url":       {"HOSPITAL_BACKEND_URL"},
		"backend.timeout":        {"HOSPITAL_BACKEND_TIMEOUT"},
		"agent.max_rounds":       {"AGENT_MAX_ROUNDS"},
		"agent.tool_concurrency": {"AGENT_TOOL_CONCURRENCY"},
		"agent.language_hint":    {"AGENT_LANGUAGE_HINT"},
		"http.max_body_bytes":    {"CHAT_MAX_BODY_BYTES"},
		"audit.db_path":          {"AUDIT_DB_PATH"},
		"monitor.cron":           {"MONITOR_CRON"},
		"log.level":              {"LOG_LEVEL"},
		"log.format":             {"LOG_FORMAT"},
		"log.file":               {"LOG_FILE"},
		"port":                   {"PORT"},
	}
	for key, envs := range bindings {
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
}

// secondsToDurationHook accepts bare integers as seconds, matching the old LLM_TIMEOUT=30 form.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		durationType := reflect.TypeOf(time.Duration(0))
		if to != durationType || from == durationType {
			return data, nil
		}
		switch from.Kind() {
		case reflect.Int, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		case reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
		case reflect.String:
			s := strings.TrimSpace(data.(string))
			if s != "" && strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) < 0 {
				return s + "s", nil
			}
		}
		return data, nil
	}
}

func (c *Config) applyProviderDefaults() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	switch c.LLM.Provider {
	case ProviderAnthropic:
		if c.LLM.APIURL == "" {
			c.LLM.APIURL = "https://api.anthropic.com"
		}
		if c.LLM.Model == "" {
			c.LLM.Model = "claude-sonnet-4-5"
		}
	default:
		if c.LLM.APIURL == "" {
			c.LLM.APIURL = "https://openrouter.ai/api/v1"
		}
		if c.LLM.Model == "" {
			c.LLM.Model = "tngtech/deepseek-r1t2-chimera:free"
		}
	}
}

// Validate checks value ranges. A missing credential is not an error here;
// see ValidateCredential.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOpenRouter, ProviderAnthropic:
	default:
		return fmt.Errorf("unsupported LLM provider %q", c.LLM.Provider)
	}
	if c.LLM.MaxTokens < 1 {
		return fmt.Errorf("llm.max_tokens must be greater than 0")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("llm.timeout must be greater than 0")
	}
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return fmt.Errorf("backend.base_url is required")
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be greater than 0")
	}
	if c.Agent.MaxRounds < 1 {
		return fmt.Errorf("agent.max_rounds must be at least 1")
	}
	if c.Agent.ToolConcurrency < 1 {
		return fmt.Errorf("agent.tool_concurrency must be at least 1")
	}
	if c.HTTP.MaxBodyBytes < minChatBodyBytes {
		return fmt.Errorf("http.max_body_bytes must be at least %d", minChatBodyBytes)
	}
	if c.Monitor.Enabled() {
		if _, err := icron.Parse(c.Monitor.Cron); err != nil {
			return errors.Wrap(err, "monitor.cron")
		}
	}
	return nil
}

// ValidateCredential reports the startup configuration error that disables chat.
func (c *Config) ValidateCredential() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return ErrMissingCredential
	}
	return nil
}
