package llm

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/MimeLyc/hospital-agent/internal/config"
)

// New builds the Client for the configured provider.
func New(cfg config.LLMConfig, httpClient *http.Client) (Client, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		c, err := NewAnthropicClient(cfg, httpClient)
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.ProviderOpenRouter, "":
		c, err := NewOpenAIClient(cfg, httpClient)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, errors.Errorf("unsupported LLM provider %q", cfg.Provider)
	}
}
