package generation

import (
	"fmt"
	"net/http"

	"turing-study/internal/config"
)

// NewProvider builds the client for one configured provider name.
func NewProvider(cfg config.GenerationConfig, provider, model string, client *http.Client) (Provider, error) {
	switch provider {
	case config.ProviderGemini:
		return NewGemini(cfg.GeminiBaseURL, cfg.GeminiAPIKey, model, cfg.Temperature, client), nil
	case config.ProviderOpenAI:
		return NewOpenAI(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, model, cfg.Temperature, client), nil
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown generation provider %q", provider)
	}
}

// NewFromConfig wires the primary and fallback providers into a Resilient.
func NewFromConfig(cfg config.GenerationConfig) (*Resilient, error) {
	client := &http.Client{}
	primary, err := NewProvider(cfg, cfg.PrimaryProvider, cfg.PrimaryModel, client)
	if err != nil {
		return nil, err
	}
	fallback, err := NewProvider(cfg, cfg.FallbackProvider, cfg.FallbackModel, client)
	if err != nil {
		return nil, err
	}
	tries := cfg.MaxRetries
	if tries < 1 {
		tries = 1
	}
	return NewResilient(primary, fallback,
		WithMaxTries(uint(tries)),
		WithBaseDelay(cfg.RetryBaseDelay),
		WithCallTimeout(cfg.RequestTimeout),
	), nil
}
