package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type GenerationConfig struct {
	PrimaryProvider  string `env:"GEN_PRIMARY_PROVIDER" envDefault:"gemini"`
	PrimaryModel     string `env:"GEN_PRIMARY_MODEL" envDefault:"gemini-2.5-pro"`
	FallbackProvider string `env:"GEN_FALLBACK_PROVIDER" envDefault:"gemini"`
	FallbackModel    string `env:"GEN_FALLBACK_MODEL" envDefault:"gemini-2.5-flash"`

	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	GeminiBaseURL string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta"`
	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`

	MaxRetries     int           `env:"GEN_MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay time.Duration `env:"GEN_RETRY_BASE_DELAY" envDefault:"500ms"`
	RequestTimeout time.Duration `env:"GEN_REQUEST_TIMEOUT" envDefault:"60s"`
	Temperature    float64       `env:"GEN_TEMPERATURE" envDefault:"1.0"`
}

func LoadGeneration() (GenerationConfig, error) {
	var cfg GenerationConfig
	err := env.Parse(&cfg)
	return cfg, err
}
