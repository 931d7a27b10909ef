package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// StudyConfig holds the waiting-room and lifecycle timings.
type StudyConfig struct {
	Mode string `env:"STUDY_MODE" envDefault:"HUMAN_WITNESS"`

	MaxTotalWait time.Duration `env:"MAX_TOTAL_WAIT" envDefault:"240s"`
	ReadDelay    time.Duration `env:"MATCH_READ_DELAY" envDefault:"10s"`

	JanitorInterval time.Duration `env:"JANITOR_INTERVAL" envDefault:"60s"`
	MatchedGrace    time.Duration `env:"JANITOR_MATCHED_GRACE" envDefault:"2m"`
	WaitingGrace    time.Duration `env:"JANITOR_WAITING_GRACE" envDefault:"2m"`
	PreConsentGrace time.Duration `env:"JANITOR_PRE_CONSENT_GRACE" envDefault:"3m"`

	ForcedCompletionAfter time.Duration `env:"FORCED_COMPLETION_AFTER" envDefault:"7m30s"`
	ExcessiveNetworkDelay time.Duration `env:"EXCESSIVE_NETWORK_DELAY" envDefault:"40s"`
	TypingWindow          time.Duration `env:"TYPING_WINDOW" envDefault:"3s"`
	SessionCacheTTL       time.Duration `env:"SESSION_CACHE_TTL" envDefault:"2h"`

	SocialStyles     []string `env:"SOCIAL_STYLES" envSeparator:"," envDefault:"WARM,PLAYFUL,DIRECT,GUARDED,CONTRARIAN,ADAPTIVE,HYBRID,NEUTRAL"`
	ForceSocialStyle string   `env:"FORCE_SOCIAL_STYLE"`
	Personas         []string `env:"PERSONAS" envSeparator:"," envDefault:"custom_extrovert"`
	Domains          []string `env:"DOMAINS" envSeparator:"," envDefault:"general"`
}

func LoadStudy() (StudyConfig, error) {
	var cfg StudyConfig
	err := env.Parse(&cfg)
	return cfg, err
}
