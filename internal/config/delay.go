package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// DelayConfig parameterizes the synthetic response timing.
type DelayConfig struct {
	BaseSeconds     float64 `env:"DELAY_BASE_SECONDS" envDefault:"1.5"`
	PerCharMean     float64 `env:"DELAY_PER_CHAR_MEAN" envDefault:"0.1"`
	PerCharStd      float64 `env:"DELAY_PER_CHAR_STD" envDefault:"0.005"`
	PerPrevCharMean float64 `env:"DELAY_PER_PREV_CHAR_MEAN" envDefault:"0.015"`
	PerPrevCharStd  float64 `env:"DELAY_PER_PREV_CHAR_STD" envDefault:"0.001"`
	ThinkingShape   float64 `env:"DELAY_THINKING_SHAPE" envDefault:"2.5"`
	ThinkingScale   float64 `env:"DELAY_THINKING_SCALE" envDefault:"0.4"`

	FirstTurnMinimum time.Duration `env:"DELAY_FIRST_TURN_MIN" envDefault:"7s"`
	PeerFloor        time.Duration `env:"DELAY_PEER_FLOOR" envDefault:"5s"`
	PeerCeiling      time.Duration `env:"DELAY_PEER_CEILING" envDefault:"23s"`
}

func LoadDelay() (DelayConfig, error) {
	var cfg DelayConfig
	err := env.Parse(&cfg)
	return cfg, err
}
