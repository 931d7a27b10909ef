package config

import (
	"testing"
	"time"
)

func TestLoadStudyDefaults(t *testing.T) {
	cfg, err := LoadStudy()
	if err != nil {
		t.Fatalf("LoadStudy() error = %v", err)
	}
	if cfg.MaxTotalWait != 240*time.Second {
		t.Fatalf("MaxTotalWait = %v, want 240s", cfg.MaxTotalWait)
	}
	if cfg.ReadDelay != 10*time.Second {
		t.Fatalf("ReadDelay = %v, want 10s", cfg.ReadDelay)
	}
	if cfg.PreConsentGrace != 3*time.Minute || cfg.WaitingGrace != 2*time.Minute {
		t.Fatalf("unexpected janitor graces: %+v", cfg)
	}
	if cfg.ForcedCompletionAfter != 7*time.Minute+30*time.Second {
		t.Fatalf("ForcedCompletionAfter = %v", cfg.ForcedCompletionAfter)
	}
	if len(cfg.SocialStyles) != 8 {
		t.Fatalf("SocialStyles = %v, want 8 entries", cfg.SocialStyles)
	}
}

func TestLoadStudyOverrides(t *testing.T) {
	t.Setenv("STUDY_MODE", "AI_WITNESS")
	t.Setenv("MAX_TOTAL_WAIT", "90s")
	t.Setenv("SOCIAL_STYLES", "WARM,DIRECT")

	cfg, err := LoadStudy()
	if err != nil {
		t.Fatalf("LoadStudy() error = %v", err)
	}
	if cfg.Mode != "AI_WITNESS" || cfg.MaxTotalWait != 90*time.Second {
		t.Fatalf("unexpected study config: %+v", cfg)
	}
	if len(cfg.SocialStyles) != 2 || cfg.SocialStyles[1] != "DIRECT" {
		t.Fatalf("SocialStyles = %v", cfg.SocialStyles)
	}
}
