package retrieval

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   error
	}{
		{"unknown seed mode", func(c *Config) { c.SeedMode = "random" }, ErrInvalidConfig},
		{"unknown strategy", func(c *Config) { c.StructuralStrategy = "magic" }, ErrInvalidConfig},
		{"unknown profile", func(c *Config) { c.WeightProfile = "heavy" }, ErrInvalidConfig},
		{"zero sentence top k", func(c *Config) { c.SentenceTopK = 0 }, ErrInvalidConfig},
		{"hop decay above one", func(c *Config) { c.SentenceHopDecay = 1.5 }, ErrInvalidConfig},
		{"score gate zero", func(c *Config) { c.DiversifyScoreGate = 0 }, ErrInvalidConfig},
		{"floor above limit", func(c *Config) { c.PPRLimitFloor = 30 }, ErrInvalidConfig},
		{"zero timeout", func(c *Config) { c.PPRTimeout = 0 }, ErrInvalidConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("SEED_MODE", "flat")
	t.Setenv("SENTENCE_TOP_K", "12")
	t.Setenv("DIVERSIFY_ENABLED", "false")
	t.Setenv("COMMUNITY_MIN_SIMILARITY", "0.2")
	t.Setenv("COMMUNITY_CACHE_TTL_SEC", "60")
	t.Setenv("PPR_TIMEOUT_MS", "2500")
	t.Setenv("RERANK_POOL_SIZE", "30")

	cfg := ConfigFromEnv()
	if cfg.SeedMode != "flat" || cfg.SentenceTopK != 12 || cfg.DiversifyEnabled {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.CommunityMinSimilarity != 0.2 || cfg.CommunityCacheTTL != time.Minute {
		t.Fatalf("community settings not applied: %+v", cfg)
	}
	if cfg.PPRTimeout != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s PPR timeout, got %v", cfg.PPRTimeout)
	}
	if cfg.RerankPoolSize != 30 || cfg.sentenceConfig().RerankPoolSize != 30 {
		t.Fatalf("rerank pool size not applied: %+v", cfg)
	}
	if cfg.PPRTopK != DefaultConfig().PPRTopK {
		t.Fatalf("unset variable must keep its default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("env config invalid: %v", err)
	}
}

func TestZeroCommunityFloorReachesIndex(t *testing.T) {
	t.Setenv("COMMUNITY_MIN_SIMILARITY", "0")

	cfg := ConfigFromEnv()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("zero floor must be valid: %v", err)
	}
	if got := cfg.CommunityOptions().MinSimilarity; got != 0 {
		t.Fatalf("expected floor 0 in community options, got %v", got)
	}
}
