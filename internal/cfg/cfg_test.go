package cfg

import (
	"flag"
	"strings"
	"testing"
)

// validConfig returns a Config with flag defaults plus the required secrets.
func validConfig(t *testing.T) *Config {
	t.Helper()
	c := &Config{}
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.RegisterFlags(fs)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("parse defaults: %v", err)
	}
	c.LLMAPIKey = "sk-test"
	return c
}

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	c := validConfig(t)
	if c.PollIntervalSeconds != 30 {
		t.Errorf("PollIntervalSeconds = %d, want 30", c.PollIntervalSeconds)
	}
	if c.EffectiveThreshold != 5 || c.RawThreshold != 15 {
		t.Errorf("thresholds = %d/%d, want 5/15", c.EffectiveThreshold, c.RawThreshold)
	}
	if c.CooldownSeconds != 600 {
		t.Errorf("CooldownSeconds = %d, want 600", c.CooldownSeconds)
	}
	if c.CutoffHour != 9 {
		t.Errorf("CutoffHour = %d, want 9", c.CutoffHour)
	}
	if c.LLMProvider != "dashscope" || c.LLMModel != "qwen-plus" {
		t.Errorf("llm = %s/%s", c.LLMProvider, c.LLMModel)
	}
	if c.SimilarityThreshold != 0.7 {
		t.Errorf("SimilarityThreshold = %g, want 0.7", c.SimilarityThreshold)
	}
	if !c.DedupGlobal {
		t.Error("DedupGlobal = false, want true")
	}
}

func TestConfig_ValidateDefaults(t *testing.T) {
	t.Parallel()

	if err := validConfig(t).Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v, want nil", err)
	}
}

func TestConfig_ValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "drain too large",
			mutate:  func(c *Config) { c.DrainSeconds = 301 },
			wantErr: "DRAIN_SECONDS",
		},
		{
			name:    "budget below drain",
			mutate:  func(c *Config) { c.DrainSeconds = 90; c.ShutdownBudgetSeconds = 60 },
			wantErr: "SHUTDOWN_BUDGET_SECONDS",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.APIPort = 70000 },
			wantErr: "HTTP_PORT",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.PollIntervalSeconds = 0 },
			wantErr: "POLL_INTERVAL_SECONDS",
		},
		{
			name:    "cutoff hour out of range",
			mutate:  func(c *Config) { c.CutoffHour = 24 },
			wantErr: "CUTOFF_HOUR",
		},
		{
			name:    "raw below effective",
			mutate:  func(c *Config) { c.EffectiveThreshold = 5; c.RawThreshold = 3 },
			wantErr: "RAW_THRESHOLD",
		},
		{
			name:    "sweep above effective",
			mutate:  func(c *Config) { c.SweepMinPending = 6 },
			wantErr: "SWEEP_MIN_PENDING",
		},
		{
			name:    "negative cooldown",
			mutate:  func(c *Config) { c.CooldownSeconds = -1 },
			wantErr: "COOLDOWN_SECONDS",
		},
		{
			name:    "similarity out of range",
			mutate:  func(c *Config) { c.SimilarityThreshold = 1.5 },
			wantErr: "SIMILARITY_THRESHOLD",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *Config) { c.LLMProvider = "openai" },
			wantErr: "LLM_PROVIDER",
		},
		{
			name:    "missing api key",
			mutate:  func(c *Config) { c.LLMAPIKey = "" },
			wantErr: "LLM_API_KEY",
		},
		{
			name:    "zero rps",
			mutate:  func(c *Config) { c.LLMRPS = 0 },
			wantErr: "LLM_RPS",
		},
		{
			name:    "zero alert window",
			mutate:  func(c *Config) { c.AlertWindowP1Secs = 0 },
			wantErr: "alert windows",
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := validConfig(t)
			tc.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Validate() = %v, want mention of %s", err, tc.wantErr)
			}
		})
	}
}

func TestConfig_ValidateJoinsAllErrors(t *testing.T) {
	t.Parallel()

	c := validConfig(t)
	c.APIPort = 0
	c.LLMAPIKey = ""
	err := c.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	for _, want := range []string{"HTTP_PORT", "LLM_API_KEY"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() = %v, want mention of %s", err, want)
		}
	}
}
