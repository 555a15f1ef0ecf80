package cfg

import (
	"errors"
	"flag"
	"fmt"
)

// Config adds service-specific configuration fields to the
// common cfg.Registerable and cfg.Validatable interfaces
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APIToken              string
	DatabaseURL           string

	PollIntervalSeconds int
	MaxRoomsPerTick     int
	ContextLimit        int
	CutoffHour          int

	EffectiveThreshold int
	RawThreshold       int
	HighRiskMinPending int
	CooldownSeconds    int
	SweepMinPending    int
	SweepSchedule      string
	ExcludedSenders    string

	SimilarityThreshold float64
	DedupGlobal         bool

	AlertMinHits      int
	AlertWindowP0Secs int
	AlertWindowP1Secs int
	AlertWindowP2Secs int

	LLMProvider string
	LLMAPIKey   string
	LLMModel    string
	LLMRPS      float64
	LLMBurst    int

	DingTalkWebhookURL string
	DingTalkSecret     string
	DetailBaseURL      string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APIToken, "api-token", "", "bearer token required on API requests (empty = auth disabled)")
	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL (empty = in-memory store)")

	fs.IntVar(&c.PollIntervalSeconds, "poll-interval-seconds", 30, "seconds between polling ticks (1..3600)")
	fs.IntVar(&c.MaxRoomsPerTick, "max-rooms-per-tick", 5, "max rooms triaged per tick (1..100)")
	fs.IntVar(&c.ContextLimit, "context-limit", 80, "max messages fed to one triage pass (1..500)")
	fs.IntVar(&c.CutoffHour, "cutoff-hour", 9, "local hour at which the daily cycle rolls over (0..23)")

	fs.IntVar(&c.EffectiveThreshold, "effective-threshold", 5, "pending non-noise messages that trigger a pass")
	fs.IntVar(&c.RawThreshold, "raw-threshold", 15, "pending raw messages that trigger a pass")
	fs.IntVar(&c.HighRiskMinPending, "high-risk-min-pending", 3, "min pending messages for the high-risk keyword bypass")
	fs.IntVar(&c.CooldownSeconds, "cooldown-seconds", 600, "min seconds between passes for one room")
	fs.IntVar(&c.SweepMinPending, "sweep-min-pending", 2, "min pending messages for the end-of-cycle sweep")
	fs.StringVar(&c.SweepSchedule, "sweep-schedule", "50 8 * * *", "cron schedule for the end-of-cycle sweep")
	fs.StringVar(&c.ExcludedSenders, "excluded-senders", "", "comma-separated senders whose rooms are skipped")

	fs.Float64Var(&c.SimilarityThreshold, "similarity-threshold", 0.7, "bigram similarity above which issues are duplicates (0..1)")
	fs.BoolVar(&c.DedupGlobal, "dedup-global", true, "screen new issues against all rooms, not just the same room's cycle")

	fs.IntVar(&c.AlertMinHits, "alert-min-hits", 1, "occurrences before an alert is sent")
	fs.IntVar(&c.AlertWindowP0Secs, "alert-window-p0-seconds", 1800, "min seconds between repeated P0 notifications")
	fs.IntVar(&c.AlertWindowP1Secs, "alert-window-p1-seconds", 3600, "min seconds between repeated P1 notifications")
	fs.IntVar(&c.AlertWindowP2Secs, "alert-window-p2-seconds", 14400, "min seconds between repeated P2/P3 notifications")

	fs.StringVar(&c.LLMProvider, "llm-provider", "dashscope", "chat completion backend: dashscope or claude")
	fs.StringVar(&c.LLMAPIKey, "llm-api-key", "", "API key for the chat completion backend")
	fs.StringVar(&c.LLMModel, "llm-model", "qwen-plus", "model name for the chat completion backend")
	fs.Float64Var(&c.LLMRPS, "llm-rps", 2, "chat completion calls allowed per second")
	fs.IntVar(&c.LLMBurst, "llm-burst", 4, "chat completion burst size")

	fs.StringVar(&c.DingTalkWebhookURL, "dingtalk-webhook-url", "", "DingTalk robot webhook URL for alert notifications")
	fs.StringVar(&c.DingTalkSecret, "dingtalk-secret", "", "DingTalk robot signing secret")
	fs.StringVar(&c.DetailBaseURL, "detail-base-url", "", "base URL for issue detail links in notifications")
}

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if c.PollIntervalSeconds <= 0 || c.PollIntervalSeconds > 3600 {
		errs = append(errs, fmt.Errorf("invalid POLL_INTERVAL_SECONDS %d (must be 1..3600)", c.PollIntervalSeconds))
	}
	if c.MaxRoomsPerTick <= 0 || c.MaxRoomsPerTick > 100 {
		errs = append(errs, fmt.Errorf("invalid MAX_ROOMS_PER_TICK %d (must be 1..100)", c.MaxRoomsPerTick))
	}
	if c.ContextLimit <= 0 || c.ContextLimit > 500 {
		errs = append(errs, fmt.Errorf("invalid CONTEXT_LIMIT %d (must be 1..500)", c.ContextLimit))
	}
	if c.CutoffHour < 0 || c.CutoffHour > 23 {
		errs = append(errs, fmt.Errorf("invalid CUTOFF_HOUR %d (must be 0..23)", c.CutoffHour))
	}

	if c.EffectiveThreshold <= 0 {
		errs = append(errs, fmt.Errorf("invalid EFFECTIVE_THRESHOLD %d (must be positive)", c.EffectiveThreshold))
	}
	if c.RawThreshold < c.EffectiveThreshold {
		errs = append(errs, fmt.Errorf("RAW_THRESHOLD %d must be >= EFFECTIVE_THRESHOLD %d", c.RawThreshold, c.EffectiveThreshold))
	}
	if c.HighRiskMinPending <= 0 {
		errs = append(errs, fmt.Errorf("invalid HIGH_RISK_MIN_PENDING %d (must be positive)", c.HighRiskMinPending))
	}
	if c.CooldownSeconds < 0 {
		errs = append(errs, fmt.Errorf("invalid COOLDOWN_SECONDS %d (must be non-negative)", c.CooldownSeconds))
	}
	if c.SweepMinPending <= 0 || c.SweepMinPending > c.EffectiveThreshold {
		errs = append(errs, fmt.Errorf("invalid SWEEP_MIN_PENDING %d (must be 1..EFFECTIVE_THRESHOLD)", c.SweepMinPending))
	}

	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("invalid SIMILARITY_THRESHOLD %g (must be in (0, 1])", c.SimilarityThreshold))
	}

	if c.AlertMinHits <= 0 {
		errs = append(errs, fmt.Errorf("invalid ALERT_MIN_HITS %d (must be positive)", c.AlertMinHits))
	}
	if c.AlertWindowP0Secs <= 0 || c.AlertWindowP1Secs <= 0 || c.AlertWindowP2Secs <= 0 {
		errs = append(errs, errors.New("alert windows must be positive"))
	}

	switch c.LLMProvider {
	case "dashscope", "claude":
	default:
		errs = append(errs, fmt.Errorf("invalid LLM_PROVIDER %q (must be dashscope or claude)", c.LLMProvider))
	}

	// LLM API key is required for the triage pipeline
	if c.LLMAPIKey == "" {
		errs = append(errs, errors.New("LLM_API_KEY is required"))
	}
	if c.LLMModel == "" {
		errs = append(errs, errors.New("LLM_MODEL is required"))
	}
	if c.LLMRPS <= 0 {
		errs = append(errs, fmt.Errorf("invalid LLM_RPS %g (must be positive)", c.LLMRPS))
	}
	if c.LLMBurst <= 0 {
		errs = append(errs, fmt.Errorf("invalid LLM_BURST %d (must be positive)", c.LLMBurst))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
