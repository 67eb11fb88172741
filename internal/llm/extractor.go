package llm

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/expand-cli/internal/model"
	"github.com/sells-group/expand-cli/internal/resilience"
)

// Usage accumulates token consumption across extraction calls.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ExtractorConfig tunes the retry and throughput behavior of an Extractor.
type ExtractorConfig struct {
	// MaxRetries bounds retries of transient failures (the first try is not
	// counted). Default: 3.
	MaxRetries int
	// RetryBackoff is the fixed delay between transient retries. Default: 5s.
	RetryBackoff time.Duration
	// RateLimitCooldown is the fixed wait after a 429. Cooldown waits do
	// not consume MaxRetries. Default: 10s.
	RateLimitCooldown time.Duration
	// MaxRateLimitWaits caps cooldown waits per call. Default: 10.
	MaxRateLimitWaits int
	// RequestsPerMinute throttles outbound calls. Zero disables throttling.
	RequestsPerMinute int
	// MaxOutputTokens caps the completion length. Zero uses the provider
	// default.
	MaxOutputTokens int
}

func (c ExtractorConfig) withDefaults() ExtractorConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	if c.RateLimitCooldown <= 0 {
		c.RateLimitCooldown = 10 * time.Second
	}
	if c.MaxRateLimitWaits <= 0 {
		c.MaxRateLimitWaits = 10
	}
	return c
}

// Extractor runs extraction prompts against a provider and parses the
// responses into structured events.
type Extractor struct {
	provider Provider
	cfg      ExtractorConfig
	limiter  *rate.Limiter
}

// NewExtractor creates an Extractor over the given provider.
func NewExtractor(provider Provider, cfg ExtractorConfig) *Extractor {
	cfg = cfg.withDefaults()

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}

	return &Extractor{provider: provider, cfg: cfg, limiter: limiter}
}

// Extract sends one prompt and returns the parsed events plus token usage.
// Usage is reported whenever the provider call succeeds, including when the
// response body fails to parse; an unparseable response is an empty result,
// not an error.
func (e *Extractor) Extract(ctx context.Context, prompt string) ([]model.ExtractedEvent, Usage, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, Usage{}, eris.Wrap(err, "llm: rate limiter wait")
		}
	}

	retryCfg := resilience.RetryConfig{
		MaxAttempts:       e.cfg.MaxRetries + 1,
		InitialBackoff:    e.cfg.RetryBackoff,
		Multiplier:        1.0,
		JitterFraction:    0,
		RateLimitCooldown: e.cfg.RateLimitCooldown,
		MaxRateLimitWaits: e.cfg.MaxRateLimitWaits,
		OnRetry:           resilience.RetryLogger("llm", "complete"),
	}

	completion, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*Completion, error) {
		return e.provider.Complete(ctx, prompt, e.cfg.MaxOutputTokens)
	})
	if err != nil {
		return nil, Usage{}, eris.Wrap(err, "llm: extraction call")
	}

	usage := Usage{
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
	}
	return parseExtractions(completion.Text), usage, nil
}
