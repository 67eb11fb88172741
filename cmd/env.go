package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/expand-cli/internal/cost"
	"github.com/sells-group/expand-cli/internal/expand"
	"github.com/sells-group/expand-cli/internal/llm"
	"github.com/sells-group/expand-cli/internal/policy"
	"github.com/sells-group/expand-cli/internal/prompt"
	"github.com/sells-group/expand-cli/internal/store"
	"github.com/sells-group/expand-cli/internal/tokens"
	anthropicpkg "github.com/sells-group/expand-cli/pkg/anthropic"
	"github.com/sells-group/expand-cli/pkg/jina"
	"github.com/sells-group/expand-cli/pkg/openai"
	"github.com/sells-group/expand-cli/pkg/rails"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "expand.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// activeModel returns the extraction model name for the configured provider.
func activeModel() string {
	if cfg.LLM.Provider == "anthropic" {
		return cfg.LLM.Anthropic.Model
	}
	return cfg.LLM.OpenAI.Model
}

func initProvider() (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		if cfg.LLM.Anthropic.Key == "" {
			return nil, eris.New("anthropic API key is required (EXPAND_LLM_ANTHROPIC_KEY)")
		}
		client := anthropicpkg.NewClient(cfg.LLM.Anthropic.Key)
		return llm.NewAnthropicProvider(client, cfg.LLM.Anthropic.Model), nil
	case "openai", "":
		if cfg.LLM.OpenAI.Key == "" {
			return nil, eris.New("openai API key is required (EXPAND_LLM_OPENAI_KEY)")
		}
		client := openai.NewClient(cfg.LLM.OpenAI.Key,
			openai.WithBaseURL(cfg.LLM.OpenAI.BaseURL),
			openai.WithModel(cfg.LLM.OpenAI.Model),
			openai.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.LLM.TimeoutSecs) * time.Second}),
		)
		return llm.NewOpenAIProvider(client, cfg.LLM.OpenAI.Model), nil
	default:
		return nil, eris.Errorf("unsupported llm provider: %s", cfg.LLM.Provider)
	}
}

func initBlocklist() (*policy.Blocklist, error) {
	if cfg.Policy.File != "" {
		return policy.LoadBlocklistFile(cfg.Policy.File)
	}
	return policy.NewBlocklist(cfg.Policy.BlockedDomains, cfg.Policy.BlockedExtensions), nil
}

func pricingRates() cost.Rates {
	rates := cost.DefaultRates()
	if len(cfg.Pricing.Models) > 0 {
		rates.Models = make(map[string]cost.ModelRate, len(cfg.Pricing.Models))
		for name, p := range cfg.Pricing.Models {
			rates.Models[name] = cost.ModelRate{Input: p.Input, Output: p.Output}
		}
	}
	if cfg.Pricing.Jina.PerMTok > 0 {
		rates.Jina.PerMTok = cfg.Pricing.Jina.PerMTok
	}
	return rates
}

// buildOrchestrator wires the full pipeline from config. The returned
// store is already migrated; the caller owns closing it.
func buildOrchestrator(ctx context.Context) (*expand.Orchestrator, store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, nil, eris.Wrap(err, "migrate store")
	}

	provider, err := initProvider()
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	blocklist, err := initBlocklist()
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	model := activeModel()
	budget, err := tokens.NewBudget(model)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	extractor := llm.NewExtractor(provider, llm.ExtractorConfig{
		MaxRetries:        cfg.LLM.MaxRetries,
		RetryBackoff:      time.Duration(cfg.LLM.RetryBackoffSecs) * time.Second,
		RateLimitCooldown: time.Duration(cfg.LLM.RateLimitCooldownSecs) * time.Second,
		MaxRateLimitWaits: cfg.LLM.MaxAttempts,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		MaxOutputTokens:   cfg.Expand.MaxOutputTokens,
	})

	deps := expand.Deps{
		Backend: rails.NewClient(cfg.Rails.BaseURL, cfg.Rails.Key,
			rails.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Rails.TimeoutSecs) * time.Second})),
		Web: jina.NewClient(cfg.Jina.Key,
			jina.WithBaseURL(cfg.Jina.BaseURL),
			jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL)),
		Extractor: extractor,
		Prompts:   prompt.NewBuilder("", budget, cfg.Expand.MaxInputTokens),
		Blocklist: blocklist,
		Costs:     cost.NewCalculator(pricingRates()),
		Runs:      st,
	}

	o := expand.New(deps, expand.Config{
		MaxLinks:         cfg.Expand.MaxLinks,
		MatchQuota:       cfg.Expand.MatchQuota,
		Model:            model,
		PageCacheTTL:     time.Duration(cfg.Expand.PageCacheTTLHours) * time.Hour,
		ConcurrentFetch:  cfg.Expand.ConcurrentFetch,
		FetchConcurrency: cfg.Expand.FetchConcurrency,
	})

	zap.L().Info("pipeline ready",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", model),
		zap.Int("max_links", cfg.Expand.MaxLinks),
		zap.Int("match_quota", cfg.Expand.MatchQuota),
	)
	return o, st, nil
}
