// Package expand runs the event-expansion control loop: search for
// candidate pages, extract structured readings, accumulate backend-verified
// matches, and consolidate them into the target event.
package expand

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/expand-cli/internal/cost"
	"github.com/sells-group/expand-cli/internal/llm"
	"github.com/sells-group/expand-cli/internal/merge"
	"github.com/sells-group/expand-cli/internal/model"
	"github.com/sells-group/expand-cli/internal/policy"
	"github.com/sells-group/expand-cli/internal/prompt"
	"github.com/sells-group/expand-cli/internal/store"
	"github.com/sells-group/expand-cli/pkg/jina"
	"github.com/sells-group/expand-cli/pkg/rails"
)

// Extractor turns one prompt into structured events plus token usage.
type Extractor interface {
	Extract(ctx context.Context, prompt string) ([]model.ExtractedEvent, llm.Usage, error)
}

// Config tunes one orchestrator.
type Config struct {
	// MaxLinks caps the candidate links requested per run.
	MaxLinks int
	// MatchQuota is the number of corroborating readings that stops the
	// loop early.
	MatchQuota int
	// Model is the extraction model name, used for cost estimation.
	Model string
	// PageCacheTTL controls how long fetched pages stay reusable. Zero
	// disables the cache.
	PageCacheTTL time.Duration
	// ConcurrentFetch prefetches all queued pages before extraction.
	// Prefetching fixes the visit order, so domain demotion is disabled in
	// this mode.
	ConcurrentFetch bool
	// FetchConcurrency bounds concurrent prefetches. Default: 2.
	FetchConcurrency int
}

func (c Config) withDefaults() Config {
	if c.MaxLinks <= 0 {
		c.MaxLinks = 10
	}
	if c.MatchQuota <= 0 {
		c.MatchQuota = 3
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = 2
	}
	return c
}

// Deps are the orchestrator's collaborators. Runs is optional; without it
// no local run history is kept.
type Deps struct {
	Backend   rails.Client
	Web       jina.Client
	Extractor Extractor
	Prompts   *prompt.Builder
	Blocklist *policy.Blocklist
	Costs     *cost.Calculator
	Runs      store.Store
}

// Orchestrator drives one expansion run per call.
type Orchestrator struct {
	deps      Deps
	evaluator *MatchEvaluator
	cfg       Config
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	return &Orchestrator{
		deps:      deps,
		evaluator: NewMatchEvaluator(deps.Backend),
		cfg:       cfg.withDefaults(),
	}
}

// fetched is one prefetched page, or the error that stood in for it.
type fetched struct {
	markdown string
	tokens   int
	err      error
}

// Run executes one expansion for the given event, or for the backend's
// next queued event when eventID is zero. Only the initial target fetch is
// fatal; per-link failures are logged and skipped, and the run always ends
// with the event's auto_expanded flag flipped.
func (o *Orchestrator) Run(ctx context.Context, eventID int) (*model.RunResult, error) {
	event, err := o.loadTarget(ctx, eventID)
	if err != nil {
		return &model.RunResult{EventID: eventID, Error: err.Error()}, err
	}
	if event == nil {
		// Empty queue is a clean no-op, not a failure.
		zap.L().Info("no event queued for expansion")
		return &model.RunResult{}, nil
	}

	log := zap.L().With(zap.Int("event_id", event.ID))
	result := &model.RunResult{EventID: event.ID}

	runID := o.recordRunStart(ctx, event.ID)
	defer o.recordRunResult(ctx, runID, result)

	o.setStatus(ctx, runID, model.RunStatusSearching)
	queue := o.searchLinks(ctx, log, event, result)

	o.setStatus(ctx, runID, model.RunStatusExpanding)
	matched := o.expandLinks(ctx, log, event, queue, result)

	if len(matched) > 0 {
		o.setStatus(ctx, runID, model.RunStatusMerging)
		merged := merge.Readings(*event, matched)
		result.Merged = &merged

		// The backend applies its own consolidation over the persisted
		// readings; a failure there does not roll back anything.
		if _, err := o.deps.Backend.MergeReadings(ctx, event.ID); err != nil {
			log.Warn("backend merge failed", zap.Error(err))
		}
	}

	o.setStatus(ctx, runID, model.RunStatusFinalizing)
	if err := o.deps.Backend.UpdateAutoExpanded(ctx, event.ID, true); err != nil {
		log.Error("auto_expanded flag update failed", zap.Error(err))
	} else {
		result.FlagUpdated = true
	}

	if o.deps.Costs != nil {
		result.EstimatedCost = o.deps.Costs.Model(o.cfg.Model, result.InputTokens, result.OutputTokens)
	}

	log.Info("expansion run complete",
		zap.Int("links_searched", result.LinksSearched),
		zap.Int("links_blocked", result.LinksBlocked),
		zap.Int("links_processed", result.LinksProcessed),
		zap.Int("readings_created", result.ReadingsCreated),
		zap.Int("matches_found", result.MatchesFound),
		zap.Int("input_tokens", result.InputTokens),
		zap.Int("output_tokens", result.OutputTokens),
		zap.Float64("estimated_cost_usd", result.EstimatedCost),
	)
	return result, nil
}

func (o *Orchestrator) loadTarget(ctx context.Context, eventID int) (*model.TargetEvent, error) {
	if eventID > 0 {
		event, err := o.deps.Backend.GetEvent(ctx, eventID)
		if err != nil {
			return nil, eris.Wrapf(err, "expand: load event %d", eventID)
		}
		return event, nil
	}

	event, err := o.deps.Backend.NextEventToExpand(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "expand: next event to expand")
	}
	return event, nil
}

// searchLinks queries the search engine and applies the blocklist. Search
// failures leave an empty queue; the run still finalizes.
func (o *Orchestrator) searchLinks(ctx context.Context, log *zap.Logger, event *model.TargetEvent, result *model.RunResult) []string {
	query := event.SearchString
	if query == "" {
		query = event.EventName
	}

	links, err := o.deps.Web.Search(ctx, query, o.cfg.MaxLinks)
	if err != nil {
		log.Warn("search failed, continuing with no links", zap.Error(err))
		return nil
	}
	result.LinksSearched = len(links)

	queue, blocked := o.deps.Blocklist.Filter(links)
	result.LinksBlocked = blocked
	if blocked > 0 {
		log.Info("blocklist removed links", zap.Int("blocked", blocked))
	}
	return queue
}

// expandLinks works the queue FIFO until the match quota is reached or the
// queue empties, returning the matching readings in accumulation order.
func (o *Orchestrator) expandLinks(ctx context.Context, log *zap.Logger, event *model.TargetEvent, queue []string, result *model.RunResult) []model.Reading {
	var prefetched map[string]fetched
	if o.cfg.ConcurrentFetch {
		prefetched = o.prefetch(ctx, queue)
	}

	var matched []model.Reading
	for len(queue) > 0 {
		if result.MatchesFound >= o.cfg.MatchQuota {
			break
		}

		link := queue[0]
		queue = queue[1:]
		linkLog := log.With(zap.String("url", link))

		page, jinaTokens, err := o.fetchPage(ctx, link, prefetched)
		if err != nil {
			linkLog.Warn("fetch failed, skipping link", zap.Error(err))
			result.LinksSkipped++
			continue
		}

		input := o.deps.Prompts.Build(event, page)
		events, usage, err := o.deps.Extractor.Extract(ctx, input)
		result.InputTokens += usage.InputTokens
		result.OutputTokens += usage.OutputTokens
		if o.deps.Costs != nil {
			result.EstimatedCost += o.deps.Costs.Jina(jinaTokens)
		}
		if err != nil {
			linkLog.Warn("extraction failed, skipping link", zap.Error(err))
			result.LinksSkipped++
			continue
		}

		result.LinksProcessed++

		if len(events) == 0 {
			// Unproductive host: push its remaining links behind the rest.
			// Prefetch mode fixed the order already, so no reordering there.
			if !o.cfg.ConcurrentFetch {
				queue = policy.Demote(queue, link)
			}
			linkLog.Info("no events extracted, demoting domain")
			continue
		}

		matched = append(matched, o.persistAndEvaluate(ctx, linkLog, event, link, events, result)...)
	}
	return matched
}

// persistAndEvaluate stores each extracted event as a Reading and collects
// the ones the backend confirms as matches.
func (o *Orchestrator) persistAndEvaluate(ctx context.Context, log *zap.Logger, event *model.TargetEvent, link string, events []model.ExtractedEvent, result *model.RunResult) []model.Reading {
	stored, err := o.deps.Backend.FindOrCreateLink(ctx, link)
	if err != nil {
		log.Warn("link upsert failed, readings not persisted", zap.Error(err))
		return nil
	}

	var matched []model.Reading
	for _, extracted := range events {
		reading, err := o.deps.Backend.CreateReading(ctx, extracted.Reading(stored.ID))
		if err != nil {
			log.Warn("reading create failed, skipping", zap.Error(err))
			continue
		}
		result.ReadingsCreated++

		if o.evaluator.Matches(ctx, *reading, event) {
			matched = append(matched, *reading)
			result.MatchesFound++
			if result.MatchesFound >= o.cfg.MatchQuota {
				break
			}
		}
	}
	return matched
}

// fetchPage returns page markdown for a link, consulting the prefetch map,
// then the local page cache, then the reader service.
func (o *Orchestrator) fetchPage(ctx context.Context, link string, prefetched map[string]fetched) (string, int, error) {
	if prefetched != nil {
		f, ok := prefetched[link]
		if !ok {
			return "", 0, eris.Errorf("expand: link %s missing from prefetch", link)
		}
		return f.markdown, f.tokens, f.err
	}

	if cached := o.cachedPage(ctx, link); cached != "" {
		return cached, 0, nil
	}

	page, err := o.deps.Web.Read(ctx, link)
	if err != nil {
		return "", 0, err
	}
	o.cachePage(ctx, link, page.Markdown)
	return page.Markdown, page.Tokens, nil
}

// prefetch fetches every queued page concurrently. Fetch errors are kept
// per link and surface when the loop reaches that link.
func (o *Orchestrator) prefetch(ctx context.Context, queue []string) map[string]fetched {
	pages := make(map[string]fetched, len(queue))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.FetchConcurrency)
	for _, link := range queue {
		g.Go(func() error {
			var f fetched
			if cached := o.cachedPage(gctx, link); cached != "" {
				f.markdown = cached
			} else if page, err := o.deps.Web.Read(gctx, link); err != nil {
				f.err = err
			} else {
				f.markdown = page.Markdown
				f.tokens = page.Tokens
				o.cachePage(gctx, link, page.Markdown)
			}

			mu.Lock()
			pages[link] = f
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return pages
}

func (o *Orchestrator) cachedPage(ctx context.Context, link string) string {
	if o.deps.Runs == nil || o.cfg.PageCacheTTL <= 0 {
		return ""
	}
	page, err := o.deps.Runs.GetCachedPage(ctx, link)
	if err != nil {
		zap.L().Warn("page cache lookup failed", zap.String("url", link), zap.Error(err))
		return ""
	}
	if page == nil {
		return ""
	}
	return page.Markdown
}

func (o *Orchestrator) cachePage(ctx context.Context, link, markdown string) {
	if o.deps.Runs == nil || o.cfg.PageCacheTTL <= 0 {
		return
	}
	if err := o.deps.Runs.SetCachedPage(ctx, link, markdown, o.cfg.PageCacheTTL); err != nil {
		zap.L().Warn("page cache write failed", zap.String("url", link), zap.Error(err))
	}
}

func (o *Orchestrator) recordRunStart(ctx context.Context, eventID int) string {
	if o.deps.Runs == nil {
		return ""
	}
	run, err := o.deps.Runs.CreateRun(ctx, eventID)
	if err != nil {
		zap.L().Warn("run record create failed", zap.Error(err))
		return ""
	}
	return run.ID
}

func (o *Orchestrator) recordRunResult(ctx context.Context, runID string, result *model.RunResult) {
	if o.deps.Runs == nil || runID == "" {
		return
	}
	if err := o.deps.Runs.UpdateRunResult(ctx, runID, result); err != nil {
		zap.L().Warn("run record update failed", zap.String("run_id", runID), zap.Error(err))
	}
}

func (o *Orchestrator) setStatus(ctx context.Context, runID string, status model.RunStatus) {
	if o.deps.Runs == nil || runID == "" {
		return
	}
	if err := o.deps.Runs.UpdateRunStatus(ctx, runID, status); err != nil {
		zap.L().Warn("run status update failed", zap.String("run_id", runID), zap.Error(err))
	}
}
