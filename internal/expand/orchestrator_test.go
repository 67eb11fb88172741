package expand

import (
	"context"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/expand-cli/internal/llm"
	"github.com/sells-group/expand-cli/internal/model"
	"github.com/sells-group/expand-cli/internal/policy"
	"github.com/sells-group/expand-cli/internal/prompt"
	"github.com/sells-group/expand-cli/internal/tokens"
	"github.com/sells-group/expand-cli/pkg/jina"
)

// wordEncoder counts whitespace-separated words, standing in for a real
// tokenizer in offline tests.
type wordEncoder struct{}

func (wordEncoder) Count(text string) int {
	return len(strings.Fields(text))
}

type fakeWeb struct {
	searchResults []string
	searchErr     error
	pages         map[string]string // url -> markdown
	readErrs      map[string]error
	reads         []string // fetch order
}

func (f *fakeWeb) Search(_ context.Context, _ string, limit int) ([]string, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if limit > 0 && len(f.searchResults) > limit {
		return f.searchResults[:limit], nil
	}
	return f.searchResults, nil
}

func (f *fakeWeb) Read(_ context.Context, url string) (*jina.Page, error) {
	f.reads = append(f.reads, url)
	if err, ok := f.readErrs[url]; ok {
		return nil, err
	}
	md, ok := f.pages[url]
	if !ok {
		return nil, eris.Errorf("no page for %s", url)
	}
	return &jina.Page{URL: url, Markdown: md}, nil
}

type fakeBackend struct {
	event        *model.TargetEvent
	eventErr     error
	nextLinkID   int
	nextReading  int
	readings     []model.Reading
	matches      map[string]bool // event_name -> verdict
	matchErrs    map[string]error
	flagSet      bool
	flagErr      error
	mergedCalled bool
	mergeErr     error
}

func (f *fakeBackend) NextEventToExpand(context.Context) (*model.TargetEvent, error) {
	return f.event, f.eventErr
}

func (f *fakeBackend) GetEvent(context.Context, int) (*model.TargetEvent, error) {
	return f.event, f.eventErr
}

func (f *fakeBackend) FindOrCreateLink(_ context.Context, url string) (*model.Link, error) {
	f.nextLinkID++
	return &model.Link{ID: f.nextLinkID, URL: url}, nil
}

func (f *fakeBackend) CreateReading(_ context.Context, r model.Reading) (*model.Reading, error) {
	f.nextReading++
	r.ID = f.nextReading
	f.readings = append(f.readings, r)
	return &r, nil
}

func (f *fakeBackend) CheckReadingMatch(_ context.Context, readingID, _ int) (bool, error) {
	for _, r := range f.readings {
		if r.ID == readingID {
			if err, ok := f.matchErrs[r.EventName]; ok {
				return false, err
			}
			return f.matches[r.EventName], nil
		}
	}
	return false, eris.Errorf("unknown reading %d", readingID)
}

func (f *fakeBackend) MergeReadings(context.Context, int) (*model.TargetEvent, error) {
	f.mergedCalled = true
	if f.mergeErr != nil {
		return nil, f.mergeErr
	}
	return f.event, nil
}

func (f *fakeBackend) UpdateAutoExpanded(context.Context, int, bool) error {
	if f.flagErr != nil {
		return f.flagErr
	}
	f.flagSet = true
	return nil
}

// fakeExtractor keys responses on a substring of the page text embedded in
// the prompt.
type fakeExtractor struct {
	byPage map[string][]model.ExtractedEvent
	errs   map[string]error
	usage  llm.Usage
}

func (f *fakeExtractor) Extract(_ context.Context, input string) ([]model.ExtractedEvent, llm.Usage, error) {
	for key, err := range f.errs {
		if strings.Contains(input, key) {
			return nil, llm.Usage{}, err
		}
	}
	for key, events := range f.byPage {
		if strings.Contains(input, key) {
			return events, f.usage, nil
		}
	}
	return nil, f.usage, nil
}

func boolPtr(b bool) *bool { return &b }

func matchingEvent(name, city string) model.ExtractedEvent {
	return model.ExtractedEvent{
		EventFields:        model.EventFields{EventName: name, City: city},
		MatchesTargetEvent: boolPtr(true),
	}
}

func newTestOrchestrator(backend *fakeBackend, web *fakeWeb, ex *fakeExtractor, cfg Config) *Orchestrator {
	budget := tokens.NewBudgetWithEncoder(wordEncoder{})
	return New(Deps{
		Backend:   backend,
		Web:       web,
		Extractor: ex,
		Prompts:   prompt.NewBuilder("", budget, 32000),
		Blocklist: policy.NewBlocklist([]string{"blocked.example"}, []string{".pdf"}),
	}, cfg)
}

func targetEvent() *model.TargetEvent {
	return &model.TargetEvent{
		ID: 1,
		EventFields: model.EventFields{
			EventName: "Example Conf",
			City:      "Austin",
		},
		SearchString: "Example Conf 2025",
	}
}

func TestRunStopsAtMatchQuota(t *testing.T) {
	backend := &fakeBackend{
		event: targetEvent(),
		matches: map[string]bool{
			"Example Conf": true,
		},
	}
	web := &fakeWeb{
		searchResults: []string{
			"https://one.example/a",
			"https://two.example/b",
			"https://three.example/c",
			"https://four.example/d",
		},
		pages: map[string]string{
			"https://one.example/a":   "page-one",
			"https://two.example/b":   "page-two",
			"https://three.example/c": "page-three",
			"https://four.example/d":  "page-four",
		},
	}
	ex := &fakeExtractor{byPage: map[string][]model.ExtractedEvent{
		"page-one":   {matchingEvent("Example Conf", "Austin")},
		"page-two":   {matchingEvent("Example Conf", "Austin")},
		"page-three": {matchingEvent("Example Conf", "Dallas")},
		"page-four":  {matchingEvent("Example Conf", "Austin")},
	}}

	o := newTestOrchestrator(backend, web, ex, Config{MatchQuota: 3})
	result, err := o.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 3, result.MatchesFound)
	assert.NotContains(t, web.reads, "https://four.example/d")
	assert.True(t, backend.flagSet)
}

func TestRunEndToEnd(t *testing.T) {
	backend := &fakeBackend{
		event:   targetEvent(),
		matches: map[string]bool{"Example Conf": true},
	}
	web := &fakeWeb{
		searchResults: []string{
			"https://good.example/a",
			"https://blocked.example/b.pdf",
			"https://good.example/c",
		},
		pages: map[string]string{
			"https://good.example/a": "page-a",
			"https://good.example/c": "page-c",
		},
	}
	ex := &fakeExtractor{
		byPage: map[string][]model.ExtractedEvent{
			"page-c": {matchingEvent("Example Conf", "Austin")},
		},
		usage: llm.Usage{InputTokens: 100, OutputTokens: 10},
	}

	o := newTestOrchestrator(backend, web, ex, Config{MatchQuota: 3})
	result, err := o.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 3, result.LinksSearched)
	assert.Equal(t, 1, result.LinksBlocked)
	assert.NotContains(t, web.reads, "https://blocked.example/b.pdf")
	assert.Equal(t, 1, result.MatchesFound)
	assert.Equal(t, 1, result.ReadingsCreated)
	require.Len(t, backend.readings, 1)
	assert.True(t, backend.flagSet)
	assert.Equal(t, 200, result.InputTokens)
	assert.Equal(t, 20, result.OutputTokens)
}

func TestRunDemotesUnproductiveDomain(t *testing.T) {
	backend := &fakeBackend{event: targetEvent()}
	web := &fakeWeb{
		searchResults: []string{
			"https://dry.example/1",
			"https://dry.example/2",
			"https://wet.example/1",
		},
		pages: map[string]string{
			"https://dry.example/1": "dry-one",
			"https://dry.example/2": "dry-two",
			"https://wet.example/1": "wet-one",
		},
	}
	// Nothing extracts, so every page triggers demotion.
	ex := &fakeExtractor{}

	o := newTestOrchestrator(backend, web, ex, Config{})
	_, err := o.Run(context.Background(), 1)
	require.NoError(t, err)

	// After dry/1 is unproductive, dry/2 moves behind wet/1.
	assert.Equal(t, []string{
		"https://dry.example/1",
		"https://wet.example/1",
		"https://dry.example/2",
	}, web.reads)
}

func TestRunDemotionKeepsAllLinks(t *testing.T) {
	backend := &fakeBackend{event: targetEvent()}
	web := &fakeWeb{
		searchResults: []string{
			"https://a.example/1",
			"https://a.example/2",
			"https://b.example/1",
			"https://a.example/3",
		},
		pages: map[string]string{
			"https://a.example/1": "a1",
			"https://a.example/2": "a2",
			"https://b.example/1": "b1",
			"https://a.example/3": "a3",
		},
	}
	ex := &fakeExtractor{}

	o := newTestOrchestrator(backend, web, ex, Config{})
	_, err := o.Run(context.Background(), 1)
	require.NoError(t, err)

	// Demotion reorders but never drops: every link is eventually visited.
	assert.ElementsMatch(t, []string{
		"https://a.example/1",
		"https://a.example/2",
		"https://b.example/1",
		"https://a.example/3",
	}, web.reads)
}

func TestRunFetchErrorSkipsLink(t *testing.T) {
	backend := &fakeBackend{
		event:   targetEvent(),
		matches: map[string]bool{"Example Conf": true},
	}
	web := &fakeWeb{
		searchResults: []string{"https://down.example/a", "https://up.example/b"},
		pages:         map[string]string{"https://up.example/b": "page-b"},
		readErrs:      map[string]error{"https://down.example/a": eris.New("connection refused")},
	}
	ex := &fakeExtractor{byPage: map[string][]model.ExtractedEvent{
		"page-b": {matchingEvent("Example Conf", "Austin")},
	}}

	o := newTestOrchestrator(backend, web, ex, Config{})
	result, err := o.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, result.LinksSkipped)
	assert.Equal(t, 1, result.MatchesFound)
	assert.True(t, backend.flagSet)
}

func TestRunExtractionErrorSkipsLink(t *testing.T) {
	backend := &fakeBackend{event: targetEvent()}
	web := &fakeWeb{
		searchResults: []string{"https://one.example/a"},
		pages:         map[string]string{"https://one.example/a": "page-one"},
	}
	ex := &fakeExtractor{errs: map[string]error{"page-one": eris.New("retries exhausted")}}

	o := newTestOrchestrator(backend, web, ex, Config{})
	result, err := o.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 1, result.LinksSkipped)
	assert.Equal(t, 0, result.MatchesFound)
	assert.True(t, backend.flagSet)
}

func TestRunMatchCheckErrorIsNoMatch(t *testing.T) {
	backend := &fakeBackend{
		event:     targetEvent(),
		matchErrs: map[string]error{"Example Conf": eris.New("500")},
	}
	web := &fakeWeb{
		searchResults: []string{"https://one.example/a"},
		pages:         map[string]string{"https://one.example/a": "page-one"},
	}
	ex := &fakeExtractor{byPage: map[string][]model.ExtractedEvent{
		"page-one": {matchingEvent("Example Conf", "Austin")},
	}}

	o := newTestOrchestrator(backend, web, ex, Config{})
	result, err := o.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 0, result.MatchesFound)
	assert.Equal(t, 1, result.ReadingsCreated)
	assert.True(t, backend.flagSet)
}

func TestRunFlagSetEvenWithZeroMatches(t *testing.T) {
	backend := &fakeBackend{event: targetEvent()}
	web := &fakeWeb{searchResults: nil}
	ex := &fakeExtractor{}

	o := newTestOrchestrator(backend, web, ex, Config{})
	result, err := o.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Equal(t, 0, result.MatchesFound)
	assert.True(t, backend.flagSet)
	assert.True(t, result.FlagUpdated)
	assert.False(t, backend.mergedCalled)
}

func TestRunTargetFetchFailureIsFatal(t *testing.T) {
	backend := &fakeBackend{eventErr: eris.New("connection refused")}
	web := &fakeWeb{}
	ex := &fakeExtractor{}

	o := newTestOrchestrator(backend, web, ex, Config{})
	result, err := o.Run(context.Background(), 1)
	require.Error(t, err)
	assert.NotEmpty(t, result.Error)
	assert.False(t, backend.flagSet)
}

func TestRunMergesMatchingReadings(t *testing.T) {
	backend := &fakeBackend{
		event:   targetEvent(),
		matches: map[string]bool{"Example Conf": true},
	}
	web := &fakeWeb{
		searchResults: []string{"https://one.example/a", "https://two.example/b", "https://three.example/c"},
		pages: map[string]string{
			"https://one.example/a":   "page-one",
			"https://two.example/b":   "page-two",
			"https://three.example/c": "page-three",
		},
	}
	ex := &fakeExtractor{byPage: map[string][]model.ExtractedEvent{
		"page-one":   {matchingEvent("Example Conf", "Austin")},
		"page-two":   {matchingEvent("Example Conf", "Austin")},
		"page-three": {matchingEvent("Example Conf", "Dallas")},
	}}

	o := newTestOrchestrator(backend, web, ex, Config{MatchQuota: 3})
	result, err := o.Run(context.Background(), 1)
	require.NoError(t, err)

	require.NotNil(t, result.Merged)
	assert.Equal(t, "Austin", result.Merged.City)
	assert.True(t, backend.mergedCalled)
}

func TestRunBackendMergeFailureIsBestEffort(t *testing.T) {
	backend := &fakeBackend{
		event:    targetEvent(),
		matches:  map[string]bool{"Example Conf": true},
		mergeErr: eris.New("merge endpoint down"),
	}
	web := &fakeWeb{
		searchResults: []string{"https://one.example/a"},
		pages:         map[string]string{"https://one.example/a": "page-one"},
	}
	ex := &fakeExtractor{byPage: map[string][]model.ExtractedEvent{
		"page-one": {matchingEvent("Example Conf", "Austin")},
	}}

	o := newTestOrchestrator(backend, web, ex, Config{})
	result, err := o.Run(context.Background(), 1)
	require.NoError(t, err)

	// The local merge and the persisted readings survive the backend
	// failure, and the flag still flips.
	require.NotNil(t, result.Merged)
	assert.Len(t, backend.readings, 1)
	assert.True(t, backend.flagSet)
}

func TestRunFlagUpdateFailureReported(t *testing.T) {
	backend := &fakeBackend{
		event:   targetEvent(),
		flagErr: eris.New("patch failed"),
	}
	web := &fakeWeb{}
	ex := &fakeExtractor{}

	o := newTestOrchestrator(backend, web, ex, Config{})
	result, err := o.Run(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, result.FlagUpdated)
}

func TestRunConcurrentPrefetchVisitsAllLinks(t *testing.T) {
	backend := &fakeBackend{
		event:   targetEvent(),
		matches: map[string]bool{"Example Conf": true},
	}
	web := &fakeWeb{
		searchResults: []string{"https://one.example/a", "https://two.example/b"},
		pages: map[string]string{
			"https://one.example/a": "page-one",
			"https://two.example/b": "page-two",
		},
	}
	ex := &fakeExtractor{byPage: map[string][]model.ExtractedEvent{
		"page-two": {matchingEvent("Example Conf", "Austin")},
	}}

	o := newTestOrchestrator(backend, web, ex, Config{ConcurrentFetch: true, FetchConcurrency: 2})
	result, err := o.Run(context.Background(), 1)
	require.NoError(t, err)

	assert.Len(t, web.reads, 2)
	assert.Equal(t, 1, result.MatchesFound)
}

func TestRunEmptyQueueIsNoOp(t *testing.T) {
	backend := &fakeBackend{}
	o := newTestOrchestrator(backend, &fakeWeb{}, &fakeExtractor{}, Config{})
	result, err := o.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.EventID)
	assert.False(t, backend.flagSet)
}
