package llm

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/expand-cli/internal/resilience"
)

// fakeProvider returns queued responses in order; errors count as one call.
type fakeProvider struct {
	responses []any // *Completion or error
	calls     int
}

func (f *fakeProvider) Complete(_ context.Context, _ string, _ int) (*Completion, error) {
	next := f.responses[f.calls]
	f.calls++
	switch v := next.(type) {
	case *Completion:
		return v, nil
	case error:
		return nil, v
	}
	panic("bad fixture")
}

func fastConfig() ExtractorConfig {
	return ExtractorConfig{
		MaxRetries:        2,
		RetryBackoff:      time.Millisecond,
		RateLimitCooldown: time.Millisecond,
		MaxRateLimitWaits: 3,
	}
}

func TestExtract(t *testing.T) {
	p := &fakeProvider{responses: []any{
		&Completion{
			Text:         `[{"event_name":"Spring Gala","city":"Austin"}]`,
			InputTokens:  100,
			OutputTokens: 20,
		},
	}}

	e := NewExtractor(p, fastConfig())
	events, usage, err := e.Extract(context.Background(), "prompt")
	require.NoError(t, err)

	require.Len(t, events, 1)
	assert.Equal(t, "Spring Gala", events[0].EventName)
	assert.Equal(t, "Austin", events[0].City)
	assert.Equal(t, 100, usage.InputTokens)
	assert.Equal(t, 20, usage.OutputTokens)
}

func TestExtractRetriesTransient(t *testing.T) {
	p := &fakeProvider{responses: []any{
		resilience.NewTransientError(eris.New("503"), 503),
		&Completion{Text: `[]`, InputTokens: 50},
	}}

	e := NewExtractor(p, fastConfig())
	events, usage, err := e.Extract(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, 50, usage.InputTokens)
	assert.Equal(t, 2, p.calls)
}

func TestExtractRateLimitWaitsDoNotConsumeRetries(t *testing.T) {
	p := &fakeProvider{responses: []any{
		resilience.NewRateLimitError(eris.New("429"), 0),
		resilience.NewRateLimitError(eris.New("429"), 0),
		resilience.NewRateLimitError(eris.New("429"), 0),
		&Completion{Text: `[{"event_name":"Foo"}]`},
	}}

	cfg := fastConfig()
	cfg.MaxRetries = 1
	e := NewExtractor(p, cfg)
	events, _, err := e.Extract(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 4, p.calls)
}

func TestExtractRateLimitCeiling(t *testing.T) {
	p := &fakeProvider{responses: []any{
		resilience.NewRateLimitError(eris.New("429"), 0),
		resilience.NewRateLimitError(eris.New("429"), 0),
		resilience.NewRateLimitError(eris.New("429"), 0),
		resilience.NewRateLimitError(eris.New("429"), 0),
	}}

	cfg := fastConfig()
	cfg.MaxRateLimitWaits = 3
	e := NewExtractor(p, cfg)
	_, _, err := e.Extract(context.Background(), "prompt")
	require.Error(t, err)
	assert.Equal(t, 4, p.calls)
}

func TestExtractPermanentErrorSurfaces(t *testing.T) {
	p := &fakeProvider{responses: []any{eris.New("400 bad request")}}

	e := NewExtractor(p, fastConfig())
	_, _, err := e.Extract(context.Background(), "prompt")
	require.Error(t, err)
	assert.Equal(t, 1, p.calls)
}

func TestExtractUnparseableIsEmptyNotError(t *testing.T) {
	p := &fakeProvider{responses: []any{
		&Completion{Text: "I could not find any events on this page.", InputTokens: 80, OutputTokens: 12},
	}}

	e := NewExtractor(p, fastConfig())
	events, usage, err := e.Extract(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, 80, usage.InputTokens)
	assert.Equal(t, 12, usage.OutputTokens)
}
