package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/expand-cli/internal/model"
	"github.com/sells-group/expand-cli/internal/tokens"
)

type wordEncoder struct{}

func (wordEncoder) Count(text string) int {
	return len(strings.Fields(text))
}

func testEvent() *model.TargetEvent {
	return &model.TargetEvent{
		ID: 1,
		EventFields: model.EventFields{
			EventName:        "Zenith Live 2025",
			OrganizationName: "Zscaler",
			City:             "Las Vegas",
			State:            "NV",
		},
		SearchString: "Zscaler Zenith Live 2025 Las Vegas June",
	}
}

func TestBuildIncludesEventContextAndPage(t *testing.T) {
	budget := tokens.NewBudgetWithEncoder(wordEncoder{})
	b := NewBuilder("", budget, 32000)

	got := b.Build(testEvent(), "The conference takes place at the Venetian.")

	assert.Contains(t, got, "Zenith Live 2025")
	assert.Contains(t, got, "Zscaler")
	assert.Contains(t, got, "Las Vegas")
	assert.Contains(t, got, "The conference takes place at the Venetian.")
	assert.Contains(t, got, "matches_target_event")
}

func TestBuildAppliesBudgetToCombinedPrompt(t *testing.T) {
	budget := tokens.NewBudgetWithEncoder(wordEncoder{})
	maxTokens := 250
	b := NewBuilder("", budget, maxTokens)

	page := strings.Repeat("filler ", 5000)
	got := b.Build(testEvent(), page)

	assert.LessOrEqual(t, budget.Count(got), maxTokens)
}

func TestBuildNeverTruncatesInstructionPrefix(t *testing.T) {
	budget := tokens.NewBudgetWithEncoder(wordEncoder{})
	// Budget smaller than the instruction prefix itself: the page text is
	// dropped entirely, the instructions survive intact.
	b := NewBuilder("", budget, 10)

	page := strings.Repeat("filler ", 100)
	got := b.Build(testEvent(), page)

	assert.Contains(t, got, "matches_target_event")
	assert.NotContains(t, got, "filler")
}

func TestBuildEmptyPageText(t *testing.T) {
	budget := tokens.NewBudgetWithEncoder(wordEncoder{})
	b := NewBuilder("", budget, 32000)

	got := b.Build(testEvent(), "")
	assert.Contains(t, got, "Page content:")
}

func TestBuildSkipsEmptyEventFields(t *testing.T) {
	budget := tokens.NewBudgetWithEncoder(wordEncoder{})
	b := NewBuilder("", budget, 32000)

	event := &model.TargetEvent{ID: 2, EventFields: model.EventFields{EventName: "Solo Expo"}}
	got := b.Build(event, "text")

	assert.Contains(t, got, "Event name: Solo Expo")
	assert.NotContains(t, got, "Venue:")
	assert.NotContains(t, got, "City:")
}
