// Package prompt composes extraction prompts for the event expansion
// pipeline.
package prompt

import (
	"fmt"
	"strings"

	"github.com/sells-group/expand-cli/internal/model"
	"github.com/sells-group/expand-cli/internal/tokens"
)

// DefaultTemplate is the static extraction instruction block. The page
// content is appended after the target-event context; the model returns a
// JSON array because a single page may describe several events.
const DefaultTemplate = `You are a research analyst extracting structured event data from a web page.

Target event under investigation:
%s

The page content below may describe this event, a different event, or several events. For EVERY distinct event described on the page, return one JSON object with these fields (use null for anything the page does not state):
{"event_name": ..., "event_name_casual": ..., "organization_name": ..., "organization_name_abbreviated": ..., "organization_link": ..., "start_date": "YYYY-MM-DD", "end_date": "YYYY-MM-DD", "city": ..., "state": ..., "venue": ..., "matches_target_event": true/false}

Set matches_target_event to true only when the described event is the same real-world event as the target above. Return ONLY a JSON array of these objects, with no commentary. Return [] if the page describes no events.

Page content:
`

// Builder assembles the LLM input from the instruction template, the
// target event's identifying fields, and the page text, keeping the
// combined prompt within the input-token budget. The instruction prefix is
// never truncated; only the page text shrinks.
type Builder struct {
	template  string
	budget    *tokens.Budget
	maxTokens int
}

// NewBuilder creates a Builder. An empty template selects DefaultTemplate.
func NewBuilder(template string, budget *tokens.Budget, maxInputTokens int) *Builder {
	if template == "" {
		template = DefaultTemplate
	}
	return &Builder{template: template, budget: budget, maxTokens: maxInputTokens}
}

// Build returns the prompt for one page. The budget applies to the
// combined prompt, so the page text is truncated to whatever room remains
// after the instruction prefix and event context.
func (b *Builder) Build(event *model.TargetEvent, pageText string) string {
	prefix := fmt.Sprintf(b.template, eventContext(event))

	room := b.maxTokens - b.budget.Count(prefix)
	page := b.budget.Truncate(pageText, room)

	return prefix + page
}

// eventContext renders the target event's identifying fields for the
// prompt, skipping empty values.
func eventContext(event *model.TargetEvent) string {
	var sb strings.Builder
	write := func(label, value string) {
		if value != "" {
			sb.WriteString(label)
			sb.WriteString(": ")
			sb.WriteString(value)
			sb.WriteString("\n")
		}
	}
	write("Event name", event.EventName)
	write("Casual name", event.EventNameCasual)
	write("Organization", event.OrganizationName)
	write("Organization abbreviation", event.OrganizationNameAbbreviated)
	write("Start date", event.StartDate)
	write("End date", event.EndDate)
	write("City", event.City)
	write("State", event.State)
	write("Venue", event.Venue)
	return strings.TrimRight(sb.String(), "\n")
}
