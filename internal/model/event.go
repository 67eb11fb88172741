package model

// EventFields holds the descriptive fields shared by target events,
// readings, and merged events. Date fields are plain strings because the
// backend stores them as ISO dates and the pipeline never does date math.
type EventFields struct {
	EventName                   string `json:"event_name,omitempty"`
	EventNameCasual             string `json:"event_name_casual,omitempty"`
	OrganizationName            string `json:"organization_name,omitempty"`
	OrganizationNameAbbreviated string `json:"organization_name_abbreviated,omitempty"`
	OrganizationLink            string `json:"organization_link,omitempty"`
	StartDate                   string `json:"start_date,omitempty"`
	EndDate                     string `json:"end_date,omitempty"`
	City                        string `json:"city,omitempty"`
	State                       string `json:"state,omitempty"`
	Venue                       string `json:"venue,omitempty"`
}

// FieldNames lists the descriptive field keys in backend column order.
// The merger iterates this list so vote order is deterministic.
var FieldNames = []string{
	"event_name",
	"event_name_casual",
	"organization_name",
	"organization_name_abbreviated",
	"organization_link",
	"start_date",
	"end_date",
	"city",
	"state",
	"venue",
}

// Get returns the value of a descriptive field by key.
func (f *EventFields) Get(name string) string {
	switch name {
	case "event_name":
		return f.EventName
	case "event_name_casual":
		return f.EventNameCasual
	case "organization_name":
		return f.OrganizationName
	case "organization_name_abbreviated":
		return f.OrganizationNameAbbreviated
	case "organization_link":
		return f.OrganizationLink
	case "start_date":
		return f.StartDate
	case "end_date":
		return f.EndDate
	case "city":
		return f.City
	case "state":
		return f.State
	case "venue":
		return f.Venue
	}
	return ""
}

// Set assigns the value of a descriptive field by key. Unknown keys are
// ignored.
func (f *EventFields) Set(name, value string) {
	switch name {
	case "event_name":
		f.EventName = value
	case "event_name_casual":
		f.EventNameCasual = value
	case "organization_name":
		f.OrganizationName = value
	case "organization_name_abbreviated":
		f.OrganizationNameAbbreviated = value
	case "organization_link":
		f.OrganizationLink = value
	case "start_date":
		f.StartDate = value
	case "end_date":
		f.EndDate = value
	case "city":
		f.City = value
	case "state":
		f.State = value
	case "venue":
		f.Venue = value
	}
}

// TargetEvent is the backend event record an expansion run enriches.
// The orchestrator holds a read-only snapshot for the duration of one run;
// the backend remains the system of record.
type TargetEvent struct {
	ID int `json:"id"`
	EventFields
	SearchString string `json:"search_string,omitempty"`
	AutoExpanded bool   `json:"auto_expanded"`
}

// Link is a discovered URL persisted on the backend via find_or_create.
type Link struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

// Reading is one extraction result tied to exactly one link. Readings are
// created immediately after extraction regardless of match outcome;
// non-matching readings stay as the audit trail. EventID is set only after
// the backend confirms the match.
type Reading struct {
	ID int `json:"id,omitempty"`
	EventFields
	LinkID             int   `json:"link_id"`
	EventID            *int  `json:"event_id,omitempty"`
	MatchesTargetEvent *bool `json:"matches_target_event,omitempty"`
}

// ExtractedEvent is one event object parsed from the LLM response. A single
// page may yield zero, one, or many of these. MatchesTargetEvent carries the
// model's own verdict when the prompt included target context; it is
// recorded on the Reading but never drives match accumulation.
type ExtractedEvent struct {
	EventFields
	MatchesTargetEvent *bool `json:"matches_target_event,omitempty"`
}

// Reading converts an extracted event into a Reading for the given link.
func (e ExtractedEvent) Reading(linkID int) Reading {
	return Reading{
		EventFields:        e.EventFields,
		LinkID:             linkID,
		MatchesTargetEvent: e.MatchesTargetEvent,
	}
}
