package model

import "time"

// RunStatus represents the current state of an expansion run.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "queued"
	RunStatusSearching  RunStatus = "searching"
	RunStatusExpanding  RunStatus = "expanding"
	RunStatusMerging    RunStatus = "merging"
	RunStatusFinalizing RunStatus = "finalizing"
	RunStatusComplete   RunStatus = "complete"
	RunStatusFailed     RunStatus = "failed"
)

// Run represents a single expansion run for one target event.
type Run struct {
	ID        string     `json:"id"`
	EventID   int        `json:"event_id"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the final outcome of an expansion run. A run with zero
// matches is still a successful run; Error is set only for the fatal
// target-event fetch failure.
type RunResult struct {
	EventID         int          `json:"event_id"`
	LinksSearched   int          `json:"links_searched"`
	LinksBlocked    int          `json:"links_blocked"`
	LinksProcessed  int          `json:"links_processed"`
	LinksSkipped    int          `json:"links_skipped"`
	ReadingsCreated int          `json:"readings_created"`
	MatchesFound    int          `json:"matches_found"`
	InputTokens     int          `json:"input_tokens"`
	OutputTokens    int          `json:"output_tokens"`
	EstimatedCost   float64      `json:"estimated_cost_usd"`
	Merged          *TargetEvent `json:"merged,omitempty"`
	FlagUpdated     bool         `json:"flag_updated"`
	Error           string       `json:"error,omitempty"`
}

// CachedPage is a fetched page stored in the local page cache.
type CachedPage struct {
	URL       string    `json:"url"`
	Markdown  string    `json:"markdown"`
	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`
}
