// Package store persists run history and the page cache locally. The CRM
// backend stays the system of record for events, links, and readings; the
// store only keeps what the CLI needs between invocations.
package store

import (
	"context"
	"time"

	"github.com/sells-group/expand-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status  model.RunStatus `json:"status,omitempty"`
	EventID int             `json:"event_id,omitempty"`
	Limit   int             `json:"limit,omitempty"`
	Offset  int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the expansion pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, eventID int) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Page cache
	GetCachedPage(ctx context.Context, url string) (*model.CachedPage, error)
	SetCachedPage(ctx context.Context, url, markdown string, ttl time.Duration) error
	DeleteExpiredPages(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
