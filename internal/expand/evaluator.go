package expand

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/expand-cli/internal/model"
)

// MatchChecker is the backend's match-decision surface.
type MatchChecker interface {
	CheckReadingMatch(ctx context.Context, readingID, eventID int) (bool, error)
}

// MatchEvaluator decides whether a persisted reading corroborates the
// target event. The verdict itself lives in the backend; the evaluator's
// job is to invoke it per reading and to keep evaluation failures from
// aborting the run.
type MatchEvaluator struct {
	backend MatchChecker
}

// NewMatchEvaluator creates an evaluator over the backend's check endpoint.
func NewMatchEvaluator(backend MatchChecker) *MatchEvaluator {
	return &MatchEvaluator{backend: backend}
}

// Matches returns the backend's verdict for one reading. An evaluation
// error counts as no match; the discrepancy is logged for audit, not
// propagated.
func (e *MatchEvaluator) Matches(ctx context.Context, reading model.Reading, event *model.TargetEvent) bool {
	match, err := e.backend.CheckReadingMatch(ctx, reading.ID, event.ID)
	if err != nil {
		zap.L().Warn("match check failed, treating as no match",
			zap.Int("reading_id", reading.ID),
			zap.Int("event_id", event.ID),
			zap.Error(err),
		)
		return false
	}
	return match
}
