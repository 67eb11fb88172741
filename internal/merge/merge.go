// Package merge combines matching readings with the original event into
// one consolidated record by per-field majority vote.
package merge

import (
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/expand-cli/internal/model"
)

var foldCaser = cases.Fold()

// voteKey normalizes a field value for vote counting. Values differing
// only by case or surrounding whitespace count as the same candidate; the
// first-seen spelling is what the merged record carries.
func voteKey(value string) string {
	return foldCaser.String(strings.TrimSpace(value))
}

// Readings merges the base event with its matching readings. Each
// descriptive field is decided independently: the most frequent non-empty
// value among the readings wins, ties break toward the value seen first in
// reading order, and a field with no non-empty votes keeps the base
// event's value. The base event's own field values do not vote; they are
// only the fallback.
func Readings(base model.TargetEvent, readings []model.Reading) model.TargetEvent {
	merged := base

	for _, field := range model.FieldNames {
		if winner, ok := vote(field, readings); ok {
			merged.Set(field, winner)
		}
	}
	return merged
}

func vote(field string, readings []model.Reading) (string, bool) {
	counts := make(map[string]int)
	first := make(map[string]string) // key -> first-seen spelling
	order := make([]string, 0, len(readings))

	for _, r := range readings {
		value := strings.TrimSpace(r.Get(field))
		if value == "" {
			continue
		}
		key := voteKey(value)
		if _, seen := counts[key]; !seen {
			first[key] = value
			order = append(order, key)
		}
		counts[key]++
	}
	if len(order) == 0 {
		return "", false
	}

	winner := order[0]
	for _, key := range order[1:] {
		if counts[key] > counts[winner] {
			winner = key
		}
	}
	return first[winner], true
}
