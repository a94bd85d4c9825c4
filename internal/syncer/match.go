package syncer

import (
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"

	"calsync/internal/models"
	"calsync/internal/store"
)

// heuristicWindow bounds how far an incoming event's start may drift from a
// stored canonical event and still match heuristically.
const heuristicWindow = time.Hour

// FallbackMatcher is the last-resort canonical matching strategy, consulted
// only after the explicit-id and link-registry lookups both miss. It is an
// interface so the fuzzy strategy can be swapped or disabled independently of
// the primary matching paths.
type FallbackMatcher interface {
	// Match returns the canonical event the external event most plausibly
	// belongs to, or nil when there is no acceptable match.
	Match(cal *models.Calendar, ev *calendar.Event) (*models.CanonicalEvent, error)
}

// HeuristicMatcher matches by exact title plus a start time within one hour
// of a canonical event already linked into the same calendar. This is fuzzy:
// identically titled recurring meetings can false-positive, which is why it
// only runs as a last resort.
type HeuristicMatcher struct {
	store *store.Store
}

// NewHeuristicMatcher builds the default fallback matcher.
func NewHeuristicMatcher(st *store.Store) *HeuristicMatcher {
	return &HeuristicMatcher{store: st}
}

// Match implements FallbackMatcher.
func (m *HeuristicMatcher) Match(cal *models.Calendar, ev *calendar.Event) (*models.CanonicalEvent, error) {
	title := strings.TrimSpace(ev.Summary)
	if title == "" {
		return nil, nil
	}
	start, _, _, ok := eventTimes(ev)
	if !ok {
		return nil, nil
	}

	candidates, err := m.store.Canonicals.FindLinkedInWindow(
		cal.ID, title, start.Add(-heuristicWindow), start.Add(heuristicWindow))
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return candidates[0], nil
}

// NopMatcher never matches, disabling heuristic matching.
type NopMatcher struct{}

// Match implements FallbackMatcher.
func (NopMatcher) Match(*models.Calendar, *calendar.Event) (*models.CanonicalEvent, error) {
	return nil, nil
}
