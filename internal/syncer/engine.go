package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"calsync/internal/models"
	"calsync/internal/store"
)

// Private extended-property keys written into every payload this engine
// produces. They carry the canonical identity and the correlation token used
// to recognize the engine's own writes when they echo back.
const (
	propCanonicalID = "syncCanonicalId"
	propSyncOpID    = "syncOpId"
	propEngineID    = "syncEngineId"

	engineID = "calsync"
)

// busyPlaceholder replaces the real title in busy-only calendars.
const busyPlaceholder = "Busy"

// CalendarAPI is the provider surface the engine consumes. The production
// implementation is internal/google.Client; tests substitute fakes.
type CalendarAPI interface {
	ListChangedEvents(ctx context.Context, accountID, calendarRef string, updatedAfter *time.Time) ([]*calendar.Event, error)
	GetEvent(ctx context.Context, accountID, calendarRef, externalID string) (*calendar.Event, error)
	CreateEvent(ctx context.Context, accountID, calendarRef string, ev *calendar.Event) (*calendar.Event, error)
	UpdateEvent(ctx context.Context, accountID, calendarRef, externalID string, ev *calendar.Event) (*calendar.Event, error)
}

// Engine is the synchronization and conflict-reconciliation core. It ingests
// provider changes, maintains canonical events and their links, propagates
// canonical state outward and detects divergent edits.
type Engine struct {
	logger   *slog.Logger
	store    *store.Store
	provider CalendarAPI
	matcher  FallbackMatcher
	validate *validator.Validate
	now      func() time.Time
}

// New creates an engine with the default heuristic fallback matcher.
func New(logger *slog.Logger, st *store.Store, provider CalendarAPI) *Engine {
	return &Engine{
		logger:   logger,
		store:    st,
		provider: provider,
		matcher:  NewHeuristicMatcher(st),
		validate: validator.New(),
		now:      time.Now,
	}
}

// SetFallbackMatcher swaps the last-resort matching strategy. Pass NopMatcher
// to disable heuristic matching entirely.
func (e *Engine) SetFallbackMatcher(m FallbackMatcher) {
	e.matcher = m
}

func (e *Engine) appendLog(op, fromAccount, toAccount, eventID, result string, opErr error, meta map[string]any) {
	entry := &models.SyncLog{
		Operation:     op,
		FromAccountID: fromAccount,
		ToAccountID:   toAccount,
		EventID:       eventID,
		Result:        result,
		CreatedAt:     e.now(),
	}
	if opErr != nil {
		entry.Error = opErr.Error()
	}
	if meta != nil {
		if b, err := json.Marshal(meta); err == nil {
			entry.Metadata = string(b)
		}
	}
	if err := e.store.SyncLog.Append(entry); err != nil {
		e.logger.Warn("Failed to append sync log entry", "operation", op, "error", err)
	}
}

// privateProp reads one of our private extended properties off a provider
// event, tolerating absent metadata.
func privateProp(ev *calendar.Event, key string) string {
	if ev.ExtendedProperties == nil || ev.ExtendedProperties.Private == nil {
		return ""
	}
	return ev.ExtendedProperties.Private[key]
}

// eventTimes extracts start/end instants from a provider event. ok is false
// when either bound is absent or unparseable.
func eventTimes(ev *calendar.Event) (start, end time.Time, allDay bool, ok bool) {
	start, allDay, ok = parseEventDateTime(ev.Start)
	if !ok {
		return time.Time{}, time.Time{}, false, false
	}
	end, _, ok = parseEventDateTime(ev.End)
	if !ok {
		return time.Time{}, time.Time{}, false, false
	}
	return start, end, allDay, true
}

func parseEventDateTime(dt *calendar.EventDateTime) (time.Time, bool, bool) {
	if dt == nil {
		return time.Time{}, false, false
	}
	if dt.Date != "" {
		t, err := time.Parse("2006-01-02", dt.Date)
		return t, true, err == nil
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, false, err == nil
	}
	return time.Time{}, false, false
}

// applyExternal overwrites a canonical event's semantic fields from a
// provider event. Missing times leave the stored times untouched.
func (e *Engine) applyExternal(canonical *models.CanonicalEvent, ev *calendar.Event) {
	if start, end, allDay, ok := eventTimes(ev); ok {
		canonical.StartAt = start
		canonical.EndAt = end
		canonical.AllDay = allDay
	}
	canonical.Title = optString(ev.Summary)
	canonical.Location = optString(ev.Location)
	canonical.Description = optString(ev.Description)
	if tz := eventTimezone(ev); tz != "" {
		canonical.Timezone = tz
	} else if canonical.Timezone == "" {
		canonical.Timezone = "UTC"
	}
	canonical.LastModifiedAt = e.now()
}

func optString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func eventTimezone(ev *calendar.Event) string {
	if ev.Start != nil && ev.Start.TimeZone != "" {
		return strings.TrimSpace(ev.Start.TimeZone)
	}
	return ""
}

// isGone reports whether a provider error means the external event no longer
// exists.
func isGone(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusGone
	}
	return false
}
