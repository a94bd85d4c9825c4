package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"

	"calsync/internal/models"
	"calsync/internal/store"
)

// fakeProvider is an in-memory stand-in for the Google Calendar API. It
// ignores the cursor and always returns everything in a calendar, which is
// exactly what the idempotency checks need to withstand.
type fakeProvider struct {
	mu     sync.Mutex
	events map[string]map[string]*calendar.Event // calendarRef -> eventID -> event
	nextID int

	lists   int
	gets    int
	creates int
	updates int

	failCreate   map[string]error // calendarRef -> error
	failGet      map[string]error // calendarRef/eventID -> error
	goneOnUpdate map[string]bool  // calendarRef/eventID -> respond 410
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		events:       make(map[string]map[string]*calendar.Event),
		failCreate:   make(map[string]error),
		failGet:      make(map[string]error),
		goneOnUpdate: make(map[string]bool),
	}
}

func cloneEvent(ev *calendar.Event) *calendar.Event {
	out := *ev
	if ev.Start != nil {
		start := *ev.Start
		out.Start = &start
	}
	if ev.End != nil {
		end := *ev.End
		out.End = &end
	}
	if ev.ExtendedProperties != nil {
		private := make(map[string]string, len(ev.ExtendedProperties.Private))
		for k, v := range ev.ExtendedProperties.Private {
			private[k] = v
		}
		out.ExtendedProperties = &calendar.EventExtendedProperties{Private: private}
	}
	return &out
}

// put seeds an event as if a user created it directly with the provider.
func (f *fakeProvider) put(calendarRef string, ev *calendar.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.events[calendarRef] == nil {
		f.events[calendarRef] = make(map[string]*calendar.Event)
	}
	f.events[calendarRef][ev.Id] = cloneEvent(ev)
}

// get returns the stored event for direct mutation by a test.
func (f *fakeProvider) get(calendarRef, eventID string) *calendar.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[calendarRef][eventID]
}

func (f *fakeProvider) eventCount(calendarRef string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events[calendarRef])
}

func (f *fakeProvider) findByTitle(calendarRef, title string) *calendar.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ev := range f.events[calendarRef] {
		if ev.Summary == title {
			return cloneEvent(ev)
		}
	}
	return nil
}

func (f *fakeProvider) ListChangedEvents(_ context.Context, _, calendarRef string, _ *time.Time) ([]*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	var out []*calendar.Event
	for _, ev := range f.events[calendarRef] {
		out = append(out, cloneEvent(ev))
	}
	return out, nil
}

func (f *fakeProvider) GetEvent(_ context.Context, _, calendarRef, externalID string) (*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if err, ok := f.failGet[calendarRef+"/"+externalID]; ok {
		return nil, err
	}
	ev, ok := f.events[calendarRef][externalID]
	if !ok {
		return nil, &googleapi.Error{Code: http.StatusNotFound}
	}
	return cloneEvent(ev), nil
}

func (f *fakeProvider) CreateEvent(_ context.Context, _, calendarRef string, ev *calendar.Event) (*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if err, ok := f.failCreate[calendarRef]; ok {
		return nil, err
	}
	f.nextID++
	stored := cloneEvent(ev)
	stored.Id = fmt.Sprintf("ev-%d", f.nextID)
	stored.Etag = fmt.Sprintf("etag-%d", f.nextID)
	if stored.Status == "" {
		stored.Status = "confirmed"
	}
	if f.events[calendarRef] == nil {
		f.events[calendarRef] = make(map[string]*calendar.Event)
	}
	f.events[calendarRef][stored.Id] = stored
	return cloneEvent(stored), nil
}

func (f *fakeProvider) UpdateEvent(_ context.Context, _, calendarRef, externalID string, ev *calendar.Event) (*calendar.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.goneOnUpdate[calendarRef+"/"+externalID] {
		return nil, &googleapi.Error{Code: http.StatusGone}
	}
	if _, ok := f.events[calendarRef][externalID]; !ok {
		return nil, &googleapi.Error{Code: http.StatusNotFound}
	}
	f.nextID++
	stored := cloneEvent(ev)
	stored.Id = externalID
	stored.Etag = fmt.Sprintf("etag-%d", f.nextID)
	if stored.Status == "" {
		stored.Status = "confirmed"
	}
	f.events[calendarRef][externalID] = stored
	return cloneEvent(stored), nil
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *fakeProvider) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "calsync.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := newFakeProvider()
	return New(logger, st, provider), st, provider
}

func seedCalendar(t *testing.T, st *store.Store, account, externalID string, mutate ...func(*models.Calendar)) *models.Calendar {
	t.Helper()
	cal := &models.Calendar{
		AccountID:          account,
		ExternalCalendarID: externalID,
		Name:               externalID,
		SyncEnabled:        true,
		SyncDirection:      models.DirectionBidirectional,
		PrivacyMode:        models.PrivacyDetail,
	}
	for _, fn := range mutate {
		fn(cal)
	}
	if err := st.Calendars.Create(cal); err != nil {
		t.Fatalf("failed to create calendar: %v", err)
	}
	return cal
}

func timedEvent(id, title string, start time.Time, duration time.Duration) *calendar.Event {
	return &calendar.Event{
		Id:      id,
		Etag:    "etag-" + id,
		Summary: title,
		Status:  "confirmed",
		Start:   &calendar.EventDateTime{DateTime: start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		End:     &calendar.EventDateTime{DateTime: start.Add(duration).UTC().Format(time.RFC3339), TimeZone: "UTC"},
	}
}

func mustSync(t *testing.T, e *Engine, calendarID string) *SyncResult {
	t.Helper()
	result, err := e.SyncCalendar(context.Background(), calendarID)
	if err != nil {
		t.Fatalf("SyncCalendar(%s) failed: %v", calendarID, err)
	}
	return result
}

func canonicalCount(t *testing.T, st *store.Store) int {
	t.Helper()
	events, err := st.Canonicals.List()
	if err != nil {
		t.Fatalf("failed to list canonical events: %v", err)
	}
	return len(events)
}
