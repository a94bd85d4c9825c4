package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"google.golang.org/api/calendar/v3"

	"calsync/internal/models"
)

var lunchStart = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestSyncCalendarCreatesCanonicalAndLink(t *testing.T) {
	engine, st, provider := newTestEngine(t)
	cal := seedCalendar(t, st, "acc-a", "cal-a")
	provider.put("cal-a", timedEvent("e1", "Lunch", lunchStart, time.Hour))

	result := mustSync(t, engine, cal.ID)

	if result.Created != 1 {
		t.Fatalf("expected 1 created, got %+v", result)
	}
	if got := canonicalCount(t, st); got != 1 {
		t.Fatalf("expected 1 canonical event, got %d", got)
	}

	link, err := st.Links.FindByExternal("acc-a", "e1")
	if err != nil {
		t.Fatalf("link not created: %v", err)
	}
	if link.ContentHash == "" || !link.Active() {
		t.Errorf("link bookkeeping incomplete: %+v", link)
	}

	canonical, err := st.Canonicals.FindByID(link.CanonicalEventID)
	if err != nil {
		t.Fatalf("canonical not found: %v", err)
	}
	if canonical.TitleOrEmpty() != "Lunch" {
		t.Errorf("canonical title = %q, want Lunch", canonical.TitleOrEmpty())
	}
	if !canonical.StartAt.Equal(lunchStart) {
		t.Errorf("canonical start = %v, want %v", canonical.StartAt, lunchStart)
	}

	updated, err := st.Calendars.FindByID(cal.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.LastSyncCursor == nil {
		t.Error("sync cursor did not advance")
	}
}

func TestSyncCalendarIdempotent(t *testing.T) {
	engine, st, provider := newTestEngine(t)
	calA := seedCalendar(t, st, "acc-a", "cal-a")
	calB := seedCalendar(t, st, "acc-b", "cal-b")
	if _, err := st.Connections.Connect(calA.ID, calB.ID); err != nil {
		t.Fatal(err)
	}
	provider.put("cal-a", timedEvent("e1", "Lunch", lunchStart, time.Hour))

	mustSync(t, engine, calA.ID)
	if provider.creates != 1 {
		t.Fatalf("expected 1 create after first pass, got %d", provider.creates)
	}

	result := mustSync(t, engine, calA.ID)
	if result.Skipped != 1 || result.Created != 0 || result.Updated != 0 {
		t.Errorf("second pass should short-circuit, got %+v", result)
	}
	if got := canonicalCount(t, st); got != 1 {
		t.Errorf("second pass duplicated canonical events: %d", got)
	}
	if provider.creates != 1 || provider.updates != 0 {
		t.Errorf("second pass re-propagated: creates=%d updates=%d", provider.creates, provider.updates)
	}
}

func TestSelfReflectionSuppression(t *testing.T) {
	engine, st, provider := newTestEngine(t)
	calA := seedCalendar(t, st, "acc-a", "cal-a")
	calB := seedCalendar(t, st, "acc-b", "cal-b")
	if _, err := st.Connections.Connect(calA.ID, calB.ID); err != nil {
		t.Fatal(err)
	}
	provider.put("cal-a", timedEvent("e1", "Lunch", lunchStart, time.Hour))
	mustSync(t, engine, calA.ID)

	copyB := provider.findByTitle("cal-b", "Lunch")
	if copyB == nil {
		t.Fatal("propagation did not create the calendar B copy")
	}

	// Tamper with the echoed copy: even divergent content must not register
	// while it still carries our own operation token.
	provider.get("cal-b", copyB.Id).Summary = "Tampered"

	updatesBefore := provider.updates
	result := mustSync(t, engine, calB.ID)
	if result.Skipped != 1 || result.Updated != 0 || result.Created != 0 {
		t.Errorf("echo was not suppressed: %+v", result)
	}
	if provider.updates != updatesBefore {
		t.Error("suppressed echo still propagated")
	}

	link, err := st.Links.FindByExternal("acc-b", copyB.Id)
	if err != nil {
		t.Fatal(err)
	}
	if link.LastSyncOperationID != nil {
		t.Error("operation token was not consumed on first sight of the echo")
	}

	events, err := st.Canonicals.List()
	if err != nil {
		t.Fatal(err)
	}
	if events[0].TitleOrEmpty() != "Lunch" {
		t.Errorf("canonical title = %q, echo must not update canonical state", events[0].TitleOrEmpty())
	}
}

func TestEndToEndEditFlowsBackWithoutLoop(t *testing.T) {
	engine, st, provider := newTestEngine(t)
	calA := seedCalendar(t, st, "acc-a", "cal-a")
	calB := seedCalendar(t, st, "acc-b", "cal-b")
	if _, err := st.Connections.Connect(calA.ID, calB.ID); err != nil {
		t.Fatal(err)
	}
	provider.put("cal-a", timedEvent("e1", "Lunch", lunchStart, time.Hour))

	// Ingest on A creates the canonical event and materializes B's copy.
	mustSync(t, engine, calA.ID)
	copyB := provider.findByTitle("cal-b", "Lunch")
	if copyB == nil {
		t.Fatal("calendar B did not receive the event")
	}

	// B's first pass only sees the echo.
	mustSync(t, engine, calB.ID)

	// A user edits the location on B's copy.
	provider.get("cal-b", copyB.Id).Location = "Cafe"

	mustSync(t, engine, calB.ID)

	events, err := st.Canonicals.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].LocationOrEmpty() != "Cafe" {
		t.Fatalf("edit did not reach canonical state: %+v", events)
	}
	if got := provider.get("cal-a", "e1").Location; got != "Cafe" {
		t.Errorf("calendar A copy location = %q, want Cafe", got)
	}

	links, err := st.Links.FindByCanonicalID(events[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 2 {
		t.Fatalf("expected 2 links, got %d", len(links))
	}

	// A's next pass must recognize the propagated write as its own.
	writesBefore := provider.creates + provider.updates
	result := mustSync(t, engine, calA.ID)
	if result.Updated != 0 || result.Created != 0 {
		t.Errorf("echo on A re-triggered reconciliation: %+v", result)
	}
	if provider.creates+provider.updates != writesBefore {
		t.Error("echo on A re-triggered propagation toward B")
	}
}

func TestCancelledEventMarksLinkDeleted(t *testing.T) {
	engine, st, provider := newTestEngine(t)
	cal := seedCalendar(t, st, "acc-a", "cal-a")
	provider.put("cal-a", timedEvent("e1", "Lunch", lunchStart, time.Hour))
	mustSync(t, engine, cal.ID)

	provider.get("cal-a", "e1").Status = "cancelled"
	mustSync(t, engine, cal.ID)

	link, err := st.Links.FindByExternal("acc-a", "e1")
	if err != nil {
		t.Fatal(err)
	}
	if link.Status != models.LinkStatusDeleted {
		t.Errorf("link status = %q, want deleted", link.Status)
	}
}

func TestHeuristicMatchingJoinsRecreatedEvent(t *testing.T) {
	engine, st, provider := newTestEngine(t)
	cal := seedCalendar(t, st, "acc-a", "cal-a")
	provider.put("cal-a", timedEvent("e1", "Standup", lunchStart, 30*time.Minute))
	mustSync(t, engine, cal.ID)

	// Same title, new provider id, start shifted within the match window.
	provider.put("cal-a", timedEvent("e2", "Standup", lunchStart.Add(30*time.Minute), 30*time.Minute))
	mustSync(t, engine, cal.ID)

	if got := canonicalCount(t, st); got != 1 {
		t.Fatalf("heuristic match failed, %d canonical events", got)
	}
	link, err := st.Links.FindByExternal("acc-a", "e2")
	if err != nil {
		t.Fatal(err)
	}
	links, err := st.Links.FindByCanonicalID(link.CanonicalEventID)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 2 {
		t.Errorf("expected both provider events linked to one canonical, got %d links", len(links))
	}
}

func TestNopMatcherDisablesHeuristic(t *testing.T) {
	engine, st, provider := newTestEngine(t)
	cal := seedCalendar(t, st, "acc-a", "cal-a")
	engine.SetFallbackMatcher(NopMatcher{})

	provider.put("cal-a", timedEvent("e1", "Standup", lunchStart, 30*time.Minute))
	mustSync(t, engine, cal.ID)
	provider.put("cal-a", timedEvent("e2", "Standup", lunchStart.Add(30*time.Minute), 30*time.Minute))
	mustSync(t, engine, cal.ID)

	if got := canonicalCount(t, st); got != 2 {
		t.Errorf("NopMatcher should force a fresh canonical event, got %d", got)
	}
}

func TestMissingStartIsFatalAndHoldsCursor(t *testing.T) {
	engine, st, provider := newTestEngine(t)
	cal := seedCalendar(t, st, "acc-a", "cal-a")
	provider.put("cal-a", &calendar.Event{Id: "broken", Summary: "No times"})

	_, err := engine.SyncCalendar(context.Background(), cal.ID)
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	reloaded, err := st.Calendars.FindByID(cal.ID)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.LastSyncCursor != nil {
		t.Error("cursor advanced despite fatal validation error")
	}
}

func TestDisabledCalendarIsNoop(t *testing.T) {
	engine, st, provider := newTestEngine(t)
	cal := seedCalendar(t, st, "acc-a", "cal-a", func(c *models.Calendar) { c.SyncEnabled = false })
	provider.put("cal-a", timedEvent("e1", "Lunch", lunchStart, time.Hour))

	result := mustSync(t, engine, cal.ID)
	if result.Processed != 0 {
		t.Errorf("disabled calendar processed events: %+v", result)
	}
	if provider.lists != 0 {
		t.Error("disabled calendar still hit the provider")
	}
}

func TestReadonlySourceDoesNotPropagate(t *testing.T) {
	engine, st, provider := newTestEngine(t)
	calA := seedCalendar(t, st, "acc-a", "cal-a", func(c *models.Calendar) { c.SyncDirection = models.DirectionReadonly })
	calB := seedCalendar(t, st, "acc-b", "cal-b")
	if _, err := st.Connections.Connect(calA.ID, calB.ID); err != nil {
		t.Fatal(err)
	}
	provider.put("cal-a", timedEvent("e1", "Lunch", lunchStart, time.Hour))

	mustSync(t, engine, calA.ID)
	if got := canonicalCount(t, st); got != 1 {
		t.Fatalf("readonly calendar should still ingest, got %d canonical events", got)
	}
	if provider.creates != 0 {
		t.Error("readonly calendar propagated outward")
	}
}

func TestSyncUnknownCalendar(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	_, err := engine.SyncCalendar(context.Background(), "missing")
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}
