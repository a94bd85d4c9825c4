package store

import (
	"testing"
	"time"

	"calsync/internal/models"
)

func TestFindLinkedInWindow(t *testing.T) {
	st := openTestStore(t)
	cal := mkCalendar(t, st, "acc-a", "cal-a")
	other := mkCalendar(t, st, "acc-b", "cal-b")

	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	match := mkCanonical(t, st, "Standup")
	mkLink(t, st, match, cal, "m1")

	wrongTitle := mkCanonical(t, st, "Retro")
	mkLink(t, st, wrongTitle, cal, "w1")

	// Right title but linked into a different calendar.
	elsewhere := mkCanonical(t, st, "Standup")
	mkLink(t, st, elsewhere, other, "e1")

	outOfWindow := &models.CanonicalEvent{
		Title:   ptr("Standup"),
		StartAt: start.Add(3 * time.Hour),
		EndAt:   start.Add(4 * time.Hour),
	}
	if err := st.Canonicals.Create(outOfWindow); err != nil {
		t.Fatal(err)
	}
	mkLink(t, st, outOfWindow, cal, "o1")

	got, err := st.Canonicals.FindLinkedInWindow(cal.ID, " Standup ", start.Add(-time.Hour), start.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != match.ID {
		t.Errorf("got %d candidates, want only %s", len(got), match.ID)
	}
}