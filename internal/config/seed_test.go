package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"calsync/internal/models"
	"calsync/internal/store"
)

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func openSeedStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "calsync.db"))
	if err != nil {
		t.Fatal(err)
	}
	return st
}

const validSeed = `
calendars:
  - account: work
    calendar_id: primary
    name: Work
  - account: personal
    calendar_id: primary
    name: Personal
    privacy: busy_only
    direction: readonly
connections:
  - from: {account: work, calendar_id: primary}
    to: {account: personal, calendar_id: primary}
`

func TestLoadAndApplySeed(t *testing.T) {
	seed, err := LoadSeedFile(writeSeed(t, validSeed))
	if err != nil {
		t.Fatalf("LoadSeedFile failed: %v", err)
	}

	st := openSeedStore(t)
	if err := seed.Apply(st); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	work, err := st.Calendars.FindByAccountAndExternalID("work", "primary")
	if err != nil {
		t.Fatal(err)
	}
	if work.Name != "Work" || !work.SyncEnabled || work.SyncDirection != models.DirectionBidirectional {
		t.Errorf("work calendar defaults wrong: %+v", work)
	}

	personal, err := st.Calendars.FindByAccountAndExternalID("personal", "primary")
	if err != nil {
		t.Fatal(err)
	}
	if personal.PrivacyMode != models.PrivacyBusyOnly || personal.SyncDirection != models.DirectionReadonly {
		t.Errorf("personal calendar settings wrong: %+v", personal)
	}

	ids, err := st.Connections.ConnectedCalendarIDs(work.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != personal.ID {
		t.Errorf("connection not applied: %v", ids)
	}
}

func TestApplySeedUpdatesInPlace(t *testing.T) {
	st := openSeedStore(t)
	seed, err := LoadSeedFile(writeSeed(t, validSeed))
	if err != nil {
		t.Fatal(err)
	}
	if err := seed.Apply(st); err != nil {
		t.Fatal(err)
	}

	reseed, err := LoadSeedFile(writeSeed(t, `
calendars:
  - account: work
    calendar_id: primary
    name: Renamed
    disabled: true
`))
	if err != nil {
		t.Fatal(err)
	}
	if err := reseed.Apply(st); err != nil {
		t.Fatal(err)
	}

	work, err := st.Calendars.FindByAccountAndExternalID("work", "primary")
	if err != nil {
		t.Fatal(err)
	}
	if work.Name != "Renamed" || work.SyncEnabled {
		t.Errorf("second apply did not update in place: %+v", work)
	}

	cals, err := st.Calendars.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(cals) != 2 {
		t.Errorf("reseeding duplicated calendars: %d", len(cals))
	}
}

func TestLoadSeedRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no calendars":    `connections: []`,
		"missing account": "calendars:\n  - calendar_id: primary\n",
		"bad direction":   "calendars:\n  - account: a\n    calendar_id: p\n    direction: sideways\n",
		"bad privacy":     "calendars:\n  - account: a\n    calendar_id: p\n    privacy: translucent\n",
		"not yaml":        `{{{`,
	}
	for name, content := range cases {
		if _, err := LoadSeedFile(writeSeed(t, content)); !errors.Is(err, models.ErrValidation) {
			t.Errorf("%s: got %v, want validation error", name, err)
		}
	}
}

func TestApplySeedUnknownConnectionTarget(t *testing.T) {
	st := openSeedStore(t)
	seed, err := LoadSeedFile(writeSeed(t, `
calendars:
  - account: work
    calendar_id: primary
connections:
  - from: {account: work, calendar_id: primary}
    to: {account: ghost, calendar_id: primary}
`))
	if err != nil {
		t.Fatal(err)
	}
	if err := seed.Apply(st); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("got %v, want not-found for unknown connection target", err)
	}
}
