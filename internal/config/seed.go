package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"calsync/internal/models"
	"calsync/internal/store"
)

// SeedFile declares calendars and sync connections in YAML, applied by the
// seed command. It replaces UI-driven setup, which is out of scope here.
type SeedFile struct {
	Calendars   []SeedCalendar   `yaml:"calendars" validate:"required,min=1,dive"`
	Connections []SeedConnection `yaml:"connections" validate:"dive"`
}

// SeedCalendar configures one external calendar under one account.
type SeedCalendar struct {
	Account    string `yaml:"account" validate:"required"`
	CalendarID string `yaml:"calendar_id" validate:"required"`
	Name       string `yaml:"name"`
	Direction  string `yaml:"direction" validate:"omitempty,oneof=bidirectional readonly writeonly"`
	Privacy    string `yaml:"privacy" validate:"omitempty,oneof=detail busy_only"`
	Disabled   bool   `yaml:"disabled"`
}

// SeedConnection references two seeded calendars that may exchange events.
type SeedConnection struct {
	From SeedCalendarRef `yaml:"from" validate:"required"`
	To   SeedCalendarRef `yaml:"to" validate:"required"`
}

// SeedCalendarRef addresses a calendar by its account and external id.
type SeedCalendarRef struct {
	Account    string `yaml:"account" validate:"required"`
	CalendarID string `yaml:"calendar_id" validate:"required"`
}

// LoadSeedFile parses and validates a seed file.
func LoadSeedFile(path string) (*SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file: %v: %w", err, models.ErrValidation)
	}
	if err := validator.New().Struct(&seed); err != nil {
		return nil, fmt.Errorf("invalid seed file: %v: %w", err, models.ErrValidation)
	}
	return &seed, nil
}

// Apply upserts the declared calendars and connections into the store.
// Existing calendars (matched by account + external id) have their settings
// updated in place.
func (s *SeedFile) Apply(st *store.Store) error {
	for _, sc := range s.Calendars {
		cal, err := st.Calendars.FindByAccountAndExternalID(sc.Account, sc.CalendarID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return err
		}
		if cal == nil {
			cal = &models.Calendar{
				AccountID:          sc.Account,
				ExternalCalendarID: sc.CalendarID,
			}
			applySeedCalendar(cal, sc)
			if err := st.Calendars.Create(cal); err != nil {
				return fmt.Errorf("failed to create calendar %s/%s: %w", sc.Account, sc.CalendarID, err)
			}
			continue
		}
		applySeedCalendar(cal, sc)
		if err := st.Calendars.Save(cal); err != nil {
			return fmt.Errorf("failed to update calendar %s/%s: %w", sc.Account, sc.CalendarID, err)
		}
	}

	for _, conn := range s.Connections {
		from, err := st.Calendars.FindByAccountAndExternalID(conn.From.Account, conn.From.CalendarID)
		if err != nil {
			return fmt.Errorf("connection references unknown calendar %s/%s: %w",
				conn.From.Account, conn.From.CalendarID, err)
		}
		to, err := st.Calendars.FindByAccountAndExternalID(conn.To.Account, conn.To.CalendarID)
		if err != nil {
			return fmt.Errorf("connection references unknown calendar %s/%s: %w",
				conn.To.Account, conn.To.CalendarID, err)
		}
		if _, err := st.Connections.Connect(from.ID, to.ID); err != nil {
			return err
		}
	}
	return nil
}

func applySeedCalendar(cal *models.Calendar, sc SeedCalendar) {
	cal.Name = sc.Name
	cal.SyncEnabled = !sc.Disabled
	cal.SyncDirection = sc.Direction
	if cal.SyncDirection == "" {
		cal.SyncDirection = models.DirectionBidirectional
	}
	cal.PrivacyMode = sc.Privacy
	if cal.PrivacyMode == "" {
		cal.PrivacyMode = models.PrivacyDetail
	}
}
