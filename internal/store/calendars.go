package store

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"calsync/internal/models"
)

// CalendarStore persists calendar sync configurations.
type CalendarStore struct {
	db *gorm.DB
}

// Create inserts a new calendar, assigning an id if absent.
func (s *CalendarStore) Create(cal *models.Calendar) error {
	if cal.ID == "" {
		cal.ID = uuid.NewString()
	}
	if cal.SyncDirection == "" {
		cal.SyncDirection = models.DirectionBidirectional
	}
	if cal.PrivacyMode == "" {
		cal.PrivacyMode = models.PrivacyDetail
	}
	return s.db.Create(cal).Error
}

// FindByID loads one calendar by id.
func (s *CalendarStore) FindByID(id string) (*models.Calendar, error) {
	var cal models.Calendar
	err := s.db.First(&cal, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("calendar %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &cal, nil
}

// FindByAccountAndExternalID loads the calendar configured for one provider
// calendar under one account.
func (s *CalendarStore) FindByAccountAndExternalID(accountID, externalCalendarID string) (*models.Calendar, error) {
	var cal models.Calendar
	err := s.db.First(&cal, "account_id = ? AND external_calendar_id = ?", accountID, externalCalendarID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("calendar %s/%s: %w", accountID, externalCalendarID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &cal, nil
}

// List returns all configured calendars.
func (s *CalendarStore) List() ([]*models.Calendar, error) {
	var cals []*models.Calendar
	err := s.db.Order("account_id asc, external_calendar_id asc").Find(&cals).Error
	return cals, err
}

// ListEnabled returns all calendars with syncing switched on.
func (s *CalendarStore) ListEnabled() ([]*models.Calendar, error) {
	var cals []*models.Calendar
	err := s.db.Where("sync_enabled = ?", true).Find(&cals).Error
	return cals, err
}

// Save writes back all fields of an existing calendar.
func (s *CalendarStore) Save(cal *models.Calendar) error {
	return s.db.Save(cal).Error
}
