package store

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"calsync/internal/models"
)

// CanonicalStore persists canonical events.
type CanonicalStore struct {
	db *gorm.DB
}

// Create inserts a new canonical event, assigning an id if absent.
func (s *CanonicalStore) Create(ev *models.CanonicalEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timezone == "" {
		ev.Timezone = "UTC"
	}
	return s.db.Create(ev).Error
}

// FindByID loads one canonical event by id.
func (s *CanonicalStore) FindByID(id string) (*models.CanonicalEvent, error) {
	var ev models.CanonicalEvent
	err := s.db.First(&ev, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("canonical event %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// Save writes back all fields of an existing canonical event.
func (s *CanonicalStore) Save(ev *models.CanonicalEvent) error {
	return s.db.Save(ev).Error
}

// Delete hard-deletes a canonical event.
func (s *CanonicalStore) Delete(id string) error {
	return s.db.Delete(&models.CanonicalEvent{}, "id = ?", id).Error
}

// List returns all canonical events ordered by start time.
func (s *CanonicalStore) List() ([]*models.CanonicalEvent, error) {
	var events []*models.CanonicalEvent
	err := s.db.Order("start_at asc").Find(&events).Error
	return events, err
}

// FindLinkedInWindow returns canonical events that are linked into the given
// calendar, start within [from, to] and carry exactly the given title. Used by
// the last-resort heuristic matcher.
func (s *CanonicalStore) FindLinkedInWindow(calendarID, title string, from, to time.Time) ([]*models.CanonicalEvent, error) {
	title = strings.TrimSpace(title)
	var events []*models.CanonicalEvent
	err := s.db.Model(&models.CanonicalEvent{}).
		Joins("JOIN event_links ON event_links.canonical_event_id = canonical_events.id").
		Where("event_links.calendar_id = ?", calendarID).
		Where("canonical_events.start_at >= ? AND canonical_events.start_at <= ?", from, to).
		Where("canonical_events.title = ?", title).
		Order("canonical_events.start_at asc").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
