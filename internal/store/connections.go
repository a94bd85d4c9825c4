package store

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"calsync/internal/models"
)

// ConnectionStore persists the undirected sync-permission edges between
// calendars.
type ConnectionStore struct {
	db *gorm.DB
}

// Connect declares that two calendars may exchange events. The pair is stored
// in canonical order; connecting an already-connected pair returns the
// existing edge.
func (s *ConnectionStore) Connect(calendarID1, calendarID2 string) (*models.SyncConnection, error) {
	if calendarID1 == calendarID2 {
		return nil, fmt.Errorf("cannot connect a calendar to itself: %w", models.ErrValidation)
	}
	if calendarID1 > calendarID2 {
		calendarID1, calendarID2 = calendarID2, calendarID1
	}

	var existing models.SyncConnection
	err := s.db.First(&existing, "calendar_id1 = ? AND calendar_id2 = ?", calendarID1, calendarID2).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	conn := &models.SyncConnection{
		ID:          uuid.NewString(),
		CalendarID1: calendarID1,
		CalendarID2: calendarID2,
	}
	if err := s.db.Create(conn).Error; err != nil {
		return nil, err
	}
	return conn, nil
}

// ConnectedCalendarIDs returns the calendars connected to the given one. An
// empty result means the calendar has no declared connections at all.
func (s *ConnectionStore) ConnectedCalendarIDs(calendarID string) ([]string, error) {
	var conns []*models.SyncConnection
	err := s.db.Where("calendar_id1 = ? OR calendar_id2 = ?", calendarID, calendarID).Find(&conns).Error
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, conn := range conns {
		if conn.CalendarID1 == calendarID {
			ids = append(ids, conn.CalendarID2)
		} else {
			ids = append(ids, conn.CalendarID1)
		}
	}
	return ids, nil
}

// List returns all declared connections.
func (s *ConnectionStore) List() ([]*models.SyncConnection, error) {
	var conns []*models.SyncConnection
	err := s.db.Order("created_at asc").Find(&conns).Error
	return conns, err
}

// Disconnect removes the edge between two calendars if one exists.
func (s *ConnectionStore) Disconnect(calendarID1, calendarID2 string) error {
	if calendarID1 > calendarID2 {
		calendarID1, calendarID2 = calendarID2, calendarID1
	}
	return s.db.Delete(&models.SyncConnection{}, "calendar_id1 = ? AND calendar_id2 = ?", calendarID1, calendarID2).Error
}
