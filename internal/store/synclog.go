package store

import (
	"gorm.io/gorm"

	"calsync/internal/models"
)

// SyncLogStore appends audit records. The table is write-only from the
// engine's point of view; ListRecent exists for operators and tests.
type SyncLogStore struct {
	db *gorm.DB
}

// Append writes one audit record.
func (s *SyncLogStore) Append(entry *models.SyncLog) error {
	return s.db.Create(entry).Error
}

// ListRecent returns the newest records, most recent first.
func (s *SyncLogStore) ListRecent(limit int) ([]*models.SyncLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []*models.SyncLog
	err := s.db.Order("id desc").Limit(limit).Find(&entries).Error
	return entries, err
}
