package store

import (
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"calsync/internal/models"
)

// Store bundles the repositories backed by one database handle.
type Store struct {
	db *gorm.DB

	Canonicals  *CanonicalStore
	Links       *LinkRegistry
	Calendars   *CalendarStore
	Connections *ConnectionStore
	SyncLog     *SyncLogStore
}

// Open opens (creating if necessary) the sqlite database at path and runs
// migrations for all entities.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.AutoMigrate(
		&models.CanonicalEvent{},
		&models.EventLink{},
		&models.Calendar{},
		&models.SyncConnection{},
		&models.SyncLog{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	// sqlite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY under concurrent sync jobs.
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return New(db), nil
}

// New wraps an already-open gorm handle.
func New(db *gorm.DB) *Store {
	s := &Store{db: db}
	s.Canonicals = &CanonicalStore{db: db}
	s.Links = &LinkRegistry{db: db, canonicals: s.Canonicals}
	s.Calendars = &CalendarStore{db: db}
	s.Connections = &ConnectionStore{db: db}
	s.SyncLog = &SyncLogStore{db: db}
	return s
}
