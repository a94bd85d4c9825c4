package models

import "time"

// Sync direction values for a calendar.
const (
	DirectionBidirectional = "bidirectional"
	DirectionReadonly      = "readonly"
	DirectionWriteonly     = "writeonly"
)

// Privacy modes controlling how events materialize into a calendar.
const (
	PrivacyDetail   = "detail"
	PrivacyBusyOnly = "busy_only"
)

// Calendar holds the sync configuration for one external calendar under one
// authenticated account.
type Calendar struct {
	ID                 string `gorm:"primaryKey"`
	AccountID          string `gorm:"index:idx_account_calendar;not null"`
	ExternalCalendarID string `gorm:"index:idx_account_calendar;not null"`
	Name               string
	SyncEnabled        bool   `gorm:"default:true"`
	SyncDirection      string `gorm:"size:20;default:bidirectional"`
	PrivacyMode        string `gorm:"size:20;default:detail"`
	// LastSyncCursor marks the point in time after which provider changes are
	// fetched. Nil means "fetch everything".
	LastSyncCursor *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SyncConnection is an undirected edge declaring that two calendars may
// exchange propagated events. The pair is stored in canonical order
// (CalendarID1 < CalendarID2) so each unordered pair exists at most once.
type SyncConnection struct {
	ID          string `gorm:"primaryKey"`
	CalendarID1 string `gorm:"uniqueIndex:idx_connection_pair;not null"`
	CalendarID2 string `gorm:"uniqueIndex:idx_connection_pair;not null"`
	CreatedAt   time.Time
}
