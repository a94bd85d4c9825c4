package models

import "time"

// Link status values reported by reconciliation.
const (
	LinkStatusActive  = "active"
	LinkStatusDeleted = "deleted"
)

// EventLink is the join record between a canonical event and one specific
// external calendar's copy of it. It carries the sync bookkeeping used to
// detect no-op changes and self-reflected writes.
type EventLink struct {
	ID               string `gorm:"primaryKey"`
	CanonicalEventID string `gorm:"index;not null"`
	AccountID        string `gorm:"index:idx_account_external;not null"`
	CalendarID       string `gorm:"index;not null"`
	// ExternalEventID is the provider's event id. Empty until the link is
	// materialized into its calendar for the first time.
	ExternalEventID     string `gorm:"index:idx_account_external"`
	Etag                string
	ContentHash         string
	Status              string `gorm:"size:20;default:active"`
	LastSyncedAt        time.Time
	LastSyncOperationID *string
	OriginAccountID     string
	CreatedAt           time.Time
}

// Active reports whether the provider copy behind this link still exists.
func (l *EventLink) Active() bool {
	return l.Status == LinkStatusActive
}
