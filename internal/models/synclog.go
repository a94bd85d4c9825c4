package models

import "time"

// Sync log operations.
const (
	OpIngest     = "ingest"
	OpPropagate  = "propagate"
	OpResolution = "resolution"
)

// Sync log results.
const (
	ResultSuccess = "success"
	ResultSkipped = "skipped"
	ResultFailure = "failure"
)

// SyncLog is an append-only audit record of a single sync action. Rows are
// written for observability and never read back by the engine itself.
type SyncLog struct {
	ID            uint   `gorm:"primaryKey"`
	Operation     string `gorm:"size:30;index"`
	FromAccountID string
	ToAccountID   string
	EventID       string `gorm:"index"`
	Result        string `gorm:"size:20"`
	Error         string
	Metadata      string // JSON blob with operation-specific context
	CreatedAt     time.Time
}
