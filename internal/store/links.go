package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"calsync/internal/models"
)

// LinkRegistry persists event links and enforces the orphan-cleanup cascade:
// removing the last active mirror of a meeting removes the meeting itself.
type LinkRegistry struct {
	db         *gorm.DB
	canonicals *CanonicalStore
}

// LinkUpsert carries the fields applied by Upsert. Pointer fields distinguish
// "leave unchanged" (nil) from "set to this value" (non-nil), including setting
// a field to its zero value.
type LinkUpsert struct {
	// CanonicalEventID, CalendarID and OriginAccountID are only applied when
	// the upsert creates a new link.
	CanonicalEventID string
	CalendarID       string
	OriginAccountID  string

	ExternalEventID *string
	Etag            *string
	ContentHash     *string
	Status          *string
	SyncOperationID *string
	LastSyncedAt    time.Time
}

// Create inserts a new link, assigning an id if absent.
func (r *LinkRegistry) Create(link *models.EventLink) error {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	if link.Status == "" {
		link.Status = models.LinkStatusActive
	}
	return r.db.Create(link).Error
}

// FindByID loads one link by id.
func (r *LinkRegistry) FindByID(id string) (*models.EventLink, error) {
	var link models.EventLink
	err := r.db.First(&link, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("event link %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// FindByCanonicalID returns all links of a canonical event, oldest first.
func (r *LinkRegistry) FindByCanonicalID(canonicalID string) ([]*models.EventLink, error) {
	var links []*models.EventLink
	err := r.db.Where("canonical_event_id = ?", canonicalID).
		Order("created_at asc, id asc").
		Find(&links).Error
	return links, err
}

// FindByExternal looks a link up by its provider identity.
func (r *LinkRegistry) FindByExternal(accountID, externalEventID string) (*models.EventLink, error) {
	var link models.EventLink
	err := r.db.First(&link, "account_id = ? AND external_event_id = ?", accountID, externalEventID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("event link for account %s event %s: %w", accountID, externalEventID, models.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// Upsert finds-or-creates the link keyed by (account, external event id) and
// applies the given fields. On miss a new active link is created.
func (r *LinkRegistry) Upsert(accountID, externalEventID string, up LinkUpsert) (*models.EventLink, error) {
	link, err := r.FindByExternal(accountID, externalEventID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	if link == nil {
		link = &models.EventLink{
			ID:               uuid.NewString(),
			CanonicalEventID: up.CanonicalEventID,
			AccountID:        accountID,
			CalendarID:       up.CalendarID,
			ExternalEventID:  externalEventID,
			OriginAccountID:  up.OriginAccountID,
			Status:           models.LinkStatusActive,
		}
		applyLinkUpsert(link, up)
		if err := r.db.Create(link).Error; err != nil {
			return nil, err
		}
		return link, nil
	}

	applyLinkUpsert(link, up)
	if err := r.db.Save(link).Error; err != nil {
		return nil, err
	}
	return link, nil
}

func applyLinkUpsert(link *models.EventLink, up LinkUpsert) {
	if up.ExternalEventID != nil {
		link.ExternalEventID = *up.ExternalEventID
	}
	if up.Etag != nil {
		link.Etag = *up.Etag
	}
	if up.ContentHash != nil {
		link.ContentHash = *up.ContentHash
	}
	if up.Status != nil {
		link.Status = *up.Status
	}
	if up.SyncOperationID != nil {
		link.LastSyncOperationID = up.SyncOperationID
	}
	if !up.LastSyncedAt.IsZero() {
		link.LastSyncedAt = up.LastSyncedAt
	} else {
		link.LastSyncedAt = time.Now()
	}
}

// Save writes back all fields of an existing link.
func (r *LinkRegistry) Save(link *models.EventLink) error {
	return r.db.Save(link).Error
}

// Delete hard-deletes a link. When no active link still references the
// canonical parent, the parent is hard-deleted too: removing the last mirror
// of a meeting means the meeting no longer exists anywhere.
func (r *LinkRegistry) Delete(id string) error {
	link, err := r.FindByID(id)
	if err != nil {
		return err
	}
	if err := r.db.Delete(&models.EventLink{}, "id = ?", id).Error; err != nil {
		return err
	}

	var remaining int64
	err = r.db.Model(&models.EventLink{}).
		Where("canonical_event_id = ? AND status = ?", link.CanonicalEventID, models.LinkStatusActive).
		Count(&remaining).Error
	if err != nil {
		return err
	}
	if remaining == 0 {
		return r.canonicals.Delete(link.CanonicalEventID)
	}
	return nil
}

// CanonicalIDsWithMultipleActiveLinks returns ids of canonical events mirrored
// into two or more calendars; only those can diverge.
func (r *LinkRegistry) CanonicalIDsWithMultipleActiveLinks() ([]string, error) {
	var ids []string
	err := r.db.Model(&models.EventLink{}).
		Select("canonical_event_id").
		Where("status = ?", models.LinkStatusActive).
		Group("canonical_event_id").
		Having("COUNT(*) > 1").
		Pluck("canonical_event_id", &ids).Error
	return ids, err
}
