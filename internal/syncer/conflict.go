package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"calsync/internal/models"
)

// Resolution strategies.
const (
	StrategyAdoptA = "adopt_a"
	StrategyAdoptB = "adopt_b"
	StrategyManual = "manual"
)

// Conflict describes a canonical event whose linked external copies have
// diverged: its active links fall into two or more distinct content-hash
// groups.
type Conflict struct {
	CanonicalEventID string            `json:"canonical_event_id"`
	Variants         []ConflictVariant `json:"variants"`
}

// ConflictVariant is one divergent version of the event, represented by the
// most recently synced link of its hash group. Fields come from the live
// provider event when it can be fetched, otherwise from stored canonical
// state (Live reports which).
type ConflictVariant struct {
	LinkID          string    `json:"link_id"`
	AccountID       string    `json:"account_id"`
	CalendarID      string    `json:"calendar_id"`
	ExternalEventID string    `json:"external_event_id"`
	ContentHash     string    `json:"content_hash"`
	Title           string    `json:"title"`
	Location        string    `json:"location"`
	Description     string    `json:"description"`
	StartAt         time.Time `json:"start_at"`
	EndAt           time.Time `json:"end_at"`
	AllDay          bool      `json:"all_day"`
	LastModified    time.Time `json:"last_modified"`
	Live            bool      `json:"live"`
}

// Resolution selects how a conflict is settled. adopt_a/adopt_b take the live
// content of the named link as the new canonical truth; manual applies the
// explicit field set. Exactly one shape is valid per strategy.
type Resolution struct {
	Strategy string        `json:"strategy" validate:"required,oneof=adopt_a adopt_b manual"`
	LinkID   string        `json:"link_id" validate:"required_unless=Strategy manual"`
	Fields   *ManualFields `json:"fields" validate:"required_if=Strategy manual"`
}

// ManualFields is the partial canonical update applied by the manual
// strategy. Nil means "leave unchanged"; a non-nil pointer sets the field,
// including to its zero value.
type ManualFields struct {
	Title       *string    `json:"title"`
	StartAt     *time.Time `json:"start_at"`
	EndAt       *time.Time `json:"end_at"`
	Timezone    *string    `json:"timezone"`
	Location    *string    `json:"location"`
	Description *string    `json:"description"`
	AllDay      *bool      `json:"all_day"`
}

func (f *ManualFields) empty() bool {
	return f.Title == nil && f.StartAt == nil && f.EndAt == nil &&
		f.Timezone == nil && f.Location == nil && f.Description == nil && f.AllDay == nil
}

// DetectConflicts scans all canonical events mirrored into more than one
// calendar and reports those whose copies have diverged.
func (e *Engine) DetectConflicts(ctx context.Context) ([]*Conflict, error) {
	ids, err := e.store.Links.CanonicalIDsWithMultipleActiveLinks()
	if err != nil {
		return nil, err
	}

	var conflicts []*Conflict
	for _, id := range ids {
		conflict, err := e.GetConflict(ctx, id)
		if err != nil {
			e.logger.Error("Failed to inspect canonical event for conflicts", "canonical", id, "error", err)
			continue
		}
		if conflict != nil {
			conflicts = append(conflicts, conflict)
		}
	}
	return conflicts, nil
}

// GetConflict inspects one canonical event. It returns nil when the event's
// active links agree (fewer than two distinct hash groups) or when fewer than
// two variants could be materialized.
func (e *Engine) GetConflict(ctx context.Context, canonicalID string) (*Conflict, error) {
	canonical, err := e.store.Canonicals.FindByID(canonicalID)
	if err != nil {
		return nil, err
	}
	links, err := e.store.Links.FindByCanonicalID(canonicalID)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]*models.EventLink)
	for _, link := range links {
		if !link.Active() {
			continue
		}
		groups[link.ContentHash] = append(groups[link.ContentHash], link)
	}
	if len(groups) < 2 {
		return nil, nil
	}

	var variants []ConflictVariant
	for _, group := range groups {
		rep := group[0]
		for _, link := range group[1:] {
			if link.LastSyncedAt.After(rep.LastSyncedAt) {
				rep = link
			}
		}
		if variant, ok := e.buildVariant(ctx, canonical, rep); ok {
			variants = append(variants, variant)
		}
	}
	if len(variants) < 2 {
		return nil, nil
	}

	sort.Slice(variants, func(i, j int) bool {
		return variants[i].LastModified.After(variants[j].LastModified)
	})
	return &Conflict{CanonicalEventID: canonicalID, Variants: variants}, nil
}

// buildVariant fetches the authoritative current content behind one link,
// falling back to the canonical event's stored fields when the live fetch
// fails. A link whose external event is gone produces no variant.
func (e *Engine) buildVariant(ctx context.Context, canonical *models.CanonicalEvent, link *models.EventLink) (ConflictVariant, bool) {
	variant := ConflictVariant{
		LinkID:          link.ID,
		AccountID:       link.AccountID,
		CalendarID:      link.CalendarID,
		ExternalEventID: link.ExternalEventID,
		ContentHash:     link.ContentHash,
	}

	if link.ExternalEventID != "" {
		if cal, err := e.store.Calendars.FindByID(link.CalendarID); err == nil {
			live, err := e.provider.GetEvent(ctx, cal.AccountID, cal.ExternalCalendarID, link.ExternalEventID)
			if err == nil {
				variant.Live = true
				variant.Title = strings.TrimSpace(live.Summary)
				variant.Location = strings.TrimSpace(live.Location)
				variant.Description = strings.TrimSpace(live.Description)
				if start, end, allDay, ok := eventTimes(live); ok {
					variant.StartAt = start
					variant.EndAt = end
					variant.AllDay = allDay
				}
				if updated, perr := time.Parse(time.RFC3339, live.Updated); perr == nil {
					variant.LastModified = updated
				} else {
					variant.LastModified = link.LastSyncedAt
				}
				return variant, true
			}
			if isGone(err) {
				return variant, false
			}
			e.logger.Warn("Live fetch for conflict variant failed, using stored fields",
				"link", link.ID, "error", err)
		}
	}

	variant.Title = canonical.TitleOrEmpty()
	variant.Location = canonical.LocationOrEmpty()
	variant.Description = canonical.DescriptionOrEmpty()
	variant.StartAt = canonical.StartAt
	variant.EndAt = canonical.EndAt
	variant.AllDay = canonical.AllDay
	variant.LastModified = canonical.LastModifiedAt
	return variant, true
}

// ResolveConflict applies one resolution strategy to a canonical event and
// re-propagates the now-authoritative content to all active links, including
// the one adopted from, so etags and hashes reconcile everywhere. Invalid
// resolutions are rejected before any mutation.
func (e *Engine) ResolveConflict(ctx context.Context, canonicalID string, res Resolution) error {
	if err := e.validate.Struct(res); err != nil {
		return fmt.Errorf("invalid resolution: %v: %w", err, models.ErrValidation)
	}

	canonical, err := e.store.Canonicals.FindByID(canonicalID)
	if err != nil {
		return err
	}

	switch res.Strategy {
	case StrategyAdoptA, StrategyAdoptB:
		link, err := e.store.Links.FindByID(res.LinkID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("resolution link %s does not exist: %w", res.LinkID, models.ErrConflict)
			}
			return err
		}
		if link.CanonicalEventID != canonicalID {
			return fmt.Errorf("link %s does not belong to canonical event %s: %w",
				res.LinkID, canonicalID, models.ErrConflict)
		}
		cal, err := e.store.Calendars.FindByID(link.CalendarID)
		if err != nil {
			return err
		}
		live, err := e.provider.GetEvent(ctx, cal.AccountID, cal.ExternalCalendarID, link.ExternalEventID)
		if err != nil {
			return fmt.Errorf("fetching adopted event %s: %v: %w", link.ExternalEventID, err, models.ErrExternalAPI)
		}
		e.applyExternal(canonical, live)

	case StrategyManual:
		if res.Fields.empty() {
			return fmt.Errorf("manual resolution carries no fields: %w", models.ErrValidation)
		}
		applyManualFields(canonical, res.Fields)
		canonical.LastModifiedAt = e.now()
	}

	if err := e.store.Canonicals.Save(canonical); err != nil {
		return err
	}

	opToken := uuid.NewString()
	propagation, err := e.PropagateEvent(ctx, canonicalID, "", opToken)

	outcome := models.ResultSuccess
	if err != nil || (propagation != nil && propagation.Failed > 0) {
		outcome = models.ResultFailure
	}
	meta := map[string]any{"strategy": res.Strategy, "canonical_id": canonicalID}
	if propagation != nil {
		meta["propagated"] = propagation.Succeeded
		meta["failed"] = propagation.Failed
	}
	e.appendLog(models.OpResolution, "", "", canonicalID, outcome, err, meta)
	return err
}

func applyManualFields(canonical *models.CanonicalEvent, fields *ManualFields) {
	if fields.Title != nil {
		canonical.Title = optString(*fields.Title)
	}
	if fields.StartAt != nil {
		canonical.StartAt = *fields.StartAt
	}
	if fields.EndAt != nil {
		canonical.EndAt = *fields.EndAt
	}
	if fields.Timezone != nil && *fields.Timezone != "" {
		canonical.Timezone = *fields.Timezone
	}
	if fields.Location != nil {
		canonical.Location = optString(*fields.Location)
	}
	if fields.Description != nil {
		canonical.Description = optString(*fields.Description)
	}
	if fields.AllDay != nil {
		canonical.AllDay = *fields.AllDay
	}
}
