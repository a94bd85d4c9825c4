package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/api/calendar/v3"

	"calsync/internal/models"
	"calsync/internal/store"
)

// SyncResult summarizes one calendar's reconciliation pass. Per-event
// failures are counted here and logged; they do not abort the pass.
type SyncResult struct {
	Processed int
	Created   int
	Updated   int
	Skipped   int
	Failed    int
}

type reconcileOutcome int

const (
	outcomeSkipped reconcileOutcome = iota
	outcomeCreated
	outcomeUpdated
)

// SyncCalendar pulls provider changes for one calendar since its cursor,
// reconciles each changed event against canonical state and propagates
// genuine changes outward. The cursor only advances after the whole batch is
// processed, so a crash mid-batch re-processes safely (reconciliation is
// idempotent via hash and self-reflection checks).
func (e *Engine) SyncCalendar(ctx context.Context, calendarID string) (*SyncResult, error) {
	cal, err := e.store.Calendars.FindByID(calendarID)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}
	if !cal.SyncEnabled {
		e.logger.Debug("Calendar sync disabled, skipping", "calendar", cal.ID)
		return result, nil
	}

	events, err := e.provider.ListChangedEvents(ctx, cal.AccountID, cal.ExternalCalendarID, cal.LastSyncCursor)
	if err != nil {
		return nil, fmt.Errorf("listing changed events for calendar %s: %w", cal.ID, err)
	}
	e.logger.Info("Reconciling changed events", "calendar", cal.ID, "count", len(events))

	for _, ev := range events {
		if ev == nil || ev.Id == "" {
			continue
		}
		outcome, err := e.reconcile(ctx, cal, ev)
		if err != nil {
			if errors.Is(err, models.ErrValidation) {
				return result, err
			}
			e.logger.Error("Failed to reconcile event", "calendar", cal.ID, "event", ev.Id, "error", err)
			e.appendLog(models.OpIngest, cal.AccountID, "", ev.Id, models.ResultFailure, err,
				map[string]any{"calendar_id": cal.ID})
			result.Failed++
			continue
		}
		result.Processed++
		switch outcome {
		case outcomeCreated:
			result.Created++
		case outcomeUpdated:
			result.Updated++
		default:
			result.Skipped++
		}
	}

	cursor := e.now()
	cal.LastSyncCursor = &cursor
	if err := e.store.Calendars.Save(cal); err != nil {
		return result, fmt.Errorf("advancing sync cursor for calendar %s: %w", cal.ID, err)
	}
	return result, nil
}

// reconcile maps one changed external event onto canonical state.
func (e *Engine) reconcile(ctx context.Context, cal *models.Calendar, ev *calendar.Event) (reconcileOutcome, error) {
	hash := contentHash(ev)

	link, err := e.store.Links.FindByExternal(cal.AccountID, ev.Id)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return outcomeSkipped, err
		}
		link = nil
	}

	if link != nil {
		// Self-reflection: an echo of our own prior write must never count as
		// new user intent. The token is consumed on first sight so a later
		// genuine edit on the same external event is not suppressed with it.
		if token := privateProp(ev, propSyncOpID); token != "" &&
			link.LastSyncOperationID != nil && token == *link.LastSyncOperationID {
			e.logger.Debug("Skipping self-reflected event", "calendar", cal.ID, "event", ev.Id)
			link.LastSyncOperationID = nil
			if err := e.store.Links.Save(link); err != nil {
				return outcomeSkipped, err
			}
			return outcomeSkipped, nil
		}
		// A cancellation leaves the semantic fields (and so the hash)
		// untouched; the status transition must still reconcile.
		statusChanged := (ev.Status == "cancelled") != (link.Status == models.LinkStatusDeleted)
		if hash == link.ContentHash && !statusChanged {
			e.logger.Debug("Skipping unchanged event", "calendar", cal.ID, "event", ev.Id)
			return outcomeSkipped, nil
		}
	}

	canonical, created, err := e.resolveCanonical(cal, ev, link)
	if err != nil {
		return outcomeSkipped, err
	}

	e.applyExternal(canonical, ev)
	if created {
		if err := e.store.Canonicals.Create(canonical); err != nil {
			return outcomeSkipped, err
		}
	} else {
		if err := e.store.Canonicals.Save(canonical); err != nil {
			return outcomeSkipped, err
		}
	}

	status := models.LinkStatusActive
	if ev.Status == "cancelled" {
		status = models.LinkStatusDeleted
	}
	opToken := uuid.NewString()
	externalID := ev.Id
	link, err = e.store.Links.Upsert(cal.AccountID, ev.Id, store.LinkUpsert{
		CanonicalEventID: canonical.ID,
		CalendarID:       cal.ID,
		OriginAccountID:  cal.AccountID,
		ExternalEventID:  &externalID,
		Etag:             &ev.Etag,
		ContentHash:      &hash,
		Status:           &status,
		SyncOperationID:  &opToken,
		LastSyncedAt:     e.now(),
	})
	if err != nil {
		return outcomeSkipped, err
	}

	e.appendLog(models.OpIngest, cal.AccountID, "", ev.Id, models.ResultSuccess, nil, map[string]any{
		"calendar_id":  cal.ID,
		"canonical_id": canonical.ID,
		"created":      created,
	})

	if cal.SyncEnabled && cal.SyncDirection != models.DirectionReadonly {
		if _, err := e.PropagateEvent(ctx, canonical.ID, link.ID, opToken); err != nil {
			// Fan-out failures are per-target and already logged; this only
			// fires when the canonical event or links cannot be loaded.
			e.logger.Error("Propagation failed", "canonical", canonical.ID, "error", err)
		}
	}

	if created {
		return outcomeCreated, nil
	}
	return outcomeUpdated, nil
}

// resolveCanonical finds the canonical event an external event belongs to,
// trying the explicit embedded id, then the link registry, then the fallback
// matcher. When nothing matches, a fresh canonical event is prepared; start
// and end are required for that.
func (e *Engine) resolveCanonical(cal *models.Calendar, ev *calendar.Event, link *models.EventLink) (*models.CanonicalEvent, bool, error) {
	if cid := privateProp(ev, propCanonicalID); cid != "" {
		canonical, err := e.store.Canonicals.FindByID(cid)
		if err == nil {
			return canonical, false, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, false, err
		}
		// Stale pointer to a canonical event deleted since; fall through.
	}

	if link != nil {
		canonical, err := e.store.Canonicals.FindByID(link.CanonicalEventID)
		if err == nil {
			return canonical, false, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, false, err
		}
	}

	if e.matcher != nil {
		canonical, err := e.matcher.Match(cal, ev)
		if err != nil {
			return nil, false, err
		}
		if canonical != nil {
			return canonical, false, nil
		}
	}

	if _, _, _, ok := eventTimes(ev); !ok {
		return nil, false, fmt.Errorf("event %s has no usable start or end: %w", ev.Id, models.ErrValidation)
	}
	return &models.CanonicalEvent{
		ID:        uuid.NewString(),
		Timezone:  "UTC",
		CreatedAt: e.now(),
	}, true, nil
}
