package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"

	"calsync/internal/models"
)

// PropagationResult reports the fan-out outcome per target. Partial success
// is the expected failure mode, not an error for the whole operation.
type PropagationResult struct {
	Attempted int
	Succeeded int
	Failed    int
	Errors    []error
}

// PropagateEvent materializes a canonical event into every other linked and
// connection-permitted calendar. sourceLinkID identifies the link the change
// arrived through and is excluded from the fan-out; pass "" to propagate to
// all active links (used by conflict resolution to reconcile etags and hashes
// everywhere). opToken is stamped into each payload so the resulting provider
// notifications are recognized as our own writes.
func (e *Engine) PropagateEvent(ctx context.Context, canonicalID, sourceLinkID, opToken string) (*PropagationResult, error) {
	canonical, err := e.store.Canonicals.FindByID(canonicalID)
	if err != nil {
		return nil, err
	}
	all, err := e.store.Links.FindByCanonicalID(canonicalID)
	if err != nil {
		return nil, err
	}

	var sourceLink *models.EventLink
	var targets []*models.EventLink
	for _, l := range all {
		if sourceLinkID != "" && l.ID == sourceLinkID {
			sourceLink = l
			continue
		}
		targets = append(targets, l)
	}

	// Declared connections narrow the fan-out to connected calendars. A
	// source calendar with no declared connections propagates to all
	// remaining links (open-sync default) and never reaches new calendars.
	var allowed map[string]bool
	if sourceLink != nil {
		ids, err := e.store.Connections.ConnectedCalendarIDs(sourceLink.CalendarID)
		if err != nil {
			return nil, err
		}
		if len(ids) > 0 {
			allowed = make(map[string]bool, len(ids))
			for _, id := range ids {
				allowed[id] = true
			}
			// First materialization into a connected calendar that has no
			// link yet: prepare one with an empty external id.
			linked := make(map[string]bool, len(all))
			for _, l := range all {
				linked[l.CalendarID] = true
			}
			for _, id := range ids {
				if linked[id] {
					continue
				}
				cal, err := e.store.Calendars.FindByID(id)
				if err != nil {
					if errors.Is(err, models.ErrNotFound) {
						continue
					}
					return nil, err
				}
				if !cal.SyncEnabled {
					continue
				}
				link := &models.EventLink{
					CanonicalEventID: canonicalID,
					AccountID:        cal.AccountID,
					CalendarID:       cal.ID,
					OriginAccountID:  sourceLink.AccountID,
					Status:           models.LinkStatusActive,
				}
				if err := e.store.Links.Create(link); err != nil {
					return nil, err
				}
				targets = append(targets, link)
			}
		}
	}

	result := &PropagationResult{}
	fromAccount := ""
	if sourceLink != nil {
		fromAccount = sourceLink.AccountID
	}

	for _, target := range targets {
		if !target.Active() {
			continue
		}
		if allowed != nil && !allowed[target.CalendarID] {
			continue
		}
		cal, err := e.store.Calendars.FindByID(target.CalendarID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return result, err
		}
		if !cal.SyncEnabled {
			continue
		}

		result.Attempted++
		if err := e.materializeInto(ctx, canonical, cal, target, opToken); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, err)
			e.logger.Error("Failed to propagate event",
				"canonical", canonicalID, "target_calendar", cal.ID, "error", err)
			e.appendLog(models.OpPropagate, fromAccount, cal.AccountID, target.ExternalEventID,
				models.ResultFailure, err, map[string]any{
					"canonical_id": canonicalID,
					"calendar_id":  cal.ID,
				})
			continue
		}
		result.Succeeded++
		e.appendLog(models.OpPropagate, fromAccount, cal.AccountID, target.ExternalEventID,
			models.ResultSuccess, nil, map[string]any{
				"canonical_id": canonicalID,
				"calendar_id":  cal.ID,
			})
	}
	return result, nil
}

// materializeInto writes the canonical event into one target calendar and
// refreshes the target link's bookkeeping on success.
func (e *Engine) materializeInto(ctx context.Context, canonical *models.CanonicalEvent, cal *models.Calendar, target *models.EventLink, opToken string) error {
	payload := materialize(canonical, cal, opToken)

	var out *calendar.Event
	var err error
	if target.ExternalEventID != "" {
		out, err = e.provider.UpdateEvent(ctx, cal.AccountID, cal.ExternalCalendarID, target.ExternalEventID, payload)
		if err != nil && isGone(err) {
			e.logger.Info("External event vanished, recreating",
				"calendar", cal.ID, "event", target.ExternalEventID)
			out, err = e.provider.CreateEvent(ctx, cal.AccountID, cal.ExternalCalendarID, payload)
		}
	} else {
		out, err = e.provider.CreateEvent(ctx, cal.AccountID, cal.ExternalCalendarID, payload)
	}
	if err != nil {
		return fmt.Errorf("writing event to calendar %s: %v: %w", cal.ID, err, models.ErrExternalAPI)
	}

	target.ExternalEventID = out.Id
	target.Etag = out.Etag
	target.ContentHash = contentHash(out)
	if opToken != "" {
		target.LastSyncOperationID = &opToken
	}
	target.LastSyncedAt = e.now()
	return e.store.Links.Save(target)
}

// materialize builds the provider payload for one target calendar, shaped by
// its privacy mode.
func materialize(canonical *models.CanonicalEvent, target *models.Calendar, opToken string) *calendar.Event {
	ev := &calendar.Event{}
	if target.PrivacyMode == models.PrivacyBusyOnly {
		ev.Summary = busyPlaceholder
		ev.Transparency = "opaque"
	} else {
		ev.Summary = canonical.TitleOrEmpty()
		ev.Description = canonical.DescriptionOrEmpty()
		ev.Location = canonical.LocationOrEmpty()
	}

	if canonical.AllDay {
		ev.Start = &calendar.EventDateTime{Date: canonical.StartAt.Format("2006-01-02")}
		ev.End = &calendar.EventDateTime{Date: canonical.EndAt.Format("2006-01-02")}
	} else {
		tz := canonical.Timezone
		loc, err := time.LoadLocation(tz)
		if tz == "" || err != nil {
			tz = "UTC"
			loc = time.UTC
		}
		ev.Start = &calendar.EventDateTime{DateTime: canonical.StartAt.In(loc).Format(time.RFC3339), TimeZone: tz}
		ev.End = &calendar.EventDateTime{DateTime: canonical.EndAt.In(loc).Format(time.RFC3339), TimeZone: tz}
	}

	private := map[string]string{
		propCanonicalID: canonical.ID,
		propEngineID:    engineID,
	}
	if opToken != "" {
		private[propSyncOpID] = opToken
	}
	ev.ExtendedProperties = &calendar.EventExtendedProperties{Private: private}
	return ev
}
