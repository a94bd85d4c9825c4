package google

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"calsync/internal/models"
)

// Client talks to the Google Calendar API on behalf of any configured
// account. Services are built lazily per account and reuse the token vault's
// refreshing HTTP client.
type Client struct {
	vault  *TokenVault
	logger *slog.Logger

	mu       sync.Mutex
	services map[string]*calendar.Service
}

// NewClient creates a provider client backed by the given token vault.
func NewClient(logger *slog.Logger, vault *TokenVault) *Client {
	return &Client{
		vault:    vault,
		logger:   logger,
		services: make(map[string]*calendar.Service),
	}
}

func (c *Client) serviceFor(ctx context.Context, accountID string) (*calendar.Service, error) {
	c.mu.Lock()
	if svc, ok := c.services[accountID]; ok {
		c.mu.Unlock()
		return svc, nil
	}
	c.mu.Unlock()

	httpClient, err := c.vault.Client(ctx, accountID)
	if err != nil {
		return nil, err
	}
	svc, err := calendar.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service for account %s: %w", accountID, err)
	}

	c.mu.Lock()
	c.services[accountID] = svc
	c.mu.Unlock()
	return svc, nil
}

// ListChangedEvents fetches events of one calendar changed after the given
// cursor. A nil cursor fetches all events. Cancelled events are included so
// deletions reconcile.
func (c *Client) ListChangedEvents(ctx context.Context, accountID, calendarRef string, updatedAfter *time.Time) ([]*calendar.Event, error) {
	svc, err := c.serviceFor(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var all []*calendar.Event
	pageToken := ""
	for {
		call := svc.Events.List(calendarRef).
			ShowDeleted(true).
			SingleEvents(true).
			MaxResults(250).
			Context(ctx)
		if updatedAfter != nil {
			call = call.UpdatedMin(updatedAfter.UTC().Format(time.RFC3339))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		page, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list events for calendar %s: %v: %w", calendarRef, err, models.ErrExternalAPI)
		}
		all = append(all, page.Items...)
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	c.logger.Debug("Fetched changed events", "account", accountID, "calendar", calendarRef, "count", len(all))
	return all, nil
}

// GetEvent fetches one event by its provider id.
func (c *Client) GetEvent(ctx context.Context, accountID, calendarRef, externalID string) (*calendar.Event, error) {
	svc, err := c.serviceFor(ctx, accountID)
	if err != nil {
		return nil, err
	}
	ev, err := svc.Events.Get(calendarRef, externalID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to get event %s: %w", externalID, err)
	}
	return ev, nil
}

// CreateEvent inserts a new event into the given calendar.
func (c *Client) CreateEvent(ctx context.Context, accountID, calendarRef string, ev *calendar.Event) (*calendar.Event, error) {
	svc, err := c.serviceFor(ctx, accountID)
	if err != nil {
		return nil, err
	}
	created, err := svc.Events.Insert(calendarRef, ev).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to create event in calendar %s: %w", calendarRef, err)
	}
	return created, nil
}

// UpdateEvent overwrites an existing event in the given calendar.
func (c *Client) UpdateEvent(ctx context.Context, accountID, calendarRef, externalID string, ev *calendar.Event) (*calendar.Event, error) {
	svc, err := c.serviceFor(ctx, accountID)
	if err != nil {
		return nil, err
	}
	updated, err := svc.Events.Update(calendarRef, externalID, ev).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to update event %s: %w", externalID, err)
	}
	return updated, nil
}

// DiscoverCalendars lists the provider calendars visible to an account.
func (c *Client) DiscoverCalendars(ctx context.Context, accountID string) ([]*calendar.CalendarListEntry, error) {
	svc, err := c.serviceFor(ctx, accountID)
	if err != nil {
		return nil, err
	}
	list, err := svc.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars for account %s: %w", accountID, err)
	}
	return list.Items, nil
}
