package ics

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"

	"calsync/internal/models"
)

// Export writes canonical events as an iCalendar stream. This is a one-way
// snapshot for interchange and backup; it plays no part in synchronization.
func Export(w io.Writer, events []*models.CanonicalEvent) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//calsync//EN")

	for _, event := range events {
		cal.Children = append(cal.Children, toVEvent(event))
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

// toVEvent converts one canonical event to a VEVENT component.
func toVEvent(event *models.CanonicalEvent) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, fmt.Sprintf("%s@calsync", event.ID))
	ve.Props.SetText(ical.PropSummary, event.TitleOrEmpty())
	ve.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	ve.Props.SetDateTime(ical.PropDateTimeStart, event.StartAt)
	ve.Props.SetDateTime(ical.PropDateTimeEnd, event.EndAt)

	if event.Description != nil {
		ve.Props.SetText(ical.PropDescription, *event.Description)
	}
	if event.Location != nil {
		ve.Props.SetText(ical.PropLocation, *event.Location)
	}
	if !event.LastModifiedAt.IsZero() {
		ve.Props.SetDateTime(ical.PropLastModified, event.LastModifiedAt.UTC())
	}
	return ve
}
