package models

import "time"

// CanonicalEvent is the provider-agnostic source of truth for one logical
// meeting, regardless of how many calendars mirror it. External copies are
// tracked through EventLink rows.
type CanonicalEvent struct {
	ID             string  `gorm:"primaryKey"`
	Title          *string `gorm:"size:500"`
	StartAt        time.Time
	EndAt          time.Time
	Timezone       string `gorm:"size:100;default:UTC"`
	Location       *string
	Description    *string
	AllDay         bool
	LastModifiedAt time.Time
	CreatedAt      time.Time
}

// TitleOrEmpty returns the title, substituting "" when unset.
func (e *CanonicalEvent) TitleOrEmpty() string {
	if e.Title == nil {
		return ""
	}
	return *e.Title
}

// LocationOrEmpty returns the location, substituting "" when unset.
func (e *CanonicalEvent) LocationOrEmpty() string {
	if e.Location == nil {
		return ""
	}
	return *e.Location
}

// DescriptionOrEmpty returns the description, substituting "" when unset.
func (e *CanonicalEvent) DescriptionOrEmpty() string {
	if e.Description == nil {
		return ""
	}
	return *e.Description
}
