package syncer

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"
)

// contentHash digests the semantic fields of a provider event: title, start,
// end, timezone, location and description. Text fields are trimmed and absent
// fields hash as empty strings, so metadata noise (etags, ordering, incidental
// whitespace) never registers as change. The field order is fixed, which makes
// the serialization deterministic by construction.
func contentHash(ev *calendar.Event) string {
	parts := []string{
		strings.TrimSpace(ev.Summary),
		timeKey(ev.Start),
		timeKey(ev.End),
		eventTimezone(ev),
		strings.TrimSpace(ev.Location),
		strings.TrimSpace(ev.Description),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}

// timeKey normalizes an event bound for hashing. All-day dates hash as the
// raw date string; timed bounds normalize to UTC so equivalent instants in
// different offsets hash identically.
func timeKey(dt *calendar.EventDateTime) string {
	if dt == nil {
		return ""
	}
	if dt.Date != "" {
		return dt.Date
	}
	if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	return strings.TrimSpace(dt.DateTime)
}
