package directory

import (
	"strings"
	"time"
)

// User is the read-only record returned by the users backend.
type User struct {
	ID        string `json:"id" yaml:"id"`
	Email     string `json:"email" yaml:"email"`
	IsDeleted bool   `json:"isDeleted" yaml:"isDeleted"`
	CreatedAt string `json:"createdAt" yaml:"createdAt"`
}

// Backends written against java.time.LocalDateTime omit the zone.
var createdAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// CreatedTime parses CreatedAt. The second return value is false when the
// backend sent a format none of the known layouts accept.
func (u User) CreatedTime() (time.Time, bool) {
	raw := strings.TrimSpace(u.CreatedAt)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range createdAtLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ShortID is the abbreviated identifier shown in tables.
func (u User) ShortID() string {
	if len(u.ID) <= 8 {
		return u.ID
	}
	return u.ID[:8] + "..."
}
