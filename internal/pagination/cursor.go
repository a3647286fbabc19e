// Package pagination implements the opaque cursors used by ticket
// listings. A cursor marks the (date, ticket id) of the last record on
// a page; the next page resumes strictly after that position.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrBadCursor is returned for cursor strings this server did not mint.
var ErrBadCursor = errors.New("invalid cursor")

// Cursor is the decoded resume position of a ticket listing.
type Cursor struct {
	Date     time.Time
	TicketID string
}

// Encode packs a ticket's (date, id) into an opaque URL-safe string.
// Ticket dates carry minute resolution, so millisecond encoding is lossless.
func Encode(date time.Time, ticketID string) string {
	raw := strconv.FormatInt(date.UnixMilli(), 10) + "|" + ticketID
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Decode unpacks a cursor produced by Encode. The empty string decodes
// to nil without error: it means "first page".
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrBadCursor
	}
	millis, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrBadCursor
	}
	ms, err := strconv.ParseInt(millis, 10, 64)
	if err != nil {
		return nil, ErrBadCursor
	}
	return &Cursor{Date: time.UnixMilli(ms).UTC(), TicketID: id}, nil
}

// ComputePage trims a limit+1 overfetch down to one page. When a record
// beyond the page exists, the returned cursor points at the page's last
// record and hasMore is true; otherwise the cursor is empty.
func ComputePage[T any](records []T, limit int, key func(T) (time.Time, string)) ([]T, string, bool) {
	if len(records) <= limit {
		return records, "", false
	}
	records = records[:limit]
	date, id := key(records[len(records)-1])
	return records, Encode(date, id), true
}
