// Package dataset holds the in-memory copy of the upstream potion data:
// the level series, the facility directory, the travel network, and the
// transport ticket log. A Catalog carries one consistent view of all of
// them; a Loader fills and refreshes it.
//
// The clock and every lookup speak the upstream's own timestamp strings.
// Timestamps are minute-resolution UTC and render as
// 2006-01-02T15:04:05+00:00 on the wire.
package dataset

import (
	"fmt"
	"strings"
	"time"
)

// Wire formats used by the upstream API.
const (
	TimestampLayout = "2006-01-02T15:04:05"
	DayLayout       = "2006-01-02"

	// The upstream spells UTC as +00:00, which Go's RFC 3339 formatter
	// would render as Z. The suffix is appended literally.
	wireSuffix = "+00:00"
)

// CanonicalTime renders t in the upstream's timestamp form.
// Frame lookups key on this exact string.
func CanonicalTime(t time.Time) string {
	return t.UTC().Format(TimestampLayout) + wireSuffix
}

// ParseTimestamp parses an upstream timestamp, with or without offset suffix.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(TimestampLayout, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// ParseDay parses a calendar day in 2006-01-02 form.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DayLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable day %q", s)
	}
	return t.UTC(), nil
}

// ParseTicketDate parses a ticket date, which the upstream has served both
// as a bare day and as a full timestamp.
func ParseTicketDate(s string) (time.Time, error) {
	if t, err := ParseTimestamp(s); err == nil {
		return t, nil
	}
	return ParseDay(s)
}

// Dataset names used in load states, logs, and metrics labels.
const (
	NameMetadata  = "metadata"
	NameFrames    = "frames"
	NameCauldrons = "cauldrons"
	NameMarket    = "market"
	NameCouriers  = "couriers"
	NameNetwork   = "network"
	NameTickets   = "tickets"
)

// Names lists all tracked datasets in display order.
var Names = []string{
	NameMetadata,
	NameFrames,
	NameCauldrons,
	NameMarket,
	NameCouriers,
	NameNetwork,
	NameTickets,
}

// LoadState reports the load status of one dataset.
type LoadState struct {
	Name       string    `json:"name"`
	Loaded     bool      `json:"loaded"`
	Count      int       `json:"count"`
	LastLoaded time.Time `json:"last_loaded,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Range is the parsed time range covered by the level series.
// Offsets into the range are whole minutes in [0, TotalMinutes].
type Range struct {
	Start           time.Time
	End             time.Time
	IntervalMinutes int
	Unit            string
	TotalMinutes    int
}

// NewRange parses raw metadata bounds into a Range.
func NewRange(start, end string, intervalMinutes int, unit string) (*Range, error) {
	s, err := ParseTimestamp(start)
	if err != nil {
		return nil, fmt.Errorf("metadata start: %w", err)
	}
	e, err := ParseTimestamp(end)
	if err != nil {
		return nil, fmt.Errorf("metadata end: %w", err)
	}
	if e.Before(s) {
		return nil, fmt.Errorf("metadata end %s precedes start %s", end, start)
	}
	if intervalMinutes <= 0 {
		intervalMinutes = 1
	}
	return &Range{
		Start:           s,
		End:             e,
		IntervalMinutes: intervalMinutes,
		Unit:            unit,
		TotalMinutes:    int(e.Sub(s) / time.Minute),
	}, nil
}

// Instant returns the absolute time at the given minute offset from Start.
func (r *Range) Instant(offsetMinutes int) time.Time {
	return r.Start.Add(time.Duration(offsetMinutes) * time.Minute)
}

// Days lists the calendar days the range touches, inclusive of both ends.
func (r *Range) Days() []string {
	var out []string
	d := time.Date(r.Start.Year(), r.Start.Month(), r.Start.Day(), 0, 0, 0, 0, time.UTC)
	for !d.After(r.End) {
		out = append(out, d.Format(DayLayout))
		d = d.AddDate(0, 0, 1)
	}
	return out
}

// Clamp confines a minute offset to [0, TotalMinutes].
func (r *Range) Clamp(offsetMinutes int) int {
	if offsetMinutes < 0 {
		return 0
	}
	if offsetMinutes > r.TotalMinutes {
		return r.TotalMinutes
	}
	return offsetMinutes
}
