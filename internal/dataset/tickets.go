package dataset

import (
	"fmt"
	"sort"
	"time"

	"github.com/mbd888/potionwatch/internal/upstream"
)

// TicketRecord is a parsed transport ticket.
type TicketRecord struct {
	ID         string
	CauldronID string
	CourierID  string
	Amount     float64
	Date       time.Time // normalized UTC
	Day        string    // Date's calendar day in 2006-01-02 form
}

// TicketIndex provides day and visibility lookups over the ticket log.
// Visibility follows the virtual clock: a ticket exists for viewers only
// once the clock has reached its date, and un-exists if the clock seeks
// back before it.
type TicketIndex struct {
	ordered []TicketRecord // ascending by (Date, ID)
	byDay   map[string][]TicketRecord
}

// NewTicketIndex parses and indexes raw tickets. Tickets with missing IDs
// or unparseable dates are dropped; the returned errors describe each drop.
func NewTicketIndex(tickets []upstream.Ticket) (*TicketIndex, []error) {
	var errs []error
	ordered := make([]TicketRecord, 0, len(tickets))

	for _, t := range tickets {
		if t.TicketID == "" {
			errs = append(errs, fmt.Errorf("ticket with empty ticket_id (cauldron %q)", t.CauldronID))
			continue
		}
		date, err := ParseTicketDate(t.Date)
		if err != nil {
			errs = append(errs, fmt.Errorf("ticket %s: %w", t.TicketID, err))
			continue
		}
		ordered = append(ordered, TicketRecord{
			ID:         t.TicketID,
			CauldronID: t.CauldronID,
			CourierID:  t.CourierID,
			Amount:     t.AmountCollected,
			Date:       date,
			Day:        date.Format(DayLayout),
		})
	}

	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].Date.Equal(ordered[j].Date) {
			return ordered[i].Date.Before(ordered[j].Date)
		}
		return ordered[i].ID < ordered[j].ID
	})

	byDay := make(map[string][]TicketRecord)
	for _, r := range ordered {
		byDay[r.Day] = append(byDay[r.Day], r)
	}

	return &TicketIndex{ordered: ordered, byDay: byDay}, errs
}

// Len returns the number of indexed tickets.
func (ix *TicketIndex) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.ordered)
}

// VisibleAt returns all tickets whose date is at or before now, in order.
// The result is recomputed per call, so a backward seek shrinks it.
func (ix *TicketIndex) VisibleAt(now time.Time) []TicketRecord {
	if ix == nil {
		return nil
	}
	n := sort.Search(len(ix.ordered), func(i int) bool {
		return ix.ordered[i].Date.After(now)
	})
	out := make([]TicketRecord, n)
	copy(out, ix.ordered[:n])
	return out
}

// OnDay returns all tickets dated on the given calendar day.
func (ix *TicketIndex) OnDay(day string) []TicketRecord {
	if ix == nil {
		return nil
	}
	recs := ix.byDay[day]
	out := make([]TicketRecord, len(recs))
	copy(out, recs)
	return out
}

// ByID returns the ticket with the given ID, if indexed.
func (ix *TicketIndex) ByID(id string) (TicketRecord, bool) {
	if ix == nil {
		return TicketRecord{}, false
	}
	for _, r := range ix.ordered {
		if r.ID == id {
			return r, true
		}
	}
	return TicketRecord{}, false
}

// Days returns the distinct calendar days carrying tickets, sorted ascending.
func (ix *TicketIndex) Days() []string {
	if ix == nil {
		return nil
	}
	days := make([]string, 0, len(ix.byDay))
	for d := range ix.byDay {
		days = append(days, d)
	}
	sort.Strings(days)
	return days
}

// All returns every ticket in order. The returned slice is a copy.
func (ix *TicketIndex) All() []TicketRecord {
	if ix == nil {
		return nil
	}
	out := make([]TicketRecord, len(ix.ordered))
	copy(out, ix.ordered)
	return out
}
