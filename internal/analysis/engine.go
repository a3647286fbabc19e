// Package analysis audits the potion logistics record. It derives each
// cauldron's baseline fill rate from the level series, turns dips below
// that baseline into drain events, and reconciles those events against
// the transport tickets day by day. Unmatched tickets point at invented
// or mispriced hauls; unmatched events point at hauls nobody logged.
package analysis

import (
	"math"

	"github.com/mbd888/potionwatch/internal/dataset"
)

// MatchTolerance is the relative slack allowed between a ticketed amount
// and a drain event's total. A 100L drain ticketed as 99.8L still counts.
const MatchTolerance = 0.02

// DefaultDiscrepancyThreshold is the absolute daily liter discrepancy
// above which a day is flagged even with every ticket reconciled.
const DefaultDiscrepancyThreshold = 1.0

// DrainEvent is one run of consecutive draining samples for a cauldron.
type DrainEvent struct {
	CauldronID string  `json:"cauldron_id"`
	Start      string  `json:"start_time"`
	End        string  `json:"end_time"`
	Total      float64 `json:"total_drain"`
}

// FlaggedTicket is a ticket no drain event could account for.
type FlaggedTicket struct {
	TicketID   string  `json:"ticket_id"`
	CauldronID string  `json:"cauldron_id"`
	CourierID  string  `json:"courier_id"`
	Amount     float64 `json:"amount_collected"`
	Date       string  `json:"date"`
}

// Match pairs a ticket with the drain event that covers it.
type Match struct {
	TicketID   string  `json:"ticket_id"`
	CauldronID string  `json:"cauldron_id"`
	Amount     float64 `json:"amount_collected"`
	DrainStart string  `json:"drain_start"`
	DrainTotal float64 `json:"drain_total"`
}

// DayReport is the audit outcome for one calendar day.
type DayReport struct {
	Date            string          `json:"date"`
	HasData         bool            `json:"has_data"`
	TotalCalculated float64         `json:"total_calculated_drain"`
	TotalTicketed   float64         `json:"total_ticketed_drain"`
	Discrepancy     float64         `json:"total_discrepancy"`
	FlaggedCount    int             `json:"flagged_tickets_count"`
	UnloggedCount   int             `json:"unlogged_drains_count"`
	FlaggedTickets  []FlaggedTicket `json:"flagged_tickets"`
	UnloggedDrains  []DrainEvent    `json:"unlogged_drains"`
	Matches         []Match         `json:"matches"`
	Flagged         bool            `json:"flagged"`
}

// Engine runs audits. It is stateless; every call recomputes from the
// indexes it is handed.
type Engine struct {
	tolerance float64
	threshold float64
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithDiscrepancyThreshold overrides the daily flagging threshold.
func WithDiscrepancyThreshold(liters float64) EngineOption {
	return func(e *Engine) {
		if liters > 0 {
			e.threshold = liters
		}
	}
}

// NewEngine creates an audit engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		tolerance: MatchTolerance,
		threshold: DefaultDiscrepancyThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// drainRow is one sample annotated with its reconstructed drain amount.
type drainRow struct {
	at    dataset.SeriesPoint
	drain float64
}

// Analyze audits the requested days against the given level series and
// ticket log. Baselines come from the whole series, not the day slice,
// so a day of nonstop draining still measures against the cauldron's
// normal fill rate. Days appear in the result in request order.
func (e *Engine) Analyze(frames *dataset.FrameIndex, tickets *dataset.TicketIndex, days []string) []DayReport {
	ids := frames.CauldronIDs()
	rows := make(map[string][]drainRow, len(ids))
	for _, id := range ids {
		rows[id] = drainRows(frames.Series(id))
	}

	reports := make([]DayReport, 0, len(days))
	for _, day := range days {
		reports = append(reports, e.auditDay(ids, rows, tickets, day))
	}
	return reports
}

// emptyDayReport is a report for a day the audit saw no data for. The
// list fields are empty, not nil, so the report serializes with [].
func emptyDayReport(day string) DayReport {
	return DayReport{
		Date:           day,
		FlaggedTickets: []FlaggedTicket{},
		UnloggedDrains: []DrainEvent{},
		Matches:        []Match{},
	}
}

func (e *Engine) auditDay(ids []string, rows map[string][]drainRow, tickets *dataset.TicketIndex, day string) DayReport {
	report := emptyDayReport(day)

	var events []DrainEvent
	sampled := false
	for _, id := range ids {
		dayRows := sliceDay(rows[id], day)
		if len(dayRows) > 0 {
			sampled = true
		}
		for _, row := range dayRows {
			report.TotalCalculated += row.drain
		}
		events = append(events, drainEvents(id, dayRows)...)
	}

	dayTickets := tickets.OnDay(day)
	for _, tk := range dayTickets {
		report.TotalTicketed += tk.Amount
	}
	report.HasData = sampled || len(dayTickets) > 0
	report.Discrepancy = report.TotalCalculated - report.TotalTicketed

	// Each ticket claims the first unconsumed event on its cauldron whose
	// total falls within tolerance of the ticketed amount. Claimed events
	// are gone; two tickets cannot ride one drain.
	remaining := events
	for _, tk := range dayTickets {
		matched := -1
		for i, ev := range remaining {
			if ev.CauldronID != tk.CauldronID {
				continue
			}
			if math.Abs(ev.Total-tk.Amount) <= tk.Amount*e.tolerance {
				matched = i
				break
			}
		}
		if matched < 0 {
			report.FlaggedTickets = append(report.FlaggedTickets, FlaggedTicket{
				TicketID:   tk.ID,
				CauldronID: tk.CauldronID,
				CourierID:  tk.CourierID,
				Amount:     tk.Amount,
				Date:       dataset.CanonicalTime(tk.Date),
			})
			continue
		}
		ev := remaining[matched]
		report.Matches = append(report.Matches, Match{
			TicketID:   tk.ID,
			CauldronID: tk.CauldronID,
			Amount:     tk.Amount,
			DrainStart: ev.Start,
			DrainTotal: ev.Total,
		})
		remaining = append(remaining[:matched], remaining[matched+1:]...)
	}
	report.UnloggedDrains = append(report.UnloggedDrains, remaining...)

	report.FlaggedCount = len(report.FlaggedTickets)
	report.UnloggedCount = len(report.UnloggedDrains)
	report.Flagged = report.HasData &&
		(math.Abs(report.Discrepancy) > e.threshold ||
			report.FlaggedCount > 0 ||
			report.UnloggedCount > 0)
	return report
}

// baselineFillRate is the mode of the positive sample-to-sample deltas.
// Ties break toward the smallest rate; a series that never rises fills
// at rate zero.
func baselineFillRate(series []dataset.SeriesPoint) float64 {
	counts := make(map[float64]int)
	for i := 1; i < len(series); i++ {
		if delta := series[i].Level - series[i-1].Level; delta > 0 {
			counts[delta]++
		}
	}
	best, bestCount := 0.0, 0
	for rate, count := range counts {
		if count > bestCount || (count == bestCount && rate < best) {
			best, bestCount = rate, count
		}
	}
	return best
}

// drainRows reconstructs the drained amount at every sample: whatever
// the level fell short of the baseline fill, floored at zero. The first
// sample has no delta and drains nothing.
func drainRows(series []dataset.SeriesPoint) []drainRow {
	fillRate := baselineFillRate(series)
	rows := make([]drainRow, len(series))
	for i, pt := range series {
		rows[i] = drainRow{at: pt}
		if i == 0 {
			continue
		}
		drain := fillRate - (pt.Level - series[i-1].Level)
		if drain > 0 {
			rows[i].drain = drain
		}
	}
	return rows
}

// sliceDay keeps the rows that fall on one calendar day. The drain
// amounts were computed over the whole series first, so the day's first
// row still carries the delta from the previous day's last sample.
func sliceDay(rows []drainRow, day string) []drainRow {
	out := rows[:0:0]
	for _, row := range rows {
		if row.at.Time.Format(dataset.DayLayout) == day {
			out = append(out, row)
		}
	}
	return out
}

// drainEvents groups consecutive draining rows into events. Consecutive
// means adjacent samples in the series; a missing minute between two
// draining samples does not split the event.
func drainEvents(cauldronID string, rows []drainRow) []DrainEvent {
	var events []DrainEvent
	open := false
	for _, row := range rows {
		if row.drain <= 0 {
			open = false
			continue
		}
		if !open {
			events = append(events, DrainEvent{
				CauldronID: cauldronID,
				Start:      dataset.CanonicalTime(row.at.Time),
			})
			open = true
		}
		ev := &events[len(events)-1]
		ev.End = dataset.CanonicalTime(row.at.Time)
		ev.Total += row.drain
	}
	return events
}
