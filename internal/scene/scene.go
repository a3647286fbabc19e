// Package scene joins the clock position with the loaded datasets into
// the render model the dashboard and the websocket feed share. Build is
// a pure function of its inputs; it never triggers loads or audits.
package scene

import (
	"math"
	"time"

	"github.com/mbd888/potionwatch/internal/clock"
	"github.com/mbd888/potionwatch/internal/dataset"
)

// TicketAnnotation carries audit findings for one ticket.
type TicketAnnotation struct {
	Flagged    bool
	DrainStart string
}

// TicketAnnotator supplies annotations for all tickets of one day, keyed
// by ticket ID. Implementations must answer from already-computed
// reports; Build runs on every broadcast and must not block on an audit.
type TicketAnnotator interface {
	AnnotateDay(day string) map[string]TicketAnnotation
}

// Scene is one rendered instant of the timeline.
type Scene struct {
	Timestamp string            `json:"timestamp,omitempty"`
	Clock     clock.State       `json:"clock"`
	Bounds    dataset.GeoBounds `json:"bounds"`
	Cauldrons []CauldronView    `json:"cauldrons"`
	Market    *MarketView       `json:"market,omitempty"`
	Tickets   []TicketView      `json:"tickets"`
}

// CauldronView is one cauldron at the current instant. Level and
// PercentFull are nil when the instant has no reading for it; absence
// renders as "no reading", never as zero.
type CauldronView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	MaxVolume   float64  `json:"max_volume"`
	X           float64  `json:"x"`
	Y           float64  `json:"y"`
	Level       *float64 `json:"level,omitempty"`
	PercentFull *int     `json:"percent_full,omitempty"`
}

// MarketView is the depot marker.
type MarketView struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// TicketView is one visible transport ticket, annotated with whatever
// joins resolved. Courier stays blank for an unknown courier ID and the
// audit fields stay blank until a report for the day exists.
type TicketView struct {
	ID         string  `json:"ticket_id"`
	CauldronID string  `json:"cauldron_id"`
	CourierID  string  `json:"courier_id"`
	Courier    string  `json:"courier,omitempty"`
	Amount     float64 `json:"amount_collected"`
	Date       string  `json:"date"`
	Flagged    bool    `json:"flagged,omitempty"`
	DrainStart string  `json:"drain_start,omitempty"`
}

// Build renders the scene for a clock snapshot. A catalog that is still
// loading yields a scene with whatever has arrived; an annotator may be
// nil before the audit service is wired.
func Build(st clock.State, cat *dataset.Catalog, ann TicketAnnotator) Scene {
	sc := Scene{
		Clock:     st,
		Bounds:    cat.GeoBounds(),
		Cauldrons: []CauldronView{},
		Tickets:   []TicketView{},
	}
	if st.HasRange {
		sc.Timestamp = st.Now
	}

	frame := cat.Frames().AtKey(st.Now)

	for _, cd := range cat.Cauldrons() {
		x, y := sc.Bounds.Project(cd.Latitude, cd.Longitude)
		view := CauldronView{
			ID:        cd.ID,
			Name:      cd.Name,
			MaxVolume: cd.MaxVolume,
			X:         x,
			Y:         y,
		}
		if frame != nil {
			if level, ok := frame.Levels[cd.ID]; ok {
				view.Level = &level
				if pct, ok := percentFull(level, cd.MaxVolume); ok {
					view.PercentFull = &pct
				}
			}
		}
		sc.Cauldrons = append(sc.Cauldrons, view)
	}

	if m, ok := cat.Market(); ok {
		x, y := sc.Bounds.Project(m.Latitude, m.Longitude)
		sc.Market = &MarketView{ID: m.ID, Name: m.Name, X: x, Y: y}
	}

	if st.HasRange {
		now, err := dataset.ParseTimestamp(st.Now)
		if err == nil {
			sc.Tickets = buildTickets(cat, ann, now)
		}
	}
	return sc
}

func buildTickets(cat *dataset.Catalog, ann TicketAnnotator, now time.Time) []TicketView {
	courierNames := make(map[string]string)
	for _, k := range cat.Couriers() {
		courierNames[k.CourierID] = k.Name
	}

	// Each ticket joins against its own day's report; days without a
	// computed report annotate as blank. One lookup per distinct day.
	byDay := make(map[string]map[string]TicketAnnotation)
	annotationsFor := func(day string) map[string]TicketAnnotation {
		if ann == nil {
			return nil
		}
		a, ok := byDay[day]
		if !ok {
			a = ann.AnnotateDay(day)
			byDay[day] = a
		}
		return a
	}

	visible := cat.Tickets().VisibleAt(now)
	views := make([]TicketView, 0, len(visible))
	for _, tk := range visible {
		view := TicketView{
			ID:         tk.ID,
			CauldronID: tk.CauldronID,
			CourierID:  tk.CourierID,
			Courier:    courierNames[tk.CourierID],
			Amount:     tk.Amount,
			Date:       dataset.CanonicalTime(tk.Date),
		}
		if a, ok := annotationsFor(tk.Day)[tk.ID]; ok {
			view.Flagged = a.Flagged
			view.DrainStart = a.DrainStart
		}
		views = append(views, view)
	}
	return views
}

// percentFull rounds up to the next whole percent and clamps into
// [0, 100]. It refuses to derive anything from garbage inputs.
func percentFull(level, maxVolume float64) (int, bool) {
	if maxVolume <= 0 || math.IsNaN(level) || math.IsInf(level, 0) {
		return 0, false
	}
	pct := int(math.Ceil(level / maxVolume * 100))
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, true
}
