// Package simulator generates a deterministic fake upstream: a market,
// cauldrons filling at steady rates, couriers draining them on schedule,
// transport tickets for most of those drains, and a travel network. The
// same seed always yields the same world, so demos and tests can assert
// against known discrepancies: a slice of drains goes unticketed and a
// few ghost tickets reference collections that never happened.
package simulator

import (
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/mbd888/potionwatch/internal/dataset"
	"github.com/mbd888/potionwatch/internal/upstream"
)

// Config controls world generation. The zero value generates a week of
// minute samples for eight cauldrons starting 2025-11-01.
type Config struct {
	Seed            int64
	CauldronCount   int
	CourierCount    int
	Days            int
	Start           time.Time
	IntervalMinutes int
}

func (cfg Config) withDefaults() Config {
	if cfg.CauldronCount <= 0 {
		cfg.CauldronCount = 8
	}
	if cfg.CourierCount <= 0 {
		cfg.CourierCount = 4
	}
	if cfg.Days <= 0 {
		cfg.Days = 7
	}
	if cfg.Start.IsZero() {
		cfg.Start = time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)
	}
	if cfg.IntervalMinutes <= 0 {
		cfg.IntervalMinutes = 1
	}
	return cfg
}

// Drain is a ground-truth collection event. Total counts outflow during
// the drain, including the brew still filling underneath.
type Drain struct {
	CauldronID string
	Start      time.Time
	End        time.Time
	Total      float64
	Ticketed   bool
	TicketID   string
}

// World is one generated upstream dataset family plus the ground truth
// behind it.
type World struct {
	Meta      upstream.Metadata
	Cauldrons []upstream.Cauldron
	Market    upstream.Market
	Couriers  []upstream.Courier
	Edges     []upstream.Edge
	Frames    []upstream.Frame
	Tickets   []upstream.Ticket

	// Drains is what actually happened, for tests that check the audit
	// against ground truth.
	Drains []Drain
}

var cauldronNames = []string{
	"Nightshade", "Foxglove", "Mugwort", "Hemlock", "Yarrow", "Wolfsbane",
	"Feverfew", "Vervain", "Moonwort", "Toadflax", "Henbane", "Sorrel",
}

var courierNames = []string{
	"Agatha", "Bram", "Cordelia", "Dorian", "Esme", "Fitch", "Greta", "Hollis",
}

// marketLat and marketLon center the map; cauldrons scatter around them.
const (
	marketLat = 40.0
	marketLon = -83.1
)

// cauldronSim is the per-cauldron state machine: fill at a constant
// whole-liter rate until the high mark, drain at a constant net drop
// until the low mark, repeat. Whole-liter rates keep level deltas exact
// in float64, which the audit's mode-based baseline depends on.
type cauldronSim struct {
	id       string
	fill     float64
	netDrop  float64
	high     float64
	low      float64
	level    float64
	draining bool
	current  *Drain
}

// Generate builds a world from the config. Identical configs yield
// identical worlds.
func Generate(cfg Config) *World {
	cfg = cfg.withDefaults()
	rng := rand.New(rand.NewSource(cfg.Seed))

	w := &World{
		Market: upstream.Market{
			ID:          "market",
			Name:        "Moonlit Market",
			Latitude:    marketLat,
			Longitude:   marketLon,
			Description: "Central potion market. Every courier run ends here.",
		},
	}

	totalMinutes := cfg.Days * 24 * 60
	w.Meta = upstream.Metadata{
		Start:           dataset.CanonicalTime(cfg.Start),
		End:             dataset.CanonicalTime(cfg.Start.Add(time.Duration(totalMinutes) * time.Minute)),
		IntervalMinutes: cfg.IntervalMinutes,
		Unit:            "liters",
	}

	sims := make([]cauldronSim, cfg.CauldronCount)
	for i := range sims {
		id := fmt.Sprintf("C%03d", i+1)
		name := fmt.Sprintf("Cauldron %03d", i+1)
		if i < len(cauldronNames) {
			name = cauldronNames[i] + " Cauldron"
		}
		maxVolume := float64(500 + 100*rng.Intn(5))
		w.Cauldrons = append(w.Cauldrons, upstream.Cauldron{
			ID:        id,
			Name:      name,
			MaxVolume: maxVolume,
			Latitude:  marketLat + (rng.Float64()-0.5)*0.5,
			Longitude: marketLon + (rng.Float64()-0.5)*0.5,
		})

		high := math.Floor(maxVolume * 0.85)
		low := math.Floor(maxVolume * 0.2)
		sims[i] = cauldronSim{
			id:      id,
			fill:    float64(1 + rng.Intn(4)),
			netDrop: float64(6 + rng.Intn(12)),
			high:    high,
			low:     low,
			level:   low + math.Floor(rng.Float64()*(high-low)*0.6),
		}
	}

	for i := 0; i < cfg.CourierCount; i++ {
		name := fmt.Sprintf("Courier %02d", i+1)
		if i < len(courierNames) {
			name = courierNames[i]
		}
		w.Couriers = append(w.Couriers, upstream.Courier{
			CourierID:           fmt.Sprintf("K%02d", i+1),
			Name:                name,
			MaxCarryingCapacity: float64(200 + 100*rng.Intn(4)),
		})
	}

	w.Edges = genEdges(rng, w.Cauldrons)
	genFrames(rng, cfg, totalMinutes, sims, w)
	genTickets(rng, w)
	return w
}

// genEdges links every cauldron to a random earlier node so the network
// stays connected, then sprinkles extra roads.
func genEdges(rng *rand.Rand, cauldrons []upstream.Cauldron) []upstream.Edge {
	type node struct {
		id       string
		lat, lon float64
	}
	nodes := []node{{"market", marketLat, marketLon}}
	for _, c := range cauldrons {
		nodes = append(nodes, node{c.ID, c.Latitude, c.Longitude})
	}

	travel := func(a, b node) float64 {
		dist := math.Hypot(a.lat-b.lat, a.lon-b.lon)
		return math.Round(dist*180) + float64(3+rng.Intn(5))
	}

	var edges []upstream.Edge
	for i := 1; i < len(nodes); i++ {
		prev := nodes[rng.Intn(i)]
		edges = append(edges, upstream.Edge{
			From:              prev.id,
			To:                nodes[i].id,
			TravelTimeMinutes: travel(prev, nodes[i]),
		})
	}
	for i := 0; i < len(cauldrons)/2; i++ {
		a := nodes[rng.Intn(len(nodes))]
		b := nodes[rng.Intn(len(nodes))]
		if a.id == b.id {
			continue
		}
		edges = append(edges, upstream.Edge{
			From:              a.id,
			To:                b.id,
			TravelTimeMinutes: travel(a, b),
		})
	}
	return edges
}

// genFrames runs the fill/drain state machines minute by minute,
// recording samples and completed drains on the world. Steady-fill
// readings occasionally go missing, the way real telemetry does; drain
// minutes are always sampled so reconstructed totals match tickets.
func genFrames(rng *rand.Rand, cfg Config, totalMinutes int, sims []cauldronSim, w *World) {
	for m := 0; m <= totalMinutes; m++ {
		ts := cfg.Start.Add(time.Duration(m) * time.Minute)
		frame := upstream.Frame{
			Timestamp:      dataset.CanonicalTime(ts),
			CauldronLevels: make(map[string]float64, len(sims)),
		}
		for i := range sims {
			s := &sims[i]
			if s.draining || rng.Float64() >= 0.004 {
				frame.CauldronLevels[s.id] = s.level
			}
		}
		w.Frames = append(w.Frames, frame)

		if m == totalMinutes {
			break
		}
		stepTS := cfg.Start.Add(time.Duration(m+1) * time.Minute)
		for i := range sims {
			s := &sims[i]
			if s.draining {
				if s.current == nil {
					s.current = &Drain{CauldronID: s.id, Start: stepTS}
				}
				s.level -= s.netDrop
				s.current.Total += s.fill + s.netDrop
				s.current.End = stepTS
				if s.level <= s.low {
					s.draining = false
					w.Drains = append(w.Drains, *s.current)
					s.current = nil
				}
			} else {
				s.level += s.fill
				if s.level >= s.high {
					s.draining = true
				}
			}
		}
	}

	// A drain still running at the end of the series counts too.
	for i := range sims {
		if sims[i].current != nil {
			w.Drains = append(w.Drains, *sims[i].current)
		}
	}
}

// genTickets writes a transport ticket for most drains, skips some so
// audits find unlogged drains, and adds a few ghost tickets no drain
// backs up.
func genTickets(rng *rand.Rand, w *World) {
	next := 1
	for i := range w.Drains {
		d := &w.Drains[i]
		if rng.Float64() < 0.08 {
			continue // courier forgot the paperwork
		}
		d.Ticketed = true
		d.TicketID = fmt.Sprintf("TT-%04d", next)
		amount := d.Total * (1 + (rng.Float64()*0.02 - 0.01))
		w.Tickets = append(w.Tickets, upstream.Ticket{
			TicketID:        d.TicketID,
			CauldronID:      d.CauldronID,
			AmountCollected: math.Round(amount*100) / 100,
			CourierID:       w.Couriers[rng.Intn(len(w.Couriers))].CourierID,
			Date:            dataset.CanonicalTime(d.Start),
		})
		next++
	}

	start, _ := dataset.ParseTimestamp(w.Meta.Start)
	end, _ := dataset.ParseTimestamp(w.Meta.End)
	span := int(end.Sub(start) / time.Minute)
	for i := 0; i < 2+rng.Intn(3); i++ {
		c := w.Cauldrons[rng.Intn(len(w.Cauldrons))]
		w.Tickets = append(w.Tickets, upstream.Ticket{
			TicketID:        fmt.Sprintf("TT-%04d", next),
			CauldronID:      c.ID,
			AmountCollected: float64(20 + rng.Intn(60)),
			CourierID:       w.Couriers[rng.Intn(len(w.Couriers))].CourierID,
			Date:            dataset.CanonicalTime(start.Add(time.Duration(rng.Intn(span)) * time.Minute)),
		})
		next++
	}
}
