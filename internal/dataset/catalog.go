package dataset

import (
	"sort"
	"sync"
	"time"

	"github.com/mbd888/potionwatch/internal/upstream"
)

// Catalog is the shared, mutable registry of everything loaded from the
// upstream. Readers get consistent copies; the Loader swaps whole datasets
// in under the write lock. The revision counter bumps on every successful
// swap so consumers can detect staleness without deep comparison.
type Catalog struct {
	mu       sync.RWMutex
	revision uint64

	meta      *Range
	frames    *FrameIndex
	tickets   *TicketIndex
	cauldrons []upstream.Cauldron
	byID      map[string]upstream.Cauldron
	market    *upstream.Market
	couriers  []upstream.Courier
	edges     []upstream.Edge

	states map[string]*LoadState

	// extremes and geo are recomputed only when the revision moves.
	extremes    *Extremes
	extremesRev uint64
	geo         *GeoBounds
	geoRev      uint64
}

// Extremes holds the observed level bounds per cauldron across the whole
// series, for chart scaling.
type Extremes struct {
	MinLevel  map[string]float64 `json:"min_level"`
	MaxLevel  map[string]float64 `json:"max_level"`
	GlobalMin float64            `json:"global_min"`
	GlobalMax float64            `json:"global_max"`
}

// NewCatalog creates an empty catalog with all datasets unloaded.
func NewCatalog() *Catalog {
	states := make(map[string]*LoadState, len(Names))
	for _, name := range Names {
		states[name] = &LoadState{Name: name}
	}
	return &Catalog{
		byID:   make(map[string]upstream.Cauldron),
		states: states,
	}
}

// Revision returns the current catalog revision. Any successful dataset
// swap bumps it.
func (c *Catalog) Revision() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.revision
}

// Ready reports whether the catalog can serve playback: the time range
// and the level series must both be loaded.
func (c *Catalog) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.meta != nil && c.frames != nil && c.frames.Len() > 0
}

// SetMetadata parses and stores the series time range.
func (c *Catalog) SetMetadata(md upstream.Metadata) (*Range, error) {
	r, err := NewRange(md.Start, md.End, md.IntervalMinutes, md.Unit)
	if err != nil {
		c.MarkFailed(NameMetadata, err)
		return nil, err
	}

	c.mu.Lock()
	c.meta = r
	c.markLoaded(NameMetadata, 1)
	c.mu.Unlock()
	return r, nil
}

// SetFrames indexes and stores the level series. Returns the number of
// dropped (unparseable) frames.
func (c *Catalog) SetFrames(frames []upstream.Frame) int {
	ix, dropped := NewFrameIndex(frames)

	c.mu.Lock()
	c.frames = ix
	c.markLoaded(NameFrames, ix.Len())
	c.mu.Unlock()
	return dropped
}

// SetTickets indexes and stores the ticket log. Returns per-ticket parse
// failures; valid tickets are kept regardless.
func (c *Catalog) SetTickets(tickets []upstream.Ticket) []error {
	ix, errs := NewTicketIndex(tickets)

	c.mu.Lock()
	c.tickets = ix
	c.markLoaded(NameTickets, ix.Len())
	c.mu.Unlock()
	return errs
}

// SetCauldrons stores the cauldron directory sorted by ID.
func (c *Catalog) SetCauldrons(cauldrons []upstream.Cauldron) {
	sorted := make([]upstream.Cauldron, len(cauldrons))
	copy(sorted, cauldrons)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	byID := make(map[string]upstream.Cauldron, len(sorted))
	for _, cl := range sorted {
		byID[cl.ID] = cl
	}

	c.mu.Lock()
	c.cauldrons = sorted
	c.byID = byID
	c.markLoaded(NameCauldrons, len(sorted))
	c.mu.Unlock()
}

// SetMarket stores the central market site.
func (c *Catalog) SetMarket(m upstream.Market) {
	c.mu.Lock()
	c.market = &m
	c.markLoaded(NameMarket, 1)
	c.mu.Unlock()
}

// SetCouriers stores the courier directory.
func (c *Catalog) SetCouriers(couriers []upstream.Courier) {
	sorted := make([]upstream.Courier, len(couriers))
	copy(sorted, couriers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].CourierID < sorted[j].CourierID })

	c.mu.Lock()
	c.couriers = sorted
	c.markLoaded(NameCouriers, len(sorted))
	c.mu.Unlock()
}

// SetNetwork stores the travel network edges.
func (c *Catalog) SetNetwork(edges []upstream.Edge) {
	copied := make([]upstream.Edge, len(edges))
	copy(copied, edges)

	c.mu.Lock()
	c.edges = copied
	c.markLoaded(NameNetwork, len(copied))
	c.mu.Unlock()
}

// MarkFailed records a load failure for a dataset. Previously loaded data
// stays served; only the load state changes.
func (c *Catalog) MarkFailed(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[name]
	if !ok {
		return
	}
	st.LastError = err.Error()
}

// markLoaded records a successful load and bumps the revision.
// Caller must hold c.mu.
func (c *Catalog) markLoaded(name string, count int) {
	st, ok := c.states[name]
	if !ok {
		return
	}
	st.Loaded = true
	st.Count = count
	st.LastLoaded = time.Now().UTC()
	st.LastError = ""
	c.revision++
}

// Meta returns the series time range, or nil before metadata loads.
func (c *Catalog) Meta() *Range {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.meta == nil {
		return nil
	}
	r := *c.meta
	return &r
}

// Frames returns the current frame index, or nil before frames load.
// The index is immutable; a refresh swaps in a new one.
func (c *Catalog) Frames() *FrameIndex {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frames
}

// Tickets returns the current ticket index, or nil before tickets load.
func (c *Catalog) Tickets() *TicketIndex {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tickets
}

// Cauldrons returns the cauldron directory sorted by ID.
func (c *Catalog) Cauldrons() []upstream.Cauldron {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]upstream.Cauldron, len(c.cauldrons))
	copy(out, c.cauldrons)
	return out
}

// Cauldron returns one cauldron by ID.
func (c *Catalog) Cauldron(id string) (upstream.Cauldron, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cl, ok := c.byID[id]
	return cl, ok
}

// Market returns the central market site, if loaded.
func (c *Catalog) Market() (upstream.Market, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.market == nil {
		return upstream.Market{}, false
	}
	return *c.market, true
}

// Couriers returns the courier directory sorted by ID.
func (c *Catalog) Couriers() []upstream.Courier {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]upstream.Courier, len(c.couriers))
	copy(out, c.couriers)
	return out
}

// Edges returns the travel network edges.
func (c *Catalog) Edges() []upstream.Edge {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]upstream.Edge, len(c.edges))
	copy(out, c.edges)
	return out
}

// States returns the load state of every dataset in display order.
func (c *Catalog) States() []LoadState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]LoadState, 0, len(Names))
	for _, name := range Names {
		out = append(out, *c.states[name])
	}
	return out
}

// Extremes returns the level bounds across the whole series, recomputing
// only when the catalog revision has moved since the last call.
func (c *Catalog) Extremes() *Extremes {
	c.mu.RLock()
	if c.extremes != nil && c.extremesRev == c.revision {
		ex := c.extremes
		c.mu.RUnlock()
		return ex
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.extremes != nil && c.extremesRev == c.revision {
		return c.extremes
	}
	c.extremes = computeExtremes(c.frames)
	c.extremesRev = c.revision
	return c.extremes
}

// GeoBounds is the bounding box over every mapped facility, cauldrons
// and market together. Valid is false until at least one position is
// known.
type GeoBounds struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
	Valid  bool    `json:"valid"`
}

// Project maps a coordinate into the unit viewport, x eastward and y
// northward in [0, 1]. A degenerate axis collapses to the middle so a
// lone facility still lands on screen.
func (b GeoBounds) Project(lat, lon float64) (x, y float64) {
	if !b.Valid {
		return 0.5, 0.5
	}
	x, y = 0.5, 0.5
	if span := b.MaxLon - b.MinLon; span > 0 {
		x = (lon - b.MinLon) / span
	}
	if span := b.MaxLat - b.MinLat; span > 0 {
		y = (lat - b.MinLat) / span
	}
	return x, y
}

// GeoBounds returns the facility bounding box, recomputing only when the
// catalog revision has moved since the last call.
func (c *Catalog) GeoBounds() GeoBounds {
	c.mu.RLock()
	if c.geo != nil && c.geoRev == c.revision {
		b := *c.geo
		c.mu.RUnlock()
		return b
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.geo != nil && c.geoRev == c.revision {
		return *c.geo
	}
	b := computeGeoBounds(c.cauldrons, c.market)
	c.geo = &b
	c.geoRev = c.revision
	return b
}

func computeGeoBounds(cauldrons []upstream.Cauldron, market *upstream.Market) GeoBounds {
	var b GeoBounds
	add := func(lat, lon float64) {
		if !b.Valid {
			b = GeoBounds{MinLat: lat, MaxLat: lat, MinLon: lon, MaxLon: lon, Valid: true}
			return
		}
		if lat < b.MinLat {
			b.MinLat = lat
		}
		if lat > b.MaxLat {
			b.MaxLat = lat
		}
		if lon < b.MinLon {
			b.MinLon = lon
		}
		if lon > b.MaxLon {
			b.MaxLon = lon
		}
	}
	for _, cd := range cauldrons {
		add(cd.Latitude, cd.Longitude)
	}
	if market != nil {
		add(market.Latitude, market.Longitude)
	}
	return b
}

func computeExtremes(ix *FrameIndex) *Extremes {
	ex := &Extremes{
		MinLevel: make(map[string]float64),
		MaxLevel: make(map[string]float64),
	}
	if ix == nil {
		return ex
	}

	first := true
	for _, lf := range ix.ordered {
		for id, level := range lf.Levels {
			if cur, ok := ex.MinLevel[id]; !ok || level < cur {
				ex.MinLevel[id] = level
			}
			if cur, ok := ex.MaxLevel[id]; !ok || level > cur {
				ex.MaxLevel[id] = level
			}
			if first || level < ex.GlobalMin {
				ex.GlobalMin = level
			}
			if first || level > ex.GlobalMax {
				ex.GlobalMax = level
			}
			first = false
		}
	}
	return ex
}
