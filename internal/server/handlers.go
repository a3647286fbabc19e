package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/potionwatch/internal/analysis"
	"github.com/mbd888/potionwatch/internal/clock"
	"github.com/mbd888/potionwatch/internal/dataset"
	"github.com/mbd888/potionwatch/internal/metrics"
	"github.com/mbd888/potionwatch/internal/network"
	"github.com/mbd888/potionwatch/internal/pagination"
	"github.com/mbd888/potionwatch/internal/scene"
	"github.com/mbd888/potionwatch/internal/validation"
)

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// PAGES - what people browse
	s.router.GET("/", dashboardHandler)
	s.router.GET("/audit", auditPageHandler)

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// Root-level audit endpoint, same request/response shape the service
	// consumes when delegating to ANALYSIS_URL. Keeping it off /v1 lets a
	// fleet of these services point at each other.
	auditHandler := analysis.NewHandler(s.audit)
	auditHandler.RegisterCompatRoutes(s.router)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :date URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.DateParamMiddleware())

	// Clock control
	v1.GET("/clock", s.getClock)
	v1.POST("/clock/seek", s.seekClock)
	v1.POST("/clock/play", s.playClock)
	v1.POST("/clock/pause", s.pauseClock)
	v1.POST("/clock/speed", s.setClockSpeed)
	v1.POST("/clock/step", s.stepClock)

	// Timeline data
	v1.GET("/scene", s.getScene)
	v1.GET("/cauldrons", s.listCauldrons)
	v1.GET("/cauldrons/:id", s.getCauldron)
	v1.GET("/market", s.getMarket)
	v1.GET("/couriers", s.listCouriers)
	v1.GET("/levels/at", s.getLevelsAt)
	v1.GET("/tickets", s.listTickets)
	v1.GET("/tickets/:id", s.getTicket)
	v1.GET("/network/travel-times", s.getTravelTimes)
	v1.GET("/datasets", s.getDatasets)

	// Audit reports
	auditHandler.RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Clock handlers
// -----------------------------------------------------------------------------

func (s *Server) getClock(c *gin.Context) {
	c.JSON(http.StatusOK, s.clk.Snapshot())
}

// SeekRequest moves the clock. Exactly one of minute or ts is used;
// an absolute timestamp wins when both are present.
type SeekRequest struct {
	Minute *int   `json:"minute"`
	TS     string `json:"ts"`
}

func (s *Server) seekClock(c *gin.Context) {
	var req SeekRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	var st clock.State
	switch {
	case req.TS != "":
		t, err := dataset.ParseTimestamp(req.TS)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_timestamp",
				"message": "ts must be an ISO timestamp",
			})
			return
		}
		st, err = s.clk.SeekTime(t)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "no_range",
				"message": "cannot seek by timestamp before the dataset range loads",
			})
			return
		}
	case req.Minute != nil:
		st = s.clk.Seek(*req.Minute)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "provide minute or ts",
		})
		return
	}

	metrics.ClockSeeksTotal.Inc()
	c.JSON(http.StatusOK, st)
}

func (s *Server) playClock(c *gin.Context) {
	c.JSON(http.StatusOK, s.clk.SetPaused(false))
}

func (s *Server) pauseClock(c *gin.Context) {
	c.JSON(http.StatusOK, s.clk.SetPaused(true))
}

// SpeedRequest sets minutes advanced per playback tick.
type SpeedRequest struct {
	Multiplier int `json:"multiplier"`
}

func (s *Server) setClockSpeed(c *gin.Context) {
	var req SpeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	st, err := s.clk.SetSpeed(req.Multiplier)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_speed",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, st)
}

// StepRequest nudges the clock by a relative number of minutes.
// An empty body steps one minute forward.
type StepRequest struct {
	Minutes *int `json:"minutes"`
}

func (s *Server) stepClock(c *gin.Context) {
	req := StepRequest{}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "Invalid request body",
			})
			return
		}
	}
	delta := 1
	if req.Minutes != nil {
		delta = *req.Minutes
	}
	c.JSON(http.StatusOK, s.clk.Step(delta))
}

// -----------------------------------------------------------------------------
// Data handlers
// -----------------------------------------------------------------------------

func (s *Server) buildScene(st clock.State) scene.Scene {
	return scene.Build(st, s.catalog, s.audit)
}

func (s *Server) getScene(c *gin.Context) {
	c.JSON(http.StatusOK, s.buildScene(s.clk.Snapshot()))
}

func (s *Server) listCauldrons(c *gin.Context) {
	cauldrons := s.catalog.Cauldrons()
	c.JSON(http.StatusOK, gin.H{
		"cauldrons": cauldrons,
		"count":     len(cauldrons),
	})
}

func (s *Server) getCauldron(c *gin.Context) {
	id := c.Param("id")
	if !validation.IsValidID(id) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "cauldron id has an invalid format",
		})
		return
	}

	cd, ok := s.catalog.Cauldron(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "no cauldron with this id",
		})
		return
	}

	resp := gin.H{"cauldron": cd}

	// Current level at the clock instant; absent when the instant has no
	// sample for this cauldron.
	st := s.clk.Snapshot()
	if st.HasRange {
		resp["timestamp"] = st.Now
		if frame := s.catalog.Frames().AtKey(st.Now); frame != nil {
			if level, ok := frame.Levels[id]; ok {
				resp["level"] = level
			}
		}
	}

	if ex := s.catalog.Extremes(); ex != nil {
		if min, ok := ex.MinLevel[id]; ok {
			resp["min_level"] = min
			resp["max_level"] = ex.MaxLevel[id]
		}
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) getMarket(c *gin.Context) {
	m, ok := s.catalog.Market()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "market directory not loaded",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"market": m})
}

func (s *Server) listCouriers(c *gin.Context) {
	couriers := s.catalog.Couriers()
	c.JSON(http.StatusOK, gin.H{
		"couriers": couriers,
		"count":    len(couriers),
	})
}

// getLevelsAt looks up the level frame at an exact timestamp. A miss is
// a normal answer, not an error: found=false and no levels key.
func (s *Server) getLevelsAt(c *gin.Context) {
	ts := c.Query("ts")
	if ts == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_ts",
			"message": "ts query parameter is required",
		})
		return
	}
	t, err := dataset.ParseTimestamp(ts)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_timestamp",
			"message": "ts must be an ISO timestamp",
		})
		return
	}

	key := dataset.CanonicalTime(t)
	frame := s.catalog.Frames().AtKey(key)
	if frame == nil {
		c.JSON(http.StatusOK, gin.H{
			"timestamp": key,
			"found":     false,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"timestamp": key,
		"found":     true,
		"levels":    frame.Levels,
	})
}

const (
	defaultTicketsLimit = 50
	maxTicketsLimit     = 500
)

// TicketSummary is one ticket row in the listing.
type TicketSummary struct {
	ID         string  `json:"ticket_id"`
	CauldronID string  `json:"cauldron_id"`
	CourierID  string  `json:"courier_id"`
	Amount     float64 `json:"amount_collected"`
	Date       string  `json:"date"`
}

// listTickets returns tickets in (date, id) order with cursor
// pagination. visible=true keeps only tickets dated at or before the
// clock instant, so the listing matches what the timeline shows.
func (s *Server) listTickets(c *gin.Context) {
	limit := defaultTicketsLimit
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxTicketsLimit {
		limit = maxTicketsLimit
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "cursor is malformed",
		})
		return
	}

	var records []dataset.TicketRecord
	if c.Query("visible") == "true" {
		if now, ok := s.clk.Now(); ok {
			records = s.catalog.Tickets().VisibleAt(now)
		}
	} else {
		records = s.catalog.Tickets().All()
	}

	// The index is ordered by (date, id); resume strictly after the cursor.
	if cursor != nil {
		start := 0
		for i, r := range records {
			if r.Date.After(cursor.Date) ||
				(r.Date.Equal(cursor.Date) && r.ID > cursor.TicketID) {
				break
			}
			start = i + 1
		}
		records = records[start:]
	}
	if len(records) > limit+1 {
		records = records[:limit+1]
	}

	page, next, hasMore := pagination.ComputePage(records, limit,
		func(r dataset.TicketRecord) (time.Time, string) {
			return r.Date, r.ID
		})

	tickets := make([]TicketSummary, 0, len(page))
	for _, r := range page {
		tickets = append(tickets, TicketSummary{
			ID:         r.ID,
			CauldronID: r.CauldronID,
			CourierID:  r.CourierID,
			Amount:     r.Amount,
			Date:       dataset.CanonicalTime(r.Date),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"tickets":     tickets,
		"count":       len(tickets),
		"next_cursor": next,
		"has_more":    hasMore,
	})
}

// getTicket returns one ticket by ID, with the audit annotation for its
// day when a report exists.
func (s *Server) getTicket(c *gin.Context) {
	id := c.Param("id")
	if !validation.IsValidID(id) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_id",
			"message": "ticket id has an invalid format",
		})
		return
	}

	r, ok := s.catalog.Tickets().ByID(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "no ticket with this id",
		})
		return
	}

	resp := gin.H{
		"ticket": TicketSummary{
			ID:         r.ID,
			CauldronID: r.CauldronID,
			CourierID:  r.CourierID,
			Amount:     r.Amount,
			Date:       dataset.CanonicalTime(r.Date),
		},
		"day": r.Day,
	}
	if ann, ok := s.audit.AnnotateDay(r.Day)[r.ID]; ok {
		resp["flagged"] = ann.Flagged
		if ann.DrainStart != "" {
			resp["drain_start"] = ann.DrainStart
		}
	}

	c.JSON(http.StatusOK, resp)
}

// travelGraph rebuilds the network graph only when the catalog revision
// has moved since the last call.
func (s *Server) travelGraph() *network.Graph {
	rev := s.catalog.Revision()

	s.graphMu.Lock()
	defer s.graphMu.Unlock()
	if s.graph != nil && s.graphRev == rev {
		return s.graph
	}

	market := ""
	if m, ok := s.catalog.Market(); ok {
		market = m.ID
	}
	cauldrons := s.catalog.Cauldrons()
	ids := make([]string, 0, len(cauldrons))
	for _, cd := range cauldrons {
		ids = append(ids, cd.ID)
	}

	s.graph = network.New(market, ids, s.catalog.Edges())
	s.graphRev = rev
	return s.graph
}

func (s *Server) getTravelTimes(c *gin.Context) {
	c.JSON(http.StatusOK, s.travelGraph().TravelTimes())
}

func (s *Server) getDatasets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"datasets": s.catalog.States(),
		"revision": s.catalog.Revision(),
	})
}
