package simulator

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/potionwatch/internal/dataset"
	"github.com/mbd888/potionwatch/internal/upstream"
)

// Server serves a generated world over the upstream API surface, so the
// dashboard can point UPSTREAM_BASE_URL at it and work unchanged.
type Server struct {
	world  *World
	logger *slog.Logger
}

// NewServer creates a simulator server for the given world.
func NewServer(world *World, logger *slog.Logger) *Server {
	if world == nil {
		panic("simulator: nil world")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{world: world, logger: logger}
}

// Router builds the gin engine with the upstream routes.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/Data/metadata", s.GetMetadata)
	api.GET("/Data", s.GetFrames)
	api.GET("/Information/cauldrons", s.GetCauldrons)
	api.GET("/Information/market", s.GetMarket)
	api.GET("/Information/couriers", s.GetCouriers)
	api.GET("/Information/network", s.GetNetwork)
	api.GET("/Tickets", s.GetTickets)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "frames": len(s.world.Frames)})
	})
	return r
}

// GetMetadata handles GET /api/Data/metadata
func (s *Server) GetMetadata(c *gin.Context) {
	c.JSON(http.StatusOK, s.world.Meta)
}

// GetFrames handles GET /api/Data. Optional start_date and end_date
// query params are epoch seconds bounding the returned samples.
func (s *Server) GetFrames(c *gin.Context) {
	frames := s.world.Frames

	startQ, endQ := c.Query("start_date"), c.Query("end_date")
	if startQ != "" || endQ != "" {
		start := int64(0)
		end := int64(1<<63 - 1)
		if v, err := strconv.ParseInt(startQ, 10, 64); err == nil {
			start = v
		}
		if v, err := strconv.ParseInt(endQ, 10, 64); err == nil {
			end = v
		}
		filtered := make([]upstream.Frame, 0, len(frames))
		for _, f := range frames {
			t, err := dataset.ParseTimestamp(f.Timestamp)
			if err != nil {
				continue
			}
			if epoch := t.Unix(); epoch >= start && epoch <= end {
				filtered = append(filtered, f)
			}
		}
		frames = filtered
	}

	c.JSON(http.StatusOK, frames)
}

// GetCauldrons handles GET /api/Information/cauldrons
func (s *Server) GetCauldrons(c *gin.Context) {
	c.JSON(http.StatusOK, s.world.Cauldrons)
}

// GetMarket handles GET /api/Information/market
func (s *Server) GetMarket(c *gin.Context) {
	c.JSON(http.StatusOK, s.world.Market)
}

// GetCouriers handles GET /api/Information/couriers
func (s *Server) GetCouriers(c *gin.Context) {
	c.JSON(http.StatusOK, s.world.Couriers)
}

// GetNetwork handles GET /api/Information/network
func (s *Server) GetNetwork(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"edges": s.world.Edges})
}

// GetTickets handles GET /api/Tickets
func (s *Server) GetTickets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"metadata":          gin.H{"count": len(s.world.Tickets)},
		"transport_tickets": s.world.Tickets,
	})
}
