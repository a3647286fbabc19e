package analysis

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/potionwatch/internal/validation"
)

// maxDaysPerQuery bounds one query_days request.
const maxDaysPerQuery = 62

// Handler provides HTTP endpoints for the audit service.
type Handler struct {
	service *Service
}

// NewHandler creates a new audit handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterCompatRoutes sets up the root-level query surface. Delegating
// deployments point ANALYSIS_URL at another host serving these same
// routes, so request and response shapes here are the delegation
// contract.
func (h *Handler) RegisterCompatRoutes(r gin.IRoutes) {
	r.POST("/query_days", h.QueryDays)
}

// RegisterRoutes sets up versioned audit routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/audit/flagged", h.ListFlagged)
	r.GET("/audit/:date", h.GetDay)
}

// QueryDaysRequest is the body of POST /query_days.
type QueryDaysRequest struct {
	Days []string `json:"days"`
}

// QueryDays handles POST /query_days. The response is a bare array of
// day reports, in request order.
func (h *Handler) QueryDays(c *gin.Context) {
	var req QueryDaysRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body: " + err.Error(),
		})
		return
	}

	if len(req.Days) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "days must list at least one day",
		})
		return
	}
	if len(req.Days) > maxDaysPerQuery {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "too many days in one request",
		})
		return
	}

	var errs validation.ValidationErrors
	for _, day := range req.Days {
		errs = append(errs, validation.Validate(
			validation.Required("days", day),
			validation.ValidDay("days", day),
		)...)
	}
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	reports, err := h.service.QueryDays(c.Request.Context(), req.Days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, reports)
}

// GetDay handles GET /v1/audit/:date
func (h *Handler) GetDay(c *gin.Context) {
	date := c.Param("date")

	report, err := h.service.Day(c.Request.Context(), date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report})
}

// ListFlagged handles GET /v1/audit/flagged
func (h *Handler) ListFlagged(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := h.service.FlaggedReports(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}

	reports := make([]DayReport, 0, len(records))
	for _, rec := range records {
		reports = append(reports, rec.Report)
	}

	c.JSON(http.StatusOK, gin.H{
		"reports": reports,
		"count":   len(reports),
	})
}
