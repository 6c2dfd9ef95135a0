package handler

import (
	"errors"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agrisol/analytics-backend-go/internal/models"
	"github.com/agrisol/analytics-backend-go/internal/service"
	"github.com/agrisol/analytics-backend-go/pkg/response"
)

// AnalyticsHandler handles HTTP requests for the read-only query layer
type AnalyticsHandler struct {
	analyticsService *service.AnalyticsService
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(analyticsService *service.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analyticsService: analyticsService}
}

// GetLeaderboard handles GET /api/location/leaderboard
func (h *AnalyticsHandler) GetLeaderboard(c *gin.Context) {
	var filter models.LeaderboardFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		response.BadRequest(c, "Invalid query parameters")
		return
	}

	entries, err := h.analyticsService.Leaderboard(filter)
	if err != nil {
		var validation *models.ValidationError
		if errors.As(err, &validation) {
			response.BadRequest(c, validation.Error())
			return
		}
		response.InternalError(c, "Failed to get leaderboard")
		return
	}

	metric := filter.Metric
	if metric == "" {
		metric = models.MetricTotalScans
	}
	response.Success(c, gin.H{
		"data":      entries,
		"count":     len(entries),
		"sorted_by": metric,
	})
}

// GetSummary handles GET /api/location/summary
func (h *AnalyticsHandler) GetSummary(c *gin.Context) {
	summary, err := h.analyticsService.Summary()
	if err != nil {
		response.InternalError(c, "Failed to get summary")
		return
	}
	response.Success(c, summary)
}

// GetLocationAnalytics handles GET /api/location/analytics/:location_key
func (h *AnalyticsHandler) GetLocationAnalytics(c *gin.Context) {
	key := c.Param("location_key")
	if decoded, err := url.PathUnescape(key); err == nil {
		key = decoded
	}

	detail, err := h.analyticsService.Detail(key)
	if err != nil {
		response.InternalError(c, "Failed to get location analytics")
		return
	}
	if detail == nil {
		response.NotFound(c, "Location not found")
		return
	}

	response.Success(c, detail)
}

// GetDiseaseTracking handles GET /api/location/disease-tracking
func (h *AnalyticsHandler) GetDiseaseTracking(c *gin.Context) {
	locationKey := c.Query("location")
	cropType := c.Query("crop_type")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		response.BadRequest(c, "Invalid limit parameter")
		return
	}

	rows, err := h.analyticsService.DiseaseTracking(locationKey, cropType, limit)
	if err != nil {
		response.InternalError(c, "Failed to get disease tracking")
		return
	}

	response.Success(c, gin.H{
		"data":  rows,
		"count": len(rows),
		"filters": gin.H{
			"location":  locationKey,
			"crop_type": cropType,
		},
	})
}
