package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agrisol/analytics-backend-go/internal/models"
	"github.com/agrisol/analytics-backend-go/internal/service"
	"github.com/agrisol/analytics-backend-go/pkg/response"
)

// ScanHandler handles HTTP requests for scan ingestion and history
type ScanHandler struct {
	scanService *service.ScanService
}

// NewScanHandler creates a new scan handler
func NewScanHandler(scanService *service.ScanService) *ScanHandler {
	return &ScanHandler{scanService: scanService}
}

// SaveScanHistory handles POST /api/location/scan-history
func (h *ScanHandler) SaveScanHistory(c *gin.Context) {
	var input models.ScanEventInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.BadRequest(c, "Invalid scan payload: "+err.Error())
		return
	}

	scan, err := h.scanService.Record(c.Request.Context(), &input)
	if err != nil {
		var validation *models.ValidationError
		if errors.As(err, &validation) {
			response.BadRequest(c, validation.Error())
			return
		}
		response.InternalError(c, "Failed to save scan history")
		return
	}

	response.Created(c, gin.H{
		"scan_id":      scan.ID,
		"location_key": scan.LocationKey,
		"occurred_at":  scan.OccurredAt,
	})
}

// GetUserScanHistory handles GET /api/location/user-scans/:user_id
func (h *ScanHandler) GetUserScanHistory(c *gin.Context) {
	userID := c.Param("user_id")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		response.BadRequest(c, "Invalid limit parameter")
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil {
		response.BadRequest(c, "Invalid offset parameter")
		return
	}

	scans, err := h.scanService.UserScans(userID, limit, offset)
	if err != nil {
		var validation *models.ValidationError
		if errors.As(err, &validation) {
			response.BadRequest(c, validation.Error())
			return
		}
		response.InternalError(c, "Failed to get user scan history")
		return
	}

	response.Success(c, gin.H{
		"user_id": userID,
		"data":    scans,
		"count":   len(scans),
	})
}
