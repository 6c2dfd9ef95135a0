package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/agrisol/analytics-backend-go/internal/handler"
	"github.com/agrisol/analytics-backend-go/internal/middleware"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	Scan      *handler.ScanHandler
	Analytics *handler.AnalyticsHandler
	Admin     *handler.AdminHandler
}

// SetupRouter builds the gin engine with middleware and all routes.
func SetupRouter(h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.RateLimit(300, time.Minute))

	// CORS
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"message": "AgriSol analytics API is running",
		})
	})

	location := r.Group("/api/location")
	{
		location.POST("/scan-history", h.Scan.SaveScanHistory)
		location.GET("/user-scans/:user_id", h.Scan.GetUserScanHistory)
		location.GET("/leaderboard", h.Analytics.GetLeaderboard)
		location.GET("/summary", h.Analytics.GetSummary)
		location.GET("/analytics/:location_key", h.Analytics.GetLocationAnalytics)
		location.GET("/disease-tracking", h.Analytics.GetDiseaseTracking)
	}

	admin := r.Group("/api/admin")
	{
		admin.POST("/reconcile", h.Admin.TriggerReconciliation)
	}

	return r
}
