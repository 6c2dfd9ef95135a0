package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/agrisol/analytics-backend-go/internal/service"
	"github.com/agrisol/analytics-backend-go/pkg/response"
)

// AdminHandler handles operator endpoints
type AdminHandler struct {
	reconciliation *service.ReconciliationService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(reconciliation *service.ReconciliationService) *AdminHandler {
	return &AdminHandler{reconciliation: reconciliation}
}

// TriggerReconciliation handles POST /api/admin/reconcile. It runs a full
// rebuild synchronously and returns the audit diff.
func (h *AdminHandler) TriggerReconciliation(c *gin.Context) {
	report, err := h.reconciliation.RunOnce(c.Request.Context())
	if err != nil {
		response.InternalError(c, "Reconciliation failed: "+err.Error())
		return
	}
	response.Success(c, report)
}
