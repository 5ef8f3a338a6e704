package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"procurement/internal/middleware"
	"procurement/internal/model"
	"procurement/internal/service"
	"procurement/pkg/response"
)

type DashboardHandler struct {
	dashboardService service.DashboardService
}

func NewDashboardHandler(dashboardService service.DashboardService) *DashboardHandler {
	return &DashboardHandler{dashboardService: dashboardService}
}

func (h *DashboardHandler) RegisterRoutes(router *gin.RouterGroup) {
	group := router.Group("/api/dashboard")
	group.Use(middleware.RequireRole(model.AllRoles...))
	{
		group.GET("/summary", h.GetSummary)
	}
}

// GetSummary returns request counters for the dashboard
// @Summary      Dashboard summary
// @Description  Purchase request counts by status and the approved amount total
// @Tags         dashboard
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  service.DashboardSummary
// @Router       /api/dashboard/summary [get]
func (h *DashboardHandler) GetSummary(c *gin.Context) {
	summary, err := h.dashboardService.GetSummary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, response.Error("Failed to build summary: "+err.Error()))
		return
	}

	c.JSON(http.StatusOK, summary)
}
