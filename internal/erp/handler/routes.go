package handler

import (
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/service"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/middleware"
	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册ERP路由，调用方负责JWT认证
func RegisterRoutes(v1 *gin.RouterGroup, h *Handlers) {
	orders := v1.Group("/orders")
	{
		orders.GET("", h.Order.List)
		orders.POST("", h.Order.Create)
		orders.GET("/:id", h.Order.Get)
		orders.POST("/:id/approve", h.Order.Approve)
		orders.POST("/:id/cancel", h.Order.Cancel)
	}

	v1.POST("/production-logs", h.Production.Log)

	plans := v1.Group("/plans")
	{
		plans.GET("", h.Plan.List)
		plans.GET("/:id", h.Plan.Get)
		plans.GET("/:id/logs", h.Plan.Logs)
		plans.POST("/:id/accept", h.Plan.Accept())
		plans.POST("/:id/pause", h.Plan.Pause())
		plans.POST("/:id/resume", h.Plan.Resume())
		plans.POST("/:id/complete", h.Plan.Complete())
		plans.POST("/:id/cancel", h.Plan.Cancel())
	}

	v1.GET("/reservations", h.Reservation.List)
	v1.GET("/audit-logs", h.Audit.List)

	stocks := v1.Group("/stocks")
	{
		stocks.GET("", h.Stock.List)
		stocks.GET("/movements", h.Stock.Movements)
		stocks.GET("/:id", h.Stock.Get)
		stocks.POST("/:id/adjust", middleware.RequireRole(service.RoleManager, service.RolePlanner), h.Stock.Adjust)
	}
}
