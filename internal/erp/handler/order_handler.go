package handler

import (
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/repository"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type OrderHandler struct {
	svc      *service.OrderService
	approval *service.ApprovalService
	logger   *zap.Logger
}

func NewOrderHandler(svc *service.OrderService, approval *service.ApprovalService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{svc: svc, approval: approval, logger: logger}
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	order, err := h.svc.Create(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	success(c, order)
}

func (h *OrderHandler) Get(c *gin.Context) {
	detail, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	success(c, detail)
}

func (h *OrderHandler) List(c *gin.Context) {
	page, size := pageParams(c)
	orders, total, err := h.svc.List(c.Request.Context(), repository.OrderListParams{
		Status: c.Query("status"),
		Page:   page,
		Size:   size,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	list(c, orders, total, page, size)
}

// Approve 审批订单并生成生产计划
func (h *OrderHandler) Approve(c *gin.Context) {
	result, err := h.approval.Approve(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	success(c, result)
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	detail, err := h.svc.Cancel(c.Request.Context(), actorFrom(c), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	success(c, detail)
}
