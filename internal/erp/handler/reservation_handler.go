package handler

import (
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/repository"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ReservationHandler struct {
	svc    *service.ReservationService
	logger *zap.Logger
}

func NewReservationHandler(svc *service.ReservationService, logger *zap.Logger) *ReservationHandler {
	return &ReservationHandler{svc: svc, logger: logger}
}

func (h *ReservationHandler) List(c *gin.Context) {
	page, size := pageParams(c)
	items, total, err := h.svc.List(c.Request.Context(), repository.ReservationListParams{
		OrderID: c.Query("order_id"),
		PlanID:  c.Query("plan_id"),
		Status:  c.Query("status"),
		Page:    page,
		Size:    size,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	list(c, items, total, page, size)
}
