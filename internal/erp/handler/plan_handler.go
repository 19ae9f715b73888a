package handler

import (
	"context"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/repository"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type PlanHandler struct {
	svc        *service.PlanService
	production *service.ProductionService
	logger     *zap.Logger
}

func NewPlanHandler(svc *service.PlanService, production *service.ProductionService, logger *zap.Logger) *PlanHandler {
	return &PlanHandler{svc: svc, production: production, logger: logger}
}

func (h *PlanHandler) Get(c *gin.Context) {
	detail, err := h.svc.GetDetail(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	success(c, detail)
}

func (h *PlanHandler) List(c *gin.Context) {
	page, size := pageParams(c)
	plans, total, err := h.svc.List(c.Request.Context(), repository.PlanListParams{
		OrderID:    c.Query("order_id"),
		OperatorID: c.Query("operator_id"),
		Status:     c.Query("status"),
		Page:       page,
		Size:       size,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	list(c, plans, total, page, size)
}

func (h *PlanHandler) Logs(c *gin.Context) {
	logs, err := h.production.ListLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	success(c, logs)
}

type planAction func(ctx context.Context, actor service.Actor, planID string) (*entity.ProductionPlan, error)

func (h *PlanHandler) action(fn planAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		plan, err := fn(c.Request.Context(), actorFrom(c), c.Param("id"))
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		success(c, plan)
	}
}

func (h *PlanHandler) Accept() gin.HandlerFunc   { return h.action(h.svc.Accept) }
func (h *PlanHandler) Pause() gin.HandlerFunc    { return h.action(h.svc.Pause) }
func (h *PlanHandler) Resume() gin.HandlerFunc   { return h.action(h.svc.Resume) }
func (h *PlanHandler) Complete() gin.HandlerFunc { return h.action(h.svc.Complete) }
func (h *PlanHandler) Cancel() gin.HandlerFunc   { return h.action(h.svc.Cancel) }
