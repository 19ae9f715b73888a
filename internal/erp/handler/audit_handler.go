package handler

import (
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/repository"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// AuditHandler 审计日志只读查询
type AuditHandler struct {
	svc    *service.AuditService
	logger *zap.Logger
}

func NewAuditHandler(svc *service.AuditService, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{svc: svc, logger: logger}
}

func (h *AuditHandler) List(c *gin.Context) {
	page, size := pageParams(c)
	logs, total, err := h.svc.List(c.Request.Context(), repository.AuditListParams{
		EntityID: c.Query("entity_id"),
		OrderID:  c.Query("order_id"),
		PlanID:   c.Query("plan_id"),
		Decision: c.Query("decision"),
		Severity: c.Query("severity"),
		Page:     page,
		Size:     size,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	list(c, logs, total, page, size)
}
