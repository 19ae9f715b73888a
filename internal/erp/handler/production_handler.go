package handler

import (
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ProductionHandler struct {
	svc    *service.ProductionService
	logger *zap.Logger
}

func NewProductionHandler(svc *service.ProductionService, logger *zap.Logger) *ProductionHandler {
	return &ProductionHandler{svc: svc, logger: logger}
}

type logRequest struct {
	PlanID           string  `json:"plan_id" binding:"required"`
	BarcodeScanned   string  `json:"barcode_scanned"`
	QuantityProduced float64 `json:"quantity_produced"`
}

// Log 报工，操作人取自token
func (h *ProductionHandler) Log(c *gin.Context) {
	var req logRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.svc.Log(c.Request.Context(), actorFrom(c), service.LogRequest{
		PlanID:           req.PlanID,
		BarcodeScanned:   req.BarcodeScanned,
		QuantityProduced: req.QuantityProduced,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	success(c, result)
}
