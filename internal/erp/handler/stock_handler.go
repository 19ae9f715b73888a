package handler

import (
	"errors"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/repository"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type StockHandler struct {
	ledger *service.StockLedger
	logger *zap.Logger
}

func NewStockHandler(ledger *service.StockLedger, logger *zap.Logger) *StockHandler {
	return &StockHandler{ledger: ledger, logger: logger}
}

func (h *StockHandler) List(c *gin.Context) {
	page, size := pageParams(c)
	items, total, err := h.ledger.List(c.Request.Context(), repository.StockListParams{
		MaterialType: c.Query("material_type"),
		Keyword:      c.Query("keyword"),
		Critical:     c.Query("critical") == "true",
		Page:         page,
		Size:         size,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	list(c, items, total, page, size)
}

func (h *StockHandler) Get(c *gin.Context) {
	item, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	success(c, item)
}

type adjustRequest struct {
	Delta  float64 `json:"delta"`
	Reason string  `json:"reason" binding:"required"`
}

// Adjust 手工盘点调整
func (h *StockHandler) Adjust(c *gin.Context) {
	var req adjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	item, err := h.ledger.Adjust(c.Request.Context(), c.Param("id"), req.Delta, req.Reason, c.GetString("user_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	success(c, item)
}

// Movements 按业务单据查询库存流水
func (h *StockHandler) Movements(c *gin.Context) {
	refType, refID := c.Query("reference_type"), c.Query("reference_id")
	if refType == "" || refID == "" {
		badRequest(c, errors.New("reference_type 和 reference_id 必填"))
		return
	}
	movements, err := h.ledger.Movements(c.Request.Context(), refType, refID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	success(c, movements)
}
