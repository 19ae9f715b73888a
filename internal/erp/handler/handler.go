package handler

import (
	"net/http"
	"strconv"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handlers ERP HTTP处理器集合
type Handlers struct {
	Order       *OrderHandler
	Production  *ProductionHandler
	Plan        *PlanHandler
	Reservation *ReservationHandler
	Stock       *StockHandler
	Audit       *AuditHandler
}

func NewHandlers(services *service.Services, logger *zap.Logger) *Handlers {
	return &Handlers{
		Order:       NewOrderHandler(services.Order, services.Approval, logger),
		Production:  NewProductionHandler(services.Production, logger),
		Plan:        NewPlanHandler(services.Plan, services.Production, logger),
		Reservation: NewReservationHandler(services.Reservation, logger),
		Stock:       NewStockHandler(services.Stock, logger),
		Audit:       NewAuditHandler(services.Audit, logger),
	}
}

// actorFrom 从JWT中间件写入的上下文构造操作人
func actorFrom(c *gin.Context) service.Actor {
	return service.Actor{
		ID:        c.GetString("user_id"),
		Name:      c.GetString("user_name"),
		Roles:     c.GetStringSlice("roles"),
		RequestID: c.GetString("request_id"),
	}
}

func pageParams(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	size, _ := strconv.Atoi(c.DefaultQuery("size", "20"))
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	return page, size
}

func success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "message": "success", "data": data})
}

func list(c *gin.Context, items interface{}, total int64, page, size int) {
	success(c, gin.H{"items": items, "total": total, "page": page, "size": size})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"code": 10001, "message": err.Error(), "kind": service.KindValidation})
}

// errorStatus 业务错误类型到HTTP状态码与业务码
func errorStatus(kind service.ErrorKind) (int, int) {
	switch kind {
	case service.KindUnauthorized:
		return http.StatusUnauthorized, 40100
	case service.KindForbidden:
		return http.StatusForbidden, 40300
	case service.KindValidation, service.KindOrderItemsMissing, service.KindBOMMissing:
		return http.StatusBadRequest, 10001
	case service.KindOrderNotFound, service.KindPlanNotFound:
		return http.StatusNotFound, 10002
	case service.KindPlanNotActive, service.KindInvalidTransition, service.KindOverConsumption:
		return http.StatusConflict, 10004
	case service.KindInsufficientStock:
		return http.StatusUnprocessableEntity, 42201
	case service.KindQuantityExceeded:
		return http.StatusUnprocessableEntity, 42202
	case service.KindWrongIdentifier:
		return http.StatusUnprocessableEntity, 42203
	case service.KindConsensusRejected, service.KindConsensusPendingApproval:
		return http.StatusLocked, 42301
	case service.KindConsensusUnavailable:
		return http.StatusServiceUnavailable, 50301
	case service.KindConsistencyViolation:
		return http.StatusInternalServerError, 50010
	}
	return http.StatusInternalServerError, 50001
}

// respondError 输出错误响应，业务错误附带结构化详情
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	e, ok := service.AsError(err)
	if !ok {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"code": 50001, "message": err.Error()})
		return
	}

	status, code := errorStatus(e.Kind)
	body := gin.H{"code": code, "message": e.Error(), "kind": e.Kind}
	details := gin.H{}
	switch e.Kind {
	case service.KindInsufficientStock:
		body["insufficient_materials"] = e.Shortfalls
	case service.KindQuantityExceeded:
		details["remaining"] = e.Remaining
	case service.KindWrongIdentifier:
		details["expected"] = e.Expected
		details["given"] = e.Given
	}
	if e.Verdict != nil {
		body["consensus"] = gin.H{
			"decision": e.Verdict.Decision,
			"errors":   e.Verdict.Errors,
			"warnings": e.Verdict.Warnings,
		}
	}
	if len(details) > 0 {
		body["details"] = details
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("kind", string(e.Kind)),
			zap.String("request_id", c.GetString("request_id")),
			zap.Error(err),
		)
	}
	c.JSON(status, body)
}
