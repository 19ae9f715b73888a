package service

import (
	"errors"
	"fmt"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/consensus"
)

// ErrorKind 业务错误类型
type ErrorKind string

const (
	KindUnauthorized             ErrorKind = "Unauthorized"
	KindForbidden                ErrorKind = "Forbidden"
	KindValidation               ErrorKind = "ValidationError"
	KindOrderNotFound            ErrorKind = "OrderNotFound"
	KindPlanNotFound             ErrorKind = "PlanNotFound"
	KindOrderItemsMissing        ErrorKind = "OrderItemsMissing"
	KindPlanNotActive            ErrorKind = "PlanNotActive"
	KindInvalidTransition        ErrorKind = "InvalidTransition"
	KindWrongIdentifier          ErrorKind = "WrongIdentifier"
	KindQuantityExceeded         ErrorKind = "QuantityExceeded"
	KindInsufficientStock        ErrorKind = "InsufficientStock"
	KindOverConsumption          ErrorKind = "OverConsumption"
	KindBOMMissing               ErrorKind = "BOMMissing"
	KindConsensusRejected        ErrorKind = "ConsensusRejected"
	KindConsensusPendingApproval ErrorKind = "ConsensusPendingApproval"
	KindConsensusUnavailable     ErrorKind = "ConsensusUnavailable"
	KindConsistencyViolation     ErrorKind = "ConsistencyViolation"
)

// Shortfall 物料缺口
type Shortfall struct {
	MaterialID   string  `json:"material_id"`
	MaterialType string  `json:"material_type"`
	MaterialCode string  `json:"material_code"`
	MaterialName string  `json:"material_name"`
	Needed       float64 `json:"needed"`
	Available    float64 `json:"available"`
	Shortfall    float64 `json:"shortfall"`
}

// Error 业务错误，携带可供调用方展示的结构化信息
type Error struct {
	Kind       ErrorKind
	Message    string
	Shortfalls []Shortfall
	Remaining  float64
	Expected   string
	Given      string
	Verdict    *consensus.Result
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按错误类型匹配，支持 errors.Is(err, ErrInsufficientStock)
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// 哨兵错误，仅用于 errors.Is 比较
var (
	ErrUnauthorized         = &Error{Kind: KindUnauthorized}
	ErrForbidden            = &Error{Kind: KindForbidden}
	ErrValidation           = &Error{Kind: KindValidation}
	ErrOrderNotFound        = &Error{Kind: KindOrderNotFound}
	ErrPlanNotFound         = &Error{Kind: KindPlanNotFound}
	ErrOrderItemsMissing    = &Error{Kind: KindOrderItemsMissing}
	ErrPlanNotActive        = &Error{Kind: KindPlanNotActive}
	ErrInvalidTransition    = &Error{Kind: KindInvalidTransition}
	ErrWrongIdentifier      = &Error{Kind: KindWrongIdentifier}
	ErrQuantityExceeded     = &Error{Kind: KindQuantityExceeded}
	ErrInsufficientStock    = &Error{Kind: KindInsufficientStock}
	ErrOverConsumption      = &Error{Kind: KindOverConsumption}
	ErrBOMMissing           = &Error{Kind: KindBOMMissing}
	ErrConsensusRejected    = &Error{Kind: KindConsensusRejected}
	ErrConsensusPending     = &Error{Kind: KindConsensusPendingApproval}
	ErrConsensusUnavailable = &Error{Kind: KindConsensusUnavailable}
	ErrConsistencyViolation = &Error{Kind: KindConsistencyViolation}
)

func newError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func insufficientStock(shortfalls []Shortfall) *Error {
	msg := "库存不足"
	if len(shortfalls) == 1 {
		s := shortfalls[0]
		msg = fmt.Sprintf("库存不足: %s 需要%.4f, 可用%.4f", s.MaterialCode, s.Needed, s.Available)
	} else if len(shortfalls) > 1 {
		msg = fmt.Sprintf("库存不足: %d 种物料缺料", len(shortfalls))
	}
	return &Error{Kind: KindInsufficientStock, Message: msg, Shortfalls: shortfalls}
}

// KindOf 提取错误类型，非业务错误返回空
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// AsError 提取业务错误
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
