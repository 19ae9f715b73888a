// Package consensus 多智能体共识校验：主审、交叉验证、投票、持久化状态校验四层
// 只读，不修改任何业务数据。
package consensus

import (
	"context"
	"errors"
	"time"
)

// Decision 智能体意见
const (
	DecisionApprove     = "approve"
	DecisionReject      = "reject"
	DecisionConditional = "conditional"
)

// Verdict 最终裁决
const (
	VerdictApproved        = "approved"
	VerdictRejected        = "rejected"
	VerdictPendingApproval = "pending_approval"
	VerdictSkipped         = "skipped"
)

// Domain 校验领域
const (
	DomainPlanning   = "planning"
	DomainProduction = "production"
	DomainInventory  = "inventory"
	DomainQuality    = "quality"
)

// Urgency 紧急程度
const (
	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// ErrUnavailable 协议超时或内部故障
var ErrUnavailable = errors.New("consensus unavailable")

// Request 校验请求
type Request struct {
	Domain              string                 `json:"domain"`
	Action              string                 `json:"action"`
	EntityType          string                 `json:"entity_type"`
	EntityID            string                 `json:"entity_id"`
	OrderID             string                 `json:"order_id,omitempty"`
	PlanID              string                 `json:"plan_id,omitempty"`
	RequesterID         string                 `json:"requester_id"`
	RequesterRole       string                 `json:"requester_role"`
	Urgency             string                 `json:"urgency"`
	Severity            string                 `json:"severity"`
	EscalationRequested bool                   `json:"escalation_requested"`
	Data                map[string]interface{} `json:"data"`
}

// Float 读取数值型业务数据
func (r *Request) Float(key string) (float64, bool) {
	if r.Data == nil {
		return 0, false
	}
	switch v := r.Data[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// String 读取字符串型业务数据
func (r *Request) String(key string) string {
	if r.Data == nil {
		return ""
	}
	s, _ := r.Data[key].(string)
	return s
}

// Bool 读取布尔型业务数据
func (r *Request) Bool(key string) bool {
	if r.Data == nil {
		return false
	}
	b, _ := r.Data[key].(bool)
	return b
}

// Opinion 单个智能体的意见
type Opinion struct {
	AgentID    string   `json:"agent_id"`
	Role       string   `json:"role"`
	Decision   string   `json:"decision"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Conditions []string `json:"conditions,omitempty"`
}

// Agent 决策智能体
type Agent interface {
	ID() string
	Role() string
	Evaluate(ctx context.Context, req *Request) (*Opinion, error)
}

// StateChecker 第四层：由调用方提供的持久化状态校验
// 返回的errors为硬失败，warnings仅记录
type StateChecker func(ctx context.Context, req *Request) (errs []string, warnings []string)

// LayerResult 单层结果
type LayerResult struct {
	Layer    string                 `json:"layer"`
	Passed   bool                   `json:"passed"`
	Hard     bool                   `json:"hard"`     // 硬拒绝
	Escalate bool                   `json:"escalate"` // 需要人工审批
	Errors   []string               `json:"errors,omitempty"`
	Warnings []string               `json:"warnings,omitempty"`
	Details  map[string]interface{} `json:"details,omitempty"`
	Duration time.Duration          `json:"duration"`
}

// Result 共识结果
type Result struct {
	Decision    string                 `json:"decision"`
	Domain      string                 `json:"domain"`
	Layers      []LayerResult          `json:"layers"`
	Opinions    []Opinion              `json:"opinions"`
	Errors      []string               `json:"errors"`
	Warnings    []string               `json:"warnings"`
	Votes       Votes                  `json:"votes"`
	Details     map[string]interface{} `json:"details,omitempty"`
	PrimaryID   string                 `json:"primary_agent"`
	CompletedAt time.Time              `json:"completed_at"`
}

// Approved 是否通过
func (r *Result) Approved() bool {
	return r != nil && r.Decision == VerdictApproved
}

// Votes 投票统计
type Votes struct {
	Approve      int     `json:"approve"`
	Reject       int     `json:"reject"`
	Conditional  int     `json:"conditional"`
	Total        int     `json:"total"`
	ApprovalRate float64 `json:"approval_rate"`
}

// Session 一次运行的共享状态，各层依次写入
type Session struct {
	Request  *Request
	Route    Route
	Primary  Agent
	Peers    []Agent
	Opinions []Opinion
	Checker  StateChecker
}
