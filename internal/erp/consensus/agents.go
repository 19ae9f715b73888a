package consensus

import (
	"context"
	"fmt"
)

// RuleAgent 基于规则的内置智能体
type RuleAgent struct {
	id   string
	role string
	rule func(req *Request) *Opinion
}

func (a *RuleAgent) ID() string   { return a.id }
func (a *RuleAgent) Role() string { return a.role }

func (a *RuleAgent) Evaluate(ctx context.Context, req *Request) (*Opinion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	op := a.rule(req)
	op.AgentID = a.id
	op.Role = a.role
	return op, nil
}

// NewRuleAgent 用自定义规则构造智能体
func NewRuleAgent(id, role string, rule func(req *Request) *Opinion) *RuleAgent {
	return &RuleAgent{id: id, role: role, rule: rule}
}

// BuiltinAgents 内置的五个规则智能体
func BuiltinAgents() []Agent {
	return []Agent{
		NewPlanningAgent(),
		NewInventoryAgent(),
		NewProductionAgent(),
		NewQualityAgent(),
		NewManagerAgent(),
	}
}

// NewPlanningAgent 计划智能体：订单行与交期合理性
func NewPlanningAgent() *RuleAgent {
	return NewRuleAgent("planning", "planning", func(req *Request) *Opinion {
		switch req.Action {
		case "approve_order":
			lines, _ := req.Float("line_count")
			if lines <= 0 {
				return &Opinion{Decision: DecisionReject, Confidence: 0.95, Reasoning: "order has no lines"}
			}
			if days, ok := req.Float("days_to_delivery"); ok && days < 0 {
				return &Opinion{
					Decision:   DecisionConditional,
					Confidence: 0.7,
					Reasoning:  "delivery date already passed",
					Conditions: []string{"confirm delivery date with customer"},
				}
			}
			return &Opinion{Decision: DecisionApprove, Confidence: 0.9, Reasoning: "order lines are plannable"}
		default:
			return &Opinion{Decision: DecisionApprove, Confidence: 0.8, Reasoning: "no planning concern"}
		}
	})
}

// NewInventoryAgent 库存智能体：缺料拒绝，低于安全库存给条件通过
func NewInventoryAgent() *RuleAgent {
	return NewRuleAgent("inventory", "inventory", func(req *Request) *Opinion {
		if n, _ := req.Float("shortfall_count"); n > 0 {
			return &Opinion{
				Decision:   DecisionReject,
				Confidence: 0.95,
				Reasoning:  fmt.Sprintf("%d material(s) short", int(n)),
			}
		}
		if n, _ := req.Float("critical_count"); n > 0 {
			return &Opinion{
				Decision:   DecisionConditional,
				Confidence: 0.75,
				Reasoning:  fmt.Sprintf("%d material(s) will drop below critical level", int(n)),
				Conditions: []string{"schedule replenishment"},
			}
		}
		return &Opinion{Decision: DecisionApprove, Confidence: 0.9, Reasoning: "stock sufficient"}
	})
}

// NewProductionAgent 生产智能体：报工数量与计划状态
func NewProductionAgent() *RuleAgent {
	return NewRuleAgent("production", "production", func(req *Request) *Opinion {
		if req.Action == "log_production" {
			qty, _ := req.Float("quantity")
			remaining, ok := req.Float("remaining")
			if qty <= 0 {
				return &Opinion{Decision: DecisionReject, Confidence: 0.95, Reasoning: "non-positive quantity"}
			}
			if ok && qty > remaining+1e-6 {
				return &Opinion{Decision: DecisionReject, Confidence: 0.95, Reasoning: "quantity exceeds remaining"}
			}
			return &Opinion{Decision: DecisionApprove, Confidence: 0.9, Reasoning: "production log within plan"}
		}
		if n, _ := req.Float("product_count"); n > 20 {
			return &Opinion{
				Decision:   DecisionConditional,
				Confidence: 0.7,
				Reasoning:  "large number of plans for one order",
				Conditions: []string{"check line capacity"},
			}
		}
		return &Opinion{Decision: DecisionApprove, Confidence: 0.85, Reasoning: "capacity available"}
	})
}

// NewQualityAgent 质量智能体：BOM缺失给条件通过
func NewQualityAgent() *RuleAgent {
	return NewRuleAgent("quality", "quality", func(req *Request) *Opinion {
		if n, _ := req.Float("bom_missing_count"); n > 0 {
			return &Opinion{
				Decision:   DecisionConditional,
				Confidence: 0.7,
				Reasoning:  "products without BOM",
				Conditions: []string{"maintain BOM before production"},
			}
		}
		return &Opinion{Decision: DecisionApprove, Confidence: 0.85, Reasoning: "no quality concern"}
	})
}

// NewManagerAgent 管理智能体：紧急订单由非经理发起时降低置信度
func NewManagerAgent() *RuleAgent {
	return NewRuleAgent("manager", "manager", func(req *Request) *Opinion {
		if req.Urgency == UrgencyCritical && req.RequesterRole != "manager" {
			return &Opinion{
				Decision:   DecisionConditional,
				Confidence: 0.5,
				Reasoning:  "critical order approved without manager",
				Conditions: []string{"manager sign-off"},
			}
		}
		return &Opinion{Decision: DecisionApprove, Confidence: 0.9, Reasoning: "within delegated authority"}
	})
}
