package service

import "github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"

// planTransitions 计划状态流转表
var planTransitions = map[string][]string{
	entity.PlanStatusPlanned:    {entity.PlanStatusInProgress, entity.PlanStatusCancelled},
	entity.PlanStatusInProgress: {entity.PlanStatusPaused, entity.PlanStatusCompleted, entity.PlanStatusCancelled},
	entity.PlanStatusPaused:     {entity.PlanStatusInProgress, entity.PlanStatusCancelled},
}

// orderTransitions 订单状态流转表
var orderTransitions = map[string][]string{
	entity.OrderStatusPending:      {entity.OrderStatusInProduction, entity.OrderStatusCancelled},
	entity.OrderStatusInProduction: {entity.OrderStatusCompleted, entity.OrderStatusCancelled},
}

func canTransition(table map[string][]string, from, to string) bool {
	for _, s := range table[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanTransitionPlan 计划状态是否允许流转
func CanTransitionPlan(from, to string) bool {
	return canTransition(planTransitions, from, to)
}

// CanTransitionOrder 订单状态是否允许流转
func CanTransitionOrder(from, to string) bool {
	return canTransition(orderTransitions, from, to)
}

func planTransitionError(from, to string) *Error {
	return newError(KindInvalidTransition, "计划状态不允许从 %s 变更为 %s", from, to)
}

func orderTransitionError(from, to string) *Error {
	return newError(KindInvalidTransition, "订单状态不允许从 %s 变更为 %s", from, to)
}
