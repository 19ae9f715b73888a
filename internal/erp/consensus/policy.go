package consensus

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// DefaultPolicy 默认投票通过条件
const DefaultPolicy = "approval_rate >= 0.5 && reject_votes == 0"

// PolicyEngine 用CEL表达式判定投票是否通过
type PolicyEngine struct {
	env      *cel.Env
	prgCache map[string]cel.Program
	mu       sync.RWMutex
}

func NewPolicyEngine() (*PolicyEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("approval_rate", cel.DoubleType),
		cel.Variable("approve_votes", cel.IntType),
		cel.Variable("reject_votes", cel.IntType),
		cel.Variable("conditional_votes", cel.IntType),
		cel.Variable("total_votes", cel.IntType),
		cel.Variable("urgency", cel.StringType),
		cel.Variable("domain", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &PolicyEngine{
		env:      env,
		prgCache: make(map[string]cel.Program),
	}, nil
}

// Compile 预编译表达式，用于启动时校验配置
func (pe *PolicyEngine) Compile(expression string) error {
	_, err := pe.program(expression)
	return err
}

func (pe *PolicyEngine) program(expression string) (cel.Program, error) {
	pe.mu.RLock()
	prg, hit := pe.prgCache[expression]
	pe.mu.RUnlock()
	if hit {
		return prg, nil
	}

	pe.mu.Lock()
	defer pe.mu.Unlock()
	if prg, hit = pe.prgCache[expression]; hit {
		return prg, nil
	}
	ast, issues := pe.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	p, err := pe.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program error: %w", err)
	}
	pe.prgCache[expression] = p
	return p, nil
}

// Evaluate 对投票结果求值
func (pe *PolicyEngine) Evaluate(expression string, votes Votes, req *Request) (bool, error) {
	if expression == "" {
		expression = DefaultPolicy
	}
	prg, err := pe.program(expression)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]interface{}{
		"approval_rate":     votes.ApprovalRate,
		"approve_votes":     int64(votes.Approve),
		"reject_votes":      int64(votes.Reject),
		"conditional_votes": int64(votes.Conditional),
		"total_votes":       int64(votes.Total),
		"urgency":           req.Urgency,
		"domain":            req.Domain,
	})
	if err != nil {
		return false, fmt.Errorf("CEL eval error: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("result not boolean")
	}
	return allowed, nil
}
