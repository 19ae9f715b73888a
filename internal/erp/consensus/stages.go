package consensus

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Layer 名称
const (
	LayerPrimary = "primary"
	LayerCross   = "cross_validation"
	LayerVote    = "consensus_vote"
	LayerState   = "state_validation"
)

// Stage 共识流水线中的一层
type Stage interface {
	Name() string
	Evaluate(ctx context.Context, s *Session) (LayerResult, error)
}

// primaryStage 第一层：主审智能体
type primaryStage struct {
	minConfidence float64
	metrics       *Metrics
}

func (primaryStage) Name() string { return LayerPrimary }

func (st primaryStage) Evaluate(ctx context.Context, s *Session) (LayerResult, error) {
	res := LayerResult{Layer: LayerPrimary, Passed: true}
	op, err := s.Primary.Evaluate(ctx, s.Request)
	if err != nil {
		st.metrics.AgentErrors.WithLabelValues(s.Primary.ID()).Inc()
		return res, fmt.Errorf("primary agent %s: %w", s.Primary.ID(), err)
	}
	s.Opinions = append(s.Opinions, *op)

	switch op.Decision {
	case DecisionReject:
		res.Passed = false
		res.Hard = true
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", op.AgentID, op.Reasoning))
	case DecisionConditional:
		for _, c := range op.Conditions {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s", op.AgentID, c))
		}
	}
	if !res.Hard && op.Confidence < st.minConfidence {
		res.Passed = false
		res.Escalate = true
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: confidence %.2f below %.2f", op.AgentID, op.Confidence, st.minConfidence))
	}
	res.Details = map[string]interface{}{"agent": op.AgentID, "decision": op.Decision, "confidence": op.Confidence}
	return res, nil
}

// crossStage 第二层：交叉验证，并行调用所有同级智能体
type crossStage struct {
	metrics *Metrics
}

func (crossStage) Name() string { return LayerCross }

func (st crossStage) Evaluate(ctx context.Context, s *Session) (LayerResult, error) {
	res := LayerResult{Layer: LayerCross, Passed: true}
	opinions := make([]*Opinion, len(s.Peers))
	failures := make([]error, len(s.Peers))

	g, gctx := errgroup.WithContext(ctx)
	for i, peer := range s.Peers {
		i, peer := i, peer
		g.Go(func() error {
			op, err := peer.Evaluate(gctx, s.Request)
			if err != nil {
				failures[i] = err
				return nil
			}
			opinions[i] = op
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return res, err
	}

	for i, peer := range s.Peers {
		if failures[i] != nil {
			st.metrics.AgentErrors.WithLabelValues(peer.ID()).Inc()
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: unavailable", peer.ID()))
			continue
		}
		op := opinions[i]
		s.Opinions = append(s.Opinions, *op)
		switch op.Decision {
		case DecisionReject:
			res.Passed = false
			res.Hard = true
			res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", op.AgentID, op.Reasoning))
		case DecisionConditional:
			for _, c := range op.Conditions {
				res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %s", op.AgentID, c))
			}
		}
	}
	return res, nil
}

// voteStage 第三层：投票，通过条件由CEL表达式决定
type voteStage struct {
	policy *PolicyEngine
}

func (voteStage) Name() string { return LayerVote }

func (st voteStage) Evaluate(ctx context.Context, s *Session) (LayerResult, error) {
	res := LayerResult{Layer: LayerVote, Passed: true}
	votes := Tally(s.Opinions)
	ok, err := st.policy.Evaluate(s.Route.Policy, votes, s.Request)
	if err != nil {
		return res, err
	}
	res.Details = map[string]interface{}{
		"approve":       votes.Approve,
		"reject":        votes.Reject,
		"conditional":   votes.Conditional,
		"approval_rate": votes.ApprovalRate,
	}
	if !ok {
		res.Passed = false
		msg := fmt.Sprintf("consensus not reached: approval rate %.2f, %d reject", votes.ApprovalRate, votes.Reject)
		if votes.Reject > 0 {
			res.Hard = true
			res.Errors = append(res.Errors, msg)
		} else {
			res.Escalate = true
			res.Warnings = append(res.Warnings, msg)
		}
	}
	return res, nil
}

// Tally 统计投票
func Tally(opinions []Opinion) Votes {
	var v Votes
	for _, op := range opinions {
		switch op.Decision {
		case DecisionApprove:
			v.Approve++
		case DecisionReject:
			v.Reject++
		case DecisionConditional:
			v.Conditional++
		}
	}
	v.Total = v.Approve + v.Reject + v.Conditional
	if v.Total > 0 {
		v.ApprovalRate = float64(v.Approve) / float64(v.Total)
	}
	return v
}

// stateStage 第四层：持久化状态校验
type stateStage struct{}

func (stateStage) Name() string { return LayerState }

func (stateStage) Evaluate(ctx context.Context, s *Session) (LayerResult, error) {
	res := LayerResult{Layer: LayerState, Passed: true}
	if s.Checker == nil {
		return res, nil
	}
	errs, warns := safeCheck(ctx, s.Checker, s.Request)
	res.Warnings = warns
	if len(errs) > 0 {
		res.Passed = false
		res.Hard = true
		res.Errors = errs
	}
	return res, nil
}

func safeCheck(ctx context.Context, fn StateChecker, req *Request) (errs, warns []string) {
	defer func() {
		if r := recover(); r != nil {
			errs = []string{fmt.Sprintf("state check panicked: %v", r)}
		}
	}()
	return fn(ctx, req)
}
