package consensus

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Options 协议参数
type Options struct {
	Enabled       bool
	Timeout       time.Duration
	MinConfidence float64
	// 按领域覆盖注册表中的投票策略
	Policies map[string]string
}

// Protocol 共识校验协议
type Protocol struct {
	registry *Registry
	policy   *PolicyEngine
	metrics  *Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
	opts     Options
}

func NewProtocol(registry *Registry, opts Options, metrics *Metrics, logger *zap.Logger) (*Protocol, error) {
	if registry == nil {
		registry = NewRegistry()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	policy, err := NewPolicyEngine()
	if err != nil {
		return nil, err
	}
	for domain, route := range registry.routes {
		expr := route.Policy
		if o := opts.Policies[domain]; o != "" {
			expr = o
		}
		if expr == "" {
			continue
		}
		if err := policy.Compile(expr); err != nil {
			return nil, fmt.Errorf("domain %s policy: %w", domain, err)
		}
	}
	return &Protocol{
		registry: registry,
		policy:   policy,
		metrics:  metrics,
		logger:   logger.Named("consensus"),
		tracer:   otel.Tracer("erp/consensus"),
		opts:     opts,
	}, nil
}

// Enabled 协议是否启用
func (p *Protocol) Enabled() bool {
	return p != nil && p.opts.Enabled
}

// Validate 执行四层校验
// 超时或内部故障返回 ErrUnavailable；协议关闭时返回 skipped 裁决
func (p *Protocol) Validate(ctx context.Context, req *Request, checker StateChecker) (*Result, error) {
	if !p.Enabled() {
		return &Result{Decision: VerdictSkipped, Domain: req.Domain, CompletedAt: time.Now()}, nil
	}

	ctx, span := p.tracer.Start(ctx, "consensus.validate", trace.WithAttributes(
		attribute.String("consensus.domain", req.Domain),
		attribute.String("consensus.action", req.Action),
		attribute.String("consensus.entity_id", req.EntityID),
	))
	defer span.End()

	route, primary, peers, err := p.registry.Resolve(req.Domain)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if o := p.opts.Policies[req.Domain]; o != "" {
		route.Policy = o
	}

	tctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	s := &Session{
		Request: req,
		Route:   route,
		Primary: primary,
		Peers:   peers,
		Checker: checker,
	}
	result, err := p.run(tctx, s)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.metrics.Verdicts.WithLabelValues(req.Domain, "unavailable").Inc()
		p.logger.Warn("consensus unavailable",
			zap.String("domain", req.Domain),
			zap.String("entity_id", req.EntityID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	span.SetAttributes(attribute.String("consensus.decision", result.Decision))
	p.metrics.Verdicts.WithLabelValues(req.Domain, result.Decision).Inc()
	p.logger.Info("consensus verdict",
		zap.String("domain", req.Domain),
		zap.String("action", req.Action),
		zap.String("entity_id", req.EntityID),
		zap.String("decision", result.Decision),
		zap.Int("errors", len(result.Errors)),
		zap.Int("warnings", len(result.Warnings)),
	)
	return result, nil
}

func (p *Protocol) run(ctx context.Context, s *Session) (result *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("consensus panicked: %v", r)
		}
	}()

	result = &Result{Domain: s.Request.Domain, PrimaryID: s.Primary.ID()}
	stages := []Stage{
		primaryStage{minConfidence: p.opts.MinConfidence, metrics: p.metrics},
		crossStage{metrics: p.metrics},
		voteStage{policy: p.policy},
	}

	hard := false
	for _, st := range stages {
		lr, err := p.runStage(ctx, st, s)
		if err != nil {
			return nil, err
		}
		result.Layers = append(result.Layers, lr)
		if lr.Hard {
			hard = true
			break
		}
	}

	// 第四层始终执行
	lr, err := p.runStage(ctx, stateStage{}, s)
	if err != nil {
		return nil, err
	}
	result.Layers = append(result.Layers, lr)

	escalate := s.Request.EscalationRequested
	for _, l := range result.Layers {
		result.Errors = append(result.Errors, l.Errors...)
		result.Warnings = append(result.Warnings, l.Warnings...)
		if l.Hard {
			hard = true
		}
		if l.Escalate {
			escalate = true
		}
	}
	if s.Request.EscalationRequested {
		result.Warnings = append(result.Warnings, "escalation requested")
	}

	switch {
	case hard:
		result.Decision = VerdictRejected
	case escalate:
		result.Decision = VerdictPendingApproval
	default:
		result.Decision = VerdictApproved
	}
	result.Opinions = s.Opinions
	result.Votes = Tally(s.Opinions)
	result.CompletedAt = time.Now()
	return result, nil
}

func (p *Protocol) runStage(ctx context.Context, st Stage, s *Session) (LayerResult, error) {
	ctx, span := p.tracer.Start(ctx, "consensus."+st.Name())
	defer span.End()

	start := time.Now()
	lr, err := st.Evaluate(ctx, s)
	lr.Duration = time.Since(start)
	p.metrics.LayerDuration.WithLabelValues(s.Request.Domain, st.Name()).Observe(lr.Duration.Seconds())
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return lr, fmt.Errorf("layer %s: %w", st.Name(), err)
	}
	span.SetAttributes(attribute.Bool("consensus.passed", lr.Passed))
	return lr, nil
}
