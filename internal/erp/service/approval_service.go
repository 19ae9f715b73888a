package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/consensus"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ApprovalService 订单审批：快照BOM、预留物料、生成生产计划
type ApprovalService struct {
	db           *gorm.DB
	repos        *repository.Repositories
	bom          *BOMSnapshotService
	ledger       *StockLedger
	reservations *ReservationService
	protocol     *consensus.Protocol
	audit        *AuditService
	notifier     Notifier
	locker       Locker
	lockTTL      time.Duration
	metrics      *Metrics
	logger       *zap.Logger
	hook         StepHook
}

// ApprovalSummary 计划生成汇总
type ApprovalSummary struct {
	Created  int                     `json:"created"`
	Skipped  int                     `json:"skipped"`
	Errored  int                     `json:"errored"`
	Warnings []string                `json:"warnings"`
	Plans    []entity.ProductionPlan `json:"plans"`
}

// ApprovalResult 审批结果
type ApprovalResult struct {
	Order     *entity.Order     `json:"order"`
	Summary   ApprovalSummary   `json:"summary"`
	Consensus *consensus.Result `json:"consensus,omitempty"`
}

// SetStepHook 设置故障注入钩子
func (s *ApprovalService) SetStepHook(hook StepHook) {
	s.hook = hook
}

// productLine 按产品合并后的订单行
type productLine struct {
	ProductID string
	Quantity  float64
}

func mergeLines(items []entity.OrderItem) []productLine {
	index := make(map[string]int, len(items))
	lines := make([]productLine, 0, len(items))
	for _, it := range items {
		if i, ok := index[it.ProductID]; ok {
			lines[i].Quantity = round4(lines[i].Quantity + it.Quantity)
			continue
		}
		index[it.ProductID] = len(lines)
		lines = append(lines, productLine{ProductID: it.ProductID, Quantity: round4(it.Quantity)})
	}
	return lines
}

func urgencyOf(priority int) string {
	switch priority {
	case entity.PriorityCritical:
		return consensus.UrgencyCritical
	case entity.PriorityUrgent:
		return consensus.UrgencyHigh
	}
	return consensus.UrgencyMedium
}

// Approve 审批订单
func (s *ApprovalService) Approve(ctx context.Context, actor Actor, orderID string) (*ApprovalResult, error) {
	if err := requireRole(actor, RoleManager, RolePlanner); err != nil {
		return nil, err
	}

	lctx, cancel := context.WithTimeout(ctx, s.lockTTL)
	release, err := s.locker.Acquire(lctx, "erp:lock:order:"+orderID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("获取订单审批锁失败: %w", err)
	}
	defer release()

	result, err := s.approve(ctx, actor, orderID)
	s.metrics.Approvals.WithLabelValues(resultLabel(err)).Inc()
	return result, err
}

func (s *ApprovalService) approve(ctx context.Context, actor Actor, orderID string) (*ApprovalResult, error) {
	order, err := s.repos.Order.GetByID(ctx, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindOrderNotFound, "订单不存在: %s", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("读取订单失败: %w", err)
	}

	retry := order.Status == entity.OrderStatusInProduction
	if !retry && !CanTransitionOrder(order.Status, entity.OrderStatusInProduction) {
		return nil, orderTransitionError(order.Status, entity.OrderStatusInProduction)
	}
	if len(order.Items) == 0 {
		return nil, newError(KindOrderItemsMissing, "订单没有明细: %s", order.OrderCode)
	}

	lines := mergeLines(order.Items)
	summary := ApprovalSummary{Warnings: []string{}, Plans: []entity.ProductionPlan{}}

	// 重试时只处理还没有计划的产品
	if retry {
		pending, skipped, err := s.productsWithoutPlan(ctx, order.ID, lines)
		if err != nil {
			return nil, err
		}
		summary.Skipped = skipped
		lines = pending
		if len(lines) == 0 {
			return &ApprovalResult{Order: order, Summary: summary}, nil
		}
	}

	needs, bomMissing, err := s.aggregateNeeds(ctx, lines)
	if err != nil {
		return nil, err
	}

	shortfalls, err := s.ledger.FindShortfalls(ctx, nil, needs, BasisAvailable)
	if err != nil {
		return nil, err
	}
	if len(shortfalls) > 0 {
		serr := insufficientStock(shortfalls)
		s.audit.RecordRejection(ctx, actor, "approve_order", "order", order.ID, order.ID, "", serr)
		return nil, serr
	}

	var verdict *consensus.Result
	if !retry {
		verdict, err = s.validate(ctx, actor, order, lines, needs, bomMissing, &summary)
		if err != nil {
			return nil, err
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := s.repos.WithTx(tx)

		// 加锁后复核，以此为准
		shortfalls, err := s.ledger.FindShortfalls(ctx, tx, needs, BasisAvailable)
		if err != nil {
			return err
		}
		if len(shortfalls) > 0 {
			return insufficientStock(shortfalls)
		}

		if !retry {
			now := time.Now()
			ok, err := repos.Order.TransitionStatus(ctx, order.ID, entity.OrderStatusPending, entity.OrderStatusInProduction, map[string]interface{}{
				"approved_by": actor.ID,
				"approved_at": &now,
			})
			if err != nil {
				return fmt.Errorf("更新订单状态失败: %w", err)
			}
			if !ok {
				return newError(KindInvalidTransition, "订单状态已变更，请刷新后重试")
			}
		}
		if err := runHook(ctx, s.hook, tx, "order_transitioned"); err != nil {
			return err
		}

		for _, line := range lines {
			line := line
			perr := tx.Transaction(func(ptx *gorm.DB) error {
				return s.createPlan(ctx, ptx, actor, order, line, &summary)
			})
			if perr == nil {
				continue
			}
			if errors.Is(perr, ErrInsufficientStock) {
				return perr
			}
			summary.Errored++
			summary.Warnings = append(summary.Warnings, fmt.Sprintf("产品 %s 生成计划失败: %v", line.ProductID, perr))
			s.logger.Warn("plan creation failed",
				zap.String("order_id", order.ID),
				zap.String("product_id", line.ProductID),
				zap.Error(perr),
			)
		}
		return runHook(ctx, s.hook, tx, "before_commit")
	})
	if err != nil {
		if e, ok := AsError(err); ok && e.Kind == KindInsufficientStock {
			s.audit.RecordRejection(ctx, actor, "approve_order", "order", order.ID, order.ID, "", err)
		}
		return nil, err
	}

	updated, err := s.repos.Order.GetByID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("读取订单失败: %w", err)
	}

	s.audit.Record(ctx, &entity.AuditLog{
		Agent:      "approval",
		Action:     "approve_order",
		EntityType: "order",
		EntityID:   order.ID,
		OrderID:    order.ID,
		Decision:   "approved",
		Warnings:   summary.Warnings,
		Details: entity.JSONMap{
			"created": summary.Created,
			"skipped": summary.Skipped,
			"errored": summary.Errored,
			"retry":   retry,
		},
		RequestID: actor.RequestID,
		CreatedBy: actor.ID,
	})
	if err := s.notifier.Notify(ctx, EventOrderApproved, map[string]interface{}{
		"order_id":   order.ID,
		"order_code": order.OrderCode,
		"created":    summary.Created,
		"skipped":    summary.Skipped,
		"errored":    summary.Errored,
	}); err != nil {
		s.logger.Warn("failed to notify", zap.String("event", EventOrderApproved), zap.Error(err))
	}
	s.logger.Info("order approved",
		zap.String("order_id", order.ID),
		zap.String("actor", actor.ID),
		zap.Int("created", summary.Created),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errored", summary.Errored),
	)

	return &ApprovalResult{Order: updated, Summary: summary, Consensus: verdict}, nil
}

func (s *ApprovalService) productsWithoutPlan(ctx context.Context, orderID string, lines []productLine) ([]productLine, int, error) {
	plans, err := s.repos.Plan.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, 0, fmt.Errorf("读取生产计划失败: %w", err)
	}
	planned := make(map[string]bool, len(plans))
	for _, p := range plans {
		if p.Status != entity.PlanStatusCancelled {
			planned[p.ProductID] = true
		}
	}
	pending := make([]productLine, 0, len(lines))
	skipped := 0
	for _, l := range lines {
		if planned[l.ProductID] {
			skipped++
			continue
		}
		pending = append(pending, l)
	}
	return pending, skipped, nil
}

// aggregateNeeds 汇总所有产品的物料需求
func (s *ApprovalService) aggregateNeeds(ctx context.Context, lines []productLine) ([]MaterialNeed, []string, error) {
	productIDs := make([]string, 0, len(lines))
	for _, l := range lines {
		productIDs = append(productIDs, l.ProductID)
	}
	reqs, err := s.bom.Requirements(ctx, productIDs)
	if err != nil {
		return nil, nil, err
	}

	totals := make(map[string]*MaterialNeed)
	var bomMissing []string
	for _, l := range lines {
		items := reqs[l.ProductID]
		if len(items) == 0 {
			bomMissing = append(bomMissing, l.ProductID)
			continue
		}
		for _, it := range items {
			n, ok := totals[it.MaterialID]
			if !ok {
				n = &MaterialNeed{MaterialID: it.MaterialID, MaterialType: it.MaterialType}
				totals[it.MaterialID] = n
			}
			n.Quantity += round4(round4(it.QuantityNeeded) * l.Quantity)
		}
	}

	needs := make([]MaterialNeed, 0, len(totals))
	for _, n := range totals {
		n.Quantity = round4(n.Quantity)
		needs = append(needs, *n)
	}
	sort.Slice(needs, func(i, j int) bool { return needs[i].MaterialID < needs[j].MaterialID })
	return needs, bomMissing, nil
}

// validate 计划领域共识校验，阻塞式
func (s *ApprovalService) validate(ctx context.Context, actor Actor, order *entity.Order, lines []productLine, needs []MaterialNeed, bomMissing []string, summary *ApprovalSummary) (*consensus.Result, error) {
	var total float64
	for _, l := range lines {
		total += l.Quantity
	}
	critical, err := s.criticalCount(ctx, needs)
	if err != nil {
		return nil, err
	}
	data := map[string]interface{}{
		"line_count":        len(order.Items),
		"product_count":     len(lines),
		"material_count":    len(needs),
		"total_quantity":    total,
		"shortfall_count":   0,
		"critical_count":    critical,
		"bom_missing_count": len(bomMissing),
		"priority":          order.Priority,
	}
	if order.DeliveryDate != nil {
		data["days_to_delivery"] = time.Until(*order.DeliveryDate).Hours() / 24
	}

	req := &consensus.Request{
		Domain:        consensus.DomainPlanning,
		Action:        "approve_order",
		EntityType:    "order",
		EntityID:      order.ID,
		OrderID:       order.ID,
		RequesterID:   actor.ID,
		RequesterRole: actor.PrimaryRole(),
		Urgency:       urgencyOf(order.Priority),
		Severity:      "normal",
		Data:          data,
	}
	res, verr := s.protocol.Validate(ctx, req, s.orderStateChecker(order.ID))
	s.audit.RecordConsensus(ctx, actor, req, res, verr)

	if verr != nil {
		summary.Warnings = append(summary.Warnings, "consensus protocol skipped, proceed with manual approval")
		return nil, nil
	}
	switch res.Decision {
	case consensus.VerdictRejected:
		return nil, &Error{
			Kind:    KindConsensusRejected,
			Message: "共识校验未通过: " + strings.Join(res.Errors, "; "),
			Verdict: res,
		}
	case consensus.VerdictPendingApproval:
		return nil, &Error{
			Kind:    KindConsensusPendingApproval,
			Message: "需要人工审批",
			Verdict: res,
		}
	case consensus.VerdictSkipped:
		summary.Warnings = append(summary.Warnings, "consensus protocol skipped")
	}
	summary.Warnings = append(summary.Warnings, res.Warnings...)
	return res, nil
}

// criticalCount 审批后将低于安全库存的物料数
func (s *ApprovalService) criticalCount(ctx context.Context, needs []MaterialNeed) (int, error) {
	ids := make([]string, 0, len(needs))
	byID := make(map[string]float64, len(needs))
	for _, n := range needs {
		ids = append(ids, n.MaterialID)
		byID[n.MaterialID] = n.Quantity
	}
	items, err := s.repos.Stock.GetByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("读取库存失败: %w", err)
	}
	count := 0
	for _, it := range items {
		if it.CriticalLevel > 0 && lessThan(it.Available()-byID[it.ID], it.CriticalLevel) {
			count++
		}
	}
	return count, nil
}

// orderStateChecker 第四层：订单持久化状态
func (s *ApprovalService) orderStateChecker(orderID string) consensus.StateChecker {
	return func(ctx context.Context, req *consensus.Request) ([]string, []string) {
		order, err := s.repos.Order.GetByID(ctx, orderID)
		if err != nil {
			return []string{"order not readable: " + err.Error()}, nil
		}
		var errs, warns []string
		if order.Status != entity.OrderStatusPending {
			errs = append(errs, "order is "+order.Status)
		}
		if len(order.Items) == 0 {
			errs = append(errs, "order has no items")
		}
		if order.AssignedOperatorID == "" {
			warns = append(warns, "order has no assigned operator")
		}
		return errs, warns
	}
}

// createPlan 在保存点内为一个产品生成计划
func (s *ApprovalService) createPlan(ctx context.Context, tx *gorm.DB, actor Actor, order *entity.Order, line productLine, summary *ApprovalSummary) error {
	repos := s.repos.WithTx(tx)

	existing, err := repos.Plan.FindActive(ctx, order.ID, line.ProductID)
	if err != nil {
		return fmt.Errorf("查询生产计划失败: %w", err)
	}
	if existing != nil {
		summary.Skipped++
		return nil
	}

	id := uuid.New().String()
	plan := entity.ProductionPlan{
		ID:                 id,
		PlanCode:           fmt.Sprintf("PP-%s-%s", time.Now().Format("20060102"), strings.ToUpper(id[:8])),
		OrderID:            order.ID,
		ProductID:          line.ProductID,
		PlannedQuantity:    line.Quantity,
		Status:             entity.PlanStatusPlanned,
		AssignedOperatorID: order.AssignedOperatorID,
		CreatedBy:          actor.ID,
	}
	if err := repos.Plan.Create(ctx, &plan); err != nil {
		return fmt.Errorf("创建生产计划失败: %w", err)
	}

	var warning string
	lines, err := s.bom.Snapshot(ctx, tx, plan.ID, line.ProductID)
	if err != nil {
		if KindOf(err) != KindBOMMissing {
			return err
		}
		warning = fmt.Sprintf("产品 %s 没有BOM，计划不占用物料", line.ProductID)
	}
	if len(lines) > 0 {
		if _, err := s.reservations.OpenReservations(ctx, tx, order.ID, plan.ID, lines, plan.PlannedQuantity, actor.ID); err != nil {
			return err
		}
	}
	if err := runHook(ctx, s.hook, tx, "plan_created"); err != nil {
		return err
	}

	summary.Created++
	summary.Plans = append(summary.Plans, plan)
	if warning != "" {
		summary.Warnings = append(summary.Warnings, warning)
	}
	return nil
}
