package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/consensus"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ProductionService 生产报工
type ProductionService struct {
	db           *gorm.DB
	repos        *repository.Repositories
	bom          *BOMSnapshotService
	ledger       *StockLedger
	reservations *ReservationService
	protocol     *consensus.Protocol
	audit        *AuditService
	notifier     Notifier
	alerter      Alerter
	metrics      *Metrics
	logger       *zap.Logger
	hook         StepHook
}

// SetStepHook 设置故障注入钩子
func (s *ProductionService) SetStepHook(hook StepHook) {
	s.hook = hook
}

// LogRequest 报工请求
type LogRequest struct {
	PlanID           string  `json:"plan_id" binding:"required"`
	BarcodeScanned   string  `json:"barcode_scanned" binding:"required"`
	QuantityProduced float64 `json:"quantity_produced" binding:"required,gt=0"`
}

// PlanProgress 计划进度
type PlanProgress struct {
	Produced   float64 `json:"produced"`
	Planned    float64 `json:"planned"`
	Remaining  float64 `json:"remaining"`
	Percentage float64 `json:"percentage"`
}

func progressOf(plan *entity.ProductionPlan) PlanProgress {
	p := PlanProgress{
		Produced:  round4(plan.ProducedQuantity),
		Planned:   round4(plan.PlannedQuantity),
		Remaining: round4(plan.Remaining()),
	}
	if plan.PlannedQuantity > 0 {
		p.Percentage = math.Round(plan.ProducedQuantity/plan.PlannedQuantity*10000) / 100
	}
	return p
}

// StockUpdate 报工引起的库存变化
type StockUpdate struct {
	MaterialID       string  `json:"material_id"`
	MaterialType     string  `json:"material_type"`
	MaterialCode     string  `json:"material_code"`
	MovementType     string  `json:"movement_type"`
	Delta            float64 `json:"delta"`
	Quantity         float64 `json:"quantity"`
	ReservedQuantity float64 `json:"reserved_quantity"`
}

// LogResult 报工结果
type LogResult struct {
	Log            entity.ProductionLog `json:"log"`
	PlanProgress   PlanProgress         `json:"plan_progress"`
	StockUpdates   []StockUpdate        `json:"stock_updates"`
	PlanCompleted  bool                 `json:"plan_completed"`
	OrderCompleted bool                 `json:"order_completed"`
	Warnings       []string             `json:"warnings"`
}

// Log 提交一次报工
func (s *ProductionService) Log(ctx context.Context, actor Actor, req LogRequest) (*LogResult, error) {
	start := time.Now()
	result, err := s.log(ctx, actor, req)
	s.metrics.ProductionLogs.WithLabelValues(resultLabel(err)).Inc()
	s.metrics.ProductionLogDuration.Observe(time.Since(start).Seconds())
	return result, err
}

func (s *ProductionService) log(ctx context.Context, actor Actor, req LogRequest) (*LogResult, error) {
	if err := requireRole(actor, RoleOperator); err != nil {
		return nil, err
	}
	qty := round4(req.QuantityProduced)
	if qty <= 0 {
		return nil, newError(KindValidation, "报工数量必须大于0")
	}
	if req.BarcodeScanned == "" {
		return nil, newError(KindValidation, "条码不能为空")
	}

	plan, err := s.repos.Plan.GetByID(ctx, req.PlanID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newError(KindPlanNotFound, "生产计划不存在: %s", req.PlanID)
	}
	if err != nil {
		return nil, fmt.Errorf("读取生产计划失败: %w", err)
	}
	if plan.AssignedOperatorID == "" {
		return nil, newError(KindForbidden, "计划尚未分配操作员，请先接单")
	}
	if plan.AssignedOperatorID != actor.ID {
		return nil, newError(KindForbidden, "计划未分配给当前操作员")
	}

	if err := s.ensureStarted(ctx, plan); err != nil {
		s.rejected(ctx, actor, plan, err)
		return nil, err
	}

	product, err := s.repos.Stock.GetByID(ctx, plan.ProductID)
	if err != nil {
		return nil, fmt.Errorf("读取成品失败: %w", err)
	}
	if req.BarcodeScanned != product.Identifier() {
		werr := &Error{
			Kind:     KindWrongIdentifier,
			Message:  fmt.Sprintf("条码不匹配: 期望 %s, 实际 %s", product.Identifier(), req.BarcodeScanned),
			Expected: product.Identifier(),
			Given:    req.BarcodeScanned,
		}
		s.audit.RecordRejection(ctx, actor, "log_production", "plan", plan.ID, plan.OrderID, plan.ID, werr)
		return nil, werr
	}

	if greaterThan(qty, plan.Remaining()) {
		qerr := &Error{
			Kind:      KindQuantityExceeded,
			Message:   fmt.Sprintf("报工数量超出剩余: 剩余%.4f, 本次%.4f", plan.Remaining(), qty),
			Remaining: round4(plan.Remaining()),
		}
		s.audit.RecordRejection(ctx, actor, "log_production", "plan", plan.ID, plan.OrderID, plan.ID, qerr)
		return nil, qerr
	}

	lines, err := s.bom.Lines(ctx, nil, plan.ID)
	if err != nil {
		return nil, fmt.Errorf("读取BOM快照失败: %w", err)
	}
	needs := lineNeeds(lines, qty)
	shortfalls, err := s.ledger.FindShortfalls(ctx, nil, needs, BasisOnHand)
	if err != nil {
		return nil, err
	}
	if len(shortfalls) > 0 {
		serr := insufficientStock(shortfalls)
		s.audit.RecordRejection(ctx, actor, "log_production", "plan", plan.ID, plan.OrderID, plan.ID, serr)
		return nil, serr
	}

	result := &LogResult{Warnings: []string{}, StockUpdates: []StockUpdate{}}
	s.advise(ctx, actor, plan, qty, result)

	var violation *Error
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var terr error
		violation, terr = s.apply(ctx, tx, actor, plan.ID, req.BarcodeScanned, qty, lines, result)
		return terr
	})
	if err != nil {
		if violation != nil {
			s.reportViolation(ctx, actor, plan, violation)
		} else {
			s.rejected(ctx, actor, plan, err)
		}
		return nil, err
	}

	s.afterCommit(ctx, plan, result)
	return result, nil
}

func lineNeeds(lines []entity.BOMSnapshotLine, qty float64) []MaterialNeed {
	needs := make([]MaterialNeed, 0, len(lines))
	for _, l := range lines {
		needs = append(needs, MaterialNeed{
			MaterialID:   l.MaterialID,
			MaterialType: l.MaterialType,
			Quantity:     round4(l.QuantityNeeded * qty),
		})
	}
	return needs
}

// ensureStarted 首次报工时 planned -> in_progress
func (s *ProductionService) ensureStarted(ctx context.Context, plan *entity.ProductionPlan) error {
	if plan.Status == entity.PlanStatusInProgress {
		return nil
	}
	if plan.Status != entity.PlanStatusPlanned {
		return newError(KindPlanNotActive, "计划状态不允许报工: %s", plan.Status)
	}
	now := time.Now()
	ok, err := s.repos.Plan.TransitionStatus(ctx, plan.ID, entity.PlanStatusPlanned, entity.PlanStatusInProgress, map[string]interface{}{
		"started_at": &now,
	})
	if err != nil {
		return fmt.Errorf("启动生产计划失败: %w", err)
	}
	if ok {
		plan.Status = entity.PlanStatusInProgress
		plan.StartedAt = &now
		return nil
	}
	// 并发报工已经启动了计划
	fresh, err := s.repos.Plan.GetByID(ctx, plan.ID)
	if err != nil {
		return fmt.Errorf("读取生产计划失败: %w", err)
	}
	if fresh.Status != entity.PlanStatusInProgress {
		return newError(KindPlanNotActive, "计划状态不允许报工: %s", fresh.Status)
	}
	*plan = *fresh
	return nil
}

// advise 生产领域共识校验，仅作参考
func (s *ProductionService) advise(ctx context.Context, actor Actor, plan *entity.ProductionPlan, qty float64, result *LogResult) {
	req := &consensus.Request{
		Domain:        consensus.DomainProduction,
		Action:        "log_production",
		EntityType:    "plan",
		EntityID:      plan.ID,
		OrderID:       plan.OrderID,
		PlanID:        plan.ID,
		RequesterID:   actor.ID,
		RequesterRole: actor.PrimaryRole(),
		Urgency:       consensus.UrgencyMedium,
		Severity:      "normal",
		Data: map[string]interface{}{
			"quantity":  qty,
			"remaining": plan.Remaining(),
			"planned":   plan.PlannedQuantity,
			"produced":  plan.ProducedQuantity,
		},
	}
	res, verr := s.protocol.Validate(ctx, req, s.planStateChecker(plan.ID))
	if verr != nil {
		result.Warnings = append(result.Warnings, "consensus protocol skipped")
		s.audit.RecordConsensus(ctx, actor, req, nil, verr)
		return
	}
	switch res.Decision {
	case consensus.VerdictSkipped:
		result.Warnings = append(result.Warnings, "consensus protocol skipped")
		return
	case consensus.VerdictApproved:
	default:
		result.Warnings = append(result.Warnings, "consensus "+res.Decision+" (advisory)")
	}
	result.Warnings = append(result.Warnings, res.Warnings...)
	s.audit.RecordConsensus(ctx, actor, req, res, nil)
}

func (s *ProductionService) planStateChecker(planID string) consensus.StateChecker {
	return func(ctx context.Context, req *consensus.Request) ([]string, []string) {
		plan, err := s.repos.Plan.GetByID(ctx, planID)
		if err != nil {
			return []string{"plan not readable: " + err.Error()}, nil
		}
		if plan.Status != entity.PlanStatusInProgress {
			return []string{"plan is " + plan.Status}, nil
		}
		return nil, nil
	}
}

// apply 单个事务内完成报工的全部写入
// 返回的 *Error 非空表示一致性校验失败
func (s *ProductionService) apply(ctx context.Context, tx *gorm.DB, actor Actor, planID, barcode string, qty float64, lines []entity.BOMSnapshotLine, result *LogResult) (*Error, error) {
	repos := s.repos.WithTx(tx)

	plan, err := repos.Plan.GetForUpdate(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("锁定生产计划失败: %w", err)
	}
	if plan.Status != entity.PlanStatusInProgress {
		return nil, newError(KindPlanNotActive, "计划状态不允许报工: %s", plan.Status)
	}
	if greaterThan(qty, plan.Remaining()) {
		return nil, &Error{
			Kind:      KindQuantityExceeded,
			Message:   fmt.Sprintf("报工数量超出剩余: 剩余%.4f, 本次%.4f", plan.Remaining(), qty),
			Remaining: round4(plan.Remaining()),
		}
	}

	ids := []string{plan.ProductID}
	for _, l := range lines {
		ids = append(ids, l.MaterialID)
	}
	if _, err := s.ledger.Lock(ctx, tx, ids); err != nil {
		return nil, err
	}
	shortfalls, err := s.ledger.FindShortfalls(ctx, tx, lineNeeds(lines, qty), BasisOnHand)
	if err != nil {
		return nil, err
	}
	if len(shortfalls) > 0 {
		return nil, insufficientStock(shortfalls)
	}
	if err := runHook(ctx, s.hook, tx, "locked"); err != nil {
		return nil, err
	}

	log := entity.ProductionLog{
		ID:               uuid.New().String(),
		PlanID:           plan.ID,
		OperatorID:       actor.ID,
		BarcodeScanned:   barcode,
		QuantityProduced: qty,
	}
	if err := repos.ProductionLog.Create(ctx, &log); err != nil {
		return nil, fmt.Errorf("保存报工记录失败: %w", err)
	}
	if err := runHook(ctx, s.hook, tx, "log_created"); err != nil {
		return nil, err
	}

	openIDs, err := s.reservations.MaterialIDs(ctx, tx, plan.ID)
	if err != nil {
		return nil, err
	}
	final := nearlyEqual(plan.ProducedQuantity+qty, plan.PlannedQuantity)
	draws, err := s.reservations.RecordConsumption(ctx, tx, plan.ID, qty, plan.PlannedQuantity, final)
	if err != nil {
		return nil, err
	}
	if err := runHook(ctx, s.hook, tx, "reservations_recorded"); err != nil {
		return nil, err
	}

	amounts := make(map[string]float64, len(lines))
	for _, d := range draws {
		amounts[d.MaterialID] += d.Amount
	}
	// 有活跃预留的物料按预留消耗，其余按快照用量
	reserved := make(map[string]bool, len(lines))
	for _, id := range openIDs {
		reserved[id] = true
	}
	ref := StockRef{Type: entity.RefLog, ID: log.ID, Actor: actor.ID}
	expected := 0
	sorted := append([]entity.BOMSnapshotLine(nil), lines...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].MaterialID < sorted[j].MaterialID })
	for _, l := range sorted {
		amount := amounts[l.MaterialID]
		consume := s.ledger.Consume
		if !reserved[l.MaterialID] {
			amount = round4(l.QuantityNeeded * qty)
			consume = s.ledger.ConsumeUnreserved
		}
		if amount <= 0 {
			continue
		}
		item, err := consume(ctx, tx, l.MaterialID, amount, ref)
		if err != nil {
			return nil, err
		}
		expected++
		result.StockUpdates = append(result.StockUpdates, stockUpdateOf(item, entity.MovementProductionOut, -amount))
	}
	if err := runHook(ctx, s.hook, tx, "materials_consumed"); err != nil {
		return nil, err
	}

	item, err := s.ledger.Receive(ctx, tx, plan.ProductID, qty, ref)
	if err != nil {
		return nil, err
	}
	expected++
	result.StockUpdates = append(result.StockUpdates, stockUpdateOf(item, entity.MovementProductionIn, qty))
	if err := runHook(ctx, s.hook, tx, "finished_received"); err != nil {
		return nil, err
	}

	ok, err := repos.Plan.AddProduced(ctx, plan.ID, qty)
	if err != nil {
		return nil, fmt.Errorf("更新生产进度失败: %w", err)
	}
	if !ok {
		return nil, &Error{Kind: KindQuantityExceeded, Message: "报工数量超出剩余", Remaining: round4(plan.Remaining())}
	}
	plan.ProducedQuantity = round4(plan.ProducedQuantity + qty)

	if final {
		now := time.Now()
		ok, err := repos.Plan.TransitionStatus(ctx, plan.ID, entity.PlanStatusInProgress, entity.PlanStatusCompleted, map[string]interface{}{
			"completed_at": &now,
		})
		if err != nil {
			return nil, fmt.Errorf("完成生产计划失败: %w", err)
		}
		if !ok {
			return nil, newError(KindPlanNotActive, "计划状态已变更")
		}
		plan.Status = entity.PlanStatusCompleted
		plan.CompletedAt = &now
		if _, err := s.reservations.CloseReservations(ctx, tx, plan.ID, entity.ReservationCompleted, actor.ID); err != nil {
			return nil, err
		}
		result.PlanCompleted = true
		done, err := syncOrderCompletion(ctx, repos, plan.OrderID)
		if err != nil {
			return nil, err
		}
		result.OrderCompleted = done
	}
	if err := runHook(ctx, s.hook, tx, "progress_updated"); err != nil {
		return nil, err
	}

	count, err := repos.Stock.CountMovements(ctx, entity.RefLog, log.ID)
	if err != nil {
		return nil, fmt.Errorf("校验库存流水失败: %w", err)
	}
	if count != int64(expected) {
		v := &Error{
			Kind:    KindConsistencyViolation,
			Message: fmt.Sprintf("库存流水不一致: 期望%d条, 实际%d条", expected, count),
		}
		return v, v
	}

	log.CreatedAt = time.Now()
	result.Log = log
	result.PlanProgress = progressOf(plan)
	return nil, nil
}

func stockUpdateOf(item *entity.StockItem, movementType string, delta float64) StockUpdate {
	return StockUpdate{
		MaterialID:       item.ID,
		MaterialType:     item.MaterialType,
		MaterialCode:     item.Code,
		MovementType:     movementType,
		Delta:            round4(delta),
		Quantity:         round4(item.Quantity),
		ReservedQuantity: round4(item.ReservedQuantity),
	}
}

// syncOrderCompletion 订单所有未取消计划完成后订单完成
func syncOrderCompletion(ctx context.Context, repos *repository.Repositories, orderID string) (bool, error) {
	plans, err := repos.Plan.ListByOrder(ctx, orderID)
	if err != nil {
		return false, fmt.Errorf("读取生产计划失败: %w", err)
	}
	completed := 0
	for _, p := range plans {
		switch p.Status {
		case entity.PlanStatusCompleted:
			completed++
		case entity.PlanStatusCancelled:
		default:
			return false, nil
		}
	}
	if completed == 0 {
		return false, nil
	}
	ok, err := repos.Order.TransitionStatus(ctx, orderID, entity.OrderStatusInProduction, entity.OrderStatusCompleted, nil)
	if err != nil {
		return false, fmt.Errorf("更新订单状态失败: %w", err)
	}
	return ok, nil
}

// rejected 业务规则拒绝写审计，基础设施错误不记录
func (s *ProductionService) rejected(ctx context.Context, actor Actor, plan *entity.ProductionPlan, err error) {
	switch KindOf(err) {
	case KindPlanNotActive, KindQuantityExceeded, KindInsufficientStock, KindOverConsumption, KindWrongIdentifier:
		s.audit.RecordRejection(ctx, actor, "log_production", "plan", plan.ID, plan.OrderID, plan.ID, err)
	}
}

func (s *ProductionService) reportViolation(ctx context.Context, actor Actor, plan *entity.ProductionPlan, v *Error) {
	s.metrics.ConsistencyViolations.Inc()
	s.logger.Error("production log rolled back on consistency violation",
		zap.String("plan_id", plan.ID),
		zap.String("order_id", plan.OrderID),
		zap.String("actor", actor.ID),
		zap.String("detail", v.Message),
	)
	s.audit.RecordRejection(ctx, actor, "log_production", "plan", plan.ID, plan.OrderID, plan.ID, v)

	fields := map[string]string{
		"plan":     plan.PlanCode,
		"order_id": plan.OrderID,
		"operator": actor.ID,
	}
	if err := s.alerter.Alert(ctx, "库存一致性告警", entity.SeverityCritical, v.Message, fields); err != nil {
		s.logger.Warn("failed to send alert", zap.Error(err))
	}
	if err := s.notifier.Notify(ctx, EventConsistencyAlert, map[string]interface{}{
		"plan_id": plan.ID,
		"detail":  v.Message,
	}); err != nil {
		s.logger.Warn("failed to notify", zap.String("event", EventConsistencyAlert), zap.Error(err))
	}
}

func (s *ProductionService) afterCommit(ctx context.Context, plan *entity.ProductionPlan, result *LogResult) {
	events := []string{EventProductionLogged}
	if result.PlanCompleted {
		events = append(events, EventPlanCompleted)
	}
	if result.OrderCompleted {
		events = append(events, EventOrderCompleted)
	}
	for _, ev := range events {
		if err := s.notifier.Notify(ctx, ev, map[string]interface{}{
			"plan_id":  plan.ID,
			"order_id": plan.OrderID,
			"log_id":   result.Log.ID,
			"progress": result.PlanProgress,
		}); err != nil {
			s.logger.Warn("failed to notify", zap.String("event", ev), zap.Error(err))
		}
	}
	s.logger.Info("production logged",
		zap.String("plan_id", plan.ID),
		zap.String("log_id", result.Log.ID),
		zap.Float64("produced", result.PlanProgress.Produced),
		zap.Float64("planned", result.PlanProgress.Planned),
		zap.Bool("plan_completed", result.PlanCompleted),
	)
}

// ListLogs 计划的报工记录
func (s *ProductionService) ListLogs(ctx context.Context, planID string) ([]entity.ProductionLog, error) {
	return s.repos.ProductionLog.ListByPlan(ctx, planID)
}
