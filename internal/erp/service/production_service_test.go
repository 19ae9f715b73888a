package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/consensus"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func logReq(plan *entity.ProductionPlan, b bike, qty float64) LogRequest {
	return LogRequest{PlanID: plan.ID, BarcodeScanned: b.product.Barcode, QuantityProduced: qty}
}

func TestLogProductionHappyPath(t *testing.T) {
	f := newFixture(t)
	b := seedBike(t, f.db, 100, 50)
	plan := f.approvedPlan(t, b, 10, "op-1")

	res, err := f.svc.Production.Log(context.Background(), operatorActor("op-1"), logReq(plan, b, 4))
	require.NoError(t, err)

	assert.InDelta(t, 4, res.PlanProgress.Produced, 1e-9)
	assert.InDelta(t, 6, res.PlanProgress.Remaining, 1e-9)
	assert.InDelta(t, 40, res.PlanProgress.Percentage, 1e-9)
	assert.False(t, res.PlanCompleted)
	assert.Len(t, res.StockUpdates, 3)

	x := testutil.ReloadStock(t, f.db, b.x.ID)
	assert.InDelta(t, 92, x.Quantity, 1e-9)
	assert.InDelta(t, 12, x.ReservedQuantity, 1e-9)
	y := testutil.ReloadStock(t, f.db, b.y.ID)
	assert.InDelta(t, 48, y.Quantity, 1e-9)
	assert.InDelta(t, 3, y.ReservedQuantity, 1e-9)
	assert.InDelta(t, 4, testutil.ReloadStock(t, f.db, b.product.ID).Quantity, 1e-9)

	reloaded, _ := f.repos.Plan.GetByID(context.Background(), plan.ID)
	assert.Equal(t, entity.PlanStatusInProgress, reloaded.Status)
	assert.NotNil(t, reloaded.StartedAt)
	assert.InDelta(t, 4, reloaded.ProducedQuantity, 1e-9)

	for _, r := range f.reservations(t, plan.ID) {
		assert.InDelta(t, r.ReservedQuantity*0.4, r.ConsumedQuantity, 1e-9)
	}
	assert.EqualValues(t, 3, f.countRows(t, &entity.StockMovement{}, "reference_type = ? AND reference_id = ?", entity.RefLog, res.Log.ID))
	assert.True(t, f.notifier.Has(EventProductionLogged))
	f.assertLedgerInvariants(t)
}

func TestLogProductionAcceptsCodeWhenNoBarcode(t *testing.T) {
	f := newFixture(t)
	b := seedBike(t, f.db, 100, 50)
	require.NoError(t, f.db.Model(b.product).Update("barcode", "").Error)
	plan := f.approvedPlan(t, b, 2, "op-1")

	_, err := f.svc.Production.Log(context.Background(), operatorActor("op-1"), LogRequest{
		PlanID: plan.ID, BarcodeScanned: b.product.Code, QuantityProduced: 1,
	})
	require.NoError(t, err)
}

func TestLogProductionWrongIdentifier(t *testing.T) {
	f := newFixture(t)
	b := seedBike(t, f.db, 100, 50)
	plan := f.approvedPlan(t, b, 10, "op-1")

	_, err := f.svc.Production.Log(context.Background(), operatorActor("op-1"), LogRequest{
		PlanID: plan.ID, BarcodeScanned: "BC-NOPE", QuantityProduced: 1,
	})
	require.True(t, errors.Is(err, ErrWrongIdentifier))
	e, _ := AsError(err)
	assert.Equal(t, b.product.Barcode, e.Expected)
	assert.Equal(t, "BC-NOPE", e.Given)
	assert.EqualValues(t, 0, f.countRows(t, &entity.ProductionLog{}, ""))
}

func TestLogProductionRejectsCodeWhenBarcodeSet(t *testing.T) {
	f := newFixture(t)
	b := seedBike(t, f.db, 100, 50)
	require.NotEmpty(t, b.product.Barcode)
	plan := f.approvedPlan(t, b, 10, "op-1")

	_, err := f.svc.Production.Log(context.Background(), operatorActor("op-1"), LogRequest{
		PlanID: plan.ID, BarcodeScanned: b.product.Code, QuantityProduced: 1,
	})
	require.True(t, errors.Is(err, ErrWrongIdentifier))
	e, _ := AsError(err)
	assert.Equal(t, b.product.Barcode, e.Expected)
	assert.Equal(t, b.product.Code, e.Given)
	assert.EqualValues(t, 0, f.countRows(t, &entity.ProductionLog{}, ""))
	assert.InDelta(t, 0, testutil.ReloadStock(t, f.db, b.product.ID).Quantity, 1e-9)
}

func TestLogProductionOverQuantity(t *testing.T) {
	f := newFixture(t)
	b := seedBike(t, f.db, 100, 50)
	plan := f.approvedPlan(t, b, 10, "op-1")
	op := operatorActor("op-1")

	_, err := f.svc.Production.Log(context.Background(), op, logReq(plan, b, 8))
	require.NoError(t, err)
	before := f.countRows(t, &entity.StockMovement{}, "")
	x := testutil.ReloadStock(t, f.db, b.x.ID)

	_, err = f.svc.Production.Log(context.Background(), op, logReq(plan, b, 5))
	require.True(t, errors.Is(err, ErrQuantityExceeded))
	e, _ := AsError(err)
	assert.InDelta(t, 2, e.Remaining, 1e-9)

	assert.Equal(t, before, f.countRows(t, &entity.StockMovement{}, ""))
	after := testutil.ReloadStock(t, f.db, b.x.ID)
	assert.Equal(t, x.Quantity, after.Quantity)
	assert.Equal(t, x.ReservedQuantity, after.ReservedQuantity)
	assert.EqualValues(t, 1, f.countRows(t, &entity.ProductionLog{}, ""))
}

func TestLogProductionValidation(t *testing.T) {
	f := newFixture(t)
	b := seedBike(t, f.db, 100, 50)
	plan := f.approvedPlan(t, b, 10, "op-1")

	cases := []struct {
		name  string
		actor Actor
		req   LogRequest
		kind  ErrorKind
	}{
		{"anonymous", Actor{}, logReq(plan, b, 1), KindUnauthorized},
		{"manager is not an operator", managerActor, logReq(plan, b, 1), KindForbidden},
		{"zero quantity", operatorActor("op-1"), logReq(plan, b, 0), KindValidation},
		{"negative quantity", operatorActor("op-1"), logReq(plan, b, -2), KindValidation},
		{"empty barcode", operatorActor("op-1"), LogRequest{PlanID: plan.ID, QuantityProduced: 1}, KindValidation},
		{"unknown plan", operatorActor("op-1"), LogRequest{PlanID: "nope", BarcodeScanned: "x", QuantityProduced: 1}, KindPlanNotFound},
		{"other operator", operatorActor("op-2"), logReq(plan, b, 1), KindForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Production.Log(context.Background(), tc.actor, tc.req)
			assert.Equal(t, tc.kind, KindOf(err))
		})
	}

	reloaded, _ := f.repos.Plan.GetByID(context.Background(), plan.ID)
	assert.Equal(t, entity.PlanStatusPlanned, reloaded.Status)
	assert.EqualValues(t, 0, f.countRows(t, &entity.ProductionLog{}, ""))
}

func TestLogProductionUnassignedPlanRequiresAccept(t *testing.T) {
	f := newFixture(t)
	b := seedBike(t, f.db, 100, 50)
	plan := f.approvedPlan(t, b, 10, "")
	op := operatorActor("op-9")

	_, err := f.svc.Production.Log(context.Background(), op, logReq(plan, b, 1))
	assert.Equal(t, KindForbidden, KindOf(err))
	assert.EqualValues(t, 0, f.countRows(t, &entity.ProductionLog{}, ""))

	_, err = f.svc.Plan.Accept(context.Background(), op, plan.ID)
	require.NoError(t, err)
	_, err = f.svc.Production.Log(context.Background(), op, logReq(plan, b, 1))
	require.NoError(t, err)

	_, err = f.svc.Production.Log(context.Background(), operatorActor("op-1"), logReq(plan, b, 1))
	assert.Equal(t, KindForbidden, KindOf(err))
}

func TestLogProductionPlanNotActive(t *testing.T) {
	f := newFixture(t)
	b := seedBike(t, f.db, 100, 50)
	plan := f.approvedPlan(t, b, 10, "op-1")
	op := operatorActor("op-1")

	_, err := f.svc.Production.Log(context.Background(), op, logReq(plan, b, 1))
	require.NoError(t, err)
	_, err = f.svc.Plan.Pause(context.Background(), op, plan.ID)
	require.NoError(t, err)

	before := f.rejectedLogs(t)
	_, err = f.svc.Production.Log(context.Background(), op, logReq(plan, b, 1))
	assert.True(t, errors.Is(err, ErrPlanNotActive))
	assert.Equal(t, before+1, f.rejectedLogs(t))
}

// dropReservation 删除计划在某物料上的预留并归还预留数量
func (f *fixture) dropReservation(t *testing.T, planID, materialID string) {
	t.Helper()
	var r entity.Reservation
	require.NoError(t, f.db.Where("plan_id = ? AND material_id = ?", planID, materialID).First(&r).Error)
	require.NoError(t, f.db.Delete(&r).Error)
	require.NoError(t, f.db.Model(&entity.StockItem{}).Where("id = ?", materialID).
		Update("reserved_quantity", gorm.Expr("reserved_quantity - ?", r.ReservedQuantity)).Error)
}

func (f *fixture) rejectedLogs(t *testing.T) int64 {
	return f.countRows(t, &entity.AuditLog{}, "agent = ? AND action = ? AND decision = ?", "rules", "log_production", "rejected")
}

func TestLogProductionUnreservedMaterialKeepsOtherClaims(t *testing.T) {
	f := newFixture(t)
	b := seedBike(t, f.db, 100, 50)
	plan := f.approvedPlan(t, b, 4, "op-1")
	f.dropReservation(t, plan.ID, b.x.ID)
	f.approvedPlan(t, b, 10, "op-2")
	require.InDelta(t, 20, testutil.ReloadStock(t, f.db, b.x.ID).ReservedQuantity, 1e-9)

	res, err := f.svc.Production.Log(context.Background(), operatorActor("op-1"), logReq(plan, b, 2))
	require.NoError(t, err)
	assert.Len(t, res.StockUpdates, 3)

	x := testutil.ReloadStock(t, f.db, b.x.ID)
	assert.InDelta(t, 96, x.Quantity, 1e-9)
	assert.InDelta(t, 20, x.ReservedQuantity, 1e-9)
	f.assertLedgerInvariants(t)
}

func TestLogProductionUnreservedDrawCannotTakeOtherClaims(t *testing.T) {
	f := newFixture(t)
	b := seedBike(t, f.db, 100, 50)
	plan := f.approvedPlan(t, b, 4, "op-1")
	f.dropReservation(t, plan.ID, b.x.ID)
	// 另一计划占用96，可用只剩4
	f.approvedPlan(t, b, 48, "op-2")

	before := f.rejectedLogs(t)
	_, err := f.svc.Production.Log(context.Background(), operatorActor("op-1"), logReq(plan, b, 4))
	require.True(t, errors.Is(err, ErrInsufficientStock))
	assert.Equal(t, before+1, f.rejectedLogs(t))

	x := testutil.ReloadStock(t, f.db, b.x.ID)
	assert.InDelta(t, 100, x.Quantity, 1e-9)
	assert.InDelta(t, 96, x.ReservedQuantity, 1e-9)
	assert.EqualValues(t, 0, f.countRows(t, &entity.ProductionLog{}, ""))
	f.assertLedgerInvariants(t)
}

func TestLogProductionInsufficientOnHand(t *testing.T) {
	f := newFixture(t)
	b := seedBike(t, f.db, 100, 50)
	plan := f.approvedPlan(t, b, 10, "op-1")

	// 审批后手工盘亏
	_, err := f.svc.Stock.Adjust(context.Background(), b.x.ID, -95, "cycle count", "mgr-1")
	require.NoError(t, err)

	_, err = f.svc.Production.Log(context.Background(), operatorActor("op-1"), logReq(plan, b, 4))
	require.True(t, errors.Is(err, ErrInsufficientStock))
	e, _ := AsError(err)
	require.Len(t, e.Shortfalls, 1)
	assert.Equal(t, "X-FRAME", e.Shortfalls[0].MaterialCode)
	assert.InDelta(t, 8, e.Shortfalls[0].Needed, 1e-9)
	assert.InDelta(t, 5, e.Shortfalls[0].Available, 1e-9)
	assert.InDelta(t, 3, e.Shortfalls[0].Shortfall, 1e-9)
	assert.EqualValues(t, 0, f.countRows(t, &entity.ProductionLog{}, ""))
}

func TestLogProductionCompletesPlanAndOrder(t *testing.T) {
	f := newFixture(t)
	b := seedBike(t, f.db, 100, 50)
	plan := f.approvedPlan(t, b, 10, "op-1")
	op := operatorActor("op-1")

	var last *LogResult
	for _, q := range []float64{3, 3, 4} {
		res, err := f.svc.Production.Log(context.Background(), op, logReq(plan, b, q))
		require.NoError(t, err)
		last = res
	}
	assert.True(t, last.PlanCompleted)
	assert.True(t, last.OrderCompleted)

	reloaded, _ := f.repos.Plan.GetByID(context.Background(), plan.ID)
	assert.Equal(t, entity.PlanStatusCompleted, reloaded.Status)
	assert.NotNil(t, reloaded.CompletedAt)

	for _, r := range f.reservations(t, plan.ID) {
		assert.Equal(t, entity.ReservationCompleted, r.Status)
		assert.InDelta(t, r.ReservedQuantity, r.ConsumedQuantity, 1e-9)
		assert.NotNil(t, r.ClosedAt)
	}
	assert.InDelta(t, 0, testutil.ReloadStock(t, f.db, b.x.ID).ReservedQuantity, 1e-9)
	assert.InDelta(t, 80, testutil.ReloadStock(t, f.db, b.x.ID).Quantity, 1e-9)
	assert.InDelta(t, 45, testutil.ReloadStock(t, f.db, b.y.ID).Quantity, 1e-9)
	assert.InDelta(t, 10, testutil.ReloadStock(t, f.db, b.product.ID).Quantity, 1e-9)

	order, _ := f.repos.Order.GetByID(context.Background(), plan.OrderID)
	assert.Equal(t, entity.OrderStatusCompleted, order.Status)
	assert.True(t, f.notifier.Has(EventPlanCompleted))
	assert.True(t, f.notifier.Has(EventOrderCompleted))

	_, err := f.svc.Production.Log(context.Background(), op, logReq(plan, b, 1))
	assert.True(t, errors.Is(err, ErrPlanNotActive))
	f.assertLedgerInvariants(t)
}

func TestLogProductionFinalLogReconcilesRounding(t *testing.T) {
	f := newFixture(t)
	product := testutil.SeedStock(t, f.db, "P-1", entity.MaterialTypeFinished, 0)
	x := testutil.SeedStock(t, f.db, "X-1", entity.MaterialTypeRaw, 100)
	testutil.SeedBOM(t, f.db, product, x, 0.3333)
	order := testutil.SeedOrder(t, f.db, "op-1", testutil.Line{Product: product, Quantity: 1})
	res, err := f.svc.Approval.Approve(context.Background(), managerActor, order.ID)
	require.NoError(t, err)
	plan := res.Summary.Plans[0]
	op := operatorActor("op-1")

	var last *LogResult
	for _, q := range []float64{0.3333, 0.3333, 0.3334} {
		last, err = f.svc.Production.Log(context.Background(), op, LogRequest{PlanID: plan.ID, BarcodeScanned: product.Barcode, QuantityProduced: q})
		require.NoError(t, err)
	}
	assert.True(t, last.PlanCompleted)

	rs := f.reservations(t, plan.ID)
	require.Len(t, rs, 1)
	assert.InDelta(t, rs[0].ReservedQuantity, rs[0].ConsumedQuantity, 1e-9)
	assert.Equal(t, entity.ReservationCompleted, rs[0].Status)
	assert.InDelta(t, 100-0.3333, testutil.ReloadStock(t, f.db, x.ID).Quantity, 1e-9)
	assert.InDelta(t, 0, testutil.ReloadStock(t, f.db, x.ID).ReservedQuantity, 1e-9)
}

func TestLogProductionConsensusRejectionIsAdvisory(t *testing.T) {
	f := newFixtureWith(t, newProtocol(t, rejectingRegistry("production")))
	b := seedBike(t, f.db, 100, 50)
	// planning 领域的 production 同侪也会拒绝，审批时关闭共识
	approver := newFixtureWithDB(t, f)
	plan := approver.approvedPlan(t, b, 10, "op-1")

	res, err := f.svc.Production.Log(context.Background(), operatorActor("op-1"), logReq(plan, b, 2))
	require.NoError(t, err)
	assert.Contains(t, res.Warnings, "consensus rejected (advisory)")
	assert.EqualValues(t, 1, f.countRows(t, &entity.ProductionLog{}, ""))

	reloaded, _ := f.repos.Plan.GetByID(context.Background(), plan.ID)
	assert.InDelta(t, 2, reloaded.ProducedQuantity, 1e-9)
	assert.EqualValues(t, 1, f.countRows(t, &entity.AuditLog{}, "agent = ? AND action = ? AND decision = ?",
		"consensus", "log_production", consensus.VerdictRejected))
}

func TestLogProductionRollsBackOnFault(t *testing.T) {
	f := newFixture(t)
	b := seedBike(t, f.db, 100, 50)
	plan := f.approvedPlan(t, b, 10, "op-1")
	xBefore := testutil.ReloadStock(t, f.db, b.x.ID)
	movements := f.countRows(t, &entity.StockMovement{}, "")

	for _, step := range []string{"log_created", "reservations_recorded", "materials_consumed", "finished_received", "progress_updated"} {
		t.Run(step, func(t *testing.T) {
			f.svc.Production.SetStepHook(func(ctx context.Context, tx *gorm.DB, s string) error {
				if s == step {
					return errors.New("injected at " + s)
				}
				return nil
			})
			_, err := f.svc.Production.Log(context.Background(), operatorActor("op-1"), logReq(plan, b, 4))
			require.Error(t, err)

			assert.EqualValues(t, 0, f.countRows(t, &entity.ProductionLog{}, ""))
			assert.Equal(t, movements, f.countRows(t, &entity.StockMovement{}, ""))
			x := testutil.ReloadStock(t, f.db, b.x.ID)
			assert.Equal(t, xBefore.Quantity, x.Quantity)
			assert.Equal(t, xBefore.ReservedQuantity, x.ReservedQuantity)
			assert.InDelta(t, 0, testutil.ReloadStock(t, f.db, b.product.ID).Quantity, 1e-9)
			reloaded, _ := f.repos.Plan.GetByID(context.Background(), plan.ID)
			assert.InDelta(t, 0, reloaded.ProducedQuantity, 1e-9)
			for _, r := range f.reservations(t, plan.ID) {
				assert.InDelta(t, 0, r.ConsumedQuantity, 1e-9)
			}
		})
	}
	f.svc.Production.SetStepHook(nil)
	_, err := f.svc.Production.Log(context.Background(), operatorActor("op-1"), logReq(plan, b, 4))
	require.NoError(t, err)
}

func TestLogProductionConsistencyViolation(t *testing.T) {
	f := newFixture(t)
	b := seedBike(t, f.db, 100, 50)
	plan := f.approvedPlan(t, b, 10, "op-1")

	f.svc.Production.SetStepHook(func(ctx context.Context, tx *gorm.DB, step string) error {
		if step != "progress_updated" {
			return nil
		}
		// 模拟消耗未落账
		return tx.Where("reference_type = ? AND material_id = ?", entity.RefLog, b.y.ID).Delete(&entity.StockMovement{}).Error
	})
	_, err := f.svc.Production.Log(context.Background(), operatorActor("op-1"), logReq(plan, b, 4))
	require.True(t, errors.Is(err, ErrConsistencyViolation))

	assert.EqualValues(t, 0, f.countRows(t, &entity.ProductionLog{}, ""))
	assert.InDelta(t, 100, testutil.ReloadStock(t, f.db, b.x.ID).Quantity, 1e-9)
	assert.Equal(t, 1, f.alerter.Count())
	assert.True(t, f.notifier.Has(EventConsistencyAlert))
	assert.EqualValues(t, 1, f.countRows(t, &entity.AuditLog{}, "severity = ?", entity.SeverityCritical))
}

func TestConcurrentLogsNeverExceedPlan(t *testing.T) {
	f := newFixture(t)
	b := seedBike(t, f.db, 100, 50)
	plan := f.approvedPlan(t, b, 10, "op-1")

	var wg sync.WaitGroup
	results := make([]error, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.svc.Production.Log(context.Background(), operatorActor("op-1"), logReq(plan, b, 3))
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
			continue
		}
		kind := KindOf(err)
		assert.True(t, kind == KindQuantityExceeded || kind == KindPlanNotActive, "unexpected error: %v", err)
	}
	assert.Equal(t, 3, ok)
	reloaded, _ := f.repos.Plan.GetByID(context.Background(), plan.ID)
	assert.InDelta(t, 9, reloaded.ProducedQuantity, 1e-9)
	assert.LessOrEqual(t, reloaded.ProducedQuantity, reloaded.PlannedQuantity)
	f.assertLedgerInvariants(t)
}
