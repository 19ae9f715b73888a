package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/config"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/consensus"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/repository"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	managerActor = Actor{ID: "mgr-1", Name: "Manager", Roles: []string{RoleManager}}
	plannerActor = Actor{ID: "pln-1", Name: "Planner", Roles: []string{RolePlanner}}
)

func operatorActor(id string) Actor {
	return Actor{ID: id, Name: "Operator " + id, Roles: []string{RoleOperator}}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) Notify(ctx context.Context, event string, payload map[string]interface{}) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) Has(event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

type recordingAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (a *recordingAlerter) Alert(ctx context.Context, title, severity, summary string, fields map[string]string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.titles = append(a.titles, title+": "+summary)
	return nil
}

func (a *recordingAlerter) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.titles)
}

type fixture struct {
	db       *gorm.DB
	repos    *repository.Repositories
	svc      *Services
	notifier *recordingNotifier
	alerter  *recordingAlerter
}

// newFixture 内置智能体、启用共识
func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, newProtocol(t, consensus.NewRegistry()))
}

func newFixtureWith(t *testing.T, protocol *consensus.Protocol) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	repos := repository.NewRepositories(db)
	f := &fixture{
		db:       db,
		repos:    repos,
		notifier: &recordingNotifier{},
		alerter:  &recordingAlerter{},
	}
	f.svc = NewServices(repos, &config.Config{}, Deps{
		Protocol: protocol,
		Notifier: f.notifier,
		Alerter:  f.alerter,
	}, zap.NewNop())
	return f
}

// newFixtureWithDB 同一数据库上不带共识的服务集合
func newFixtureWithDB(t *testing.T, base *fixture) *fixture {
	t.Helper()
	f := &fixture{
		db:       base.db,
		repos:    base.repos,
		notifier: &recordingNotifier{},
		alerter:  &recordingAlerter{},
	}
	f.svc = NewServices(base.repos, &config.Config{}, Deps{
		Notifier: f.notifier,
		Alerter:  f.alerter,
	}, zap.NewNop())
	return f
}

func newProtocol(t *testing.T, reg *consensus.Registry) *consensus.Protocol {
	t.Helper()
	p, err := consensus.NewProtocol(reg, consensus.Options{
		Enabled:       true,
		Timeout:       2 * time.Second,
		MinConfidence: 0.6,
	}, nil, nil)
	require.NoError(t, err)
	return p
}

// rejectingRegistry 把指定智能体替换为固定拒绝
func rejectingRegistry(ids ...string) *consensus.Registry {
	reg := consensus.NewRegistry()
	for _, id := range ids {
		id := id
		reg.Register(consensus.NewRuleAgent(id, id, func(req *consensus.Request) *consensus.Opinion {
			return &consensus.Opinion{Decision: consensus.DecisionReject, Confidence: 0.95, Reasoning: id + " rejects"}
		}))
	}
	return reg
}

// bike 标准测试数据：成品P，原料X(每件2)，半成品Y(每件0.5)
type bike struct {
	product *entity.StockItem
	x       *entity.StockItem
	y       *entity.StockItem
}

func seedBike(t *testing.T, db *gorm.DB, xQty, yQty float64) bike {
	t.Helper()
	b := bike{
		product: testutil.SeedStock(t, db, "P-BIKE", entity.MaterialTypeFinished, 0),
		x:       testutil.SeedStock(t, db, "X-FRAME", entity.MaterialTypeRaw, xQty),
		y:       testutil.SeedStock(t, db, "Y-WHEEL", entity.MaterialTypeSemi, yQty),
	}
	testutil.SeedBOM(t, db, b.product, b.x, 2)
	testutil.SeedBOM(t, db, b.product, b.y, 0.5)
	return b
}

// approvedPlan 审批一张单行订单并返回生成的计划
func (f *fixture) approvedPlan(t *testing.T, b bike, qty float64, operatorID string) *entity.ProductionPlan {
	t.Helper()
	order := testutil.SeedOrder(t, f.db, operatorID, testutil.Line{Product: b.product, Quantity: qty})
	res, err := f.svc.Approval.Approve(context.Background(), managerActor, order.ID)
	require.NoError(t, err)
	require.Len(t, res.Summary.Plans, 1)
	plan, err := f.repos.Plan.GetByID(context.Background(), res.Summary.Plans[0].ID)
	require.NoError(t, err)
	return plan
}

func (f *fixture) reservations(t *testing.T, planID string) []entity.Reservation {
	t.Helper()
	var out []entity.Reservation
	require.NoError(t, f.db.Where("plan_id = ?", planID).Order("material_id").Find(&out).Error)
	return out
}

func (f *fixture) countRows(t *testing.T, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := f.db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

// assertLedgerInvariants 预留汇总与库存行一致，且不超卖
func (f *fixture) assertLedgerInvariants(t *testing.T) {
	t.Helper()
	var items []entity.StockItem
	require.NoError(t, f.db.Find(&items).Error)
	for _, it := range items {
		var active []entity.Reservation
		require.NoError(t, f.db.Where("material_id = ? AND status = ?", it.ID, entity.ReservationActive).Find(&active).Error)
		var outstanding float64
		for _, r := range active {
			require.GreaterOrEqual(t, r.ConsumedQuantity, -qtyEpsilon, "reservation %s consumed", r.ID)
			require.LessOrEqual(t, r.ConsumedQuantity, r.ReservedQuantity+qtyEpsilon, "reservation %s consumed beyond reserved", r.ID)
			outstanding += r.ReservedQuantity - r.ConsumedQuantity
		}
		require.InDelta(t, outstanding, it.ReservedQuantity, 1e-3, "material %s reserved_quantity", it.Code)
		require.GreaterOrEqual(t, it.Quantity-it.ReservedQuantity, -qtyEpsilon, "material %s overdrawn", it.Code)
	}
}
