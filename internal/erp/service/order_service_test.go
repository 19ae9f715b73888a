package service

import (
	"context"
	"testing"

	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/entity"
	"github.com/Huseyintabak/ERP-V2-sub002/internal/erp/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrder(t *testing.T) {
	f := newFixture(t)
	b := seedBike(t, f.db, 100, 50)
	ctx := context.Background()

	order, err := f.svc.Order.Create(ctx, plannerActor, CreateOrderRequest{
		CustomerName: "ACME",
		Priority:     entity.PriorityUrgent,
		Items:        []CreateOrderItemRequest{{ProductID: b.product.ID, Quantity: 3}},
	})
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusPending, order.Status)
	assert.NotEmpty(t, order.OrderCode)

	_, err = f.svc.Order.Create(ctx, plannerActor, CreateOrderRequest{
		CustomerName: "ACME",
		Items:        []CreateOrderItemRequest{{ProductID: b.x.ID, Quantity: 3}},
	})
	assert.Equal(t, KindValidation, KindOf(err))

	_, err = f.svc.Order.Create(ctx, plannerActor, CreateOrderRequest{CustomerName: "ACME"})
	assert.Equal(t, KindOrderItemsMissing, KindOf(err))

	_, err = f.svc.Order.Create(ctx, operatorActor("op-1"), CreateOrderRequest{CustomerName: "ACME"})
	assert.Equal(t, KindForbidden, KindOf(err))
}

func TestCancelOrderReleasesOpenPlans(t *testing.T) {
	f := newFixture(t)
	b := seedBike(t, f.db, 100, 50)
	other := testutil.SeedStock(t, f.db, "P-2", entity.MaterialTypeFinished, 0)
	testutil.SeedBOM(t, f.db, other, b.x, 1)
	order := testutil.SeedOrder(t, f.db, "op-1",
		testutil.Line{Product: b.product, Quantity: 10},
		testutil.Line{Product: other, Quantity: 5},
	)
	ctx := context.Background()
	res, err := f.svc.Approval.Approve(ctx, managerActor, order.ID)
	require.NoError(t, err)
	require.Len(t, res.Summary.Plans, 2)
	assert.InDelta(t, 25, testutil.ReloadStock(t, f.db, b.x.ID).ReservedQuantity, 1e-9)

	var first entity.ProductionPlan
	for _, p := range res.Summary.Plans {
		if p.ProductID == b.product.ID {
			first = p
		}
	}
	_, err = f.svc.Production.Log(ctx, operatorActor("op-1"), logReq(&first, b, 3))
	require.NoError(t, err)

	detail, err := f.svc.Order.Cancel(ctx, managerActor, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusCancelled, detail.Order.Status)
	for _, p := range detail.Plans {
		assert.Equal(t, entity.PlanStatusCancelled, p.Status)
	}
	assert.InDelta(t, 0, testutil.ReloadStock(t, f.db, b.x.ID).ReservedQuantity, 1e-9)
	assert.InDelta(t, 94, testutil.ReloadStock(t, f.db, b.x.ID).Quantity, 1e-9)
	assert.EqualValues(t, 0, f.countRows(t, &entity.Reservation{}, "status = ?", entity.ReservationActive))
	assert.True(t, f.notifier.Has(EventOrderCancelled))

	_, err = f.svc.Order.Cancel(ctx, managerActor, order.ID)
	assert.Equal(t, KindInvalidTransition, KindOf(err))
	f.assertLedgerInvariants(t)
}

func TestCancelPendingOrder(t *testing.T) {
	f := newFixture(t)
	b := seedBike(t, f.db, 100, 50)
	order := testutil.SeedOrder(t, f.db, "", testutil.Line{Product: b.product, Quantity: 1})

	detail, err := f.svc.Order.Cancel(context.Background(), plannerActor, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.OrderStatusCancelled, detail.Order.Status)
	assert.Empty(t, detail.Plans)

	_, err = f.svc.Approval.Approve(context.Background(), managerActor, order.ID)
	assert.Equal(t, KindInvalidTransition, KindOf(err))
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t)
	b := seedBike(t, f.db, 100, 50)
	plan := f.approvedPlan(t, b, 2, "")

	detail, err := f.svc.Order.Get(context.Background(), plan.OrderID)
	require.NoError(t, err)
	assert.Len(t, detail.Order.Items, 1)
	assert.Len(t, detail.Plans, 1)

	_, err = f.svc.Order.Get(context.Background(), "missing")
	assert.Equal(t, KindOrderNotFound, KindOf(err))
}
