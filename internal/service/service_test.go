package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"comanda/backend/internal/domain"
	"comanda/backend/internal/store"
	"comanda/backend/internal/store/memory"
)

func newTestService() *Service {
	return New(memory.NewSeeded(), nil, 0, nil)
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func waiterCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "waiter", Role: "waiter"})
}

func TestOpenOrderPricesAndSnapshotsItems(t *testing.T) {
	svc := newTestService()

	// 4x Paella (1450) = 5800 raw, qualifies for the 10% tier.
	order, err := svc.OpenOrder(waiterCtx(), domain.OrderOpenRequest{
		TableNumber: 1,
		Items:       []domain.OrderItemRequest{{InventoryID: "inv-paella", Qty: 4}},
	})
	if err != nil {
		t.Fatalf("open order failed: %v", err)
	}

	if order.RawTotalCents != 5800 {
		t.Fatalf("expected raw total 5800, got %d", order.RawTotalCents)
	}
	if order.DiscountPercent != 10 {
		t.Fatalf("expected 10%% discount, got %v", order.DiscountPercent)
	}
	if order.TotalCents != 5220 {
		t.Fatalf("expected payable total 5220, got %d", order.TotalCents)
	}
	if len(order.Lines) != 1 || order.Lines[0].Name != "Paella Valenciana" || order.Lines[0].UnitPriceCents != 1450 {
		t.Fatalf("expected snapshot of inventory data in order lines, got %+v", order.Lines)
	}
	if order.WaiterUsername != "waiter" {
		t.Fatalf("expected order attributed to acting waiter, got %q", order.WaiterUsername)
	}
	if order.Status != domain.OrderStatusOpen {
		t.Fatalf("expected open status, got %s", order.Status)
	}
}

func TestOpenOrderMergesDuplicateItems(t *testing.T) {
	svc := newTestService()

	order, err := svc.OpenOrder(waiterCtx(), domain.OrderOpenRequest{
		TableNumber: 2,
		Items: []domain.OrderItemRequest{
			{InventoryID: "inv-cafe", Qty: 1},
			{InventoryID: "inv-cafe", Qty: 2},
		},
	})
	if err != nil {
		t.Fatalf("open order failed: %v", err)
	}
	if len(order.Lines) != 1 || order.Lines[0].Qty != 3 {
		t.Fatalf("expected merged line with qty 3, got %+v", order.Lines)
	}
}

func TestOpenOrderRejectsReservedTable(t *testing.T) {
	svc := newTestService()

	// Table 3 is seeded as reserved.
	_, err := svc.OpenOrder(waiterCtx(), domain.OrderOpenRequest{
		TableNumber: 3,
		Items:       []domain.OrderItemRequest{{InventoryID: "inv-cafe", Qty: 1}},
	})
	if !errors.Is(err, store.ErrPreconditionFailed) {
		t.Fatalf("expected precondition failure for reserved table, got %v", err)
	}
}

func TestOpenOrderValidation(t *testing.T) {
	svc := newTestService()

	_, err := svc.OpenOrder(waiterCtx(), domain.OrderOpenRequest{TableNumber: 1})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for empty order, got %v", err)
	}

	_, err = svc.OpenOrder(waiterCtx(), domain.OrderOpenRequest{
		TableNumber: 1,
		Items:       []domain.OrderItemRequest{{InventoryID: "inv-unknown", Qty: 1}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for unknown item, got %v", err)
	}

	_, err = svc.OpenOrder(waiterCtx(), domain.OrderOpenRequest{
		TableNumber: 1,
		Items:       []domain.OrderItemRequest{{InventoryID: "inv-cafe", Qty: 0}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for zero qty, got %v", err)
	}

	_, err = svc.OpenOrder(waiterCtx(), domain.OrderOpenRequest{
		TableNumber: 99,
		Items:       []domain.OrderItemRequest{{InventoryID: "inv-cafe", Qty: 1}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown table, got %v", err)
	}
}

func TestReviseOrderRepricesAndKeepsCreationTime(t *testing.T) {
	clock := time.Date(2026, 8, 30, 20, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	svc := New(memory.NewSeeded(), nil, 0, now)

	order, err := svc.OpenOrder(waiterCtx(), domain.OrderOpenRequest{
		TableNumber: 1,
		Items:       []domain.OrderItemRequest{{InventoryID: "inv-cafe", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("open order failed: %v", err)
	}
	if order.TotalCents != 180 {
		t.Fatalf("expected initial total 180, got %d", order.TotalCents)
	}

	clock = clock.Add(45 * time.Minute)
	revised, err := svc.ReviseOrder(waiterCtx(), order.ID, domain.OrderReviseRequest{
		TableNumber: 2,
		Items:       []domain.OrderItemRequest{{InventoryID: "inv-paella", Qty: 8}},
	})
	if err != nil {
		t.Fatalf("revise order failed: %v", err)
	}

	// 8x1450 = 11600 raw, 15% tier -> 9860.
	if revised.RawTotalCents != 11600 || revised.TotalCents != 9860 {
		t.Fatalf("expected repriced totals 11600/9860, got %d/%d", revised.RawTotalCents, revised.TotalCents)
	}
	if revised.TableNumber != 2 {
		t.Fatalf("expected order moved to table 2, got %d", revised.TableNumber)
	}
	if !revised.CreatedAt.Equal(order.CreatedAt) {
		t.Fatalf("expected revision to keep creation time %v, got %v", order.CreatedAt, revised.CreatedAt)
	}
}

func TestReviseOrderRejectsMoveToReservedTable(t *testing.T) {
	svc := newTestService()

	order, err := svc.OpenOrder(waiterCtx(), domain.OrderOpenRequest{
		TableNumber: 1,
		Items:       []domain.OrderItemRequest{{InventoryID: "inv-cafe", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("open order failed: %v", err)
	}

	_, err = svc.ReviseOrder(waiterCtx(), order.ID, domain.OrderReviseRequest{
		TableNumber: 3,
		Items:       []domain.OrderItemRequest{{InventoryID: "inv-cafe", Qty: 2}},
	})
	if !errors.Is(err, store.ErrPreconditionFailed) {
		t.Fatalf("expected precondition failure moving to reserved table, got %v", err)
	}
}

func TestChargeOrderSettlesOnCreationDate(t *testing.T) {
	clock := time.Date(2026, 8, 30, 23, 50, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	svc := New(memory.NewSeeded(), nil, 0, now)

	order, err := svc.OpenOrder(waiterCtx(), domain.OrderOpenRequest{
		TableNumber: 1,
		Items:       []domain.OrderItemRequest{{InventoryID: "inv-sangria", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("open order failed: %v", err)
	}

	// The charge lands after midnight; revenue still belongs to the 30th.
	clock = clock.Add(20 * time.Minute)
	result, err := svc.ChargeOrder(waiterCtx(), order.ID)
	if err != nil {
		t.Fatalf("charge failed: %v", err)
	}
	if result.Date != "2026-08-30" {
		t.Fatalf("expected settlement on creation date 2026-08-30, got %s", result.Date)
	}
	if result.AmountCents != 1200 {
		t.Fatalf("expected charged amount 1200, got %d", result.AmountCents)
	}

	totals, err := svc.DailyTotals(waiterCtx())
	if err != nil {
		t.Fatalf("daily totals failed: %v", err)
	}
	if len(totals) != 1 || totals[0].Date != "2026-08-30" || totals[0].TotalCents != 1200 {
		t.Fatalf("expected pending total 1200 on 2026-08-30, got %+v", totals)
	}
}

func TestChargeOrderExactlyOnce(t *testing.T) {
	svc := newTestService()

	order, err := svc.OpenOrder(waiterCtx(), domain.OrderOpenRequest{
		TableNumber: 1,
		Items:       []domain.OrderItemRequest{{InventoryID: "inv-flan", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("open order failed: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, results[slot] = svc.ChargeOrder(waiterCtx(), order.ID)
		}(i)
	}
	wg.Wait()

	var succeeded, conflicted int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrPreconditionFailed):
			conflicted++
		default:
			t.Fatalf("unexpected charge error: %v", err)
		}
	}
	if succeeded != 1 || conflicted != 1 {
		t.Fatalf("expected exactly one successful charge, got %d success / %d conflict", succeeded, conflicted)
	}

	totals, err := svc.DailyTotals(waiterCtx())
	if err != nil {
		t.Fatalf("daily totals failed: %v", err)
	}
	if len(totals) != 1 || totals[0].TotalCents != 840 {
		t.Fatalf("expected the day credited exactly once with 840, got %+v", totals)
	}
}

func TestDiscardOrderRemovesIt(t *testing.T) {
	svc := newTestService()

	order, err := svc.OpenOrder(waiterCtx(), domain.OrderOpenRequest{
		TableNumber: 1,
		Items:       []domain.OrderItemRequest{{InventoryID: "inv-cafe", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("open order failed: %v", err)
	}

	if err := svc.DiscardOrder(waiterCtx(), order.ID); err != nil {
		t.Fatalf("discard failed: %v", err)
	}
	if _, err := svc.GetOrder(waiterCtx(), order.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected discarded order to be gone, got %v", err)
	}

	totals, err := svc.DailyTotals(waiterCtx())
	if err != nil {
		t.Fatalf("daily totals failed: %v", err)
	}
	if len(totals) != 0 {
		t.Fatalf("expected no revenue from discarded order, got %+v", totals)
	}
}

func TestCloseDayRequiresAdmin(t *testing.T) {
	svc := newTestService()

	if _, err := svc.CloseDay(waiterCtx(), ""); err == nil {
		t.Fatalf("expected waiter close to be rejected")
	}
}

func TestCloseDayFoldsChargesAndAccumulatesOnReclose(t *testing.T) {
	clock := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	svc := New(memory.NewSeeded(), nil, 0, now)

	openAndCharge := func(qty int) {
		t.Helper()
		order, err := svc.OpenOrder(waiterCtx(), domain.OrderOpenRequest{
			TableNumber: 1,
			Items:       []domain.OrderItemRequest{{InventoryID: "inv-sangria", Qty: qty}},
		})
		if err != nil {
			t.Fatalf("open order failed: %v", err)
		}
		if _, err := svc.ChargeOrder(waiterCtx(), order.ID); err != nil {
			t.Fatalf("charge failed: %v", err)
		}
	}

	openAndCharge(1)
	result, err := svc.CloseDay(adminCtx(), "2026-08-30")
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if result.TotalCents != 1200 {
		t.Fatalf("expected first close total 1200, got %d", result.TotalCents)
	}

	// A straggler charged after the close accumulates on re-close.
	openAndCharge(2)
	result, err = svc.CloseDay(adminCtx(), "2026-08-30")
	if err != nil {
		t.Fatalf("re-close failed: %v", err)
	}
	if result.TotalCents != 3600 {
		t.Fatalf("expected accumulated total 3600, got %d", result.TotalCents)
	}

	// Closing again with nothing pending is an idempotent no-op.
	result, err = svc.CloseDay(adminCtx(), "2026-08-30")
	if err != nil {
		t.Fatalf("idempotent re-close failed: %v", err)
	}
	if result.TotalCents != 3600 {
		t.Fatalf("expected unchanged total 3600, got %d", result.TotalCents)
	}

	days, err := svc.ListClosedDays(adminCtx())
	if err != nil {
		t.Fatalf("list closed days failed: %v", err)
	}
	if len(days) != 1 || days[0].Date != "2026-08-30" || days[0].TotalCents != 3600 {
		t.Fatalf("expected one ledger entry of 3600, got %+v", days)
	}

	totals, err := svc.DailyTotals(adminCtx())
	if err != nil {
		t.Fatalf("daily totals failed: %v", err)
	}
	if len(totals) != 0 {
		t.Fatalf("expected no pending revenue after close, got %+v", totals)
	}
}

func TestCloseDayWithNothingToClose(t *testing.T) {
	svc := newTestService()

	_, err := svc.CloseDay(adminCtx(), "2026-08-30")
	if !errors.Is(err, store.ErrPreconditionFailed) {
		t.Fatalf("expected nothing-to-close precondition failure, got %v", err)
	}

	_, err = svc.CloseDay(adminCtx(), "30/08/2026")
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for malformed date, got %v", err)
	}
}

func TestClosedDaysSortedMostRecentFirst(t *testing.T) {
	clock := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	now := func() time.Time { return clock }
	svc := New(memory.NewSeeded(), nil, 0, now)

	for day := 0; day < 2; day++ {
		order, err := svc.OpenOrder(waiterCtx(), domain.OrderOpenRequest{
			TableNumber: 1,
			Items:       []domain.OrderItemRequest{{InventoryID: "inv-cafe", Qty: 1}},
		})
		if err != nil {
			t.Fatalf("open order failed: %v", err)
		}
		if _, err := svc.ChargeOrder(waiterCtx(), order.ID); err != nil {
			t.Fatalf("charge failed: %v", err)
		}
		if _, err := svc.CloseDay(adminCtx(), ""); err != nil {
			t.Fatalf("close failed: %v", err)
		}
		clock = clock.Add(24 * time.Hour)
	}

	days, err := svc.ListClosedDays(adminCtx())
	if err != nil {
		t.Fatalf("list closed days failed: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("expected 2 closed days, got %d", len(days))
	}
	if days[0].Date != "2026-08-30" || days[1].Date != "2026-08-29" {
		t.Fatalf("expected most recent day first, got %s then %s", days[0].Date, days[1].Date)
	}
}

func TestAuditTrailRecordsLifecycle(t *testing.T) {
	svc := newTestService()

	order, err := svc.OpenOrder(waiterCtx(), domain.OrderOpenRequest{
		TableNumber: 1,
		Items:       []domain.OrderItemRequest{{InventoryID: "inv-cafe", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("open order failed: %v", err)
	}
	if _, err := svc.ChargeOrder(waiterCtx(), order.ID); err != nil {
		t.Fatalf("charge failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(adminCtx(), "", 50)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}

	actions := make(map[string]bool, len(logs))
	for _, entry := range logs {
		actions[entry.Action] = true
	}
	if !actions["order_open"] || !actions["order_charge"] {
		t.Fatalf("expected order_open and order_charge audit entries, got %+v", actions)
	}
}
