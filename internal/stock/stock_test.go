package stock

import (
	"errors"
	"testing"
	"time"

	"github.com/Ammaralibrahim/stocksistem/internal/domain"
	"github.com/Ammaralibrahim/stocksistem/internal/store"
)

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func testDrug(id string, warehouse, cart int) *domain.Drug {
	return &domain.Drug{
		ID:         id,
		Name:       "drug " + id,
		Stock:      warehouse,
		CartStock:  cart,
		PriceCents: 1500,
	}
}

func TestAdjustDrugStockRejectsNegative(t *testing.T) {
	d := testDrug("d1", 5, 2)

	if err := AdjustDrugStock(d, -6, 0, testNow); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if d.Stock != 5 || d.CartStock != 2 {
		t.Fatalf("failed adjustment mutated drug: stock=%d cart=%d", d.Stock, d.CartStock)
	}

	if err := AdjustDrugStock(d, 0, -3, testNow); !errors.Is(err, store.ErrInsufficientCartQuantity) {
		t.Fatalf("expected ErrInsufficientCartQuantity, got %v", err)
	}

	if err := AdjustDrugStock(d, -5, -2, testNow); err != nil {
		t.Fatalf("exact drain should succeed: %v", err)
	}
	if d.Stock != 0 || d.CartStock != 0 {
		t.Fatalf("expected both pools empty, got stock=%d cart=%d", d.Stock, d.CartStock)
	}
}

func TestAddCartItemMergesLines(t *testing.T) {
	c := &domain.Cart{ID: "c1", Status: domain.CartStatusActive}
	d := testDrug("d1", 10, 0)

	AddCartItem(c, *d, 3, testNow)
	AddCartItem(c, *d, 2, testNow.Add(time.Minute))

	if len(c.Items) != 1 {
		t.Fatalf("expected merged line, got %d lines", len(c.Items))
	}
	if c.Items[0].Quantity != 5 {
		t.Fatalf("expected quantity 5, got %d", c.Items[0].Quantity)
	}
	if c.TotalItems != 5 || c.TotalValueCents != 5*1500 {
		t.Fatalf("totals not recomputed: items=%d value=%d", c.TotalItems, c.TotalValueCents)
	}
	if c.LastLoadedAt == nil {
		t.Fatal("expected LastLoadedAt set")
	}
}

func TestAddCartItemSnapshotsPrice(t *testing.T) {
	c := &domain.Cart{ID: "c1"}
	d := testDrug("d1", 10, 0)
	AddCartItem(c, *d, 2, testNow)

	d.PriceCents = 9999
	AddCartItem(c, *d, 1, testNow)

	if c.Items[0].PriceCents != 1500 {
		t.Fatalf("snapshot price drifted: %d", c.Items[0].PriceCents)
	}
	if c.TotalValueCents != 3*1500 {
		t.Fatalf("cart value should use snapshot price, got %d", c.TotalValueCents)
	}
}

func TestRemoveCartItem(t *testing.T) {
	c := &domain.Cart{ID: "c1"}
	AddCartItem(c, *testDrug("d1", 10, 0), 5, testNow)

	if err := RemoveCartItem(c, "missing", 1, testNow); !errors.Is(err, store.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
	if err := RemoveCartItem(c, "d1", 6, testNow); !errors.Is(err, store.ErrInsufficientCartQuantity) {
		t.Fatalf("expected ErrInsufficientCartQuantity, got %v", err)
	}

	if err := RemoveCartItem(c, "d1", 2, testNow); err != nil {
		t.Fatalf("partial remove: %v", err)
	}
	if c.Items[0].Quantity != 3 || c.TotalItems != 3 {
		t.Fatalf("expected 3 left, got line=%d total=%d", c.Items[0].Quantity, c.TotalItems)
	}

	if err := RemoveCartItem(c, "d1", 3, testNow); err != nil {
		t.Fatalf("final remove: %v", err)
	}
	if len(c.Items) != 0 {
		t.Fatalf("zero-quantity line should be dropped, got %d lines", len(c.Items))
	}
	if c.TotalItems != 0 || c.TotalValueCents != 0 {
		t.Fatalf("totals should be zero, got items=%d value=%d", c.TotalItems, c.TotalValueCents)
	}
}

func TestTransferSnapshotFreezesLines(t *testing.T) {
	c := &domain.Cart{ID: "c1"}
	AddCartItem(c, *testDrug("d1", 10, 0), 4, testNow)
	AddCartItem(c, *testDrug("d2", 10, 0), 2, testNow)

	tr := TransferSnapshot("tr-1", *c, "end of shift", testNow)
	if tr.TotalItems != 6 || tr.TotalValueCents != 6*1500 {
		t.Fatalf("transfer totals wrong: items=%d value=%d", tr.TotalItems, tr.TotalValueCents)
	}

	ClearCart(c, testNow)
	if len(tr.Items) != 2 {
		t.Fatalf("snapshot should survive cart clear, got %d items", len(tr.Items))
	}
	if c.LastUnloadedAt == nil || c.TotalItems != 0 {
		t.Fatalf("clear should stamp unload and zero totals")
	}
}

func TestPlanSourcingCartPriority(t *testing.T) {
	drugs := map[string]*domain.Drug{"d1": testDrug("d1", 50, 10)}
	items := []domain.OrderItem{{DrugID: "d1", Quantity: 5}}

	planned, err := PlanSourcing(items, drugs, true)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(planned) != 1 || planned[0].Source != domain.SourceCart {
		t.Fatalf("cart should win when it covers the line: %+v", planned)
	}
}

func TestPlanSourcingWarehouseWithoutCart(t *testing.T) {
	drugs := map[string]*domain.Drug{"d1": testDrug("d1", 50, 10)}
	items := []domain.OrderItem{{DrugID: "d1", Quantity: 5}}

	planned, err := PlanSourcing(items, drugs, false)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if planned[0].Source != domain.SourceWarehouse {
		t.Fatalf("no cart specified, expected warehouse, got %s", planned[0].Source)
	}
}

func TestPlanSourcingSplitsLine(t *testing.T) {
	drugs := map[string]*domain.Drug{"d1": testDrug("d1", 4, 3)}
	items := []domain.OrderItem{{DrugID: "d1", Quantity: 6}}

	planned, err := PlanSourcing(items, drugs, true)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(planned) != 2 {
		t.Fatalf("expected split into 2 lines, got %d", len(planned))
	}
	if planned[0].Source != domain.SourceCart || planned[0].Quantity != 3 {
		t.Fatalf("cart line wrong: %+v", planned[0])
	}
	if planned[1].Source != domain.SourceWarehouse || planned[1].Quantity != 3 {
		t.Fatalf("warehouse remainder wrong: %+v", planned[1])
	}
	if planned[1].PriceCents != planned[0].PriceCents {
		t.Fatalf("split halves must share a price")
	}
	if OrderTotal(planned) != 6*1500 {
		t.Fatalf("split changed the total: %d", OrderTotal(planned))
	}
}

func TestPlanSourcingSplitHappensWithoutCartSpecified(t *testing.T) {
	drugs := map[string]*domain.Drug{"d1": testDrug("d1", 4, 3)}
	items := []domain.OrderItem{{DrugID: "d1", Quantity: 6}}

	planned, err := PlanSourcing(items, drugs, false)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(planned) != 2 || planned[0].Source != domain.SourceCart {
		t.Fatalf("split should draw cart stock even with no cart specified: %+v", planned)
	}
}

func TestPlanSourcingRejectsShortfall(t *testing.T) {
	drugs := map[string]*domain.Drug{"d1": testDrug("d1", 2, 1)}
	items := []domain.OrderItem{{DrugID: "d1", Quantity: 4}}

	if _, err := PlanSourcing(items, drugs, true); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestPlanSourcingUnknownDrug(t *testing.T) {
	items := []domain.OrderItem{{DrugID: "ghost", Quantity: 1}}
	if _, err := PlanSourcing(items, map[string]*domain.Drug{}, false); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPlanSourcingDefaultsPriceFromDrug(t *testing.T) {
	drugs := map[string]*domain.Drug{"d1": testDrug("d1", 10, 0)}
	items := []domain.OrderItem{{DrugID: "d1", Quantity: 2}}

	planned, err := PlanSourcing(items, drugs, false)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if planned[0].PriceCents != 1500 {
		t.Fatalf("expected drug price fallback, got %d", planned[0].PriceCents)
	}
}

func TestApplyAndRestoreRoundTrip(t *testing.T) {
	d := testDrug("d1", 4, 3)
	c := &domain.Cart{ID: "c1"}
	AddCartItem(c, *d, 3, testNow)

	planned, err := PlanSourcing([]domain.OrderItem{{DrugID: "d1", Quantity: 6}}, map[string]*domain.Drug{"d1": d}, true)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	for _, item := range planned {
		if err := ApplyOrderLine(d, c, item, testNow); err != nil {
			t.Fatalf("apply %+v: %v", item, err)
		}
	}
	if d.Stock != 1 || d.CartStock != 0 {
		t.Fatalf("after apply: stock=%d cart=%d", d.Stock, d.CartStock)
	}
	if len(c.Items) != 0 {
		t.Fatalf("cart line should be consumed")
	}

	for _, item := range planned {
		RestoreOrderLine(d, c, item, testNow)
	}
	if d.Stock != 4 || d.CartStock != 3 {
		t.Fatalf("restore should round-trip: stock=%d cart=%d", d.Stock, d.CartStock)
	}
	if CartItemQuantity(*c, "d1") != 3 {
		t.Fatalf("cart line should be back, got %d", CartItemQuantity(*c, "d1"))
	}
	if d.TotalStock() != 7 {
		t.Fatalf("total stock drifted: %d", d.TotalStock())
	}
}

func TestApplyOrderLineAbortsOnOverCommit(t *testing.T) {
	d := testDrug("d1", 0, 2)
	c := &domain.Cart{ID: "c1"}
	AddCartItem(c, *d, 2, testNow)

	line := domain.OrderItem{DrugID: "d1", Quantity: 3, PriceCents: 1500, Source: domain.SourceCart}
	if err := ApplyOrderLine(d, c, line, testNow); !errors.Is(err, store.ErrInsufficientCartQuantity) {
		t.Fatalf("expected ErrInsufficientCartQuantity, got %v", err)
	}
	if d.CartStock != 2 {
		t.Fatalf("failed apply mutated drug: %d", d.CartStock)
	}
}
