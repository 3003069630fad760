package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Ammaralibrahim/stocksistem/internal/domain"
	"github.com/Ammaralibrahim/stocksistem/internal/store"
	"github.com/Ammaralibrahim/stocksistem/internal/store/memory"
)

func adminContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func staffContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "staff", Role: "staff"})
}

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.NewSeeded()
	return New(repo, nil, nil, 0), repo
}

func TestCreateDrugRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateDrug(staffContext(), domain.DrugCreateRequest{
		Name:       "Parol 500mg",
		Stock:      10,
		PriceCents: 4500,
		ExpiryDate: "2027-06-01",
	})
	if err == nil || err.Error() != "admin role required" {
		t.Fatalf("expected admin role required, got %v", err)
	}
}

func TestCreateDrugValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := adminContext()

	cases := []struct {
		name string
		req  domain.DrugCreateRequest
	}{
		{"empty name", domain.DrugCreateRequest{Stock: 1, PriceCents: 100, ExpiryDate: "2027-01-01"}},
		{"negative stock", domain.DrugCreateRequest{Name: "X", Stock: -1, PriceCents: 100, ExpiryDate: "2027-01-01"}},
		{"zero price", domain.DrugCreateRequest{Name: "X", Stock: 1, ExpiryDate: "2027-01-01"}},
		{"bad expiry", domain.DrugCreateRequest{Name: "X", Stock: 1, PriceCents: 100, ExpiryDate: "06/01/2027"}},
	}
	for _, tc := range cases {
		if _, err := svc.CreateDrug(ctx, tc.req); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("%s: expected validation error, got %v", tc.name, err)
		}
	}
}

func TestCreateDrugDefaultsThreshold(t *testing.T) {
	svc, _ := newTestService(t)

	drug, err := svc.CreateDrug(adminContext(), domain.DrugCreateRequest{
		Name:       "Majezik 100mg",
		Stock:      25,
		PriceCents: 6900,
		ExpiryDate: "2027-03-15",
	})
	if err != nil {
		t.Fatalf("CreateDrug: %v", err)
	}
	if drug.LowStockThreshold != 10 {
		t.Fatalf("expected default threshold 10, got %d", drug.LowStockThreshold)
	}
	if !drug.ExpiryDate.Equal(time.Date(2027, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected expiry %v", drug.ExpiryDate)
	}
}

func TestUpdateDrugAppliesOnlyProvidedFields(t *testing.T) {
	svc, repo := newTestService(t)

	drugs, err := repo.ListDrugs(context.Background(), domain.DrugFilter{})
	if err != nil || len(drugs) == 0 {
		t.Fatalf("seed drugs: %v", err)
	}
	target := drugs[0]

	newPrice := int64(9999)
	updated, err := svc.UpdateDrug(adminContext(), target.ID, domain.DrugUpdateRequest{PriceCents: &newPrice})
	if err != nil {
		t.Fatalf("UpdateDrug: %v", err)
	}
	if updated.PriceCents != 9999 {
		t.Fatalf("price not applied: %d", updated.PriceCents)
	}
	if updated.Name != target.Name || updated.Stock != target.Stock {
		t.Fatalf("unrelated fields changed: %+v", updated)
	}
}

func TestLoadDrugResolvesActiveCart(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := staffContext()

	drugs, _ := repo.ListDrugs(context.Background(), domain.DrugFilter{})
	drug := drugs[0]

	res, err := svc.LoadDrug(ctx, domain.LoadRequest{DrugID: drug.ID, Quantity: 3})
	if err != nil {
		t.Fatalf("LoadDrug: %v", err)
	}
	if res.Cart == nil || res.Cart.Status != domain.CartStatusActive {
		t.Fatalf("expected load onto the active cart, got %+v", res.Cart)
	}
	if res.Drug.Stock != drug.Stock-3 || res.Drug.CartStock != drug.CartStock+3 {
		t.Fatalf("stock not moved: %+v", res.Drug)
	}
	if !strings.Contains(res.Message, drug.Name) {
		t.Fatalf("message should name the drug: %q", res.Message)
	}
}

func TestLoadDrugRejectsBadQuantity(t *testing.T) {
	svc, _ := newTestService(t)

	if _, err := svc.LoadDrug(staffContext(), domain.LoadRequest{DrugID: "x", Quantity: 0}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoadDrugByBarcodeDefaultsQuantity(t *testing.T) {
	svc, repo := newTestService(t)

	drugs, _ := repo.ListDrugs(context.Background(), domain.DrugFilter{})
	var withBarcode domain.Drug
	for _, d := range drugs {
		if d.Barcode != "" {
			withBarcode = d
			break
		}
	}
	if withBarcode.ID == "" {
		t.Fatal("seed data has no barcoded drug")
	}

	res, err := svc.LoadDrugByBarcode(staffContext(), domain.BarcodeLoadRequest{Barcode: withBarcode.Barcode})
	if err != nil {
		t.Fatalf("LoadDrugByBarcode: %v", err)
	}
	if res.Drug.CartStock != withBarcode.CartStock+1 {
		t.Fatalf("expected quantity to default to 1, got cart stock %d", res.Drug.CartStock)
	}
}

func TestUnloadAllRoundTrip(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := staffContext()

	drugs, _ := repo.ListDrugs(context.Background(), domain.DrugFilter{})
	drug := drugs[0]

	if _, err := svc.LoadDrug(ctx, domain.LoadRequest{DrugID: drug.ID, Quantity: 5}); err != nil {
		t.Fatalf("LoadDrug: %v", err)
	}
	res, err := svc.UnloadAll(ctx, domain.UnloadAllRequest{Notes: "end of shift"})
	if err != nil {
		t.Fatalf("UnloadAll: %v", err)
	}
	if res.Transfer == nil || res.Transfer.TotalItems != 5 {
		t.Fatalf("unexpected transfer %+v", res.Transfer)
	}
	if len(res.Cart.Items) != 0 {
		t.Fatalf("cart should be empty after unload-all")
	}

	after, err := repo.GetDrugByID(context.Background(), drug.ID)
	if err != nil {
		t.Fatalf("GetDrugByID: %v", err)
	}
	if after.Stock != drug.Stock || after.CartStock != drug.CartStock {
		t.Fatalf("stock not restored: before %d/%d after %d/%d", drug.Stock, drug.CartStock, after.Stock, after.CartStock)
	}
}

func TestCreateOrderValidatesItems(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateOrder(staffContext(), domain.OrderCreateRequest{CustomerName: "Ali"})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for empty items, got %v", err)
	}

	_, err = svc.CreateOrder(staffContext(), domain.OrderCreateRequest{
		Items:        []domain.OrderItemRequest{{DrugID: "d", Quantity: 1}},
		CustomerName: "Ali",
		Status:       "shipped",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}

func TestUpdateOrderKeepsItemsWhenOmitted(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := staffContext()

	drugs, _ := repo.ListDrugs(context.Background(), domain.DrugFilter{})
	drug := drugs[0]

	created, err := svc.CreateOrder(ctx, domain.OrderCreateRequest{
		Items:        []domain.OrderItemRequest{{DrugID: drug.ID, Quantity: 2}},
		CustomerName: "Ayse",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	status := domain.OrderStatusDelivered
	updated, err := svc.UpdateOrder(ctx, created.ID, domain.OrderUpdateRequest{Status: &status})
	if err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}
	if updated.Status != domain.OrderStatusDelivered {
		t.Fatalf("status not applied: %s", updated.Status)
	}
	if len(updated.Items) != len(created.Items) || updated.TotalAmountCents != created.TotalAmountCents {
		t.Fatalf("items changed on a status-only edit: %+v", updated.Items)
	}

	after, err := repo.GetDrugByID(context.Background(), drug.ID)
	if err != nil {
		t.Fatalf("GetDrugByID: %v", err)
	}
	if after.Stock != drug.Stock-2 {
		t.Fatalf("stock moved on a status-only edit: %d", after.Stock)
	}
}

func TestDeleteOrderRequiresAdmin(t *testing.T) {
	svc, repo := newTestService(t)

	drugs, _ := repo.ListDrugs(context.Background(), domain.DrugFilter{})
	created, err := svc.CreateOrder(staffContext(), domain.OrderCreateRequest{
		Items:        []domain.OrderItemRequest{{DrugID: drugs[0].ID, Quantity: 1}},
		CustomerName: "Ali",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if err := svc.DeleteOrder(staffContext(), created.ID); err == nil || err.Error() != "admin role required" {
		t.Fatalf("expected admin role required, got %v", err)
	}
	if err := svc.DeleteOrder(adminContext(), created.ID); err != nil {
		t.Fatalf("DeleteOrder as admin: %v", err)
	}
}

// conflictRepo wraps a Repository and fails the first n cart sales with
// a write conflict before delegating.
type conflictRepo struct {
	store.Repository
	remaining int
	attempts  int
}

func (r *conflictRepo) CreateCartSale(ctx context.Context, order domain.Order) (*domain.Order, error) {
	r.attempts++
	if r.remaining > 0 {
		r.remaining--
		return nil, store.ErrWriteConflict
	}
	return r.Repository.CreateCartSale(ctx, order)
}

func TestCartSaleRetriesOnWriteConflict(t *testing.T) {
	inner := memory.NewSeeded()
	repo := &conflictRepo{Repository: inner, remaining: 2}
	svc := New(repo, inner, nil, 0)
	ctx := staffContext()

	drugs, _ := inner.ListDrugs(context.Background(), domain.DrugFilter{})
	drug := drugs[0]
	if _, err := svc.LoadDrug(ctx, domain.LoadRequest{DrugID: drug.ID, Quantity: 4}); err != nil {
		t.Fatalf("LoadDrug: %v", err)
	}

	order, err := svc.CreateCartSale(ctx, domain.CartSaleRequest{
		Items: []domain.OrderItemRequest{{DrugID: drug.ID, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("CreateCartSale: %v", err)
	}
	if repo.attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", repo.attempts)
	}
	if order.CustomerName != "walk-in" {
		t.Fatalf("expected walk-in default, got %q", order.CustomerName)
	}
}

func TestCartSaleGivesUpAfterMaxAttempts(t *testing.T) {
	inner := memory.NewSeeded()
	repo := &conflictRepo{Repository: inner, remaining: 100}
	svc := New(repo, inner, nil, 0)

	drugs, _ := inner.ListDrugs(context.Background(), domain.DrugFilter{})
	_, err := svc.CreateCartSale(staffContext(), domain.CartSaleRequest{
		Items: []domain.OrderItemRequest{{DrugID: drugs[0].ID, Quantity: 1}},
	})
	if !errors.Is(err, store.ErrWriteConflict) {
		t.Fatalf("expected write conflict after retries, got %v", err)
	}
	if repo.attempts != maxCartSaleAttempts {
		t.Fatalf("expected %d attempts, got %d", maxCartSaleAttempts, repo.attempts)
	}
}

// countingCache records dashboard cache traffic.
type countingCache struct {
	stats       *domain.DashboardStats
	gets        int
	sets        int
	invalidated int
}

func (c *countingCache) GetStats(_ context.Context, _ string) (*domain.DashboardStats, bool, error) {
	c.gets++
	if c.stats != nil {
		return c.stats, true, nil
	}
	return nil, false, nil
}

func (c *countingCache) SetStats(_ context.Context, _ string, value *domain.DashboardStats, _ time.Duration) error {
	c.sets++
	c.stats = value
	return nil
}

func (c *countingCache) GetCartDashboard(_ context.Context, _ string) (*domain.CartDashboard, bool, error) {
	return nil, false, nil
}

func (c *countingCache) SetCartDashboard(_ context.Context, _ string, _ *domain.CartDashboard, _ time.Duration) error {
	return nil
}

func (c *countingCache) Invalidate(_ context.Context, _ ...string) error {
	c.invalidated++
	c.stats = nil
	return nil
}

func TestDashboardStatsUsesCache(t *testing.T) {
	repo := memory.NewSeeded()
	cache := &countingCache{}
	svc := New(repo, nil, cache, time.Minute)
	ctx := staffContext()

	if _, err := svc.DashboardStats(ctx); err != nil {
		t.Fatalf("DashboardStats: %v", err)
	}
	if cache.sets != 1 {
		t.Fatalf("expected one cache fill, got %d", cache.sets)
	}
	if _, err := svc.DashboardStats(ctx); err != nil {
		t.Fatalf("DashboardStats: %v", err)
	}
	if cache.sets != 1 {
		t.Fatalf("second read should hit the cache, sets=%d", cache.sets)
	}

	drugs, _ := repo.ListDrugs(context.Background(), domain.DrugFilter{})
	if _, err := svc.LoadDrug(ctx, domain.LoadRequest{DrugID: drugs[0].ID, Quantity: 1}); err != nil {
		t.Fatalf("LoadDrug: %v", err)
	}
	if cache.invalidated == 0 {
		t.Fatal("stock-moving operation should invalidate the stats cache")
	}
}

func TestSearchDrugsEmptyQuery(t *testing.T) {
	svc, _ := newTestService(t)

	drugs, err := svc.SearchDrugs(context.Background(), "   ", 10)
	if err != nil {
		t.Fatalf("SearchDrugs: %v", err)
	}
	if len(drugs) != 0 {
		t.Fatalf("blank query should return nothing, got %d", len(drugs))
	}
}
