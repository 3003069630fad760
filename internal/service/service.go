package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Ammaralibrahim/stocksistem/internal/cache"
	"github.com/Ammaralibrahim/stocksistem/internal/domain"
	"github.com/Ammaralibrahim/stocksistem/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// ActiveCartResolver picks the cart that receives cart-scoped
// operations when the request names none.
type ActiveCartResolver interface {
	ResolveActiveCart(ctx context.Context) (*domain.Cart, error)
}

const (
	statsCacheKey     = "dashboard:stats"
	cartStatsCacheKey = "dashboard:carts"

	// cart sales retry on write conflicts before giving up
	maxCartSaleAttempts = 3
	cartSaleBackoffBase = 25 * time.Millisecond
)

type Service struct {
	repo     store.Repository
	resolver ActiveCartResolver
	stats    cache.StatsCache
	statsTTL time.Duration
}

func New(repo store.Repository, resolver ActiveCartResolver, stats cache.StatsCache, statsTTL time.Duration) *Service {
	if resolver == nil {
		resolver = repo
	}
	if stats == nil {
		stats = cache.NoopStatsCache{}
	}
	if statsTTL <= 0 {
		statsTTL = 30 * time.Second
	}

	return &Service{
		repo:     repo,
		resolver: resolver,
		stats:    stats,
		statsTTL: statsTTL,
	}
}

func (s *Service) ListDrugs(ctx context.Context, filter domain.DrugFilter) ([]domain.Drug, error) {
	return s.repo.ListDrugs(ctx, filter)
}

func (s *Service) SearchDrugs(ctx context.Context, query string, limit int) ([]domain.Drug, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []domain.Drug{}, nil
	}
	return s.repo.SearchDrugs(ctx, query, limit)
}

func (s *Service) CreateDrug(ctx context.Context, req domain.DrugCreateRequest) (domain.Drug, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Drug{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Drug{}, fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	if req.Stock < 0 {
		return domain.Drug{}, fmt.Errorf("%w: stock cannot be negative", store.ErrValidation)
	}
	if req.PriceCents < 1 {
		return domain.Drug{}, fmt.Errorf("%w: price must be positive", store.ErrValidation)
	}
	expiry, err := parseDate(req.ExpiryDate)
	if err != nil {
		return domain.Drug{}, fmt.Errorf("%w: expiry_date must be YYYY-MM-DD", store.ErrValidation)
	}
	if req.LowStockThreshold < 0 {
		return domain.Drug{}, fmt.Errorf("%w: low stock threshold cannot be negative", store.ErrValidation)
	}
	if req.LowStockThreshold == 0 {
		req.LowStockThreshold = 10
	}

	created, err := s.repo.CreateDrug(ctx, domain.Drug{
		Name:               req.Name,
		Stock:              req.Stock,
		PriceCents:         req.PriceCents,
		PurchasePriceCents: req.PurchasePriceCents,
		ExpiryDate:         expiry,
		Barcode:            strings.TrimSpace(req.Barcode),
		SerialNumber:       strings.TrimSpace(req.SerialNumber),
		Description:        strings.TrimSpace(req.Description),
		Category:           strings.TrimSpace(req.Category),
		Manufacturer:       strings.TrimSpace(req.Manufacturer),
		Supplier:           strings.TrimSpace(req.Supplier),
		Location:           strings.TrimSpace(req.Location),
		LowStockThreshold:  req.LowStockThreshold,
	})
	if err != nil {
		return domain.Drug{}, err
	}

	log.Printf("[service] drug created id=%s name=%s stock=%d by=%s", created.ID, created.Name, created.Stock, actor.Username)
	s.invalidateStats(ctx)
	return *created, nil
}

func (s *Service) GetDrug(ctx context.Context, id string) (domain.Drug, error) {
	drug, err := s.repo.GetDrugByID(ctx, id)
	if err != nil {
		return domain.Drug{}, err
	}
	return *drug, nil
}

func (s *Service) GetDrugByBarcode(ctx context.Context, barcode string) (domain.Drug, error) {
	drug, err := s.repo.GetDrugByBarcode(ctx, barcode)
	if err != nil {
		return domain.Drug{}, err
	}
	return *drug, nil
}

func (s *Service) UpdateDrug(ctx context.Context, id string, req domain.DrugUpdateRequest) (domain.Drug, error) {
	existing, err := s.repo.GetDrugByID(ctx, id)
	if err != nil {
		return domain.Drug{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Drug{}, fmt.Errorf("%w: name is required", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return domain.Drug{}, fmt.Errorf("%w: stock cannot be negative", store.ErrValidation)
		}
		updated.Stock = *req.Stock
	}
	if req.PriceCents != nil {
		if *req.PriceCents < 1 {
			return domain.Drug{}, fmt.Errorf("%w: price must be positive", store.ErrValidation)
		}
		updated.PriceCents = *req.PriceCents
	}
	if req.PurchasePriceCents != nil {
		updated.PurchasePriceCents = *req.PurchasePriceCents
	}
	if req.ExpiryDate != nil {
		expiry, err := parseDate(*req.ExpiryDate)
		if err != nil {
			return domain.Drug{}, fmt.Errorf("%w: expiry_date must be YYYY-MM-DD", store.ErrValidation)
		}
		updated.ExpiryDate = expiry
	}
	if req.Barcode != nil {
		updated.Barcode = strings.TrimSpace(*req.Barcode)
	}
	if req.SerialNumber != nil {
		updated.SerialNumber = strings.TrimSpace(*req.SerialNumber)
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Manufacturer != nil {
		updated.Manufacturer = strings.TrimSpace(*req.Manufacturer)
	}
	if req.Supplier != nil {
		updated.Supplier = strings.TrimSpace(*req.Supplier)
	}
	if req.Location != nil {
		updated.Location = strings.TrimSpace(*req.Location)
	}
	if req.LowStockThreshold != nil {
		if *req.LowStockThreshold < 0 {
			return domain.Drug{}, fmt.Errorf("%w: low stock threshold cannot be negative", store.ErrValidation)
		}
		updated.LowStockThreshold = *req.LowStockThreshold
	}

	saved, err := s.repo.UpdateDrug(ctx, updated)
	if err != nil {
		return domain.Drug{}, err
	}
	s.invalidateStats(ctx)
	return *saved, nil
}

func (s *Service) DeleteDrug(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	if err := s.repo.DeleteDrug(ctx, id); err != nil {
		return err
	}
	log.Printf("[service] drug deleted id=%s by=%s", id, actor.Username)
	s.invalidateStats(ctx)
	return nil
}

func (s *Service) ListLowStockDrugs(ctx context.Context, limit int) ([]domain.Drug, error) {
	return s.repo.ListLowStockDrugs(ctx, limit)
}

func (s *Service) ListExpiringDrugs(ctx context.Context, days int, limit int) ([]domain.Drug, error) {
	if days < 1 {
		days = 30
	}
	return s.repo.ListExpiringDrugs(ctx, time.Duration(days)*24*time.Hour, limit)
}

func (s *Service) ListCarts(ctx context.Context) ([]domain.Cart, error) {
	return s.repo.ListCarts(ctx)
}

func (s *Service) GetCart(ctx context.Context, id string) (domain.Cart, error) {
	cart, err := s.repo.GetCartByID(ctx, id)
	if err != nil {
		return domain.Cart{}, err
	}
	return *cart, nil
}

func (s *Service) GetActiveCart(ctx context.Context) (domain.Cart, error) {
	cart, err := s.resolver.ResolveActiveCart(ctx)
	if err != nil {
		return domain.Cart{}, err
	}
	return *cart, nil
}

func (s *Service) CreateCart(ctx context.Context, req domain.CartCreateRequest) (domain.Cart, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Cart{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Cart{}, fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	if req.Status != "" && !validCartStatus(req.Status) {
		return domain.Cart{}, fmt.Errorf("%w: unknown cart status %q", store.ErrValidation, req.Status)
	}

	created, err := s.repo.CreateCart(ctx, domain.Cart{
		Name:        req.Name,
		DriverName:  strings.TrimSpace(req.DriverName),
		DriverPhone: strings.TrimSpace(req.DriverPhone),
		PlateNumber: strings.TrimSpace(req.PlateNumber),
		Status:      req.Status,
		Notes:       strings.TrimSpace(req.Notes),
	})
	if err != nil {
		return domain.Cart{}, err
	}
	log.Printf("[service] cart created id=%s name=%s by=%s", created.ID, created.Name, actor.Username)
	return *created, nil
}

func (s *Service) UpdateCart(ctx context.Context, id string, req domain.CartUpdateRequest) (domain.Cart, error) {
	existing, err := s.repo.GetCartByID(ctx, id)
	if err != nil {
		return domain.Cart{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Cart{}, fmt.Errorf("%w: name is required", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.DriverName != nil {
		updated.DriverName = strings.TrimSpace(*req.DriverName)
	}
	if req.DriverPhone != nil {
		updated.DriverPhone = strings.TrimSpace(*req.DriverPhone)
	}
	if req.PlateNumber != nil {
		updated.PlateNumber = strings.TrimSpace(*req.PlateNumber)
	}
	if req.Status != nil {
		if !validCartStatus(*req.Status) {
			return domain.Cart{}, fmt.Errorf("%w: unknown cart status %q", store.ErrValidation, *req.Status)
		}
		updated.Status = *req.Status
	}
	if req.Notes != nil {
		updated.Notes = strings.TrimSpace(*req.Notes)
	}

	saved, err := s.repo.UpdateCartInfo(ctx, updated)
	if err != nil {
		return domain.Cart{}, err
	}
	return *saved, nil
}

func (s *Service) DeleteCart(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	if err := s.repo.DeleteCart(ctx, id); err != nil {
		return err
	}
	log.Printf("[service] cart deleted id=%s by=%s", id, actor.Username)
	return nil
}

// resolveCartID honors an explicit cart id and falls back to the
// resolver only when the request names none.
func (s *Service) resolveCartID(ctx context.Context, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested != "" {
		return requested, nil
	}
	cart, err := s.resolver.ResolveActiveCart(ctx)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: no cart available", store.ErrNotFound)
		}
		return "", err
	}
	return cart.ID, nil
}

func (s *Service) LoadDrug(ctx context.Context, req domain.LoadRequest) (domain.LoadResult, error) {
	if strings.TrimSpace(req.DrugID) == "" {
		return domain.LoadResult{}, fmt.Errorf("%w: drug_id is required", store.ErrValidation)
	}
	if req.Quantity < 1 {
		return domain.LoadResult{}, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}
	cartID, err := s.resolveCartID(ctx, req.CartID)
	if err != nil {
		return domain.LoadResult{}, err
	}

	cart, drug, err := s.repo.LoadToCart(ctx, cartID, req.DrugID, req.Quantity)
	if err != nil {
		return domain.LoadResult{}, err
	}
	s.invalidateStats(ctx)
	return domain.LoadResult{
		Message: fmt.Sprintf("loaded %d x %s onto %s", req.Quantity, drug.Name, cart.Name),
		Cart:    cart,
		Drug:    drug,
	}, nil
}

func (s *Service) LoadDrugByBarcode(ctx context.Context, req domain.BarcodeLoadRequest) (domain.LoadResult, error) {
	if strings.TrimSpace(req.Barcode) == "" {
		return domain.LoadResult{}, fmt.Errorf("%w: barcode is required", store.ErrValidation)
	}
	if req.Quantity < 1 {
		req.Quantity = 1
	}
	drug, err := s.repo.GetDrugByBarcode(ctx, req.Barcode)
	if err != nil {
		return domain.LoadResult{}, err
	}
	return s.LoadDrug(ctx, domain.LoadRequest{DrugID: drug.ID, Quantity: req.Quantity})
}

func (s *Service) UnloadDrug(ctx context.Context, req domain.UnloadRequest) (domain.LoadResult, error) {
	if strings.TrimSpace(req.DrugID) == "" {
		return domain.LoadResult{}, fmt.Errorf("%w: drug_id is required", store.ErrValidation)
	}
	if req.Quantity < 1 {
		return domain.LoadResult{}, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}
	cartID, err := s.resolveCartID(ctx, req.CartID)
	if err != nil {
		return domain.LoadResult{}, err
	}

	cart, drug, err := s.repo.UnloadFromCart(ctx, cartID, req.DrugID, req.Quantity)
	if err != nil {
		return domain.LoadResult{}, err
	}
	s.invalidateStats(ctx)
	return domain.LoadResult{
		Message: fmt.Sprintf("unloaded %d x %s from %s", req.Quantity, drug.Name, cart.Name),
		Cart:    cart,
		Drug:    drug,
	}, nil
}

func (s *Service) UnloadAll(ctx context.Context, req domain.UnloadAllRequest) (domain.UnloadAllResult, error) {
	cartID, err := s.resolveCartID(ctx, req.CartID)
	if err != nil {
		return domain.UnloadAllResult{}, err
	}

	cart, transfer, err := s.repo.UnloadAllFromCart(ctx, cartID, strings.TrimSpace(req.Notes))
	if err != nil {
		return domain.UnloadAllResult{}, err
	}
	s.invalidateStats(ctx)
	return domain.UnloadAllResult{
		Message:  fmt.Sprintf("unloaded %d items from %s", transfer.TotalItems, cart.Name),
		Cart:     cart,
		Transfer: transfer,
	}, nil
}

func (s *Service) ListTransfers(ctx context.Context, cartID string) ([]domain.CartTransfer, error) {
	return s.repo.ListCartTransfers(ctx, strings.TrimSpace(cartID))
}

func (s *Service) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return s.repo.ListOrders(ctx)
}

func (s *Service) ListTodayOrders(ctx context.Context) ([]domain.Order, error) {
	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return s.repo.ListOrdersBetween(ctx, dayStart, now)
}

func (s *Service) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (domain.Order, error) {
	items, err := validateOrderItems(req.Items)
	if err != nil {
		return domain.Order{}, err
	}
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	if req.CustomerName == "" {
		return domain.Order{}, fmt.Errorf("%w: customer_name is required", store.ErrValidation)
	}
	if req.Status != "" && !validOrderStatus(req.Status) {
		return domain.Order{}, fmt.Errorf("%w: unknown order status %q", store.ErrValidation, req.Status)
	}
	if req.PaymentMethod != "" && !validPaymentMethod(req.PaymentMethod) {
		return domain.Order{}, fmt.Errorf("%w: unknown payment method %q", store.ErrValidation, req.PaymentMethod)
	}

	created, err := s.repo.CreateOrder(ctx, domain.Order{
		Items:           items,
		CustomerName:    req.CustomerName,
		CustomerPhone:   strings.TrimSpace(req.CustomerPhone),
		DeliveryAddress: strings.TrimSpace(req.DeliveryAddress),
		Notes:           strings.TrimSpace(req.Notes),
		PaymentMethod:   req.PaymentMethod,
		Status:          req.Status,
		CartUsed:        strings.TrimSpace(req.CartUsed),
	})
	if err != nil {
		return domain.Order{}, err
	}
	log.Printf("[service] order created number=%s total=%d items=%d", created.OrderNumber, created.TotalAmountCents, len(created.Items))
	s.invalidateStats(ctx)
	return *created, nil
}

func (s *Service) UpdateOrder(ctx context.Context, id string, req domain.OrderUpdateRequest) (domain.Order, error) {
	existing, err := s.repo.GetOrderByID(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}

	updated := *existing
	updated.Cart = nil
	if req.Items != nil {
		items, err := validateOrderItems(*req.Items)
		if err != nil {
			return domain.Order{}, err
		}
		updated.Items = items
	}
	if req.CustomerName != nil {
		name := strings.TrimSpace(*req.CustomerName)
		if name == "" {
			return domain.Order{}, fmt.Errorf("%w: customer_name is required", store.ErrValidation)
		}
		updated.CustomerName = name
	}
	if req.CustomerPhone != nil {
		updated.CustomerPhone = strings.TrimSpace(*req.CustomerPhone)
	}
	if req.DeliveryAddress != nil {
		updated.DeliveryAddress = strings.TrimSpace(*req.DeliveryAddress)
	}
	if req.Notes != nil {
		updated.Notes = strings.TrimSpace(*req.Notes)
	}
	if req.PaymentMethod != nil {
		if !validPaymentMethod(*req.PaymentMethod) {
			return domain.Order{}, fmt.Errorf("%w: unknown payment method %q", store.ErrValidation, *req.PaymentMethod)
		}
		updated.PaymentMethod = *req.PaymentMethod
	}
	if req.Status != nil {
		if !validOrderStatus(*req.Status) {
			return domain.Order{}, fmt.Errorf("%w: unknown order status %q", store.ErrValidation, *req.Status)
		}
		updated.Status = *req.Status
	}
	if req.CartUsed != nil {
		updated.CartUsed = strings.TrimSpace(*req.CartUsed)
	}

	saved, err := s.repo.UpdateOrder(ctx, updated)
	if err != nil {
		return domain.Order{}, err
	}
	s.invalidateStats(ctx)
	return *saved, nil
}

func (s *Service) DeleteOrder(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required")
	}
	if err := s.repo.DeleteOrder(ctx, id); err != nil {
		return err
	}
	log.Printf("[service] order deleted id=%s by=%s", id, actor.Username)
	s.invalidateStats(ctx)
	return nil
}

// CreateCartSale retries on write conflicts: concurrent sales off the
// same cart serialize at the store, and the losers come back with
// store.ErrWriteConflict. Backoff doubles per attempt.
func (s *Service) CreateCartSale(ctx context.Context, req domain.CartSaleRequest) (domain.Order, error) {
	items, err := validateOrderItems(req.Items)
	if err != nil {
		return domain.Order{}, err
	}
	if req.PaymentMethod != "" && !validPaymentMethod(req.PaymentMethod) {
		return domain.Order{}, fmt.Errorf("%w: unknown payment method %q", store.ErrValidation, req.PaymentMethod)
	}
	cartID, err := s.resolveCartID(ctx, req.CartID)
	if err != nil {
		return domain.Order{}, err
	}

	order := domain.Order{
		Items:         items,
		CustomerName:  strings.TrimSpace(req.CustomerName),
		CustomerPhone: strings.TrimSpace(req.CustomerPhone),
		PaymentMethod: req.PaymentMethod,
		CartUsed:      cartID,
	}
	if order.CustomerName == "" {
		order.CustomerName = "walk-in"
	}

	var created *domain.Order
	backoff := cartSaleBackoffBase
	for attempt := 1; ; attempt++ {
		created, err = s.repo.CreateCartSale(ctx, order)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrWriteConflict) || attempt >= maxCartSaleAttempts {
			return domain.Order{}, err
		}
		log.Printf("[service] WARN: cart sale conflict on cart=%s attempt=%d, retrying", cartID, attempt)
		select {
		case <-ctx.Done():
			return domain.Order{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	log.Printf("[service] cart sale number=%s cart=%s total=%d", created.OrderNumber, cartID, created.TotalAmountCents)
	s.invalidateStats(ctx)
	return *created, nil
}

func (s *Service) DashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	if cached, ok, err := s.stats.GetStats(ctx, statsCacheKey); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: stats cache read failed: %v", err)
	}

	stats, err := s.repo.GetDashboardStats(ctx, time.Now().UTC())
	if err != nil {
		return domain.DashboardStats{}, err
	}
	if err := s.stats.SetStats(ctx, statsCacheKey, &stats, s.statsTTL); err != nil {
		log.Printf("[service] WARN: stats cache write failed: %v", err)
	}
	return stats, nil
}

func (s *Service) CartDashboard(ctx context.Context) (domain.CartDashboard, error) {
	if cached, ok, err := s.stats.GetCartDashboard(ctx, cartStatsCacheKey); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: cart stats cache read failed: %v", err)
	}

	dashboard, err := s.repo.GetCartDashboard(ctx, time.Now().UTC())
	if err != nil {
		return domain.CartDashboard{}, err
	}
	if err := s.stats.SetCartDashboard(ctx, cartStatsCacheKey, &dashboard, s.statsTTL); err != nil {
		log.Printf("[service] WARN: cart stats cache write failed: %v", err)
	}
	return dashboard, nil
}

func (s *Service) invalidateStats(ctx context.Context) {
	if err := s.stats.Invalidate(ctx, statsCacheKey, cartStatsCacheKey); err != nil {
		log.Printf("[service] WARN: stats cache invalidation failed: %v", err)
	}
}

func validateOrderItems(reqs []domain.OrderItemRequest) ([]domain.OrderItem, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: items are required", store.ErrValidation)
	}
	items := make([]domain.OrderItem, 0, len(reqs))
	for _, req := range reqs {
		if strings.TrimSpace(req.DrugID) == "" {
			return nil, fmt.Errorf("%w: drug_id is required", store.ErrValidation)
		}
		if req.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
		}
		if req.PriceCents < 0 {
			return nil, fmt.Errorf("%w: price cannot be negative", store.ErrValidation)
		}
		items = append(items, domain.OrderItem{
			DrugID:     strings.TrimSpace(req.DrugID),
			Quantity:   req.Quantity,
			PriceCents: req.PriceCents,
		})
	}
	return items, nil
}

func validCartStatus(status string) bool {
	switch status {
	case domain.CartStatusActive, domain.CartStatusStopped, domain.CartStatusMaintenance, domain.CartStatusClosed:
		return true
	}
	return false
}

func validOrderStatus(status string) bool {
	switch status {
	case domain.OrderStatusPending, domain.OrderStatusInDelivery, domain.OrderStatusDelivered:
		return true
	}
	return false
}

func validPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentTransfer, domain.PaymentOther:
		return true
	}
	return false
}

func parseDate(val string) (time.Time, error) {
	val = strings.TrimSpace(val)
	if val == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.Parse("2006-01-02", val); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
