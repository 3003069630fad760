package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Ammaralibrahim/stocksistem/internal/domain"
	"github.com/Ammaralibrahim/stocksistem/internal/stock"
	"github.com/Ammaralibrahim/stocksistem/internal/store"
	"github.com/Ammaralibrahim/stocksistem/internal/xid"
)

// Store is the in-memory repository used for dev/demo mode and tests.
// The single mutex serializes every mutation, which makes each
// multi-entity operation trivially atomic: mutations are staged on
// copies and written back only after every step succeeded.
type Store struct {
	mu              sync.RWMutex
	drugsByID       map[string]domain.Drug
	cartsByID       map[string]*domain.Cart
	transfers       []domain.CartTransfer
	ordersByID      map[string]*domain.Order
	orderIDByNumber map[string]string
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		drugsByID:       make(map[string]domain.Drug),
		cartsByID:       make(map[string]*domain.Cart),
		transfers:       make([]domain.CartTransfer, 0, 32),
		ordersByID:      make(map[string]*domain.Order),
		orderIDByNumber: make(map[string]string),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning printed to
// stdout. These are never used in production (the backend switches to
// PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"staff", staffPwd, "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()
	expiry := func(months int) time.Time {
		return now.AddDate(0, months, 0)
	}

	drugs := []domain.Drug{
		{Name: "Paracetamol 500mg", Stock: 240, PriceCents: 450, PurchasePriceCents: 280, ExpiryDate: expiry(18), Barcode: "8690001000011", Category: "analgesic", Manufacturer: "Atabay", Location: "A1", LowStockThreshold: 30},
		{Name: "Ibuprofen 400mg", Stock: 180, PriceCents: 620, PurchasePriceCents: 390, ExpiryDate: expiry(14), Barcode: "8690001000028", Category: "analgesic", Manufacturer: "Sanovel", Location: "A2", LowStockThreshold: 25},
		{Name: "Amoxicillin 500mg", Stock: 90, PriceCents: 1850, PurchasePriceCents: 1200, ExpiryDate: expiry(10), Barcode: "8690001000035", Category: "antibiotic", Manufacturer: "Bilim", Location: "B1", LowStockThreshold: 15},
		{Name: "Omeprazole 20mg", Stock: 120, PriceCents: 980, PurchasePriceCents: 610, ExpiryDate: expiry(20), Barcode: "8690001000042", Category: "gastro", Manufacturer: "Abdi Ibrahim", Location: "B3", LowStockThreshold: 20},
		{Name: "Cetirizine 10mg", Stock: 150, PriceCents: 540, PurchasePriceCents: 330, ExpiryDate: expiry(16), Barcode: "8690001000059", Category: "antihistamine", Manufacturer: "Deva", Location: "C1", LowStockThreshold: 20},
		{Name: "Metformin 850mg", Stock: 200, PriceCents: 760, PurchasePriceCents: 470, ExpiryDate: expiry(22), Barcode: "8690001000066", Category: "diabetes", Manufacturer: "Sandoz", Location: "C2", LowStockThreshold: 30},
		{Name: "Aspirin 100mg", Stock: 300, PriceCents: 380, PurchasePriceCents: 220, ExpiryDate: expiry(24), Barcode: "8690001000073", Category: "cardio", Manufacturer: "Bayer", Location: "A3", LowStockThreshold: 40},
		{Name: "Salbutamol Inhaler", Stock: 45, PriceCents: 3200, PurchasePriceCents: 2100, ExpiryDate: expiry(12), Barcode: "8690001000080", Category: "respiratory", Manufacturer: "GSK", Location: "D1", LowStockThreshold: 10},
		{Name: "Vitamin C 1000mg", Stock: 160, PriceCents: 890, PurchasePriceCents: 520, ExpiryDate: expiry(2), Barcode: "8690001000097", Category: "supplement", Manufacturer: "Solgar", Location: "E1", LowStockThreshold: 20},
		{Name: "Insulin Glargine", Stock: 24, PriceCents: 12500, PurchasePriceCents: 9400, ExpiryDate: expiry(8), Barcode: "8690001000103", Category: "diabetes", Manufacturer: "Sanofi", Location: "FRIDGE-1", LowStockThreshold: 8},
	}

	drugMap := make(map[string]domain.Drug, len(drugs))
	for _, d := range drugs {
		d.ID = xid.New("drug")
		d.CreatedAt = now
		d.UpdatedAt = now
		drugMap[d.ID] = d
	}

	cart := &domain.Cart{
		ID:         xid.New("cart"),
		Name:       "Distribution Cart 1",
		Status:     domain.CartStatusActive,
		DriverName: "Depot",
		Items:      []domain.CartItem{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	return &Store{
		drugsByID:       drugMap,
		cartsByID:       map[string]*domain.Cart{cart.ID: cart},
		transfers:       make([]domain.CartTransfer, 0, 32),
		ordersByID:      make(map[string]*domain.Order),
		orderIDByNumber: make(map[string]string),
		usersByUsername: seedUsers(),
	}
}

func (s *Store) ListDrugs(_ context.Context, filter domain.DrugFilter) ([]domain.Drug, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	category := strings.ToLower(strings.TrimSpace(filter.Category))

	drugs := make([]domain.Drug, 0, len(s.drugsByID))
	for _, d := range s.drugsByID {
		if search != "" &&
			!strings.Contains(strings.ToLower(d.Name), search) &&
			!strings.Contains(strings.ToLower(d.Barcode), search) &&
			!strings.Contains(strings.ToLower(d.SerialNumber), search) {
			continue
		}
		if category != "" && strings.ToLower(d.Category) != category {
			continue
		}
		if filter.MinStock != nil && d.TotalStock() < *filter.MinStock {
			continue
		}
		if filter.MaxStock != nil && d.TotalStock() > *filter.MaxStock {
			continue
		}
		drugs = append(drugs, d)
	}

	sortDrugs(drugs, filter.SortBy, filter.SortDesc)
	return drugs, nil
}

func (s *Store) SearchDrugs(_ context.Context, query string, limit int) ([]domain.Drug, error) {
	if limit < 1 {
		limit = 20
	}
	result, err := s.ListDrugs(context.Background(), domain.DrugFilter{Search: query})
	if err != nil {
		return nil, err
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateDrug(_ context.Context, drug domain.Drug) (*domain.Drug, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	drug.Name = strings.TrimSpace(drug.Name)
	if drug.Name == "" || drug.PriceCents < 1 || drug.Stock < 0 {
		return nil, store.ErrValidation
	}
	if drug.CartStock != 0 {
		return nil, fmt.Errorf("%w: cart stock is managed by load operations", store.ErrValidation)
	}
	if drug.Barcode != "" {
		for _, existing := range s.drugsByID {
			if existing.Barcode == drug.Barcode {
				return nil, fmt.Errorf("%w: barcode %s", store.ErrDuplicateKey, drug.Barcode)
			}
		}
	}

	if drug.ID == "" {
		drug.ID = xid.New("drug")
	}
	now := time.Now().UTC()
	if drug.CreatedAt.IsZero() {
		drug.CreatedAt = now
	}
	drug.UpdatedAt = now

	s.drugsByID[drug.ID] = drug
	created := drug
	return &created, nil
}

func (s *Store) GetDrugByID(_ context.Context, id string) (*domain.Drug, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	drug, exists := s.drugsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyDrug := drug
	return &copyDrug, nil
}

func (s *Store) GetDrugByBarcode(_ context.Context, barcode string) (*domain.Drug, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, store.ErrValidation
	}
	for _, drug := range s.drugsByID {
		if drug.Barcode == barcode {
			copyDrug := drug
			return &copyDrug, nil
		}
	}
	return nil, store.ErrNotFound
}

// UpdateDrug overwrites the descriptive fields and the warehouse stock.
// CartStock is preserved from the stored row regardless of what the
// caller sends: only load/unload/order operations may move it.
func (s *Store) UpdateDrug(_ context.Context, drug domain.Drug) (*domain.Drug, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.drugsByID[drug.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	drug.Name = strings.TrimSpace(drug.Name)
	if drug.Name == "" || drug.PriceCents < 1 || drug.Stock < 0 {
		return nil, store.ErrValidation
	}
	if drug.Barcode != "" && drug.Barcode != existing.Barcode {
		for _, other := range s.drugsByID {
			if other.ID != drug.ID && other.Barcode == drug.Barcode {
				return nil, fmt.Errorf("%w: barcode %s", store.ErrDuplicateKey, drug.Barcode)
			}
		}
	}

	drug.CartStock = existing.CartStock
	drug.CreatedAt = existing.CreatedAt
	drug.UpdatedAt = time.Now().UTC()
	s.drugsByID[drug.ID] = drug
	updated := drug
	return &updated, nil
}

func (s *Store) DeleteDrug(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drug, exists := s.drugsByID[id]
	if !exists {
		return store.ErrNotFound
	}
	if drug.CartStock > 0 {
		log.Printf("[memory-store] WARN: deleting drug %s with %d units still on carts", drug.Name, drug.CartStock)
	}
	delete(s.drugsByID, id)
	return nil
}

func (s *Store) ListLowStockDrugs(_ context.Context, limit int) ([]domain.Drug, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 10
	}
	result := make([]domain.Drug, 0, limit)
	for _, d := range s.drugsByID {
		if d.TotalStock() <= d.LowStockThreshold {
			result = append(result, d)
		}
	}
	slices.SortFunc(result, func(a, b domain.Drug) int {
		if a.TotalStock() == b.TotalStock() {
			return cmpString(a.Name, b.Name)
		}
		return a.TotalStock() - b.TotalStock()
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListExpiringDrugs(_ context.Context, within time.Duration, limit int) ([]domain.Drug, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 10
	}
	cutoff := time.Now().UTC().Add(within)
	result := make([]domain.Drug, 0, limit)
	for _, d := range s.drugsByID {
		if d.ExpiryDate.IsZero() || d.ExpiryDate.After(cutoff) {
			continue
		}
		result = append(result, d)
	}
	slices.SortFunc(result, func(a, b domain.Drug) int {
		if a.ExpiryDate.Equal(b.ExpiryDate) {
			return cmpString(a.Name, b.Name)
		}
		if a.ExpiryDate.Before(b.ExpiryDate) {
			return -1
		}
		return 1
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListCarts(_ context.Context) ([]domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	carts := make([]domain.Cart, 0, len(s.cartsByID))
	for _, c := range s.cartsByID {
		carts = append(carts, s.cartWithDrugs(c))
	}
	slices.SortFunc(carts, func(a, b domain.Cart) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return carts, nil
}

func (s *Store) GetCartByID(_ context.Context, id string) (*domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.cartsByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	result := s.cartWithDrugs(c)
	return &result, nil
}

func (s *Store) ResolveActiveCart(_ context.Context) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.resolveActiveCartLocked()
	if c == nil {
		return nil, store.ErrNotFound
	}
	result := s.cartWithDrugs(c)
	return &result, nil
}

// resolveActiveCartLocked prefers the cart marked active; when none is
// marked it coerces the oldest cart active as a logged repair action.
func (s *Store) resolveActiveCartLocked() *domain.Cart {
	var active *domain.Cart
	var oldest *domain.Cart
	for _, c := range s.cartsByID {
		if c.Status == domain.CartStatusActive {
			if active == nil || c.CreatedAt.Before(active.CreatedAt) {
				active = c
			}
		}
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	if active != nil {
		return active
	}
	if oldest == nil {
		return nil
	}
	log.Printf("[memory-store] WARN: no active cart found, marking %s (%s) active", oldest.Name, oldest.ID)
	oldest.Status = domain.CartStatusActive
	oldest.UpdatedAt = time.Now().UTC()
	return oldest
}

func (s *Store) CreateCart(_ context.Context, cart domain.Cart) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cart.Name = strings.TrimSpace(cart.Name)
	if cart.Name == "" {
		return nil, store.ErrValidation
	}
	for _, existing := range s.cartsByID {
		if strings.EqualFold(existing.Name, cart.Name) {
			return nil, fmt.Errorf("%w: cart name %s", store.ErrDuplicateKey, cart.Name)
		}
	}
	if cart.ID == "" {
		cart.ID = xid.New("cart")
	}
	if cart.Status == "" {
		cart.Status = domain.CartStatusActive
	}
	now := time.Now().UTC()
	cart.Items = []domain.CartItem{}
	cart.TotalItems = 0
	cart.TotalValueCents = 0
	cart.CreatedAt = now
	cart.UpdatedAt = now

	stored := cart
	s.cartsByID[cart.ID] = &stored
	created := cloneCart(&stored)
	return &created, nil
}

// UpdateCartInfo changes descriptive fields and status only; the item
// list always moves through load/unload/order operations.
func (s *Store) UpdateCartInfo(_ context.Context, cart domain.Cart) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.cartsByID[cart.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	cart.Name = strings.TrimSpace(cart.Name)
	if cart.Name == "" {
		return nil, store.ErrValidation
	}
	if !validCartStatus(cart.Status) {
		return nil, fmt.Errorf("%w: unknown cart status %q", store.ErrValidation, cart.Status)
	}

	existing.Name = cart.Name
	existing.DriverName = cart.DriverName
	existing.DriverPhone = cart.DriverPhone
	existing.PlateNumber = cart.PlateNumber
	existing.Status = cart.Status
	existing.Notes = cart.Notes
	existing.UpdatedAt = time.Now().UTC()

	updated := s.cartWithDrugs(existing)
	return &updated, nil
}

func (s *Store) DeleteCart(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.cartsByID[id]
	if !exists {
		return store.ErrNotFound
	}
	if len(c.Items) > 0 {
		return fmt.Errorf("%w: cart still holds %d items, unload it first", store.ErrValidation, c.TotalItems)
	}
	delete(s.cartsByID, id)
	return nil
}

func (s *Store) LoadToCart(_ context.Context, cartID string, drugID string, quantity int) (*domain.Cart, *domain.Drug, error) {
	if quantity < 1 {
		return nil, nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.cartsByID[cartID]
	if !exists {
		return nil, nil, fmt.Errorf("%w: cart %s", store.ErrNotFound, cartID)
	}
	drug, exists := s.drugsByID[drugID]
	if !exists {
		return nil, nil, fmt.Errorf("%w: drug %s", store.ErrNotFound, drugID)
	}

	now := time.Now().UTC()
	staged := cloneCart(c)
	if err := stock.AdjustDrugStock(&drug, -quantity, quantity, now); err != nil {
		return nil, nil, err
	}
	stock.AddCartItem(&staged, drug, quantity, now)

	s.drugsByID[drugID] = drug
	*c = staged

	resultCart := s.cartWithDrugs(c)
	resultDrug := drug
	return &resultCart, &resultDrug, nil
}

func (s *Store) UnloadFromCart(_ context.Context, cartID string, drugID string, quantity int) (*domain.Cart, *domain.Drug, error) {
	if quantity < 1 {
		return nil, nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.cartsByID[cartID]
	if !exists {
		return nil, nil, fmt.Errorf("%w: cart %s", store.ErrNotFound, cartID)
	}
	drug, exists := s.drugsByID[drugID]
	if !exists {
		return nil, nil, fmt.Errorf("%w: drug %s", store.ErrNotFound, drugID)
	}

	now := time.Now().UTC()
	staged := cloneCart(c)
	if err := stock.RemoveCartItem(&staged, drugID, quantity, now); err != nil {
		return nil, nil, err
	}
	if err := stock.AdjustDrugStock(&drug, quantity, -quantity, now); err != nil {
		return nil, nil, err
	}
	staged.LastUnloadedAt = &now

	s.drugsByID[drugID] = drug
	*c = staged

	resultCart := s.cartWithDrugs(c)
	resultDrug := drug
	return &resultCart, &resultDrug, nil
}

// UnloadAllFromCart returns every item to the warehouse and writes an
// immutable transfer record. Items whose drug no longer exists are
// skipped with a warning so one orphan line cannot block the unload.
func (s *Store) UnloadAllFromCart(_ context.Context, cartID string, notes string) (*domain.Cart, *domain.CartTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.cartsByID[cartID]
	if !exists {
		return nil, nil, fmt.Errorf("%w: cart %s", store.ErrNotFound, cartID)
	}
	if len(c.Items) == 0 {
		return nil, nil, fmt.Errorf("%w: cart is empty", store.ErrValidation)
	}

	now := time.Now().UTC()
	stagedDrugs := make(map[string]domain.Drug, len(c.Items))
	for _, item := range c.Items {
		drug, ok := s.drugsByID[item.DrugID]
		if !ok {
			log.Printf("[memory-store] WARN: unload-all skipping missing drug %s on cart %s", item.DrugID, cartID)
			continue
		}
		if staged, ok := stagedDrugs[item.DrugID]; ok {
			drug = staged
		}
		drug.Stock += item.Quantity
		if drug.CartStock < item.Quantity {
			drug.CartStock = 0
		} else {
			drug.CartStock -= item.Quantity
		}
		drug.UpdatedAt = now
		stagedDrugs[item.DrugID] = drug
	}

	transfer := stock.TransferSnapshot(xid.New("transfer"), *c, notes, now)
	for id, drug := range stagedDrugs {
		s.drugsByID[id] = drug
	}
	stock.ClearCart(c, now)
	s.transfers = append(s.transfers, transfer)

	resultCart := s.cartWithDrugs(c)
	resultTransfer := s.transferWithDrugs(transfer)
	return &resultCart, &resultTransfer, nil
}

func (s *Store) ListCartTransfers(_ context.Context, cartID string) ([]domain.CartTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.CartTransfer, 0, len(s.transfers))
	for _, tr := range s.transfers {
		if cartID != "" && tr.CartID != cartID {
			continue
		}
		result = append(result, s.transferWithDrugs(tr))
	}
	slices.SortFunc(result, func(a, b domain.CartTransfer) int {
		if a.TransferredAt.Equal(b.TransferredAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.TransferredAt.After(b.TransferredAt) {
			return -1
		}
		return 1
	})
	return result, nil
}

func (s *Store) ListOrders(_ context.Context) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, len(s.ordersByID))
	for _, o := range s.ordersByID {
		orders = append(orders, s.orderWithDrugs(o))
	}
	sortOrdersNewestFirst(orders)
	return orders, nil
}

func (s *Store) ListOrdersBetween(_ context.Context, from time.Time, to time.Time) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, 32)
	for _, o := range s.ordersByID {
		if o.CreatedAt.Before(from) || !o.CreatedAt.Before(to) {
			continue
		}
		orders = append(orders, s.orderWithDrugs(o))
	}
	sortOrdersNewestFirst(orders)
	return orders, nil
}

func (s *Store) GetOrderByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, exists := s.ordersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	result := s.orderWithDrugs(o)
	return &result, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(order.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", store.ErrValidation)
	}

	now := time.Now().UTC()
	var cart *domain.Cart
	var stagedCart domain.Cart
	if order.CartUsed != "" {
		c, exists := s.cartsByID[order.CartUsed]
		if !exists {
			return nil, fmt.Errorf("%w: cart %s", store.ErrNotFound, order.CartUsed)
		}
		cart = c
		stagedCart = cloneCart(c)
	}

	stagedDrugs, err := s.applyOrderLocked(&order, &stagedCart, cart != nil, now)
	if err != nil {
		return nil, err
	}

	if order.ID == "" {
		order.ID = xid.New("order")
	}
	if order.OrderNumber == "" {
		order.OrderNumber = xid.OrderNumber("ORD", now)
	}
	if existingID, taken := s.orderIDByNumber[order.OrderNumber]; taken && existingID != order.ID {
		return nil, fmt.Errorf("%w: order number %s", store.ErrDuplicateKey, order.OrderNumber)
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	if order.PaymentMethod == "" {
		order.PaymentMethod = domain.PaymentCash
	}
	order.CreatedAt = now
	order.UpdatedAt = now

	for id, drug := range stagedDrugs {
		s.drugsByID[id] = drug
	}
	if cart != nil {
		*cart = stagedCart
	}
	stored := cloneOrder(&order)
	s.ordersByID[order.ID] = &stored
	s.orderIDByNumber[order.OrderNumber] = order.ID

	result := s.orderWithDrugs(&stored)
	return &result, nil
}

// applyOrderLocked plans sourcing for the order's items and consumes
// the planned lines against staged drug copies. Nothing in the store is
// mutated; the caller commits the staged state after all checks pass.
func (s *Store) applyOrderLocked(order *domain.Order, stagedCart *domain.Cart, cartSpecified bool, now time.Time) (map[string]domain.Drug, error) {
	stagedDrugs := make(map[string]domain.Drug, len(order.Items))
	drugRefs := make(map[string]*domain.Drug, len(order.Items))
	for _, item := range order.Items {
		if _, ok := stagedDrugs[item.DrugID]; ok {
			continue
		}
		drug, exists := s.drugsByID[item.DrugID]
		if !exists {
			return nil, fmt.Errorf("%w: drug %s", store.ErrNotFound, item.DrugID)
		}
		stagedDrugs[item.DrugID] = drug
	}
	for id := range stagedDrugs {
		drug := stagedDrugs[id]
		drugRefs[id] = &drug
	}

	planned, err := stock.PlanSourcing(order.Items, drugRefs, cartSpecified)
	if err != nil {
		return nil, err
	}

	for _, item := range planned {
		drug := drugRefs[item.DrugID]
		var cartRef *domain.Cart
		if cartSpecified {
			cartRef = stagedCart
		}
		if err := stock.ApplyOrderLine(drug, cartRef, item, now); err != nil {
			return nil, err
		}
	}

	for id, ref := range drugRefs {
		stagedDrugs[id] = *ref
	}
	order.Items = planned
	order.TotalAmountCents = stock.OrderTotal(planned)
	return stagedDrugs, nil
}

// UpdateOrder restores every stored line to its source pool, then plans
// and applies the incoming items as if the order were new. Submitting
// the same items is therefore a stock no-op.
func (s *Store) UpdateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.ordersByID[order.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if len(order.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", store.ErrValidation)
	}

	now := time.Now().UTC()
	s.restoreOrderLocked(existing, now)

	var cart *domain.Cart
	var stagedCart domain.Cart
	if order.CartUsed != "" {
		c, ok := s.cartsByID[order.CartUsed]
		if !ok {
			// the restore above already committed; surface the bad cart
			return nil, fmt.Errorf("%w: cart %s", store.ErrNotFound, order.CartUsed)
		}
		cart = c
		stagedCart = cloneCart(c)
	}

	stagedDrugs, err := s.applyOrderLocked(&order, &stagedCart, cart != nil, now)
	if err != nil {
		// roll the restore back so a failed edit leaves stock untouched
		s.consumeOrderLocked(existing, now)
		return nil, err
	}

	for id, drug := range stagedDrugs {
		s.drugsByID[id] = drug
	}
	if cart != nil {
		*cart = stagedCart
	}

	order.OrderNumber = existing.OrderNumber
	order.CreatedAt = existing.CreatedAt
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = existing.Status
	}
	if order.PaymentMethod == "" {
		order.PaymentMethod = existing.PaymentMethod
	}
	stored := cloneOrder(&order)
	s.ordersByID[order.ID] = &stored

	result := s.orderWithDrugs(&stored)
	return &result, nil
}

// DeleteOrder returns every line to its source pool before removing the
// record. Lines whose drug has since been deleted are skipped with a
// warning; the rest of the restore still happens.
func (s *Store) DeleteOrder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.ordersByID[id]
	if !exists {
		return store.ErrNotFound
	}

	now := time.Now().UTC()
	s.restoreOrderLocked(existing, now)
	delete(s.orderIDByNumber, existing.OrderNumber)
	delete(s.ordersByID, id)
	return nil
}

func (s *Store) restoreOrderLocked(order *domain.Order, now time.Time) {
	cart := s.cartsByID[order.CartUsed]
	for _, item := range order.Items {
		drug, ok := s.drugsByID[item.DrugID]
		if !ok {
			log.Printf("[memory-store] WARN: restore for order %s skipping missing drug %s", order.OrderNumber, item.DrugID)
			continue
		}
		stock.RestoreOrderLine(&drug, cart, item, now)
		s.drugsByID[item.DrugID] = drug
	}
}

// consumeOrderLocked re-applies an order's stored lines; used to undo a
// restore when the replacement items fail to apply.
func (s *Store) consumeOrderLocked(order *domain.Order, now time.Time) {
	cart := s.cartsByID[order.CartUsed]
	for _, item := range order.Items {
		drug, ok := s.drugsByID[item.DrugID]
		if !ok {
			continue
		}
		if err := stock.ApplyOrderLine(&drug, cart, item, now); err != nil {
			log.Printf("[memory-store] WARN: rollback of order %s left drug %s inconsistent: %v", order.OrderNumber, item.DrugID, err)
			continue
		}
		s.drugsByID[item.DrugID] = drug
	}
}

// CreateCartSale records a direct sale off a cart: every line sources
// from the cart pool and the cart's item list shrinks in step.
func (s *Store) CreateCartSale(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.CartUsed == "" {
		return nil, fmt.Errorf("%w: cart sale requires a cart", store.ErrValidation)
	}
	if len(order.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", store.ErrValidation)
	}
	cart, exists := s.cartsByID[order.CartUsed]
	if !exists {
		return nil, fmt.Errorf("%w: cart %s", store.ErrNotFound, order.CartUsed)
	}

	now := time.Now().UTC()
	stagedCart := cloneCart(cart)
	stagedDrugs := make(map[string]domain.Drug, len(order.Items))

	items := make([]domain.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
		}
		drug, ok := stagedDrugs[item.DrugID]
		if !ok {
			d, exists := s.drugsByID[item.DrugID]
			if !exists {
				return nil, fmt.Errorf("%w: drug %s", store.ErrNotFound, item.DrugID)
			}
			drug = d
		}
		if item.PriceCents <= 0 {
			item.PriceCents = cartLinePrice(stagedCart, item.DrugID, drug.PriceCents)
		}
		item.Source = domain.SourceCart
		if err := stock.ApplyOrderLine(&drug, &stagedCart, item, now); err != nil {
			return nil, err
		}
		stagedDrugs[item.DrugID] = drug
		items = append(items, item)
	}

	if order.ID == "" {
		order.ID = xid.New("order")
	}
	if order.OrderNumber == "" {
		order.OrderNumber = xid.OrderNumber("CART", now)
	}
	if existingID, taken := s.orderIDByNumber[order.OrderNumber]; taken && existingID != order.ID {
		return nil, fmt.Errorf("%w: order number %s", store.ErrDuplicateKey, order.OrderNumber)
	}
	order.Items = items
	order.TotalAmountCents = stock.OrderTotal(items)
	if order.Status == "" {
		order.Status = domain.OrderStatusDelivered
	}
	if order.PaymentMethod == "" {
		order.PaymentMethod = domain.PaymentCash
	}
	order.CreatedAt = now
	order.UpdatedAt = now

	for id, drug := range stagedDrugs {
		s.drugsByID[id] = drug
	}
	*cart = stagedCart
	stored := cloneOrder(&order)
	s.ordersByID[order.ID] = &stored
	s.orderIDByNumber[order.OrderNumber] = order.ID

	result := s.orderWithDrugs(&stored)
	return &result, nil
}

func (s *Store) GetDashboardStats(_ context.Context, now time.Time) (domain.DashboardStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dayStart := dateUTC(now)
	dayEnd := dayStart.AddDate(0, 0, 1)

	stats := domain.DashboardStats{GeneratedAt: now.UTC()}
	for _, o := range s.ordersByID {
		if o.CreatedAt.Before(dayStart) || !o.CreatedAt.Before(dayEnd) {
			continue
		}
		stats.TodayOrders++
		stats.TodaySalesCents += o.TotalAmountCents
		if o.CartUsed != "" {
			stats.CartSales.Count++
			stats.CartSales.TotalCents += o.TotalAmountCents
		}
	}

	for _, d := range s.drugsByID {
		stats.TotalDrugs++
		stats.StockTotals.TotalStock += d.Stock
		stats.StockTotals.TotalCartStock += d.CartStock
		stats.StockTotals.TotalValueCents += int64(d.TotalStock()) * d.PriceCents
	}

	for _, c := range s.cartsByID {
		if c.Status == domain.CartStatusActive {
			active := s.cartWithDrugs(c)
			stats.ActiveCart = &active
			break
		}
	}

	low, _ := s.listLowStockLocked(10)
	stats.LowStockDrugs = low
	expiring, _ := s.listExpiringLocked(now, 30*24*time.Hour, 10)
	stats.ExpiringDrugs = expiring
	return stats, nil
}

func (s *Store) GetCartDashboard(_ context.Context, now time.Time) (domain.CartDashboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dashboard := domain.CartDashboard{
		Carts:          make([]domain.Cart, 0, len(s.cartsByID)),
		CriticalItems:  make([]domain.CriticalCartItem, 0, 8),
		CartSalesByDay: make([]domain.CartSalesDay, 0, 7),
	}

	cutoff := now.UTC().Add(30 * 24 * time.Hour)
	for _, c := range s.cartsByID {
		dashboard.Carts = append(dashboard.Carts, s.cartWithDrugs(c))
		for _, item := range c.Items {
			drug, ok := s.drugsByID[item.DrugID]
			if !ok || drug.ExpiryDate.IsZero() || drug.ExpiryDate.After(cutoff) {
				continue
			}
			daysLeft := int(drug.ExpiryDate.Sub(now.UTC()).Hours() / 24)
			if daysLeft < 0 {
				daysLeft = 0
			}
			dashboard.CriticalItems = append(dashboard.CriticalItems, domain.CriticalCartItem{
				Drug:     drug,
				Quantity: item.Quantity,
				DaysLeft: daysLeft,
				CartName: c.Name,
			})
		}
	}
	slices.SortFunc(dashboard.Carts, func(a, b domain.Cart) int {
		return cmpString(a.Name, b.Name)
	})
	slices.SortFunc(dashboard.CriticalItems, func(a, b domain.CriticalCartItem) int {
		if a.DaysLeft == b.DaysLeft {
			return cmpString(a.Drug.Name, b.Drug.Name)
		}
		return a.DaysLeft - b.DaysLeft
	})

	byDay := make(map[string]*domain.CartSalesDay, 7)
	weekStart := dateUTC(now).AddDate(0, 0, -6)
	for i := 0; i < 7; i++ {
		day := weekStart.AddDate(0, 0, i)
		key := day.Format("2006-01-02")
		entry := &domain.CartSalesDay{Date: key}
		byDay[key] = entry
		dashboard.CartSalesByDay = append(dashboard.CartSalesByDay, *entry)
	}
	for _, o := range s.ordersByID {
		if o.CartUsed == "" || o.CreatedAt.Before(weekStart) {
			continue
		}
		key := dateUTC(o.CreatedAt).Format("2006-01-02")
		if entry, ok := byDay[key]; ok {
			entry.Count++
			entry.TotalCents += o.TotalAmountCents
		}
	}
	for i := range dashboard.CartSalesByDay {
		if entry, ok := byDay[dashboard.CartSalesByDay[i].Date]; ok {
			dashboard.CartSalesByDay[i] = *entry
		}
	}

	return dashboard, nil
}

func (s *Store) listLowStockLocked(limit int) ([]domain.Drug, error) {
	result := make([]domain.Drug, 0, limit)
	for _, d := range s.drugsByID {
		if d.TotalStock() <= d.LowStockThreshold {
			result = append(result, d)
		}
	}
	slices.SortFunc(result, func(a, b domain.Drug) int {
		if a.TotalStock() == b.TotalStock() {
			return cmpString(a.Name, b.Name)
		}
		return a.TotalStock() - b.TotalStock()
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) listExpiringLocked(now time.Time, within time.Duration, limit int) ([]domain.Drug, error) {
	cutoff := now.UTC().Add(within)
	result := make([]domain.Drug, 0, limit)
	for _, d := range s.drugsByID {
		if d.ExpiryDate.IsZero() || d.ExpiryDate.After(cutoff) {
			continue
		}
		result = append(result, d)
	}
	slices.SortFunc(result, func(a, b domain.Drug) int {
		if a.ExpiryDate.Equal(b.ExpiryDate) {
			return cmpString(a.Name, b.Name)
		}
		if a.ExpiryDate.Before(b.ExpiryDate) {
			return -1
		}
		return 1
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("%w: username %s", store.ErrDuplicateKey, username)
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "staff"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) cartWithDrugs(c *domain.Cart) domain.Cart {
	result := cloneCart(c)
	for i := range result.Items {
		if drug, ok := s.drugsByID[result.Items[i].DrugID]; ok {
			copyDrug := drug
			result.Items[i].Drug = &copyDrug
		}
	}
	return result
}

func (s *Store) transferWithDrugs(tr domain.CartTransfer) domain.CartTransfer {
	result := cloneTransfer(tr)
	for i := range result.Items {
		if drug, ok := s.drugsByID[result.Items[i].DrugID]; ok {
			copyDrug := drug
			result.Items[i].Drug = &copyDrug
		}
	}
	return result
}

func (s *Store) orderWithDrugs(o *domain.Order) domain.Order {
	result := cloneOrder(o)
	for i := range result.Items {
		if drug, ok := s.drugsByID[result.Items[i].DrugID]; ok {
			copyDrug := drug
			result.Items[i].Drug = &copyDrug
		}
	}
	if o.CartUsed != "" {
		if c, ok := s.cartsByID[o.CartUsed]; ok {
			cart := s.cartWithDrugs(c)
			result.Cart = &cart
		}
	}
	return result
}

func cartLinePrice(c domain.Cart, drugID string, fallback int64) int64 {
	for _, item := range c.Items {
		if item.DrugID == drugID {
			return item.PriceCents
		}
	}
	return fallback
}

func sortDrugs(drugs []domain.Drug, sortBy string, desc bool) {
	cmp := func(a, b domain.Drug) int {
		switch sortBy {
		case "stock":
			return a.TotalStock() - b.TotalStock()
		case "price":
			if a.PriceCents == b.PriceCents {
				return cmpString(a.Name, b.Name)
			}
			if a.PriceCents < b.PriceCents {
				return -1
			}
			return 1
		case "expiry":
			if a.ExpiryDate.Equal(b.ExpiryDate) {
				return cmpString(a.Name, b.Name)
			}
			if a.ExpiryDate.Before(b.ExpiryDate) {
				return -1
			}
			return 1
		default:
			return cmpString(a.Name, b.Name)
		}
	}
	slices.SortFunc(drugs, func(a, b domain.Drug) int {
		result := cmp(a, b)
		if desc {
			return -result
		}
		return result
	})
}

func sortOrdersNewestFirst(orders []domain.Order) {
	slices.SortFunc(orders, func(a, b domain.Order) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
}

func validCartStatus(status string) bool {
	switch status {
	case domain.CartStatusActive, domain.CartStatusStopped, domain.CartStatusMaintenance, domain.CartStatusClosed:
		return true
	}
	return false
}

func dateUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneCart(src *domain.Cart) domain.Cart {
	dup := *src
	items := make([]domain.CartItem, len(src.Items))
	copy(items, src.Items)
	for i := range items {
		items[i].Drug = nil
	}
	dup.Items = items
	if src.LastLoadedAt != nil {
		t := *src.LastLoadedAt
		dup.LastLoadedAt = &t
	}
	if src.LastUnloadedAt != nil {
		t := *src.LastUnloadedAt
		dup.LastUnloadedAt = &t
	}
	return dup
}

func cloneTransfer(src domain.CartTransfer) domain.CartTransfer {
	dup := src
	items := make([]domain.TransferItem, len(src.Items))
	copy(items, src.Items)
	for i := range items {
		items[i].Drug = nil
	}
	dup.Items = items
	return dup
}

func cloneOrder(src *domain.Order) domain.Order {
	dup := *src
	items := make([]domain.OrderItem, len(src.Items))
	copy(items, src.Items)
	for i := range items {
		items[i].Drug = nil
	}
	dup.Items = items
	dup.Cart = nil
	return dup
}
