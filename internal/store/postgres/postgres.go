package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Ammaralibrahim/stocksistem/internal/domain"
	"github.com/Ammaralibrahim/stocksistem/internal/stock"
	"github.com/Ammaralibrahim/stocksistem/internal/store"
	"github.com/Ammaralibrahim/stocksistem/internal/xid"
)

// Store is the PostgreSQL repository. Multi-entity operations run under
// serializable transactions with FOR UPDATE row locks on the drug and
// cart rows they touch; serialization failures surface as
// store.ErrWriteConflict so callers can retry.
type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const drugColumns = `id, name, stock, cart_stock, price_cents, purchase_price_cents, expiry_date,
	barcode, serial_number, description, category, manufacturer, supplier, location,
	low_stock_threshold, created_at, updated_at`

func scanDrug(row interface{ Scan(...any) error }) (domain.Drug, error) {
	var d domain.Drug
	var expiry sql.NullTime
	var barcode, serial, description, category, manufacturer, supplier, location sql.NullString
	err := row.Scan(&d.ID, &d.Name, &d.Stock, &d.CartStock, &d.PriceCents, &d.PurchasePriceCents,
		&expiry, &barcode, &serial, &description, &category, &manufacturer, &supplier, &location,
		&d.LowStockThreshold, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return d, err
	}
	if expiry.Valid {
		d.ExpiryDate = expiry.Time.UTC()
	}
	d.Barcode = barcode.String
	d.SerialNumber = serial.String
	d.Description = description.String
	d.Category = category.String
	d.Manufacturer = manufacturer.String
	d.Supplier = supplier.String
	d.Location = location.String
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return d, nil
}

func (s *Store) ListDrugs(ctx context.Context, filter domain.DrugFilter) ([]domain.Drug, error) {
	query := `
		SELECT ` + drugColumns + `
		FROM drugs
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR barcode ILIKE '%' || $1 || '%' OR serial_number ILIKE '%' || $1 || '%')
			AND ($2 = '' OR lower(category) = lower($2))
	`
	args := []any{strings.TrimSpace(filter.Search), strings.TrimSpace(filter.Category)}
	if filter.MinStock != nil {
		args = append(args, *filter.MinStock)
		query += fmt.Sprintf(" AND stock + cart_stock >= $%d", len(args))
	}
	if filter.MaxStock != nil {
		args = append(args, *filter.MaxStock)
		query += fmt.Sprintf(" AND stock + cart_stock <= $%d", len(args))
	}
	query += " ORDER BY " + drugSortColumn(filter.SortBy)
	if filter.SortDesc {
		query += " DESC"
	}
	query += ", name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drugs := make([]domain.Drug, 0, 128)
	for rows.Next() {
		d, err := scanDrug(rows)
		if err != nil {
			return nil, err
		}
		drugs = append(drugs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return drugs, nil
}

// drugSortColumn whitelists sort keys; anything unknown falls back to
// name so user input never reaches the ORDER BY clause raw.
func drugSortColumn(sortBy string) string {
	switch sortBy {
	case "stock":
		return "stock + cart_stock"
	case "price":
		return "price_cents"
	case "expiry":
		return "expiry_date"
	default:
		return "name"
	}
}

func (s *Store) SearchDrugs(ctx context.Context, query string, limit int) ([]domain.Drug, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+drugColumns+`
		FROM drugs
		WHERE name ILIKE '%' || $1 || '%' OR barcode ILIKE '%' || $1 || '%' OR serial_number ILIKE '%' || $1 || '%'
		ORDER BY name
		LIMIT $2
	`, strings.TrimSpace(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drugs := make([]domain.Drug, 0, limit)
	for rows.Next() {
		d, err := scanDrug(rows)
		if err != nil {
			return nil, err
		}
		drugs = append(drugs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return drugs, nil
}

func (s *Store) CreateDrug(ctx context.Context, drug domain.Drug) (*domain.Drug, error) {
	drug.Name = strings.TrimSpace(drug.Name)
	if drug.Name == "" || drug.PriceCents < 1 || drug.Stock < 0 {
		return nil, store.ErrValidation
	}
	if drug.CartStock != 0 {
		return nil, fmt.Errorf("%w: cart stock is managed by load operations", store.ErrValidation)
	}
	if drug.ID == "" {
		drug.ID = xid.New("drug")
	}
	now := time.Now().UTC()
	drug.CreatedAt = now
	drug.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO drugs (
			id, name, stock, cart_stock, price_cents, purchase_price_cents, expiry_date,
			barcode, serial_number, description, category, manufacturer, supplier, location,
			low_stock_threshold, created_at, updated_at
		)
		VALUES ($1,$2,$3,0,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, drug.ID, drug.Name, drug.Stock, drug.PriceCents, drug.PurchasePriceCents,
		nullZeroTime(drug.ExpiryDate), nullIfEmpty(drug.Barcode), nullIfEmpty(drug.SerialNumber),
		nullIfEmpty(drug.Description), nullIfEmpty(drug.Category), nullIfEmpty(drug.Manufacturer),
		nullIfEmpty(drug.Supplier), nullIfEmpty(drug.Location), drug.LowStockThreshold,
		drug.CreatedAt, drug.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: barcode %s", store.ErrDuplicateKey, drug.Barcode)
		}
		return nil, err
	}

	created := drug
	return &created, nil
}

func (s *Store) GetDrugByID(ctx context.Context, id string) (*domain.Drug, error) {
	d, err := scanDrug(s.db.QueryRowContext(ctx, `
		SELECT `+drugColumns+` FROM drugs WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *Store) GetDrugByBarcode(ctx context.Context, barcode string) (*domain.Drug, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, store.ErrValidation
	}
	d, err := scanDrug(s.db.QueryRowContext(ctx, `
		SELECT `+drugColumns+` FROM drugs WHERE barcode = $1
	`, barcode))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// UpdateDrug never writes cart_stock: that column only moves through
// load/unload/order operations.
func (s *Store) UpdateDrug(ctx context.Context, drug domain.Drug) (*domain.Drug, error) {
	drug.Name = strings.TrimSpace(drug.Name)
	if drug.Name == "" || drug.PriceCents < 1 || drug.Stock < 0 {
		return nil, store.ErrValidation
	}

	updated, err := scanDrug(s.db.QueryRowContext(ctx, `
		UPDATE drugs
		SET name = $2, stock = $3, price_cents = $4, purchase_price_cents = $5,
			expiry_date = $6, barcode = $7, serial_number = $8, description = $9,
			category = $10, manufacturer = $11, supplier = $12, location = $13,
			low_stock_threshold = $14, updated_at = now()
		WHERE id = $1
		RETURNING `+drugColumns+`
	`, drug.ID, drug.Name, drug.Stock, drug.PriceCents, drug.PurchasePriceCents,
		nullZeroTime(drug.ExpiryDate), nullIfEmpty(drug.Barcode), nullIfEmpty(drug.SerialNumber),
		nullIfEmpty(drug.Description), nullIfEmpty(drug.Category), nullIfEmpty(drug.Manufacturer),
		nullIfEmpty(drug.Supplier), nullIfEmpty(drug.Location), drug.LowStockThreshold))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: barcode %s", store.ErrDuplicateKey, drug.Barcode)
		}
		return nil, err
	}
	return &updated, nil
}

func (s *Store) DeleteDrug(ctx context.Context, id string) error {
	var name string
	var cartStock int
	err := s.db.QueryRowContext(ctx, `SELECT name, cart_stock FROM drugs WHERE id = $1`, id).Scan(&name, &cartStock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if cartStock > 0 {
		log.Printf("[postgres-store] WARN: deleting drug %s with %d units still on carts", name, cartStock)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM drugs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListLowStockDrugs(ctx context.Context, limit int) ([]domain.Drug, error) {
	if limit < 1 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+drugColumns+`
		FROM drugs
		WHERE stock + cart_stock <= low_stock_threshold
		ORDER BY stock + cart_stock ASC, name
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drugs := make([]domain.Drug, 0, limit)
	for rows.Next() {
		d, err := scanDrug(rows)
		if err != nil {
			return nil, err
		}
		drugs = append(drugs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return drugs, nil
}

func (s *Store) ListExpiringDrugs(ctx context.Context, within time.Duration, limit int) ([]domain.Drug, error) {
	if limit < 1 {
		limit = 10
	}
	cutoff := time.Now().UTC().Add(within)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+drugColumns+`
		FROM drugs
		WHERE expiry_date IS NOT NULL AND expiry_date <= $1
		ORDER BY expiry_date ASC, name
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drugs := make([]domain.Drug, 0, limit)
	for rows.Next() {
		d, err := scanDrug(rows)
		if err != nil {
			return nil, err
		}
		drugs = append(drugs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return drugs, nil
}

const cartColumns = `id, name, driver_name, driver_phone, plate_number, status, notes,
	total_items, total_value_cents, last_loaded_at, last_unloaded_at, created_at, updated_at`

func scanCart(row interface{ Scan(...any) error }) (domain.Cart, error) {
	var c domain.Cart
	var driverName, driverPhone, plateNumber, notes sql.NullString
	var lastLoaded, lastUnloaded sql.NullTime
	err := row.Scan(&c.ID, &c.Name, &driverName, &driverPhone, &plateNumber, &c.Status, &notes,
		&c.TotalItems, &c.TotalValueCents, &lastLoaded, &lastUnloaded, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return c, err
	}
	c.DriverName = driverName.String
	c.DriverPhone = driverPhone.String
	c.PlateNumber = plateNumber.String
	c.Notes = notes.String
	if lastLoaded.Valid {
		t := lastLoaded.Time.UTC()
		c.LastLoadedAt = &t
	}
	if lastUnloaded.Valid {
		t := lastUnloaded.Time.UTC()
		c.LastUnloadedAt = &t
	}
	c.Items = []domain.CartItem{}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func loadCartItems(ctx context.Context, q querier, cartID string, withDrugs bool) ([]domain.CartItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT drug_id, quantity, price_cents, loaded_at
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY loaded_at ASC, drug_id
	`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.CartItem, 0, 16)
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.DrugID, &item.Quantity, &item.PriceCents, &item.LoadedAt); err != nil {
			return nil, err
		}
		item.LoadedAt = item.LoadedAt.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if withDrugs {
		for i := range items {
			d, err := scanDrug(q.QueryRowContext(ctx, `SELECT `+drugColumns+` FROM drugs WHERE id = $1`, items[i].DrugID))
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					continue
				}
				return nil, err
			}
			items[i].Drug = &d
		}
	}
	return items, nil
}

func getCart(ctx context.Context, q querier, cartID string, withDrugs bool) (*domain.Cart, error) {
	c, err := scanCart(q.QueryRowContext(ctx, `SELECT `+cartColumns+` FROM carts WHERE id = $1`, cartID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: cart %s", store.ErrNotFound, cartID)
		}
		return nil, err
	}
	items, err := loadCartItems(ctx, q, cartID, withDrugs)
	if err != nil {
		return nil, err
	}
	c.Items = items
	return &c, nil
}

// lockCart takes the cart row lock and returns the cart with items; the
// drug and item rows stay consistent for the rest of the transaction.
func lockCart(ctx context.Context, tx *sql.Tx, cartID string) (*domain.Cart, error) {
	c, err := scanCart(tx.QueryRowContext(ctx, `
		SELECT `+cartColumns+` FROM carts WHERE id = $1 FOR UPDATE
	`, cartID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: cart %s", store.ErrNotFound, cartID)
		}
		return nil, err
	}
	items, err := loadCartItems(ctx, tx, cartID, false)
	if err != nil {
		return nil, err
	}
	c.Items = items
	return &c, nil
}

// saveCart rewrites the cart's item rows and the denormalized totals.
// Totals are always recomputed from the item list before the write.
func saveCart(ctx context.Context, tx *sql.Tx, c *domain.Cart) error {
	stock.RecalcCartTotals(c)
	_, err := tx.ExecContext(ctx, `
		UPDATE carts
		SET total_items = $2, total_value_cents = $3, last_loaded_at = $4, last_unloaded_at = $5, updated_at = $6
		WHERE id = $1
	`, c.ID, c.TotalItems, c.TotalValueCents, nullTime(c.LastLoadedAt), nullTime(c.LastUnloadedAt), c.UpdatedAt)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, c.ID); err != nil {
		return err
	}
	for _, item := range c.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cart_items (cart_id, drug_id, quantity, price_cents, loaded_at)
			VALUES ($1,$2,$3,$4,$5)
		`, c.ID, item.DrugID, item.Quantity, item.PriceCents, item.LoadedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func lockDrug(ctx context.Context, tx *sql.Tx, drugID string) (*domain.Drug, error) {
	d, err := scanDrug(tx.QueryRowContext(ctx, `
		SELECT `+drugColumns+` FROM drugs WHERE id = $1 FOR UPDATE
	`, drugID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: drug %s", store.ErrNotFound, drugID)
		}
		return nil, err
	}
	return &d, nil
}

// lockDrugs locks the given drug rows in sorted order so concurrent
// transactions acquire them consistently.
func lockDrugs(ctx context.Context, tx *sql.Tx, drugIDs []string) (map[string]*domain.Drug, error) {
	result := make(map[string]*domain.Drug, len(drugIDs))
	if len(drugIDs) == 0 {
		return result, nil
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT `+drugColumns+`
		FROM drugs
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`, drugIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDrug(rows)
		if err != nil {
			return nil, err
		}
		drug := d
		result[d.ID] = &drug
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func saveDrugStock(ctx context.Context, tx *sql.Tx, d *domain.Drug) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE drugs SET stock = $2, cart_stock = $3, updated_at = $4 WHERE id = $1
	`, d.ID, d.Stock, d.CartStock, d.UpdatedAt)
	return err
}

func (s *Store) ListCarts(ctx context.Context) ([]domain.Cart, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+cartColumns+` FROM carts ORDER BY created_at ASC, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	carts := make([]domain.Cart, 0, 8)
	for rows.Next() {
		c, err := scanCart(rows)
		if err != nil {
			return nil, err
		}
		carts = append(carts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range carts {
		items, err := loadCartItems(ctx, s.db, carts[i].ID, true)
		if err != nil {
			return nil, err
		}
		carts[i].Items = items
	}
	return carts, nil
}

func (s *Store) GetCartByID(ctx context.Context, id string) (*domain.Cart, error) {
	return getCart(ctx, s.db, id, true)
}

func (s *Store) ResolveActiveCart(ctx context.Context) (*domain.Cart, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM carts WHERE status = $1 ORDER BY created_at ASC LIMIT 1
	`, domain.CartStatusActive).Scan(&id)
	if err == nil {
		return getCart(ctx, s.db, id, true)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// no active cart: coerce the oldest one active as a repair action
	err = s.db.QueryRowContext(ctx, `
		UPDATE carts SET status = $1, updated_at = now()
		WHERE id = (SELECT id FROM carts ORDER BY created_at ASC LIMIT 1)
		RETURNING id
	`, domain.CartStatusActive).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	log.Printf("[postgres-store] WARN: no active cart found, marked %s active", id)
	return getCart(ctx, s.db, id, true)
}

func (s *Store) CreateCart(ctx context.Context, cart domain.Cart) (*domain.Cart, error) {
	cart.Name = strings.TrimSpace(cart.Name)
	if cart.Name == "" {
		return nil, store.ErrValidation
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO carts (id, name, driver_name, driver_phone, plate_number, status, notes,
			total_items, total_value_cents, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,0,0,$8,$9)
	`, cart.ID, cart.Name, nullIfEmpty(cart.DriverName), nullIfEmpty(cart.DriverPhone),
		nullIfEmpty(cart.PlateNumber), cart.Status, nullIfEmpty(cart.Notes), cart.CreatedAt, cart.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: cart name %s", store.ErrDuplicateKey, cart.Name)
		}
		return nil, err
	}

	created := cart
	return &created, nil
}

func (s *Store) UpdateCartInfo(ctx context.Context, cart domain.Cart) (*domain.Cart, error) {
	cart.Name = strings.TrimSpace(cart.Name)
	if cart.Name == "" {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE carts
		SET name = $2, driver_name = $3, driver_phone = $4, plate_number = $5, status = $6, notes = $7, updated_at = now()
		WHERE id = $1
	`, cart.ID, cart.Name, nullIfEmpty(cart.DriverName), nullIfEmpty(cart.DriverPhone),
		nullIfEmpty(cart.PlateNumber), cart.Status, nullIfEmpty(cart.Notes))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: cart name %s", store.ErrDuplicateKey, cart.Name)
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return getCart(ctx, s.db, cart.ID, true)
}

func (s *Store) DeleteCart(ctx context.Context, id string) error {
	var totalItems int
	err := s.db.QueryRowContext(ctx, `SELECT total_items FROM carts WHERE id = $1`, id).Scan(&totalItems)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	if totalItems > 0 {
		return fmt.Errorf("%w: cart still holds %d items, unload it first", store.ErrValidation, totalItems)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM carts WHERE id = $1`, id)
	return err
}

func (s *Store) LoadToCart(ctx context.Context, cartID string, drugID string, quantity int) (*domain.Cart, *domain.Drug, error) {
	if quantity < 1 {
		return nil, nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	cart, err := lockCart(ctx, pgTx, cartID)
	if err != nil {
		return nil, nil, txError(err)
	}
	drug, err := lockDrug(ctx, pgTx, drugID)
	if err != nil {
		return nil, nil, txError(err)
	}

	now := time.Now().UTC()
	if err := stock.AdjustDrugStock(drug, -quantity, quantity, now); err != nil {
		return nil, nil, err
	}
	stock.AddCartItem(cart, *drug, quantity, now)

	if err := saveDrugStock(ctx, pgTx, drug); err != nil {
		return nil, nil, txError(err)
	}
	if err := saveCart(ctx, pgTx, cart); err != nil {
		return nil, nil, txError(err)
	}
	if err := pgTx.Commit(); err != nil {
		return nil, nil, txError(err)
	}

	result, err := getCart(ctx, s.db, cartID, true)
	if err != nil {
		return nil, nil, err
	}
	return result, drug, nil
}

func (s *Store) UnloadFromCart(ctx context.Context, cartID string, drugID string, quantity int) (*domain.Cart, *domain.Drug, error) {
	if quantity < 1 {
		return nil, nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	cart, err := lockCart(ctx, pgTx, cartID)
	if err != nil {
		return nil, nil, txError(err)
	}
	drug, err := lockDrug(ctx, pgTx, drugID)
	if err != nil {
		return nil, nil, txError(err)
	}

	now := time.Now().UTC()
	if err := stock.RemoveCartItem(cart, drugID, quantity, now); err != nil {
		return nil, nil, err
	}
	if err := stock.AdjustDrugStock(drug, quantity, -quantity, now); err != nil {
		return nil, nil, err
	}
	cart.LastUnloadedAt = &now

	if err := saveDrugStock(ctx, pgTx, drug); err != nil {
		return nil, nil, txError(err)
	}
	if err := saveCart(ctx, pgTx, cart); err != nil {
		return nil, nil, txError(err)
	}
	if err := pgTx.Commit(); err != nil {
		return nil, nil, txError(err)
	}

	result, err := getCart(ctx, s.db, cartID, true)
	if err != nil {
		return nil, nil, err
	}
	return result, drug, nil
}

func (s *Store) UnloadAllFromCart(ctx context.Context, cartID string, notes string) (*domain.Cart, *domain.CartTransfer, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	cart, err := lockCart(ctx, pgTx, cartID)
	if err != nil {
		return nil, nil, txError(err)
	}
	if len(cart.Items) == 0 {
		return nil, nil, fmt.Errorf("%w: cart is empty", store.ErrValidation)
	}

	drugIDs := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		drugIDs = append(drugIDs, item.DrugID)
	}
	drugs, err := lockDrugs(ctx, pgTx, drugIDs)
	if err != nil {
		return nil, nil, txError(err)
	}

	now := time.Now().UTC()
	for _, item := range cart.Items {
		drug, ok := drugs[item.DrugID]
		if !ok {
			log.Printf("[postgres-store] WARN: unload-all skipping missing drug %s on cart %s", item.DrugID, cartID)
			continue
		}
		drug.Stock += item.Quantity
		if drug.CartStock < item.Quantity {
			drug.CartStock = 0
		} else {
			drug.CartStock -= item.Quantity
		}
		drug.UpdatedAt = now
	}

	transfer := stock.TransferSnapshot(xid.New("transfer"), *cart, notes, now)
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO cart_transfers (id, cart_id, total_items, total_value_cents, notes, transferred_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, transfer.ID, transfer.CartID, transfer.TotalItems, transfer.TotalValueCents,
		nullIfEmpty(transfer.Notes), transfer.TransferredAt)
	if err != nil {
		return nil, nil, txError(err)
	}
	for _, item := range transfer.Items {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO cart_transfer_items (transfer_id, drug_id, quantity, price_cents)
			VALUES ($1,$2,$3,$4)
		`, transfer.ID, item.DrugID, item.Quantity, item.PriceCents)
		if err != nil {
			return nil, nil, txError(err)
		}
	}

	for _, drug := range drugs {
		if err := saveDrugStock(ctx, pgTx, drug); err != nil {
			return nil, nil, txError(err)
		}
	}
	stock.ClearCart(cart, now)
	if err := saveCart(ctx, pgTx, cart); err != nil {
		return nil, nil, txError(err)
	}
	if err := pgTx.Commit(); err != nil {
		return nil, nil, txError(err)
	}

	result, err := getCart(ctx, s.db, cartID, true)
	if err != nil {
		return nil, nil, err
	}
	return result, &transfer, nil
}

func (s *Store) ListCartTransfers(ctx context.Context, cartID string) ([]domain.CartTransfer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cart_id, total_items, total_value_cents, notes, transferred_at
		FROM cart_transfers
		WHERE ($1 = '' OR cart_id = $1)
		ORDER BY transferred_at DESC, id DESC
	`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transfers := make([]domain.CartTransfer, 0, 32)
	for rows.Next() {
		var tr domain.CartTransfer
		var notes sql.NullString
		if err := rows.Scan(&tr.ID, &tr.CartID, &tr.TotalItems, &tr.TotalValueCents, &notes, &tr.TransferredAt); err != nil {
			return nil, err
		}
		tr.Notes = notes.String
		tr.TransferredAt = tr.TransferredAt.UTC()
		transfers = append(transfers, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range transfers {
		items, err := s.loadTransferItems(ctx, transfers[i].ID)
		if err != nil {
			return nil, err
		}
		transfers[i].Items = items
	}
	return transfers, nil
}

func (s *Store) loadTransferItems(ctx context.Context, transferID string) ([]domain.TransferItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.drug_id, i.quantity, i.price_cents
		FROM cart_transfer_items i
		WHERE i.transfer_id = $1
		ORDER BY i.drug_id
	`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.TransferItem, 0, 16)
	for rows.Next() {
		var item domain.TransferItem
		if err := rows.Scan(&item.DrugID, &item.Quantity, &item.PriceCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range items {
		d, err := scanDrug(s.db.QueryRowContext(ctx, `SELECT `+drugColumns+` FROM drugs WHERE id = $1`, items[i].DrugID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, err
		}
		items[i].Drug = &d
	}
	return items, nil
}

const orderColumns = `id, order_number, status, customer_name, customer_phone, delivery_address,
	notes, payment_method, cart_used, total_amount_cents, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (domain.Order, error) {
	var o domain.Order
	var phone, address, notes, cartUsed sql.NullString
	err := row.Scan(&o.ID, &o.OrderNumber, &o.Status, &o.CustomerName, &phone, &address,
		&notes, &o.PaymentMethod, &cartUsed, &o.TotalAmountCents, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return o, err
	}
	o.CustomerPhone = phone.String
	o.DeliveryAddress = address.String
	o.Notes = notes.String
	o.CartUsed = cartUsed.String
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

func (s *Store) loadOrderItems(ctx context.Context, q querier, orderID string, withDrugs bool) ([]domain.OrderItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT drug_id, quantity, price_cents, source
		FROM order_items
		WHERE order_id = $1
		ORDER BY line_no ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0, 8)
	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.DrugID, &item.Quantity, &item.PriceCents, &item.Source); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if withDrugs {
		for i := range items {
			d, err := scanDrug(q.QueryRowContext(ctx, `SELECT `+drugColumns+` FROM drugs WHERE id = $1`, items[i].DrugID))
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					continue
				}
				return nil, err
			}
			items[i].Drug = &d
		}
	}
	return items, nil
}

func (s *Store) ListOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 64)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := s.loadOrderItems(ctx, s.db, orders[i].ID, true)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (s *Store) ListOrdersBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 32)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := s.loadOrderItems(ctx, s.db, orders[i].ID, true)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	items, err := s.loadOrderItems(ctx, s.db, id, true)
	if err != nil {
		return nil, err
	}
	o.Items = items
	if o.CartUsed != "" {
		cart, err := getCart(ctx, s.db, o.CartUsed, true)
		if err == nil {
			o.Cart = cart
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return &o, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if len(order.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", store.ErrValidation)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	now := time.Now().UTC()
	var cart *domain.Cart
	if order.CartUsed != "" {
		cart, err = lockCart(ctx, pgTx, order.CartUsed)
		if err != nil {
			return nil, txError(err)
		}
	}

	drugs, err := lockDrugs(ctx, pgTx, uniqueDrugIDs(order.Items))
	if err != nil {
		return nil, txError(err)
	}
	for _, item := range order.Items {
		if _, ok := drugs[item.DrugID]; !ok {
			return nil, fmt.Errorf("%w: drug %s", store.ErrNotFound, item.DrugID)
		}
	}

	planned, err := stock.PlanSourcing(order.Items, drugs, cart != nil)
	if err != nil {
		return nil, err
	}
	for _, item := range planned {
		if err := stock.ApplyOrderLine(drugs[item.DrugID], cart, item, now); err != nil {
			return nil, err
		}
	}
	order.Items = planned
	order.TotalAmountCents = stock.OrderTotal(planned)

	if order.ID == "" {
		order.ID = xid.New("order")
	}
	if order.OrderNumber == "" {
		order.OrderNumber = xid.OrderNumber("ORD", now)
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	if order.PaymentMethod == "" {
		order.PaymentMethod = domain.PaymentCash
	}
	order.CreatedAt = now
	order.UpdatedAt = now

	if err := s.insertOrder(ctx, pgTx, &order); err != nil {
		return nil, txError(err)
	}
	for _, drug := range drugs {
		if err := saveDrugStock(ctx, pgTx, drug); err != nil {
			return nil, txError(err)
		}
	}
	if cart != nil {
		if err := saveCart(ctx, pgTx, cart); err != nil {
			return nil, txError(err)
		}
	}
	if err := pgTx.Commit(); err != nil {
		return nil, txError(err)
	}

	return s.GetOrderByID(ctx, order.ID)
}

func (s *Store) insertOrder(ctx context.Context, tx *sql.Tx, order *domain.Order) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, status, customer_name, customer_phone,
			delivery_address, notes, payment_method, cart_used, total_amount_cents, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, order.ID, order.OrderNumber, order.Status, order.CustomerName, nullIfEmpty(order.CustomerPhone),
		nullIfEmpty(order.DeliveryAddress), nullIfEmpty(order.Notes), order.PaymentMethod,
		nullIfEmpty(order.CartUsed), order.TotalAmountCents, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: order number %s", store.ErrDuplicateKey, order.OrderNumber)
		}
		return err
	}
	return insertOrderItems(ctx, tx, order.ID, order.Items)
}

func insertOrderItems(ctx context.Context, tx *sql.Tx, orderID string, items []domain.OrderItem) error {
	for i, item := range items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_no, drug_id, quantity, price_cents, source)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, orderID, i+1, item.DrugID, item.Quantity, item.PriceCents, item.Source)
		if err != nil {
			return err
		}
	}
	return nil
}

// UpdateOrder restores the stored lines to their source pools, then
// plans and applies the incoming items as a fresh order under the same
// transaction. Submitting unchanged items is a stock no-op.
func (s *Store) UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if len(order.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", store.ErrValidation)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	existing, err := scanOrder(pgTx.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE
	`, order.ID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, txError(err)
	}
	existingItems, err := s.loadOrderItems(ctx, pgTx, order.ID, false)
	if err != nil {
		return nil, txError(err)
	}

	carts := make(map[string]*domain.Cart, 2)
	for _, cartID := range []string{existing.CartUsed, order.CartUsed} {
		if cartID == "" {
			continue
		}
		if _, ok := carts[cartID]; ok {
			continue
		}
		c, err := lockCart(ctx, pgTx, cartID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) && cartID == existing.CartUsed {
				// the old cart may have been deleted; restore to pools only
				continue
			}
			return nil, txError(err)
		}
		carts[cartID] = c
	}

	ids := uniqueDrugIDs(append(append([]domain.OrderItem{}, existingItems...), order.Items...))
	drugs, err := lockDrugs(ctx, pgTx, ids)
	if err != nil {
		return nil, txError(err)
	}

	now := time.Now().UTC()
	for _, item := range existingItems {
		drug, ok := drugs[item.DrugID]
		if !ok {
			log.Printf("[postgres-store] WARN: restore for order %s skipping missing drug %s", existing.OrderNumber, item.DrugID)
			continue
		}
		stock.RestoreOrderLine(drug, carts[existing.CartUsed], item, now)
	}

	for _, item := range order.Items {
		if _, ok := drugs[item.DrugID]; !ok {
			return nil, fmt.Errorf("%w: drug %s", store.ErrNotFound, item.DrugID)
		}
	}
	newCart := carts[order.CartUsed]
	planned, err := stock.PlanSourcing(order.Items, drugs, order.CartUsed != "" && newCart != nil)
	if err != nil {
		return nil, err
	}
	for _, item := range planned {
		if err := stock.ApplyOrderLine(drugs[item.DrugID], newCart, item, now); err != nil {
			return nil, err
		}
	}
	order.Items = planned
	order.TotalAmountCents = stock.OrderTotal(planned)
	if order.Status == "" {
		order.Status = existing.Status
	}
	if order.PaymentMethod == "" {
		order.PaymentMethod = existing.PaymentMethod
	}

	_, err = pgTx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, customer_name = $3, customer_phone = $4, delivery_address = $5,
			notes = $6, payment_method = $7, cart_used = $8, total_amount_cents = $9, updated_at = $10
		WHERE id = $1
	`, order.ID, order.Status, order.CustomerName, nullIfEmpty(order.CustomerPhone),
		nullIfEmpty(order.DeliveryAddress), nullIfEmpty(order.Notes), order.PaymentMethod,
		nullIfEmpty(order.CartUsed), order.TotalAmountCents, now)
	if err != nil {
		return nil, txError(err)
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID); err != nil {
		return nil, txError(err)
	}
	if err := insertOrderItems(ctx, pgTx, order.ID, order.Items); err != nil {
		return nil, txError(err)
	}

	for _, drug := range drugs {
		if err := saveDrugStock(ctx, pgTx, drug); err != nil {
			return nil, txError(err)
		}
	}
	for _, c := range carts {
		if err := saveCart(ctx, pgTx, c); err != nil {
			return nil, txError(err)
		}
	}
	if err := pgTx.Commit(); err != nil {
		return nil, txError(err)
	}

	return s.GetOrderByID(ctx, order.ID)
}

// DeleteOrder returns every line to its source pool before removing the
// record. Lines whose drug has since been deleted are skipped with a
// warning; the rest of the restore still happens.
func (s *Store) DeleteOrder(ctx context.Context, id string) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	existing, err := scanOrder(pgTx.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return txError(err)
	}
	items, err := s.loadOrderItems(ctx, pgTx, id, false)
	if err != nil {
		return txError(err)
	}

	var cart *domain.Cart
	if existing.CartUsed != "" {
		cart, err = lockCart(ctx, pgTx, existing.CartUsed)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return txError(err)
		}
	}
	drugs, err := lockDrugs(ctx, pgTx, uniqueDrugIDs(items))
	if err != nil {
		return txError(err)
	}

	now := time.Now().UTC()
	for _, item := range items {
		drug, ok := drugs[item.DrugID]
		if !ok {
			log.Printf("[postgres-store] WARN: restore for order %s skipping missing drug %s", existing.OrderNumber, item.DrugID)
			continue
		}
		stock.RestoreOrderLine(drug, cart, item, now)
	}

	if _, err := pgTx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, id); err != nil {
		return txError(err)
	}
	if _, err := pgTx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id); err != nil {
		return txError(err)
	}
	for _, drug := range drugs {
		if err := saveDrugStock(ctx, pgTx, drug); err != nil {
			return txError(err)
		}
	}
	if cart != nil {
		if err := saveCart(ctx, pgTx, cart); err != nil {
			return txError(err)
		}
	}
	if err := pgTx.Commit(); err != nil {
		return txError(err)
	}
	return nil
}

// CreateCartSale records a sale made directly off a cart. Every line is
// cart-sourced and the cart's item list shrinks in step. Serialization
// failures map to ErrWriteConflict for the service retry loop.
func (s *Store) CreateCartSale(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.CartUsed == "" {
		return nil, fmt.Errorf("%w: cart sale requires a cart", store.ErrValidation)
	}
	if len(order.Items) == 0 {
		return nil, fmt.Errorf("%w: order has no items", store.ErrValidation)
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	cart, err := lockCart(ctx, pgTx, order.CartUsed)
	if err != nil {
		return nil, txError(err)
	}
	drugs, err := lockDrugs(ctx, pgTx, uniqueDrugIDs(order.Items))
	if err != nil {
		return nil, txError(err)
	}

	now := time.Now().UTC()
	items := make([]domain.OrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
		}
		drug, ok := drugs[item.DrugID]
		if !ok {
			return nil, fmt.Errorf("%w: drug %s", store.ErrNotFound, item.DrugID)
		}
		if item.PriceCents <= 0 {
			item.PriceCents = cartLinePrice(*cart, item.DrugID, drug.PriceCents)
		}
		item.Source = domain.SourceCart
		if err := stock.ApplyOrderLine(drug, cart, item, now); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	order.Items = items
	order.TotalAmountCents = stock.OrderTotal(items)
	if order.ID == "" {
		order.ID = xid.New("order")
	}
	if order.OrderNumber == "" {
		order.OrderNumber = xid.OrderNumber("CART", now)
	}
	if order.Status == "" {
		order.Status = domain.OrderStatusDelivered
	}
	if order.PaymentMethod == "" {
		order.PaymentMethod = domain.PaymentCash
	}
	order.CreatedAt = now
	order.UpdatedAt = now

	if err := s.insertOrder(ctx, pgTx, &order); err != nil {
		return nil, txError(err)
	}
	for _, drug := range drugs {
		if err := saveDrugStock(ctx, pgTx, drug); err != nil {
			return nil, txError(err)
		}
	}
	if err := saveCart(ctx, pgTx, cart); err != nil {
		return nil, txError(err)
	}
	if err := pgTx.Commit(); err != nil {
		return nil, txError(err)
	}

	return s.GetOrderByID(ctx, order.ID)
}

func (s *Store) GetDashboardStats(ctx context.Context, now time.Time) (domain.DashboardStats, error) {
	stats := domain.DashboardStats{GeneratedAt: now.UTC()}
	dayStart := dateUTC(now)
	dayEnd := dayStart.AddDate(0, 0, 1)

	err := s.db.QueryRowContext(ctx, `
		SELECT count(*), coalesce(sum(total_amount_cents), 0),
			count(*) FILTER (WHERE cart_used IS NOT NULL),
			coalesce(sum(total_amount_cents) FILTER (WHERE cart_used IS NOT NULL), 0)
		FROM orders
		WHERE created_at >= $1 AND created_at < $2
	`, dayStart, dayEnd).Scan(&stats.TodayOrders, &stats.TodaySalesCents,
		&stats.CartSales.Count, &stats.CartSales.TotalCents)
	if err != nil {
		return stats, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT count(*), coalesce(sum(stock), 0), coalesce(sum(cart_stock), 0),
			coalesce(sum((stock + cart_stock)::bigint * price_cents), 0)
		FROM drugs
	`).Scan(&stats.TotalDrugs, &stats.StockTotals.TotalStock,
		&stats.StockTotals.TotalCartStock, &stats.StockTotals.TotalValueCents)
	if err != nil {
		return stats, err
	}

	var activeID string
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM carts WHERE status = $1 ORDER BY created_at ASC LIMIT 1
	`, domain.CartStatusActive).Scan(&activeID)
	if err == nil {
		cart, cartErr := getCart(ctx, s.db, activeID, true)
		if cartErr != nil {
			return stats, cartErr
		}
		stats.ActiveCart = cart
	} else if !errors.Is(err, sql.ErrNoRows) {
		return stats, err
	}

	low, err := s.ListLowStockDrugs(ctx, 10)
	if err != nil {
		return stats, err
	}
	stats.LowStockDrugs = low
	expiring, err := s.ListExpiringDrugs(ctx, 30*24*time.Hour, 10)
	if err != nil {
		return stats, err
	}
	stats.ExpiringDrugs = expiring
	return stats, nil
}

func (s *Store) GetCartDashboard(ctx context.Context, now time.Time) (domain.CartDashboard, error) {
	dashboard := domain.CartDashboard{
		CriticalItems:  make([]domain.CriticalCartItem, 0, 8),
		CartSalesByDay: make([]domain.CartSalesDay, 0, 7),
	}

	carts, err := s.ListCarts(ctx)
	if err != nil {
		return dashboard, err
	}
	dashboard.Carts = carts

	cutoff := now.UTC().Add(30 * 24 * time.Hour)
	for _, c := range carts {
		for _, item := range c.Items {
			if item.Drug == nil || item.Drug.ExpiryDate.IsZero() || item.Drug.ExpiryDate.After(cutoff) {
				continue
			}
			daysLeft := int(item.Drug.ExpiryDate.Sub(now.UTC()).Hours() / 24)
			if daysLeft < 0 {
				daysLeft = 0
			}
			dashboard.CriticalItems = append(dashboard.CriticalItems, domain.CriticalCartItem{
				Drug:     *item.Drug,
				Quantity: item.Quantity,
				DaysLeft: daysLeft,
				CartName: c.Name,
			})
		}
	}

	weekStart := dateUTC(now).AddDate(0, 0, -6)
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
			count(*), coalesce(sum(total_amount_cents), 0)
		FROM orders
		WHERE cart_used IS NOT NULL AND created_at >= $1
		GROUP BY day
	`, weekStart)
	if err != nil {
		return dashboard, err
	}
	defer rows.Close()

	byDay := make(map[string]domain.CartSalesDay, 7)
	for rows.Next() {
		var day domain.CartSalesDay
		if err := rows.Scan(&day.Date, &day.Count, &day.TotalCents); err != nil {
			return dashboard, err
		}
		byDay[day.Date] = day
	}
	if err := rows.Err(); err != nil {
		return dashboard, err
	}
	for i := 0; i < 7; i++ {
		key := weekStart.AddDate(0, 0, i).Format("2006-01-02")
		entry := domain.CartSalesDay{Date: key}
		if found, ok := byDay[key]; ok {
			entry = found
		}
		dashboard.CartSalesByDay = append(dashboard.CartSalesByDay, entry)
	}

	return dashboard, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrValidation
	}
	if user.Role == "" {
		user.Role = "staff"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,true,$4)
	`, username, user.Password, user.Role, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username %s", store.ErrDuplicateKey, username)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func cartLinePrice(c domain.Cart, drugID string, fallback int64) int64 {
	for _, item := range c.Items {
		if item.DrugID == drugID {
			return item.PriceCents
		}
	}
	return fallback
}

func uniqueDrugIDs(items []domain.OrderItem) []string {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.DrugID]; ok {
			continue
		}
		seen[item.DrugID] = struct{}{}
		ids = append(ids, item.DrugID)
	}
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isSerializationFailure matches serialization_failure (40001) and
// deadlock_detected (40P01), the two codes that mean "retry the whole
// transaction".
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func txError(err error) error {
	if isSerializationFailure(err) {
		return fmt.Errorf("%w: %v", store.ErrWriteConflict, err)
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullZeroTime(val time.Time) any {
	if val.IsZero() {
		return nil
	}
	return val
}

func dateUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
