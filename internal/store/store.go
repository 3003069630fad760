package store

import (
	"context"
	"errors"
	"time"

	"github.com/Ammaralibrahim/stocksistem/internal/domain"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrInsufficientStock        = errors.New("insufficient stock")
	ErrInsufficientCartQuantity = errors.New("insufficient cart quantity")
	ErrItemNotFound             = errors.New("item not in cart")
	ErrDuplicateKey             = errors.New("duplicate key")
	ErrValidation               = errors.New("validation failed")
	ErrWriteConflict            = errors.New("write conflict")
)

// Repository is the persistence contract. Every method that touches
// more than one entity (load/unload, order create/edit/delete, cart
// sale) runs as a single atomic transaction: all writes commit together
// or none do, and the originating error is surfaced unchanged.
type Repository interface {
	ListDrugs(ctx context.Context, filter domain.DrugFilter) ([]domain.Drug, error)
	SearchDrugs(ctx context.Context, query string, limit int) ([]domain.Drug, error)
	CreateDrug(ctx context.Context, drug domain.Drug) (*domain.Drug, error)
	GetDrugByID(ctx context.Context, id string) (*domain.Drug, error)
	GetDrugByBarcode(ctx context.Context, barcode string) (*domain.Drug, error)
	UpdateDrug(ctx context.Context, drug domain.Drug) (*domain.Drug, error)
	DeleteDrug(ctx context.Context, id string) error
	ListLowStockDrugs(ctx context.Context, limit int) ([]domain.Drug, error)
	ListExpiringDrugs(ctx context.Context, within time.Duration, limit int) ([]domain.Drug, error)

	ListCarts(ctx context.Context) ([]domain.Cart, error)
	GetCartByID(ctx context.Context, id string) (*domain.Cart, error)
	// ResolveActiveCart prefers the cart marked active. When none is
	// marked, it picks any cart and coerces it active as a logged
	// repair action; ErrNotFound only when no cart exists at all.
	ResolveActiveCart(ctx context.Context) (*domain.Cart, error)
	CreateCart(ctx context.Context, cart domain.Cart) (*domain.Cart, error)
	UpdateCartInfo(ctx context.Context, cart domain.Cart) (*domain.Cart, error)
	DeleteCart(ctx context.Context, id string) error

	LoadToCart(ctx context.Context, cartID string, drugID string, quantity int) (*domain.Cart, *domain.Drug, error)
	UnloadFromCart(ctx context.Context, cartID string, drugID string, quantity int) (*domain.Cart, *domain.Drug, error)
	UnloadAllFromCart(ctx context.Context, cartID string, notes string) (*domain.Cart, *domain.CartTransfer, error)
	ListCartTransfers(ctx context.Context, cartID string) ([]domain.CartTransfer, error)

	ListOrders(ctx context.Context) ([]domain.Order, error)
	ListOrdersBetween(ctx context.Context, from time.Time, to time.Time) ([]domain.Order, error)
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	UpdateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	DeleteOrder(ctx context.Context, id string) error
	CreateCartSale(ctx context.Context, order domain.Order) (*domain.Order, error)

	GetDashboardStats(ctx context.Context, now time.Time) (domain.DashboardStats, error)
	GetCartDashboard(ctx context.Context, now time.Time) (domain.CartDashboard, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
