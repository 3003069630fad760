package domain

import (
	"encoding/json"
	"time"
)

const (
	CartStatusActive      = "active"
	CartStatusStopped     = "stopped"
	CartStatusMaintenance = "maintenance"
	CartStatusClosed      = "closed"
)

const (
	OrderStatusPending    = "pending"
	OrderStatusInDelivery = "in_delivery"
	OrderStatusDelivered  = "delivered"
)

const (
	SourceWarehouse = "warehouse"
	SourceCart      = "cart"
)

const (
	StockStatusOut       = "out"
	StockStatusLow       = "low"
	StockStatusAvailable = "available"
)

const (
	PaymentCash     = "cash"
	PaymentCard     = "card"
	PaymentTransfer = "transfer"
	PaymentOther    = "other"
)

// Drug is the single source of truth for stock quantities. Stock counts
// warehouse units, CartStock counts units currently loaded on a
// distribution cart; both stay non-negative through every operation.
type Drug struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Stock              int       `json:"stock"`
	CartStock          int       `json:"cart_stock"`
	PriceCents         int64     `json:"price_cents"`
	PurchasePriceCents int64     `json:"purchase_price_cents,omitempty"`
	ExpiryDate         time.Time `json:"expiry_date"`
	Barcode            string    `json:"barcode,omitempty"`
	SerialNumber       string    `json:"serial_number,omitempty"`
	Description        string    `json:"description,omitempty"`
	Category           string    `json:"category,omitempty"`
	Manufacturer       string    `json:"manufacturer,omitempty"`
	Supplier           string    `json:"supplier,omitempty"`
	Location           string    `json:"location,omitempty"`
	LowStockThreshold  int       `json:"low_stock_threshold"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (d Drug) TotalStock() int {
	return d.Stock + d.CartStock
}

func (d Drug) StockStatus() string {
	total := d.TotalStock()
	switch {
	case total == 0:
		return StockStatusOut
	case total <= d.LowStockThreshold:
		return StockStatusLow
	default:
		return StockStatusAvailable
	}
}

// MarshalJSON adds the derived stock fields so every API response
// carries them without storing them.
func (d Drug) MarshalJSON() ([]byte, error) {
	type alias Drug
	return json.Marshal(struct {
		alias
		TotalStock  int    `json:"total_stock"`
		StockStatus string `json:"stock_status"`
	}{alias(d), d.TotalStock(), d.StockStatus()})
}

// CartItem is a cart line: a drug reference plus the price snapshotted
// at load time. The snapshot is frozen and does not follow later drug
// price changes.
type CartItem struct {
	DrugID     string    `json:"drug_id"`
	Quantity   int       `json:"quantity"`
	PriceCents int64     `json:"price_cents"`
	LoadedAt   time.Time `json:"loaded_at"`
	Drug       *Drug     `json:"drug,omitempty"`
}

type Cart struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	DriverName      string     `json:"driver_name,omitempty"`
	DriverPhone     string     `json:"driver_phone,omitempty"`
	PlateNumber     string     `json:"plate_number,omitempty"`
	Status          string     `json:"status"`
	Items           []CartItem `json:"items"`
	TotalItems      int        `json:"total_items"`
	TotalValueCents int64      `json:"total_value_cents"`
	LastLoadedAt    *time.Time `json:"last_loaded_at,omitempty"`
	LastUnloadedAt  *time.Time `json:"last_unloaded_at,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TransferItem is an immutable snapshot of one cart line at unload time.
type TransferItem struct {
	DrugID     string `json:"drug_id"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
	Drug       *Drug  `json:"drug,omitempty"`
}

// CartTransfer is the audit record written when a cart is fully
// unloaded back to the warehouse. Never mutated after creation.
type CartTransfer struct {
	ID              string         `json:"id"`
	CartID          string         `json:"cart_id"`
	Items           []TransferItem `json:"items"`
	TotalItems      int            `json:"total_items"`
	TotalValueCents int64          `json:"total_value_cents"`
	Notes           string         `json:"notes,omitempty"`
	TransferredAt   time.Time      `json:"transferred_at"`
}

// OrderItem records which pool supplied the line: Source is either
// "warehouse" or "cart". A single requested line may be split into two
// stored lines when neither pool can cover it alone.
type OrderItem struct {
	DrugID     string `json:"drug_id"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents"`
	Source     string `json:"source"`
	Drug       *Drug  `json:"drug,omitempty"`
}

type Order struct {
	ID               string      `json:"id"`
	OrderNumber      string      `json:"order_number"`
	Items            []OrderItem `json:"items"`
	TotalAmountCents int64       `json:"total_amount_cents"`
	Status           string      `json:"status"`
	CustomerName     string      `json:"customer_name"`
	CustomerPhone    string      `json:"customer_phone,omitempty"`
	DeliveryAddress  string      `json:"delivery_address,omitempty"`
	Notes            string      `json:"notes,omitempty"`
	PaymentMethod    string      `json:"payment_method"`
	CartUsed         string      `json:"cart_used,omitempty"`
	Cart             *Cart       `json:"cart,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

type DrugCreateRequest struct {
	Name               string `json:"name"`
	Stock              int    `json:"stock"`
	PriceCents         int64  `json:"price_cents"`
	PurchasePriceCents int64  `json:"purchase_price_cents,omitempty"`
	ExpiryDate         string `json:"expiry_date"`
	Barcode            string `json:"barcode,omitempty"`
	SerialNumber       string `json:"serial_number,omitempty"`
	Description        string `json:"description,omitempty"`
	Category           string `json:"category,omitempty"`
	Manufacturer       string `json:"manufacturer,omitempty"`
	Supplier           string `json:"supplier,omitempty"`
	Location           string `json:"location,omitempty"`
	LowStockThreshold  int    `json:"low_stock_threshold,omitempty"`
}

// DrugUpdateRequest deliberately has no cart_stock field: cart stock is
// only ever moved by the load/unload/order operations.
type DrugUpdateRequest struct {
	Name               *string `json:"name,omitempty"`
	Stock              *int    `json:"stock,omitempty"`
	PriceCents         *int64  `json:"price_cents,omitempty"`
	PurchasePriceCents *int64  `json:"purchase_price_cents,omitempty"`
	ExpiryDate         *string `json:"expiry_date,omitempty"`
	Barcode            *string `json:"barcode,omitempty"`
	SerialNumber       *string `json:"serial_number,omitempty"`
	Description        *string `json:"description,omitempty"`
	Category           *string `json:"category,omitempty"`
	Manufacturer       *string `json:"manufacturer,omitempty"`
	Supplier           *string `json:"supplier,omitempty"`
	Location           *string `json:"location,omitempty"`
	LowStockThreshold  *int    `json:"low_stock_threshold,omitempty"`
}

type DrugFilter struct {
	Search   string
	Category string
	MinStock *int
	MaxStock *int
	SortBy   string
	SortDesc bool
}

type CartCreateRequest struct {
	Name        string `json:"name"`
	DriverName  string `json:"driver_name,omitempty"`
	DriverPhone string `json:"driver_phone,omitempty"`
	PlateNumber string `json:"plate_number,omitempty"`
	Status      string `json:"status,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

type CartUpdateRequest struct {
	Name        *string `json:"name,omitempty"`
	DriverName  *string `json:"driver_name,omitempty"`
	DriverPhone *string `json:"driver_phone,omitempty"`
	PlateNumber *string `json:"plate_number,omitempty"`
	Status      *string `json:"status,omitempty"`
	Notes       *string `json:"notes,omitempty"`
}

type LoadRequest struct {
	DrugID   string `json:"drug_id"`
	Quantity int    `json:"quantity"`
	CartID   string `json:"cart_id,omitempty"`
}

type BarcodeLoadRequest struct {
	Barcode  string `json:"barcode"`
	Quantity int    `json:"quantity"`
}

type UnloadRequest struct {
	DrugID   string `json:"drug_id"`
	Quantity int    `json:"quantity"`
	CartID   string `json:"cart_id,omitempty"`
}

type UnloadAllRequest struct {
	CartID string `json:"cart_id,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

type LoadResult struct {
	Message string `json:"message"`
	Cart    *Cart  `json:"cart"`
	Drug    *Drug  `json:"drug"`
}

type UnloadAllResult struct {
	Message  string        `json:"message"`
	Cart     *Cart         `json:"cart"`
	Transfer *CartTransfer `json:"transfer"`
}

type OrderItemRequest struct {
	DrugID     string `json:"drug_id"`
	Quantity   int    `json:"quantity"`
	PriceCents int64  `json:"price_cents,omitempty"`
}

type OrderCreateRequest struct {
	Items           []OrderItemRequest `json:"items"`
	CustomerName    string             `json:"customer_name"`
	CustomerPhone   string             `json:"customer_phone,omitempty"`
	DeliveryAddress string             `json:"delivery_address,omitempty"`
	Notes           string             `json:"notes,omitempty"`
	PaymentMethod   string             `json:"payment_method,omitempty"`
	Status          string             `json:"status,omitempty"`
	CartUsed        string             `json:"cart_used,omitempty"`
}

type OrderUpdateRequest struct {
	Items           *[]OrderItemRequest `json:"items,omitempty"`
	CustomerName    *string             `json:"customer_name,omitempty"`
	CustomerPhone   *string             `json:"customer_phone,omitempty"`
	DeliveryAddress *string             `json:"delivery_address,omitempty"`
	Notes           *string             `json:"notes,omitempty"`
	PaymentMethod   *string             `json:"payment_method,omitempty"`
	Status          *string             `json:"status,omitempty"`
	CartUsed        *string             `json:"cart_used,omitempty"`
}

type CartSaleRequest struct {
	CartID        string             `json:"cart_id"`
	Items         []OrderItemRequest `json:"items"`
	CustomerName  string             `json:"customer_name"`
	CustomerPhone string             `json:"customer_phone,omitempty"`
	PaymentMethod string             `json:"payment_method,omitempty"`
}

type StockTotals struct {
	TotalStock      int   `json:"total_stock"`
	TotalCartStock  int   `json:"total_cart_stock"`
	TotalValueCents int64 `json:"total_value_cents"`
}

type CartSalesSummary struct {
	Count      int64 `json:"count"`
	TotalCents int64 `json:"total_cents"`
}

type DashboardStats struct {
	TodayOrders     int64            `json:"today_orders"`
	TodaySalesCents int64            `json:"today_sales_cents"`
	TotalDrugs      int64            `json:"total_drugs"`
	StockTotals     StockTotals      `json:"stock_totals"`
	ActiveCart      *Cart            `json:"active_cart,omitempty"`
	CartSales       CartSalesSummary `json:"cart_sales"`
	LowStockDrugs   []Drug           `json:"low_stock_drugs"`
	ExpiringDrugs   []Drug           `json:"expiring_drugs"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

type CriticalCartItem struct {
	Drug     Drug   `json:"drug"`
	Quantity int    `json:"quantity"`
	DaysLeft int    `json:"days_left"`
	CartName string `json:"cart_name"`
}

type CartSalesDay struct {
	Date       string `json:"date"`
	Count      int64  `json:"count"`
	TotalCents int64  `json:"total_cents"`
}

type CartDashboard struct {
	Carts          []Cart             `json:"carts"`
	CriticalItems  []CriticalCartItem `json:"critical_items"`
	CartSalesByDay []CartSalesDay     `json:"cart_sales_by_day"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
