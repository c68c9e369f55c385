package domain

import "time"

type Table struct {
	ID        string    `json:"id"`
	Number    int       `json:"number"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type TableCreateRequest struct {
	Number int    `json:"number"`
	Status string `json:"status"`
}

type TableUpdateRequest struct {
	Number *int    `json:"number,omitempty"`
	Status *string `json:"status,omitempty"`
}

type InventoryItem struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

type DiscountTier struct {
	ID            string  `json:"id"`
	MinOrderCents int64   `json:"min_order_cents"`
	RatePercent   float64 `json:"rate_percent"`
}

// OrderLine snapshots the inventory item at order time so later price
// changes never reprice an open order retroactively.
type OrderLine struct {
	InventoryID    string `json:"inventory_id"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Qty            int    `json:"qty"`
}

type OrderItemRequest struct {
	InventoryID string `json:"inventory_id"`
	Qty         int    `json:"qty"`
}

type OrderOpenRequest struct {
	TableNumber int                `json:"table_number"`
	Items       []OrderItemRequest `json:"items"`
}

type OrderReviseRequest struct {
	TableNumber int                `json:"table_number"`
	Items       []OrderItemRequest `json:"items"`
}

type Order struct {
	ID              string      `json:"id"`
	TableID         string      `json:"table_id"`
	TableNumber     int         `json:"table_number"`
	WaiterUsername  string      `json:"waiter_username,omitempty"`
	Lines           []OrderLine `json:"lines"`
	RawTotalCents   int64       `json:"raw_total_cents"`
	DiscountPercent float64     `json:"discount_percent"`
	TotalCents      int64       `json:"total_cents"`
	Status          string      `json:"status"`
	CreatedAt       time.Time   `json:"created_at"`
	ChargedAt       *time.Time  `json:"charged_at,omitempty"`
}

type ChargeResult struct {
	OrderID     string `json:"order_id"`
	Date        string `json:"date"`
	AmountCents int64  `json:"amount_cents"`
}

// DailyTotal is a live, still-open revenue accumulator row.
type DailyTotal struct {
	Date       string `json:"date"`
	TotalCents int64  `json:"total_cents"`
}

// DailyRevenueEntry is a closed ledger row. Dates are unique; re-closing
// a day folds new credits into the existing row.
type DailyRevenueEntry struct {
	Date       string    `json:"date"`
	TotalCents int64     `json:"total_cents"`
	ClosedAt   time.Time `json:"closed_at"`
}

type CloseDayRequest struct {
	Date string `json:"date,omitempty"`
}

type CloseDayResult struct {
	Date       string `json:"date"`
	TotalCents int64  `json:"total_cents"`
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

type RecoverPasswordRequest struct {
	Username       string `json:"username"`
	SecurityAnswer string `json:"security_answer"`
	NewPassword    string `json:"new_password"`
}

type EmployeeCreateRequest struct {
	Username       string `json:"username"`
	Password       string `json:"password"`
	SecurityAnswer string `json:"security_answer"`
	Role           string `json:"role"`
}

type EmployeeUpdateRequest struct {
	Password *string `json:"password,omitempty"`
	Role     *string `json:"role,omitempty"`
}

type Employee struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
// Password and SecurityAnswer hold bcrypt hashes, never plaintext.
type UserAccount struct {
	Username       string
	Password       string
	SecurityAnswer string
	Role           string
	Active         bool
	CreatedAt      time.Time
}

type Actor struct {
	Username string
	Role     string
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	TableStatusFree     = "free"
	TableStatusReserved = "reserved"
)

const (
	OrderStatusOpen    = "open"
	OrderStatusCharged = "charged"
)

const (
	RoleAdmin  = "admin"
	RoleWaiter = "waiter"
)
