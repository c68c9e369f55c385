package store

import (
	"context"
	"errors"
	"time"

	"comanda/backend/internal/domain"
)

// Sentinel failure kinds. Callers wrap them with context via
// fmt.Errorf("%w: ...") and branch with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrValidation         = errors.New("validation failed")
	ErrConflict           = errors.New("storage conflict")
	ErrUnavailable        = errors.New("storage unavailable")
)

type Repository interface {
	ListTables(ctx context.Context) ([]domain.Table, error)
	GetTableByNumber(ctx context.Context, number int) (*domain.Table, error)
	CreateTable(ctx context.Context, table domain.Table) (*domain.Table, error)
	UpdateTable(ctx context.Context, table domain.Table) (*domain.Table, error)
	DeleteTable(ctx context.Context, tableID string) error

	ListInventory(ctx context.Context) ([]domain.InventoryItem, error)
	GetInventoryByIDs(ctx context.Context, ids []string) (map[string]domain.InventoryItem, error)
	ListDiscountTiers(ctx context.Context) ([]domain.DiscountTier, error)

	// CreateOrder persists the order row and its lines atomically.
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error)
	ListOpenOrders(ctx context.Context) ([]domain.Order, error)
	ListOpenOrdersByTable(ctx context.Context, tableID string) ([]domain.Order, error)
	// ReplaceOrder swaps the order row and its full line set atomically;
	// it only applies while the order is still open.
	ReplaceOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	// ChargeOrder flips an open order to charged, retires its lines and
	// credits the running accumulator for the order's creation date, all
	// in one transaction. A second charge fails with ErrPreconditionFailed.
	ChargeOrder(ctx context.Context, orderID string, at time.Time) (*domain.ChargeResult, error)
	DeleteOpenOrder(ctx context.Context, orderID string) error

	// DailyTotals lists the still-uncommitted accumulator rows, newest
	// date first.
	DailyTotals(ctx context.Context) ([]domain.DailyTotal, error)
	// CloseDay folds the date's accumulator into the permanent ledger
	// under a row lock and returns the cumulative closed total. With no
	// pending credits it is a no-op on an already-closed day and
	// ErrPreconditionFailed on a day that never saw revenue.
	CloseDay(ctx context.Context, date string, at time.Time) (int64, error)
	ListClosedDays(ctx context.Context) ([]domain.DailyRevenueEntry, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
	UpdateUserRole(ctx context.Context, username string, role string) error
	DeleteUser(ctx context.Context, username string) error
}
