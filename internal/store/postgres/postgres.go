package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"comanda/backend/internal/domain"
	"comanda/backend/internal/store"
	"comanda/backend/internal/xid"
)

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
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ListTables(ctx context.Context) ([]domain.Table, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, table_number, status, created_at
		FROM tables
		ORDER BY table_number ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := make([]domain.Table, 0, 32)
	for rows.Next() {
		var t domain.Table
		if err := rows.Scan(&t.ID, &t.Number, &t.Status, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.CreatedAt = t.CreatedAt.UTC()
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tables, nil
}

func (s *Store) GetTableByNumber(ctx context.Context, number int) (*domain.Table, error) {
	var t domain.Table
	err := s.db.QueryRowContext(ctx, `
		SELECT id, table_number, status, created_at
		FROM tables
		WHERE table_number = $1
	`, number).Scan(&t.ID, &t.Number, &t.Status, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: table %d", store.ErrNotFound, number)
		}
		return nil, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	return &t, nil
}

func (s *Store) CreateTable(ctx context.Context, table domain.Table) (*domain.Table, error) {
	if table.Number < 1 {
		return nil, fmt.Errorf("%w: table number must be positive", store.ErrValidation)
	}
	if table.Status != domain.TableStatusFree && table.Status != domain.TableStatusReserved {
		return nil, fmt.Errorf("%w: unknown table status %q", store.ErrValidation, table.Status)
	}
	if table.ID == "" {
		table.ID = xid.New("tbl")
	}
	if table.CreatedAt.IsZero() {
		table.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tables (id, table_number, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,now())
	`, table.ID, table.Number, table.Status, table.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: table %d already exists", store.ErrConflict, table.Number)
		}
		return nil, err
	}

	created := table
	return &created, nil
}

func (s *Store) UpdateTable(ctx context.Context, table domain.Table) (*domain.Table, error) {
	if table.Number < 1 {
		return nil, fmt.Errorf("%w: table number must be positive", store.ErrValidation)
	}
	if table.Status != domain.TableStatusFree && table.Status != domain.TableStatusReserved {
		return nil, fmt.Errorf("%w: unknown table status %q", store.ErrValidation, table.Status)
	}

	var updated domain.Table
	err := s.db.QueryRowContext(ctx, `
		UPDATE tables
		SET table_number = $2, status = $3, updated_at = now()
		WHERE id = $1
		RETURNING id, table_number, status, created_at
	`, table.ID, table.Number, table.Status).Scan(&updated.ID, &updated.Number, &updated.Status, &updated.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: table %s", store.ErrNotFound, table.ID)
		}
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: table %d already exists", store.ErrConflict, table.Number)
		}
		return nil, err
	}
	updated.CreatedAt = updated.CreatedAt.UTC()
	return &updated, nil
}

func (s *Store) DeleteTable(ctx context.Context, tableID string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var openCount int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*)::int
		FROM orders
		WHERE table_id = $1 AND status = $2
	`, tableID, domain.OrderStatusOpen).Scan(&openCount)
	if err != nil {
		return err
	}
	if openCount > 0 {
		return fmt.Errorf("%w: table %s has open orders", store.ErrPreconditionFailed, tableID)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM tables WHERE id = $1`, tableID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: table %s", store.ErrNotFound, tableID)
	}

	return mapTxError(tx.Commit())
}

func (s *Store) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price_cents
		FROM inventory_items
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, 64)
	for rows.Next() {
		var item domain.InventoryItem
		if err := rows.Scan(&item.ID, &item.Name, &item.PriceCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetInventoryByIDs(ctx context.Context, ids []string) (map[string]domain.InventoryItem, error) {
	result := make(map[string]domain.InventoryItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price_cents
		FROM inventory_items
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.InventoryItem
		if err := rows.Scan(&item.ID, &item.Name, &item.PriceCents); err != nil {
			return nil, err
		}
		result[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListDiscountTiers(ctx context.Context) ([]domain.DiscountTier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, min_order_cents, rate_percent
		FROM discount_tiers
		ORDER BY min_order_cents ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tiers := make([]domain.DiscountTier, 0, 8)
	for rows.Next() {
		var tier domain.DiscountTier
		if err := rows.Scan(&tier.ID, &tier.MinOrderCents, &tier.RatePercent); err != nil {
			return nil, err
		}
		tiers = append(tiers, tier)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tiers, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if len(order.Lines) == 0 {
		return nil, fmt.Errorf("%w: order has no lines", store.ErrValidation)
	}
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.Status = domain.OrderStatusOpen

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, table_id, waiter_username, raw_total_cents, discount_percent,
			total_cents, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, order.ID, order.TableID, nullIfEmpty(order.WaiterUsername), order.RawTotalCents,
		order.DiscountPercent, order.TotalCents, order.Status, order.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, fmt.Errorf("%w: table %s", store.ErrNotFound, order.TableID)
		}
		return nil, err
	}

	for _, line := range order.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, inventory_id, name, unit_price_cents, qty)
			VALUES ($1,$2,$3,$4,$5)
		`, order.ID, line.InventoryID, line.Name, line.UnitPriceCents, line.Qty)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapTxError(err)
	}

	created := order
	return &created, nil
}

func (s *Store) GetOrderByID(ctx context.Context, orderID string) (*domain.Order, error) {
	var order domain.Order
	var waiter sql.NullString
	var chargedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT o.id, o.table_id, t.table_number, o.waiter_username, o.raw_total_cents,
			o.discount_percent, o.total_cents, o.status, o.created_at, o.charged_at
		FROM orders o
		JOIN tables t ON t.id = o.table_id
		WHERE o.id = $1
	`, orderID).Scan(
		&order.ID,
		&order.TableID,
		&order.TableNumber,
		&waiter,
		&order.RawTotalCents,
		&order.DiscountPercent,
		&order.TotalCents,
		&order.Status,
		&order.CreatedAt,
		&chargedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
		}
		return nil, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	if waiter.Valid {
		order.WaiterUsername = waiter.String
	}
	if chargedAt.Valid {
		at := chargedAt.Time.UTC()
		order.ChargedAt = &at
	}

	lines, err := s.orderLines(ctx, orderID)
	if err != nil {
		return nil, err
	}
	order.Lines = lines
	return &order, nil
}

func (s *Store) orderLines(ctx context.Context, orderID string) ([]domain.OrderLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT inventory_id, name, unit_price_cents, qty
		FROM order_items
		WHERE order_id = $1
		ORDER BY id ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.OrderLine, 0, 8)
	for rows.Next() {
		var line domain.OrderLine
		if err := rows.Scan(&line.InventoryID, &line.Name, &line.UnitPriceCents, &line.Qty); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) ListOpenOrders(ctx context.Context) ([]domain.Order, error) {
	return s.listOpen(ctx, "")
}

func (s *Store) ListOpenOrdersByTable(ctx context.Context, tableID string) ([]domain.Order, error) {
	return s.listOpen(ctx, tableID)
}

func (s *Store) listOpen(ctx context.Context, tableID string) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.table_id, t.table_number, o.waiter_username, o.raw_total_cents,
			o.discount_percent, o.total_cents, o.status, o.created_at
		FROM orders o
		JOIN tables t ON t.id = o.table_id
		WHERE o.status = $1
			AND ($2 = '' OR o.table_id = $2)
		ORDER BY o.created_at ASC, o.id ASC
	`, domain.OrderStatusOpen, tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 16)
	ids := make([]string, 0, 16)
	for rows.Next() {
		var order domain.Order
		var waiter sql.NullString
		if err := rows.Scan(
			&order.ID,
			&order.TableID,
			&order.TableNumber,
			&waiter,
			&order.RawTotalCents,
			&order.DiscountPercent,
			&order.TotalCents,
			&order.Status,
			&order.CreatedAt,
		); err != nil {
			return nil, err
		}
		order.CreatedAt = order.CreatedAt.UTC()
		if waiter.Valid {
			order.WaiterUsername = waiter.String
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return orders, nil
	}

	lineRows, err := s.db.QueryContext(ctx, `
		SELECT order_id, inventory_id, name, unit_price_cents, qty
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()

	lineMap := make(map[string][]domain.OrderLine, len(ids))
	for lineRows.Next() {
		var orderID string
		var line domain.OrderLine
		if err := lineRows.Scan(&orderID, &line.InventoryID, &line.Name, &line.UnitPriceCents, &line.Qty); err != nil {
			return nil, err
		}
		lineMap[orderID] = append(lineMap[orderID], line)
	}
	if err := lineRows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		orders[i].Lines = lineMap[orders[i].ID]
	}
	return orders, nil
}

func (s *Store) ReplaceOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if len(order.Lines) == 0 {
		return nil, fmt.Errorf("%w: order has no lines", store.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT status, created_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, order.ID).Scan(&status, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, order.ID)
		}
		return nil, err
	}
	if status != domain.OrderStatusOpen {
		return nil, fmt.Errorf("%w: order %s is not open", store.ErrPreconditionFailed, order.ID)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET table_id = $2, raw_total_cents = $3, discount_percent = $4, total_cents = $5
		WHERE id = $1 AND status = $6
	`, order.ID, order.TableID, order.RawTotalCents, order.DiscountPercent, order.TotalCents, domain.OrderStatusOpen)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return nil, fmt.Errorf("%w: table %s", store.ErrNotFound, order.TableID)
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: order %s changed concurrently", store.ErrConflict, order.ID)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, order.ID)
	if err != nil {
		return nil, err
	}
	for _, line := range order.Lines {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, inventory_id, name, unit_price_cents, qty)
			VALUES ($1,$2,$3,$4,$5)
		`, order.ID, line.InventoryID, line.Name, line.UnitPriceCents, line.Qty)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapTxError(err)
	}

	order.CreatedAt = createdAt.UTC()
	order.Status = domain.OrderStatusOpen
	order.ChargedAt = nil
	updated := order
	return &updated, nil
}

func (s *Store) ChargeOrder(ctx context.Context, orderID string, at time.Time) (*domain.ChargeResult, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	var totalCents int64
	var createdAt time.Time
	err = tx.QueryRowContext(ctx, `
		SELECT status, total_cents, created_at
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID).Scan(&status, &totalCents, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
		}
		return nil, err
	}
	if status != domain.OrderStatusOpen {
		return nil, fmt.Errorf("%w: order %s already charged", store.ErrPreconditionFailed, orderID)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, charged_at = $3
		WHERE id = $1 AND status = $4
	`, orderID, domain.OrderStatusCharged, at.UTC(), domain.OrderStatusOpen)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: order %s changed concurrently", store.ErrConflict, orderID)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, err
	}

	// Revenue lands on the order's creation date, not the charge date.
	date := createdAt.UTC().Format("2006-01-02")
	_, err = tx.ExecContext(ctx, `
		INSERT INTO revenue_days (revenue_date, total_cents, updated_at)
		VALUES ($1,$2,now())
		ON CONFLICT (revenue_date)
		DO UPDATE SET total_cents = revenue_days.total_cents + EXCLUDED.total_cents, updated_at = now()
	`, date, totalCents)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, mapTxError(err)
	}

	return &domain.ChargeResult{OrderID: orderID, Date: date, AmountCents: totalCents}, nil
}

func (s *Store) DeleteOpenOrder(ctx context.Context, orderID string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
		}
		return err
	}
	if status != domain.OrderStatusOpen {
		return fmt.Errorf("%w: order %s is not open", store.ErrPreconditionFailed, orderID)
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return err
	}

	return mapTxError(tx.Commit())
}

func (s *Store) DailyTotals(ctx context.Context) ([]domain.DailyTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(revenue_date, 'YYYY-MM-DD'), total_cents
		FROM revenue_days
		ORDER BY revenue_date DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make([]domain.DailyTotal, 0, 16)
	for rows.Next() {
		var entry domain.DailyTotal
		if err := rows.Scan(&entry.Date, &entry.TotalCents); err != nil {
			return nil, err
		}
		totals = append(totals, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return totals, nil
}

func (s *Store) CloseDay(ctx context.Context, date string, at time.Time) (int64, error) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var pending int64
	err = tx.QueryRowContext(ctx, `
		SELECT total_cents
		FROM revenue_days
		WHERE revenue_date = $1
		FOR UPDATE
	`, date).Scan(&pending)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	var closed int64
	err = tx.QueryRowContext(ctx, `
		SELECT total_cents
		FROM daily_revenue
		WHERE revenue_date = $1
		FOR UPDATE
	`, date).Scan(&closed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}

	if pending == 0 {
		if closed > 0 {
			// Already closed and nothing new arrived; re-close is a no-op.
			return closed, nil
		}
		return 0, fmt.Errorf("%w: nothing to close for %s", store.ErrPreconditionFailed, date)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO daily_revenue (revenue_date, total_cents, closed_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (revenue_date)
		DO UPDATE SET total_cents = daily_revenue.total_cents + EXCLUDED.total_cents, closed_at = EXCLUDED.closed_at
	`, date, pending, at.UTC())
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM revenue_days WHERE revenue_date = $1`, date)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, mapTxError(err)
	}
	return closed + pending, nil
}

func (s *Store) ListClosedDays(ctx context.Context) ([]domain.DailyRevenueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT to_char(revenue_date, 'YYYY-MM-DD'), total_cents, closed_at
		FROM daily_revenue
		ORDER BY revenue_date DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.DailyRevenueEntry, 0, 32)
	for rows.Next() {
		var entry domain.DailyRevenueEntry
		if err := rows.Scan(&entry.Date, &entry.TotalCents, &entry.ClosedAt); err != nil {
			return nil, err
		}
		entry.ClosedAt = entry.ClosedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1
			AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return fmt.Errorf("%w: username and password are required", store.ErrValidation)
	}
	if user.Role == "" {
		user.Role = domain.RoleWaiter
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, security_answer, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.Username, user.Password, nullIfEmpty(user.SecurityAnswer), user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s already exists", store.ErrConflict, user.Username)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, COALESCE(security_answer,''), role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.SecurityAnswer, &user.Role, &user.Active, &user.CreatedAt); err != nil {
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
		return fmt.Errorf("%w: username and password are required", store.ErrValidation)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	return nil
}

func (s *Store) UpdateUserRole(ctx context.Context, username string, role string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if role != domain.RoleAdmin && role != domain.RoleWaiter {
		return fmt.Errorf("%w: unknown role %q", store.ErrValidation, role)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET role = $2, updated_at = now()
		WHERE username = $1
	`, username, role)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, username string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	res, err := s.db.ExecContext(ctx, `DELETE FROM app_users WHERE username = $1`, username)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// mapTxError surfaces serializable-isolation aborts as retryable conflicts.
func mapTxError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "40001" || pgErr.Code == "40P01") {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
