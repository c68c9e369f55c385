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

	"comanda/backend/internal/domain"
	"comanda/backend/internal/store"
	"comanda/backend/internal/xid"
)

type Store struct {
	mu            sync.RWMutex
	tablesByID    map[string]domain.Table
	inventoryByID map[string]domain.InventoryItem
	tiersByID     map[string]domain.DiscountTier
	ordersByID    map[string]domain.Order
	revenueDays   map[string]int64
	closedDays    map[string]domain.DailyRevenueEntry
	auditLogs     []domain.AuditLog
	usersByName   map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials and security answers come from SEED_ADMIN_PASSWORD,
// SEED_WAITER_PASSWORD and SEED_SECURITY_ANSWER. If unset, hardcoded dev
// defaults are used with a warning. These are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	waiterPwd := envOr("SEED_WAITER_PASSWORD", "waiter123")
	answer := envOr("SEED_SECURITY_ANSWER", "blue")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_WAITER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_WAITER_PASSWORD to override.")
	}

	answerHash, err := bcrypt.GenerateFromPassword([]byte(answer), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed security answer: %v", err)
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"waiter", waiterPwd, domain.RoleWaiter},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:       u.username,
			Password:       string(hash),
			SecurityAnswer: string(answerHash),
			Role:           u.role,
			Active:         true,
			CreatedAt:      now,
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

	tables := []domain.Table{
		{ID: "tbl-1", Number: 1, Status: domain.TableStatusFree, CreatedAt: now},
		{ID: "tbl-2", Number: 2, Status: domain.TableStatusFree, CreatedAt: now},
		{ID: "tbl-3", Number: 3, Status: domain.TableStatusReserved, CreatedAt: now},
		{ID: "tbl-4", Number: 4, Status: domain.TableStatusFree, CreatedAt: now},
		{ID: "tbl-5", Number: 5, Status: domain.TableStatusFree, CreatedAt: now},
		{ID: "tbl-6", Number: 6, Status: domain.TableStatusFree, CreatedAt: now},
	}

	items := []domain.InventoryItem{
		{ID: "inv-cafe", Name: "Café Solo", PriceCents: 180},
		{ID: "inv-cortado", Name: "Cortado", PriceCents: 200},
		{ID: "inv-tostada", Name: "Tostada con Tomate", PriceCents: 350},
		{ID: "inv-bocadillo", Name: "Bocadillo de Jamón", PriceCents: 650},
		{ID: "inv-tortilla", Name: "Tortilla Española", PriceCents: 900},
		{ID: "inv-paella", Name: "Paella Valenciana", PriceCents: 1450},
		{ID: "inv-sangria", Name: "Sangría (jarra)", PriceCents: 1200},
		{ID: "inv-flan", Name: "Flan Casero", PriceCents: 420},
	}

	tiers := []domain.DiscountTier{
		{ID: "tier-0", MinOrderCents: 0, RatePercent: 0},
		{ID: "tier-1", MinOrderCents: 5000, RatePercent: 10},
		{ID: "tier-2", MinOrderCents: 10000, RatePercent: 15},
	}

	tableMap := make(map[string]domain.Table, len(tables))
	for _, t := range tables {
		tableMap[t.ID] = t
	}
	itemMap := make(map[string]domain.InventoryItem, len(items))
	for _, item := range items {
		itemMap[item.ID] = item
	}
	tierMap := make(map[string]domain.DiscountTier, len(tiers))
	for _, tier := range tiers {
		tierMap[tier.ID] = tier
	}

	return &Store{
		tablesByID:    tableMap,
		inventoryByID: itemMap,
		tiersByID:     tierMap,
		ordersByID:    make(map[string]domain.Order),
		revenueDays:   make(map[string]int64),
		closedDays:    make(map[string]domain.DailyRevenueEntry),
		auditLogs:     make([]domain.AuditLog, 0, 128),
		usersByName:   seedUsers(),
	}
}

func (s *Store) ListTables(_ context.Context) ([]domain.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tables := make([]domain.Table, 0, len(s.tablesByID))
	for _, t := range s.tablesByID {
		tables = append(tables, t)
	}
	slices.SortFunc(tables, func(a, b domain.Table) int { return a.Number - b.Number })
	return tables, nil
}

func (s *Store) GetTableByNumber(_ context.Context, number int) (*domain.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tablesByID {
		if t.Number == number {
			copyTable := t
			return &copyTable, nil
		}
	}
	return nil, fmt.Errorf("%w: table %d", store.ErrNotFound, number)
}

func (s *Store) CreateTable(_ context.Context, table domain.Table) (*domain.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if table.Number < 1 {
		return nil, fmt.Errorf("%w: table number must be positive", store.ErrValidation)
	}
	if table.Status != domain.TableStatusFree && table.Status != domain.TableStatusReserved {
		return nil, fmt.Errorf("%w: unknown table status %q", store.ErrValidation, table.Status)
	}
	for _, t := range s.tablesByID {
		if t.Number == table.Number {
			return nil, fmt.Errorf("%w: table %d already exists", store.ErrConflict, table.Number)
		}
	}

	if table.ID == "" {
		table.ID = xid.New("tbl")
	}
	if table.CreatedAt.IsZero() {
		table.CreatedAt = time.Now().UTC()
	}
	s.tablesByID[table.ID] = table
	created := table
	return &created, nil
}

func (s *Store) UpdateTable(_ context.Context, table domain.Table) (*domain.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.tablesByID[table.ID]
	if !ok {
		return nil, fmt.Errorf("%w: table %s", store.ErrNotFound, table.ID)
	}
	if table.Number < 1 {
		return nil, fmt.Errorf("%w: table number must be positive", store.ErrValidation)
	}
	if table.Status != domain.TableStatusFree && table.Status != domain.TableStatusReserved {
		return nil, fmt.Errorf("%w: unknown table status %q", store.ErrValidation, table.Status)
	}
	for _, t := range s.tablesByID {
		if t.ID != table.ID && t.Number == table.Number {
			return nil, fmt.Errorf("%w: table %d already exists", store.ErrConflict, table.Number)
		}
	}

	table.CreatedAt = existing.CreatedAt
	s.tablesByID[table.ID] = table
	updated := table
	return &updated, nil
}

func (s *Store) DeleteTable(_ context.Context, tableID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tablesByID[tableID]; !ok {
		return fmt.Errorf("%w: table %s", store.ErrNotFound, tableID)
	}
	for _, o := range s.ordersByID {
		if o.TableID == tableID && o.Status == domain.OrderStatusOpen {
			return fmt.Errorf("%w: table %s has open orders", store.ErrPreconditionFailed, tableID)
		}
	}
	delete(s.tablesByID, tableID)
	return nil
}

func (s *Store) ListInventory(_ context.Context) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.InventoryItem, 0, len(s.inventoryByID))
	for _, item := range s.inventoryByID {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b domain.InventoryItem) int { return cmpString(a.Name, b.Name) })
	return items, nil
}

func (s *Store) GetInventoryByIDs(_ context.Context, ids []string) (map[string]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.InventoryItem, len(ids))
	for _, id := range ids {
		if item, ok := s.inventoryByID[id]; ok {
			result[id] = item
		}
	}
	return result, nil
}

func (s *Store) ListDiscountTiers(_ context.Context) ([]domain.DiscountTier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tiers := make([]domain.DiscountTier, 0, len(s.tiersByID))
	for _, tier := range s.tiersByID {
		tiers = append(tiers, tier)
	}
	slices.SortFunc(tiers, func(a, b domain.DiscountTier) int {
		if a.MinOrderCents == b.MinOrderCents {
			return cmpString(a.ID, b.ID)
		}
		if a.MinOrderCents < b.MinOrderCents {
			return -1
		}
		return 1
	})
	return tiers, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(order.Lines) == 0 {
		return nil, fmt.Errorf("%w: order has no lines", store.ErrValidation)
	}
	if _, ok := s.tablesByID[order.TableID]; !ok {
		return nil, fmt.Errorf("%w: table %s", store.ErrNotFound, order.TableID)
	}

	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.Status = domain.OrderStatusOpen
	order.ChargedAt = nil

	s.ordersByID[order.ID] = cloneOrder(order)
	created := cloneOrder(order)
	return &created, nil
}

func (s *Store) GetOrderByID(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByID[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
	}
	copyOrder := cloneOrder(order)
	return &copyOrder, nil
}

func (s *Store) ListOpenOrders(_ context.Context) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listOpenLocked(""), nil
}

func (s *Store) ListOpenOrdersByTable(_ context.Context, tableID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listOpenLocked(tableID), nil
}

func (s *Store) listOpenLocked(tableID string) []domain.Order {
	result := make([]domain.Order, 0, 16)
	for _, o := range s.ordersByID {
		if o.Status != domain.OrderStatusOpen {
			continue
		}
		if tableID != "" && o.TableID != tableID {
			continue
		}
		result = append(result, cloneOrder(o))
	}
	slices.SortFunc(result, func(a, b domain.Order) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})
	return result
}

func (s *Store) ReplaceOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.ordersByID[order.ID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, order.ID)
	}
	if existing.Status != domain.OrderStatusOpen {
		return nil, fmt.Errorf("%w: order %s is not open", store.ErrPreconditionFailed, order.ID)
	}
	if len(order.Lines) == 0 {
		return nil, fmt.Errorf("%w: order has no lines", store.ErrValidation)
	}
	if _, ok := s.tablesByID[order.TableID]; !ok {
		return nil, fmt.Errorf("%w: table %s", store.ErrNotFound, order.TableID)
	}

	// Creation time is the settlement anchor; a revision never moves it.
	order.CreatedAt = existing.CreatedAt
	order.Status = domain.OrderStatusOpen
	order.ChargedAt = nil
	s.ordersByID[order.ID] = cloneOrder(order)
	updated := cloneOrder(order)
	return &updated, nil
}

func (s *Store) ChargeOrder(_ context.Context, orderID string, at time.Time) (*domain.ChargeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
	}
	if order.Status != domain.OrderStatusOpen {
		return nil, fmt.Errorf("%w: order %s already charged", store.ErrPreconditionFailed, orderID)
	}

	date := order.CreatedAt.UTC().Format("2006-01-02")
	chargedAt := at.UTC()
	order.Status = domain.OrderStatusCharged
	order.ChargedAt = &chargedAt
	order.Lines = nil
	s.ordersByID[orderID] = order
	s.revenueDays[date] += order.TotalCents

	return &domain.ChargeResult{OrderID: orderID, Date: date, AmountCents: order.TotalCents}, nil
}

func (s *Store) DeleteOpenOrder(_ context.Context, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[orderID]
	if !ok {
		return fmt.Errorf("%w: order %s", store.ErrNotFound, orderID)
	}
	if order.Status != domain.OrderStatusOpen {
		return fmt.Errorf("%w: order %s is not open", store.ErrPreconditionFailed, orderID)
	}
	delete(s.ordersByID, orderID)
	return nil
}

func (s *Store) DailyTotals(_ context.Context) ([]domain.DailyTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DailyTotal, 0, len(s.revenueDays))
	for date, total := range s.revenueDays {
		result = append(result, domain.DailyTotal{Date: date, TotalCents: total})
	}
	slices.SortFunc(result, func(a, b domain.DailyTotal) int { return cmpString(b.Date, a.Date) })
	return result, nil
}

func (s *Store) CloseDay(_ context.Context, date string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.revenueDays[date]
	closed, wasClosed := s.closedDays[date]

	if pending == 0 {
		if wasClosed {
			return closed.TotalCents, nil
		}
		return 0, fmt.Errorf("%w: nothing to close for %s", store.ErrPreconditionFailed, date)
	}

	total := closed.TotalCents + pending
	s.closedDays[date] = domain.DailyRevenueEntry{Date: date, TotalCents: total, ClosedAt: at.UTC()}
	delete(s.revenueDays, date)
	return total, nil
}

func (s *Store) ListClosedDays(_ context.Context) ([]domain.DailyRevenueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DailyRevenueEntry, 0, len(s.closedDays))
	for _, entry := range s.closedDays {
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.DailyRevenueEntry) int { return cmpString(b.Date, a.Date) })
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return fmt.Errorf("%w: username and password are required", store.ErrValidation)
	}
	if _, exists := s.usersByName[username]; exists {
		return fmt.Errorf("%w: user %s already exists", store.ErrConflict, username)
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleWaiter
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByName[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByName))
	for _, user := range s.usersByName {
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
		return fmt.Errorf("%w: username and password are required", store.ErrValidation)
	}
	user, exists := s.usersByName[username]
	if !exists {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	user.Password = password
	s.usersByName[username] = user
	return nil
}

func (s *Store) UpdateUserRole(_ context.Context, username string, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if role != domain.RoleAdmin && role != domain.RoleWaiter {
		return fmt.Errorf("%w: unknown role %q", store.ErrValidation, role)
	}
	user, exists := s.usersByName[username]
	if !exists {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	user.Role = role
	s.usersByName[username] = user
	return nil
}

func (s *Store) DeleteUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if _, exists := s.usersByName[username]; !exists {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	delete(s.usersByName, username)
	return nil
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

func cloneOrder(src domain.Order) domain.Order {
	dup := src
	if src.Lines != nil {
		lines := make([]domain.OrderLine, len(src.Lines))
		copy(lines, src.Lines)
		dup.Lines = lines
	}
	if src.ChargedAt != nil {
		at := *src.ChargedAt
		dup.ChargedAt = &at
	}
	return dup
}
