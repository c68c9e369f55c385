package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"comanda/backend/internal/cache"
	"comanda/backend/internal/domain"
	"comanda/backend/internal/pricing"
	"comanda/backend/internal/store"
	"comanda/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo    store.Repository
	tiers   cache.TierCache
	tierTTL time.Duration
	now     func() time.Time
}

// New wires the service. now is the clock every order creation and
// settlement date derives from; nil means time.Now.
func New(repo store.Repository, tiers cache.TierCache, tierTTL time.Duration, now func() time.Time) *Service {
	if tiers == nil {
		tiers = cache.NoopTierCache{}
	}
	if tierTTL <= 0 {
		tierTTL = 5 * time.Minute
	}
	if now == nil {
		now = time.Now
	}

	return &Service{
		repo:    repo,
		tiers:   tiers,
		tierTTL: tierTTL,
		now:     now,
	}
}

func (s *Service) ListTables(ctx context.Context) ([]domain.Table, error) {
	return s.repo.ListTables(ctx)
}

func (s *Service) CreateTable(ctx context.Context, req domain.TableCreateRequest) (domain.Table, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Table{}, fmt.Errorf("admin role required")
	}

	status := strings.TrimSpace(req.Status)
	if status == "" {
		status = domain.TableStatusFree
	}

	created, err := s.repo.CreateTable(ctx, domain.Table{
		Number:    req.Number,
		Status:    status,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return domain.Table{}, err
	}

	s.logAudit(ctx, "table_create", "table", created.ID, fmt.Sprintf("number=%d,status=%s", created.Number, created.Status))
	return *created, nil
}

func (s *Service) UpdateTable(ctx context.Context, tableID string, req domain.TableUpdateRequest) (domain.Table, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Table{}, fmt.Errorf("admin role required")
	}

	tables, err := s.repo.ListTables(ctx)
	if err != nil {
		return domain.Table{}, err
	}
	var current *domain.Table
	for i := range tables {
		if tables[i].ID == tableID {
			current = &tables[i]
			break
		}
	}
	if current == nil {
		return domain.Table{}, fmt.Errorf("%w: table %s", store.ErrNotFound, tableID)
	}

	next := *current
	if req.Number != nil {
		next.Number = *req.Number
	}
	if req.Status != nil {
		next.Status = strings.TrimSpace(*req.Status)
	}

	updated, err := s.repo.UpdateTable(ctx, next)
	if err != nil {
		return domain.Table{}, err
	}

	s.logAudit(ctx, "table_update", "table", updated.ID, fmt.Sprintf("number=%d,status=%s", updated.Number, updated.Status))
	return *updated, nil
}

func (s *Service) DeleteTable(ctx context.Context, tableID string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required")
	}

	if err := s.repo.DeleteTable(ctx, tableID); err != nil {
		return err
	}
	s.logAudit(ctx, "table_delete", "table", tableID, "deleted")
	return nil
}

func (s *Service) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	return s.repo.ListInventory(ctx)
}

// ListDiscountTiers serves tiers cache-first; a miss falls through to the
// repository and refills the cache.
func (s *Service) ListDiscountTiers(ctx context.Context) ([]domain.DiscountTier, error) {
	if tiers, hit, err := s.tiers.Get(ctx); err == nil && hit {
		return tiers, nil
	} else if err != nil {
		log.Printf("[service] WARN: tier cache read failed: %v", err)
	}

	tiers, err := s.repo.ListDiscountTiers(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.tiers.Set(ctx, tiers, s.tierTTL); err != nil {
		log.Printf("[service] WARN: tier cache write failed: %v", err)
	}
	return tiers, nil
}

// OpenOrder prices the requested items, snapshots them and persists the
// order atomically. The settlement date of any later charge is the UTC
// date of the creation time stamped here.
func (s *Service) OpenOrder(ctx context.Context, req domain.OrderOpenRequest) (domain.Order, error) {
	table, err := s.repo.GetTableByNumber(ctx, req.TableNumber)
	if err != nil {
		return domain.Order{}, err
	}
	if table.Status == domain.TableStatusReserved {
		return domain.Order{}, fmt.Errorf("%w: table %d is reserved", store.ErrPreconditionFailed, table.Number)
	}

	lines, quote, err := s.priceItems(ctx, req.Items)
	if err != nil {
		return domain.Order{}, err
	}

	actor, _ := ActorFromContext(ctx)
	order := domain.Order{
		ID:              xid.New("ord"),
		TableID:         table.ID,
		TableNumber:     table.Number,
		WaiterUsername:  actor.Username,
		Lines:           lines,
		RawTotalCents:   quote.RawTotalCents,
		DiscountPercent: quote.DiscountPercent,
		TotalCents:      quote.TotalCents,
		Status:          domain.OrderStatusOpen,
		CreatedAt:       s.now().UTC(),
	}

	created, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return domain.Order{}, err
	}
	created.TableNumber = table.Number

	s.logAudit(ctx, "order_open", "order", created.ID, fmt.Sprintf("table=%d,lines=%d,total=%d", table.Number, len(created.Lines), created.TotalCents))
	return *created, nil
}

// ReviseOrder replaces an open order's lines and reprices it against the
// current tiers. The reserved gate applies only when the revision moves
// the order to a different table.
func (s *Service) ReviseOrder(ctx context.Context, orderID string, req domain.OrderReviseRequest) (domain.Order, error) {
	existing, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if existing.Status != domain.OrderStatusOpen {
		return domain.Order{}, fmt.Errorf("%w: order %s is not open", store.ErrPreconditionFailed, orderID)
	}

	table, err := s.repo.GetTableByNumber(ctx, req.TableNumber)
	if err != nil {
		return domain.Order{}, err
	}
	if table.ID != existing.TableID && table.Status == domain.TableStatusReserved {
		return domain.Order{}, fmt.Errorf("%w: table %d is reserved", store.ErrPreconditionFailed, table.Number)
	}

	lines, quote, err := s.priceItems(ctx, req.Items)
	if err != nil {
		return domain.Order{}, err
	}

	next := *existing
	next.TableID = table.ID
	next.TableNumber = table.Number
	next.Lines = lines
	next.RawTotalCents = quote.RawTotalCents
	next.DiscountPercent = quote.DiscountPercent
	next.TotalCents = quote.TotalCents

	updated, err := s.repo.ReplaceOrder(ctx, next)
	if err != nil {
		return domain.Order{}, err
	}
	updated.TableNumber = table.Number

	s.logAudit(ctx, "order_revise", "order", updated.ID, fmt.Sprintf("table=%d,lines=%d,total=%d", table.Number, len(updated.Lines), updated.TotalCents))
	return *updated, nil
}

// ChargeOrder settles an open order exactly once: the store flips it to
// charged and credits the day's running total in one transaction.
func (s *Service) ChargeOrder(ctx context.Context, orderID string) (domain.ChargeResult, error) {
	result, err := s.repo.ChargeOrder(ctx, orderID, s.now().UTC())
	if err != nil {
		return domain.ChargeResult{}, err
	}

	s.logAudit(ctx, "order_charge", "order", orderID, fmt.Sprintf("date=%s,amount=%d", result.Date, result.AmountCents))
	return *result, nil
}

func (s *Service) DiscardOrder(ctx context.Context, orderID string) error {
	if err := s.repo.DeleteOpenOrder(ctx, orderID); err != nil {
		return err
	}
	s.logAudit(ctx, "order_discard", "order", orderID, "discarded")
	return nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return *order, nil
}

func (s *Service) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return s.repo.ListOpenOrders(ctx)
}

func (s *Service) ListOrdersByTable(ctx context.Context, tableNumber int) ([]domain.Order, error) {
	table, err := s.repo.GetTableByNumber(ctx, tableNumber)
	if err != nil {
		return nil, err
	}
	return s.repo.ListOpenOrdersByTable(ctx, table.ID)
}

// DailyTotals previews revenue that has been charged but not yet folded
// into the closed ledger.
func (s *Service) DailyTotals(ctx context.Context) ([]domain.DailyTotal, error) {
	return s.repo.DailyTotals(ctx)
}

// CloseDay folds a date's running total into the permanent ledger. An
// empty date means today by the service clock.
func (s *Service) CloseDay(ctx context.Context, date string) (domain.CloseDayResult, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.CloseDayResult{}, fmt.Errorf("admin role required")
	}

	date = strings.TrimSpace(date)
	if date == "" {
		date = s.now().UTC().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		return domain.CloseDayResult{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
	}

	total, err := s.repo.CloseDay(ctx, date, s.now().UTC())
	if err != nil {
		return domain.CloseDayResult{}, err
	}

	s.logAudit(ctx, "day_close", "revenue_day", date, fmt.Sprintf("total=%d", total))
	return domain.CloseDayResult{Date: date, TotalCents: total}, nil
}

func (s *Service) ListClosedDays(ctx context.Context) ([]domain.DailyRevenueEntry, error) {
	return s.repo.ListClosedDays(ctx)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// priceItems validates the requested items, snapshots inventory data into
// order lines and prices them against the current tiers.
func (s *Service) priceItems(ctx context.Context, items []domain.OrderItemRequest) ([]domain.OrderLine, pricing.Quote, error) {
	merged := mergeItems(items)
	if len(merged) == 0 {
		return nil, pricing.Quote{}, fmt.Errorf("%w: order needs at least one item", store.ErrValidation)
	}

	ids := make([]string, 0, len(merged))
	for _, item := range merged {
		if item.Qty < 1 {
			return nil, pricing.Quote{}, fmt.Errorf("%w: qty must be positive for item %s", store.ErrValidation, item.InventoryID)
		}
		ids = append(ids, item.InventoryID)
	}

	catalog, err := s.repo.GetInventoryByIDs(ctx, ids)
	if err != nil {
		return nil, pricing.Quote{}, err
	}

	lines := make([]domain.OrderLine, 0, len(merged))
	for _, item := range merged {
		product, ok := catalog[item.InventoryID]
		if !ok {
			return nil, pricing.Quote{}, fmt.Errorf("%w: unknown inventory item %s", store.ErrValidation, item.InventoryID)
		}
		lines = append(lines, domain.OrderLine{
			InventoryID:    product.ID,
			Name:           product.Name,
			UnitPriceCents: product.PriceCents,
			Qty:            item.Qty,
		})
	}

	tiers, err := s.ListDiscountTiers(ctx)
	if err != nil {
		return nil, pricing.Quote{}, err
	}

	return lines, pricing.Price(lines, tiers), nil
}

// mergeItems collapses duplicate inventory ids, summing quantities, and
// drops blank ids. Order of first appearance is kept.
func mergeItems(items []domain.OrderItemRequest) []domain.OrderItemRequest {
	merged := make([]domain.OrderItemRequest, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.InventoryID)
		if id == "" {
			continue
		}
		if pos, ok := index[id]; ok {
			merged[pos].Qty += item.Qty
			continue
		}
		index[id] = len(merged)
		merged = append(merged, domain.OrderItemRequest{InventoryID: id, Qty: item.Qty})
	}
	return merged
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}
