package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	"clinicdesk/m/domain"
	"clinicdesk/m/internal/database"
	"clinicdesk/m/internal/metrics"
)

// ConsumptionNote marks adjustments written while issuing a prescription.
const ConsumptionNote = "Prescription consumption"

const itemColumns = `id, name, description, unit, quantity, low_stock_threshold, updated_by, updated_at`

// Ledger is the authoritative record of on-hand quantity per item together
// with its adjustment trail.
type Ledger struct {
	db  *sqlx.DB
	log zerolog.Logger
	now func() time.Time
}

func NewLedger(db *sqlx.DB, log zerolog.Logger) *Ledger {
	return &Ledger{
		db:  db,
		log: log.With().Str("component", "ledger").Logger(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// NewItem carries the fields accepted by AddItem. An empty ID creates a new item.
type NewItem struct {
	ID                string
	Name              string
	Description       string
	Unit              string
	Quantity          int64
	LowStockThreshold int64
}

func (l *Ledger) GetItem(ctx context.Context, id string) (*domain.InventoryItem, error) {
	return getItem(ctx, l.db, id)
}

// ListItems returns every item ordered by name.
func (l *Ledger) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	items := []domain.InventoryItem{}
	if err := l.db.SelectContext(ctx, &items, `SELECT `+itemColumns+` FROM inventory_items ORDER BY name, id`); err != nil {
		return nil, database.Classify(fmt.Errorf("list inventory: %w", err))
	}
	return items, nil
}

// ListItemsByIDs returns the items that exist among ids. Missing ids are
// silently absent from the result.
func (l *Ledger) ListItemsByIDs(ctx context.Context, ids []string) ([]domain.InventoryItem, error) {
	return listItemsByIDs(ctx, l.db, ids)
}

// ListLowStock returns items at or below their low-stock threshold.
func (l *Ledger) ListLowStock(ctx context.Context) ([]domain.InventoryItem, error) {
	items := []domain.InventoryItem{}
	err := l.db.SelectContext(ctx, &items, `SELECT `+itemColumns+` FROM inventory_items
                WHERE low_stock_threshold > 0 AND quantity <= low_stock_threshold
                ORDER BY quantity, name`)
	if err != nil {
		return nil, database.Classify(fmt.Errorf("list low stock: %w", err))
	}
	return items, nil
}

// ListAdjustments returns the newest adjustments for one item.
func (l *Ledger) ListAdjustments(ctx context.Context, itemID string, limit int) ([]domain.InventoryAdjustment, error) {
	if _, err := l.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	adjustments := []domain.InventoryAdjustment{}
	err := l.db.SelectContext(ctx, &adjustments, l.db.Rebind(`SELECT id, item_id, delta, note, created_by, created_at
                FROM inventory_adjustments WHERE item_id = ?
                ORDER BY created_at DESC, id DESC LIMIT ?`), itemID, limit)
	if err != nil {
		return nil, database.Classify(fmt.Errorf("list adjustments: %w", err))
	}
	return adjustments, nil
}

// AddItem creates an item or replaces the one with the same id.
func (l *Ledger) AddItem(ctx context.Context, in NewItem, actor string) (*domain.InventoryItem, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, domain.Invalid("name is required")
	}
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}

	_, err := l.db.ExecContext(ctx, l.db.Rebind(`INSERT INTO inventory_items (id, name, description, unit, quantity, low_stock_threshold, updated_by, updated_at)
                VALUES (?, ?, ?, ?, ?, ?, ?, ?)
                ON CONFLICT (id) DO UPDATE SET
                    name = excluded.name,
                    description = excluded.description,
                    unit = excluded.unit,
                    quantity = excluded.quantity,
                    low_stock_threshold = excluded.low_stock_threshold,
                    updated_by = excluded.updated_by,
                    updated_at = excluded.updated_at`),
		id, name, nullIfEmpty(in.Description), nullIfEmpty(in.Unit),
		max(0, in.Quantity), max(0, in.LowStockThreshold), nullIfEmpty(actor), l.now())
	if err != nil {
		return nil, database.Classify(fmt.Errorf("upsert inventory item: %w", err))
	}

	l.log.Info().Str("item_id", id).Str("name", name).Int64("quantity", max(0, in.Quantity)).Msg("inventory item saved")
	return l.GetItem(ctx, id)
}

// AdjustQuantity applies delta to the item's quantity, flooring at zero. The
// audit row records delta as requested, not the clamped change. The update
// and the audit row are written in one transaction.
func (l *Ledger) AdjustQuantity(ctx context.Context, id string, delta int64, note, actor string) (*domain.InventoryItem, error) {
	var updated *domain.InventoryItem
	err := database.WithTx(ctx, l.db, func(tx *sqlx.Tx) error {
		var err error
		updated, err = l.adjust(ctx, tx, id, delta, note, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.LedgerAdjustments.WithLabelValues(adjustmentSource(note)).Inc()
	return updated, nil
}

// SetQuantity moves the item to an absolute quantity (negative targets become
// zero) by recording the equivalent delta.
func (l *Ledger) SetQuantity(ctx context.Context, id string, quantity int64, note, actor string) (*domain.InventoryItem, error) {
	var updated *domain.InventoryItem
	err := database.WithTx(ctx, l.db, func(tx *sqlx.Tx) error {
		current, err := getItem(ctx, tx, id)
		if err != nil {
			return err
		}
		updated, err = l.adjust(ctx, tx, id, max(0, quantity)-current.Quantity, note, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	metrics.LedgerAdjustments.WithLabelValues(adjustmentSource(note)).Inc()
	return updated, nil
}

func (l *Ledger) adjust(ctx context.Context, ext sqlx.ExtContext, id string, delta int64, note, actor string) (*domain.InventoryItem, error) {
	item, err := getItem(ctx, ext, id)
	if err != nil {
		return nil, err
	}
	// Quantity is never negative, so only a positive delta can overflow.
	if delta > 0 && item.Quantity > math.MaxInt64-delta {
		return nil, domain.Invalid("adjusting %s by %d would overflow its quantity", id, delta)
	}
	next := max(0, item.Quantity+delta)
	now := l.now()

	_, err = ext.ExecContext(ctx, ext.Rebind(`UPDATE inventory_items SET quantity = ?, updated_by = ?, updated_at = ? WHERE id = ?`),
		next, nullIfEmpty(actor), now, id)
	if err != nil {
		return nil, database.Classify(fmt.Errorf("update quantity: %w", err))
	}
	if err := insertAdjustment(ctx, ext, id, delta, note, actor, now); err != nil {
		return nil, err
	}

	if next != item.Quantity+delta {
		l.log.Warn().Str("item_id", id).Int64("quantity", item.Quantity).Int64("delta", delta).Msg("adjustment clamped at zero")
	}
	item.Quantity = next
	item.UpdatedBy = nullIfEmpty(actor)
	item.UpdatedAt = now
	return item, nil
}

// decrement withdraws quantity only while enough stock remains. It reports
// false without writing anything when the guard does not hold.
func (l *Ledger) decrement(ctx context.Context, ext sqlx.ExtContext, req domain.Requirement, actor string) (bool, error) {
	if req.Quantity <= 0 || req.Quantity > domain.MaxQuantity {
		return false, domain.Invalid("quantity for item %s must be between 1 and %d", req.ItemID, domain.MaxQuantity)
	}
	now := l.now()
	res, err := ext.ExecContext(ctx, ext.Rebind(`UPDATE inventory_items SET quantity = quantity - ?, updated_by = ?, updated_at = ?
                WHERE id = ? AND quantity >= ?`),
		req.Quantity, nullIfEmpty(actor), now, req.ItemID, req.Quantity)
	if err != nil {
		return false, database.Classify(fmt.Errorf("decrement %s: %w", req.ItemID, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("decrement %s: %w", req.ItemID, err)
	}
	if n == 0 {
		return false, nil
	}
	return true, insertAdjustment(ctx, ext, req.ItemID, -req.Quantity, ConsumptionNote, actor, now)
}

func getItem(ctx context.Context, q sqlx.ExtContext, id string) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := sqlx.GetContext(ctx, q, &item, q.Rebind(`SELECT `+itemColumns+` FROM inventory_items WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("inventory item %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, database.Classify(fmt.Errorf("get inventory item: %w", err))
	}
	return &item, nil
}

func listItemsByIDs(ctx context.Context, q sqlx.ExtContext, ids []string) ([]domain.InventoryItem, error) {
	items := []domain.InventoryItem{}
	if len(ids) == 0 {
		return items, nil
	}
	query, args, err := sqlx.In(`SELECT `+itemColumns+` FROM inventory_items WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("prepare inventory lookup: %w", err)
	}
	if err := sqlx.SelectContext(ctx, q, &items, q.Rebind(query), args...); err != nil {
		return nil, database.Classify(fmt.Errorf("list inventory by id: %w", err))
	}
	return items, nil
}

func insertAdjustment(ctx context.Context, ext sqlx.ExtContext, itemID string, delta int64, note, actor string, at time.Time) error {
	_, err := ext.ExecContext(ctx, ext.Rebind(`INSERT INTO inventory_adjustments (id, item_id, delta, note, created_by, created_at) VALUES (?, ?, ?, ?, ?, ?)`),
		uuid.NewString(), itemID, delta, nullIfEmpty(note), nullIfEmpty(actor), at)
	if err != nil {
		return database.Classify(fmt.Errorf("record adjustment: %w", err))
	}
	return nil
}

func adjustmentSource(note string) string {
	if note == ConsumptionNote {
		return "consumption"
	}
	return "manual"
}

func nullIfEmpty(val string) *string {
	trimmed := strings.TrimSpace(val)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
