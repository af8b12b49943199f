package domain

import "time"

// MaxQuantity bounds the amount of one item a single request may withdraw or
// set. Request validation tags repeat the value as lte=1000000.
const MaxQuantity int64 = 1_000_000

type InventoryItem struct {
	ID                string    `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	Description       *string   `db:"description" json:"description"`
	Unit              *string   `db:"unit" json:"unit"`
	Quantity          int64     `db:"quantity" json:"quantity"`
	LowStockThreshold int64     `db:"low_stock_threshold" json:"low_stock_threshold"`
	UpdatedBy         *string   `db:"updated_by" json:"updated_by,omitempty"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// LowStock reports whether the item has reached its reorder threshold.
// Items without a threshold never count as low.
func (i InventoryItem) LowStock() bool {
	return i.LowStockThreshold > 0 && i.Quantity <= i.LowStockThreshold
}

// InventoryAdjustment is one append-only audit row. Delta holds the change
// that was requested, which may differ from the applied change when the
// quantity was clamped at zero.
type InventoryAdjustment struct {
	ID        string    `db:"id" json:"id"`
	ItemID    string    `db:"item_id" json:"item_id"`
	Delta     int64     `db:"delta" json:"delta"`
	Note      *string   `db:"note" json:"note"`
	CreatedBy *string   `db:"created_by" json:"created_by"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Requirement struct {
	ItemID   string `json:"item_id"`
	Quantity int64  `json:"quantity"`
}

type Shortage struct {
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	Requested int64  `json:"requested"`
	Available int64  `json:"available"`
}
