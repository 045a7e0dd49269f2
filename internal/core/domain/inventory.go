package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// costScale is the decimal scale used for unit costs, matching the
// decimal(20,4) storage columns.
const costScale = 4

// InventoryRecord is the canonical stock slot for one (site, item identity)
// pair. There is at most one record per pair at any time. Quantity never goes
// negative and the record is never deleted; a drained slot stays at zero.
type InventoryRecord struct {
	Site      string
	Item      ItemIdentity
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
	MinLevel  decimal.Decimal
	UpdatedAt time.Time
}

// LowStock reports whether the record is at or below its reorder threshold.
// Records without a configured threshold are never flagged.
func (r InventoryRecord) LowStock() bool {
	return r.MinLevel.IsPositive() && r.Quantity.LessThanOrEqual(r.MinLevel)
}

// Value returns the cost basis of the stock on hand (quantity x unit cost).
func (r InventoryRecord) Value() decimal.Decimal {
	return r.Quantity.Mul(r.UnitCost)
}

// WeightedAverageCost computes the new unit cost after adding addQty units at
// addCost to qty units carried at cost. If the resulting quantity is zero the
// current cost is kept unchanged.
func WeightedAverageCost(qty, cost, addQty, addCost decimal.Decimal) decimal.Decimal {
	total := qty.Add(addQty)
	if total.IsZero() {
		return cost
	}
	return qty.Mul(cost).Add(addQty.Mul(addCost)).Div(total).Round(costScale)
}
