package domain

import "github.com/shopspring/decimal"

// TransferIntent describes a requested stock movement between two sites. It
// is a value object that lives only for the duration of a transfer call; it
// is never persisted.
type TransferIntent struct {
	SourceSite string
	DestSite   string
	Item       ItemIdentity
	Quantity   decimal.Decimal
}

// Validate checks the intent's own preconditions. Stock availability is only
// decided inside the transfer's atomic unit, never here.
func (t TransferIntent) Validate() error {
	if t.SourceSite == "" || t.DestSite == "" {
		return ErrUnknownSite
	}
	if t.SourceSite == t.DestSite {
		return ErrSameSite
	}
	if !t.Quantity.IsPositive() {
		return ErrInvalidQuantity
	}
	return nil
}

// TransferResult reports the committed outcome of a transfer: both records
// as of the commit, plus the id linking the two audit entries.
type TransferResult struct {
	TransferID string
	Source     InventoryRecord
	Dest       InventoryRecord
}
