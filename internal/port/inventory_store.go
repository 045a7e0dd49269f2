package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sitewise/stockledger/internal/core/domain"
)

type InventoryStore interface {
	// Get returns the record for a site and item, or nil if absent.
	Get(ctx context.Context, site string, item domain.ItemIdentity) (*domain.InventoryRecord, error)

	// ApplyDelta atomically adjusts a single record and appends the audit
	// entry in the same unit of work. A positive delta creates the record if
	// absent and recomputes the weighted-average unit cost from costHint; a
	// negative delta fails with ErrInsufficientStock rather than going below
	// zero and leaves the unit cost unchanged.
	ApplyDelta(ctx context.Context, site string, item domain.ItemIdentity, delta, costHint decimal.Decimal, entry domain.AuditEntry) (*domain.InventoryRecord, error)

	// Transfer atomically debits the source record and credits the
	// destination, carrying the source unit cost into the destination's
	// weighted average, and appends both linked audit entries. Availability
	// is re-checked inside the unit; no partial state is ever visible.
	Transfer(ctx context.Context, intent domain.TransferIntent, actor string) (*domain.TransferResult, error)

	// SetMinLevel sets the reorder threshold on an existing record.
	SetMinLevel(ctx context.Context, site string, item domain.ItemIdentity, level decimal.Decimal) error

	// ListSite returns all records for one site.
	ListSite(ctx context.Context, site string) ([]domain.InventoryRecord, error)

	// ListAll returns every record across sites.
	ListAll(ctx context.Context) ([]domain.InventoryRecord, error)
}
