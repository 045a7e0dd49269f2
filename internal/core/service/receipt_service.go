package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sitewise/stockledger/internal/core/domain"
	"github.com/sitewise/stockledger/internal/port"
)

const defaultOpTimeout = 5 * time.Second

// ReceiptService adds stock to a site, recomputing the weighted-average unit
// cost, and then triggers allocation against outstanding requests.
type ReceiptService struct {
	store     port.InventoryStore
	idem      port.IdempotencyStore
	sites     port.SiteRegistry
	allocator *AllocationService
	log       *slog.Logger
	opTimeout time.Duration
}

func NewReceiptService(store port.InventoryStore, idem port.IdempotencyStore, sites port.SiteRegistry, allocator *AllocationService, log *slog.Logger) *ReceiptService {
	return &ReceiptService{
		store:     store,
		idem:      idem,
		sites:     sites,
		allocator: allocator,
		log:       log,
		opTimeout: defaultOpTimeout,
	}
}

// Receive credits quantity units at unitCost to the site's record for item.
// requestKey, when non-empty, makes the call idempotent: a replay fails with
// ErrDuplicateRequest without touching stock. Allocation runs as a follow-up
// and its failure never fails the receipt.
func (s *ReceiptService) Receive(ctx context.Context, site string, item domain.ItemIdentity, quantity, unitCost decimal.Decimal, actor, requestKey string) (*domain.InventoryRecord, error) {
	if !quantity.IsPositive() {
		return nil, domain.ErrInvalidQuantity
	}
	if unitCost.IsNegative() {
		return nil, domain.ErrInvalidCost
	}
	if _, ok := s.sites.Lookup(site); !ok {
		return nil, domain.ErrUnknownSite
	}

	if s.idem != nil && requestKey != "" {
		ok, err := s.idem.SetIdempotency(ctx, "receipt:"+requestKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, domain.ErrDuplicateRequest
		}
	}

	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	entry := domain.NewAuditEntry(domain.AuditStockAdded, site, item, quantity, actor,
		"stock added: "+quantity.String()+" "+item.String()+" @ "+unitCost.String())
	rec, err := s.store.ApplyDelta(opCtx, site, item, quantity, unitCost, entry)
	if err != nil {
		return nil, fmt.Errorf("credit stock: %w", err)
	}

	s.log.Info("stock received",
		"site", site, "item", item.Key(),
		"quantity", quantity.String(), "unit_cost", rec.UnitCost.String(), "actor", actor)

	// Fire-and-forget from the receipt's point of view: everything on hand
	// after this credit is offered to outstanding requests.
	if err := s.allocator.Allocate(ctx, site, item, rec.Quantity); err != nil {
		s.log.Error("allocation after receipt failed",
			"site", site, "item", item.Key(), "error", err)
	}

	return rec, nil
}
