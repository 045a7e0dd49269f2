package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sitewise/stockledger/internal/core/domain"
	"github.com/sitewise/stockledger/internal/port"
)

// RequestService owns the material-request lifecycle: intake, approval,
// rejection and manual reconciliation against delivered goods.
type RequestService struct {
	ledger port.RequestLedger
	sites  port.SiteRegistry
	log    *slog.Logger
}

func NewRequestService(ledger port.RequestLedger, sites port.SiteRegistry, log *slog.Logger) *RequestService {
	return &RequestService{ledger: ledger, sites: sites, log: log}
}

func (s *RequestService) Create(ctx context.Context, site string, item domain.ItemIdentity, quantity decimal.Decimal, taskID, actor string) (*domain.MaterialRequest, error) {
	if !quantity.IsPositive() {
		return nil, domain.ErrInvalidQuantity
	}
	if _, ok := s.sites.Lookup(site); !ok {
		return nil, domain.ErrUnknownSite
	}

	now := time.Now().UTC()
	req := domain.MaterialRequest{
		ID:          uuid.NewString(),
		Site:        site,
		Item:        item,
		Quantity:    quantity,
		TaskID:      taskID,
		State:       domain.RequestStateRequested,
		RequestedBy: actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.ledger.CreateRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	s.log.Info("material request created",
		"request_id", req.ID, "site", site, "item", item.Key(), "quantity", quantity.String())
	return &req, nil
}

// Approve moves a requested request to ordered, recording the approver.
func (s *RequestService) Approve(ctx context.Context, id, actor string) (*domain.MaterialRequest, error) {
	return s.ledger.Transition(ctx, id, domain.RequestStateOrdered, actor)
}

// Reject terminates a requested or ordered request with no inventory effect.
func (s *RequestService) Reject(ctx context.Context, id, actor string) (*domain.MaterialRequest, error) {
	return s.ledger.Transition(ctx, id, domain.RequestStateRejected, actor)
}

// Receive reconciles an ordered request manually: the requested quantity is
// credited to the site at unitCost (zero when no cost is known) and the
// request is marked received, in one atomic unit.
func (s *RequestService) Receive(ctx context.Context, id string, unitCost decimal.Decimal, actor string) (*domain.MaterialRequest, *domain.InventoryRecord, error) {
	if unitCost.IsNegative() {
		return nil, nil, domain.ErrInvalidCost
	}
	req, rec, err := s.ledger.MarkReceived(ctx, id, unitCost, actor)
	if err != nil {
		return nil, nil, err
	}

	s.log.Info("material request received",
		"request_id", req.ID, "site", req.Site, "item", req.Item.Key(),
		"quantity", req.Quantity.String(), "actor", actor)
	return req, rec, nil
}

func (s *RequestService) Get(ctx context.Context, id string) (*domain.MaterialRequest, error) {
	return s.ledger.GetRequest(ctx, id)
}

func (s *RequestService) ListSite(ctx context.Context, site string) ([]domain.MaterialRequest, error) {
	if _, ok := s.sites.Lookup(site); !ok {
		return nil, domain.ErrUnknownSite
	}
	return s.ledger.ListSiteRequests(ctx, site)
}
