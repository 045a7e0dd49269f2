package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/sitewise/stockledger/internal/core/domain"
)

type RequestLedger interface {
	// CreateRequest persists a new request in the requested state.
	CreateRequest(ctx context.Context, req domain.MaterialRequest) error

	// GetRequest returns a request by id or ErrRequestNotFound.
	GetRequest(ctx context.Context, id string) (*domain.MaterialRequest, error)

	// ListOpen returns requested/ordered requests for a site and item,
	// oldest first.
	ListOpen(ctx context.Context, site string, item domain.ItemIdentity) ([]domain.MaterialRequest, error)

	// ListSiteRequests returns all requests for a site, newest first.
	ListSiteRequests(ctx context.Context, site string) ([]domain.MaterialRequest, error)

	// Transition moves a request to next if legal, guarding the state check
	// and the write in one atomic unit. Illegal moves fail with
	// ErrInvalidTransition.
	Transition(ctx context.Context, id string, next domain.RequestState, actor string) (*domain.MaterialRequest, error)

	// MarkReceived reconciles an ordered request manually: credits the
	// request's site/item by the requested quantity at unitCost, writes the
	// audit entry and marks the request received, all in one atomic unit.
	MarkReceived(ctx context.Context, id string, unitCost decimal.Decimal, actor string) (*domain.MaterialRequest, *domain.InventoryRecord, error)
}
