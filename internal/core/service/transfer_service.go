package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sitewise/stockledger/internal/core/domain"
	"github.com/sitewise/stockledger/internal/port"
)

// TransferService moves stock between two sites as one atomic unit. Transient
// conflicts (deadlocks between crossing transfers) are retried with bounded
// exponential backoff; everything else is terminal.
type TransferService struct {
	store      port.InventoryStore
	idem       port.IdempotencyStore
	sites      port.SiteRegistry
	log        *slog.Logger
	opTimeout  time.Duration
	maxRetries uint64
}

func NewTransferService(store port.InventoryStore, idem port.IdempotencyStore, sites port.SiteRegistry, log *slog.Logger) *TransferService {
	return &TransferService{
		store:      store,
		idem:       idem,
		sites:      sites,
		log:        log,
		opTimeout:  defaultOpTimeout,
		maxRetries: 3,
	}
}

func (s *TransferService) Transfer(ctx context.Context, intent domain.TransferIntent, actor, requestKey string) (*domain.TransferResult, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	if _, ok := s.sites.Lookup(intent.SourceSite); !ok {
		return nil, domain.ErrUnknownSite
	}
	if _, ok := s.sites.Lookup(intent.DestSite); !ok {
		return nil, domain.ErrUnknownSite
	}

	if s.idem != nil && requestKey != "" {
		ok, err := s.idem.SetIdempotency(ctx, "transfer:"+requestKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, domain.ErrDuplicateRequest
		}
	}

	var result *domain.TransferResult
	op := func() error {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()

		res, err := s.store.Transfer(opCtx, intent, actor)
		if err != nil {
			if errors.Is(err, domain.ErrConflict) {
				s.log.Debug("transfer conflict, retrying",
					"source", intent.SourceSite, "dest", intent.DestSite, "item", intent.Item.Key())
				return err
			}
			return backoff.Permanent(err)
		}
		result = res
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("transfer %s -> %s: %w", intent.SourceSite, intent.DestSite, err)
	}

	s.log.Info("stock transferred",
		"transfer_id", result.TransferID,
		"source", intent.SourceSite, "dest", intent.DestSite,
		"item", intent.Item.Key(), "quantity", intent.Quantity.String(), "actor", actor)
	return result, nil
}
