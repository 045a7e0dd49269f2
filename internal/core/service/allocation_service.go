package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"

	"github.com/sitewise/stockledger/internal/core/domain"
	"github.com/sitewise/stockledger/internal/port"
)

// AllocationService matches received stock against outstanding material
// requests. Allocation never touches inventory quantities: it only advances
// request state and signals the task component.
type AllocationService struct {
	requests port.RequestLedger
	audit    port.AuditLog
	notifier port.TaskNotifier
	breaker  *gobreaker.CircuitBreaker
	log      *slog.Logger
}

func NewAllocationService(requests port.RequestLedger, audit port.AuditLog, notifier port.TaskNotifier, log *slog.Logger) *AllocationService {
	return &AllocationService{
		requests: requests,
		audit:    audit,
		notifier: notifier,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "task-notifier",
			Timeout: 30 * time.Second,
		}),
		log: log,
	}
}

// Allocate runs one greedy oldest-first pass over open requests for the site
// and item. A request larger than what remains available is skipped whole;
// partial fulfillment is never attempted.
func (s *AllocationService) Allocate(ctx context.Context, site string, item domain.ItemIdentity, available decimal.Decimal) error {
	open, err := s.requests.ListOpen(ctx, site, item)
	if err != nil {
		return fmt.Errorf("list open requests: %w", err)
	}

	for _, req := range open {
		if !available.IsPositive() {
			break
		}
		if req.Quantity.GreaterThan(available) {
			continue
		}

		if _, err := s.requests.Transition(ctx, req.ID, domain.RequestStateDelivered, "allocation"); err != nil {
			// Lost a race against a manual transition; the request is no
			// longer ours to fulfill.
			if errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			return fmt.Errorf("mark request %s delivered: %w", req.ID, err)
		}
		available = available.Sub(req.Quantity)

		entry := domain.NewAuditEntry(domain.AuditAutoAllocated, site, item, decimal.Zero, "allocation",
			"auto-allocated: "+req.Quantity.String()+" "+item.String()+" to request "+req.ID)
		entry.RequestID = req.ID
		if err := s.audit.Append(ctx, entry); err != nil {
			return fmt.Errorf("audit allocation of request %s: %w", req.ID, err)
		}

		if req.TaskID != "" {
			s.notifyTask(ctx, req.TaskID)
		}

		s.log.Info("request allocated",
			"request_id", req.ID, "site", site, "item", item.Key(),
			"quantity", req.Quantity.String(), "remaining", available.String())
	}
	return nil
}

// notifyTask clears a task's blocked-on-material flag through the breaker.
// The task component is external; its failures never unwind an allocation.
func (s *AllocationService) notifyTask(ctx context.Context, taskID string) {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.notifier.NotifyMaterialAvailable(ctx, taskID)
	})
	if err != nil {
		s.log.Warn("task unblock signal failed", "task_id", taskID, "error", err)
	}
}
