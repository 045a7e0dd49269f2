package port

import (
	"context"

	"github.com/sitewise/stockledger/internal/core/domain"
)

type AuditLog interface {
	// Append adds one immutable entry to the log.
	Append(ctx context.Context, entry domain.AuditEntry) error

	// Recent returns the newest entries, optionally filtered by site
	// (empty site means all sites).
	Recent(ctx context.Context, site string, limit int) ([]domain.AuditEntry, error)
}
