package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type AuditKind string

const (
	AuditStockAdded      AuditKind = "stock_added"
	AuditTransferOut     AuditKind = "transfer_out"
	AuditTransferIn      AuditKind = "transfer_in"
	AuditAutoAllocated   AuditKind = "auto_allocated"
	AuditRequestReceived AuditKind = "request_received"
)

// AuditEntry is an immutable record of one ledger mutation. Entries are
// append-only; a transfer produces two entries sharing a TransferID. The
// entry is written in the same unit of work as the mutation it describes, so
// an aborted unit leaves no audit residue.
type AuditEntry struct {
	ID            string
	Kind          AuditKind
	Site          string
	Item          ItemIdentity
	QuantityDelta decimal.Decimal
	Actor         string
	TransferID    string
	RequestID     string
	Description   string
	CreatedAt     time.Time
}

// NewAuditEntry stamps a fresh entry with an id and timestamp.
func NewAuditEntry(kind AuditKind, site string, item ItemIdentity, delta decimal.Decimal, actor, description string) AuditEntry {
	return AuditEntry{
		ID:            uuid.NewString(),
		Kind:          kind,
		Site:          site,
		Item:          item,
		QuantityDelta: delta,
		Actor:         actor,
		Description:   description,
		CreatedAt:     time.Now().UTC(),
	}
}
