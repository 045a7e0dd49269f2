package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sitewise/stockledger/internal/core/domain"
	"github.com/sitewise/stockledger/internal/port"
)

// MemoryAdapter is the in-memory driver backing unit tests and local
// development. One mutex serializes all mutations, which trivially satisfies
// the per-key linearizability the SQL driver gets from row locks.
type MemoryAdapter struct {
	mu       sync.RWMutex
	records  map[string]domain.InventoryRecord
	requests map[string]domain.MaterialRequest
	reqOrder []string
	audit    []domain.AuditEntry
}

var (
	_ port.InventoryStore = (*MemoryAdapter)(nil)
	_ port.RequestLedger  = (*MemoryAdapter)(nil)
	_ port.AuditLog       = (*MemoryAdapter)(nil)
)

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		records:  make(map[string]domain.InventoryRecord),
		requests: make(map[string]domain.MaterialRequest),
	}
}

func recordKey(site string, item domain.ItemIdentity) string {
	return site + "\x00" + item.Key()
}

func (m *MemoryAdapter) Get(ctx context.Context, site string, item domain.ItemIdentity) (*domain.InventoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[recordKey(site, item)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MemoryAdapter) ApplyDelta(ctx context.Context, site string, item domain.ItemIdentity, delta, costHint decimal.Decimal, entry domain.AuditEntry) (*domain.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.applyDeltaLocked(site, item, delta, costHint)
	if err != nil {
		return nil, err
	}
	m.audit = append(m.audit, entry)
	return rec, nil
}

// applyDeltaLocked holds the credit/debit rules shared by receipts,
// transfers and manual request reconciliation. Caller must hold mu.
func (m *MemoryAdapter) applyDeltaLocked(site string, item domain.ItemIdentity, delta, costHint decimal.Decimal) (*domain.InventoryRecord, error) {
	key := recordKey(site, item)
	rec, ok := m.records[key]
	if !ok {
		if !delta.IsPositive() {
			return nil, domain.ErrItemNotFound
		}
		rec = domain.InventoryRecord{
			Site:      site,
			Item:      item,
			Quantity:  delta,
			UnitCost:  costHint,
			MinLevel:  decimal.Zero,
			UpdatedAt: time.Now().UTC(),
		}
		m.records[key] = rec
		return &rec, nil
	}

	newQty := rec.Quantity.Add(delta)
	if newQty.IsNegative() {
		return nil, domain.ErrInsufficientStock
	}
	if delta.IsPositive() {
		rec.UnitCost = domain.WeightedAverageCost(rec.Quantity, rec.UnitCost, delta, costHint)
	}
	rec.Quantity = newQty
	rec.UpdatedAt = time.Now().UTC()
	m.records[key] = rec
	return &rec, nil
}

func (m *MemoryAdapter) Transfer(ctx context.Context, intent domain.TransferIntent, actor string) (*domain.TransferResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, ok := m.records[recordKey(intent.SourceSite, intent.Item)]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	if src.Quantity.LessThan(intent.Quantity) {
		return nil, domain.ErrInsufficientStock
	}

	carriedCost := src.UnitCost
	debited, err := m.applyDeltaLocked(intent.SourceSite, intent.Item, intent.Quantity.Neg(), decimal.Zero)
	if err != nil {
		return nil, err
	}
	credited, err := m.applyDeltaLocked(intent.DestSite, intent.Item, intent.Quantity, carriedCost)
	if err != nil {
		return nil, err
	}

	transferID := uuid.NewString()
	out := domain.NewAuditEntry(domain.AuditTransferOut, intent.SourceSite, intent.Item, intent.Quantity.Neg(), actor,
		"transfer out: "+intent.Quantity.String()+" "+intent.Item.String()+" to "+intent.DestSite)
	out.TransferID = transferID
	in := domain.NewAuditEntry(domain.AuditTransferIn, intent.DestSite, intent.Item, intent.Quantity, actor,
		"transfer in: "+intent.Quantity.String()+" "+intent.Item.String()+" from "+intent.SourceSite)
	in.TransferID = transferID
	m.audit = append(m.audit, out, in)

	return &domain.TransferResult{
		TransferID: transferID,
		Source:     *debited,
		Dest:       *credited,
	}, nil
}

func (m *MemoryAdapter) SetMinLevel(ctx context.Context, site string, item domain.ItemIdentity, level decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := recordKey(site, item)
	rec, ok := m.records[key]
	if !ok {
		return domain.ErrItemNotFound
	}
	rec.MinLevel = level
	rec.UpdatedAt = time.Now().UTC()
	m.records[key] = rec
	return nil
}

func (m *MemoryAdapter) ListSite(ctx context.Context, site string) ([]domain.InventoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.InventoryRecord
	for _, rec := range m.records {
		if rec.Site == site {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out, nil
}

func (m *MemoryAdapter) ListAll(ctx context.Context) ([]domain.InventoryRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.InventoryRecord, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func sortRecords(recs []domain.InventoryRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Site != recs[j].Site {
			return recs[i].Site < recs[j].Site
		}
		return recs[i].Item.Key() < recs[j].Item.Key()
	})
}

func (m *MemoryAdapter) CreateRequest(ctx context.Context, req domain.MaterialRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests[req.ID] = req
	m.reqOrder = append(m.reqOrder, req.ID)
	return nil
}

func (m *MemoryAdapter) GetRequest(ctx context.Context, id string) (*domain.MaterialRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	return &req, nil
}

func (m *MemoryAdapter) ListOpen(ctx context.Context, site string, item domain.ItemIdentity) ([]domain.MaterialRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.MaterialRequest
	for _, id := range m.reqOrder {
		req := m.requests[id]
		if req.Site == site && req.Item == item && req.Open() {
			out = append(out, req)
		}
	}
	return out, nil
}

func (m *MemoryAdapter) ListSiteRequests(ctx context.Context, site string) ([]domain.MaterialRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.MaterialRequest
	for i := len(m.reqOrder) - 1; i >= 0; i-- {
		req := m.requests[m.reqOrder[i]]
		if req.Site == site {
			out = append(out, req)
		}
	}
	return out, nil
}

func (m *MemoryAdapter) Transition(ctx context.Context, id string, next domain.RequestState, actor string) (*domain.MaterialRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.transitionLocked(id, next, actor)
}

func (m *MemoryAdapter) transitionLocked(id string, next domain.RequestState, actor string) (*domain.MaterialRequest, error) {
	req, ok := m.requests[id]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	if !req.State.CanTransitionTo(next) {
		return nil, domain.ErrInvalidTransition
	}
	req.State = next
	if next == domain.RequestStateOrdered {
		req.ApprovedBy = actor
	}
	req.UpdatedAt = time.Now().UTC()
	m.requests[id] = req
	return &req, nil
}

func (m *MemoryAdapter) MarkReceived(ctx context.Context, id string, unitCost decimal.Decimal, actor string) (*domain.MaterialRequest, *domain.InventoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	req, ok := m.requests[id]
	if !ok {
		return nil, nil, domain.ErrRequestNotFound
	}
	if !req.State.CanTransitionTo(domain.RequestStateReceived) {
		return nil, nil, domain.ErrInvalidTransition
	}

	rec, err := m.applyDeltaLocked(req.Site, req.Item, req.Quantity, unitCost)
	if err != nil {
		return nil, nil, err
	}

	entry := domain.NewAuditEntry(domain.AuditRequestReceived, req.Site, req.Item, req.Quantity, actor,
		"request received: "+req.Quantity.String()+" "+req.Item.String())
	entry.RequestID = req.ID
	m.audit = append(m.audit, entry)

	updated, err := m.transitionLocked(id, domain.RequestStateReceived, actor)
	if err != nil {
		return nil, nil, err
	}
	return updated, rec, nil
}

func (m *MemoryAdapter) Append(ctx context.Context, entry domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.audit = append(m.audit, entry)
	return nil
}

func (m *MemoryAdapter) Recent(ctx context.Context, site string, limit int) ([]domain.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.AuditEntry
	for i := len(m.audit) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if site == "" || m.audit[i].Site == site {
			out = append(out, m.audit[i])
		}
	}
	return out, nil
}
