package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/sitewise/stockledger/internal/core/domain"
	"github.com/sitewise/stockledger/internal/port"
)

// SiteStock is one site's slice of an item rollup.
type SiteStock struct {
	Site     string
	Quantity decimal.Decimal
	UnitCost decimal.Decimal
	MinLevel decimal.Decimal
	LowStock bool
}

// ItemRollup is the cross-site aggregate for one item identity.
type ItemRollup struct {
	Item          domain.ItemIdentity
	TotalQuantity decimal.Decimal
	TotalValue    decimal.Decimal
	AverageCost   decimal.Decimal
	Sites         []SiteStock
}

// AggregationService is the read-side projection over the inventory store.
// Rollups are recomputed on demand from current records; they are never a
// source of truth.
type AggregationService struct {
	store port.InventoryStore
}

func NewAggregationService(store port.InventoryStore) *AggregationService {
	return &AggregationService{store: store}
}

// ListAll returns rollups for every known item, sorted by item key.
func (s *AggregationService) ListAll(ctx context.Context) ([]ItemRollup, error) {
	records, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	return rollup(records), nil
}

// ByItem returns the rollup for one item identity, or ErrItemNotFound when no
// site carries a record for it.
func (s *AggregationService) ByItem(ctx context.Context, item domain.ItemIdentity) (*ItemRollup, error) {
	records, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	var matching []domain.InventoryRecord
	for _, rec := range records {
		if rec.Item == item {
			matching = append(matching, rec)
		}
	}
	if len(matching) == 0 {
		return nil, domain.ErrItemNotFound
	}
	rollups := rollup(matching)
	return &rollups[0], nil
}

// LowStock returns every record at or below its reorder threshold.
func (s *AggregationService) LowStock(ctx context.Context) ([]domain.InventoryRecord, error) {
	records, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	var out []domain.InventoryRecord
	for _, rec := range records {
		if rec.LowStock() {
			out = append(out, rec)
		}
	}
	return out, nil
}

func rollup(records []domain.InventoryRecord) []ItemRollup {
	byItem := make(map[domain.ItemIdentity]*ItemRollup)
	for _, rec := range records {
		r, ok := byItem[rec.Item]
		if !ok {
			r = &ItemRollup{
				Item:          rec.Item,
				TotalQuantity: decimal.Zero,
				TotalValue:    decimal.Zero,
				AverageCost:   decimal.Zero,
			}
			byItem[rec.Item] = r
		}
		r.TotalQuantity = r.TotalQuantity.Add(rec.Quantity)
		r.TotalValue = r.TotalValue.Add(rec.Value())
		r.Sites = append(r.Sites, SiteStock{
			Site:     rec.Site,
			Quantity: rec.Quantity,
			UnitCost: rec.UnitCost,
			MinLevel: rec.MinLevel,
			LowStock: rec.LowStock(),
		})
	}

	out := make([]ItemRollup, 0, len(byItem))
	for _, r := range byItem {
		if r.TotalQuantity.IsPositive() {
			r.AverageCost = r.TotalValue.Div(r.TotalQuantity).Round(4)
		}
		sort.Slice(r.Sites, func(i, j int) bool { return r.Sites[i].Site < r.Sites[j].Site })
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Item.Key() < out[j].Item.Key() })
	return out
}
