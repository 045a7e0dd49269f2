package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewise/stockledger/internal/core/domain"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testItem(t *testing.T) domain.ItemIdentity {
	t.Helper()
	item, err := domain.NewItemIdentity("cement", "bag")
	require.NoError(t, err)
	return item
}

func testEntry(site string, item domain.ItemIdentity, delta decimal.Decimal) domain.AuditEntry {
	return domain.NewAuditEntry(domain.AuditStockAdded, site, item, delta, "tester", "test entry")
}

func TestApplyDelta_CreatesRecordOnFirstCredit(t *testing.T) {
	m := NewMemoryAdapter()
	item := testItem(t)
	ctx := context.Background()

	rec, err := m.ApplyDelta(ctx, "site-a", item, dec("100"), dec("10"), testEntry("site-a", item, dec("100")))
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(rec.Quantity))
	assert.True(t, dec("10").Equal(rec.UnitCost))
}

func TestApplyDelta_WeightedAverageOnCredit(t *testing.T) {
	m := NewMemoryAdapter()
	item := testItem(t)
	ctx := context.Background()

	_, err := m.ApplyDelta(ctx, "site-a", item, dec("100"), dec("10"), testEntry("site-a", item, dec("100")))
	require.NoError(t, err)

	rec, err := m.ApplyDelta(ctx, "site-a", item, dec("100"), dec("20"), testEntry("site-a", item, dec("100")))
	require.NoError(t, err)
	assert.True(t, dec("200").Equal(rec.Quantity))
	assert.True(t, dec("15").Equal(rec.UnitCost))
}

func TestApplyDelta_DebitKeepsCost(t *testing.T) {
	m := NewMemoryAdapter()
	item := testItem(t)
	ctx := context.Background()

	_, err := m.ApplyDelta(ctx, "site-a", item, dec("50"), dec("10"), testEntry("site-a", item, dec("50")))
	require.NoError(t, err)

	rec, err := m.ApplyDelta(ctx, "site-a", item, dec("-20"), decimal.Zero, testEntry("site-a", item, dec("-20")))
	require.NoError(t, err)
	assert.True(t, dec("30").Equal(rec.Quantity))
	assert.True(t, dec("10").Equal(rec.UnitCost))
}

func TestApplyDelta_InsufficientStock(t *testing.T) {
	m := NewMemoryAdapter()
	item := testItem(t)
	ctx := context.Background()

	_, err := m.ApplyDelta(ctx, "site-a", item, dec("10"), dec("5"), testEntry("site-a", item, dec("10")))
	require.NoError(t, err)

	_, err = m.ApplyDelta(ctx, "site-a", item, dec("-11"), decimal.Zero, testEntry("site-a", item, dec("-11")))
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	rec, err := m.Get(ctx, "site-a", item)
	require.NoError(t, err)
	assert.True(t, dec("10").Equal(rec.Quantity), "failed debit must not change stock")
}

func TestApplyDelta_DebitAbsentRecord(t *testing.T) {
	m := NewMemoryAdapter()
	item := testItem(t)

	_, err := m.ApplyDelta(context.Background(), "site-a", item, dec("-5"), decimal.Zero, testEntry("site-a", item, dec("-5")))
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestApplyDelta_DrainToZeroKeepsRecord(t *testing.T) {
	m := NewMemoryAdapter()
	item := testItem(t)
	ctx := context.Background()

	_, err := m.ApplyDelta(ctx, "site-a", item, dec("10"), dec("7"), testEntry("site-a", item, dec("10")))
	require.NoError(t, err)
	rec, err := m.ApplyDelta(ctx, "site-a", item, dec("-10"), decimal.Zero, testEntry("site-a", item, dec("-10")))
	require.NoError(t, err)

	assert.True(t, rec.Quantity.IsZero())
	assert.True(t, dec("7").Equal(rec.UnitCost), "cost basis survives a drained slot")

	got, err := m.Get(ctx, "site-a", item)
	require.NoError(t, err)
	require.NotNil(t, got, "record persists at zero quantity")
}

func TestApplyDelta_ConcurrentFirstReceipts(t *testing.T) {
	m := NewMemoryAdapter()
	item := testItem(t)

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.ApplyDelta(context.Background(), "site-a", item, dec("1"), dec("10"), testEntry("site-a", item, dec("1")))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	records, err := m.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1, "concurrent first receipts must not duplicate the record")
	assert.True(t, dec("50").Equal(records[0].Quantity))
}

func TestTransfer_MovesStockAndCarriesCost(t *testing.T) {
	m := NewMemoryAdapter()
	item := testItem(t)
	ctx := context.Background()

	_, err := m.ApplyDelta(ctx, "site-a", item, dec("50"), dec("10"), testEntry("site-a", item, dec("50")))
	require.NoError(t, err)

	result, err := m.Transfer(ctx, domain.TransferIntent{
		SourceSite: "site-a", DestSite: "site-b", Item: item, Quantity: dec("30"),
	}, "tester")
	require.NoError(t, err)

	assert.True(t, dec("20").Equal(result.Source.Quantity))
	assert.True(t, dec("10").Equal(result.Source.UnitCost))
	assert.True(t, dec("30").Equal(result.Dest.Quantity))
	assert.True(t, dec("10").Equal(result.Dest.UnitCost))
	assert.NotEmpty(t, result.TransferID)

	entries, err := m.Recent(ctx, "", 0)
	require.NoError(t, err)
	var out, in *domain.AuditEntry
	for i := range entries {
		switch entries[i].Kind {
		case domain.AuditTransferOut:
			out = &entries[i]
		case domain.AuditTransferIn:
			in = &entries[i]
		}
	}
	require.NotNil(t, out)
	require.NotNil(t, in)
	assert.Equal(t, out.TransferID, in.TransferID, "both entries share the transfer id")
}

func TestTransfer_InsufficientStockLeavesRecordsUnchanged(t *testing.T) {
	m := NewMemoryAdapter()
	item := testItem(t)
	ctx := context.Background()

	_, err := m.ApplyDelta(ctx, "site-a", item, dec("50"), dec("10"), testEntry("site-a", item, dec("50")))
	require.NoError(t, err)

	_, err = m.Transfer(ctx, domain.TransferIntent{
		SourceSite: "site-a", DestSite: "site-b", Item: item, Quantity: dec("60"),
	}, "tester")
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	src, err := m.Get(ctx, "site-a", item)
	require.NoError(t, err)
	assert.True(t, dec("50").Equal(src.Quantity))

	dst, err := m.Get(ctx, "site-b", item)
	require.NoError(t, err)
	assert.Nil(t, dst, "no partial credit on a failed transfer")
}

func TestTransfer_AbsentSource(t *testing.T) {
	m := NewMemoryAdapter()
	item := testItem(t)

	_, err := m.Transfer(context.Background(), domain.TransferIntent{
		SourceSite: "site-a", DestSite: "site-b", Item: item, Quantity: dec("5"),
	}, "tester")
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestTransfer_ConservesTotalUnderConcurrency(t *testing.T) {
	m := NewMemoryAdapter()
	item := testItem(t)
	ctx := context.Background()

	_, err := m.ApplyDelta(ctx, "site-a", item, dec("100"), dec("10"), testEntry("site-a", item, dec("100")))
	require.NoError(t, err)

	const attempts = 40
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			src, dst := "site-a", "site-b"
			if n%2 == 1 {
				src, dst = dst, src
			}
			// Some transfers fail with insufficient stock; conservation
			// must hold either way.
			m.Transfer(ctx, domain.TransferIntent{
				SourceSite: src, DestSite: dst, Item: item, Quantity: dec("7"),
			}, "tester")
		}(i)
	}
	wg.Wait()

	records, err := m.ListAll(ctx)
	require.NoError(t, err)
	total := decimal.Zero
	for _, rec := range records {
		assert.False(t, rec.Quantity.IsNegative(), "quantity must never go negative")
		total = total.Add(rec.Quantity)
	}
	assert.True(t, dec("100").Equal(total), "transfers must conserve total quantity, got %s", total)
}

func TestRequestLifecycle(t *testing.T) {
	m := NewMemoryAdapter()
	item := testItem(t)
	ctx := context.Background()

	req := domain.MaterialRequest{
		ID:        uuid.NewString(),
		Site:      "site-a",
		Item:      item,
		Quantity:  dec("40"),
		State:     domain.RequestStateRequested,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, m.CreateRequest(ctx, req))

	got, err := m.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStateRequested, got.State)

	approved, err := m.Transition(ctx, req.ID, domain.RequestStateOrdered, "foreman")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStateOrdered, approved.State)
	assert.Equal(t, "foreman", approved.ApprovedBy)

	// Terminal guard
	_, err = m.Transition(ctx, req.ID, domain.RequestStateDelivered, "allocation")
	require.NoError(t, err)
	_, err = m.Transition(ctx, req.ID, domain.RequestStateRejected, "foreman")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestMarkReceived_CreditsStockAndTerminates(t *testing.T) {
	m := NewMemoryAdapter()
	item := testItem(t)
	ctx := context.Background()

	req := domain.MaterialRequest{
		ID:        uuid.NewString(),
		Site:      "site-a",
		Item:      item,
		Quantity:  dec("25"),
		State:     domain.RequestStateRequested,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, m.CreateRequest(ctx, req))

	// Manual reconciliation requires an ordered request.
	_, _, err := m.MarkReceived(ctx, req.ID, dec("8"), "foreman")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = m.Transition(ctx, req.ID, domain.RequestStateOrdered, "foreman")
	require.NoError(t, err)

	updated, rec, err := m.MarkReceived(ctx, req.ID, dec("8"), "foreman")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStateReceived, updated.State)
	assert.True(t, dec("25").Equal(rec.Quantity))
	assert.True(t, dec("8").Equal(rec.UnitCost))

	// Replays hit the terminal guard without touching stock.
	_, _, err = m.MarkReceived(ctx, req.ID, dec("8"), "foreman")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	got, err := m.Get(ctx, "site-a", item)
	require.NoError(t, err)
	assert.True(t, dec("25").Equal(got.Quantity))
}

func TestListOpen_OldestFirst(t *testing.T) {
	m := NewMemoryAdapter()
	item := testItem(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, m.CreateRequest(ctx, domain.MaterialRequest{
			ID:        fmt.Sprintf("req-%d", i),
			Site:      "site-a",
			Item:      item,
			Quantity:  dec("10"),
			State:     domain.RequestStateRequested,
			CreatedAt: time.Now().UTC(),
		}))
	}
	_, err := m.Transition(ctx, "req-1", domain.RequestStateRejected, "foreman")
	require.NoError(t, err)

	open, err := m.ListOpen(ctx, "site-a", item)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "req-0", open[0].ID)
	assert.Equal(t, "req-2", open[1].ID)
}

func TestRecent_FiltersAndLimits(t *testing.T) {
	m := NewMemoryAdapter()
	item := testItem(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		site := "site-a"
		if i%2 == 1 {
			site = "site-b"
		}
		require.NoError(t, m.Append(ctx, testEntry(site, item, dec("1"))))
	}

	all, err := m.Recent(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	siteA, err := m.Recent(ctx, "site-a", 2)
	require.NoError(t, err)
	require.Len(t, siteA, 2)
	for _, e := range siteA {
		assert.Equal(t, "site-a", e.Site)
	}
}
