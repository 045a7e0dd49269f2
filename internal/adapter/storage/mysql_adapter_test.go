package storage

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitewise/stockledger/internal/core/domain"
)

func getMySQLAdapter(t *testing.T) *MySQLAdapter {
	t.Helper()

	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/stockledger?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	adapter := NewMySQLAdapter(db)
	require.NoError(t, adapter.EnsureSchema(context.Background()))
	return adapter
}

// testSite returns a unique site id so parallel runs never collide.
func testSite() string {
	return "test-" + uuid.NewString()[:8]
}

func TestMySQLApplyDelta_WeightedAverage(t *testing.T) {
	m := getMySQLAdapter(t)
	item := testItem(t)
	site := testSite()
	ctx := context.Background()

	rec, err := m.ApplyDelta(ctx, site, item, dec("100"), dec("10"), testEntry(site, item, dec("100")))
	require.NoError(t, err)
	assert.True(t, dec("100").Equal(rec.Quantity))
	assert.True(t, dec("10").Equal(rec.UnitCost))

	rec, err = m.ApplyDelta(ctx, site, item, dec("100"), dec("20"), testEntry(site, item, dec("100")))
	require.NoError(t, err)
	assert.True(t, dec("200").Equal(rec.Quantity))
	assert.True(t, dec("15").Equal(rec.UnitCost))
}

func TestMySQLApplyDelta_DebitGuards(t *testing.T) {
	m := getMySQLAdapter(t)
	item := testItem(t)
	site := testSite()
	ctx := context.Background()

	_, err := m.ApplyDelta(ctx, site, item, dec("-5"), decimal.Zero, testEntry(site, item, dec("-5")))
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	_, err = m.ApplyDelta(ctx, site, item, dec("10"), dec("5"), testEntry(site, item, dec("10")))
	require.NoError(t, err)

	_, err = m.ApplyDelta(ctx, site, item, dec("-11"), decimal.Zero, testEntry(site, item, dec("-11")))
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	rec, err := m.Get(ctx, site, item)
	require.NoError(t, err)
	assert.True(t, dec("10").Equal(rec.Quantity))

	// No audit row survives the aborted debit.
	entries, err := m.Recent(ctx, site, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMySQLTransfer_Atomic(t *testing.T) {
	m := getMySQLAdapter(t)
	item := testItem(t)
	src, dst := testSite(), testSite()
	ctx := context.Background()

	_, err := m.ApplyDelta(ctx, src, item, dec("50"), dec("10"), testEntry(src, item, dec("50")))
	require.NoError(t, err)

	result, err := m.Transfer(ctx, domain.TransferIntent{
		SourceSite: src, DestSite: dst, Item: item, Quantity: dec("30"),
	}, "tester")
	require.NoError(t, err)
	assert.True(t, dec("20").Equal(result.Source.Quantity))
	assert.True(t, dec("30").Equal(result.Dest.Quantity))
	assert.True(t, dec("10").Equal(result.Dest.UnitCost))

	_, err = m.Transfer(ctx, domain.TransferIntent{
		SourceSite: src, DestSite: dst, Item: item, Quantity: dec("60"),
	}, "tester")
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	after, err := m.Get(ctx, src, item)
	require.NoError(t, err)
	assert.True(t, dec("20").Equal(after.Quantity), "failed transfer leaves the source unchanged")
}

func TestMySQLRequest_TransitionGuard(t *testing.T) {
	m := getMySQLAdapter(t)
	item := testItem(t)
	site := testSite()
	ctx := context.Background()

	req := domain.MaterialRequest{
		ID:        uuid.NewString(),
		Site:      site,
		Item:      item,
		Quantity:  dec("25"),
		State:     domain.RequestStateRequested,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, m.CreateRequest(ctx, req))

	_, err := m.Transition(ctx, req.ID, domain.RequestStateOrdered, "manager")
	require.NoError(t, err)

	updated, rec, err := m.MarkReceived(ctx, req.ID, dec("8"), "foreman")
	require.NoError(t, err)
	assert.Equal(t, domain.RequestStateReceived, updated.State)
	assert.True(t, dec("25").Equal(rec.Quantity))

	_, _, err = m.MarkReceived(ctx, req.ID, dec("8"), "foreman")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}
