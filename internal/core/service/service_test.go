package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sitewise/stockledger/internal/adapter/storage"
	"github.com/sitewise/stockledger/internal/config"
	"github.com/sitewise/stockledger/internal/core/domain"
	"github.com/sitewise/stockledger/internal/port"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testSites() port.SiteRegistry {
	return config.NewSiteRegistry([]config.SiteConfig{
		{ID: "site-a", Name: "North Yard"},
		{ID: "site-b", Name: "South Yard"},
	})
}

func testItem(t *testing.T) domain.ItemIdentity {
	t.Helper()
	item, err := domain.NewItemIdentity("cement", "bag")
	require.NoError(t, err)
	return item
}

// fakeNotifier records task-unblock signals.
type fakeNotifier struct {
	mu      sync.Mutex
	taskIDs []string
	err     error
}

func (f *fakeNotifier) NotifyMaterialAvailable(ctx context.Context, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.taskIDs = append(f.taskIDs, taskID)
	return nil
}

func (f *fakeNotifier) notified() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.taskIDs...)
}

// fakeIdempotency mirrors the Redis SETNX behavior in memory.
type fakeIdempotency struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeIdempotency() *fakeIdempotency {
	return &fakeIdempotency{seen: make(map[string]bool)}
}

func (f *fakeIdempotency) SetIdempotency(ctx context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[key] {
		return false, nil
	}
	f.seen[key] = true
	return true, nil
}

type env struct {
	store     *storage.MemoryAdapter
	notifier  *fakeNotifier
	allocator *AllocationService
	receipts  *ReceiptService
	transfers *TransferService
	requests  *RequestService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := storage.NewMemoryAdapter()
	notifier := &fakeNotifier{}
	log := testLogger()
	sites := testSites()

	allocator := NewAllocationService(store, store, notifier, log)
	return &env{
		store:     store,
		notifier:  notifier,
		allocator: allocator,
		receipts:  NewReceiptService(store, nil, sites, allocator, log),
		transfers: NewTransferService(store, nil, sites, log),
		requests:  NewRequestService(store, sites, log),
	}
}
