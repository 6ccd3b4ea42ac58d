package job

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"taxsync/internal/infrastructure/taxapi"
	"taxsync/internal/model"
	"taxsync/internal/record"
	"taxsync/internal/repository"
	"taxsync/internal/testutil"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeClient struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
}

func (f *fakeClient) CreateOrUpdate(_ context.Context, txn *taxapi.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := txn.Type + ":" + txn.TransactionID
	f.calls = append(f.calls, key)
	if f.fail[key] {
		return &taxapi.APIError{StatusCode: 503, Body: "unavailable"}
	}
	return nil
}

func (f *fakeClient) Delete(context.Context, string, string) error { return nil }

func (f *fakeClient) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type env struct {
	db     *gorm.DB
	queue  *repository.QueueRepository
	orders *repository.OrderRepository
	outbox *repository.OutboxRepository
	client *fakeClient
	deps   *record.Deps
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.NewDB(t)
	e := &env{
		db:     db,
		queue:  repository.NewQueueRepository(db),
		orders: repository.NewOrderRepository(db),
		outbox: repository.NewOutboxRepository(db),
		client: &fakeClient{fail: map[string]bool{}},
	}
	e.deps = &record.Deps{
		DB:      db,
		Queue:   e.queue,
		Orders:  e.orders,
		Outbox:  e.outbox,
		Client:  e.client,
		Logger:  zap.NewNop(),
		Options: record.Options{MaxRetries: 3, SupportedCountries: []string{"US"}},
	}
	return e
}

var orderSeq int

func (e *env) seedOrder(t *testing.T, completedAt time.Time, mutate func(o *model.Order)) *model.Order {
	t.Helper()
	orderSeq++
	o := &model.Order{
		OrderNo:     fmt.Sprintf("JOB-%d", orderSeq),
		Status:      model.OrderStatusCompleted,
		Total:       2000,
		TaxTotal:    100,
		ShipCountry: "US",
		ShipState:   "NY",
		ShipZip:     "10001",
		CompletedAt: &completedAt,
	}
	if mutate != nil {
		mutate(o)
	}
	if err := e.orders.Create(context.Background(), nil, o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func (e *env) seedEntry(t *testing.T, entry *model.QueueEntry) *model.QueueEntry {
	t.Helper()
	if err := e.queue.Create(context.Background(), nil, entry); err != nil {
		t.Fatalf("create entry: %v", err)
	}
	return entry
}

func (e *env) entry(t *testing.T, queueID int64) *model.QueueEntry {
	t.Helper()
	got, err := e.queue.GetByID(context.Background(), queueID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return got
}

func (e *env) activeEntries(t *testing.T) []*model.QueueEntry {
	t.Helper()
	entries, err := e.queue.GetAllActiveInQueue(context.Background())
	if err != nil {
		t.Fatalf("GetAllActiveInQueue: %v", err)
	}
	return entries
}
