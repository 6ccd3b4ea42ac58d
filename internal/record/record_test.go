package record

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"taxsync/internal/infrastructure/taxapi"
	"taxsync/internal/model"
	"taxsync/internal/repository"
	"taxsync/internal/testutil"

	"go.uber.org/zap"
)

type fakeClient struct {
	mu      sync.Mutex
	upserts []*taxapi.Transaction
	deletes []string
	fail    map[string]error
}

func (f *fakeClient) CreateOrUpdate(_ context.Context, txn *taxapi.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, txn)
	if err := f.fail[txn.Type+":"+txn.TransactionID]; err != nil {
		return err
	}
	return nil
}

func (f *fakeClient) Delete(_ context.Context, txnType, transactionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, txnType+":"+transactionID)
	return f.fail["delete:"+transactionID]
}

func (f *fakeClient) upsertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.upserts)
}

var fixedNow = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newDeps(t *testing.T, client *fakeClient) *Deps {
	t.Helper()
	db := testutil.NewDB(t)
	return &Deps{
		DB:     db,
		Queue:  repository.NewQueueRepository(db),
		Orders: repository.NewOrderRepository(db),
		Outbox: repository.NewOutboxRepository(db),
		Client: client,
		Logger: zap.NewNop(),
		Options: Options{
			MaxRetries:         3,
			SupportedCountries: []string{"US"},
			ResultTopic:        "tax_sync.result",
		},
		Now: func() time.Time { return fixedNow },
	}
}

var orderSeq int

func seedOrder(t *testing.T, deps *Deps, mutate func(o *model.Order)) *model.Order {
	t.Helper()
	orderSeq++
	completed := fixedNow.Add(-time.Hour)
	o := &model.Order{
		OrderNo:       fmt.Sprintf("SO-%d", orderSeq),
		CustomerID:    42,
		Status:        model.OrderStatusCompleted,
		Total:         11500,
		ShippingTotal: 1000,
		TaxTotal:      500,
		ShipCountry:   "US",
		ShipState:     "CA",
		ShipZip:       "94105",
		ShipCity:      "San Francisco",
		ShipStreet:    "1 Market St",
		CompletedAt:   &completed,
		Items: []model.OrderItem{
			{ProductID: "SKU-1", Description: "widget", Quantity: 2, UnitPrice: 5000, SalesTax: 500},
		},
	}
	if mutate != nil {
		mutate(o)
	}
	if err := deps.Orders.Create(context.Background(), nil, o); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func enqueue(t *testing.T, deps *Deps, recordID int64, recordType string, force bool) *model.QueueEntry {
	t.Helper()
	batch := int64(1)
	e := &model.QueueEntry{
		RecordID:   recordID,
		RecordType: recordType,
		Status:     model.QueueStatusAwaiting,
		ForcePush:  force,
		BatchID:    &batch,
	}
	if err := deps.Queue.Create(context.Background(), nil, e); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return e
}

func mustRecord(t *testing.T, deps *Deps, e *model.QueueEntry) Record {
	t.Helper()
	r, err := FromQueueEntry(deps, e)
	if err != nil {
		t.Fatalf("FromQueueEntry: %v", err)
	}
	return r
}

func reloadEntry(t *testing.T, deps *Deps, queueID int64) *model.QueueEntry {
	t.Helper()
	e, err := deps.Queue.GetByID(context.Background(), queueID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	return e
}

func TestSyncPushesAndCommitsMeta(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	deps := newDeps(t, client)
	order := seedOrder(t, deps, nil)
	entry := enqueue(t, deps, order.ID, model.RecordTypeOrder, false)

	if ok := mustRecord(t, deps, entry).Sync(ctx); !ok {
		t.Fatalf("Sync returned false")
	}
	if client.upsertCount() != 1 {
		t.Fatalf("remote calls=%d want 1", client.upsertCount())
	}

	txn := client.upserts[0]
	if txn.Amount != 110 || txn.Shipping != 10 || txn.SalesTax != 5 {
		t.Fatalf("amounts=%v/%v/%v want 110/10/5", txn.Amount, txn.Shipping, txn.SalesTax)
	}
	if len(txn.LineItems) != 1 || txn.LineItems[0].UnitPrice != 50 {
		t.Fatalf("line items=%+v", txn.LineItems)
	}

	if got := reloadEntry(t, deps, entry.QueueID); got.Status != model.QueueStatusCompleted {
		t.Fatalf("queue status=%s want completed", got.Status)
	}
	stored, err := deps.Orders.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.TaxSyncHash != HashTransaction(txn) {
		t.Fatalf("stored hash=%q want %q", stored.TaxSyncHash, HashTransaction(txn))
	}
	if stored.TaxLastSync == nil || !stored.TaxLastSync.Equal(fixedNow) {
		t.Fatalf("last sync=%v want %v", stored.TaxLastSync, fixedNow)
	}

	msgs, err := deps.Outbox.GetPendingMessages(ctx, 10)
	if err != nil {
		t.Fatalf("GetPendingMessages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Topic != "tax_sync.result" {
		t.Fatalf("outbox=%+v want one result message", msgs)
	}
}

func TestSyncUnchangedContentIsNoop(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	deps := newDeps(t, client)
	order := seedOrder(t, deps, nil)

	first := enqueue(t, deps, order.ID, model.RecordTypeOrder, false)
	if !mustRecord(t, deps, first).Sync(ctx) {
		t.Fatalf("first sync failed")
	}

	// 时间往后走，确认 no-op 不会改写 last_sync_time
	deps.Now = func() time.Time { return fixedNow.Add(time.Hour) }
	second := enqueue(t, deps, order.ID, model.RecordTypeOrder, false)
	if !mustRecord(t, deps, second).Sync(ctx) {
		t.Fatalf("unchanged sync should report success")
	}

	if client.upsertCount() != 1 {
		t.Fatalf("remote calls=%d want 1", client.upsertCount())
	}
	if got := reloadEntry(t, deps, second.QueueID); got.IsActive() {
		t.Fatalf("no-op sync should leave the active set, status=%s", got.Status)
	}
	stored, _ := deps.Orders.GetByID(ctx, order.ID)
	if stored.TaxLastSync == nil || !stored.TaxLastSync.Equal(fixedNow) {
		t.Fatalf("last sync=%v, should stay %v", stored.TaxLastSync, fixedNow)
	}
}

func TestSyncForcePushCallsRemoteWhenUnchanged(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	deps := newDeps(t, client)
	order := seedOrder(t, deps, nil)

	if !mustRecord(t, deps, enqueue(t, deps, order.ID, model.RecordTypeOrder, false)).Sync(ctx) {
		t.Fatalf("first sync failed")
	}
	forced := enqueue(t, deps, order.ID, model.RecordTypeOrder, true)
	if !mustRecord(t, deps, forced).Sync(ctx) {
		t.Fatalf("forced sync failed")
	}
	if client.upsertCount() != 2 {
		t.Fatalf("remote calls=%d want 2", client.upsertCount())
	}
}

func TestSyncMissingObjectLeavesAwaiting(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	deps := newDeps(t, client)
	entry := enqueue(t, deps, 9999, model.RecordTypeOrder, false)

	r := mustRecord(t, deps, entry)
	if r.Sync(ctx) {
		t.Fatalf("Sync on missing order should fail")
	}
	if err := r.LoadObject(ctx); !errors.Is(err, ErrObjectNotLoaded) {
		t.Fatalf("LoadObject err=%v want ErrObjectNotLoaded", err)
	}
	if client.upsertCount() != 0 {
		t.Fatalf("remote should not be called")
	}
	got := reloadEntry(t, deps, entry.QueueID)
	if got.Status != model.QueueStatusAwaiting || got.RetryCount != 1 {
		t.Fatalf("entry=%s/%d want awaiting/1", got.Status, got.RetryCount)
	}
}

func TestSyncRemoteFailure(t *testing.T) {
	cases := []struct {
		name       string
		maxRetries int
		want       string
	}{
		{"retry later", 3, model.QueueStatusAwaiting},
		{"retries exhausted", 1, model.QueueStatusError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			client := &fakeClient{fail: map[string]error{}}
			deps := newDeps(t, client)
			deps.Options.MaxRetries = tc.maxRetries
			order := seedOrder(t, deps, nil)
			client.fail[fmt.Sprintf("order:%d", order.ID)] = &taxapi.APIError{StatusCode: 500, Body: "boom"}
			entry := enqueue(t, deps, order.ID, model.RecordTypeOrder, false)

			r := mustRecord(t, deps, entry)
			if r.Sync(ctx) {
				t.Fatalf("Sync should fail")
			}
			got := reloadEntry(t, deps, entry.QueueID)
			if got.Status != tc.want {
				t.Fatalf("status=%s want %s", got.Status, tc.want)
			}
			if got.LastError == "" {
				t.Fatalf("last_error not recorded")
			}
			if r.Status() != tc.want {
				t.Fatalf("in-memory status=%s want %s", r.Status(), tc.want)
			}
			stored, _ := deps.Orders.GetByID(ctx, order.ID)
			if stored.WasSynced() {
				t.Fatalf("failed sync must not write meta")
			}
		})
	}
}

func TestSyncIneligibleOrder(t *testing.T) {
	cases := map[string]func(o *model.Order){
		"processing":          func(o *model.Order) { o.Status = model.OrderStatusProcessing },
		"unsupported country": func(o *model.Order) { o.ShipCountry = "DE" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			client := &fakeClient{}
			deps := newDeps(t, client)
			order := seedOrder(t, deps, mutate)
			entry := enqueue(t, deps, order.ID, model.RecordTypeOrder, true)

			r := mustRecord(t, deps, entry)
			if r.ShouldSync(ctx, false) {
				t.Fatalf("ShouldSync should be false")
			}
			if r.Sync(ctx) {
				t.Fatalf("Sync should report ineligible")
			}
			if client.upsertCount() != 0 {
				t.Fatalf("remote should not be called")
			}
			if got := reloadEntry(t, deps, entry.QueueID); got.IsActive() {
				t.Fatalf("ineligible entry should leave the active set")
			}
		})
	}
}

func TestShouldSyncIgnoreStatus(t *testing.T) {
	deps := newDeps(t, &fakeClient{})
	order := seedOrder(t, deps, func(o *model.Order) { o.Status = model.OrderStatusCancelled })

	r := NewOrderRecord(deps, order.ID)
	if r.ShouldSync(context.Background(), false) {
		t.Fatalf("cancelled order should not sync normally")
	}
	if !r.ShouldSync(context.Background(), true) {
		t.Fatalf("cancelled order should pass when status is ignored")
	}
}

func TestRefundPayload(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	deps := newDeps(t, client)
	order := seedOrder(t, deps, func(o *model.Order) { o.Status = model.OrderStatusRefunded })
	refund := &model.Refund{
		RefundNo:      "RF-1",
		OrderID:       order.ID,
		Status:        model.RefundStatusCompleted,
		Amount:        2100,
		ShippingTotal: 0,
		TaxTotal:      100,
	}
	if err := deps.Orders.CreateRefund(ctx, nil, refund); err != nil {
		t.Fatalf("create refund: %v", err)
	}

	entry := enqueue(t, deps, refund.ID, model.RecordTypeRefund, false)
	if !mustRecord(t, deps, entry).Sync(ctx) {
		t.Fatalf("refund sync failed")
	}
	txn := client.upserts[0]
	if txn.Type != taxapi.TransactionTypeRefund {
		t.Fatalf("type=%s want refund", txn.Type)
	}
	if txn.TransactionReferenceID != fmt.Sprint(order.ID) {
		t.Fatalf("reference id=%s want %d", txn.TransactionReferenceID, order.ID)
	}
	if txn.Amount != -20 || txn.SalesTax != -1 {
		t.Fatalf("amount=%v sales_tax=%v want -20/-1", txn.Amount, txn.SalesTax)
	}
	if txn.ToState != "CA" {
		t.Fatalf("refund should use parent address, got %q", txn.ToState)
	}
}

func TestRefundIneligibleWhenPending(t *testing.T) {
	ctx := context.Background()
	deps := newDeps(t, &fakeClient{})
	order := seedOrder(t, deps, nil)
	refund := &model.Refund{RefundNo: "RF-2", OrderID: order.ID, Status: model.RefundStatusPending, Amount: 100}
	if err := deps.Orders.CreateRefund(ctx, nil, refund); err != nil {
		t.Fatalf("create refund: %v", err)
	}
	if NewRefundRecord(deps, refund.ID).ShouldSync(ctx, false) {
		t.Fatalf("pending refund should not sync")
	}
}

func TestDeleteInTaxAPIClearsMeta(t *testing.T) {
	ctx := context.Background()
	client := &fakeClient{}
	deps := newDeps(t, client)
	order := seedOrder(t, deps, nil)
	if !mustRecord(t, deps, enqueue(t, deps, order.ID, model.RecordTypeOrder, false)).Sync(ctx) {
		t.Fatalf("sync failed")
	}

	r := NewOrderRecord(deps, order.ID)
	if err := r.LoadObject(ctx); err != nil {
		t.Fatalf("LoadObject: %v", err)
	}
	if !r.WasSynced() {
		t.Fatalf("record should report synced")
	}
	if !r.DeleteInTaxAPI(ctx) {
		t.Fatalf("DeleteInTaxAPI failed")
	}
	if len(client.deletes) != 1 || client.deletes[0] != fmt.Sprintf("order:%d", order.ID) {
		t.Fatalf("deletes=%v", client.deletes)
	}
	if r.WasSynced() {
		t.Fatalf("in-memory meta should be cleared")
	}
	stored, _ := deps.Orders.GetByID(ctx, order.ID)
	if stored.WasSynced() {
		t.Fatalf("stored meta should be cleared")
	}
}

func TestDeleteRemovesQueueRow(t *testing.T) {
	ctx := context.Background()
	deps := newDeps(t, &fakeClient{})
	entry := enqueue(t, deps, 1, model.RecordTypeOrder, false)

	if err := mustRecord(t, deps, entry).Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := deps.Queue.GetByID(ctx, entry.QueueID); !errors.Is(err, repository.ErrQueueEntryNotFound) {
		t.Fatalf("GetByID err=%v want ErrQueueEntryNotFound", err)
	}
}

func TestSaveCreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	deps := newDeps(t, &fakeClient{})

	r := NewOrderRecord(deps, 5)
	if err := r.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if r.QueueID() == 0 {
		t.Fatalf("queue id not assigned")
	}
	r.SetStatus(model.QueueStatusAwaiting)
	if err := r.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := reloadEntry(t, deps, r.QueueID()); got.Status != model.QueueStatusAwaiting {
		t.Fatalf("status=%s want awaiting", got.Status)
	}
}

func TestFromQueueEntryUnknownType(t *testing.T) {
	_, err := FromQueueEntry(&Deps{}, &model.QueueEntry{QueueID: 1, RecordType: "coupon"})
	if !errors.Is(err, ErrUnknownRecordType) {
		t.Fatalf("err=%v want ErrUnknownRecordType", err)
	}
}

func TestHashTransactionDetectsChanges(t *testing.T) {
	a := &taxapi.Transaction{TransactionID: "1", Type: taxapi.TransactionTypeOrder, Amount: 10}
	b := &taxapi.Transaction{TransactionID: "1", Type: taxapi.TransactionTypeOrder, Amount: 10}
	if HashTransaction(a) != HashTransaction(b) {
		t.Fatalf("equal payloads must hash equal")
	}
	b.Amount = 11
	if HashTransaction(a) == HashTransaction(b) {
		t.Fatalf("amount change must change hash")
	}
	c := *a
	c.Type = taxapi.TransactionTypeRefund
	if HashTransaction(a) == HashTransaction(&c) {
		t.Fatalf("type must be part of the hash")
	}
}
