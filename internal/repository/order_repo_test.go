package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"taxsync/internal/model"
	"taxsync/internal/testutil"
)

func TestGetByIDNotFound(t *testing.T) {
	repo := NewOrderRepository(testutil.NewDB(t))
	if _, err := repo.GetByID(context.Background(), 404); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("err=%v want ErrOrderNotFound", err)
	}
	if _, err := repo.GetRefundByID(context.Background(), 404); !errors.Is(err, ErrRefundNotFound) {
		t.Fatalf("err=%v want ErrRefundNotFound", err)
	}
}

func TestFindCompletedOrderIDs(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testutil.NewDB(t))

	day := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	inside := day.Add(3 * time.Hour)
	outside := day.Add(26 * time.Hour)
	synced := time.Now().Add(time.Hour)

	orders := []*model.Order{
		{OrderNo: "A", Status: model.OrderStatusCompleted, CompletedAt: &inside},
		{OrderNo: "B", Status: model.OrderStatusCompleted, CompletedAt: &outside},
		{OrderNo: "C", Status: model.OrderStatusCompleted, CompletedAt: &inside, TaxSyncHash: "h", TaxLastSync: &synced},
		{OrderNo: "D", Status: model.OrderStatusProcessing},
	}
	for _, o := range orders {
		if err := repo.Create(ctx, nil, o); err != nil {
			t.Fatalf("create order: %v", err)
		}
	}

	all, err := repo.FindCompletedOrderIDs(ctx, day, day.Add(24*time.Hour), false)
	if err != nil {
		t.Fatalf("FindCompletedOrderIDs: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all=%v want A and C", all)
	}

	stale, err := repo.FindCompletedOrderIDs(ctx, day, day.Add(24*time.Hour), true)
	if err != nil {
		t.Fatalf("FindCompletedOrderIDs stale: %v", err)
	}
	if len(stale) != 1 || stale[0] != orders[0].ID {
		t.Fatalf("stale=%v want [%d]", stale, orders[0].ID)
	}
}

func TestFindCompletedRefundIDs(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testutil.NewDB(t))
	order := &model.Order{OrderNo: "A", Status: model.OrderStatusRefunded}
	if err := repo.Create(ctx, nil, order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	done := &model.Refund{RefundNo: "R1", OrderID: order.ID, Status: model.RefundStatusCompleted}
	pending := &model.Refund{RefundNo: "R2", OrderID: order.ID, Status: model.RefundStatusPending}
	for _, r := range []*model.Refund{done, pending} {
		if err := repo.CreateRefund(ctx, nil, r); err != nil {
			t.Fatalf("create refund: %v", err)
		}
	}

	ids, err := repo.FindCompletedRefundIDs(ctx, []int64{order.ID})
	if err != nil {
		t.Fatalf("FindCompletedRefundIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != done.ID {
		t.Fatalf("ids=%v want [%d]", ids, done.ID)
	}

	ids, err = repo.FindCompletedRefundIDs(ctx, nil)
	if err != nil || ids != nil {
		t.Fatalf("empty input ids=%v err=%v", ids, err)
	}
}

func TestUpdateOrderSyncMetaSetAndClear(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository(testutil.NewDB(t))
	order := &model.Order{OrderNo: "A", Status: model.OrderStatusCompleted}
	if err := repo.Create(ctx, nil, order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	before, _ := repo.GetByID(ctx, order.ID)

	now := time.Now()
	if err := repo.UpdateOrderSyncMeta(ctx, nil, order.ID, "abc", &now); err != nil {
		t.Fatalf("UpdateOrderSyncMeta: %v", err)
	}
	got, _ := repo.GetByID(ctx, order.ID)
	if got.TaxSyncHash != "abc" || got.TaxLastSync == nil {
		t.Fatalf("meta not written: %+v", got)
	}
	if !got.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("updated_at changed: %v -> %v", before.UpdatedAt, got.UpdatedAt)
	}

	if err := repo.UpdateOrderSyncMeta(ctx, nil, order.ID, "", nil); err != nil {
		t.Fatalf("clear meta: %v", err)
	}
	got, _ = repo.GetByID(ctx, order.ID)
	if got.WasSynced() {
		t.Fatalf("meta not cleared: %+v", got)
	}
}
