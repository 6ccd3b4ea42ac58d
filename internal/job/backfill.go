package job

import (
	"context"
	"fmt"
	"time"

	"taxsync/internal/model"
	"taxsync/internal/repository"

	"go.uber.org/zap"
)

// BackfillOptions 回补参数，Start/End 为零值时取当天
type BackfillOptions struct {
	Start time.Time
	End   time.Time
	Force bool
}

// Backfiller 按业务库状态补录漏掉的记录
//
// 非强制模式只挑从未同步或同步后又被修改的订单；强制模式挑窗口内全部已完成订单，
// 并把已在队列里的记录标记为强制推送。
type Backfiller struct {
	orderRepo *repository.OrderRepository
	queueRepo *repository.QueueRepository
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger
}

func NewBackfiller(orderRepo *repository.OrderRepository, queueRepo *repository.QueueRepository, loc *time.Location, logger *zap.Logger) *Backfiller {
	if loc == nil {
		loc = time.Local
	}
	return &Backfiller{
		orderRepo: orderRepo,
		queueRepo: queueRepo,
		loc:       loc,
		now:       time.Now,
		logger:    logger,
	}
}

// TodayWindow 本地日界的 [今天 00:00, 明天 00:00)
func (b *Backfiller) TodayWindow() (time.Time, time.Time) {
	now := b.now().In(b.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, b.loc)
	return start, start.AddDate(0, 0, 1)
}

// Backfill 返回纳入考虑的订单数
func (b *Backfiller) Backfill(ctx context.Context, opts BackfillOptions) (int, error) {
	start, end := opts.Start, opts.End
	if start.IsZero() || end.IsZero() {
		start, end = b.TodayWindow()
	}
	if !end.After(start) {
		return 0, fmt.Errorf("回补窗口不合法: [%s, %s)", start.Format(time.DateOnly), end.Format(time.DateOnly))
	}

	orderIDs, err := b.orderRepo.FindCompletedOrderIDs(ctx, start, end, !opts.Force)
	if err != nil {
		return 0, fmt.Errorf("查询已完成订单失败: %w", err)
	}
	refundIDs, err := b.orderRepo.FindCompletedRefundIDs(ctx, orderIDs)
	if err != nil {
		return 0, fmt.Errorf("查询已完成退款失败: %w", err)
	}

	insertedOrders, err := b.enqueue(ctx, orderIDs, model.RecordTypeOrder, opts.Force)
	if err != nil {
		return 0, err
	}
	insertedRefunds, err := b.enqueue(ctx, refundIDs, model.RecordTypeRefund, opts.Force)
	if err != nil {
		return 0, err
	}

	b.logger.Info("回补完成",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Bool("force", opts.Force),
		zap.Int("orders", len(orderIDs)),
		zap.Int("refunds", len(refundIDs)),
		zap.Int("inserted_orders", insertedOrders),
		zap.Int("inserted_refunds", insertedRefunds))
	return len(orderIDs), nil
}

// enqueue 只插入不在活跃队列里的 id；强制模式下已在队列里的改为强制推送
func (b *Backfiller) enqueue(ctx context.Context, recordIDs []int64, recordType string, force bool) (int, error) {
	if len(recordIDs) == 0 {
		return 0, nil
	}

	active, err := b.queueRepo.GetAllActiveRecordIDsInQueue(ctx, recordType)
	if err != nil {
		return 0, fmt.Errorf("查询活跃队列失败: %w", err)
	}
	activeSet := make(map[int64]struct{}, len(active))
	for _, ref := range active {
		activeSet[ref.RecordID] = struct{}{}
	}

	var fresh, existing []int64
	for _, id := range recordIDs {
		if _, ok := activeSet[id]; ok {
			existing = append(existing, id)
		} else {
			fresh = append(fresh, id)
		}
	}

	inserted, err := b.queueRepo.BulkInsertAwaiting(ctx, fresh, recordType, force)
	if err != nil {
		return 0, fmt.Errorf("批量插入队列失败: %w", err)
	}

	if force && len(existing) > 0 {
		if _, err := b.queueRepo.SetForcePush(ctx, existing, recordType); err != nil {
			return inserted, fmt.Errorf("标记强制推送失败: %w", err)
		}
	}
	return inserted, nil
}
