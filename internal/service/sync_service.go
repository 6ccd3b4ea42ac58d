package service

import (
	"context"
	"errors"
	"fmt"

	"taxsync/internal/event"
	"taxsync/internal/model"
	"taxsync/internal/record"
	"taxsync/internal/repository"

	"go.uber.org/zap"
)

// ============================================================================
// 同步服务：订单生命周期事件 → 同步队列
// ============================================================================
//
// 【入队】订单创建/更新、退款创建：
//   已有活跃记录就什么都不做（重复事件只会落到同一行上）；
//   否则新建记录，满足同步条件才入队。曾经同步过的记录直接进 awaiting。
//
// 【删除】订单取消、订单/退款被移入回收站或永久删除：
//   曾经同步过，或者从未同步但订单有完成时间且忽略状态后仍满足条件，
//   就删除远端交易并删除队列行；订单会级联到它的所有退款。
//
// 两个并发的事件都看到"没有活跃记录"时可能各插一行，
// 同步时靠内容哈希保证第二次不会重复推送。
// ============================================================================

// 手动同步的结果
const (
	NoteStatusSuccess = "success"
	NoteStatusPartial = "partial"
	NoteStatusFailed  = "failed"
)

// SyncNote 手动同步返回给操作者的说明
type SyncNote struct {
	OrderID       int64   `json:"order_id"`
	Status        string  `json:"status"`
	Message       string  `json:"message"`
	SyncedRefunds []int64 `json:"synced_refunds,omitempty"`
	FailedRefunds []int64 `json:"failed_refunds,omitempty"`
}

type SyncService struct {
	deps      *record.Deps
	orderRepo *repository.OrderRepository
	logger    *zap.Logger
}

func NewSyncService(deps *record.Deps, logger *zap.Logger) *SyncService {
	return &SyncService{
		deps:      deps,
		orderRepo: deps.Orders,
		logger:    logger,
	}
}

// Register 订阅所有生命周期事件
func (s *SyncService) Register(bus *event.Bus) {
	for _, t := range []string{
		event.TypeOrderCreated,
		event.TypeOrderUpdated,
		event.TypeRefundCreated,
		event.TypeOrderCancelled,
		event.TypePostTrashed,
		event.TypePostDeleted,
	} {
		bus.Subscribe(t, s.HandleEvent)
	}
}

func (s *SyncService) HandleEvent(ctx context.Context, ev event.Event) error {
	switch e := ev.(type) {
	case event.OrderCreated:
		return s.OrderChanged(ctx, e.OrderID)
	case event.OrderUpdated:
		return s.OrderChanged(ctx, e.OrderID)
	case event.RefundCreated:
		return s.RefundCreated(ctx, e.RefundID)
	case event.OrderCancelled:
		return s.OrderCancelled(ctx, e.OrderID)
	case event.PostTrashed:
		return s.PostRemoved(ctx, e.PostID, e.PostType)
	case event.PostDeleted:
		return s.PostRemoved(ctx, e.PostID, e.PostType)
	default:
		return fmt.Errorf("%w: %s", event.ErrUnknownEvent, ev.Type())
	}
}

// OrderChanged 订单创建或更新
func (s *SyncService) OrderChanged(ctx context.Context, orderID int64) error {
	active, err := record.FindActiveOrder(ctx, s.deps, orderID)
	if err != nil {
		return fmt.Errorf("查询活跃队列失败: %w", err)
	}
	if active != nil {
		return nil
	}
	return s.enqueue(ctx, record.NewOrderRecord(s.deps, orderID))
}

// RefundCreated 退款创建
func (s *SyncService) RefundCreated(ctx context.Context, refundID int64) error {
	active, err := record.FindActiveRefund(ctx, s.deps, refundID)
	if err != nil {
		return fmt.Errorf("查询活跃队列失败: %w", err)
	}
	if active != nil {
		return nil
	}
	return s.enqueue(ctx, record.NewRefundRecord(s.deps, refundID))
}

func (s *SyncService) enqueue(ctx context.Context, rec record.Record) error {
	if err := rec.LoadObject(ctx); err != nil {
		return err
	}
	if !rec.ShouldSync(ctx, false) {
		return nil
	}
	if rec.WasSynced() {
		rec.SetStatus(model.QueueStatusAwaiting)
	}
	if err := rec.Save(ctx); err != nil {
		return fmt.Errorf("写入同步队列失败: %w", err)
	}
	s.logger.Debug("记录已入队",
		zap.Int64("record_id", rec.RecordID()),
		zap.String("record_type", rec.Type()),
		zap.String("status", rec.Status()))
	return nil
}

// OrderCancelled 订单取消
func (s *SyncService) OrderCancelled(ctx context.Context, orderID int64) error {
	return s.removeOrder(ctx, orderID)
}

// PostRemoved 订单或退款被移入回收站/永久删除，订单和退款分别判断
func (s *SyncService) PostRemoved(ctx context.Context, postID int64, postType string) error {
	switch postType {
	case event.PostTypeRefund:
		return s.removeRefund(ctx, postID, nil)
	case event.PostTypeOrder, "":
		return s.removeOrder(ctx, postID)
	default:
		return nil
	}
}

func (s *SyncService) removeOrder(ctx context.Context, orderID int64) error {
	rec, err := record.OrderRecordFor(ctx, s.deps, orderID)
	if err != nil {
		return fmt.Errorf("查询活跃队列失败: %w", err)
	}

	if loadErr := rec.LoadObject(ctx); loadErr != nil {
		// 对象已经不存在，只能按记录 id 尝试删除远端交易（远端 404 视为成功）
		s.logger.Warn("删除时订单已不存在", zap.Int64("order_id", orderID), zap.Error(loadErr))
		rec.DeleteInTaxAPI(ctx)
		return rec.Delete(ctx)
	}

	var errs []error
	if s.needsRemoteDelete(ctx, rec, rec.CompletedAt() != nil) {
		if !rec.DeleteInTaxAPI(ctx) {
			errs = append(errs, fmt.Errorf("删除订单 %d 的远端交易失败", orderID))
		}
	}
	if err := rec.Delete(ctx); err != nil {
		errs = append(errs, err)
	}

	refunds, err := s.orderRepo.ListRefunds(ctx, orderID)
	if err != nil {
		errs = append(errs, fmt.Errorf("查询退款失败: %w", err))
		return errors.Join(errs...)
	}
	for _, refund := range refunds {
		if err := s.removeRefund(ctx, refund.ID, rec.Order()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// removeRefund parent 为 nil 时使用退款记录加载时带出的父订单
func (s *SyncService) removeRefund(ctx context.Context, refundID int64, parent *model.Order) error {
	rec, err := record.RefundRecordFor(ctx, s.deps, refundID)
	if err != nil {
		return fmt.Errorf("查询活跃队列失败: %w", err)
	}

	if loadErr := rec.LoadObject(ctx); loadErr != nil {
		s.logger.Warn("删除时退款已不存在", zap.Int64("refund_id", refundID), zap.Error(loadErr))
		rec.DeleteInTaxAPI(ctx)
		return rec.Delete(ctx)
	}

	if parent == nil {
		parent = rec.Parent()
	}
	completed := parent != nil && parent.CompletedAt != nil

	var errs []error
	if s.needsRemoteDelete(ctx, rec, completed) {
		if !rec.DeleteInTaxAPI(ctx) {
			errs = append(errs, fmt.Errorf("删除退款 %d 的远端交易失败", refundID))
		}
	}
	if err := rec.Delete(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// needsRemoteDelete 曾经同步过；或从未同步但订单已完成且忽略状态后仍满足同步条件
func (s *SyncService) needsRemoteDelete(ctx context.Context, rec record.Record, orderCompleted bool) bool {
	if rec.WasSynced() {
		return true
	}
	return orderCompleted && rec.ShouldSync(ctx, true)
}

// SyncOrderNow 立即强制同步订单及其全部已完成退款
// 返回 error 只表示查询失败，同步本身的结果在 SyncNote 里
func (s *SyncService) SyncOrderNow(ctx context.Context, orderID int64) (*SyncNote, error) {
	if _, err := s.orderRepo.GetByID(ctx, orderID); err != nil {
		return nil, err
	}

	rec, err := record.OrderRecordFor(ctx, s.deps, orderID)
	if err != nil {
		return nil, fmt.Errorf("查询活跃队列失败: %w", err)
	}
	rec.SetForcePush(true)

	note := &SyncNote{OrderID: orderID}
	if !rec.Sync(ctx) {
		note.Status = NoteStatusFailed
		note.Message = fmt.Sprintf("订单 %d 同步失败，详情见日志", orderID)
		return note, nil
	}

	refunds, err := s.orderRepo.ListRefunds(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("查询退款失败: %w", err)
	}
	for _, refund := range refunds {
		if refund.Status != model.RefundStatusCompleted {
			continue
		}
		rr, err := record.RefundRecordFor(ctx, s.deps, refund.ID)
		if err != nil {
			return nil, fmt.Errorf("查询活跃队列失败: %w", err)
		}
		rr.SetForcePush(true)
		if rr.Sync(ctx) {
			note.SyncedRefunds = append(note.SyncedRefunds, refund.ID)
		} else {
			note.FailedRefunds = append(note.FailedRefunds, refund.ID)
		}
	}

	if len(note.FailedRefunds) > 0 {
		note.Status = NoteStatusPartial
		note.Message = fmt.Sprintf("订单 %d 已同步，但有 %d 笔退款同步失败: %v", orderID, len(note.FailedRefunds), note.FailedRefunds)
		return note, nil
	}
	note.Status = NoteStatusSuccess
	note.Message = fmt.Sprintf("订单 %d 及 %d 笔退款已同步到税务服务", orderID, len(note.SyncedRefunds))
	return note, nil
}
