package record

import (
	"context"
	"fmt"

	"taxsync/internal/model"
)

// FromQueueEntry 由队列行还原记录
func FromQueueEntry(deps *Deps, entry *model.QueueEntry) (Record, error) {
	switch entry.RecordType {
	case model.RecordTypeOrder:
		return newOrderRecord(deps, entry), nil
	case model.RecordTypeRefund:
		return newRefundRecord(deps, entry), nil
	default:
		return nil, fmt.Errorf("%w: %q (queue_id=%d)", ErrUnknownRecordType, entry.RecordType, entry.QueueID)
	}
}

// FindActiveOrder 订单当前的活跃记录，没有返回 nil
func FindActiveOrder(ctx context.Context, deps *Deps, orderID int64) (*OrderRecord, error) {
	entry, err := deps.Queue.FindActiveInQueue(ctx, orderID, model.RecordTypeOrder)
	if err != nil || entry == nil {
		return nil, err
	}
	return newOrderRecord(deps, entry), nil
}

// FindActiveRefund 退款当前的活跃记录，没有返回 nil
func FindActiveRefund(ctx context.Context, deps *Deps, refundID int64) (*RefundRecord, error) {
	entry, err := deps.Queue.FindActiveInQueue(ctx, refundID, model.RecordTypeRefund)
	if err != nil || entry == nil {
		return nil, err
	}
	return newRefundRecord(deps, entry), nil
}

// OrderRecordFor 有活跃记录就复用，否则新建一条未入队的记录
func OrderRecordFor(ctx context.Context, deps *Deps, orderID int64) (*OrderRecord, error) {
	r, err := FindActiveOrder(ctx, deps, orderID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		r = NewOrderRecord(deps, orderID)
	}
	return r, nil
}

func RefundRecordFor(ctx context.Context, deps *Deps, refundID int64) (*RefundRecord, error) {
	r, err := FindActiveRefund(ctx, deps, refundID)
	if err != nil {
		return nil, err
	}
	if r == nil {
		r = NewRefundRecord(deps, refundID)
	}
	return r, nil
}
