// Package event 订单生命周期事件与进程内事件总线
package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// 事件类型，同时也是 Kafka/HTTP 接入时的 type 字段
const (
	TypeOrderCreated   = "order.created"
	TypeOrderUpdated   = "order.updated"
	TypeRefundCreated  = "refund.created"
	TypeOrderCancelled = "order.cancelled"
	TypePostTrashed    = "post.trashed"
	TypePostDeleted    = "post.deleted"
)

// 被删除/移入回收站的对象类型
const (
	PostTypeOrder  = "order"
	PostTypeRefund = "refund"
)

var (
	ErrUnknownEvent = errors.New("未知的事件类型")
	ErrInvalidEvent = errors.New("事件缺少有效的对象 id")
)

type Event interface {
	Type() string
}

type OrderCreated struct{ OrderID int64 }
type OrderUpdated struct{ OrderID int64 }
type OrderCancelled struct{ OrderID int64 }

type RefundCreated struct {
	OrderID  int64
	RefundID int64
}

// PostTrashed 订单或退款被移入回收站
type PostTrashed struct {
	PostID   int64
	PostType string
}

// PostDeleted 订单或退款被永久删除
type PostDeleted struct {
	PostID   int64
	PostType string
}

func (OrderCreated) Type() string   { return TypeOrderCreated }
func (OrderUpdated) Type() string   { return TypeOrderUpdated }
func (OrderCancelled) Type() string { return TypeOrderCancelled }
func (RefundCreated) Type() string  { return TypeRefundCreated }
func (PostTrashed) Type() string    { return TypePostTrashed }
func (PostDeleted) Type() string    { return TypePostDeleted }

// Envelope 外部接入的统一格式
type Envelope struct {
	Type     string `json:"type" binding:"required"`
	OrderID  int64  `json:"order_id"`
	RefundID int64  `json:"refund_id"`
	PostType string `json:"post_type"`
}

func requireID(field string, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: %s=%d", ErrInvalidEvent, field, id)
	}
	return nil
}

// Decode 把外部格式转换成具体事件，事件需要的 id 必须大于 0
func (e Envelope) Decode() (Event, error) {
	switch e.Type {
	case TypeOrderCreated, TypeOrderUpdated, TypeOrderCancelled:
		if err := requireID("order_id", e.OrderID); err != nil {
			return nil, err
		}
		switch e.Type {
		case TypeOrderCreated:
			return OrderCreated{OrderID: e.OrderID}, nil
		case TypeOrderUpdated:
			return OrderUpdated{OrderID: e.OrderID}, nil
		}
		return OrderCancelled{OrderID: e.OrderID}, nil
	case TypeRefundCreated:
		if err := requireID("refund_id", e.RefundID); err != nil {
			return nil, err
		}
		return RefundCreated{OrderID: e.OrderID, RefundID: e.RefundID}, nil
	case TypePostTrashed, TypePostDeleted:
		id, postType, field := e.OrderID, PostTypeOrder, "order_id"
		if e.PostType == PostTypeRefund {
			id, postType, field = e.RefundID, PostTypeRefund, "refund_id"
		}
		if err := requireID(field, id); err != nil {
			return nil, err
		}
		if e.Type == TypePostTrashed {
			return PostTrashed{PostID: id, PostType: postType}, nil
		}
		return PostDeleted{PostID: id, PostType: postType}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, e.Type)
	}
}

// Handler 事件处理函数
type Handler func(ctx context.Context, ev Event) error

// Bus 同步分发：Publish 依次调用订阅者，收集所有错误
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish 没有订阅者时直接返回 nil
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[ev.Type()]...)
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
