package repository

import (
	"context"
	"errors"
	"time"

	"taxsync/internal/model"

	"gorm.io/gorm"
)

var (
	ErrOrderNotFound  = errors.New("订单不存在")
	ErrRefundNotFound = errors.New("退款单不存在")
)

// OrderRepository 宿主系统订单/退款的读取，以及同步元数据的写入
type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, tx *gorm.DB, order *model.Order) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(order).Error
}

func (r *OrderRepository) CreateRefund(ctx context.Context, tx *gorm.DB, refund *model.Refund) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(refund).Error
}

func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) GetRefundByID(ctx context.Context, id int64) (*model.Refund, error) {
	var refund model.Refund
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&refund).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRefundNotFound
		}
		return nil, err
	}
	return &refund, nil
}

func (r *OrderRepository) ListRefunds(ctx context.Context, orderID int64) ([]*model.Refund, error) {
	var refunds []*model.Refund
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Find(&refunds).Error
	return refunds, err
}

// UpdateOrderSyncMeta 写同步元数据。hash 为空、syncedAt 为 nil 表示清除
// 用 UpdateColumns 避免刷新 updated_at，否则回补会把刚同步的订单当成"同步后又被修改"
func (r *OrderRepository) UpdateOrderSyncMeta(ctx context.Context, tx *gorm.DB, id int64, hash string, syncedAt *time.Time) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Order{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"tax_sync_hash": hash,
			"tax_last_sync": syncedAt,
		}).Error
}

func (r *OrderRepository) UpdateRefundSyncMeta(ctx context.Context, tx *gorm.DB, id int64, hash string, syncedAt *time.Time) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).
		Model(&model.Refund{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"tax_sync_hash": hash,
			"tax_last_sync": syncedAt,
		}).Error
}

// FindCompletedOrderIDs 在 [start, end) 内完成的订单
// onlyStale 为 true 时只返回从未同步过、或同步后又被修改过的订单
func (r *OrderRepository) FindCompletedOrderIDs(ctx context.Context, start, end time.Time, onlyStale bool) ([]int64, error) {
	query := r.db.WithContext(ctx).
		Model(&model.Order{}).
		Where("completed_at >= ? AND completed_at < ?", start, end)
	if onlyStale {
		query = query.Where("tax_last_sync IS NULL OR updated_at > tax_last_sync")
	}

	var ids []int64
	err := query.Order("id ASC").Pluck("id", &ids).Error
	return ids, err
}

// FindCompletedRefundIDs 给定订单下已完成的退款
func (r *OrderRepository) FindCompletedRefundIDs(ctx context.Context, orderIDs []int64) ([]int64, error) {
	if len(orderIDs) == 0 {
		return nil, nil
	}
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&model.Refund{}).
		Where("order_id IN ? AND status = ?", orderIDs, model.RefundStatusCompleted).
		Order("id ASC").
		Pluck("id", &ids).Error
	return ids, err
}
