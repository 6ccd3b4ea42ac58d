package model

import (
	"time"
)

const (
	RefundStatusPending   = "pending"
	RefundStatusCompleted = "completed"
	RefundStatusFailed    = "failed"
)

// Refund 退款单，挂在父订单下，金额为正数
type Refund struct {
	ID            int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	RefundNo      string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"refund_no"`
	OrderID       int64      `gorm:"index;not null" json:"order_id"`
	Status        string     `gorm:"type:varchar(20);index;not null" json:"status"`
	Amount        int64      `gorm:"not null;default:0" json:"amount"`
	ShippingTotal int64      `gorm:"not null;default:0" json:"shipping_total"`
	TaxTotal      int64      `gorm:"not null;default:0" json:"tax_total"`
	Reason        string     `gorm:"type:varchar(256)" json:"reason"`
	TaxSyncHash   string     `gorm:"type:varchar(32)" json:"tax_sync_hash"`
	TaxLastSync   *time.Time `json:"tax_last_sync"`
	CreatedAt     time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Refund) TableName() string {
	return "shop_refund"
}

func (r *Refund) WasSynced() bool {
	return r.TaxLastSync != nil || r.TaxSyncHash != ""
}
