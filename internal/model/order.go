package model

import (
	"time"
)

// 订单状态（宿主电商系统）
const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusOnHold     = "on-hold"
	OrderStatusCompleted  = "completed"
	OrderStatusRefunded   = "refunded"
	OrderStatusCancelled  = "cancelled"
	OrderStatusFailed     = "failed"
)

// SyncableOrderStatuses 只有这些状态的订单才会推送到税务服务
var SyncableOrderStatuses = []string{OrderStatusCompleted, OrderStatusRefunded}

func IsSyncableOrderStatus(status string) bool {
	for _, s := range SyncableOrderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Order 订单表（宿主系统的订单，本服务只读业务字段，只写同步元数据）
//
// 金额统一用分（int64），与宿主系统保持一致。
// TaxSyncHash / TaxLastSync 是同步元数据：记录"最后一次成功推送的内容"，
// 与队列表分开存储。队列表记录还有什么待处理，这里记录最后推送了什么。
type Order struct {
	ID            int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNo       string      `gorm:"type:varchar(64);uniqueIndex;not null" json:"order_no"`
	CustomerID    int64       `gorm:"index" json:"customer_id"`
	Status        string      `gorm:"type:varchar(20);index;not null" json:"status"`
	Currency      string      `gorm:"type:varchar(8);not null;default:USD" json:"currency"`
	Total         int64       `gorm:"not null;default:0" json:"total"`
	ShippingTotal int64       `gorm:"not null;default:0" json:"shipping_total"`
	TaxTotal      int64       `gorm:"not null;default:0" json:"tax_total"`
	ShipCountry   string      `gorm:"type:varchar(2)" json:"ship_country"`
	ShipState     string      `gorm:"type:varchar(32)" json:"ship_state"`
	ShipZip       string      `gorm:"type:varchar(16)" json:"ship_zip"`
	ShipCity      string      `gorm:"type:varchar(64)" json:"ship_city"`
	ShipStreet    string      `gorm:"type:varchar(128)" json:"ship_street"`
	CompletedAt   *time.Time  `gorm:"index" json:"completed_at"`
	TaxSyncHash   string      `gorm:"type:varchar(32)" json:"tax_sync_hash"`
	TaxLastSync   *time.Time  `gorm:"index" json:"tax_last_sync"`
	Items         []OrderItem `gorm:"foreignKey:OrderID" json:"items"`
	CreatedAt     time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time   `gorm:"autoUpdateTime;index" json:"updated_at"`
}

func (Order) TableName() string {
	return "shop_order"
}

// OrderItem 订单行
type OrderItem struct {
	ID             int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID        int64  `gorm:"index;not null" json:"order_id"`
	ProductID      string `gorm:"type:varchar(64)" json:"product_id"`
	Description    string `gorm:"type:varchar(256)" json:"description"`
	ProductTaxCode string `gorm:"type:varchar(32)" json:"product_tax_code"`
	Quantity       int64  `gorm:"not null;default:1" json:"quantity"`
	UnitPrice      int64  `gorm:"not null;default:0" json:"unit_price"`
	Discount       int64  `gorm:"not null;default:0" json:"discount"`
	SalesTax       int64  `gorm:"not null;default:0" json:"sales_tax"`
}

func (OrderItem) TableName() string {
	return "shop_order_item"
}

// WasSynced 是否曾经成功推送过
func (o *Order) WasSynced() bool {
	return o.TaxLastSync != nil || o.TaxSyncHash != ""
}
