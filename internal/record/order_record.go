package record

import (
	"context"
	"strconv"
	"time"

	"taxsync/internal/infrastructure/taxapi"
	"taxsync/internal/model"

	"gorm.io/gorm"
)

// OrderRecord 订单同步记录
type OrderRecord struct {
	*baseRecord
	order *model.Order
}

// NewOrderRecord 还没入队的新记录
func NewOrderRecord(deps *Deps, orderID int64) *OrderRecord {
	return newOrderRecord(deps, &model.QueueEntry{
		RecordID:   orderID,
		RecordType: model.RecordTypeOrder,
		Status:     model.QueueStatusNew,
	})
}

func newOrderRecord(deps *Deps, entry *model.QueueEntry) *OrderRecord {
	r := &OrderRecord{baseRecord: newBase(deps, entry)}
	r.target = r
	return r
}

// Order 已加载的订单，未加载时为 nil
func (r *OrderRecord) Order() *model.Order { return r.order }

// CompletedAt 订单完成时间
func (r *OrderRecord) CompletedAt() *time.Time {
	if r.order == nil {
		return nil
	}
	return r.order.CompletedAt
}

func (r *OrderRecord) load(ctx context.Context) error {
	order, err := r.deps.Orders.GetByID(ctx, r.RecordID())
	if err != nil {
		return err
	}
	r.order = order
	return nil
}

func (r *OrderRecord) loaded() bool { return r.order != nil }

func (r *OrderRecord) eligible(ignoreStatus bool, countries []string) bool {
	if !ignoreStatus && !model.IsSyncableOrderStatus(r.order.Status) {
		return false
	}
	return countrySupported(r.order.ShipCountry, countries)
}

func (r *OrderRecord) transactionID() string {
	return strconv.FormatInt(r.RecordID(), 10)
}

func (r *OrderRecord) transaction() *taxapi.Transaction {
	o := r.order
	date := o.CreatedAt
	if o.CompletedAt != nil {
		date = *o.CompletedAt
	}

	txn := &taxapi.Transaction{
		TransactionID:   r.transactionID(),
		Type:            taxapi.TransactionTypeOrder,
		TransactionDate: date.UTC().Format(time.RFC3339),
		Provider:        "api",
		ToCountry:       o.ShipCountry,
		ToState:         o.ShipState,
		ToZip:           o.ShipZip,
		ToCity:          o.ShipCity,
		ToStreet:        o.ShipStreet,
		// 订单金额含运费、不含税
		Amount:   cents(o.Total - o.TaxTotal),
		Shipping: cents(o.ShippingTotal),
		SalesTax: cents(o.TaxTotal),
	}
	if o.CustomerID != 0 {
		txn.CustomerID = strconv.FormatInt(o.CustomerID, 10)
	}
	for _, item := range o.Items {
		txn.LineItems = append(txn.LineItems, taxapi.LineItem{
			ID:                strconv.FormatInt(item.ID, 10),
			Quantity:          item.Quantity,
			ProductIdentifier: item.ProductID,
			Description:       item.Description,
			ProductTaxCode:    item.ProductTaxCode,
			UnitPrice:         cents(item.UnitPrice),
			Discount:          cents(item.Discount),
			SalesTax:          cents(item.SalesTax),
		})
	}
	return txn
}

func (r *OrderRecord) storedHash() string {
	if r.order == nil {
		return ""
	}
	return r.order.TaxSyncHash
}

func (r *OrderRecord) lastSync() *time.Time {
	if r.order == nil {
		return nil
	}
	return r.order.TaxLastSync
}

func (r *OrderRecord) setMeta(hash string, syncedAt *time.Time) {
	if r.order == nil {
		return
	}
	r.order.TaxSyncHash = hash
	r.order.TaxLastSync = syncedAt
}

func (r *OrderRecord) writeMeta(ctx context.Context, tx *gorm.DB, hash string, syncedAt *time.Time) error {
	return r.deps.Orders.UpdateOrderSyncMeta(ctx, tx, r.RecordID(), hash, syncedAt)
}
