package record

import (
	"context"
	"strconv"
	"time"

	"taxsync/internal/infrastructure/taxapi"
	"taxsync/internal/model"

	"gorm.io/gorm"
)

// RefundRecord 退款同步记录，地址和状态条件取自父订单
type RefundRecord struct {
	*baseRecord
	refund *model.Refund
	parent *model.Order
}

func NewRefundRecord(deps *Deps, refundID int64) *RefundRecord {
	return newRefundRecord(deps, &model.QueueEntry{
		RecordID:   refundID,
		RecordType: model.RecordTypeRefund,
		Status:     model.QueueStatusNew,
	})
}

func newRefundRecord(deps *Deps, entry *model.QueueEntry) *RefundRecord {
	r := &RefundRecord{baseRecord: newBase(deps, entry)}
	r.target = r
	return r
}

func (r *RefundRecord) Refund() *model.Refund { return r.refund }

// Parent 加载退款时一并加载的父订单
func (r *RefundRecord) Parent() *model.Order { return r.parent }

func (r *RefundRecord) load(ctx context.Context) error {
	refund, err := r.deps.Orders.GetRefundByID(ctx, r.RecordID())
	if err != nil {
		return err
	}
	parent, err := r.deps.Orders.GetByID(ctx, refund.OrderID)
	if err != nil {
		return err
	}
	r.refund = refund
	r.parent = parent
	return nil
}

func (r *RefundRecord) loaded() bool { return r.refund != nil && r.parent != nil }

func (r *RefundRecord) eligible(ignoreStatus bool, countries []string) bool {
	if !ignoreStatus {
		if r.refund.Status != model.RefundStatusCompleted {
			return false
		}
		if !model.IsSyncableOrderStatus(r.parent.Status) {
			return false
		}
	}
	return countrySupported(r.parent.ShipCountry, countries)
}

func (r *RefundRecord) transactionID() string {
	return strconv.FormatInt(r.RecordID(), 10)
}

// 退款金额在远端以负数表示
func (r *RefundRecord) transaction() *taxapi.Transaction {
	f, p := r.refund, r.parent
	txn := &taxapi.Transaction{
		TransactionID:          r.transactionID(),
		TransactionReferenceID: strconv.FormatInt(p.ID, 10),
		Type:                   taxapi.TransactionTypeRefund,
		TransactionDate:        f.CreatedAt.UTC().Format(time.RFC3339),
		Provider:               "api",
		ToCountry:              p.ShipCountry,
		ToState:                p.ShipState,
		ToZip:                  p.ShipZip,
		ToCity:                 p.ShipCity,
		ToStreet:               p.ShipStreet,
		Amount:                 -cents(f.Amount - f.TaxTotal),
		Shipping:               -cents(f.ShippingTotal),
		SalesTax:               -cents(f.TaxTotal),
	}
	if p.CustomerID != 0 {
		txn.CustomerID = strconv.FormatInt(p.CustomerID, 10)
	}
	return txn
}

func (r *RefundRecord) storedHash() string {
	if r.refund == nil {
		return ""
	}
	return r.refund.TaxSyncHash
}

func (r *RefundRecord) lastSync() *time.Time {
	if r.refund == nil {
		return nil
	}
	return r.refund.TaxLastSync
}

func (r *RefundRecord) setMeta(hash string, syncedAt *time.Time) {
	if r.refund == nil {
		return
	}
	r.refund.TaxSyncHash = hash
	r.refund.TaxLastSync = syncedAt
}

func (r *RefundRecord) writeMeta(ctx context.Context, tx *gorm.DB, hash string, syncedAt *time.Time) error {
	return r.deps.Orders.UpdateRefundSyncMeta(ctx, tx, r.RecordID(), hash, syncedAt)
}
