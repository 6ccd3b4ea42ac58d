// Package record 同步记录：队列行 + 订单/退款对象 + 同步元数据
//
// Record 只在一次操作内存在（一次事件触发或一次批处理迭代），
// 持久状态分两处：队列行驱动调度，订单/退款上的哈希和同步时间是
// "最后推送了什么"的事实来源。两者都保留，缺一不可。
package record

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"taxsync/internal/infrastructure/taxapi"
	"taxsync/internal/model"
	"taxsync/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrObjectNotLoaded   = errors.New("同步对象不存在或无法加载")
	ErrUnknownRecordType = errors.New("未知的记录类型")
)

// Options 同步行为配置
type Options struct {
	MaxRetries         int
	SupportedCountries []string
	ResultTopic        string // 为空时不写同步结果消息
}

// Deps 记录需要的协作者，由调用方注入
type Deps struct {
	DB      *gorm.DB
	Queue   *repository.QueueRepository
	Orders  *repository.OrderRepository
	Outbox  *repository.OutboxRepository
	Client  taxapi.Client
	Logger  *zap.Logger
	Options Options
	Now     func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Record 订单记录和退款记录的公共行为
type Record interface {
	QueueID() int64
	RecordID() int64
	Type() string
	Status() string
	SetStatus(status string)
	ForcePush() bool
	SetForcePush(force bool)
	BatchID() *int64

	LoadObject(ctx context.Context) error
	ObjectHash() string
	LastSyncTime() *time.Time
	WasSynced() bool

	ShouldSync(ctx context.Context, ignoreStatus bool) bool
	Sync(ctx context.Context) bool
	DeleteInTaxAPI(ctx context.Context) bool
	Delete(ctx context.Context) error
	Save(ctx context.Context) error
}

// target 订单/退款各自不同的部分
type target interface {
	load(ctx context.Context) error
	loaded() bool
	eligible(ignoreStatus bool, countries []string) bool
	transaction() *taxapi.Transaction
	storedHash() string
	lastSync() *time.Time
	setMeta(hash string, syncedAt *time.Time)
	writeMeta(ctx context.Context, tx *gorm.DB, hash string, syncedAt *time.Time) error
	transactionID() string
}

type baseRecord struct {
	deps   *Deps
	entry  *model.QueueEntry
	target target
}

func newBase(deps *Deps, entry *model.QueueEntry) *baseRecord {
	return &baseRecord{deps: deps, entry: entry}
}

func (r *baseRecord) QueueID() int64          { return r.entry.QueueID }
func (r *baseRecord) RecordID() int64         { return r.entry.RecordID }
func (r *baseRecord) Type() string            { return r.entry.RecordType }
func (r *baseRecord) Status() string          { return r.entry.Status }
func (r *baseRecord) SetStatus(status string) { r.entry.Status = status }
func (r *baseRecord) ForcePush() bool         { return r.entry.ForcePush }
func (r *baseRecord) SetForcePush(force bool) { r.entry.ForcePush = force }
func (r *baseRecord) BatchID() *int64         { return r.entry.BatchID }

// LoadObject 按 id 解析订单/退款，只加载一次
func (r *baseRecord) LoadObject(ctx context.Context) error {
	if r.target.loaded() {
		return nil
	}
	if err := r.target.load(ctx); err != nil {
		return fmt.Errorf("%w: %s %d: %v", ErrObjectNotLoaded, r.Type(), r.RecordID(), err)
	}
	return nil
}

func (r *baseRecord) ObjectHash() string       { return r.target.storedHash() }
func (r *baseRecord) LastSyncTime() *time.Time { return r.target.lastSync() }

func (r *baseRecord) WasSynced() bool {
	return r.target.lastSync() != nil || r.target.storedHash() != ""
}

// ShouldSync 对象可解析、状态与地区满足条件，并且强制推送或内容有变化
// ignoreStatus 用于取消/删除场景：此时订单状态已经不是可同步状态
func (r *baseRecord) ShouldSync(ctx context.Context, ignoreStatus bool) bool {
	if err := r.LoadObject(ctx); err != nil {
		return false
	}
	if !r.target.eligible(ignoreStatus, r.deps.Options.SupportedCountries) {
		return false
	}
	if r.ForcePush() {
		return true
	}
	return HashTransaction(r.target.transaction()) != r.target.storedHash()
}

// Sync 推送到税务服务
//
// 失败不会向上抛：记日志、队列行回到 awaiting（或重试耗尽后 error），返回 false。
// 内容未变化且非强制推送时不调用远端，队列行直接完成，返回 true。
func (r *baseRecord) Sync(ctx context.Context) bool {
	attemptAt := r.deps.now()

	if err := r.LoadObject(ctx); err != nil {
		r.syncFailure(ctx, attemptAt, err)
		return false
	}

	if !r.target.eligible(false, r.deps.Options.SupportedCountries) {
		r.log().Info("记录不满足同步条件，移出队列", r.fields(attemptAt)...)
		r.complete(ctx, attemptAt)
		return false
	}

	txn := r.target.transaction()
	hash := HashTransaction(txn)
	if !r.ForcePush() && hash == r.target.storedHash() {
		r.log().Debug("内容未变化，跳过推送", r.fields(attemptAt)...)
		r.complete(ctx, attemptAt)
		return true
	}

	if err := r.deps.Client.CreateOrUpdate(ctx, txn); err != nil {
		r.syncFailure(ctx, attemptAt, err)
		return false
	}

	if err := r.syncSuccess(ctx, hash, attemptAt); err != nil {
		// 远端已经成功，本地落库失败：记录仍是活跃状态，下次会以相同内容再推一次
		r.log().Error("同步成功但写回本地状态失败", append(r.fields(attemptAt), zap.Error(err))...)
		return false
	}

	r.log().Info("同步成功", append(r.fields(attemptAt), zap.String("hash", hash))...)
	return true
}

func (r *baseRecord) syncSuccess(ctx context.Context, hash string, syncedAt time.Time) error {
	err := r.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.target.writeMeta(ctx, tx, hash, &syncedAt); err != nil {
			return fmt.Errorf("写同步元数据失败: %w", err)
		}
		if r.QueueID() != 0 {
			if err := r.deps.Queue.MarkCompleted(ctx, tx, r.QueueID(), syncedAt); err != nil {
				return fmt.Errorf("更新队列状态失败: %w", err)
			}
		}
		return r.writeResult(ctx, tx, model.SyncEventSynced, hash, syncedAt)
	})
	if err != nil {
		return err
	}

	r.target.setMeta(hash, &syncedAt)
	r.entry.Status = model.QueueStatusCompleted
	r.entry.ProcessedDatetime = &syncedAt
	r.entry.ForcePush = false
	return nil
}

func (r *baseRecord) syncFailure(ctx context.Context, attemptAt time.Time, cause error) {
	r.log().Error("同步失败", append(r.fields(attemptAt), zap.Error(cause))...)

	if r.QueueID() == 0 {
		return
	}
	status, err := r.deps.Queue.MarkFailure(ctx, r.QueueID(), cause.Error(), r.deps.Options.MaxRetries)
	if err != nil {
		r.log().Error("更新队列失败状态失败", append(r.fields(attemptAt), zap.Error(err))...)
		return
	}
	r.entry.Status = status
	r.entry.RetryCount++
}

func (r *baseRecord) complete(ctx context.Context, at time.Time) {
	if r.QueueID() == 0 {
		return
	}
	if err := r.deps.Queue.MarkCompleted(ctx, nil, r.QueueID(), at); err != nil {
		r.log().Error("更新队列状态失败", append(r.fields(at), zap.Error(err))...)
		return
	}
	r.entry.Status = model.QueueStatusCompleted
	r.entry.ProcessedDatetime = &at
}

// DeleteInTaxAPI 删除远端交易并清除本地同步元数据
// 永久删除的对象可能已经查不到，交易号只依赖记录 id，所以这里不要求对象可解析
func (r *baseRecord) DeleteInTaxAPI(ctx context.Context) bool {
	at := r.deps.now()
	if err := r.deps.Client.Delete(ctx, r.Type(), r.target.transactionID()); err != nil {
		r.log().Error("删除远端交易失败", append(r.fields(at), zap.Error(err))...)
		return false
	}

	err := r.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := r.target.writeMeta(ctx, tx, "", nil); err != nil {
			return err
		}
		return r.writeResult(ctx, tx, model.SyncEventDeleted, "", at)
	})
	if err != nil {
		r.log().Error("清除同步元数据失败", append(r.fields(at), zap.Error(err))...)
	} else {
		r.target.setMeta("", nil)
	}

	r.log().Info("远端交易已删除", r.fields(at)...)
	return true
}

// Delete 删除队列行（不删除订单/退款本身）
func (r *baseRecord) Delete(ctx context.Context) error {
	if r.QueueID() == 0 {
		return nil
	}
	return r.deps.Queue.Delete(ctx, nil, r.QueueID())
}

// Save 新记录插入，已有记录整行写回
func (r *baseRecord) Save(ctx context.Context) error {
	if r.entry.QueueID == 0 {
		return r.deps.Queue.Create(ctx, nil, r.entry)
	}
	return r.deps.Queue.Save(ctx, nil, r.entry)
}

type resultMessage struct {
	Event         string `json:"event"`
	RecordType    string `json:"record_type"`
	RecordID      int64  `json:"record_id"`
	TransactionID string `json:"transaction_id"`
	Hash          string `json:"hash,omitempty"`
	At            string `json:"at"`
}

func (r *baseRecord) writeResult(ctx context.Context, tx *gorm.DB, event, hash string, at time.Time) error {
	topic := r.deps.Options.ResultTopic
	if topic == "" || r.deps.Outbox == nil {
		return nil
	}
	payload, err := json.Marshal(resultMessage{
		Event:         event,
		RecordType:    r.Type(),
		RecordID:      r.RecordID(),
		TransactionID: r.target.transactionID(),
		Hash:          hash,
		At:            at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return r.deps.Outbox.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: fmt.Sprintf("%s:%d", r.Type(), r.RecordID()),
		Topic:      topic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}

func (r *baseRecord) log() *zap.Logger {
	if r.deps.Logger == nil {
		return zap.NewNop()
	}
	return r.deps.Logger
}

func (r *baseRecord) fields(at time.Time) []zap.Field {
	return []zap.Field{
		zap.Int64("record_id", r.RecordID()),
		zap.String("record_type", r.Type()),
		zap.Int64("queue_id", r.QueueID()),
		zap.Time("attempt_at", at),
	}
}

func countrySupported(country string, countries []string) bool {
	if len(countries) == 0 {
		return true
	}
	for _, c := range countries {
		if strings.EqualFold(c, country) {
			return true
		}
	}
	return false
}
