package repository

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"taxsync/internal/model"

	"gorm.io/gorm"
)

var ErrQueueEntryNotFound = errors.New("队列记录不存在")

// insertChunkSize 批量插入每条 INSERT 的最大行数
const insertChunkSize = 200

// maxLastErrorBytes last_error 最多保留的字节数
const maxLastErrorBytes = 512

// truncateError 按字节截断，但不切开多字节字符
func truncateError(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// ActiveRecordRef 活跃记录的 (record_id, queue_id)
type ActiveRecordRef struct {
	RecordID int64
	QueueID  int64
}

// QueueRepository 同步队列存储
//
// 所有写操作都按 id 精确定位（插入 / 按 id 打标 / 按 id 更新），不做整表锁，
// 这样扫描周期在高负载下也足够轻。
type QueueRepository struct {
	db *gorm.DB
}

func NewQueueRepository(db *gorm.DB) *QueueRepository {
	return &QueueRepository{db: db}
}

func (r *QueueRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

func (r *QueueRepository) Create(ctx context.Context, tx *gorm.DB, entry *model.QueueEntry) error {
	return r.conn(tx).WithContext(ctx).Create(entry).Error
}

// Save 按主键写回整行
func (r *QueueRepository) Save(ctx context.Context, tx *gorm.DB, entry *model.QueueEntry) error {
	return r.conn(tx).WithContext(ctx).Save(entry).Error
}

func (r *QueueRepository) GetByID(ctx context.Context, queueID int64) (*model.QueueEntry, error) {
	var entry model.QueueEntry
	err := r.db.WithContext(ctx).Where("queue_id = ?", queueID).First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQueueEntryNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// FindActiveInQueue 查找记录当前的活跃队列项，没有返回 nil
func (r *QueueRepository) FindActiveInQueue(ctx context.Context, recordID int64, recordType string) (*model.QueueEntry, error) {
	var entry model.QueueEntry
	err := r.db.WithContext(ctx).
		Where("record_id = ? AND record_type = ? AND status IN ?", recordID, recordType, model.ActiveQueueStatuses).
		Order("queue_id ASC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// GetAllActiveInQueue 所有类型的活跃记录
func (r *QueueRepository) GetAllActiveInQueue(ctx context.Context) ([]*model.QueueEntry, error) {
	var entries []*model.QueueEntry
	err := r.db.WithContext(ctx).
		Where("status IN ?", model.ActiveQueueStatuses).
		Order("queue_id ASC").
		Find(&entries).Error
	return entries, err
}

// AddRecordsToBatch 给一组记录打上批次号（认领）
func (r *QueueRepository) AddRecordsToBatch(ctx context.Context, queueIDs []int64, batchID int64) error {
	if len(queueIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&model.QueueEntry{}).
		Where("queue_id IN ?", queueIDs).
		Update("batch_id", batchID).Error
}

// GetDataForBatch 按 id 重新加载一批记录
func (r *QueueRepository) GetDataForBatch(ctx context.Context, queueIDs []int64) ([]*model.QueueEntry, error) {
	if len(queueIDs) == 0 {
		return nil, nil
	}
	var entries []*model.QueueEntry
	err := r.db.WithContext(ctx).
		Where("queue_id IN ?", queueIDs).
		Order("queue_id ASC").
		Find(&entries).Error
	return entries, err
}

// GetAllActiveRecordIDsInQueue 回补时用来去重。recordType 为空表示不限类型
func (r *QueueRepository) GetAllActiveRecordIDsInQueue(ctx context.Context, recordType string) ([]ActiveRecordRef, error) {
	query := r.db.WithContext(ctx).
		Model(&model.QueueEntry{}).
		Select("record_id, queue_id").
		Where("status IN ?", model.ActiveQueueStatuses)
	if recordType != "" {
		query = query.Where("record_type = ?", recordType)
	}

	var refs []ActiveRecordRef
	err := query.Order("queue_id ASC").Scan(&refs).Error
	return refs, err
}

func (r *QueueRepository) Delete(ctx context.Context, tx *gorm.DB, queueID int64) error {
	return r.conn(tx).WithContext(ctx).
		Where("queue_id = ?", queueID).
		Delete(&model.QueueEntry{}).Error
}

// MarkCompleted 同步成功，记录离开活跃状态
func (r *QueueRepository) MarkCompleted(ctx context.Context, tx *gorm.DB, queueID int64, processedAt time.Time) error {
	return r.conn(tx).WithContext(ctx).
		Model(&model.QueueEntry{}).
		Where("queue_id = ?", queueID).
		Updates(map[string]interface{}{
			"status":             model.QueueStatusCompleted,
			"processed_datetime": processedAt,
			"last_error":         "",
		}).Error
}

// MarkFailure 同步失败：重试次数 +1，未超限回到 awaiting，超限置为 error
// 只处理仍然活跃的记录，返回更新后的状态
func (r *QueueRepository) MarkFailure(ctx context.Context, queueID int64, lastErr string, maxRetries int) (string, error) {
	lastErr = truncateError(lastErr, maxLastErrorBytes)

	var status string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry model.QueueEntry
		if err := tx.Where("queue_id = ?", queueID).First(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrQueueEntryNotFound
			}
			return err
		}

		status = entry.Status
		if !entry.IsActive() {
			return nil
		}

		retries := entry.RetryCount + 1
		status = model.QueueStatusAwaiting
		if maxRetries > 0 && retries >= maxRetries {
			status = model.QueueStatusError
		}

		return tx.Model(&model.QueueEntry{}).
			Where("queue_id = ?", queueID).
			Updates(map[string]interface{}{
				"status":      status,
				"retry_count": retries,
				"last_error":  lastErr,
			}).Error
	})
	return status, err
}

// BulkInsertAwaiting 批量插入 awaiting 记录
// 走参数化批量插入，行数不固定，空集合直接返回
func (r *QueueRepository) BulkInsertAwaiting(ctx context.Context, recordIDs []int64, recordType string, force bool) (int, error) {
	if len(recordIDs) == 0 {
		return 0, nil
	}

	entries := make([]*model.QueueEntry, 0, len(recordIDs))
	for _, id := range recordIDs {
		entries = append(entries, &model.QueueEntry{
			RecordID:   id,
			RecordType: recordType,
			Status:     model.QueueStatusAwaiting,
			ForcePush:  force,
		})
	}

	if err := r.db.WithContext(ctx).CreateInBatches(entries, insertChunkSize).Error; err != nil {
		return 0, err
	}
	return len(entries), nil
}

// SetForcePush 把已在队列中的活跃记录标记为强制推送
func (r *QueueRepository) SetForcePush(ctx context.Context, recordIDs []int64, recordType string) (int64, error) {
	if len(recordIDs) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Model(&model.QueueEntry{}).
		Where("record_id IN ? AND record_type = ? AND status IN ?", recordIDs, recordType, model.ActiveQueueStatuses).
		Update("force_push", true)
	return result.RowsAffected, result.Error
}
