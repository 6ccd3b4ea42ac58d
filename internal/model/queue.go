package model

import (
	"time"
)

// ============================================================================
// 同步队列状态
// ============================================================================
//
// new      -> 首次入队，从未同步过
// awaiting -> 等待（重新）同步，同步失败后也回到这里
// completed-> 已同步，不再处于活跃状态
// error    -> 重试次数耗尽，需要人工或回补任务介入
//
// 活跃状态 = new + awaiting

const (
	QueueStatusNew       = "new"
	QueueStatusAwaiting  = "awaiting"
	QueueStatusCompleted = "completed"
	QueueStatusError     = "error"
)

// ActiveQueueStatuses 活跃状态集合
var ActiveQueueStatuses = []string{QueueStatusNew, QueueStatusAwaiting}

func IsActiveQueueStatus(status string) bool {
	return status == QueueStatusNew || status == QueueStatusAwaiting
}

const (
	RecordTypeOrder  = "order"
	RecordTypeRefund = "refund"
)

// QueueEntry 税务同步队列表
//
// 同一个 (record_id, record_type) 最多只有一条活跃记录。
// 这个约束靠"先查后插"保证，没有唯一索引：两个并发触发可能都插入，
// 但同步是幂等的（内容哈希比对），所以只会多跑一次，不会重复写远端。
type QueueEntry struct {
	QueueID           int64      `gorm:"column:queue_id;primaryKey;autoIncrement" json:"queue_id"`
	RecordID          int64      `gorm:"column:record_id;index:idx_record;not null" json:"record_id"`
	RecordType        string     `gorm:"column:record_type;type:varchar(16);index:idx_record;not null" json:"record_type"`
	Status            string     `gorm:"column:status;type:varchar(16);index;not null" json:"status"`
	ForcePush         bool       `gorm:"column:force_push;not null;default:false" json:"force_push"`
	BatchID           *int64     `gorm:"column:batch_id;index" json:"batch_id,omitempty"`
	RetryCount        int        `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	LastError         string     `gorm:"column:last_error;type:varchar(512)" json:"last_error,omitempty"`
	CreatedDatetime   time.Time  `gorm:"column:created_datetime;autoCreateTime" json:"created_datetime"`
	LastUpdated       time.Time  `gorm:"column:last_updated;autoUpdateTime" json:"last_updated"`
	ProcessedDatetime *time.Time `gorm:"column:processed_datetime" json:"processed_datetime,omitempty"`
}

func (QueueEntry) TableName() string {
	return "tax_sync_queue"
}

// IsActive 是否仍需处理
func (e *QueueEntry) IsActive() bool {
	return IsActiveQueueStatus(e.Status)
}
