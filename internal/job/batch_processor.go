package job

import (
	"context"
	"encoding/json"
	"fmt"

	"taxsync/internal/record"
	"taxsync/internal/repository"
	"taxsync/internal/scheduler"

	"go.uber.org/zap"
)

// BatchResult 一个批次的处理结果
type BatchResult struct {
	Synced  int
	Failed  int
	Skipped int
}

// BatchProcessor 按队列 id 逐条同步
// 单条失败不影响其他记录；进程中途退出时剩下的行仍是 awaiting，由下一轮扫描接手
type BatchProcessor struct {
	queueRepo *repository.QueueRepository
	deps      *record.Deps
	logger    *zap.Logger
}

func NewBatchProcessor(queueRepo *repository.QueueRepository, deps *record.Deps, logger *zap.Logger) *BatchProcessor {
	return &BatchProcessor{queueRepo: queueRepo, deps: deps, logger: logger}
}

// Handle 作为 scheduler.Handler 注册
func (p *BatchProcessor) Handle(ctx context.Context, job scheduler.Job) error {
	var payload BatchPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("解析批次参数失败: %w", err)
	}

	result, err := p.Process(ctx, payload.QueueIDs)
	if err != nil {
		return err
	}
	p.logger.Info("批次处理完成",
		zap.Int64("batch_id", payload.BatchID),
		zap.Int("synced", result.Synced),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped))
	return nil
}

// Process 只有重新加载批次数据失败时返回 error
func (p *BatchProcessor) Process(ctx context.Context, queueIDs []int64) (BatchResult, error) {
	var result BatchResult
	if len(queueIDs) == 0 {
		return result, nil
	}

	entries, err := p.queueRepo.GetDataForBatch(ctx, queueIDs)
	if err != nil {
		return result, fmt.Errorf("加载批次数据失败: %w", err)
	}

	for _, entry := range entries {
		rec, err := record.FromQueueEntry(p.deps, entry)
		if err != nil {
			p.logger.Warn("无法还原记录，跳过", zap.Int64("queue_id", entry.QueueID), zap.Error(err))
			result.Skipped++
			continue
		}
		if !entry.IsActive() {
			result.Skipped++
			continue
		}
		if rec.BatchID() == nil {
			p.logger.Warn("记录没有批次号，跳过", zap.Int64("queue_id", entry.QueueID))
			result.Skipped++
			continue
		}

		if rec.Sync(ctx) {
			result.Synced++
		} else {
			result.Failed++
		}
	}
	return result, nil
}
