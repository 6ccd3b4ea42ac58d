package job

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"taxsync/internal/config"
	"taxsync/internal/repository"
	"taxsync/internal/scheduler"
	"taxsync/pkg/idgen"

	"go.uber.org/zap"
)

// JobProcessBatch 批处理任务名
const JobProcessBatch = "tax_sync.process_batch"

// BatchPayload 批处理任务参数
type BatchPayload struct {
	BatchID  int64   `json:"batch_id"`
	QueueIDs []int64 `json:"queue_ids"`
}

// ============================================================================
// 队列扫描
// ============================================================================
//
// 每个周期把所有活跃记录切成固定大小的批次，每批：
//   1. 生成批次号并写入这些行
//   2. 派发一个异步批处理任务
//
// 先打标再派发：执行端很快的时候也不会看到没有批次号的行。
// 派发失败的批次不回滚批次号，记录仍是活跃状态，下一轮会重新切批。
// ============================================================================

type QueueProcessor struct {
	queueRepo *repository.QueueRepository
	scheduler scheduler.Scheduler
	locker    Locker
	logger    *zap.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
	interval  time.Duration
	batchSize int

	// BatchSizeOverride 允许调用方按当前批次大小调整，返回值 <= 0 时忽略
	BatchSizeOverride func(size int) int
}

func NewQueueProcessor(queueRepo *repository.QueueRepository, sched scheduler.Scheduler, locker Locker, cfg config.SyncConfig, logger *zap.Logger) *QueueProcessor {
	return &QueueProcessor{
		queueRepo: queueRepo,
		scheduler: sched,
		locker:    locker,
		logger:    logger,
		stopCh:    make(chan struct{}),
		interval:  cfg.QueueInterval,
		batchSize: cfg.BatchSize,
	}
}

func (p *QueueProcessor) Start(ctx context.Context) {
	p.logger.Info("队列扫描任务启动", zap.Duration("interval", p.interval), zap.Int("batch_size", p.batchSize))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("收到停止信号，队列扫描任务退出")
			return
		case <-p.stopCh:
			p.logger.Info("队列扫描任务停止")
			return
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

// runCycle 跑一轮扫描，多副本时同一周期只有一个副本真正执行
func (p *QueueProcessor) runCycle(ctx context.Context) {
	runExclusive(ctx, p.locker, "queue_processor", leaseTTL(p.interval), p.logger, func() error {
		_, err := p.ProcessQueue(ctx)
		return err
	})
}

func (p *QueueProcessor) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *QueueProcessor) effectiveBatchSize() int {
	size := p.batchSize
	if p.BatchSizeOverride != nil {
		if n := p.BatchSizeOverride(size); n > 0 {
			size = n
		}
	}
	if size <= 0 {
		size = 1
	}
	return size
}

// ProcessQueue 执行一轮扫描，返回已派发的批次号
func (p *QueueProcessor) ProcessQueue(ctx context.Context) ([]int64, error) {
	entries, err := p.queueRepo.GetAllActiveInQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询活跃队列失败: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.QueueID)
	}

	size := p.effectiveBatchSize()
	var batchIDs []int64
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		batchID, err := p.dispatch(ctx, chunk)
		if err != nil {
			p.logger.Error("派发批次失败",
				zap.Int64("batch_id", batchID),
				zap.Int("records", len(chunk)),
				zap.Error(err))
			continue
		}
		batchIDs = append(batchIDs, batchID)
	}

	p.logger.Info("队列扫描完成",
		zap.Int("active", len(ids)),
		zap.Int("batches", len(batchIDs)))
	return batchIDs, nil
}

func (p *QueueProcessor) dispatch(ctx context.Context, queueIDs []int64) (int64, error) {
	batchID := idgen.NextBatchID()
	if err := p.queueRepo.AddRecordsToBatch(ctx, queueIDs, batchID); err != nil {
		return batchID, fmt.Errorf("写入批次号失败: %w", err)
	}

	job, err := scheduler.NewJob(JobProcessBatch, BatchPayload{BatchID: batchID, QueueIDs: queueIDs})
	if err != nil {
		return batchID, err
	}
	job.ID = strconv.FormatInt(batchID, 10)

	if _, err := p.scheduler.ScheduleOnce(ctx, job); err != nil {
		return batchID, err
	}
	return batchID, nil
}
