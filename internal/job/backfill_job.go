package job

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BackfillJob 周期性回补当天的数据，间隔为 0 时不启动
type BackfillJob struct {
	backfiller *Backfiller
	locker     Locker
	logger     *zap.Logger
	stopCh     chan struct{}
	stopOnce   sync.Once
	interval   time.Duration
}

func NewBackfillJob(backfiller *Backfiller, locker Locker, interval time.Duration, logger *zap.Logger) *BackfillJob {
	return &BackfillJob{
		backfiller: backfiller,
		locker:     locker,
		logger:     logger,
		stopCh:     make(chan struct{}),
		interval:   interval,
	}
}

func (j *BackfillJob) Start(ctx context.Context) {
	if j.interval <= 0 {
		j.logger.Info("未配置回补间隔，回补任务不启动")
		return
	}
	j.logger.Info("回补任务启动", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("收到停止信号，回补任务退出")
			return
		case <-j.stopCh:
			j.logger.Info("回补任务停止")
			return
		case <-ticker.C:
			runExclusive(ctx, j.locker, "backfill", leaseTTL(j.interval), j.logger, func() error {
				_, err := j.backfiller.Backfill(ctx, BackfillOptions{})
				return err
			})
		}
	}
}

func (j *BackfillJob) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
}
