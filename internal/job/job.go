package job

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Locker 多副本部署时保证一个周期内只有一个副本跑某个周期任务
// 实现见 lock.JobLocker；为 nil 表示单副本，不加锁
type Locker interface {
	TryAcquire(ctx context.Context, job string, ttl time.Duration) (func(context.Context) error, bool, error)
}

// leaseTTL 租期比周期略短，持锁副本自己的下一次 tick 不会被挡住
func leaseTTL(interval time.Duration) time.Duration {
	margin := interval / 10
	if margin > 5*time.Second {
		margin = 5 * time.Second
	}
	return interval - margin
}

// runExclusive 以租约方式执行 fn：拿到锁的副本独占本周期，成功后不释放锁，等 TTL 自然过期。
// 拿不到锁直接跳过本轮；fn 失败时释放，让其他副本本周期内还能重试
func runExclusive(ctx context.Context, locker Locker, name string, lease time.Duration, logger *zap.Logger, fn func() error) {
	if locker == nil {
		if err := fn(); err != nil {
			logger.Error("任务执行失败", zap.String("job", name), zap.Error(err))
		}
		return
	}

	release, ok, err := locker.TryAcquire(ctx, name, lease)
	if err != nil {
		logger.Error("获取任务锁失败", zap.String("job", name), zap.Error(err))
		return
	}
	if !ok {
		logger.Debug("本周期已由其他副本执行，跳过", zap.String("job", name))
		return
	}

	if err := fn(); err != nil {
		logger.Error("任务执行失败", zap.String("job", name), zap.Error(err))
		if err := release(context.Background()); err != nil {
			logger.Warn("释放任务锁失败", zap.String("job", name), zap.Error(err))
		}
	}
}
