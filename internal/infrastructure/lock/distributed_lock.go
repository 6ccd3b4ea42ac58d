package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// 分布式锁实现
// ============================================================================
//
// 【用在哪里？】
//
// 队列扫描和回补任务在每个副本上都有 ticker，但同一时刻只应该有一个副本
// 跑一轮扫描（"单一逻辑 worker"）。否则两个副本会把同一批活跃记录
// 各自切批、各自打上不同的 batch_id，远端调用量翻倍。
//
// 加锁：SET key value NX EX timeout
// 释放锁：Lua 脚本先比对 value 再删除，防止误删别人的锁
//
// 批次内部的记录同步不加锁，靠内容哈希保证幂等。
// ============================================================================

var ErrLockExpired = errors.New("锁已过期")

// DistributedLock 分布式锁
type DistributedLock struct {
	client     *redis.Client
	key        string        // 锁的 key
	value      string        // 锁的 value（用于验证锁的持有者）
	expiration time.Duration // 锁的过期时间
}

// NewDistributedLock 创建分布式锁
func NewDistributedLock(client *redis.Client, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock 尝试获取锁（非阻塞）
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	success, err := l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
	if err != nil {
		return false, err
	}
	return success, nil
}

// Unlock 释放锁
func (l *DistributedLock) Unlock(ctx context.Context) error {
	script := `
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end
	`
	res, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Int64()
	if err != nil {
		return err
	}
	if res == 0 {
		return ErrLockExpired
	}
	return nil
}

// ============================================================================
// 任务锁
// ============================================================================

// JobLocker 按任务名加锁，每次 Acquire 生成新的锁实例
//
// 锁按租约使用：拿到锁的副本独占一个周期，TTL 到期前其他副本的 tick 都会跳过。
// 返回的释放函数只在本轮执行失败时调用。
type JobLocker struct {
	client *redis.Client
	owner  string
}

// NewJobLocker owner 一般是实例名/主机名，便于排查是谁持有锁
func NewJobLocker(client *redis.Client, owner string) *JobLocker {
	return &JobLocker{client: client, owner: owner}
}

// TryAcquire 非阻塞获取任务锁，ttl 即租期。拿不到返回 (nil, false, nil)
func (j *JobLocker) TryAcquire(ctx context.Context, job string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l := NewDistributedLock(j.client, fmt.Sprintf("tax_sync:lock:job:%s", job), j.owner, ttl)
	ok, err := l.TryLock(ctx)
	if err != nil || !ok {
		return nil, false, err
	}
	return l.Unlock, true, nil
}
