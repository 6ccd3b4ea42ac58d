package scheduler

import (
	"context"

	"go.uber.org/zap"
)

const localQueueSize = 1024

// LocalScheduler 进程内执行，单节点部署和测试用
type LocalScheduler struct {
	registry
	queue   chan Job
	workers int
	logger  *zap.Logger
}

func NewLocalScheduler(workers int, logger *zap.Logger) *LocalScheduler {
	if workers <= 0 {
		workers = 1
	}
	return &LocalScheduler{
		queue:   make(chan Job, localQueueSize),
		workers: workers,
		logger:  logger,
	}
}

// Close 进程内调度没有外部资源
func (s *LocalScheduler) Close() error { return nil }

// ScheduleOnce 入队即返回，队列满时阻塞直到有空位或 ctx 取消
func (s *LocalScheduler) ScheduleOnce(ctx context.Context, job Job) (string, error) {
	assignID(&job)
	select {
	case s.queue <- job:
		return job.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Run 启动 worker，阻塞到 ctx 取消
func (s *LocalScheduler) Run(ctx context.Context) error {
	done := make(chan struct{})
	for i := 0; i < s.workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-s.queue:
					s.execute(ctx, job)
				}
			}
		}()
	}
	for i := 0; i < s.workers; i++ {
		<-done
	}
	return nil
}

// RunPending 在当前 goroutine 里把已入队的任务执行完，返回执行数量
func (s *LocalScheduler) RunPending(ctx context.Context) int {
	n := 0
	for {
		select {
		case job := <-s.queue:
			s.execute(ctx, job)
			n++
		default:
			return n
		}
	}
}

func (s *LocalScheduler) execute(ctx context.Context, job Job) {
	if err := s.dispatch(ctx, job); err != nil {
		s.logger.Error("任务执行失败",
			zap.String("job_id", job.ID),
			zap.String("job", job.Name),
			zap.Error(err))
	}
}
