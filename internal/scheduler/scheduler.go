// Package scheduler 一次性异步任务的调度
//
// 周期性触发由各个 job 自己的 ticker 完成，这里只负责 schedule_once：
// 把任务交给执行端并返回任务 id。执行端可以是进程内 worker，
// 也可以是消费同一个 Kafka topic 的多个进程。
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var ErrUnknownJob = errors.New("未注册的任务类型")

// Job 一次性任务
type Job struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload"`
}

// NewJob payload 按 JSON 编码
func NewJob(name string, payload interface{}) (Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("序列化任务参数失败: %w", err)
	}
	return Job{Name: name, Payload: body}, nil
}

// Handler 任务执行函数
type Handler func(ctx context.Context, job Job) error

type Scheduler interface {
	Register(name string, h Handler)
	ScheduleOnce(ctx context.Context, job Job) (string, error)
	Run(ctx context.Context) error
	// Close 释放消费端资源，Run 返回后调用
	Close() error
}

type registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func (r *registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handlers == nil {
		r.handlers = make(map[string]Handler)
	}
	r.handlers[name] = h
}

func (r *registry) dispatch(ctx context.Context, job Job) error {
	r.mu.RLock()
	h, ok := r.handlers[job.Name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, job.Name)
	}
	return h(ctx, job)
}

func assignID(job *Job) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
}
