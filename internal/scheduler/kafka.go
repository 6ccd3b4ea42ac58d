package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"taxsync/internal/infrastructure/mq"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// KafkaScheduler 任务写入 Kafka，由消费者组里的任意进程执行
// 同一个批次只会被组内一个消费者拿到，不同批次可以并行
type KafkaScheduler struct {
	registry
	publisher *mq.Publisher
	group     sarama.ConsumerGroup
	topic     string
	logger    *zap.Logger
}

func NewKafkaScheduler(publisher *mq.Publisher, group sarama.ConsumerGroup, topic string, logger *zap.Logger) *KafkaScheduler {
	return &KafkaScheduler{
		publisher: publisher,
		group:     group,
		topic:     topic,
		logger:    logger,
	}
}

func (s *KafkaScheduler) ScheduleOnce(_ context.Context, job Job) (string, error) {
	assignID(&job)
	body, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("序列化任务失败: %w", err)
	}
	if err := s.publisher.SendMessage(s.topic, job.ID, body); err != nil {
		return "", fmt.Errorf("投递任务失败: %w", err)
	}
	return job.ID, nil
}

// Run 消费任务 topic，阻塞到 ctx 取消
func (s *KafkaScheduler) Run(ctx context.Context) error {
	return mq.Consume(ctx, s.group, []string{s.topic}, s.handleMessage, s.logger)
}

// Close 关闭任务消费者组，生产者由调用方负责关闭
func (s *KafkaScheduler) Close() error {
	if s.group == nil {
		return nil
	}
	return s.group.Close()
}

func (s *KafkaScheduler) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var job Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		return fmt.Errorf("解析任务失败: %w", err)
	}
	return s.dispatch(ctx, job)
}
