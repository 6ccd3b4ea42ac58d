package mq

import (
	"context"
	"errors"
	"fmt"

	"taxsync/internal/config"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// NewProducerConfig 生产者配置
func NewProducerConfig() *sarama.Config {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll // 等待所有副本确认
	kafkaConfig.Producer.Retry.Max = 3                    // 重试次数
	kafkaConfig.Producer.Return.Successes = true          // 返回成功消息
	return kafkaConfig
}

// InitKafka 初始化 Kafka 生产者
func InitKafka(cfg *config.KafkaConfig) (sarama.SyncProducer, error) {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, NewProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 生产者失败: %w", err)
	}
	return producer, nil
}

// InitConsumerGroup 初始化消费者组
// 批次任务和订单事件各用一个 group，一个 group 实例同一时刻只能跑一个 Consume 循环
func InitConsumerGroup(cfg *config.KafkaConfig, groupID string) (sarama.ConsumerGroup, error) {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	kafkaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, kafkaConfig)
	if err != nil {
		return nil, fmt.Errorf("创建 Kafka 消费者组失败: %w", err)
	}
	return group, nil
}

// Publisher 对 SyncProducer 的薄封装
type Publisher struct {
	producer sarama.SyncProducer
}

func NewPublisher(producer sarama.SyncProducer) *Publisher {
	return &Publisher{producer: producer}
}

// SendMessage 发送消息到 Kafka
func (p *Publisher) SendMessage(topic, key string, value []byte) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}

	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *Publisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// MessageHandler 处理单条消息
// 返回 error 只记日志，消息照常提交：批次里失败的记录仍是活跃状态，下一轮扫描会重新切批
type MessageHandler func(ctx context.Context, msg *sarama.ConsumerMessage) error

// Consume 阻塞消费，直到 ctx 取消
func Consume(ctx context.Context, group sarama.ConsumerGroup, topics []string, handler MessageHandler, logger *zap.Logger) error {
	h := &groupHandler{handler: handler, logger: logger}
	for {
		// Consume 在每次重平衡后返回，需要循环调用
		if err := group.Consume(ctx, topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			logger.Error("Kafka 消费异常", zap.Strings("topics", topics), zap.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

type groupHandler struct {
	handler MessageHandler
	logger  *zap.Logger
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.handler(sess.Context(), msg); err != nil {
				h.logger.Error("处理 Kafka 消息失败",
					zap.String("topic", msg.Topic),
					zap.Int32("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err))
			}
			sess.MarkMessage(msg, "")
		}
	}
}
