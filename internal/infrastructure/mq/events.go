package mq

import (
	"context"
	"encoding/json"
	"fmt"

	"taxsync/internal/event"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// EventConsumer 订阅宿主系统的订单事件 topic，转发到进程内事件总线
type EventConsumer struct {
	group  sarama.ConsumerGroup
	topic  string
	bus    *event.Bus
	logger *zap.Logger
}

func NewEventConsumer(group sarama.ConsumerGroup, topic string, bus *event.Bus, logger *zap.Logger) *EventConsumer {
	return &EventConsumer{group: group, topic: topic, bus: bus, logger: logger}
}

// Run 阻塞到 ctx 取消
func (c *EventConsumer) Run(ctx context.Context) error {
	return Consume(ctx, c.group, []string{c.topic}, c.HandleMessage, c.logger)
}

// HandleMessage 解析事件并同步分发
func (c *EventConsumer) HandleMessage(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var env event.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return fmt.Errorf("解析订单事件失败: %w", err)
	}
	ev, err := env.Decode()
	if err != nil {
		return err
	}
	return c.bus.Publish(ctx, ev)
}
