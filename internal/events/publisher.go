package events

import (
	"context"
	"encoding/json"
	"time"

	"radish/internal/common"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventType 生命周期事件类型
type EventType string

const (
	EventBuildStarted     EventType = "build_started"
	EventBuildCompleted   EventType = "build_completed"
	EventBuildFailed      EventType = "build_failed"
	EventLaunchStarting   EventType = "launch_starting"
	EventLaunchServing    EventType = "launch_serving"
	EventLaunchTerminated EventType = "launch_terminated"
)

// Event 构建与启动生命周期事件
type Event struct {
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	BuildID   string            `json:"build_id,omitempty"`
	LaunchID  string            `json:"launch_id,omitempty"`
	ImageDir  string            `json:"image_dir,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Publisher 生命周期事件发布器
//
// 发布失败只记录日志，绝不影响构建或启动的结果与退出码，
// 失败上报通道始终是进程退出状态。
type Publisher struct {
	writer  *kafka.Writer
	logger  *zap.Logger
	enabled bool
}

// NewPublisher 创建事件发布器，未启用时所有发布都是空操作
func NewPublisher(config *common.EventsConfig) *Publisher {
	p := &Publisher{
		logger: common.ComponentLogger("events"),
	}

	if config == nil || !config.Enabled || len(config.Brokers) == 0 {
		return p
	}

	p.enabled = true
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}

	p.logger.Info("Lifecycle event publisher enabled",
		zap.Strings("brokers", config.Brokers),
		zap.String("topic", config.Topic))

	return p
}

// Publish 发布单个事件
func (p *Publisher) Publish(ctx context.Context, event Event) {
	if !p.enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	value, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to encode lifecycle event", zap.Error(err))
		return
	}

	message := kafka.Message{
		Key:   []byte(event.Type),
		Value: value,
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		p.logger.Warn("Failed to publish lifecycle event",
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

// Close 关闭发布器
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
