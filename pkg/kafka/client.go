// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"zhiku-rag/internal/config"
	"zhiku-rag/pkg/database"
	"zhiku-rag/pkg/log"

	"github.com/segmentio/kafka-go"
)

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
// 消费者只负责投递原始载荷, 解析与业务处理都在实现方完成。
type TaskProcessor interface {
	Process(ctx context.Context, payload []byte) error
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。主题在发送消息时逐条指定,
// 同一个生产者服务于全部管道阶段。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers),
		Balancer: &kafka.LeastBytes{},
	}
	log.Info("Kafka 生产者初始化成功")
}

// CloseProducer 关闭 Kafka 生产者, 未发完的消息会被冲刷。
func CloseProducer() error {
	if producer == nil {
		return nil
	}
	return producer.Close()
}

// Produce 将任务序列化后发送到指定主题。
func Produce(ctx context.Context, topic string, task any) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}

	err = producer.WriteMessages(ctx,
		kafka.Message{
			Topic: topic,
			Value: taskBytes,
		},
	)
	if err != nil {
		return fmt.Errorf("发送消息到主题 %s 失败: %w", topic, err)
	}
	return nil
}

// StartConsumer 启动一个 Kafka 消费者循环处理指定主题的任务, 直到 ctx 取消。
// 失败的消息按指数退避在原地重试, Redis 记录跨进程存活的尝试次数;
// 尝试次数达到上限后提交 offset 放弃该消息。消息格式错误立即提交跳过。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, topic string, processor TaskProcessor) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  []string{cfg.Brokers},
		Topic:    topic,
		GroupID:  cfg.Group,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", topic)

	minBackoff := time.Duration(cfg.MinBackoffMS) * time.Millisecond

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Infof("Kafka 消费者停止监听主题 '%s'", topic)
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			return
		}

		log.Infof("收到 Kafka 消息: topic=%s, offset=%d", topic, m.Offset)

		if !json.Valid(m.Value) {
			log.Errorf("无法解析 Kafka 消息, value: %s", string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交错误消息失败: %v", err)
			}
			continue
		}

		if done := processWithRetry(ctx, r, m, topic, cfg.MaxRetries, minBackoff, processor); !done {
			return
		}
	}
}

// processWithRetry 处理单条消息直到成功或尝试次数耗尽, 返回 false 表示
// ctx 已取消需要退出消费循环。
func processWithRetry(ctx context.Context, r *kafka.Reader, m kafka.Message, topic string, maxRetries int, minBackoff time.Duration, processor TaskProcessor) bool {
	// 以 topic:partition:offset 标识一次投递, 计数在进程重启后仍然有效。
	attemptsKey := fmt.Sprintf("kafka:attempts:%s:%d:%d", topic, m.Partition, m.Offset)

	for {
		if ctx.Err() != nil {
			return false
		}

		err := processor.Process(ctx, m.Value)
		if err == nil {
			log.Infof("任务处理成功: topic=%s, offset=%d", topic, m.Offset)
			// 清理失败计数
			_ = database.RDB.Del(ctx, attemptsKey).Err()
			// 任务处理成功后，手动提交 offset
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
			return true
		}

		log.Errorf("处理任务失败: topic=%s, offset=%d, error: %v", topic, m.Offset, err)

		attempts, incErr := database.RDB.Incr(ctx, attemptsKey).Result()
		if incErr != nil {
			// Redis 异常时保守处理：按最小退避等待后原地重试
			if !sleepCtx(ctx, minBackoff) {
				return false
			}
			continue
		}
		_ = database.RDB.Expire(ctx, attemptsKey, 24*time.Hour).Err()

		if attempts >= int64(maxRetries) {
			log.Errorf("任务重试 %d 次后仍失败，提交 offset 放弃: topic=%s, offset=%d", attempts, topic, m.Offset)
			_ = database.RDB.Del(ctx, attemptsKey).Err()
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
			return true
		}

		// 指数退避: 第 n 次失败等待 minBackoff * 2^(n-1)
		if !sleepCtx(ctx, minBackoff<<(attempts-1)) {
			return false
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
