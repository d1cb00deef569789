package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"Argos-Oracle/internal/config"
)

const defaultAMQPQueue = "argos.submissions"

// publisher is the part of *amqp.Channel used for notifications.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPRecorder publishes every entry as a JSON message to a RabbitMQ queue so
// downstream consumers can react to receipts.
type AMQPRecorder struct {
	conn  *amqp.Connection
	ch    publisher
	queue string
}

// NewAMQPRecorder dials RabbitMQ and declares the queue.
func NewAMQPRecorder(cfg config.AMQPConfig) (*AMQPRecorder, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = defaultAMQPQueue
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("声明 RabbitMQ 队列失败: %w", err)
	}
	return &AMQPRecorder{conn: conn, ch: ch, queue: queue}, nil
}

// Name implements Recorder.
func (r *AMQPRecorder) Name() string { return "amqp" }

// Record implements Recorder.
func (r *AMQPRecorder) Record(ctx context.Context, entry Entry) error {
	if r == nil || r.ch == nil {
		return errors.New("RabbitMQ 通道未初始化")
	}
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("序列化提交记录失败: %w", err)
	}
	msg := amqp.Publishing{
		ContentType: "application/json",
		MessageId:   entry.RunID,
		Type:        string(entry.Status),
		Timestamp:   entry.RecordedAt,
		Body:        body,
	}
	if entry.RecordedAt.IsZero() {
		msg.Timestamp = time.Now()
	}
	if err := r.ch.PublishWithContext(ctx, "", r.queue, false, false, msg); err != nil {
		return fmt.Errorf("发布回执通知失败: %w", err)
	}
	return nil
}

// Close closes the channel and the connection.
func (r *AMQPRecorder) Close() error {
	if r == nil {
		return nil
	}
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
