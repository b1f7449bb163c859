package job

import (
	"context"
	"log/slog"

	xerrors "ExoLab-Agents/internal/errors"
	"ExoLab-Agents/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 使用 RabbitMQ 实现任务队列，采用手动确认。
type RabbitMQQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewRabbitMQQueue 建立连接并声明队列，任何一步失败都会释放已打开的资源。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	q := &RabbitMQQueue{queue: cfg.Queue}
	if q.queue == "" {
		q.queue = "exolab.jobs"
	}

	var err error
	if q.conn, err = amqp.Dial(cfg.URL); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 RabbitMQ 失败")
	}
	steps := []struct {
		what string
		run  func() error
	}{
		{"创建 channel", func() (err error) { q.ch, err = q.conn.Channel(); return err }},
		{"设置 QoS", func() error {
			if cfg.Prefetch <= 0 {
				return nil
			}
			return q.ch.Qos(cfg.Prefetch, 0, false)
		}},
		{"声明队列", func() error {
			_, err := q.ch.QueueDeclare(q.queue, cfg.Durable, cfg.AutoDelete, false, false, nil)
			return err
		}},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			_ = q.Close()
			return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ "+step.what+"失败")
		}
	}
	return q, nil
}

// Publish 将任务投递到 RabbitMQ。
func (q *RabbitMQQueue) Publish(ctx context.Context, jobID string) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	err := q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Body:         []byte(jobID),
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ 发布任务失败")
	}
	return nil
}

// Consume 使用手动确认模式消费队列，处理失败的消息会被重新入队。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	msgs, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 RabbitMQ 队列失败")
	}
	return serve[amqp.Delivery](ctx, workerCount, msgs, settle(handler))
}

// settle 根据处理结果确认消息：成功 Ack，失败 Nack 并重新入队。
func settle(handler Handler) func(context.Context, amqp.Delivery) {
	log := logger.Named("job")
	return func(ctx context.Context, msg amqp.Delivery) {
		jobID := string(msg.Body)
		if err := handler(ctx, jobID); err != nil {
			if nackErr := msg.Nack(false, true); nackErr != nil {
				log.Error("RabbitMQ nack 失败", slog.String("job_id", jobID), slog.Any("error", nackErr))
			}
			return
		}
		if ackErr := msg.Ack(false); ackErr != nil {
			log.Error("RabbitMQ ack 失败", slog.String("job_id", jobID), slog.Any("error", ackErr))
		}
	}
}

// Close 关闭 RabbitMQ 连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
