package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPQueue carries provisioning tasks over RabbitMQ so that registration and the
// workers can run in different processes.
type AMQPQueue struct {
	conn   *amqp.Connection
	chn    *amqp.Channel
	queue  string
	policy Policy
	logger *zap.Logger
}

// DialAMQP connects and declares the durable task queue.
func DialAMQP(url, queue string, policy Policy, logger *zap.Logger) (*AMQPQueue, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	chn, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	_, err = chn.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		chn.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}
	return &AMQPQueue{conn: conn, chn: chn, queue: queue, policy: policy, logger: logger}, nil
}

// Enqueue publishes the first attempt of a tenant's provisioning task.
func (q *AMQPQueue) Enqueue(ctx context.Context, tenantID string) error {
	body, err := json.Marshal(q.policy.NewTask(tenantID))
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	err = q.chn.PublishWithContext(
		ctx,
		"",      // exchange
		q.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish task for tenant %s: %w", tenantID, err)
	}
	return nil
}

// Consume feeds deliveries into pool until ctx is cancelled. A delivery is acked once
// the pool accepted it; undecodable messages are dropped.
func (q *AMQPQueue) Consume(ctx context.Context, pool *Pool) error {
	deliveries, err := q.chn.Consume(
		q.queue, // queue
		"",      // consumer
		false,   // auto-ack
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return fmt.Errorf("failed to consume %s: %w", q.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel of %s closed", q.queue)
			}
			q.dispatch(ctx, pool, d)
		}
	}
}

func (q *AMQPQueue) dispatch(ctx context.Context, pool *Pool, d amqp.Delivery) {
	task, err := decodeTask(d.Body)
	if err != nil {
		q.logger.Error("dropping malformed task", zap.Error(err))
		if nackErr := d.Nack(false, false); nackErr != nil {
			q.logger.Error("failed to nack delivery", zap.Error(nackErr))
		}
		return
	}

	if err := pool.Submit(ctx, task); err != nil {
		// back to the broker for another consumer
		if nackErr := d.Nack(false, true); nackErr != nil {
			q.logger.Error("failed to requeue delivery", zap.Error(nackErr))
		}
		return
	}
	if err := d.Ack(false); err != nil {
		q.logger.Error("failed to ack delivery", zap.String("tenant_id", task.TenantID), zap.Error(err))
	}
}

func decodeTask(body []byte) (Task, error) {
	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		return Task{}, fmt.Errorf("failed to decode task: %w", err)
	}
	if task.TenantID == "" {
		return Task{}, fmt.Errorf("task without tenant id")
	}
	if task.Attempt < 1 {
		task.Attempt = 1
	}
	return task, nil
}

func (q *AMQPQueue) Close() error {
	if err := q.chn.Close(); err != nil {
		return err
	}
	return q.conn.Close()
}
