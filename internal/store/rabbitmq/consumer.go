package rabbitmq

import (
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
)

type Consumer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

// NewConsumer opens a channel with prefetch limited to concurrency.
func NewConsumer(url, queue string, concurrency int) (*Consumer, error) {
	conn, ch, err := dial(url, queue)
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch, queue: queue}, nil
}

func (c *Consumer) Deliveries() (<-chan amqp.Delivery, error) {
	return c.ch.Consume(c.queue, "", false, false, false, false, nil)
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// DecodeReplyJob parses a delivery body; a job without id is rejected.
func DecodeReplyJob(body []byte) (ReplyJob, error) {
	var j ReplyJob
	if err := json.Unmarshal(body, &j); err != nil {
		return ReplyJob{}, err
	}
	if j.JobID == "" {
		return ReplyJob{}, errors.New("rabbitmq: job_id is required")
	}
	return j, nil
}
