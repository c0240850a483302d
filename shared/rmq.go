package shared

import (
	"context"
	"encoding/json"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RMQueue struct {
	Connection *amqp.Connection
	Channel    *amqp.Channel
	Queue      amqp.Queue
}

func NewRMQueue(Url string, QueueName string) (*RMQueue, error) {
	q := &RMQueue{}
	var err error
	q.Connection, err = amqp.Dial(Url)
	if err != nil {
		return q, err
	}
	q.Channel, err = q.Connection.Channel()
	if err != nil {
		q.Connection.Close()
		return q, err
	}
	q.Queue, err = q.Channel.QueueDeclare(QueueName, true, false, false, false, nil)
	if err != nil {
		q.Close()
		return q, err
	}
	return q, nil
}

func (q *RMQueue) Close() {
	q.Channel.Close()
	q.Connection.Close()
}

func (q *RMQueue) Publish(ctx context.Context, body []byte) error {
	return q.Channel.PublishWithContext(ctx, "", q.Queue.Name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
}

func (q *RMQueue) PublishJSON(ctx context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return q.Publish(ctx, body)
}
