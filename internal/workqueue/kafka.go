package workqueue

import (
	"context"
	"fmt"

	"dsrengine/internal/platform/kafka/consumer"
	"dsrengine/internal/platform/kafka/producer"
)

// KafkaQueue publishes tasks keyed by request, so tasks of one request are
// consumed in order by a single worker.
type KafkaQueue struct {
	producer *producer.Producer
}

func NewKafka(p *producer.Producer) *KafkaQueue {
	return &KafkaQueue{producer: p}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, t Task) error {
	value, err := t.Encode()
	if err != nil {
		return err
	}
	if err := q.producer.Publish(ctx, []byte(t.RequestID.String()), value); err != nil {
		return fmt.Errorf("enqueue %s task: %w", t.Kind, err)
	}
	return nil
}

// MessageHandler adapts a task handler to consumed Kafka messages.
// Undecodable messages are committed and dropped.
func MessageHandler(h Handler) consumer.Handler {
	return consumer.HandlerFunc(func(ctx context.Context, msg *consumer.Message) error {
		t, err := Decode(msg.Value)
		if err != nil {
			return nil
		}
		return h.HandleTask(ctx, t)
	})
}
