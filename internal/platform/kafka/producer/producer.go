// Package producer publishes keyed records and waits for broker acknowledgement.
package producer

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer writes to a single topic. Records with the same key land on the
// same partition, which keeps per-key ordering.
type Producer struct {
	client *kgo.Client
	topic  string
}

func New(client *kgo.Client, topic string) *Producer {
	return &Producer{client: client, topic: topic}
}

// Publish blocks until the record is acknowledged by all in-sync replicas.
func (p *Producer) Publish(ctx context.Context, key, value []byte) error {
	rec := &kgo.Record{Topic: p.topic, Key: key, Value: value}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", p.topic, err)
	}
	return nil
}

func (p *Producer) Topic() string {
	return p.topic
}
