//go:build integration

package workqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsrengine/internal/platform/config"
	"dsrengine/internal/platform/kafka"
	"dsrengine/internal/platform/kafka/consumer"
	"dsrengine/internal/platform/kafka/producer"
	"dsrengine/pkg/domain"
	"dsrengine/pkg/testutil/containers"
)

func TestKafkaQueueRoundTrip(t *testing.T) {
	broker := containers.NewRedpandaContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg := config.KafkaConfig{Brokers: []string{broker.Broker}, Topic: "dsr-work-test", ConsumerGroup: "workers-test", Partitions: 3}
	pc, err := kafka.NewClient(ctx, cfg)
	require.NoError(t, err)
	defer pc.Close()
	require.NoError(t, kafka.EnsureTopic(ctx, pc, cfg.Topic, cfg.Partitions))
	require.NoError(t, kafka.EnsureTopic(ctx, pc, cfg.Topic, cfg.Partitions), "existing topic is accepted")

	q := NewKafka(producer.New(pc, cfg.Topic))
	id := domain.NewRequestID()
	for _, kind := range []Kind{KindDiscover, KindAdvance, KindProcess} {
		require.NoError(t, q.Enqueue(ctx, NewTask(kind, id, time.Now())))
	}

	cc, err := kafka.NewClient(ctx, cfg, consumer.ClientOpts(cfg.ConsumerGroup, cfg.Topic)...)
	require.NoError(t, err)
	c, err := consumer.New(cc)
	require.NoError(t, err)

	got := make(chan Task, 3)
	runCtx, stop := context.WithCancel(ctx)
	go func() {
		_ = c.Run(runCtx, MessageHandler(HandlerFunc(func(_ context.Context, task Task) error {
			got <- task
			return nil
		})))
	}()
	defer func() {
		stop()
		cc.Close()
	}()

	var kinds []Kind
	for len(kinds) < 3 {
		select {
		case task := <-got:
			assert.Equal(t, id, task.RequestID)
			kinds = append(kinds, task.Kind)
		case <-ctx.Done():
			t.Fatal("timed out waiting for tasks")
		}
	}
	assert.Equal(t, []Kind{KindDiscover, KindAdvance, KindProcess}, kinds, "one request keeps its order")
}
