package kafka

import (
	"testing"
	"time"

	"broker-replicator/internal/replicator"

	"github.com/Shopify/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMessage(t *testing.T) {
	msg := toMessage(&sarama.ConsumerMessage{
		Topic:     "orders",
		Partition: 3,
		Offset:    42,
		Key:       []byte("order-1"),
		Value:     []byte(`{"id":1}`),
		Headers: []*sarama.RecordHeader{
			{Key: []byte("trace_id"), Value: []byte("abc")},
		},
	})

	assert.Equal(t, "orders", msg.Origin.Topic)
	assert.Equal(t, int32(3), msg.Origin.Partition)
	assert.Equal(t, int64(42), msg.Origin.Offset)
	assert.Equal(t, []byte("order-1"), msg.Key)
	assert.Equal(t, []byte(`{"id":1}`), msg.Body)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "trace_id", msg.Headers[0].Key)
	assert.Nil(t, msg.Ack)
	assert.Nil(t, msg.Nack)
}

func TestPollDrainsWithoutBlocking(t *testing.T) {
	consumer := &Consumer{messages: make(chan replicator.Message, 8)}
	for i := 0; i < 3; i++ {
		consumer.messages <- replicator.Message{Origin: replicator.Origin{Topic: "orders", Offset: int64(i)}}
	}

	batch := consumer.Poll(time.Second)
	require.Len(t, batch, 3)
	assert.Equal(t, int64(0), batch[0].Origin.Offset)
	assert.Equal(t, int64(2), batch[2].Origin.Offset)
}

func TestPollTimesOutEmpty(t *testing.T) {
	consumer := &Consumer{messages: make(chan replicator.Message)}

	start := time.Now()
	batch := consumer.Poll(20 * time.Millisecond)
	assert.Nil(t, batch)
	assert.Less(t, time.Since(start), time.Second)
}
