package replicator

import "fmt"

// Direction selects which adapter pair a bridge wires together. The pipeline
// itself is direction-agnostic once constructed.
type Direction string

const (
	DirectionKafkaToRabbitMQ Direction = "k2r"
	DirectionRabbitMQToKafka Direction = "r2k"
	DirectionSourceToTarget  Direction = "s2t"
	DirectionTargetToSource  Direction = "t2s"
)

func ParseDirection(raw string) (Direction, error) {
	switch d := Direction(raw); d {
	case DirectionKafkaToRabbitMQ, DirectionRabbitMQToKafka,
		DirectionSourceToTarget, DirectionTargetToSource:
		return d, nil
	default:
		return "", fmt.Errorf("invalid direction: %q", raw)
	}
}

// Origin identifies where a message was received. Topic/Partition/Offset are
// set on the log-broker legs, Queue/DeliveryTag/Exchange/RoutingKey on the
// queue-broker leg.
type Origin struct {
	Topic     string
	Partition int32
	Offset    int64

	Queue       string
	DeliveryTag uint64
	Exchange    string
	RoutingKey  string
}

// SourceID is the identifier the mapping table is keyed by.
func (o Origin) SourceID() string {
	if o.Queue != "" {
		return o.Queue
	}
	return o.Topic
}

// Coordinates renders the broker-specific position, e.g. "orders:0:42" or
// "orders-q:17". Combined with the direction tag it forms the dedup id.
func (o Origin) Coordinates() string {
	if o.Queue != "" {
		return fmt.Sprintf("%s:%d", o.Queue, o.DeliveryTag)
	}
	return fmt.Sprintf("%s:%d:%d", o.Topic, o.Partition, o.Offset)
}

// Header is one origin header carried across on the mirror leg. Order and
// duplicates are preserved.
type Header struct {
	Key   string
	Value []byte
}

// Message is one value under replication. The byte forms of Key and Body are
// authoritative; any text decode is best-effort and for logging only. Ack and
// Nack are nil on the log-broker legs, which have no per-message
// acknowledgment.
type Message struct {
	Key     []byte
	Body    []byte
	Headers []Header
	Origin  Origin

	// ReplicatorID is the deduplication identifier, filled in by the
	// pipeline before the destination produce.
	ReplicatorID string

	Ack  func() error
	Nack func(requeue bool) error
}
