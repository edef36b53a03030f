package replicator

import (
	"encoding/json"
	"errors"
	"fmt"
)

const _defaultExchangeType = "topic"

var (
	ErrNoMappings       = errors.New("no mappings configured for replication")
	ErrDuplicateMapping = errors.New("duplicate source identifier in mapping table")
)

// Route is one replication mapping. On the cross-broker legs the Kafka topic
// and the exchange/queue/routing-key triple address the two sides; on the
// mirror leg TargetTopic holds the destination topic instead.
type Route struct {
	KafkaTopic   string `json:"kafkaTopic"`
	Exchange     string `json:"rabbitmqExchange"`
	ExchangeType string `json:"rabbitmqExchangeType"`
	Queue        string `json:"rabbitmqQueue"`
	RoutingKey   string `json:"rabbitmqRoutingKey"`
	TargetTopic  string `json:"-"`
}

// Table is the validated route table, loaded once at startup and immutable
// afterwards. Lookups by source identifier are O(1).
type Table struct {
	routes  []Route
	byTopic map[string]Route
	byQueue map[string]Route
}

// ParseMappings builds a table from the REPLICATION_MAPPINGS JSON array used
// by the cross-broker bridge.
func ParseMappings(raw string) (*Table, error) {
	var routes []Route
	if err := json.Unmarshal([]byte(raw), &routes); err != nil {
		return nil, fmt.Errorf("invalid REPLICATION_MAPPINGS: %w", err)
	}
	return NewTable(routes)
}

// ParseTopicMapping builds a table from the TOPIC_MAPPING JSON object
// (source topic to target topic) used by the mirror bridge.
func ParseTopicMapping(raw string) (*Table, error) {
	var mapping map[string]string
	if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
		return nil, fmt.Errorf("invalid TOPIC_MAPPING: %w", err)
	}
	routes := make([]Route, 0, len(mapping))
	for source, target := range mapping {
		routes = append(routes, Route{KafkaTopic: source, TargetTopic: target})
	}
	return NewTable(routes)
}

func NewTable(routes []Route) (*Table, error) {
	if len(routes) == 0 {
		return nil, ErrNoMappings
	}

	table := &Table{
		routes:  routes,
		byTopic: make(map[string]Route, len(routes)),
		byQueue: make(map[string]Route, len(routes)),
	}
	for i, route := range routes {
		if route.KafkaTopic == "" && route.Queue == "" {
			return nil, fmt.Errorf("mapping %d has no source identifier", i+1)
		}
		if route.Exchange != "" && route.ExchangeType == "" {
			route.ExchangeType = _defaultExchangeType
			table.routes[i] = route
		}
		if route.KafkaTopic != "" {
			if _, exists := table.byTopic[route.KafkaTopic]; exists {
				return nil, fmt.Errorf("%w: topic %q", ErrDuplicateMapping, route.KafkaTopic)
			}
			table.byTopic[route.KafkaTopic] = route
		}
		if route.Queue != "" {
			if _, exists := table.byQueue[route.Queue]; exists {
				return nil, fmt.Errorf("%w: queue %q", ErrDuplicateMapping, route.Queue)
			}
			table.byQueue[route.Queue] = route
		}
	}

	return table, nil
}

func (t *Table) ResolveTopic(topic string) (Route, bool) {
	route, ok := t.byTopic[topic]
	return route, ok
}

func (t *Table) ResolveQueue(queue string) (Route, bool) {
	route, ok := t.byQueue[queue]
	return route, ok
}

func (t *Table) Routes() []Route {
	return t.routes
}

func (t *Table) Len() int {
	return len(t.routes)
}

// Topics lists the source topics consumed on the log-broker side.
func (t *Table) Topics() []string {
	topics := make([]string, 0, len(t.byTopic))
	for _, route := range t.routes {
		if route.KafkaTopic != "" {
			topics = append(topics, route.KafkaTopic)
		}
	}
	return topics
}

// Queues lists the queues consumed on the queue-broker side.
func (t *Table) Queues() []string {
	queues := make([]string, 0, len(t.byQueue))
	for _, route := range t.routes {
		if route.Queue != "" {
			queues = append(queues, route.Queue)
		}
	}
	return queues
}
