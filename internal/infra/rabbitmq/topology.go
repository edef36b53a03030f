package rabbitmq

import "broker-replicator/internal/replicator"

// Role distinguishes the two wiring configurations of the adapter. The
// producer role owns the full exchange/queue/binding graph; the consumer
// role only asserts the queues it subscribes to.
type Role int

const (
	RoleProducer Role = iota
	RoleConsumer
)

// Topology is the set of declarations run after every successful connect,
// before message flow starts.
type Topology struct {
	Exchanges map[string]string // exchange name -> kind
	Queues    []QueueBinding
}

type QueueBinding struct {
	Queue      string
	Exchange   string
	RoutingKey string
}

// BuildTopology derives the declarations referenced by the route table.
func BuildTopology(routes []replicator.Route, role Role) Topology {
	topology := Topology{Exchanges: make(map[string]string)}
	seen := make(map[string]struct{})
	for _, route := range routes {
		if route.Queue == "" && route.Exchange == "" {
			continue
		}
		if role == RoleProducer && route.Exchange != "" {
			topology.Exchanges[route.Exchange] = route.ExchangeType
		}
		if route.Queue == "" {
			continue
		}
		if _, ok := seen[route.Queue]; ok {
			continue
		}
		seen[route.Queue] = struct{}{}
		binding := QueueBinding{Queue: route.Queue}
		if role == RoleProducer {
			binding.Exchange = route.Exchange
			binding.RoutingKey = route.RoutingKey
		}
		topology.Queues = append(topology.Queues, binding)
	}
	return topology
}
