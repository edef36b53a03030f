package replicator

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Stats holds the process-wide replication counters. They are written by the
// supervisor goroutine and read by the health endpoint, so every mutable
// field is accessed atomically. Counters are never reset.
type Stats struct {
	messages    atomic.Int64
	errors      atomic.Int64
	lastMessage atomic.Int64 // unix nanoseconds, 0 until the first message
	startTime   time.Time

	promMessages prometheus.Counter
	promErrors   prometheus.Counter
}

func NewStats(registry prometheus.Registerer, direction Direction) *Stats {
	factory := promauto.With(registry)
	labels := prometheus.Labels{"direction": string(direction)}
	return &Stats{
		startTime: time.Now(),
		promMessages: factory.NewCounter(prometheus.CounterOpts{
			Name:        "replicator_messages_processed_total",
			Help:        "Messages that entered the replication pipeline.",
			ConstLabels: labels,
		}),
		promErrors: factory.NewCounter(prometheus.CounterOpts{
			Name:        "replicator_errors_total",
			Help:        "Errors recovered by the replication pipeline or supervisor.",
			ConstLabels: labels,
		}),
	}
}

// RecordMessage counts one processed message and returns the running total.
func (s *Stats) RecordMessage() int64 {
	s.lastMessage.Store(time.Now().UnixNano())
	s.promMessages.Inc()
	return s.messages.Add(1)
}

func (s *Stats) RecordError() {
	s.promErrors.Inc()
	s.errors.Add(1)
}

// StatsSnapshot is an immutable view handed to readers outside the
// replication path.
type StatsSnapshot struct {
	Messages    int64
	Errors      int64
	Uptime      time.Duration
	LastMessage time.Time // zero when no message has been seen yet
}

func (s *Stats) Snapshot() StatsSnapshot {
	snapshot := StatsSnapshot{
		Messages: s.messages.Load(),
		Errors:   s.errors.Load(),
		Uptime:   time.Since(s.startTime),
	}
	if nanos := s.lastMessage.Load(); nanos > 0 {
		snapshot.LastMessage = time.Unix(0, nanos)
	}
	return snapshot
}
