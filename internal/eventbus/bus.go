// Package eventbus fans analyzer output out to reporters. Publishing never
// blocks: a full partition drops the event and counts it.
package eventbus

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/serialx/hashring"

	"firestige.xyz/flowscope/internal/metrics"
)

// ringPointsPerPartition is the weight each partition gets on the hash ring.
// With one point per node, sequential connection IDs land mostly on one or
// two partitions.
const ringPointsPerPartition = 128

// EventBus is the publish/subscribe surface used by the engine.
type EventBus interface {
	Publish(event *Event) error
	Subscribe(topic string, handler Handler) error
	Close() error
	GetStats() *Stats
}

// InMemoryEventBus partitions events over a consistent hash ring keyed by
// Event.Key. Each partition has its own queue and goroutine.
type InMemoryEventBus struct {
	partitions     []*partition
	partitionNodes []string
	hashRing       *hashring.HashRing
	logger         *slog.Logger

	mu          sync.RWMutex
	subscribers map[string][]Handler

	closeMu sync.RWMutex
	closed  bool
	wg      sync.WaitGroup

	publishedCount atomic.Int64
	processedCount atomic.Int64
	droppedCount   atomic.Int64
	failedCount    atomic.Int64
}

// NewInMemoryEventBus creates the bus and starts its partitions.
func NewInMemoryEventBus(partitionCount, queueSize int) *InMemoryEventBus {
	if partitionCount <= 0 {
		partitionCount = 1
	}
	b := &InMemoryEventBus{
		partitions:     make([]*partition, partitionCount),
		partitionNodes: make([]string, partitionCount),
		subscribers:    make(map[string][]Handler),
		logger:         slog.Default().With("component", "eventbus"),
	}
	weights := make(map[string]int, partitionCount)
	for i := range b.partitionNodes {
		b.partitionNodes[i] = "partition-" + strconv.Itoa(i)
		weights[b.partitionNodes[i]] = ringPointsPerPartition
	}
	b.hashRing = hashring.NewWithWeights(weights)

	for i := range b.partitions {
		b.partitions[i] = &partition{id: i, queue: make(chan *Event, queueSize)}
		b.wg.Add(1)
		go b.runPartition(b.partitions[i])
	}
	return b
}

// Publish enqueues the event on its partition without blocking.
func (b *InMemoryEventBus) Publish(event *Event) error {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	id := b.partitionID(event.Key)
	select {
	case b.partitions[id].queue <- event:
		b.publishedCount.Add(1)
		return nil
	default:
		b.droppedCount.Add(1)
		metrics.EventBusDroppedTotal.WithLabelValues(strconv.Itoa(id)).Inc()
		return fmt.Errorf("%w: partition %d", ErrQueueFull, id)
	}
}

// Subscribe adds a handler for a topic. Several handlers may share a topic;
// they run in subscription order.
func (b *InMemoryEventBus) Subscribe(topic string, handler Handler) error {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	b.mu.Lock()
	b.subscribers[topic] = append(b.subscribers[topic], handler)
	b.mu.Unlock()

	b.logger.Debug("subscribed", "topic", topic)
	return nil
}

// Close stops accepting events and waits until every queued event has been
// handled.
func (b *InMemoryEventBus) Close() error {
	b.closeMu.Lock()
	if b.closed {
		b.closeMu.Unlock()
		return nil
	}
	b.closed = true
	for _, p := range b.partitions {
		close(p.queue)
	}
	b.closeMu.Unlock()

	b.wg.Wait()
	b.logger.Info("event bus closed",
		"published", b.publishedCount.Load(), "dropped", b.droppedCount.Load())
	return nil
}

// GetStats returns the counters and current queue depths.
func (b *InMemoryEventBus) GetStats() *Stats {
	s := &Stats{
		PublishedCount: b.publishedCount.Load(),
		ProcessedCount: b.processedCount.Load(),
		DroppedCount:   b.droppedCount.Load(),
		FailedCount:    b.failedCount.Load(),
		PartitionCount: len(b.partitions),
		QueuedCount:    make([]int, len(b.partitions)),
	}
	for i, p := range b.partitions {
		s.QueuedCount[i] = len(p.queue)
	}
	return s
}

// partitionID maps a key to a partition through the hash ring.
func (b *InMemoryEventBus) partitionID(key string) int {
	node, ok := b.hashRing.GetNode(key)
	if !ok {
		return 0
	}
	for i, n := range b.partitionNodes {
		if n == node {
			return i
		}
	}
	return 0
}

func (b *InMemoryEventBus) dispatch(p *partition, event *Event) {
	b.mu.RLock()
	handlers := b.subscribers[event.Topic]
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(event); err != nil {
			b.failedCount.Add(1)
			b.logger.Error("event handler failed", "partition", p.id, "topic", event.Topic, "error", err)
		}
	}
	b.processedCount.Add(1)
}

func (b *InMemoryEventBus) runPartition(p *partition) {
	defer b.wg.Done()
	for event := range p.queue {
		b.dispatch(p, event)
	}
}
