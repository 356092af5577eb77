package eventbus

import "errors"

var (
	ErrClosed    = errors.New("event bus is closed")
	ErrQueueFull = errors.New("event bus partition queue is full")
)

// Event is one message on the bus. Events with the same Key are delivered
// in publish order by a single partition.
type Event struct {
	Topic   string `json:"topic"`
	Key     string `json:"key"`
	Payload any    `json:"payload"`
}

// Handler processes an event on a partition goroutine.
type Handler func(event *Event) error

// Stats is a point-in-time view of the bus counters.
type Stats struct {
	PublishedCount int64
	ProcessedCount int64
	DroppedCount   int64
	FailedCount    int64
	PartitionCount int
	QueuedCount    []int
}

type partition struct {
	id    int
	queue chan *Event
}
