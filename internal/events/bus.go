package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type EventType string

const (
	EventAttemptFinished EventType = "attempt_finished"
	EventUnitFinished    EventType = "unit_finished"
)

// Event carries live progress for one unit.
type Event struct {
	Type      EventType
	Timestamp time.Time
	RunID     string
	Unit      string
	Attempt   int
	Status    string // unit_finished only
	Message   string
	Duration  time.Duration
}

type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe bus. Each subscriber has a buffered
// channel; when it is full the event is dropped for that subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	bufferSize  int
	logger      *zap.Logger
	wg          sync.WaitGroup
}

func NewBus(bufferSize int, logger *zap.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
		logger:      logger.Named("bus"),
	}
}

// Subscribe registers fn for eventType and returns an unsubscribe function.
// fn runs on its own goroutine; a panic inside it is logged and the
// subscription keeps running.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for ev := range ch {
			b.deliver(fn, ev)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[eventType]
		for i, c := range subs {
			if c == ch {
				b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

func (b *Bus) deliver(fn Subscriber, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panic", zap.String("event", string(ev.Type)), zap.Any("panic", r))
		}
	}()
	fn(ev)
}

// Publish never blocks. A nil bus is a no-op.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers[ev.Type] {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("subscriber full, event dropped", zap.String("event", string(ev.Type)))
		}
	}
}

// Close closes every subscription and waits for pending deliveries.
func (b *Bus) Close() {
	b.mu.Lock()
	for t, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, t)
	}
	b.mu.Unlock()
	b.wg.Wait()
}
