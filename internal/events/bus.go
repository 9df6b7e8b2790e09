package events

import (
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"

	"github.com/maxkimambo/dagrun/internal/logger"
)

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Bus is a non-blocking Sink. Each subscription has its own buffered channel
// and goroutine, and receives its events in emit order. A subscription whose
// buffer is full misses the event; misses are counted.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]chan Event
	all         []chan Event
	bufferSize  int
	wg          sync.WaitGroup
	dropped     atomic.Int64
}

// NewBus creates a bus with the given buffer size per subscriber.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for one event type and returns an unsubscribe func.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.start(fn)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs, ok := remove(b.subscribers[eventType], ch)
		if ok {
			b.subscribers[eventType] = subs
			close(ch)
		}
	}
}

// SubscribeAll registers fn for every event type on a single channel, so
// fn sees events in the order they were emitted.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.start(fn)
	b.all = append(b.all, ch)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs, ok := remove(b.all, ch)
		if ok {
			b.all = subs
			close(ch)
		}
	}
}

// start runs fn over a new channel. Caller holds the write lock.
func (b *Bus) start(fn Subscriber) chan Event {
	ch := make(chan Event, b.bufferSize)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range ch {
			deliver(fn, event)
		}
	}()
	return ch
}

func deliver(fn Subscriber, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Op.WithFields(map[string]interface{}{
				"event_type": string(event.Type),
				"task_id":    event.TaskID,
				"panic":      r,
			}).Error("Event subscriber panicked")
		}
	}()
	fn(event)
}

func remove(subs []chan Event, ch chan Event) ([]chan Event, bool) {
	for i, c := range subs {
		if c == ch {
			return append(subs[:i], subs[i+1:]...), true
		}
	}
	return subs, false
}

// JSONLines returns a Subscriber that writes each event to w as one JSON
// object per line. Writes are serialized across subscriber goroutines.
func JSONLines(w io.Writer) Subscriber {
	var mu sync.Mutex
	enc := json.NewEncoder(w)
	return func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		_ = enc.Encode(e)
	}
}

// Emit implements Sink.
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[e.Type] {
		b.send(ch, e)
	}
	for _, ch := range b.all {
		b.send(ch, e)
	}
}

func (b *Bus) send(ch chan Event, e Event) {
	select {
	case ch <- e:
	default:
		if n := b.dropped.Add(1); n == 1 {
			logger.Op.WithFields(map[string]interface{}{
				"event_type": string(e.Type),
				"task_id":    e.TaskID,
				"buffer":     b.bufferSize,
			}).Warn("Event subscriber is falling behind, dropping events")
		}
	}
}

// Dropped returns how many deliveries were skipped because a buffer was full
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close closes all subscriber channels and waits for pending deliveries.
func (b *Bus) Close() {
	b.mu.Lock()
	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
	for _, ch := range b.all {
		close(ch)
	}
	b.all = nil
	b.mu.Unlock()
	b.wg.Wait()

	if n := b.Dropped(); n > 0 {
		logger.Op.WithFields(map[string]interface{}{
			"dropped": n,
		}).Warn("Event bus dropped deliveries")
	}
}
