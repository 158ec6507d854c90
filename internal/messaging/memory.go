package messaging

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrBusClosed = errors.New("message bus closed")

const (
	defaultMaxAttempts = 5
	defaultBaseDelay   = 20 * time.Millisecond
)

// MemoryBus delivers in-process. Every delivery runs on its own goroutine
// detached from the publisher's context, so handlers observe the same
// unordered, possibly delayed delivery they get from the broker.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string][]Handler
	closed bool
	wg     sync.WaitGroup

	maxAttempts int
	baseDelay   time.Duration
	log         *zap.Logger
}

type MemoryOption func(*MemoryBus)

// WithMaxAttempts sets how many times a failing handler is invoked before the
// delivery is dropped.
func WithMaxAttempts(n int) MemoryOption {
	return func(b *MemoryBus) {
		if n > 0 {
			b.maxAttempts = n
		}
	}
}

// WithBaseDelay sets the first retry delay; it doubles on each attempt.
func WithBaseDelay(d time.Duration) MemoryOption {
	return func(b *MemoryBus) {
		if d >= 0 {
			b.baseDelay = d
		}
	}
}

func NewMemoryBus(log *zap.Logger, opts ...MemoryOption) *MemoryBus {
	b := &MemoryBus{
		subs:        make(map[string][]Handler),
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		log:         log,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func routeKey(topic, event string) string {
	return topic + "/" + event
}

func (b *MemoryBus) Subscribe(topic, event string, h Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	key := routeKey(topic, event)
	b.subs[key] = append(b.subs[key], h)
	return nil
}

func (b *MemoryBus) Publish(_ context.Context, topic, event string, payload any, exactlyOnceRequested bool) error {
	data, err := Encode(payload)
	if err != nil {
		return err
	}

	msg := Message{
		ID:                   uuid.NewString(),
		Topic:                topic,
		Event:                event,
		Attributes:           Attributes(event),
		Payload:              data,
		ExactlyOnceRequested: exactlyOnceRequested,
		PublishedAt:          time.Now(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}

	handlers := b.subs[routeKey(topic, event)]
	for _, h := range handlers {
		b.wg.Add(1)
		go b.deliver(h, msg)
	}

	b.log.Debug("message published",
		zap.String("topic", topic),
		zap.String("event", event),
		zap.String("message_id", msg.ID),
		zap.Int("subscribers", len(handlers)),
	)
	return nil
}

func (b *MemoryBus) deliver(h Handler, msg Message) {
	defer b.wg.Done()

	ctx := context.Background()
	var lastErr error

	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(b.baseDelay * time.Duration(1<<(attempt-2)))
		}

		msg.Attempt = attempt
		lastErr = h(ctx, msg)
		if lastErr == nil {
			return
		}

		b.log.Warn("message handler failed",
			zap.String("topic", msg.Topic),
			zap.String("event", msg.Event),
			zap.String("message_id", msg.ID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)
	}

	b.log.Error("message dropped after retries",
		zap.String("topic", msg.Topic),
		zap.String("event", msg.Event),
		zap.String("message_id", msg.ID),
		zap.Error(lastErr),
	)
}

// Wait blocks until every in-flight delivery, including deliveries published
// by handlers, has finished.
func (b *MemoryBus) Wait() {
	b.wg.Wait()
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	return nil
}
