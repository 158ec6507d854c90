package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// Deduper records handled message ids. Marking happens only after a handler
// succeeded, so a delivery that crashed or failed midway is never hidden from
// its redelivery.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

// Idempotent skips redeliveries of a message id that was already handled
// successfully. Two concurrent deliveries of the same id may both run, so the
// wrapped handler must still converge on the same end state.
func Idempotent(d Deduper, ttl time.Duration, log *zap.Logger, h Handler) Handler {
	return func(ctx context.Context, msg Message) error {
		if msg.ID == "" {
			return h(ctx, msg)
		}

		key := msg.Topic + "." + msg.Event + ":" + msg.ID
		seen, err := d.Seen(ctx, key)
		if err != nil {
			return err
		}
		if seen {
			log.Debug("duplicate message skipped",
				zap.String("topic", msg.Topic),
				zap.String("event", msg.Event),
				zap.String("message_id", msg.ID),
			)
			return nil
		}

		if err := h(ctx, msg); err != nil {
			return err
		}

		// the work is done, a failed mark only costs a repeated run
		if err := d.Mark(ctx, key, ttl); err != nil {
			log.Warn("mark message handled", zap.String("message_id", msg.ID), zap.Error(err))
		}
		return nil
	}
}

// LRUDeduper keeps handled ids in process memory, bounded by size and age. The
// ttl passed to Mark is ignored in favour of the one given at construction.
type LRUDeduper struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

func NewLRUDeduper(size int, ttl time.Duration) *LRUDeduper {
	return &LRUDeduper{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

func (d *LRUDeduper) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.cache.Contains(key), nil
}

func (d *LRUDeduper) Mark(_ context.Context, key string, _ time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache.Add(key, struct{}{})
	return nil
}
