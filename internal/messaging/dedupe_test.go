package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func Test_Idempotent_SkipsRedelivery(t *testing.T) {
	d := NewLRUDeduper(16, time.Minute)

	calls := 0
	h := Idempotent(d, time.Minute, zap.NewNop(), func(context.Context, Message) error {
		calls++
		return nil
	})

	msg := Message{ID: "m-1", Topic: TopicAppointments, Event: EventCreated}
	require.NoError(t, h(context.Background(), msg))
	require.NoError(t, h(context.Background(), msg))

	assert.Equal(t, 1, calls)
}

func Test_Idempotent_FailureIsNotMarked(t *testing.T) {
	d := NewLRUDeduper(16, time.Minute)

	calls := 0
	h := Idempotent(d, time.Minute, zap.NewNop(), func(context.Context, Message) error {
		calls++
		if calls == 1 {
			return errors.New("transient")
		}
		return nil
	})

	msg := Message{ID: "m-2", Topic: TopicAppointments, Event: EventCreated}
	require.Error(t, h(context.Background(), msg))
	require.NoError(t, h(context.Background(), msg))
	require.NoError(t, h(context.Background(), msg))

	assert.Equal(t, 2, calls)
}

func Test_Idempotent_WithoutIDAlwaysHandles(t *testing.T) {
	d := NewLRUDeduper(16, time.Minute)

	calls := 0
	h := Idempotent(d, time.Minute, zap.NewNop(), func(context.Context, Message) error {
		calls++
		return nil
	})

	require.NoError(t, h(context.Background(), Message{}))
	require.NoError(t, h(context.Background(), Message{}))
	assert.Equal(t, 2, calls)
}

func Test_Idempotent_PanicIsNotMarked(t *testing.T) {
	d := NewLRUDeduper(16, time.Minute)

	calls := 0
	h := Idempotent(d, time.Minute, zap.NewNop(), func(context.Context, Message) error {
		calls++
		if calls == 1 {
			panic("worker died")
		}
		return nil
	})

	msg := Message{ID: "m-4", Topic: TopicAppointments, Event: EventRequested}
	assert.Panics(t, func() { _ = h(context.Background(), msg) })
	require.NoError(t, h(context.Background(), msg))
	require.NoError(t, h(context.Background(), msg))

	assert.Equal(t, 2, calls)
}

type failingDeduper struct {
	seenErr error
	markErr error
}

func (f failingDeduper) Seen(context.Context, string) (bool, error) {
	return false, f.seenErr
}

func (f failingDeduper) Mark(context.Context, string, time.Duration) error { return f.markErr }

func Test_Idempotent_SeenErrorIsReturned(t *testing.T) {
	h := Idempotent(failingDeduper{seenErr: errors.New("redis down")}, time.Minute, zap.NewNop(), func(context.Context, Message) error {
		t.Fatal("handler must not run")
		return nil
	})

	assert.Error(t, h(context.Background(), Message{ID: "m-3"}))
}

func Test_Idempotent_MarkErrorKeepsSuccess(t *testing.T) {
	calls := 0
	h := Idempotent(failingDeduper{markErr: errors.New("redis down")}, time.Minute, zap.NewNop(), func(context.Context, Message) error {
		calls++
		return nil
	})

	assert.NoError(t, h(context.Background(), Message{ID: "m-5"}))
	assert.Equal(t, 1, calls)
}

func Test_LRUDeduper_SeenAfterMark(t *testing.T) {
	d := NewLRUDeduper(16, time.Minute)
	ctx := context.Background()

	seen, err := d.Seen(ctx, "key")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, d.Mark(ctx, "key", time.Minute))

	seen, err = d.Seen(ctx, "key")
	require.NoError(t, err)
	assert.True(t, seen)
}

func Test_LRUDeduper_Expires(t *testing.T) {
	d := NewLRUDeduper(16, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, d.Mark(ctx, "key", time.Minute))
	assert.Eventually(t, func() bool {
		seen, err := d.Seen(ctx, "key")
		return err == nil && !seen
	}, time.Second, 5*time.Millisecond)
}
