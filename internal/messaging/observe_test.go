package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcome struct {
	kind  string
	topic string
	event string
	err   error
}

type recordingObserver struct {
	mu  sync.Mutex
	got []outcome
}

func (r *recordingObserver) Published(topic, event string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, outcome{"published", topic, event, err})
}

func (r *recordingObserver) Consumed(topic, event string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, outcome{"consumed", topic, event, err})
}

func Test_Observe_ReportsPublishAndConsume(t *testing.T) {
	bus := newTestBus(WithMaxAttempts(1))
	obs := &recordingObserver{}
	port := Observe(bus, obs)

	boom := errors.New("boom")
	require.NoError(t, port.Subscribe(TopicAppointments, EventCancelled, func(context.Context, Message) error {
		return boom
	}))
	require.NoError(t, port.Publish(context.Background(), TopicAppointments, EventCancelled, payload{}, true))
	bus.Wait()

	assert.ElementsMatch(t, []outcome{
		{"published", TopicAppointments, EventCancelled, nil},
		{"consumed", TopicAppointments, EventCancelled, boom},
	}, obs.got)
}
