package rabbitmq

import (
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"

	"github.com/hackgods/clinic-slot-scheduling/internal/messaging"
)

func Test_toMessage_MapsDelivery(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	d := amqp.Delivery{
		MessageId:  "m-1",
		RoutingKey: messaging.EventCreated,
		Timestamp:  ts,
		Body:       []byte(`{"id":"x"}`),
		Headers: amqp.Table{
			headerTopic:          messaging.TopicAppointments,
			headerExactlyOnce:    true,
			messaging.AttrDomain: messaging.Domain,
			messaging.AttrEvent:  messaging.EventCreated,
			"retries":            int32(3),
		},
	}

	msg := toMessage(messaging.TopicAppointments, d)

	assert.Equal(t, "m-1", msg.ID)
	assert.Equal(t, messaging.TopicAppointments, msg.Topic)
	assert.Equal(t, messaging.EventCreated, msg.Event)
	assert.True(t, msg.ExactlyOnceRequested)
	assert.Equal(t, ts, msg.PublishedAt)
	assert.Equal(t, 1, msg.Attempt)
	assert.Equal(t, map[string]string{
		messaging.AttrDomain: messaging.Domain,
		messaging.AttrEvent:  messaging.EventCreated,
	}, msg.Attributes)
}

func Test_toMessage_RedeliveredIsSecondAttempt(t *testing.T) {
	msg := toMessage(messaging.TopicSlots, amqp.Delivery{Redelivered: true, RoutingKey: messaging.EventReserved})

	assert.Equal(t, 2, msg.Attempt)
	assert.False(t, msg.ExactlyOnceRequested)
}

func Test_Bus_Names(t *testing.T) {
	b := &Bus{prefix: "scheduling"}

	assert.Equal(t, "scheduling.appointments", b.exchangeName(messaging.TopicAppointments))
	assert.Equal(t, "scheduling.appointments.requested", b.queueName(messaging.TopicAppointments, messaging.EventRequested))
	assert.Equal(t, "scheduling.dlx", b.deadLetterName())
}
