// Package messaging is the single delivery contract shared by the in-process
// bus and the broker adapter. Delivery is at-least-once and unordered on both;
// the exactly-once flag is a transport preference only, so every handler must
// be idempotent.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const (
	TopicAppointments = "appointments"
	TopicSlots        = "slots"

	EventRequested = "requested"
	EventCreated   = "created"
	EventCancelled = "cancelled"
	EventReserved  = "reserved"

	AttrDomain = "domain"
	AttrEvent  = "event"

	Domain = "scheduling"
)

type Message struct {
	ID                   string
	Topic                string
	Event                string
	Attributes           map[string]string
	Payload              []byte
	ExactlyOnceRequested bool
	PublishedAt          time.Time
	Attempt              int
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s/%s payload: %w", m.Topic, m.Event, err)
	}
	return nil
}

type Handler func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, topic, event string, payload any, exactlyOnceRequested bool) error
}

type Subscriber interface {
	Subscribe(topic, event string, h Handler) error
}

type Port interface {
	Publisher
	Subscriber
}

// Encode is the payload encoding shared by every transport. Raw bytes pass
// through untouched.
func Encode(payload any) ([]byte, error) {
	if raw, ok := payload.([]byte); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// Attributes returns the standard attributes attached to every event.
func Attributes(event string) map[string]string {
	return map[string]string{
		AttrDomain: Domain,
		AttrEvent:  event,
	}
}
