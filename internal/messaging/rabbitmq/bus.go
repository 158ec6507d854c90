// Package rabbitmq carries the messaging port over an AMQP 0-9-1 broker.
// Each topic is a durable topic exchange and each event is a routing key;
// every subscription owns one durable queue bound to its exchange.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/messaging"
)

var (
	ErrAlreadyStarted = errors.New("rabbitmq bus already started")
	ErrNotConfirmed   = errors.New("broker did not confirm publish")
)

const (
	headerTopic       = "topic"
	headerExactlyOnce = "exactly_once"

	prefetchCount = 16
)

type subscription struct {
	topic   string
	event   string
	handler messaging.Handler
}

type Bus struct {
	conn   *amqp.Connection
	prefix string
	log    *zap.Logger

	pubMu    sync.Mutex
	pub      *amqp.Channel
	declared map[string]bool

	mu      sync.Mutex
	subs    []subscription
	started bool
	chans   []*amqp.Channel
	wg      sync.WaitGroup
}

// Dial connects to the broker and opens the publishing channel in confirm mode.
func Dial(url, prefix string, log *zap.Logger) (*Bus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := pub.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp confirm mode: %w", err)
	}

	b := &Bus{
		conn:     conn,
		prefix:   prefix,
		log:      log,
		pub:      pub,
		declared: make(map[string]bool),
	}
	if err := b.declareDeadLetter(pub); err != nil {
		conn.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bus) exchangeName(topic string) string {
	return b.prefix + "." + topic
}

func (b *Bus) queueName(topic, event string) string {
	return b.prefix + "." + topic + "." + event
}

func (b *Bus) deadLetterName() string {
	return b.prefix + ".dlx"
}

func (b *Bus) declareDeadLetter(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		b.deadLetterName(),
		amqp.ExchangeFanout,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}

	q, err := ch.QueueDeclare(
		b.prefix+".dead",
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", b.deadLetterName(), false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}
	return nil
}

func declareExchange(ch *amqp.Channel, name string) error {
	if err := ch.ExchangeDeclare(
		name,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	return nil
}

// Publish sends a persistent message. When exactlyOnceRequested is set it
// blocks until the broker confirms the message; this only narrows the loss
// window on the publishing side, consumers still see at-least-once delivery.
func (b *Bus) Publish(ctx context.Context, topic, event string, payload any, exactlyOnceRequested bool) error {
	body, err := messaging.Encode(payload)
	if err != nil {
		return err
	}

	headers := amqp.Table{
		headerTopic:       topic,
		headerExactlyOnce: exactlyOnceRequested,
	}
	for k, v := range messaging.Attributes(event) {
		headers[k] = v
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Type:         event,
		Headers:      headers,
		Body:         body,
	}

	b.pubMu.Lock()
	exchange := b.exchangeName(topic)
	if !b.declared[exchange] {
		if err := declareExchange(b.pub, exchange); err != nil {
			b.pubMu.Unlock()
			return err
		}
		b.declared[exchange] = true
	}
	confirm, err := b.pub.PublishWithDeferredConfirmWithContext(ctx, exchange, event, false, false, msg)
	b.pubMu.Unlock()
	if err != nil {
		return fmt.Errorf("publish %s/%s: %w", topic, event, err)
	}

	if !exactlyOnceRequested || confirm == nil {
		return nil
	}

	ok, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await confirm %s/%s: %w", topic, event, err)
	}
	if !ok {
		return fmt.Errorf("%s/%s: %w", topic, event, ErrNotConfirmed)
	}
	return nil
}

// Subscribe registers a handler. Queues are declared and consumed on Start.
func (b *Bus) Subscribe(topic, event string, h messaging.Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return ErrAlreadyStarted
	}
	b.subs = append(b.subs, subscription{topic: topic, event: event, handler: h})
	return nil
}

// Start declares the subscribed queues and consumes them until ctx is done.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return ErrAlreadyStarted
	}
	b.started = true

	for _, s := range b.subs {
		if err := b.consume(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bus) consume(ctx context.Context, s subscription) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	b.chans = append(b.chans, ch)

	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		return fmt.Errorf("amqp qos: %w", err)
	}

	exchange := b.exchangeName(s.topic)
	if err := declareExchange(ch, exchange); err != nil {
		return err
	}

	queue, err := ch.QueueDeclare(
		b.queueName(s.topic, s.event),
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-dead-letter-exchange": b.deadLetterName()},
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(queue.Name, s.event, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", queue.Name, err)
	}

	msgs, err := ch.Consume(
		queue.Name,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue.Name, err)
	}

	b.log.Info("consuming", zap.String("queue", queue.Name))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					b.log.Warn("delivery channel closed", zap.String("queue", queue.Name))
					return
				}
				b.handle(ctx, s, d)
			}
		}
	}()

	return nil
}

func (b *Bus) handle(ctx context.Context, s subscription, d amqp.Delivery) {
	msg := toMessage(s.topic, d)

	if err := s.handler(ctx, msg); err != nil {
		// First failure goes back to the queue, a failed redelivery is dead-lettered.
		requeue := !d.Redelivered
		b.log.Warn("message handler failed",
			zap.String("topic", msg.Topic),
			zap.String("event", msg.Event),
			zap.String("message_id", msg.ID),
			zap.Bool("requeue", requeue),
			zap.Error(err),
		)
		if nackErr := d.Nack(false, requeue); nackErr != nil {
			b.log.Error("nack failed", zap.String("message_id", msg.ID), zap.Error(nackErr))
		}
		return
	}

	if err := d.Ack(false); err != nil {
		b.log.Error("ack failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

func toMessage(topic string, d amqp.Delivery) messaging.Message {
	attrs := make(map[string]string)
	exactlyOnce := false
	for k, v := range d.Headers {
		switch k {
		case headerExactlyOnce:
			exactlyOnce, _ = v.(bool)
		case headerTopic:
		default:
			if s, ok := v.(string); ok {
				attrs[k] = s
			}
		}
	}

	attempt := 1
	if d.Redelivered {
		attempt = 2
	}

	return messaging.Message{
		ID:                   d.MessageId,
		Topic:                topic,
		Event:                d.RoutingKey,
		Attributes:           attrs,
		Payload:              d.Body,
		ExactlyOnceRequested: exactlyOnce,
		PublishedAt:          d.Timestamp,
		Attempt:              attempt,
	}
}

// Close waits for running handlers after closing the channels, then closes
// the connection.
func (b *Bus) Close() error {
	b.mu.Lock()
	for _, ch := range b.chans {
		_ = ch.Close()
	}
	b.chans = nil
	b.mu.Unlock()

	b.wg.Wait()

	b.pubMu.Lock()
	_ = b.pub.Close()
	b.pubMu.Unlock()

	return b.conn.Close()
}
