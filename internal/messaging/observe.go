package messaging

import "context"

type Observer interface {
	Published(topic, event string, err error)
	Consumed(topic, event string, err error)
}

type observed struct {
	Port
	obs Observer
}

// Observe reports every publish and every handler outcome to obs.
func Observe(p Port, obs Observer) Port {
	return &observed{Port: p, obs: obs}
}

func (o *observed) Publish(ctx context.Context, topic, event string, payload any, exactlyOnceRequested bool) error {
	err := o.Port.Publish(ctx, topic, event, payload, exactlyOnceRequested)
	o.obs.Published(topic, event, err)
	return err
}

func (o *observed) Subscribe(topic, event string, h Handler) error {
	return o.Port.Subscribe(topic, event, func(ctx context.Context, msg Message) error {
		err := h(ctx, msg)
		o.obs.Consumed(msg.Topic, msg.Event, err)
		return err
	})
}
