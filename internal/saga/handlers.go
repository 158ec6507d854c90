// Package saga wires the asynchronous legs that keep a slot and its
// appointment consistent: requested -> created -> slot reserved, and
// cancelled -> slot free. Every handler re-derives the same end state when a
// message is delivered again.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/messaging"
	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
)

type Handlers struct {
	appointments *appointment.Service
	slots        *scheduling.Service
	publisher    messaging.Publisher
	log          *zap.Logger
}

func NewHandlers(appointments *appointment.Service, slots *scheduling.Service, publisher messaging.Publisher, log *zap.Logger) *Handlers {
	return &Handlers{
		appointments: appointments,
		slots:        slots,
		publisher:    publisher,
		log:          log,
	}
}

// Register subscribes the handlers. When d is not nil each handler is wrapped
// so a message id already handled is skipped.
func (h *Handlers) Register(sub messaging.Subscriber, d messaging.Deduper, dedupeTTL time.Duration) error {
	routes := []struct {
		event   string
		handler messaging.Handler
	}{
		{messaging.EventRequested, h.OnRequested},
		{messaging.EventCreated, h.OnCreated},
		{messaging.EventCancelled, h.OnCancelled},
	}

	for _, r := range routes {
		handler := r.handler
		if d != nil {
			handler = messaging.Idempotent(d, dedupeTTL, h.log, handler)
		}
		if err := sub.Subscribe(messaging.TopicAppointments, r.event, handler); err != nil {
			return fmt.Errorf("subscribe %s/%s: %w", messaging.TopicAppointments, r.event, err)
		}
	}
	return nil
}

// decode returns false for payloads that can never be handled. Those are
// logged and acknowledged so they do not cycle through the transport.
func (h *Handlers) decode(msg messaging.Message) (appointment.Appointment, bool) {
	var snapshot appointment.Appointment
	if err := msg.Decode(&snapshot); err != nil {
		h.log.Error("dropping malformed message",
			zap.String("topic", msg.Topic),
			zap.String("event", msg.Event),
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return snapshot, false
	}
	return snapshot, true
}

// OnRequested materializes the appointment and emits created.
func (h *Handlers) OnRequested(ctx context.Context, msg messaging.Message) error {
	snapshot, ok := h.decode(msg)
	if !ok {
		return nil
	}

	_, err := h.appointments.Materialize(ctx, snapshot)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, appointment.ErrSlotAlreadyBooked):
		h.log.Warn("request lost the race for the slot",
			zap.String("slot_id", snapshot.ID.String()),
			zap.String("patient_uid", snapshot.Patient.UID),
		)
		return nil
	case errors.Is(err, scheduling.ErrSlotNotFound):
		h.log.Warn("slot deleted before the request was materialized",
			zap.String("slot_id", snapshot.ID.String()),
		)
		return nil
	case errors.Is(err, appointment.ErrInvalidStatus):
		h.log.Error("dropping invalid snapshot", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	default:
		return err
	}
}

// OnCreated reserves the slot and announces it. Reserving an already reserved
// slot is a no-op success, and reserved is published again on redelivery.
func (h *Handlers) OnCreated(ctx context.Context, msg messaging.Message) error {
	snapshot, ok := h.decode(msg)
	if !ok {
		return nil
	}

	if _, err := h.slots.MarkReserved(ctx, snapshot.ID); err != nil {
		if errors.Is(err, scheduling.ErrSlotNotFound) {
			h.log.Warn("created appointment has no slot", zap.String("slot_id", snapshot.ID.String()))
			return nil
		}
		return err
	}

	if err := h.publisher.Publish(ctx, messaging.TopicSlots, messaging.EventReserved, snapshot, false); err != nil {
		return fmt.Errorf("publish slot reserved: %w", err)
	}

	h.log.Info("slot reserved", zap.String("slot_id", snapshot.ID.String()))
	return nil
}

// OnCancelled frees the slot. A slot that no longer exists needs nothing, and
// a slot booked again since the cancel keeps its reservation.
func (h *Handlers) OnCancelled(ctx context.Context, msg messaging.Message) error {
	snapshot, ok := h.decode(msg)
	if !ok {
		return nil
	}

	current, err := h.appointments.Lookup(ctx, snapshot.ID)
	switch {
	case err == nil && current.Status == appointment.StatusScheduled:
		h.log.Info("stale cancel ignored, slot booked again",
			zap.String("slot_id", snapshot.ID.String()),
			zap.String("patient_uid", current.Patient.UID),
		)
		return nil
	case err != nil && !errors.Is(err, appointment.ErrAppointmentNotFound):
		return err
	}

	if _, err := h.slots.MarkFree(ctx, snapshot.ID); err != nil {
		if errors.Is(err, scheduling.ErrSlotNotFound) {
			return nil
		}
		return err
	}

	h.log.Info("slot freed", zap.String("slot_id", snapshot.ID.String()))
	return nil
}
