package saga

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/identity"
	"github.com/hackgods/clinic-slot-scheduling/internal/lock"
	"github.com/hackgods/clinic-slot-scheduling/internal/messaging"
	"github.com/hackgods/clinic-slot-scheduling/internal/query"
	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
)

var (
	now     = time.Date(2030, 5, 10, 8, 0, 0, 0, time.UTC)
	doctor  = identity.Actor{UID: "doc-1", Capabilities: []identity.Capability{identity.CapabilityDoctor}}
	patient = identity.Actor{UID: "pat-1", Capabilities: []identity.Capability{identity.CapabilityPatient}}
	rival   = identity.Actor{UID: "pat-2", Capabilities: []identity.Capability{identity.CapabilityPatient}}
)

type env struct {
	bus          *messaging.MemoryBus
	slotRepo     *scheduling.MemoryRepository
	slots        *scheduling.Service
	appointments *appointment.Service
	apptRepo     *appointment.MemoryRepository
	handlers     *Handlers
}

func newEnv(t *testing.T) *env {
	t.Helper()

	clock := func() time.Time { return now }
	log := zap.NewNop()
	bus := messaging.NewMemoryBus(log, messaging.WithBaseDelay(time.Millisecond))
	t.Cleanup(func() { _ = bus.Close() })

	slotRepo := scheduling.NewMemoryRepository()
	slots := scheduling.NewService(slotRepo, lock.NewLocal(), log, scheduling.WithClock(clock))
	apptRepo := appointment.NewMemoryRepository()
	appointments := appointment.NewService(apptRepo, slots, bus, log, appointment.WithClock(clock))
	slots.SetAppointmentCanceller(appointments)

	h := NewHandlers(appointments, slots, bus, log)
	require.NoError(t, h.Register(bus, messaging.NewLRUDeduper(128, time.Hour), time.Hour))

	return &env{bus: bus, slotRepo: slotRepo, slots: slots, appointments: appointments, apptRepo: apptRepo, handlers: h}
}

func (e *env) slot(t *testing.T) *scheduling.TimeSlot {
	t.Helper()
	start := now.Add(2 * time.Hour)
	s, err := e.slots.CreateSlot(context.Background(), start, start.Add(30*time.Minute), doctor)
	require.NoError(t, err)
	return s
}

func (e *env) slotStatus(t *testing.T, s *scheduling.TimeSlot) scheduling.SlotStatus {
	t.Helper()
	got, err := e.slots.GetSlot(context.Background(), s.ID)
	require.NoError(t, err)
	return got.Status
}

func Test_Saga_RequestReservesSlot(t *testing.T) {
	e := newEnv(t)
	slot := e.slot(t)

	var reserved sync.WaitGroup
	reserved.Add(1)
	require.NoError(t, e.bus.Subscribe(messaging.TopicSlots, messaging.EventReserved, func(_ context.Context, msg messaging.Message) error {
		assert.False(t, msg.ExactlyOnceRequested)
		reserved.Done()
		return nil
	}))

	_, err := e.appointments.RequestAppointment(context.Background(), slot.ID, patient)
	require.NoError(t, err)
	e.bus.Wait()
	reserved.Wait()

	assert.Equal(t, scheduling.StatusReserved, e.slotStatus(t, slot))

	appt, err := e.appointments.GetAppointment(context.Background(), slot.ID, patient)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusScheduled, appt.Status)
	assert.Equal(t, patient.UID, appt.Patient.UID)
	assert.Equal(t, doctor.UID, appt.Doctor.UID)
}

func Test_Saga_CancelFreesSlot(t *testing.T) {
	e := newEnv(t)
	slot := e.slot(t)

	_, err := e.appointments.RequestAppointment(context.Background(), slot.ID, patient)
	require.NoError(t, err)
	e.bus.Wait()
	require.Equal(t, scheduling.StatusReserved, e.slotStatus(t, slot))

	require.NoError(t, e.appointments.Cancel(context.Background(), slot.ID, patient))
	e.bus.Wait()

	assert.Equal(t, scheduling.StatusFree, e.slotStatus(t, slot))
	_, err = e.apptRepo.FindByID(context.Background(), slot.ID)
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)
}

func Test_Saga_CreatedRedeliveryIsIdempotent(t *testing.T) {
	e := newEnv(t)
	slot := e.slot(t)

	snapshot := appointment.Appointment{
		ID: slot.ID, Start: slot.Start, End: slot.End, DurationMinutes: slot.DurationMinutes,
		Doctor: slot.Owner, Patient: patient.Participant(), Status: appointment.StatusScheduled,
	}
	payload, err := messaging.Encode(snapshot)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		// distinct message ids, so the deduper does not hide the second delivery
		require.NoError(t, e.handlers.OnRequested(ctx, messaging.Message{Topic: messaging.TopicAppointments, Event: messaging.EventRequested, Payload: payload}))
		require.NoError(t, e.handlers.OnCreated(ctx, messaging.Message{Topic: messaging.TopicAppointments, Event: messaging.EventCreated, Payload: payload}))
	}
	e.bus.Wait()

	all, err := e.apptRepo.FindMany(ctx, query.List{Page: query.Page{Take: 10}}, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, scheduling.StatusReserved, e.slotStatus(t, slot))
}

func Test_Saga_CancelledForFreeOrMissingSlotIsNoop(t *testing.T) {
	e := newEnv(t)
	slot := e.slot(t)
	ctx := context.Background()

	payload, err := messaging.Encode(appointment.Appointment{ID: slot.ID, Status: appointment.StatusCancelled})
	require.NoError(t, err)
	msg := messaging.Message{Topic: messaging.TopicAppointments, Event: messaging.EventCancelled, Payload: payload}

	require.NoError(t, e.handlers.OnCancelled(ctx, msg))
	require.NoError(t, e.handlers.OnCancelled(ctx, msg))
	assert.Equal(t, scheduling.StatusFree, e.slotStatus(t, slot))

	require.NoError(t, e.slots.DeleteSlot(ctx, slot.ID, doctor))
	assert.NoError(t, e.handlers.OnCancelled(ctx, msg))
}

func Test_Saga_MalformedPayloadAcked(t *testing.T) {
	e := newEnv(t)
	msg := messaging.Message{Topic: messaging.TopicAppointments, Payload: []byte("{not json")}

	assert.NoError(t, e.handlers.OnRequested(context.Background(), msg))
	assert.NoError(t, e.handlers.OnCreated(context.Background(), msg))
	assert.NoError(t, e.handlers.OnCancelled(context.Background(), msg))
}

func Test_Saga_TwoPatientsRaceSingleBooking(t *testing.T) {
	e := newEnv(t)
	slot := e.slot(t)
	ctx := context.Background()

	_, err := e.appointments.RequestAppointment(ctx, slot.ID, patient)
	require.NoError(t, err)
	_, err = e.appointments.RequestAppointment(ctx, slot.ID, rival)
	require.NoError(t, err)
	e.bus.Wait()

	all, err := e.apptRepo.FindMany(ctx, query.List{Page: query.Page{Take: 10}}, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Contains(t, []string{patient.UID, rival.UID}, all[0].Patient.UID)
	assert.Equal(t, scheduling.StatusReserved, e.slotStatus(t, slot))
}

func Test_Saga_DeleteReservedSlotCascades(t *testing.T) {
	e := newEnv(t)
	slot := e.slot(t)
	ctx := context.Background()

	_, err := e.appointments.RequestAppointment(ctx, slot.ID, patient)
	require.NoError(t, err)
	e.bus.Wait()

	require.NoError(t, e.slots.DeleteSlot(ctx, slot.ID, doctor))
	e.bus.Wait()

	_, err = e.apptRepo.FindByID(ctx, slot.ID)
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)
	_, err = e.slots.GetSlot(ctx, slot.ID)
	assert.ErrorIs(t, err, scheduling.ErrSlotNotFound)
}

type countingObserver struct {
	mu  sync.Mutex
	got map[string]int
}

func (c *countingObserver) Repaired(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.got == nil {
		c.got = make(map[string]int)
	}
	c.got[status]++
}

func Test_Reconciler_RepairsBothDirections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// reserved without appointment
	orphan := e.slot(t)
	_, err := e.slots.MarkReserved(ctx, orphan.ID)
	require.NoError(t, err)

	// scheduled appointment whose slot is still free
	start := now.Add(4 * time.Hour)
	booked, err := e.slots.CreateSlot(ctx, start, start.Add(30*time.Minute), doctor)
	require.NoError(t, err)
	require.NoError(t, e.apptRepo.Upsert(ctx, &appointment.Appointment{
		ID: booked.ID, Start: booked.Start, End: booked.End, Doctor: booked.Owner,
		Patient: patient.Participant(), Status: appointment.StatusScheduled,
	}))

	obs := &countingObserver{}
	r := NewReconciler(e.slots, e.appointments, e.apptRepo, obs, zap.NewNop())

	rep, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Freed: 1, Reserved: 1}, rep)
	assert.Equal(t, scheduling.StatusFree, e.slotStatus(t, orphan))
	assert.Equal(t, scheduling.StatusReserved, e.slotStatus(t, booked))
	assert.Equal(t, map[string]int{"free": 1, "reserved": 1}, obs.got)

	rep, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{}, rep)
}

func Test_Reconciler_FreesSlotOfCancelledStatus(t *testing.T) {
	e := newEnv(t)
	slot := e.slot(t)
	ctx := context.Background()

	_, err := e.appointments.RequestAppointment(ctx, slot.ID, patient)
	require.NoError(t, err)
	e.bus.Wait()

	_, err = e.appointments.UpdateStatus(ctx, slot.ID, appointment.StatusCancelled, doctor)
	require.NoError(t, err)
	require.Equal(t, scheduling.StatusReserved, e.slotStatus(t, slot))

	rep, err := NewReconciler(e.slots, e.appointments, e.apptRepo, nil, zap.NewNop()).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Freed)
	assert.Equal(t, scheduling.StatusFree, e.slotStatus(t, slot))
}

// scheduled mirrors the state after the requested leg, before created reserved the slot.
func (e *env) scheduled(t *testing.T, slot *scheduling.TimeSlot, p identity.Actor) {
	t.Helper()
	require.NoError(t, e.apptRepo.Upsert(context.Background(), &appointment.Appointment{
		ID: slot.ID, Start: slot.Start, End: slot.End, DurationMinutes: slot.DurationMinutes,
		Doctor: slot.Owner, Patient: p.Participant(), Status: appointment.StatusScheduled,
	}))
}

func Test_Saga_DeleteFreeSlotWithPendingAppointment(t *testing.T) {
	e := newEnv(t)
	slot := e.slot(t)
	ctx := context.Background()

	e.scheduled(t, slot, patient)
	require.Equal(t, scheduling.StatusFree, e.slotStatus(t, slot))

	require.NoError(t, e.slots.DeleteSlot(ctx, slot.ID, doctor))
	e.bus.Wait()

	_, err := e.apptRepo.FindByID(ctx, slot.ID)
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)

	rep, err := NewReconciler(e.slots, e.appointments, e.apptRepo, nil, zap.NewNop()).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{}, rep)
}

func Test_Reconciler_DiscardsAppointmentWithoutSlot(t *testing.T) {
	e := newEnv(t)
	slot := e.slot(t)
	ctx := context.Background()

	e.scheduled(t, slot, patient)
	require.NoError(t, e.slotRepo.Delete(ctx, slot.ID))

	var cancelled sync.WaitGroup
	cancelled.Add(1)
	require.NoError(t, e.bus.Subscribe(messaging.TopicAppointments, messaging.EventCancelled, func(_ context.Context, msg messaging.Message) error {
		var snapshot appointment.Appointment
		assert.NoError(t, msg.Decode(&snapshot))
		assert.Equal(t, appointment.StatusCancelled, snapshot.Status)
		cancelled.Done()
		return nil
	}))

	obs := &countingObserver{}
	rep, err := NewReconciler(e.slots, e.appointments, e.apptRepo, obs, zap.NewNop()).RunOnce(ctx)
	require.NoError(t, err)
	e.bus.Wait()
	cancelled.Wait()

	assert.Equal(t, Report{Discarded: 1}, rep)
	assert.Equal(t, map[string]int{"discarded": 1}, obs.got)
	_, err = e.apptRepo.FindByID(ctx, slot.ID)
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)
}

func Test_Saga_LateCancelKeepsRebookedSlot(t *testing.T) {
	e := newEnv(t)
	slot := e.slot(t)
	ctx := context.Background()

	_, err := e.appointments.RequestAppointment(ctx, slot.ID, rival)
	require.NoError(t, err)
	e.bus.Wait()
	require.Equal(t, scheduling.StatusReserved, e.slotStatus(t, slot))

	// cancelled for an earlier booking of the same slot, delivered only now
	payload, err := messaging.Encode(appointment.Appointment{ID: slot.ID, Patient: patient.Participant(), Status: appointment.StatusCancelled})
	require.NoError(t, err)
	require.NoError(t, e.handlers.OnCancelled(ctx, messaging.Message{Topic: messaging.TopicAppointments, Event: messaging.EventCancelled, Payload: payload}))

	assert.Equal(t, scheduling.StatusReserved, e.slotStatus(t, slot))
}

func Test_Saga_CancelledStatusStillFreesSlot(t *testing.T) {
	e := newEnv(t)
	slot := e.slot(t)
	ctx := context.Background()

	_, err := e.appointments.RequestAppointment(ctx, slot.ID, patient)
	require.NoError(t, err)
	e.bus.Wait()
	_, err = e.appointments.UpdateStatus(ctx, slot.ID, appointment.StatusCancelled, patient)
	require.NoError(t, err)

	payload, err := messaging.Encode(appointment.Appointment{ID: slot.ID, Status: appointment.StatusCancelled})
	require.NoError(t, err)
	require.NoError(t, e.handlers.OnCancelled(ctx, messaging.Message{Topic: messaging.TopicAppointments, Event: messaging.EventCancelled, Payload: payload}))

	assert.Equal(t, scheduling.StatusFree, e.slotStatus(t, slot))
}

func Test_Reconciler_RunRepairsOnTickUntilCancelled(t *testing.T) {
	e := newEnv(t)
	slot := e.slot(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewReconciler(e.slots, e.appointments, e.apptRepo, nil, zap.NewNop()).Run(ctx, 10*time.Millisecond)
	}()

	// reserved without an appointment, freed by the first or a later pass
	_, err := e.slots.MarkReserved(context.Background(), slot.ID)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		got, err := e.slots.GetSlot(context.Background(), slot.ID)
		return err == nil && got.Status == scheduling.StatusFree
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
