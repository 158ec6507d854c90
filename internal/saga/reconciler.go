package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/query"
	"github.com/hackgods/clinic-slot-scheduling/internal/scheduling"
)

const (
	reconcilePageSize = query.MaxTake
	runTimeout        = 20 * time.Second
)

type RepairObserver interface {
	Repaired(status string)
}

// Reconciler repairs slots whose status drifted from their appointment, for
// example when a publish failed after the local write succeeded.
type Reconciler struct {
	slots        *scheduling.Service
	service      *appointment.Service
	appointments appointment.Repository
	observer     RepairObserver
	log          *zap.Logger
}

func NewReconciler(slots *scheduling.Service, service *appointment.Service, appointments appointment.Repository, observer RepairObserver, log *zap.Logger) *Reconciler {
	return &Reconciler{
		slots:        slots,
		service:      service,
		appointments: appointments,
		observer:     observer,
		log:          log,
	}
}

type Report struct {
	Freed     int
	Reserved  int
	Discarded int
}

// Run reconciles once at start and then every interval until ctx is done.
// A failed pass is logged and retried on the next tick.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	r.runPass(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runPass(ctx)
		}
	}
}

func (r *Reconciler) runPass(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	start := time.Now()
	rep, err := r.RunOnce(runCtx)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Error("reconcile run failed",
				zap.Error(err),
				zap.Int("freed", rep.Freed),
				zap.Int("reserved", rep.Reserved),
				zap.Int("discarded", rep.Discarded),
			)
		}
		return
	}
	r.log.Debug("reconcile run complete", zap.Duration("took", time.Since(start)))
}

// RunOnce checks both directions of the slot/appointment link: a reserved
// slot needs a scheduled appointment, and a scheduled appointment needs a
// reserved slot. A scheduled appointment whose slot is gone is discarded.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	var rep Report

	freed, err := r.freeOrphanedSlots(ctx)
	rep.Freed = freed
	if err != nil {
		return rep, err
	}

	reserved, discarded, err := r.reserveBookedSlots(ctx)
	rep.Reserved = reserved
	rep.Discarded = discarded
	if err != nil {
		return rep, err
	}

	if rep.Freed > 0 || rep.Reserved > 0 || rep.Discarded > 0 {
		r.log.Info("reconciled slots",
			zap.Int("freed", rep.Freed),
			zap.Int("reserved", rep.Reserved),
			zap.Int("discarded", rep.Discarded),
		)
	}
	return rep, nil
}

func (r *Reconciler) freeOrphanedSlots(ctx context.Context) (int, error) {
	cond, err := scheduling.Schema.Condition("status", string(scheduling.StatusReserved))
	if err != nil {
		return 0, err
	}

	var orphaned []scheduling.TimeSlot
	for skip := 0; ; skip += reconcilePageSize {
		page, err := r.slots.ListSlots(ctx, query.List{
			Page:   query.Page{Skip: skip, Take: reconcilePageSize},
			Filter: query.Filter{cond},
		})
		if err != nil {
			return 0, err
		}

		for _, slot := range page {
			appt, err := r.appointments.FindByID(ctx, slot.ID)
			if err != nil && !errors.Is(err, appointment.ErrAppointmentNotFound) {
				return 0, fmt.Errorf("load appointment %s: %w", slot.ID, err)
			}
			if appt == nil || appt.Status != appointment.StatusScheduled {
				orphaned = append(orphaned, slot)
			}
		}

		if len(page) < reconcilePageSize {
			break
		}
	}

	// freeing while paging a status=reserved listing would shift the pages
	freed := 0
	for _, slot := range orphaned {
		if _, err := r.slots.MarkFree(ctx, slot.ID); err != nil {
			if errors.Is(err, scheduling.ErrSlotNotFound) {
				continue
			}
			return freed, err
		}
		freed++
		r.repaired(scheduling.StatusFree)
		r.log.Info("freed orphaned slot", zap.String("slot_id", slot.ID.String()))
	}
	return freed, nil
}

func (r *Reconciler) reserveBookedSlots(ctx context.Context) (int, int, error) {
	cond, err := appointment.Schema.Condition("status", string(appointment.StatusScheduled))
	if err != nil {
		return 0, 0, err
	}

	reserved := 0
	var orphaned []appointment.Appointment
	for skip := 0; ; skip += reconcilePageSize {
		page, err := r.appointments.FindMany(ctx, query.List{
			Page:   query.Page{Skip: skip, Take: reconcilePageSize},
			Filter: query.Filter{cond},
		}, "")
		if err != nil {
			return reserved, 0, fmt.Errorf("list scheduled appointments: %w", err)
		}

		for _, appt := range page {
			slot, err := r.slots.GetSlot(ctx, appt.ID)
			if err != nil {
				if errors.Is(err, scheduling.ErrSlotNotFound) {
					orphaned = append(orphaned, appt)
					continue
				}
				return reserved, 0, err
			}
			if slot.Status == scheduling.StatusReserved {
				continue
			}
			if _, err := r.slots.MarkReserved(ctx, slot.ID); err != nil {
				return reserved, 0, err
			}
			reserved++
			r.repaired(scheduling.StatusReserved)
			r.log.Info("reserved booked slot", zap.String("slot_id", slot.ID.String()))
		}

		if len(page) < reconcilePageSize {
			break
		}
	}

	discarded := 0
	for _, appt := range orphaned {
		if err := r.service.Discard(ctx, appt.ID); err != nil {
			if errors.Is(err, appointment.ErrAppointmentNotFound) {
				continue
			}
			return reserved, discarded, err
		}
		discarded++
		r.observe("discarded")
	}
	return reserved, discarded, nil
}

func (r *Reconciler) repaired(status scheduling.SlotStatus) {
	r.observe(string(status))
}

func (r *Reconciler) observe(repair string) {
	if r.observer != nil {
		r.observer.Repaired(repair)
	}
}
