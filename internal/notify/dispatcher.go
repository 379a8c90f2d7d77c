package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/medremind/internal/medication"
	"github.com/gmsas95/medremind/internal/timeutil"
)

// DoseMarker is the part of the dose tracker the dispatcher drives.
type DoseMarker interface {
	MarkTaken(ctx context.Context, medicationID, slotID string, method medication.Method) (*medication.Dose, error)
	MarkSkipped(ctx context.Context, medicationID, slotID, reason string, method medication.Method) (*medication.Dose, error)
	IsPending(medicationID, slotID string) bool
	HasPending(medicationID string) bool
}

// EmergencyFunc is invoked when the user presses the emergency action.
type EmergencyFunc func(ctx context.Context, medicationID, reason string)

// Dispatcher routes inbound notification events.
type Dispatcher struct {
	marker      DoseMarker
	scheduler   *Scheduler
	escalation  *EscalationManager
	notifier    Notifier
	clock       timeutil.Clock
	onEmergency EmergencyFunc
	logger      *zap.Logger
}

// NewDispatcher creates the inbound event router.
func NewDispatcher(marker DoseMarker, scheduler *Scheduler, escalation *EscalationManager, notifier Notifier, clock timeutil.Clock, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		marker:     marker,
		scheduler:  scheduler,
		escalation: escalation,
		notifier:   notifier,
		clock:      clock,
		logger:     logger,
	}
}

// OnEmergency registers the emergency callback.
func (d *Dispatcher) OnEmergency(fn EmergencyFunc) {
	d.onEmergency = fn
}

// OnDelivered arms escalation when a dose reminder reaches the user and the
// dose is still unresolved.
func (d *Dispatcher) OnDelivered(p Payload) {
	if !p.IsReminder() {
		return
	}
	if p.ScheduleID != "" {
		if !d.marker.IsPending(p.MedicationID, p.ScheduleID) {
			return
		}
	} else if !d.marker.HasPending(p.MedicationID) {
		return
	}
	d.escalation.Start(p.MedicationID, p.MedicationName, d.clock.Now())
}

// OnUserAction handles an action chosen on a notification. Escalation is
// canceled before anything else.
func (d *Dispatcher) OnUserAction(ctx context.Context, action string, p Payload) error {
	if p.MedicationID == "" {
		return nil
	}
	d.escalation.Cancel(p.MedicationID)

	switch action {
	case ActionTake:
		if p.ScheduleID == "" {
			d.logger.Warn("Take action without schedule id", zap.String("medication_id", p.MedicationID))
			return nil
		}
		if _, err := d.marker.MarkTaken(ctx, p.MedicationID, p.ScheduleID, medication.MethodNotification); err != nil {
			d.logger.Warn("Failed to record dose from notification", zap.String("medication_id", p.MedicationID), zap.Error(err))
			return err
		}
		d.confirm(ctx, "Great Job!", fmt.Sprintf("%s recorded as taken", p.MedicationName))

	case ActionSkip:
		if p.ScheduleID == "" {
			d.logger.Warn("Skip action without schedule id", zap.String("medication_id", p.MedicationID))
			return nil
		}
		if _, err := d.marker.MarkSkipped(ctx, p.MedicationID, p.ScheduleID, "", medication.MethodNotification); err != nil {
			d.logger.Warn("Failed to skip dose from notification", zap.String("medication_id", p.MedicationID), zap.Error(err))
			return err
		}
		d.confirm(ctx, "Dose Skipped", fmt.Sprintf("%s marked as skipped", p.MedicationName))

	case ActionSnooze:
		if _, err := d.scheduler.Snooze(ctx, p.MedicationID, p.MedicationName, p.ScheduleID, 0); err != nil {
			return err
		}

	case ActionEmergency:
		d.logger.Warn("Emergency action triggered", zap.String("medication_id", p.MedicationID))
		if d.onEmergency != nil {
			d.onEmergency(ctx, p.MedicationID, "Emergency button pressed")
		}

	default:
		d.logger.Debug("Notification opened", zap.String("medication_id", p.MedicationID))
	}
	return nil
}

func (d *Dispatcher) confirm(ctx context.Context, title, body string) {
	if _, err := d.notifier.Schedule(ctx, Payload{Title: title, Body: body}, time.Time{}); err != nil {
		d.logger.Warn("Failed to send confirmation", zap.Error(err))
	}
}
