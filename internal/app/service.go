package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/gmsas95/medremind/internal/adherence"
	apperrors "github.com/gmsas95/medremind/internal/errors"
	"github.com/gmsas95/medremind/internal/medication"
	"github.com/gmsas95/medremind/internal/notify"
)

// MarkTaken records a dose as taken, cancels its escalation and speaks a
// confirmation unless the dose came from a notification action.
func (a *App) MarkTaken(ctx context.Context, medicationID, slotID string, method medication.Method) (*medication.Dose, error) {
	if err := checkMethod(method); err != nil {
		return nil, err
	}
	dose, err := a.Tracker.MarkTaken(ctx, medicationID, slotID, method)
	if err != nil {
		return nil, err
	}
	a.Escalation.Cancel(medicationID)
	a.afterChange(ctx, dose.Medication)

	if method != medication.MethodNotification {
		a.speak(ctx, fmt.Sprintf("%s marked as taken. Great job!", dose.Medication.Name))
	}
	return dose, nil
}

// MarkSkipped records a dose as skipped with an optional reason.
func (a *App) MarkSkipped(ctx context.Context, medicationID, slotID, reason string, method medication.Method) (*medication.Dose, error) {
	if err := checkMethod(method); err != nil {
		return nil, err
	}
	dose, err := a.Tracker.MarkSkipped(ctx, medicationID, slotID, reason, method)
	if err != nil {
		return nil, err
	}
	a.Escalation.Cancel(medicationID)
	a.afterChange(ctx, dose.Medication)
	return dose, nil
}

// Undo returns a dose to pending and re-arms its reminder.
func (a *App) Undo(ctx context.Context, medicationID, slotID string) (*medication.Dose, error) {
	dose, err := a.Tracker.Undo(ctx, medicationID, slotID)
	if err != nil {
		return nil, err
	}
	a.afterChange(ctx, dose.Medication)
	return dose, nil
}

func (a *App) PendingDoses() ([]medication.Dose, error) {
	return a.Tracker.PendingDoses()
}

func (a *App) UpcomingDoses() ([]medication.Dose, error) {
	return a.Tracker.UpcomingDoses()
}

// PendingSummary is the spoken line announcing outstanding doses.
func (a *App) PendingSummary() (string, error) {
	pending, err := a.Tracker.PendingDoses()
	if err != nil {
		return "", err
	}
	return medication.PendingSummary(len(pending)), nil
}

func (a *App) Stats(medicationID string, days int) adherence.Stats {
	return a.Adherence.Stats(medicationID, days)
}

func (a *App) AnalyzeBehavior(days int) adherence.Insights {
	return a.Analyzer.Analyze(days)
}

// CheckAndResetIfNewDay closes out the previous day when the date changed and
// then runs the once-per-day reminder pass.
func (a *App) CheckAndResetIfNewDay(ctx context.Context) (*medication.RolloverResult, error) {
	result, err := a.Rollover.CheckAndResetIfNewDay(ctx)
	if err != nil {
		return nil, err
	}

	meds, err := a.Store.List()
	if err != nil {
		return result, err
	}
	if _, err := a.Scheduler.RescheduleAllIfNewDay(ctx, meds); err != nil {
		return result, err
	}
	return result, nil
}

func (a *App) Medications() ([]medication.Medication, error) {
	return a.Store.List()
}

// AddMedication validates and stores med, then schedules its reminders.
func (a *App) AddMedication(ctx context.Context, med medication.Medication) (*medication.Medication, error) {
	created, err := a.Store.Create(med)
	if err != nil {
		return nil, err
	}
	a.reschedule(ctx, *created)
	return created, nil
}

// UpdateMedication replaces a medication and re-derives its reminders.
func (a *App) UpdateMedication(ctx context.Context, id string, med medication.Medication) (*medication.Medication, error) {
	updated, err := a.Store.Update(id, med)
	if err != nil {
		return nil, err
	}
	a.reschedule(ctx, *updated)
	return updated, nil
}

// DeleteMedication cancels the medication's reminders and escalation before
// removing it. Its dose records stay in history.
func (a *App) DeleteMedication(ctx context.Context, id string) error {
	if _, err := a.Store.Get(id); err != nil {
		return err
	}
	if err := a.Scheduler.CancelMedicationReminders(ctx, id); err != nil {
		a.Logger.Warn("Failed to cancel reminders", zap.String("medication_id", id), zap.Error(err))
	}
	return a.Store.Delete(id)
}

func (a *App) History(date string) (*medication.DaySnapshot, error) {
	return a.Rollover.History(date)
}

func (a *App) RecentHistory(days int) ([]medication.DaySnapshot, error) {
	return a.Rollover.Recent(days)
}

// Snooze re-reminds about a dose after minutes, or the configured default.
func (a *App) Snooze(ctx context.Context, medicationID, slotID string, minutes int) (string, error) {
	med, err := a.Store.Get(medicationID)
	if err != nil {
		return "", err
	}
	if slotID != "" {
		if _, ok := med.Slot(slotID); !ok {
			return "", apperrors.ErrSlotNotFound
		}
	}
	return a.Scheduler.Snooze(ctx, medicationID, med.Name, slotID, minutes)
}

// HandleDelivered feeds an external delivery-received event.
func (a *App) HandleDelivered(p notify.Payload) {
	a.Dispatcher.OnDelivered(p)
}

// HandleAction feeds an external notification action.
func (a *App) HandleAction(ctx context.Context, action string, p notify.Payload) error {
	return a.Dispatcher.OnUserAction(ctx, action, p)
}

func (a *App) Notifications() []notify.Delivered {
	return a.Notifier.Inbox()
}

func (a *App) afterChange(ctx context.Context, med medication.Medication) {
	a.reschedule(ctx, med)
	rate := a.Adherence.Stats(med.ID, adherence.DefaultStatsDays).Rate
	if err := a.Store.SetAdherenceRate(med.ID, rate); err != nil {
		a.Logger.Debug("Failed to cache adherence rate", zap.String("medication_id", med.ID), zap.Error(err))
	}
}

func (a *App) reschedule(ctx context.Context, med medication.Medication) {
	if _, err := a.Scheduler.ScheduleAllReminders(ctx, med); err != nil {
		a.Logger.Warn("Failed to schedule reminders", zap.String("medication_id", med.ID), zap.Error(err))
	}
}

func (a *App) emergency(ctx context.Context, medicationID, reason string) {
	name := medicationID
	if med, err := a.Store.Get(medicationID); err == nil {
		name = med.Name
	}
	a.Logger.Error("Emergency alert", zap.String("medication_id", medicationID), zap.String("reason", reason))

	p := notify.Payload{
		Title:        "Emergency Alert",
		Body:         fmt.Sprintf("%s (%s)", reason, name),
		Channel:      notify.ChannelEmergency,
		MedicationID: medicationID,
	}
	if _, err := a.Breaker.Schedule(ctx, p, zeroTime); err != nil {
		a.Logger.Error("Failed to send emergency alert", zap.Error(err))
	}
}

func checkMethod(m medication.Method) error {
	if m == "" || m.Valid() {
		return nil
	}
	return apperrors.New(apperrors.ErrBadRequest.Code, fmt.Sprintf("unknown method %q", m))
}

func (a *App) IsPending(medicationID, slotID string) bool {
	return a.Tracker.IsPending(medicationID, slotID)
}

func (a *App) HasPending(medicationID string) bool {
	return a.Tracker.HasPending(medicationID)
}
