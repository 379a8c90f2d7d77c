package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/medremind/internal/errors"
	"github.com/gmsas95/medremind/internal/medication"
	"github.com/gmsas95/medremind/internal/metrics"
	"github.com/gmsas95/medremind/internal/store"
	"github.com/gmsas95/medremind/internal/timeutil"
)

// Scheduler arms one reminder per pending dose slot and tracks the returned
// handles so they can be canceled.
type Scheduler struct {
	mu         sync.Mutex
	notifier   Notifier
	escalation *EscalationManager
	kv         store.KV
	clock      timeutil.Clock
	quiet      QuietHours
	snooze     int
	tracked    []ScheduledNotification
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	QuietHours    QuietHours
	SnoozeMinutes int
}

// NewScheduler creates a notification scheduler.
func NewScheduler(notifier Notifier, escalation *EscalationManager, kv store.KV, clock timeutil.Clock, opts SchedulerOptions, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	if opts.SnoozeMinutes <= 0 {
		opts.SnoozeMinutes = DefaultSnoozeMinutes
	}
	return &Scheduler{
		notifier:   notifier,
		escalation: escalation,
		kv:         kv,
		clock:      clock,
		quiet:      opts.QuietHours,
		snooze:     opts.SnoozeMinutes,
		metrics:    m,
		logger:     logger,
	}
}

// SetQuietHours replaces the quiet-hour window for future scheduling.
func (s *Scheduler) SetQuietHours(q QuietHours) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quiet = q
}

// Load restores the tracked handles persisted by a previous process.
func (s *Scheduler) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tracked []ScheduledNotification
	if _, err := store.GetObject(s.kv, KeyScheduled, &tracked); err != nil {
		return apperrors.WrapAs(apperrors.ErrPersistence, err)
	}
	s.tracked = tracked
	s.logger.Info("Loaded scheduled notifications", zap.Int("count", len(tracked)))
	return nil
}

// Tracked returns a copy of the armed reminders.
func (s *Scheduler) Tracked() []ScheduledNotification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduledNotification, len(s.tracked))
	copy(out, s.tracked)
	return out
}

// ScheduleAllReminders re-arms every pending slot of med and returns how many
// reminders were scheduled. Delivery failures and quiet-hour slots are
// logged and skipped. Any armed escalation for med is canceled.
func (s *Scheduler) ScheduleAllReminders(ctx context.Context, med medication.Medication) (int, error) {
	if err := s.CancelMedicationReminders(ctx, med.ID); err != nil {
		return 0, err
	}
	return s.scheduleSlots(ctx, med)
}

// RearmReminders schedules med's pending slots again after a restart. Unlike
// ScheduleAllReminders it leaves escalations alone so Restore can pick them up.
func (s *Scheduler) RearmReminders(ctx context.Context, med medication.Medication) (int, error) {
	if err := s.cancelReminders(ctx, med.ID); err != nil {
		return 0, err
	}
	return s.scheduleSlots(ctx, med)
}

func (s *Scheduler) scheduleSlots(ctx context.Context, med medication.Medication) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	scheduled := 0
	for _, slot := range med.Schedule {
		if !slot.Pending() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return scheduled, err
		}

		at, err := timeutil.NextOccurrence(now, slot.Time)
		if err != nil {
			s.logger.Warn("Invalid slot time", zap.String("medication_id", med.ID), zap.String("time", slot.Time))
			continue
		}
		if !med.Active(at) {
			continue
		}
		if s.quiet.Enabled && timeutil.IsTimeInRange(slot.Time, s.quiet.Start, s.quiet.End) {
			s.metrics.RecordReminder("quiet_hours")
			s.logger.Debug("Skipping reminder in quiet hours",
				zap.String("medication_id", med.ID),
				zap.String("time", slot.Time),
			)
			continue
		}

		handle, err := s.notifier.Schedule(ctx, reminderPayload(med, slot.ID), at)
		if err != nil {
			s.metrics.RecordReminder("failed")
			s.logger.Warn("Failed to schedule reminder",
				zap.String("medication_id", med.ID),
				zap.String("schedule_id", slot.ID),
				zap.Error(err),
			)
			continue
		}
		s.tracked = append(s.tracked, ScheduledNotification{
			ID:             uuid.NewString(),
			MedicationID:   med.ID,
			MedicationName: med.Name,
			ScheduleID:     slot.ID,
			TriggerTime:    at,
			Handle:         handle,
		})
		s.metrics.RecordReminder("scheduled")
		scheduled++
	}

	if err := s.saveLocked(); err != nil {
		return scheduled, err
	}
	s.logger.Info("Scheduled reminders",
		zap.String("medication_id", med.ID),
		zap.String("name", med.Name),
		zap.Int("count", scheduled),
	)
	return scheduled, nil
}

// CancelMedicationReminders cancels every tracked reminder of the medication
// and any armed escalation.
func (s *Scheduler) CancelMedicationReminders(ctx context.Context, medicationID string) error {
	err := s.cancelReminders(ctx, medicationID)
	if s.escalation != nil {
		s.escalation.Cancel(medicationID)
	}
	return err
}

func (s *Scheduler) cancelReminders(ctx context.Context, medicationID string) error {
	s.mu.Lock()
	kept := s.tracked[:0]
	var canceled []ScheduledNotification
	for _, n := range s.tracked {
		if n.MedicationID == medicationID {
			canceled = append(canceled, n)
			continue
		}
		kept = append(kept, n)
	}
	s.tracked = kept

	for _, n := range canceled {
		if err := s.notifier.Cancel(ctx, n.Handle); err != nil {
			s.logger.Warn("Failed to cancel reminder", zap.String("handle", n.Handle), zap.Error(err))
		}
	}
	err := s.saveLocked()
	s.mu.Unlock()
	return err
}

// CancelAllNotifications cancels every external notification, clears the
// tracked set and stops all escalations.
func (s *Scheduler) CancelAllNotifications(ctx context.Context) error {
	s.mu.Lock()
	if err := s.notifier.CancelAll(ctx); err != nil {
		s.logger.Warn("Failed to cancel all notifications", zap.Error(err))
	}
	s.tracked = nil
	err := s.saveLocked()
	s.mu.Unlock()

	if s.escalation != nil {
		s.escalation.CancelAll()
	}
	return err
}

// RescheduleAllIfNewDay re-arms reminders for every medication at most once
// per calendar day. It reports whether a pass ran.
func (s *Scheduler) RescheduleAllIfNewDay(ctx context.Context, meds []medication.Medication) (bool, error) {
	today := timeutil.DateKey(s.clock.Now())
	last, ok, err := store.GetString(s.kv, KeyLastSchedule)
	if err != nil {
		return false, apperrors.WrapAs(apperrors.ErrPersistence, err)
	}
	if ok && last == today {
		return false, nil
	}

	for _, med := range meds {
		if _, err := s.ScheduleAllReminders(ctx, med); err != nil {
			return false, err
		}
	}
	if err := store.SetString(s.kv, KeyLastSchedule, today); err != nil {
		return true, apperrors.WrapAs(apperrors.ErrPersistence, err)
	}
	s.logger.Info("Daily reminder pass complete", zap.String("date", today), zap.Int("medications", len(meds)))
	return true, nil
}

// Snooze schedules a follow-up reminder minutes from now; zero minutes uses
// the configured default. Any armed escalation is canceled.
func (s *Scheduler) Snooze(ctx context.Context, medicationID, medicationName, scheduleID string, minutes int) (string, error) {
	if minutes <= 0 {
		minutes = s.snooze
	}
	if s.escalation != nil {
		s.escalation.Cancel(medicationID)
	}

	at := s.clock.Now().Add(time.Duration(minutes) * time.Minute)
	p := Payload{
		Title:          "Snoozed Reminder",
		Body:           fmt.Sprintf("Time to take %s", medicationName),
		Category:       CategoryReminder,
		Channel:        ChannelReminders,
		MedicationID:   medicationID,
		MedicationName: medicationName,
		ScheduleID:     scheduleID,
		Snoozed:        true,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	handle, err := s.notifier.Schedule(ctx, p, at)
	if err != nil {
		s.logger.Warn("Failed to snooze reminder", zap.String("medication_id", medicationID), zap.Error(err))
		return "", err
	}
	s.tracked = append(s.tracked, ScheduledNotification{
		ID:             uuid.NewString(),
		MedicationID:   medicationID,
		MedicationName: medicationName,
		ScheduleID:     scheduleID,
		TriggerTime:    at,
		Handle:         handle,
		Snoozed:        true,
	})
	if err := s.saveLocked(); err != nil {
		return handle, err
	}
	s.logger.Info("Reminder snoozed", zap.String("medication_id", medicationID), zap.Int("minutes", minutes))
	return handle, nil
}

func (s *Scheduler) saveLocked() error {
	tracked := s.tracked
	if tracked == nil {
		tracked = []ScheduledNotification{}
	}
	if err := store.SetObject(s.kv, KeyScheduled, tracked); err != nil {
		s.logger.Error("Failed to persist scheduled notifications", zap.Error(err))
		return apperrors.WrapAs(apperrors.ErrPersistence, err)
	}
	return nil
}

func reminderPayload(med medication.Medication, scheduleID string) Payload {
	return Payload{
		Title:          "Medication Reminder",
		Body:           fmt.Sprintf("Time to take %s (%s%s)", med.Name, med.Dosage, med.Unit),
		Category:       CategoryReminder,
		Channel:        ChannelReminders,
		MedicationID:   med.ID,
		MedicationName: med.Name,
		ScheduleID:     scheduleID,
		Dosage:         med.Dosage,
		Unit:           string(med.Unit),
		Instructions:   med.Instructions,
	}
}
