package medication

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	apperrors "github.com/gmsas95/medremind/internal/errors"
	"github.com/gmsas95/medremind/internal/metrics"
	"github.com/gmsas95/medremind/internal/timeutil"
)

// Tracker is the per-slot dose state machine. It never touches escalation
// timers; callers cancel those after a successful mark.
type Tracker struct {
	meds    *Store
	records *RecordStore
	clock   timeutil.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewTracker creates a dose tracker.
func NewTracker(meds *Store, records *RecordStore, clock timeutil.Clock, m *metrics.Metrics, logger *zap.Logger) *Tracker {
	return &Tracker{meds: meds, records: records, clock: clock, metrics: m, logger: logger}
}

// MarkTaken resolves a slot as taken and appends a taken record.
func (t *Tracker) MarkTaken(ctx context.Context, medicationID, slotID string, method Method) (*Dose, error) {
	return t.resolve(ctx, medicationID, slotID, StatusTaken, method, "")
}

// MarkSkipped resolves a slot as skipped and appends a skipped record with
// reason as its notes.
func (t *Tracker) MarkSkipped(ctx context.Context, medicationID, slotID, reason string, method Method) (*Dose, error) {
	return t.resolve(ctx, medicationID, slotID, StatusSkipped, method, reason)
}

// Undo returns a slot to pending. Records already appended stay in history.
func (t *Tracker) Undo(ctx context.Context, medicationID, slotID string) (*Dose, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var dose Dose
	err := t.meds.Mutate(func(meds []Medication) ([]Medication, error) {
		med, slot, err := locate(meds, medicationID, slotID)
		if err != nil {
			return nil, err
		}
		slot.reset()
		dose = Dose{Medication: *med, Slot: *slot}
		return meds, nil
	})
	if err != nil {
		t.logger.Warn("Undo failed",
			zap.String("medication_id", medicationID),
			zap.String("schedule_id", slotID),
			zap.Error(err),
		)
		return nil, err
	}

	t.logger.Info("Dose reset to pending",
		zap.String("medication_id", medicationID),
		zap.String("schedule_id", slotID),
	)
	t.refreshPending()
	return &dose, nil
}

func (t *Tracker) resolve(ctx context.Context, medicationID, slotID string, status Status, method Method, notes string) (*Dose, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if method == "" {
		method = MethodManual
	}

	now := t.clock.Now()
	var dose Dose
	var previous DoseSlot
	err := t.meds.Mutate(func(meds []Medication) ([]Medication, error) {
		med, slot, err := locate(meds, medicationID, slotID)
		if err != nil {
			return nil, err
		}
		previous = *slot
		if status == StatusTaken {
			slot.markTaken(now)
		} else {
			slot.markSkipped(now)
		}
		dose = Dose{Medication: *med, Slot: *slot}
		return meds, nil
	})
	if err != nil {
		t.logger.Warn("Dose update failed",
			zap.String("medication_id", medicationID),
			zap.String("schedule_id", slotID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return nil, err
	}

	scheduled, err := timeutil.On(now, dose.Slot.Time)
	if err != nil {
		scheduled = now
	}
	rec := DoseRecord{
		MedicationID:   medicationID,
		MedicationName: dose.Medication.Name,
		ScheduleID:     slotID,
		ScheduledTime:  scheduled,
		Status:         status,
		Method:         method,
		Notes:          notes,
	}
	if status == StatusTaken {
		rec.TakenTime = &now
	}
	if err := t.records.Append(rec); err != nil {
		t.rollback(medicationID, previous)
		return nil, err
	}

	t.metrics.RecordDose(string(status), string(method))
	t.logger.Info("Dose resolved",
		zap.String("medication_id", medicationID),
		zap.String("schedule_id", slotID),
		zap.String("status", string(status)),
		zap.String("method", string(method)),
	)
	t.refreshPending()
	return &dose, nil
}

// rollback restores a slot whose dose record could not be written, so a
// mark is never saved without its record.
func (t *Tracker) rollback(medicationID string, previous DoseSlot) {
	err := t.meds.Mutate(func(meds []Medication) ([]Medication, error) {
		_, slot, err := locate(meds, medicationID, previous.ID)
		if err != nil {
			return nil, err
		}
		*slot = previous
		return meds, nil
	})
	if err != nil {
		t.logger.Error("Failed to roll back dose slot",
			zap.String("medication_id", medicationID),
			zap.String("schedule_id", previous.ID),
			zap.Error(err),
		)
	}
}

// IsPending reports whether the slot exists and is unresolved.
func (t *Tracker) IsPending(medicationID, slotID string) bool {
	med, err := t.meds.Get(medicationID)
	if err != nil {
		return false
	}
	slot, ok := med.Slot(slotID)
	return ok && slot.Pending()
}

// HasPending reports whether any slot of the medication is unresolved.
func (t *Tracker) HasPending(medicationID string) bool {
	med, err := t.meds.Get(medicationID)
	if err != nil {
		return false
	}
	for _, s := range med.Schedule {
		if s.Pending() {
			return true
		}
	}
	return false
}

// PendingDoses returns every unresolved slot, sorted by HH:MM.
func (t *Tracker) PendingDoses() ([]Dose, error) {
	return t.collect(func(s DoseSlot) bool { return s.Pending() })
}

// UpcomingDoses returns unresolved slots later today than now.
func (t *Tracker) UpcomingDoses() ([]Dose, error) {
	current := timeutil.FormatClock(t.clock.Now())
	return t.collect(func(s DoseSlot) bool { return s.Pending() && s.Time > current })
}

func (t *Tracker) collect(keep func(DoseSlot) bool) ([]Dose, error) {
	meds, err := t.meds.List()
	if err != nil {
		return nil, err
	}
	var out []Dose
	for _, med := range meds {
		for _, slot := range med.Schedule {
			if keep(slot) {
				out = append(out, Dose{Medication: med, Slot: slot})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Slot.Time < out[j].Slot.Time
	})
	return out, nil
}

func (t *Tracker) refreshPending() {
	if pending, err := t.PendingDoses(); err == nil {
		t.metrics.SetPendingDoses(len(pending))
	}
}

// PendingSummary is the spoken announcement of outstanding doses.
func PendingSummary(n int) string {
	switch n {
	case 0:
		return "You have no pending doses. Great job!"
	case 1:
		return "You have 1 pending dose."
	default:
		return fmt.Sprintf("You have %d pending doses.", n)
	}
}

func locate(meds []Medication, medicationID, slotID string) (*Medication, *DoseSlot, error) {
	for i := range meds {
		if meds[i].ID != medicationID {
			continue
		}
		slot, ok := meds[i].Slot(slotID)
		if !ok {
			return nil, nil, apperrors.WrapAs(apperrors.ErrSlotNotFound, fmt.Errorf("slot %s of medication %s", slotID, medicationID))
		}
		return &meds[i], slot, nil
	}
	return nil, nil, apperrors.WrapAs(apperrors.ErrMedicationNotFound, fmt.Errorf("medication %s", medicationID))
}
