package medication

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/gmsas95/medremind/internal/errors"
	"github.com/gmsas95/medremind/internal/metrics"
	"github.com/gmsas95/medremind/internal/store"
	"github.com/gmsas95/medremind/internal/timeutil"
)

// RolloverResult describes one performed rollover.
type RolloverResult struct {
	ClosedDate string `json:"closed_date"`
	Today      string `json:"today"`
	Missed     int    `json:"missed"`
	Reset      int    `json:"reset"`
}

// Rollover archives the closing day, records unresolved slots as missed and
// resets every slot. It runs at most once per calendar day.
type Rollover struct {
	mu        sync.Mutex
	kv        store.KV
	meds      *Store
	records   *RecordStore
	clock     timeutil.Clock
	retention int
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewRollover creates the daily rollover job.
func NewRollover(kv store.KV, meds *Store, records *RecordStore, clock timeutil.Clock, retentionDays int, m *metrics.Metrics, logger *zap.Logger) *Rollover {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Rollover{
		kv:        kv,
		meds:      meds,
		records:   records,
		clock:     clock,
		retention: retentionDays,
		metrics:   m,
		logger:    logger,
	}
}

// CheckAndResetIfNewDay performs the rollover when the persisted last reset
// date differs from today. It returns nil when nothing was done.
func (r *Rollover) CheckAndResetIfNewDay(ctx context.Context) (*RolloverResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	today := timeutil.DateKey(now)

	last, ok, err := store.GetString(r.kv, KeyLastReset)
	if err != nil {
		r.logger.Error("Failed to read last reset date", zap.Error(err))
		return nil, apperrors.WrapAs(apperrors.ErrPersistence, err)
	}
	if ok && last == today {
		return nil, nil
	}

	closing := timeutil.StartOfDay(now).AddDate(0, 0, -1)
	if ok {
		if d, err := timeutil.ParseDateKey(last, now.Location()); err == nil {
			closing = d
		}
	}
	closedKey := timeutil.DateKey(closing)

	// Each step below is safe to repeat. A retry after a partial failure
	// reuses the archived snapshot, so slots that were already reset are not
	// counted as missed and records are written once.
	snap, err := r.archive(closedKey, now)
	if err != nil {
		return nil, err
	}

	missed := missedDoses(snap, closing)
	recorded, err := r.hasMissedOn(closedKey)
	if err != nil {
		return nil, err
	}
	if !recorded {
		if err := r.records.Append(missed...); err != nil {
			r.logger.Error("Failed to record missed doses", zap.Int("count", len(missed)), zap.Error(err))
			return nil, err
		}
	}

	reset := 0
	err = r.meds.Mutate(func(current []Medication) ([]Medication, error) {
		for i := range current {
			for j := range current[i].Schedule {
				current[i].Schedule[j].reset()
				reset++
			}
		}
		return current, nil
	})
	if err != nil {
		r.logger.Error("Failed to reset dose slots", zap.String("date", closedKey), zap.Error(err))
		return nil, err
	}

	if err := store.SetString(r.kv, KeyLastReset, today); err != nil {
		r.logger.Error("Failed to persist last reset date", zap.Error(err))
		return nil, apperrors.WrapAs(apperrors.ErrPersistence, err)
	}

	r.metrics.RecordRollover(len(missed))
	r.logger.Info("New day detected, schedules reset",
		zap.String("date", closedKey),
		zap.String("today", today),
		zap.Int("missed", len(missed)),
	)
	return &RolloverResult{ClosedDate: closedKey, Today: today, Missed: len(missed), Reset: reset}, nil
}

// archive stores the current slot state under date and returns it. A
// snapshot already archived for date is kept and returned unchanged.
func (r *Rollover) archive(date string, now time.Time) ([]MedicationSnapshot, error) {
	history, err := r.loadHistory()
	if err != nil {
		return nil, err
	}
	if snap, ok := history[date]; ok {
		r.logger.Warn("Resuming interrupted rollover", zap.String("date", date))
		return snap, nil
	}

	meds, err := r.meds.List()
	if err != nil {
		return nil, err
	}
	snap := make([]MedicationSnapshot, len(meds))
	for i, med := range meds {
		slots := make([]DoseSlot, len(med.Schedule))
		copy(slots, med.Schedule)
		snap[i] = MedicationSnapshot{ID: med.ID, Name: med.Name, Schedule: slots}
	}
	history[date] = snap

	cutoff := timeutil.DateKey(timeutil.StartOfDay(now).AddDate(0, 0, -r.retention))
	for key := range history {
		if key < cutoff {
			delete(history, key)
		}
	}

	if err := store.SetObject(r.kv, KeyHistory, history); err != nil {
		r.logger.Error("Failed to archive daily history", zap.String("date", date), zap.Error(err))
		return nil, apperrors.WrapAs(apperrors.ErrPersistence, err)
	}
	return snap, nil
}

// hasMissedOn reports whether missed records for date were already written.
func (r *Rollover) hasMissedOn(date string) (bool, error) {
	all, err := r.records.All()
	if err != nil {
		return false, err
	}
	for _, rec := range all {
		if rec.Status == StatusMissed && timeutil.DateKey(rec.ScheduledTime) == date {
			return true, nil
		}
	}
	return false, nil
}

func missedDoses(snap []MedicationSnapshot, closing time.Time) []DoseRecord {
	var missed []DoseRecord
	for _, med := range snap {
		for _, slot := range med.Schedule {
			if !slot.Pending() {
				continue
			}
			at, err := timeutil.On(closing, slot.Time)
			if err != nil {
				at = closing
			}
			missed = append(missed, DoseRecord{
				MedicationID:   med.ID,
				MedicationName: med.Name,
				ScheduleID:     slot.ID,
				ScheduledTime:  at,
				Status:         StatusMissed,
				Method:         MethodManual,
			})
		}
	}
	return missed
}

// History returns the archived state for one date.
func (r *Rollover) History(date string) (*DaySnapshot, error) {
	history, err := r.loadHistory()
	if err != nil {
		return nil, err
	}
	meds, ok := history[date]
	if !ok {
		return nil, apperrors.WrapAs(apperrors.ErrNotFound, errNoHistory(date))
	}
	return &DaySnapshot{Date: date, Medications: meds}, nil
}

// Recent returns up to days archived snapshots, newest first.
func (r *Rollover) Recent(days int) ([]DaySnapshot, error) {
	history, err := r.loadHistory()
	if err != nil {
		return nil, err
	}
	dates := make([]string, 0, len(history))
	for d := range history {
		dates = append(dates, d)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dates)))
	if days > 0 && len(dates) > days {
		dates = dates[:days]
	}
	out := make([]DaySnapshot, len(dates))
	for i, d := range dates {
		out[i] = DaySnapshot{Date: d, Medications: history[d]}
	}
	return out, nil
}

func (r *Rollover) loadHistory() (map[string][]MedicationSnapshot, error) {
	history := make(map[string][]MedicationSnapshot)
	if _, err := store.GetObject(r.kv, KeyHistory, &history); err != nil {
		return nil, apperrors.WrapAs(apperrors.ErrPersistence, err)
	}
	if history == nil {
		history = make(map[string][]MedicationSnapshot)
	}
	return history, nil
}

type errNoHistory string

func (e errNoHistory) Error() string {
	return "no history archived for " + string(e)
}
