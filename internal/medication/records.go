package medication

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/gmsas95/medremind/internal/errors"
	"github.com/gmsas95/medremind/internal/store"
	"github.com/gmsas95/medremind/internal/timeutil"
)

// DefaultRetentionDays bounds how long dose records are kept.
const DefaultRetentionDays = 90

// RecordStore is the append-only dose history.
type RecordStore struct {
	mu        sync.Mutex
	kv        store.KV
	clock     timeutil.Clock
	retention int
	logger    *zap.Logger
}

// NewRecordStore creates a record store keeping retentionDays of history.
func NewRecordStore(kv store.KV, clock timeutil.Clock, retentionDays int, logger *zap.Logger) *RecordStore {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &RecordStore{kv: kv, clock: clock, retention: retentionDays, logger: logger}
}

// Append adds records and prunes anything older than the retention window.
func (r *RecordStore) Append(records ...DoseRecord) error {
	if len(records) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	all, err := r.load()
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].ID == "" {
			records[i].ID = generateID()
		}
	}
	all = append(all, records...)

	cutoff := timeutil.StartOfDay(r.clock.Now()).AddDate(0, 0, -r.retention)
	kept := all[:0]
	for _, rec := range all {
		if !rec.ScheduledTime.Before(cutoff) {
			kept = append(kept, rec)
		}
	}
	if pruned := len(all) - len(kept); pruned > 0 {
		r.logger.Debug("Pruned dose records", zap.Int("count", pruned))
	}

	if err := store.SetObject(r.kv, KeyDoseRecords, kept); err != nil {
		r.logger.Error("Failed to persist dose records", zap.Error(err))
		return apperrors.WrapAs(apperrors.ErrPersistence, err)
	}
	return nil
}

// All returns every stored record in insertion order.
func (r *RecordStore) All() ([]DoseRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

// Since returns records scheduled at or after from, optionally for a single
// medication, ordered by scheduled time.
func (r *RecordStore) Since(from time.Time, medicationID string) ([]DoseRecord, error) {
	all, err := r.All()
	if err != nil {
		return nil, err
	}
	out := make([]DoseRecord, 0, len(all))
	for _, rec := range all {
		if medicationID != "" && rec.MedicationID != medicationID {
			continue
		}
		if rec.ScheduledTime.Before(from) {
			continue
		}
		out = append(out, rec)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ScheduledTime.Before(out[j].ScheduledTime)
	})
	return out, nil
}

func (r *RecordStore) load() ([]DoseRecord, error) {
	var records []DoseRecord
	if _, err := store.GetObject(r.kv, KeyDoseRecords, &records); err != nil {
		return nil, apperrors.WrapAs(apperrors.ErrPersistence, err)
	}
	return records, nil
}
