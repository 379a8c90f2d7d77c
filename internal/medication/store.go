package medication

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/medremind/internal/errors"
	"github.com/gmsas95/medremind/internal/store"
	"github.com/gmsas95/medremind/internal/timeutil"
)

// Store handles the persisted medication list. Every mutation is a
// whole-collection read-modify-write under one mutex.
type Store struct {
	mu     sync.Mutex
	kv     store.KV
	clock  timeutil.Clock
	logger *zap.Logger
}

// NewStore creates a medication store over kv
func NewStore(kv store.KV, clock timeutil.Clock, logger *zap.Logger) *Store {
	return &Store{kv: kv, clock: clock, logger: logger}
}

func generateID() string {
	return uuid.NewString()
}

// List returns every medication.
func (s *Store) List() ([]Medication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Get returns one medication by id.
func (s *Store) Get(id string) (*Medication, error) {
	meds, err := s.List()
	if err != nil {
		return nil, err
	}
	for i := range meds {
		if meds[i].ID == id {
			return &meds[i], nil
		}
	}
	return nil, apperrors.WrapAs(apperrors.ErrMedicationNotFound, fmt.Errorf("medication %s", id))
}

// Mutate loads the list, applies fn and writes the result back. Nothing is
// written when fn fails.
func (s *Store) Mutate(fn func(meds []Medication) ([]Medication, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	meds, err := s.load()
	if err != nil {
		return err
	}
	out, err := fn(meds)
	if err != nil {
		return err
	}
	return s.save(out)
}

// Create validates med, assigns ids and appends it.
func (s *Store) Create(med Medication) (*Medication, error) {
	if err := Validate(&med); err != nil {
		return nil, err
	}
	med.ID = generateID()
	if med.StartDate.IsZero() {
		med.StartDate = timeutil.StartOfDay(s.clock.Now())
	}
	med.Schedule = buildSlots(med.Times())

	err := s.Mutate(func(meds []Medication) ([]Medication, error) {
		return append(meds, med), nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Medication added",
		zap.String("medication_id", med.ID),
		zap.String("name", med.Name),
		zap.Strings("times", med.Times()),
	)
	return &med, nil
}

// Update replaces the editable fields of an existing medication. Slots are
// regenerated only when the set of times changes.
func (s *Store) Update(id string, next Medication) (*Medication, error) {
	if err := Validate(&next); err != nil {
		return nil, err
	}

	var updated Medication
	err := s.Mutate(func(meds []Medication) ([]Medication, error) {
		for i := range meds {
			if meds[i].ID != id {
				continue
			}
			cur := meds[i]
			next.ID = cur.ID
			next.AdherenceRate = cur.AdherenceRate
			if next.StartDate.IsZero() {
				next.StartDate = cur.StartDate
			}
			if sameTimes(cur.Times(), next.Times()) {
				next.Schedule = cur.Schedule
			} else {
				next.Schedule = buildSlots(next.Times())
			}
			meds[i] = next
			updated = next
			return meds, nil
		}
		return nil, apperrors.WrapAs(apperrors.ErrMedicationNotFound, fmt.Errorf("medication %s", id))
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Delete removes a medication.
func (s *Store) Delete(id string) error {
	return s.Mutate(func(meds []Medication) ([]Medication, error) {
		for i := range meds {
			if meds[i].ID == id {
				return append(meds[:i], meds[i+1:]...), nil
			}
		}
		return nil, apperrors.WrapAs(apperrors.ErrMedicationNotFound, fmt.Errorf("medication %s", id))
	})
}

// SetAdherenceRate updates the cached rate without touching slot state.
func (s *Store) SetAdherenceRate(id string, rate int) error {
	return s.Mutate(func(meds []Medication) ([]Medication, error) {
		for i := range meds {
			if meds[i].ID == id {
				meds[i].AdherenceRate = rate
				return meds, nil
			}
		}
		return nil, apperrors.WrapAs(apperrors.ErrMedicationNotFound, fmt.Errorf("medication %s", id))
	})
}

func (s *Store) load() ([]Medication, error) {
	var meds []Medication
	if _, err := store.GetObject(s.kv, KeyMedications, &meds); err != nil {
		return nil, apperrors.WrapAs(apperrors.ErrPersistence, err)
	}
	return meds, nil
}

func (s *Store) save(meds []Medication) error {
	if meds == nil {
		meds = []Medication{}
	}
	if err := store.SetObject(s.kv, KeyMedications, meds); err != nil {
		s.logger.Error("Failed to persist medications", zap.Error(err))
		return apperrors.WrapAs(apperrors.ErrPersistence, err)
	}
	return nil
}

// Validate checks a medication before it is stored. Only the slot times are
// read from Schedule; the result is sorted by time.
func Validate(med *Medication) error {
	med.Name = strings.TrimSpace(med.Name)
	if med.Name == "" {
		return invalid("name is required")
	}
	if strings.TrimSpace(med.Dosage) == "" {
		return invalid("dosage is required")
	}
	if !med.Unit.Valid() {
		return invalid(fmt.Sprintf("unit must be mg, ml or pills, got %q", med.Unit))
	}
	if len(med.Schedule) == 0 {
		return invalid("at least one dose time is required")
	}
	seen := make(map[string]bool, len(med.Schedule))
	for _, slot := range med.Schedule {
		if !timeutil.ValidClock(slot.Time) {
			return invalid(fmt.Sprintf("invalid dose time %q", slot.Time))
		}
		if seen[slot.Time] {
			return invalid(fmt.Sprintf("duplicate dose time %s", slot.Time))
		}
		seen[slot.Time] = true
	}
	if med.EndDate != nil && !med.StartDate.IsZero() && med.EndDate.Before(med.StartDate) {
		return invalid("end date precedes start date")
	}
	sort.SliceStable(med.Schedule, func(i, j int) bool {
		return med.Schedule[i].Time < med.Schedule[j].Time
	})
	return nil
}

func invalid(msg string) error {
	return apperrors.WrapAs(apperrors.ErrInvalidMedication, errors.New(msg))
}

func buildSlots(times []string) []DoseSlot {
	slots := make([]DoseSlot, len(times))
	for i, t := range times {
		slots[i] = DoseSlot{ID: generateID(), Time: t}
	}
	return slots
}

func sameTimes(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	for _, t := range b {
		if !set[t] {
			return false
		}
	}
	return true
}

// Active reports whether med is within its start/end dates on day.
func (m *Medication) Active(day time.Time) bool {
	d := timeutil.StartOfDay(day)
	if !m.StartDate.IsZero() && timeutil.StartOfDay(m.StartDate).After(d) {
		return false
	}
	if m.EndDate != nil && timeutil.StartOfDay(*m.EndDate).Before(d) {
		return false
	}
	return true
}
