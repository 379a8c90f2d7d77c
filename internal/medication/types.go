// Package medication holds the medication schedule, the per-slot dose state
// machine, the append-only dose history and the daily rollover.
package medication

import (
	"time"
)

// Persisted keys.
const (
	KeyMedications = "medications"
	KeyDoseRecords = "dose_records"
	KeyHistory     = "medication_history"
	KeyLastReset   = "last_reset_date"
)

// Unit of a dosage.
type Unit string

const (
	UnitMg    Unit = "mg"
	UnitMl    Unit = "ml"
	UnitPills Unit = "pills"
)

func (u Unit) Valid() bool {
	switch u {
	case UnitMg, UnitMl, UnitPills:
		return true
	}
	return false
}

// Status of a resolved dose.
type Status string

const (
	StatusTaken   Status = "taken"
	StatusMissed  Status = "missed"
	StatusSkipped Status = "skipped"
)

// Method records how a dose was resolved.
type Method string

const (
	MethodManual       Method = "manual"
	MethodVoice        Method = "voice"
	MethodNotification Method = "notification"
)

func (m Method) Valid() bool {
	switch m {
	case MethodManual, MethodVoice, MethodNotification:
		return true
	}
	return false
}

// Medication represents a medication with its daily schedule
type Medication struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Dosage       string     `json:"dosage"`
	Unit         Unit       `json:"unit"`
	Schedule     []DoseSlot `json:"schedule"`
	Purpose      string     `json:"purpose,omitempty"`
	Instructions string     `json:"instructions,omitempty"`
	StartDate    time.Time  `json:"start_date"`
	EndDate      *time.Time `json:"end_date,omitempty"`
	RefillDate   *time.Time `json:"refill_date,omitempty"`
	PrescribedBy string     `json:"prescribed_by,omitempty"`
	SideEffects  []string   `json:"side_effects,omitempty"`
	Interactions []string   `json:"interactions,omitempty"`

	// Cached, advisory only.
	AdherenceRate int `json:"adherence_rate"`
}

// Slot returns the slot with the given id.
func (m *Medication) Slot(id string) (*DoseSlot, bool) {
	for i := range m.Schedule {
		if m.Schedule[i].ID == id {
			return &m.Schedule[i], true
		}
	}
	return nil, false
}

// Times returns the slot clock times in schedule order.
func (m *Medication) Times() []string {
	out := make([]string, len(m.Schedule))
	for i, s := range m.Schedule {
		out[i] = s.Time
	}
	return out
}

// DoseSlot is one scheduled time-of-day occurrence, reset daily. At most one
// of Taken and Skipped is set; neither means pending.
type DoseSlot struct {
	ID        string     `json:"id"`
	Time      string     `json:"time"`
	Taken     bool       `json:"taken"`
	TakenAt   *time.Time `json:"taken_at,omitempty"`
	Skipped   bool       `json:"skipped"`
	SkippedAt *time.Time `json:"skipped_at,omitempty"`
}

func (s *DoseSlot) Pending() bool {
	return !s.Taken && !s.Skipped
}

func (s *DoseSlot) markTaken(at time.Time) {
	s.Taken = true
	s.TakenAt = &at
	s.Skipped = false
	s.SkippedAt = nil
}

func (s *DoseSlot) markSkipped(at time.Time) {
	s.Skipped = true
	s.SkippedAt = &at
	s.Taken = false
	s.TakenAt = nil
}

func (s *DoseSlot) reset() {
	s.Taken = false
	s.TakenAt = nil
	s.Skipped = false
	s.SkippedAt = nil
}

// DoseRecord is an immutable historical fact about how a slot was resolved.
type DoseRecord struct {
	ID             string     `json:"id"`
	MedicationID   string     `json:"medication_id"`
	MedicationName string     `json:"medication_name"`
	ScheduleID     string     `json:"schedule_id"`
	ScheduledTime  time.Time  `json:"scheduled_time"`
	TakenTime      *time.Time `json:"taken_time,omitempty"`
	Status         Status     `json:"status"`
	Method         Method     `json:"method"`
	Notes          string     `json:"notes,omitempty"`
}

// Dose pairs a medication with one of its slots.
type Dose struct {
	Medication Medication `json:"medication"`
	Slot       DoseSlot   `json:"slot"`
}

// DaySnapshot is the archived state of every slot at rollover.
type DaySnapshot struct {
	Date        string               `json:"date"`
	Medications []MedicationSnapshot `json:"medications"`
}

type MedicationSnapshot struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Schedule []DoseSlot `json:"schedule"`
}
