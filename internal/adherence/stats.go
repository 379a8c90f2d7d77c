// Package adherence derives read-only statistics and behavior insights from
// the dose history.
package adherence

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/medremind/internal/medication"
	"github.com/gmsas95/medremind/internal/timeutil"
)

// DefaultStatsDays is the stats window used when none is given.
const DefaultStatsDays = 7

// maxStreakDays bounds the backward walk when counting a streak.
const maxStreakDays = 365

// RecordSource is the dose history the engine reads.
type RecordSource interface {
	All() ([]medication.DoseRecord, error)
	Since(from time.Time, medicationID string) ([]medication.DoseRecord, error)
}

// Stats summarizes dose outcomes over a window.
type Stats struct {
	MedicationID string `json:"medication_id,omitempty"`
	Days         int    `json:"days"`
	Taken        int    `json:"taken"`
	Missed       int    `json:"missed"`
	Skipped      int    `json:"skipped"`
	Total        int    `json:"total"`
	Rate         int    `json:"rate"`
	Streak       int    `json:"streak"`
}

// Engine computes adherence statistics.
type Engine struct {
	records RecordSource
	clock   timeutil.Clock
	logger  *zap.Logger
}

func NewEngine(records RecordSource, clock timeutil.Clock, logger *zap.Logger) *Engine {
	return &Engine{records: records, clock: clock, logger: logger}
}

// Stats counts records scheduled within the last days, for one medication
// when medicationID is set. Read failures yield zero stats.
func (e *Engine) Stats(medicationID string, days int) Stats {
	if days <= 0 {
		days = DefaultStatsDays
	}
	stats := Stats{MedicationID: medicationID, Days: days}

	now := e.clock.Now()
	records, err := e.records.Since(now.AddDate(0, 0, -days), medicationID)
	if err != nil {
		e.logger.Warn("Failed to read dose records for stats", zap.String("medication_id", medicationID), zap.Error(err))
		return stats
	}

	for _, rec := range records {
		switch rec.Status {
		case medication.StatusTaken:
			stats.Taken++
		case medication.StatusMissed:
			stats.Missed++
		case medication.StatusSkipped:
			stats.Skipped++
		}
	}
	stats.Total = len(records)
	stats.Rate = Rate(stats.Taken, stats.Total)
	stats.Streak = e.streak(medicationID, now)
	return stats
}

// Rate returns taken as a rounded percentage of total, or 0 for no records.
func Rate(taken, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(taken) / float64(total) * 100))
}

// streak counts consecutive days, ending today, on which every record was
// taken. A day without records ends the streak.
func (e *Engine) streak(medicationID string, now time.Time) int {
	all, err := e.records.All()
	if err != nil {
		e.logger.Warn("Failed to read dose records for streak", zap.Error(err))
		return 0
	}

	type day struct {
		total    int
		allTaken bool
	}
	loc := now.Location()
	days := make(map[string]*day)
	for _, rec := range all {
		if medicationID != "" && rec.MedicationID != medicationID {
			continue
		}
		key := timeutil.DateKey(rec.ScheduledTime.In(loc))
		d, ok := days[key]
		if !ok {
			d = &day{allTaken: true}
			days[key] = d
		}
		d.total++
		if rec.Status != medication.StatusTaken {
			d.allTaken = false
		}
	}

	streak := 0
	current := timeutil.StartOfDay(now)
	for i := 0; i < maxStreakDays; i++ {
		d, ok := days[timeutil.DateKey(current)]
		if !ok || d.total == 0 || !d.allTaken {
			break
		}
		streak++
		current = current.AddDate(0, 0, -1)
	}
	return streak
}
