package adherence

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gmsas95/medremind/internal/medication"
	"github.com/gmsas95/medremind/internal/store"
	"github.com/gmsas95/medremind/internal/timeutil"
)

// Tuesday evening.
var testNow = time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC)

func at(day, hour int) time.Time {
	return time.Date(2026, 3, day, hour, 0, 0, 0, time.UTC)
}

func rec(medID string, scheduled time.Time, status medication.Status) medication.DoseRecord {
	return medication.DoseRecord{
		MedicationID:   medID,
		MedicationName: medID,
		ScheduleID:     "slot",
		ScheduledTime:  scheduled,
		Status:         status,
		Method:         medication.MethodManual,
	}
}

func newRecords(t *testing.T, records ...medication.DoseRecord) *medication.RecordStore {
	t.Helper()
	clock := timeutil.NewFakeClock(testNow)
	rs := medication.NewRecordStore(store.NewMemory(), clock, 0, zap.NewNop())
	require.NoError(t, rs.Append(records...))
	return rs
}

type failingSource struct{}

func (failingSource) All() ([]medication.DoseRecord, error) {
	return nil, fmt.Errorf("disk on fire")
}

func (failingSource) Since(time.Time, string) ([]medication.DoseRecord, error) {
	return nil, fmt.Errorf("disk on fire")
}

func TestRate(t *testing.T) {
	assert.Equal(t, 0, Rate(0, 0))
	assert.Equal(t, 80, Rate(4, 5))
	assert.Equal(t, 67, Rate(2, 3))
	assert.Equal(t, 100, Rate(3, 3))
}

func TestStats_Counts(t *testing.T) {
	rs := newRecords(t,
		rec("a", at(10, 8), medication.StatusTaken),
		rec("a", at(10, 9), medication.StatusTaken),
		rec("a", at(10, 10), medication.StatusTaken),
		rec("a", at(10, 11), medication.StatusTaken),
		rec("a", at(10, 12), medication.StatusMissed),
		rec("b", at(10, 8), medication.StatusSkipped),
		rec("a", at(1, 8), medication.StatusMissed),
	)
	e := NewEngine(rs, timeutil.NewFakeClock(testNow), zap.NewNop())

	s := e.Stats("a", 7)
	assert.Equal(t, "a", s.MedicationID)
	assert.Equal(t, 4, s.Taken)
	assert.Equal(t, 1, s.Missed)
	assert.Equal(t, 0, s.Skipped)
	assert.Equal(t, 5, s.Total, "record outside the window is ignored")
	assert.Equal(t, 80, s.Rate)
	assert.Equal(t, 0, s.Streak, "a miss today breaks the streak")

	all := e.Stats("", 0)
	assert.Equal(t, DefaultStatsDays, all.Days)
	assert.Equal(t, 6, all.Total)
	assert.Equal(t, 1, all.Skipped)
}

func TestStats_Streak(t *testing.T) {
	tests := []struct {
		name    string
		records []medication.DoseRecord
		want    int
	}{
		{
			name:    "today only",
			records: []medication.DoseRecord{rec("a", at(10, 8), medication.StatusTaken)},
			want:    1,
		},
		{
			name: "three days then a miss",
			records: []medication.DoseRecord{
				rec("a", at(10, 8), medication.StatusTaken),
				rec("a", at(9, 8), medication.StatusTaken),
				rec("a", at(9, 20), medication.StatusTaken),
				rec("a", at(8, 8), medication.StatusTaken),
				rec("a", at(7, 8), medication.StatusMissed),
			},
			want: 3,
		},
		{
			name:    "nothing today",
			records: []medication.DoseRecord{rec("a", at(9, 8), medication.StatusTaken)},
			want:    0,
		},
		{
			name: "gap ends streak",
			records: []medication.DoseRecord{
				rec("a", at(10, 8), medication.StatusTaken),
				rec("a", at(8, 8), medication.StatusTaken),
			},
			want: 1,
		},
		{
			name: "skip today",
			records: []medication.DoseRecord{
				rec("a", at(10, 8), medication.StatusTaken),
				rec("a", at(10, 20), medication.StatusSkipped),
			},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(newRecords(t, tt.records...), timeutil.NewFakeClock(testNow), zap.NewNop())
			assert.Equal(t, tt.want, e.Stats("a", 7).Streak)
		})
	}
}

func TestStats_StreakIgnoresOtherMedications(t *testing.T) {
	rs := newRecords(t,
		rec("a", at(10, 8), medication.StatusTaken),
		rec("b", at(10, 8), medication.StatusMissed),
	)
	e := NewEngine(rs, timeutil.NewFakeClock(testNow), zap.NewNop())
	assert.Equal(t, 1, e.Stats("a", 7).Streak)
	assert.Equal(t, 0, e.Stats("", 7).Streak)
}

func TestStats_ReadFailureDegrades(t *testing.T) {
	e := NewEngine(failingSource{}, timeutil.NewFakeClock(testNow), zap.NewNop())
	s := e.Stats("a", 7)
	assert.Equal(t, Stats{MedicationID: "a", Days: 7}, s)
}

func TestAnalyze_EmptyWindow(t *testing.T) {
	a := NewAnalyzer(newRecords(t), timeutil.NewFakeClock(testNow), zap.NewNop())
	got := a.Analyze(0)

	assert.Equal(t, DefaultInsightDays, got.Days)
	assert.Equal(t, "morning", got.BestTimeOfDay)
	assert.Equal(t, "evening", got.WorstTimeOfDay)
	assert.Equal(t, "Monday", got.BestDayOfWeek)
	assert.Equal(t, TrendStable, got.Trend)
	assert.Zero(t, got.ImprovementScore)
	assert.Equal(t, []string{"Start taking your medications to build good habits"}, got.Suggestions)
	assert.Empty(t, got.CommonMissReasons)

	failing := NewAnalyzer(failingSource{}, timeutil.NewFakeClock(testNow), zap.NewNop())
	assert.Equal(t, "Monday", failing.Analyze(30).BestDayOfWeek)
}

func TestAnalyze_DecliningTrend(t *testing.T) {
	var records []medication.DoseRecord
	for i := 0; i < 14; i++ {
		status := medication.StatusTaken
		if i >= 7 {
			status = medication.StatusMissed
		}
		records = append(records, rec("a", at(9, 5+i), status))
	}
	a := NewAnalyzer(newRecords(t, records...), timeutil.NewFakeClock(testNow), zap.NewNop())
	got := a.Analyze(30)

	assert.Equal(t, TrendDeclining, got.Trend)
	assert.Equal(t, -100, got.ImprovementScore)
	assert.Equal(t, "morning", got.BestTimeOfDay)
	assert.Equal(t, "afternoon", got.WorstTimeOfDay, "evening ties afternoon and loses")
}

func TestAnalyze_ImprovingTrend(t *testing.T) {
	var records []medication.DoseRecord
	for i := 0; i < 14; i++ {
		status := medication.StatusMissed
		if i >= 7 {
			status = medication.StatusTaken
		}
		records = append(records, rec("a", at(9, 5+i), status))
	}
	a := NewAnalyzer(newRecords(t, records...), timeutil.NewFakeClock(testNow), zap.NewNop())
	got := a.Analyze(30)

	assert.Equal(t, TrendImproving, got.Trend)
	assert.Equal(t, 100, got.ImprovementScore)
}

func TestAnalyze_ImprovementUsesLastTwoWeeksOfRecords(t *testing.T) {
	// 28 hourly records: the first half all missed, then seven taken and
	// seven missed. Halves say improving, the last seven against the seven
	// before them say worse.
	var records []medication.DoseRecord
	for i := 0; i < 28; i++ {
		status := medication.StatusMissed
		if i >= 14 && i < 21 {
			status = medication.StatusTaken
		}
		records = append(records, rec("a", at(8, i), status))
	}
	a := NewAnalyzer(newRecords(t, records...), timeutil.NewFakeClock(testNow), zap.NewNop())
	got := a.Analyze(30)

	assert.Equal(t, TrendImproving, got.Trend)
	assert.Equal(t, -100, got.ImprovementScore)
}

func TestAnalyze_TrendThresholdIsExclusive(t *testing.T) {
	build := func(takenLater int) []medication.DoseRecord {
		var records []medication.DoseRecord
		for i := 0; i < 20; i++ {
			status := medication.StatusMissed
			if i == 0 || (i >= 10 && i < 10+takenLater) {
				status = medication.StatusTaken
			}
			records = append(records, rec("a", at(8, i), status))
		}
		return records
	}

	// 1/10 then 2/10: a difference of exactly 0.10.
	a := NewAnalyzer(newRecords(t, build(2)...), timeutil.NewFakeClock(testNow), zap.NewNop())
	assert.Equal(t, TrendStable, a.Analyze(30).Trend)

	a = NewAnalyzer(newRecords(t, build(3)...), timeutil.NewFakeClock(testNow), zap.NewNop())
	assert.Equal(t, TrendImproving, a.Analyze(30).Trend)
}

func TestAnalyze_FewRecordsStayStable(t *testing.T) {
	var records []medication.DoseRecord
	for i := 0; i < 13; i++ {
		status := medication.StatusTaken
		if i >= 6 {
			status = medication.StatusMissed
		}
		records = append(records, rec("a", at(9, 5+i), status))
	}
	a := NewAnalyzer(newRecords(t, records...), timeutil.NewFakeClock(testNow), zap.NewNop())
	got := a.Analyze(30)

	assert.Equal(t, TrendStable, got.Trend)
	assert.Zero(t, got.ImprovementScore)
}

func TestAnalyze_DayTieFavorsMonday(t *testing.T) {
	rs := newRecords(t,
		rec("a", at(10, 8), medication.StatusTaken), // Tuesday
		rec("a", at(9, 8), medication.StatusTaken),  // Monday
	)
	a := NewAnalyzer(rs, timeutil.NewFakeClock(testNow), zap.NewNop())
	assert.Equal(t, "Monday", a.Analyze(30).BestDayOfWeek)

	rs = newRecords(t,
		rec("a", at(9, 8), medication.StatusMissed),
		rec("a", at(4, 8), medication.StatusTaken), // Wednesday
	)
	a = NewAnalyzer(rs, timeutil.NewFakeClock(testNow), zap.NewNop())
	assert.Equal(t, "Wednesday", a.Analyze(30).BestDayOfWeek)
}

func TestAnalyze_TimeOfDay(t *testing.T) {
	rs := newRecords(t,
		rec("a", at(9, 8), medication.StatusTaken),
		rec("a", at(10, 8), medication.StatusMissed),
		rec("a", at(9, 18), medication.StatusTaken),
		rec("a", at(10, 18), medication.StatusTaken),
		rec("a", at(9, 23), medication.StatusMissed),
	)
	a := NewAnalyzer(rs, timeutil.NewFakeClock(testNow), zap.NewNop())
	got := a.Analyze(30)

	assert.Equal(t, "evening", got.BestTimeOfDay)
	assert.Equal(t, "night", got.WorstTimeOfDay)
}

func TestAnalyze_Suggestions(t *testing.T) {
	morningMisses := func() []medication.DoseRecord {
		var out []medication.DoseRecord
		for _, day := range []int{9, 10} {
			for _, hour := range []int{6, 7, 8} {
				out = append(out, rec("a", at(day, hour), medication.StatusMissed))
			}
		}
		return out
	}
	eveningMisses := func() []medication.DoseRecord {
		var out []medication.DoseRecord
		for _, day := range []int{9, 10} {
			for _, hour := range []int{17, 18, 19} {
				out = append(out, rec("a", at(day, hour), medication.StatusMissed))
			}
		}
		return out
	}
	allTaken := func() []medication.DoseRecord {
		var out []medication.DoseRecord
		for hour := 8; hour < 18; hour++ {
			out = append(out, rec("a", at(10, hour), medication.StatusTaken))
		}
		return out
	}

	tests := []struct {
		name    string
		records []medication.DoseRecord
		want    []string
	}{
		{
			name:    "morning misses",
			records: morningMisses(),
			want:    []string{"Try placing your morning medications next to your breakfast items"},
		},
		{
			name:    "evening misses",
			records: eveningMisses(),
			want:    []string{"Consider setting an alarm for evening medications during dinner"},
		},
		{
			name: "weekend misses",
			records: []medication.DoseRecord{
				rec("a", at(7, 13), medication.StatusMissed), // Saturday
				rec("a", at(8, 13), medication.StatusMissed), // Sunday
				rec("a", at(9, 13), medication.StatusTaken),
			},
			want: []string{"You tend to miss more doses on weekends. Try weekend-specific reminders"},
		},
		{
			name:    "excellent",
			records: allTaken(),
			want:    []string{"Excellent work! Keep up your consistent routine"},
		},
		{
			name: "nothing notable",
			records: []medication.DoseRecord{
				rec("a", at(9, 13), medication.StatusTaken),
				rec("a", at(10, 13), medication.StatusMissed),
			},
			want: []string{"Continue with your current routine!"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnalyzer(newRecords(t, tt.records...), timeutil.NewFakeClock(testNow), zap.NewNop())
			assert.Equal(t, tt.want, a.Analyze(30).Suggestions)
		})
	}
}

func TestAnalyze_CommonMissReasons(t *testing.T) {
	skip := func(day, hour int, note string) medication.DoseRecord {
		r := rec("a", at(day, hour), medication.StatusSkipped)
		r.Notes = note
		return r
	}
	rs := newRecords(t,
		skip(2, 8, "nausea"),
		skip(3, 8, "forgot"),
		skip(4, 8, "nausea"),
		skip(5, 8, "forgot"),
		skip(6, 8, "traveling"),
		skip(7, 8, "forgot"),
		skip(8, 8, "ran out"),
		skip(9, 8, ""),
	)
	a := NewAnalyzer(rs, timeutil.NewFakeClock(testNow), zap.NewNop())
	assert.Equal(t, []string{"forgot", "nausea", "traveling"}, a.Analyze(30).CommonMissReasons)
}
