package adherence

import (
	"math"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/medremind/internal/medication"
	"github.com/gmsas95/medremind/internal/timeutil"
)

// DefaultInsightDays is the analysis window used when none is given.
const DefaultInsightDays = 30

// Trend is the direction of adherence across the window.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

const (
	minTrendRecords = 14
	trendThreshold  = 0.10
	improvementSpan = 7
	maxMissReasons  = 3
)

// Insights describes behavior patterns in the dose history.
type Insights struct {
	Days              int      `json:"days"`
	BestTimeOfDay     string   `json:"best_time_of_day"`
	WorstTimeOfDay    string   `json:"worst_time_of_day"`
	BestDayOfWeek     string   `json:"best_day_of_week"`
	CommonMissReasons []string `json:"common_miss_reasons"`
	Suggestions       []string `json:"suggestions"`
	Trend             Trend    `json:"adherence_trend"`
	ImprovementScore  int      `json:"improvement_score"`
}

type bucket struct {
	label string
	match func(t time.Time) bool
}

func hourIn(from, to int) func(time.Time) bool {
	return func(t time.Time) bool {
		h := t.Hour()
		return h >= from && h < to
	}
}

// Order matters: ties go to the earlier bucket.
var timeOfDayBuckets = []bucket{
	{"morning", hourIn(5, 12)},
	{"afternoon", hourIn(12, 17)},
	{"evening", hourIn(17, 21)},
	{"night", func(t time.Time) bool { h := t.Hour(); return h >= 21 || h < 5 }},
}

var dayOfWeekBuckets = func() []bucket {
	order := []time.Weekday{
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
		time.Friday, time.Saturday, time.Sunday,
	}
	out := make([]bucket, len(order))
	for i, wd := range order {
		wd := wd
		out[i] = bucket{wd.String(), func(t time.Time) bool { return t.Weekday() == wd }}
	}
	return out
}()

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

type suggestionRule struct {
	text    string
	applies func(records []medication.DoseRecord, loc *time.Location) bool
}

var suggestionRules = []suggestionRule{
	{
		text: "Try placing your morning medications next to your breakfast items",
		applies: func(records []medication.DoseRecord, loc *time.Location) bool {
			return countMissed(records, loc, timeOfDayBuckets[0].match) > 5
		},
	},
	{
		text: "Consider setting an alarm for evening medications during dinner",
		applies: func(records []medication.DoseRecord, loc *time.Location) bool {
			return countMissed(records, loc, timeOfDayBuckets[2].match) > 5
		},
	},
	{
		text: "You tend to miss more doses on weekends. Try weekend-specific reminders",
		applies: func(records []medication.DoseRecord, loc *time.Location) bool {
			return float64(countMissed(records, loc, isWeekend)) > float64(len(records))*0.3
		},
	},
	{
		text: "Excellent work! Keep up your consistent routine",
		applies: func(records []medication.DoseRecord, loc *time.Location) bool {
			return takenRatio(records) > 0.9
		},
	},
}

const (
	defaultSuggestion = "Continue with your current routine!"
	emptySuggestion   = "Start taking your medications to build good habits"
)

// Analyzer finds time-of-day and day-of-week patterns in the dose history.
type Analyzer struct {
	records RecordSource
	clock   timeutil.Clock
	logger  *zap.Logger
}

func NewAnalyzer(records RecordSource, clock timeutil.Clock, logger *zap.Logger) *Analyzer {
	return &Analyzer{records: records, clock: clock, logger: logger}
}

// Analyze inspects every record scheduled within the last days. An empty
// window, or a failed read, yields the starter insights.
func (a *Analyzer) Analyze(days int) Insights {
	if days <= 0 {
		days = DefaultInsightDays
	}
	now := a.clock.Now()
	records, err := a.records.Since(now.AddDate(0, 0, -days), "")
	if err != nil {
		a.logger.Warn("Failed to read dose records for insights", zap.Error(err))
		records = nil
	}
	if len(records) == 0 {
		return Insights{
			Days:              days,
			BestTimeOfDay:     "morning",
			WorstTimeOfDay:    "evening",
			BestDayOfWeek:     time.Monday.String(),
			CommonMissReasons: []string{},
			Suggestions:       []string{emptySuggestion},
			Trend:             TrendStable,
		}
	}

	loc := now.Location()
	return Insights{
		Days:              days,
		BestTimeOfDay:     bestBucket(records, loc, timeOfDayBuckets, medication.StatusTaken, "morning"),
		WorstTimeOfDay:    bestBucket(records, loc, timeOfDayBuckets, medication.StatusMissed, "morning"),
		BestDayOfWeek:     bestBucket(records, loc, dayOfWeekBuckets, medication.StatusTaken, time.Monday.String()),
		CommonMissReasons: missReasons(records),
		Suggestions:       suggestions(records, loc),
		Trend:             trend(records),
		ImprovementScore:  improvement(records),
	}
}

// bestBucket returns the bucket with the highest share of records in status.
// A bucket must beat the previous best strictly, so ties and an all-zero
// window keep the earlier label.
func bestBucket(records []medication.DoseRecord, loc *time.Location, buckets []bucket, status medication.Status, fallback string) string {
	best, bestRate := fallback, 0.0
	for _, b := range buckets {
		hits, total := 0, 0
		for _, rec := range records {
			if !b.match(rec.ScheduledTime.In(loc)) {
				continue
			}
			total++
			if rec.Status == status {
				hits++
			}
		}
		if total == 0 {
			continue
		}
		if rate := float64(hits) / float64(total); rate > bestRate {
			best, bestRate = b.label, rate
		}
	}
	return best
}

func countMissed(records []medication.DoseRecord, loc *time.Location, match func(time.Time) bool) int {
	n := 0
	for _, rec := range records {
		if rec.Status == medication.StatusMissed && match(rec.ScheduledTime.In(loc)) {
			n++
		}
	}
	return n
}

func takenRatio(records []medication.DoseRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	taken := 0
	for _, rec := range records {
		if rec.Status == medication.StatusTaken {
			taken++
		}
	}
	return float64(taken) / float64(len(records))
}

func suggestions(records []medication.DoseRecord, loc *time.Location) []string {
	var out []string
	for _, rule := range suggestionRules {
		if rule.applies(records, loc) {
			out = append(out, rule.text)
		}
	}
	if len(out) == 0 {
		return []string{defaultSuggestion}
	}
	return out
}

// trend compares the taken ratio of the later half of the records with the
// earlier half. Records must be in chronological order.
func trend(records []medication.DoseRecord) Trend {
	if len(records) < minTrendRecords {
		return TrendStable
	}
	mid := len(records) / 2
	diff := takenRatio(records[mid:]) - takenRatio(records[:mid])
	switch {
	case diff > trendThreshold:
		return TrendImproving
	case diff < -trendThreshold:
		return TrendDeclining
	}
	return TrendStable
}

// improvement is the percentage-point change between the last seven records
// and the seven before them.
func improvement(records []medication.DoseRecord) int {
	if len(records) < minTrendRecords {
		return 0
	}
	split := len(records) - improvementSpan
	previous := records[max(0, split-improvementSpan):split]
	if len(previous) == 0 {
		return 0
	}
	return int(math.Round((takenRatio(records[split:]) - takenRatio(previous)) * 100))
}

// missReasons returns the most frequent skip notes, most common first.
func missReasons(records []medication.DoseRecord) []string {
	counts := make(map[string]int)
	var order []string
	for _, rec := range records {
		if rec.Status != medication.StatusSkipped {
			continue
		}
		note := strings.TrimSpace(rec.Notes)
		if note == "" {
			continue
		}
		if counts[note] == 0 {
			order = append(order, note)
		}
		counts[note]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > maxMissReasons {
		order = order[:maxMissReasons]
	}
	if order == nil {
		return []string{}
	}
	return order
}
