package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gmsas95/medremind/internal/metrics"
	"github.com/gmsas95/medremind/internal/store"
	"github.com/gmsas95/medremind/internal/timeutil"
)

// DefaultEscalationDelays are measured from the delivery of the reminder.
var DefaultEscalationDelays = []time.Duration{5 * time.Minute, 10 * time.Minute, 15 * time.Minute}

// armedLevel identifies one armed timer so a stale callback can tell it was
// replaced.
type armedLevel struct {
	timer timeutil.Timer
}

type escalation struct {
	MedicationID   string    `json:"medication_id"`
	MedicationName string    `json:"medication_name"`
	DeliveredAt    time.Time `json:"delivered_at"`
}

// EscalationManager sends progressively more urgent follow-ups after a
// reminder goes unacknowledged. Timers are keyed "<medicationID>_<level>"
// and their deadlines are persisted so a restart can re-arm them.
type EscalationManager struct {
	mu       sync.Mutex
	timers   map[string]*armedLevel
	notifier Notifier
	kv       store.KV
	clock    timeutil.Clock
	delays   []time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewEscalationManager creates an escalation manager. Empty delays use the
// defaults.
func NewEscalationManager(notifier Notifier, kv store.KV, clock timeutil.Clock, delays []time.Duration, m *metrics.Metrics, logger *zap.Logger) *EscalationManager {
	if len(delays) == 0 {
		delays = DefaultEscalationDelays
	}
	return &EscalationManager{
		timers:   make(map[string]*armedLevel),
		notifier: notifier,
		kv:       kv,
		clock:    clock,
		delays:   delays,
		metrics:  m,
		logger:   logger,
	}
}

// Start arms every level relative to deliveredAt, replacing any escalation
// already armed for the medication.
func (e *EscalationManager) Start(medicationID, medicationName string, deliveredAt time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopLocked(medicationID)
	armed := e.armLocked(escalation{MedicationID: medicationID, MedicationName: medicationName, DeliveredAt: deliveredAt})
	if armed == 0 {
		return
	}
	e.persistLocked(func(all map[string]escalation) {
		all[medicationID] = escalation{MedicationID: medicationID, MedicationName: medicationName, DeliveredAt: deliveredAt}
	})
	e.logger.Debug("Escalation armed", zap.String("medication_id", medicationID), zap.Int("levels", armed))
}

// Cancel clears every timer for the medication. Calling it again, or after
// all levels fired, does nothing.
func (e *EscalationManager) Cancel(medicationID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopLocked(medicationID) > 0 {
		e.metrics.RecordEscalationCanceled()
		e.logger.Debug("Escalation canceled", zap.String("medication_id", medicationID))
	}
	e.persistLocked(func(all map[string]escalation) {
		delete(all, medicationID)
	})
}

// CancelAll clears every armed timer.
func (e *EscalationManager) CancelAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for key, a := range e.timers {
		a.timer.Stop()
		delete(e.timers, key)
	}
	if err := e.kv.Remove(KeyEscalations); err != nil {
		e.logger.Warn("Failed to clear persisted escalations", zap.Error(err))
	}
}

// Armed reports whether any level is still pending for the medication.
func (e *EscalationManager) Armed(medicationID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for level := 1; level <= len(e.delays); level++ {
		if _, ok := e.timers[timerKey(medicationID, level)]; ok {
			return true
		}
	}
	return false
}

// Restore re-arms persisted escalations. Levels whose deadline passed while
// the process was down are dropped, not fired late.
func (e *EscalationManager) Restore() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	all := make(map[string]escalation)
	if _, err := store.GetObject(e.kv, KeyEscalations, &all); err != nil {
		return 0, err
	}

	restored := 0
	for id, esc := range all {
		if e.armLocked(esc) > 0 {
			restored++
			continue
		}
		delete(all, id)
	}
	if err := store.SetObject(e.kv, KeyEscalations, all); err != nil {
		e.logger.Warn("Failed to persist escalations", zap.Error(err))
	}
	if restored > 0 {
		e.logger.Info("Escalations restored", zap.Int("count", restored))
	}
	return restored, nil
}

func (e *EscalationManager) armLocked(esc escalation) int {
	now := e.clock.Now()
	armed := 0
	for i, d := range e.delays {
		level := i + 1
		wait := esc.DeliveredAt.Add(d).Sub(now)
		if wait < 0 {
			continue
		}
		entry := &armedLevel{}
		entry.timer = e.clock.AfterFunc(wait, func() {
			e.fire(esc, level, entry)
		})
		e.timers[timerKey(esc.MedicationID, level)] = entry
		armed++
	}
	return armed
}

func (e *EscalationManager) stopLocked(medicationID string) int {
	stopped := 0
	for level := 1; level <= len(e.delays); level++ {
		key := timerKey(medicationID, level)
		if a, ok := e.timers[key]; ok {
			a.timer.Stop()
			delete(e.timers, key)
			stopped++
		}
	}
	return stopped
}

func (e *EscalationManager) fire(esc escalation, level int, armed *armedLevel) {
	e.mu.Lock()
	key := timerKey(esc.MedicationID, level)
	if e.timers[key] != armed {
		e.mu.Unlock()
		return
	}
	delete(e.timers, key)
	if level == len(e.delays) {
		e.persistLocked(func(all map[string]escalation) {
			delete(all, esc.MedicationID)
		})
	}
	e.mu.Unlock()

	p := escalationPayload(esc.MedicationID, esc.MedicationName, level, e.delays[level-1])
	if _, err := e.notifier.Schedule(context.Background(), p, time.Time{}); err != nil {
		e.logger.Warn("Failed to send escalated reminder",
			zap.String("medication_id", esc.MedicationID),
			zap.Int("level", level),
			zap.Error(err),
		)
		return
	}
	e.metrics.RecordEscalation(level)
	e.logger.Info("Escalated reminder sent",
		zap.String("medication_id", esc.MedicationID),
		zap.Int("level", level),
	)
}

func (e *EscalationManager) persistLocked(mutate func(map[string]escalation)) {
	all := make(map[string]escalation)
	if _, err := store.GetObject(e.kv, KeyEscalations, &all); err != nil {
		e.logger.Warn("Failed to read persisted escalations", zap.Error(err))
		return
	}
	if all == nil {
		all = make(map[string]escalation)
	}
	mutate(all)
	if err := store.SetObject(e.kv, KeyEscalations, all); err != nil {
		e.logger.Warn("Failed to persist escalations", zap.Error(err))
	}
}

func escalationPayload(medicationID, name string, level int, after time.Duration) Payload {
	p := Payload{
		MedicationID:    medicationID,
		MedicationName:  name,
		EscalationLevel: level,
		Category:        CategoryReminder,
		Channel:         ChannelReminders,
	}
	if level >= 2 {
		p.Category = CategoryUrgent
		p.Channel = ChannelUrgent
	}
	minutes := int(after / time.Minute)
	switch level {
	case 1:
		p.Title = "Medication Overdue"
		p.Body = fmt.Sprintf("%s is %d minutes overdue", name, minutes)
	case 2:
		p.Title = "URGENT"
		p.Body = fmt.Sprintf("%s is %d minutes overdue!", name, minutes)
	default:
		p.Title = "Emergency"
		p.Body = fmt.Sprintf("%s critically overdue", name)
	}
	return p
}

func timerKey(medicationID string, level int) string {
	return fmt.Sprintf("%s_%d", medicationID, level)
}
