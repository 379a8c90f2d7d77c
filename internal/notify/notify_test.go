package notify

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/medremind/internal/errors"
	"github.com/gmsas95/medremind/internal/medication"
	"github.com/gmsas95/medremind/internal/metrics"
	"github.com/gmsas95/medremind/internal/store"
	"github.com/gmsas95/medremind/internal/timeutil"
)

type scheduledCall struct {
	Payload Payload
	At      time.Time
	Handle  string
}

type fakeNotifier struct {
	mu        sync.Mutex
	seq       int
	failNext  int
	scheduled []scheduledCall
	canceled  []string
	cancelAll int
}

func (f *fakeNotifier) Schedule(ctx context.Context, p Payload, at time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext > 0 {
		f.failNext--
		return "", fmt.Errorf("delivery refused")
	}
	f.seq++
	handle := fmt.Sprintf("h%d", f.seq)
	f.scheduled = append(f.scheduled, scheduledCall{Payload: p, At: at, Handle: handle})
	return handle, nil
}

func (f *fakeNotifier) Cancel(ctx context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, handle)
	return nil
}

func (f *fakeNotifier) CancelAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelAll++
	return nil
}

func (f *fakeNotifier) calls() []scheduledCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]scheduledCall, len(f.scheduled))
	copy(out, f.scheduled)
	return out
}

type fakeMarker struct {
	pending map[string]bool
	taken   []string
	skipped []string
	methods []medication.Method
}

func (m *fakeMarker) MarkTaken(ctx context.Context, medicationID, slotID string, method medication.Method) (*medication.Dose, error) {
	if _, ok := m.pending[slotID]; !ok {
		return nil, apperrors.ErrSlotNotFound
	}
	m.pending[slotID] = false
	m.taken = append(m.taken, slotID)
	m.methods = append(m.methods, method)
	return &medication.Dose{}, nil
}

func (m *fakeMarker) MarkSkipped(ctx context.Context, medicationID, slotID, reason string, method medication.Method) (*medication.Dose, error) {
	if _, ok := m.pending[slotID]; !ok {
		return nil, apperrors.ErrSlotNotFound
	}
	m.pending[slotID] = false
	m.skipped = append(m.skipped, slotID)
	m.methods = append(m.methods, method)
	return &medication.Dose{}, nil
}

func (m *fakeMarker) IsPending(medicationID, slotID string) bool {
	return m.pending[slotID]
}

func (m *fakeMarker) HasPending(medicationID string) bool {
	for _, p := range m.pending {
		if p {
			return true
		}
	}
	return false
}

type harness struct {
	kv         store.KV
	clock      *timeutil.FakeClock
	notifier   *fakeNotifier
	escalation *EscalationManager
	scheduler  *Scheduler
}

func newHarness(t *testing.T, opts SchedulerOptions) *harness {
	t.Helper()
	kv := store.NewMemory()
	clock := timeutil.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	n := &fakeNotifier{}
	logger := zap.NewNop()
	m := metrics.New()
	esc := NewEscalationManager(n, kv, clock, nil, m, logger)
	return &harness{
		kv:         kv,
		clock:      clock,
		notifier:   n,
		escalation: esc,
		scheduler:  NewScheduler(n, esc, kv, clock, opts, m, logger),
	}
}

func testMedication(times ...string) medication.Medication {
	med := medication.Medication{
		ID:           "med-1",
		Name:         "Metformin",
		Dosage:       "500",
		Unit:         medication.UnitMg,
		Instructions: "with food",
	}
	for i, tm := range times {
		med.Schedule = append(med.Schedule, medication.DoseSlot{ID: fmt.Sprintf("slot-%d", i), Time: tm})
	}
	return med
}

func TestScheduleAllReminders_PendingSlotsOnly(t *testing.T) {
	h := newHarness(t, SchedulerOptions{})
	med := testMedication("08:00", "14:00", "20:00")
	takenAt := h.clock.Now()
	med.Schedule[1].Taken = true
	med.Schedule[1].TakenAt = &takenAt

	n, err := h.scheduler.ScheduleAllReminders(context.Background(), med)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	calls := h.notifier.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, time.Date(2026, 3, 11, 8, 0, 0, 0, time.UTC), calls[0].At, "passed slot rolls to tomorrow")
	assert.Equal(t, time.Date(2026, 3, 10, 20, 0, 0, 0, time.UTC), calls[1].At)

	p := calls[1].Payload
	assert.Equal(t, "Medication Reminder", p.Title)
	assert.Equal(t, "Time to take Metformin (500mg)", p.Body)
	assert.Equal(t, CategoryReminder, p.Category)
	assert.Equal(t, "med-1", p.MedicationID)
	assert.Equal(t, "slot-2", p.ScheduleID)
	assert.Equal(t, "with food", p.Instructions)

	tracked := h.scheduler.Tracked()
	require.Len(t, tracked, 2)
	assert.Equal(t, calls[0].Handle, tracked[0].Handle)

	var persisted []ScheduledNotification
	ok, err := store.GetObject(h.kv, KeyScheduled, &persisted)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, persisted, 2)
}

func TestScheduleAllReminders_CancelsExistingFirst(t *testing.T) {
	h := newHarness(t, SchedulerOptions{})
	med := testMedication("20:00")
	ctx := context.Background()

	_, err := h.scheduler.ScheduleAllReminders(ctx, med)
	require.NoError(t, err)
	_, err = h.scheduler.ScheduleAllReminders(ctx, med)
	require.NoError(t, err)

	assert.Equal(t, []string{"h1"}, h.notifier.canceled)
	tracked := h.scheduler.Tracked()
	require.Len(t, tracked, 1)
	assert.Equal(t, "h2", tracked[0].Handle)
}

func TestScheduleAllReminders_QuietHoursSuppress(t *testing.T) {
	h := newHarness(t, SchedulerOptions{QuietHours: QuietHours{Enabled: true, Start: "22:00", End: "07:00"}})
	med := testMedication("06:30", "12:30", "22:00", "23:15")

	n, err := h.scheduler.ScheduleAllReminders(context.Background(), med)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	calls := h.notifier.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "slot-1", calls[0].Payload.ScheduleID)

	h.scheduler.SetQuietHours(QuietHours{})
	n, err = h.scheduler.ScheduleAllReminders(context.Background(), med)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestScheduleAllReminders_DeliveryFailureIsFailOpen(t *testing.T) {
	h := newHarness(t, SchedulerOptions{})
	h.notifier.failNext = 1
	med := testMedication("18:00", "20:00")

	n, err := h.scheduler.ScheduleAllReminders(context.Background(), med)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tracked := h.scheduler.Tracked()
	require.Len(t, tracked, 1)
	assert.Equal(t, "slot-1", tracked[0].ScheduleID)
}

func TestScheduleAllReminders_SkipsEndedMedication(t *testing.T) {
	h := newHarness(t, SchedulerOptions{})
	med := testMedication("20:00")
	ended := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	med.EndDate = &ended

	n, err := h.scheduler.ScheduleAllReminders(context.Background(), med)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCancelMedicationReminders_AlsoCancelsEscalation(t *testing.T) {
	h := newHarness(t, SchedulerOptions{})
	ctx := context.Background()
	_, err := h.scheduler.ScheduleAllReminders(ctx, testMedication("20:00"))
	require.NoError(t, err)
	other := testMedication("21:00")
	other.ID = "med-2"
	_, err = h.scheduler.ScheduleAllReminders(ctx, other)
	require.NoError(t, err)

	h.escalation.Start("med-1", "Metformin", h.clock.Now())
	require.True(t, h.escalation.Armed("med-1"))

	require.NoError(t, h.scheduler.CancelMedicationReminders(ctx, "med-1"))
	assert.False(t, h.escalation.Armed("med-1"))
	tracked := h.scheduler.Tracked()
	require.Len(t, tracked, 1)
	assert.Equal(t, "med-2", tracked[0].MedicationID)
	assert.Contains(t, h.notifier.canceled, "h1")

	require.NoError(t, h.scheduler.CancelAllNotifications(ctx))
	assert.Empty(t, h.scheduler.Tracked())
	assert.Equal(t, 1, h.notifier.cancelAll)
}

func TestRearmReminders_KeepsEscalation(t *testing.T) {
	h := newHarness(t, SchedulerOptions{})
	ctx := context.Background()
	med := testMedication("20:00")
	_, err := h.scheduler.ScheduleAllReminders(ctx, med)
	require.NoError(t, err)
	h.escalation.Start(med.ID, med.Name, h.clock.Now())

	n, err := h.scheduler.RearmReminders(ctx, med)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, h.scheduler.Tracked(), 1)
	assert.Contains(t, h.notifier.canceled, "h1")
	assert.True(t, h.escalation.Armed(med.ID))

	var persisted map[string]escalation
	_, err = store.GetObject(h.kv, KeyEscalations, &persisted)
	require.NoError(t, err)
	assert.Contains(t, persisted, med.ID)
}

func TestRescheduleAllIfNewDay_OncePerDay(t *testing.T) {
	h := newHarness(t, SchedulerOptions{})
	ctx := context.Background()
	meds := []medication.Medication{testMedication("20:00")}

	ran, err := h.scheduler.RescheduleAllIfNewDay(ctx, meds)
	require.NoError(t, err)
	assert.True(t, ran)

	ran, err = h.scheduler.RescheduleAllIfNewDay(ctx, meds)
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Len(t, h.notifier.calls(), 1)

	h.clock.Advance(24 * time.Hour)
	ran, err = h.scheduler.RescheduleAllIfNewDay(ctx, meds)
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Len(t, h.notifier.calls(), 2)
}

func TestSnooze(t *testing.T) {
	h := newHarness(t, SchedulerOptions{SnoozeMinutes: 15})
	h.escalation.Start("med-1", "Metformin", h.clock.Now())

	_, err := h.scheduler.Snooze(context.Background(), "med-1", "Metformin", "slot-0", 0)
	require.NoError(t, err)

	assert.False(t, h.escalation.Armed("med-1"))
	calls := h.notifier.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, h.clock.Now().Add(15*time.Minute), calls[0].At)
	assert.Equal(t, "Snoozed Reminder", calls[0].Payload.Title)
	assert.Equal(t, "Time to take Metformin", calls[0].Payload.Body)
	assert.True(t, calls[0].Payload.Snoozed)
	assert.True(t, h.scheduler.Tracked()[0].Snoozed)
}

func TestEscalation_FiresAtOffsetsFromDelivery(t *testing.T) {
	h := newHarness(t, SchedulerOptions{})
	h.escalation.Start("med-1", "Metformin", h.clock.Now())

	h.clock.Advance(4 * time.Minute)
	assert.Empty(t, h.notifier.calls())

	h.clock.Advance(time.Minute)
	calls := h.notifier.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 1, calls[0].Payload.EscalationLevel)
	assert.Equal(t, "Medication Overdue", calls[0].Payload.Title)
	assert.Equal(t, "Metformin is 5 minutes overdue", calls[0].Payload.Body)
	assert.Equal(t, CategoryReminder, calls[0].Payload.Category)
	assert.True(t, calls[0].At.IsZero())

	h.clock.Advance(5 * time.Minute)
	calls = h.notifier.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "URGENT", calls[1].Payload.Title)
	assert.Equal(t, "Metformin is 10 minutes overdue!", calls[1].Payload.Body)
	assert.Equal(t, CategoryUrgent, calls[1].Payload.Category)
	assert.Equal(t, ChannelUrgent, calls[1].Payload.Channel)

	h.clock.Advance(5 * time.Minute)
	calls = h.notifier.calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "Emergency", calls[2].Payload.Title)
	assert.Equal(t, "Metformin critically overdue", calls[2].Payload.Body)
	assert.Equal(t, CategoryUrgent, calls[2].Payload.Category)
	assert.False(t, h.escalation.Armed("med-1"))

	var persisted map[string]escalation
	_, err := store.GetObject(h.kv, KeyEscalations, &persisted)
	require.NoError(t, err)
	assert.NotContains(t, persisted, "med-1")
}

func TestEscalation_CancelIsIdempotent(t *testing.T) {
	h := newHarness(t, SchedulerOptions{})
	h.escalation.Start("med-1", "Metformin", h.clock.Now())
	h.clock.Advance(6 * time.Minute)

	h.escalation.Cancel("med-1")
	assert.NotPanics(t, func() { h.escalation.Cancel("med-1") })
	assert.NotPanics(t, func() { h.escalation.Cancel("never-armed") })
	assert.False(t, h.escalation.Armed("med-1"))

	h.clock.Advance(20 * time.Minute)
	assert.Len(t, h.notifier.calls(), 1, "only level 1 fired before cancel")
}

func TestEscalation_ReplacedTimerCallbackIsIgnored(t *testing.T) {
	h := newHarness(t, SchedulerOptions{})
	first := h.clock.Now()
	h.escalation.Start("med-1", "Metformin", first)

	h.escalation.mu.Lock()
	stale := h.escalation.timers[timerKey("med-1", 1)]
	h.escalation.mu.Unlock()
	require.NotNil(t, stale)

	h.clock.Advance(2 * time.Minute)
	h.escalation.Start("med-1", "Metformin", h.clock.Now())

	// A callback from the replaced timer that was already waiting on the lock.
	h.escalation.fire(escalation{MedicationID: "med-1", MedicationName: "Metformin", DeliveredAt: first}, 1, stale)
	assert.Empty(t, h.notifier.calls())
	assert.True(t, h.escalation.Armed("med-1"))

	h.clock.Advance(4 * time.Minute)
	assert.Empty(t, h.notifier.calls())
	h.clock.Advance(time.Minute)
	calls := h.notifier.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, 1, calls[0].Payload.EscalationLevel)
}

func TestEscalation_RestoreRearmsFutureLevels(t *testing.T) {
	h := newHarness(t, SchedulerOptions{})
	h.escalation.Start("med-1", "Metformin", h.clock.Now())
	h.clock.Advance(7 * time.Minute)
	require.Len(t, h.notifier.calls(), 1)

	// A second process sharing the same store.
	clock := timeutil.NewFakeClock(h.clock.Now())
	n := &fakeNotifier{}
	restarted := NewEscalationManager(n, h.kv, clock, nil, nil, zap.NewNop())
	restored, err := restarted.Restore()
	require.NoError(t, err)
	assert.Equal(t, 1, restored)
	assert.True(t, restarted.Armed("med-1"))

	clock.Advance(10 * time.Minute)
	calls := n.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, 2, calls[0].Payload.EscalationLevel)
	assert.Equal(t, 3, calls[1].Payload.EscalationLevel)
}

func TestEscalation_RestoreDropsExpired(t *testing.T) {
	h := newHarness(t, SchedulerOptions{})
	h.escalation.Start("med-1", "Metformin", h.clock.Now())

	clock := timeutil.NewFakeClock(h.clock.Now().Add(time.Hour))
	n := &fakeNotifier{}
	restarted := NewEscalationManager(n, h.kv, clock, nil, nil, zap.NewNop())
	restored, err := restarted.Restore()
	require.NoError(t, err)
	assert.Zero(t, restored)
	assert.False(t, restarted.Armed("med-1"))
	assert.Empty(t, n.calls())
}

func TestDispatcher_OnDelivered(t *testing.T) {
	h := newHarness(t, SchedulerOptions{})
	marker := &fakeMarker{pending: map[string]bool{"slot-0": true, "slot-1": false}}
	d := NewDispatcher(marker, h.scheduler, h.escalation, h.notifier, h.clock, zap.NewNop())

	reminder := reminderPayload(testMedication("08:00"), "slot-1")
	d.OnDelivered(reminder)
	assert.False(t, h.escalation.Armed("med-1"), "resolved slot does not escalate")

	d.OnDelivered(escalationPayload("med-1", "Metformin", 1, 5*time.Minute))
	assert.False(t, h.escalation.Armed("med-1"), "escalations do not re-arm")

	reminder.ScheduleID = "slot-0"
	d.OnDelivered(reminder)
	assert.True(t, h.escalation.Armed("med-1"))
}

func TestDispatcher_OnUserAction(t *testing.T) {
	ctx := context.Background()

	t.Run("take", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		marker := &fakeMarker{pending: map[string]bool{"slot-0": true}}
		d := NewDispatcher(marker, h.scheduler, h.escalation, h.notifier, h.clock, zap.NewNop())
		h.escalation.Start("med-1", "Metformin", h.clock.Now())

		p := reminderPayload(testMedication("08:00"), "slot-0")
		require.NoError(t, d.OnUserAction(ctx, ActionTake, p))

		assert.False(t, h.escalation.Armed("med-1"))
		assert.Equal(t, []string{"slot-0"}, marker.taken)
		assert.Equal(t, []medication.Method{medication.MethodNotification}, marker.methods)
		calls := h.notifier.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "Great Job!", calls[0].Payload.Title)
		assert.Equal(t, "Metformin recorded as taken", calls[0].Payload.Body)
	})

	t.Run("skip", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		marker := &fakeMarker{pending: map[string]bool{"slot-0": true}}
		d := NewDispatcher(marker, h.scheduler, h.escalation, h.notifier, h.clock, zap.NewNop())

		require.NoError(t, d.OnUserAction(ctx, ActionSkip, reminderPayload(testMedication("08:00"), "slot-0")))
		assert.Equal(t, []string{"slot-0"}, marker.skipped)
		calls := h.notifier.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "Dose Skipped", calls[0].Payload.Title)
		assert.Equal(t, "Metformin marked as skipped", calls[0].Payload.Body)
	})

	t.Run("take unknown slot", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		marker := &fakeMarker{pending: map[string]bool{}}
		d := NewDispatcher(marker, h.scheduler, h.escalation, h.notifier, h.clock, zap.NewNop())

		err := d.OnUserAction(ctx, ActionTake, reminderPayload(testMedication("08:00"), "gone"))
		assert.True(t, stderrors.Is(err, apperrors.ErrSlotNotFound))
		assert.Empty(t, h.notifier.calls())
	})

	t.Run("snooze", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		marker := &fakeMarker{pending: map[string]bool{"slot-0": true}}
		d := NewDispatcher(marker, h.scheduler, h.escalation, h.notifier, h.clock, zap.NewNop())

		require.NoError(t, d.OnUserAction(ctx, ActionSnooze, reminderPayload(testMedication("08:00"), "slot-0")))
		calls := h.notifier.calls()
		require.Len(t, calls, 1)
		assert.True(t, calls[0].Payload.Snoozed)
		assert.Equal(t, h.clock.Now().Add(15*time.Minute), calls[0].At)
	})

	t.Run("emergency", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		d := NewDispatcher(&fakeMarker{}, h.scheduler, h.escalation, h.notifier, h.clock, zap.NewNop())
		var got string
		d.OnEmergency(func(ctx context.Context, medicationID, reason string) {
			got = medicationID + ": " + reason
		})

		require.NoError(t, d.OnUserAction(ctx, ActionEmergency, Payload{MedicationID: "med-1"}))
		assert.Equal(t, "med-1: Emergency button pressed", got)
	})

	t.Run("opened", func(t *testing.T) {
		h := newHarness(t, SchedulerOptions{})
		marker := &fakeMarker{pending: map[string]bool{"slot-0": true}}
		d := NewDispatcher(marker, h.scheduler, h.escalation, h.notifier, h.clock, zap.NewNop())

		require.NoError(t, d.OnUserAction(ctx, "default", reminderPayload(testMedication("08:00"), "slot-0")))
		assert.Empty(t, marker.taken)
		assert.Empty(t, h.notifier.calls())
	})
}

func TestBreakerNotifier_OpensAfterFailures(t *testing.T) {
	inner := &fakeNotifier{failNext: 2}
	b := NewBreakerNotifier(inner, BreakerSettings{MaxFailures: 2, OpenTimeout: time.Hour}, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := b.Schedule(ctx, Payload{Title: "x"}, time.Time{})
		require.Error(t, err)
		assert.True(t, stderrors.Is(err, apperrors.ErrExternalDelivery))
	}
	assert.Equal(t, "open", b.State())

	_, err := b.Schedule(ctx, Payload{Title: "x"}, time.Time{})
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, gobreaker.ErrOpenState))
	assert.Empty(t, inner.calls(), "open breaker does not reach the notifier")

	require.NoError(t, b.Cancel(ctx, "h1"))
	assert.Equal(t, []string{"h1"}, inner.canceled)
}

func TestLocalNotifier(t *testing.T) {
	clock := timeutil.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC))
	n := NewLocalNotifier(clock, zap.NewNop())
	var delivered []Payload
	n.OnDeliver(func(p Payload) { delivered = append(delivered, p) })
	ctx := context.Background()

	_, err := n.Schedule(ctx, Payload{Title: "now"}, time.Time{})
	require.NoError(t, err)
	require.Len(t, delivered, 1)

	_, err = n.Schedule(ctx, Payload{Title: "first"}, clock.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = n.Schedule(ctx, Payload{Title: "canceled"}, clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n.Pending())

	require.NoError(t, n.Cancel(ctx, "unknown"))
	require.NoError(t, n.CancelAll(ctx))
	assert.Zero(t, n.Pending())

	later, err := n.Schedule(ctx, Payload{Title: "later"}, clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.NotEmpty(t, later)

	clock.Advance(time.Hour)
	require.Len(t, delivered, 2)
	assert.Equal(t, "later", delivered[1].Title)

	inbox := n.Inbox()
	require.Len(t, inbox, 2)
	assert.Equal(t, later, inbox[1].Handle)
	assert.Equal(t, clock.Now(), inbox[1].DeliveredAt)
}
