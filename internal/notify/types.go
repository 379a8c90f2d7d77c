// Package notify decides when and how urgently to remind: it schedules one
// reminder per pending dose slot, escalates unacknowledged reminders and
// routes inbound delivery and action events back to the dose tracker.
package notify

import (
	"context"
	"time"
)

// Persisted keys.
const (
	KeyScheduled    = "scheduled_notifications"
	KeyLastSchedule = "last_notification_schedule"
	KeyEscalations  = "escalations"
)

// Categories select the action set offered with a notification.
const (
	CategoryReminder = "medication-reminder"
	CategoryUrgent   = "medication-reminder-urgent"
)

// Channels select the delivery priority.
const (
	ChannelReminders = "medication-reminders"
	ChannelUrgent    = "urgent-reminders"
	ChannelEmergency = "emergency"
)

// User actions attached to reminder notifications.
const (
	ActionTake      = "take"
	ActionSnooze    = "snooze"
	ActionSkip      = "skip"
	ActionEmergency = "emergency"
)

// DefaultSnoozeMinutes is used when no snooze duration is configured.
const DefaultSnoozeMinutes = 15

// Payload is the content handed to the notification capability.
type Payload struct {
	Title           string `json:"title"`
	Body            string `json:"body"`
	Category        string `json:"category,omitempty"`
	Channel         string `json:"channel,omitempty"`
	MedicationID    string `json:"medication_id,omitempty"`
	MedicationName  string `json:"medication_name,omitempty"`
	ScheduleID      string `json:"schedule_id,omitempty"`
	Dosage          string `json:"dosage,omitempty"`
	Unit            string `json:"unit,omitempty"`
	Instructions    string `json:"instructions,omitempty"`
	Snoozed         bool   `json:"snoozed,omitempty"`
	EscalationLevel int    `json:"escalation_level,omitempty"`
}

// IsReminder reports whether p is a first-level dose reminder, the only kind
// that arms escalation when delivered.
func (p Payload) IsReminder() bool {
	return p.Category == CategoryReminder && p.MedicationID != "" && p.EscalationLevel == 0
}

// Notifier is the external notification capability. A zero at delivers
// immediately.
type Notifier interface {
	Schedule(ctx context.Context, p Payload, at time.Time) (string, error)
	Cancel(ctx context.Context, handle string) error
	CancelAll(ctx context.Context) error
}

// ScheduledNotification tracks one armed reminder.
type ScheduledNotification struct {
	ID             string    `json:"id"`
	MedicationID   string    `json:"medication_id"`
	MedicationName string    `json:"medication_name"`
	ScheduleID     string    `json:"schedule_id,omitempty"`
	TriggerTime    time.Time `json:"trigger_time"`
	Handle         string    `json:"handle"`
	Snoozed        bool      `json:"snoozed,omitempty"`
}

// QuietHours suppresses reminders whose slot time falls inside [Start, End].
type QuietHours struct {
	Enabled bool
	Start   string
	End     string
}
