package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gmsas95/medremind/internal/timeutil"
)

// Delivered is a notification that reached the user.
type Delivered struct {
	Handle      string    `json:"handle"`
	Payload     Payload   `json:"payload"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// LocalNotifier delivers notifications in-process on the shared clock and
// keeps the most recent deliveries in an inbox.
type LocalNotifier struct {
	mu        sync.Mutex
	clock     timeutil.Clock
	timers    map[string]timeutil.Timer
	inbox     []Delivered
	inboxSize int
	onDeliver func(Payload)
	logger    *zap.Logger
}

// NewLocalNotifier creates an in-process notifier.
func NewLocalNotifier(clock timeutil.Clock, logger *zap.Logger) *LocalNotifier {
	return &LocalNotifier{
		clock:     clock,
		timers:    make(map[string]timeutil.Timer),
		inboxSize: 100,
		logger:    logger,
	}
}

// OnDeliver registers the delivery-received hook.
func (n *LocalNotifier) OnDeliver(fn func(Payload)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.onDeliver = fn
}

func (n *LocalNotifier) Schedule(ctx context.Context, p Payload, at time.Time) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	handle := uuid.NewString()

	now := n.clock.Now()
	if at.IsZero() || !at.After(now) {
		n.deliver(handle, p)
		return handle, nil
	}

	n.mu.Lock()
	n.timers[handle] = n.clock.AfterFunc(at.Sub(now), func() {
		n.mu.Lock()
		_, armed := n.timers[handle]
		delete(n.timers, handle)
		n.mu.Unlock()
		if armed {
			n.deliver(handle, p)
		}
	})
	n.mu.Unlock()
	return handle, nil
}

func (n *LocalNotifier) Cancel(ctx context.Context, handle string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if t, ok := n.timers[handle]; ok {
		t.Stop()
		delete(n.timers, handle)
	}
	return nil
}

func (n *LocalNotifier) CancelAll(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for handle, t := range n.timers {
		t.Stop()
		delete(n.timers, handle)
	}
	return nil
}

// Pending returns the number of armed future deliveries.
func (n *LocalNotifier) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.timers)
}

// Inbox returns recent deliveries, newest last.
func (n *LocalNotifier) Inbox() []Delivered {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Delivered, len(n.inbox))
	copy(out, n.inbox)
	return out
}

func (n *LocalNotifier) deliver(handle string, p Payload) {
	n.mu.Lock()
	n.inbox = append(n.inbox, Delivered{Handle: handle, Payload: p, DeliveredAt: n.clock.Now()})
	if len(n.inbox) > n.inboxSize {
		n.inbox = n.inbox[len(n.inbox)-n.inboxSize:]
	}
	hook := n.onDeliver
	n.mu.Unlock()

	n.logger.Info("Notification delivered",
		zap.String("title", p.Title),
		zap.String("body", p.Body),
		zap.String("medication_id", p.MedicationID),
		zap.String("channel", p.Channel),
	)
	if hook != nil {
		hook(p)
	}
}
