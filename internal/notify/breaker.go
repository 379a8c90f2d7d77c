package notify

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/medremind/internal/errors"
)

// BreakerSettings tunes the circuit around the notification capability.
type BreakerSettings struct {
	MaxFailures int
	OpenTimeout time.Duration
}

// BreakerNotifier fails fast while the wrapped notifier keeps failing.
type BreakerNotifier struct {
	next   Notifier
	cb     *gobreaker.CircuitBreaker[string]
	logger *zap.Logger
}

// NewBreakerNotifier wraps next in a circuit breaker.
func NewBreakerNotifier(next Notifier, s BreakerSettings, logger *zap.Logger) *BreakerNotifier {
	if s.MaxFailures <= 0 {
		s.MaxFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = time.Minute
	}
	maxFailures := uint32(s.MaxFailures)

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "notifier",
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Notifier circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &BreakerNotifier{next: next, cb: cb, logger: logger}
}

func (b *BreakerNotifier) Schedule(ctx context.Context, p Payload, at time.Time) (string, error) {
	handle, err := b.cb.Execute(func() (string, error) {
		return b.next.Schedule(ctx, p, at)
	})
	if err != nil {
		return "", apperrors.WrapAs(apperrors.ErrExternalDelivery, err)
	}
	return handle, nil
}

func (b *BreakerNotifier) Cancel(ctx context.Context, handle string) error {
	return b.next.Cancel(ctx, handle)
}

func (b *BreakerNotifier) CancelAll(ctx context.Context) error {
	return b.next.CancelAll(ctx)
}

// State reports the breaker state.
func (b *BreakerNotifier) State() string {
	return b.cb.State().String()
}
