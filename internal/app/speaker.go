package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

var zeroTime time.Time

// Speaker voices short confirmations to the user.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// LogSpeaker writes what would be spoken to the log.
type LogSpeaker struct {
	Logger *zap.Logger
}

func (s LogSpeaker) Speak(ctx context.Context, text string) error {
	s.Logger.Info("Speak", zap.String("text", text))
	return nil
}

// speak is best effort.
func (a *App) speak(ctx context.Context, text string) {
	if err := a.speaker.Speak(ctx, text); err != nil {
		a.Logger.Debug("Speech failed", zap.String("text", text), zap.Error(err))
	}
}
