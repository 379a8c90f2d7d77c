package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/gmsas95/medremind/internal/cron"
)

// DayCheckJob is the name of the day-change job.
const DayCheckJob = "day-check"

// RegisterJobs adds the recurring jobs to the app's cron runner.
func RegisterJobs(a *App) error {
	spec := a.Config.Scheduler.DayCheck
	if spec == "" {
		spec = cron.DefaultDayCheck
	}
	return a.CronRunner.AddJob(DayCheckJob, spec, func(ctx context.Context) error {
		result, err := a.CheckAndResetIfNewDay(ctx)
		if err != nil {
			return err
		}
		if result != nil {
			a.Logger.Info("Day closed",
				zap.String("date", result.ClosedDate),
				zap.Int("missed", result.Missed),
			)
		}
		return nil
	})
}
